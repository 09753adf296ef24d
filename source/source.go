package source

import "context"

// ID identifies one external source (e.g. "encyclopedia", "materials").
type ID string

// Provenance marks whether data came from a real lookup or was synthesized.
type Provenance string

const (
	// ProvenanceLive marks data returned by an actual source lookup.
	ProvenanceLive Provenance = "live"

	// ProvenanceSynthetic marks deterministic fallback data. Downstream
	// consumers and tests must be able to tell the two apart.
	ProvenanceSynthetic Provenance = "synthetic"
)

// Data is the typed payload one source produces for one entity.
type Data struct {
	// Source is the producing source's identifier.
	Source ID `json:"source"`

	// Provenance is live or synthetic.
	Provenance Provenance `json:"provenance"`

	// Summary is a prose summary, if the source provides one.
	Summary string `json:"summary,omitempty"`

	// Fields holds the source's structured attributes.
	Fields map[string]any `json:"fields,omitempty"`
}

// Client wraps one external source.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Fetch must honor cancellation/deadlines.
// - Errors: failures should be classified *Error values so callers can
//   decide whether to retry; unclassified errors are treated as transient.
type Client interface {
	// ID returns this source's identifier.
	ID() ID

	// Fetch produces the source's data for the given entity key.
	Fetch(ctx context.Context, key string) (Data, error)
}

// ClientFunc adapts an ordinary function to the Client interface.
type ClientFunc struct {
	id string
	fn func(context.Context, string) (Data, error)
}

// NewClientFunc creates a ClientFunc with the given id.
func NewClientFunc(id string, fn func(context.Context, string) (Data, error)) *ClientFunc {
	return &ClientFunc{id: id, fn: fn}
}

// ID returns this source's identifier.
func (c *ClientFunc) ID() ID {
	return ID(c.id)
}

// Fetch invokes the wrapped function.
func (c *ClientFunc) Fetch(ctx context.Context, key string) (Data, error) {
	return c.fn(ctx, key)
}

// Ensure ClientFunc implements Client
var _ Client = (*ClientFunc)(nil)
