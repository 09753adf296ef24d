package element

import "strings"

// Category buckets elements by their chemical family. The synthesizer uses
// the category to decide which fields are plausible (stability, abundance).
type Category string

const (
	CategoryAlkaliMetal     Category = "alkali-metal"
	CategoryAlkalineEarth   Category = "alkaline-earth-metal"
	CategoryTransitionMetal Category = "transition-metal"
	CategoryPostTransition  Category = "post-transition-metal"
	CategoryMetalloid       Category = "metalloid"
	CategoryNonmetal        Category = "nonmetal"
	CategoryHalogen         Category = "halogen"
	CategoryNobleGas        Category = "noble-gas"
	CategoryLanthanide      Category = "lanthanide"
	CategoryActinide        Category = "actinide"
	CategoryUnknown         Category = "unknown"
)

// Element is the catalog entity enrichment operates on. It carries only the
// attributes known before any external lookup; enrichment data lives in the
// per-source results, never here.
type Element struct {
	// Symbol is the one- or two-letter chemical symbol (e.g. "H", "Fe").
	Symbol string

	// Name is the element's full name (e.g. "Hydrogen").
	Name string

	// AtomicNumber is the proton count. Always >= 1 for a valid element.
	AtomicNumber int

	// AtomicMass is the standard atomic weight in u.
	AtomicMass float64

	// Category is the chemical family, used by fallback synthesis.
	Category Category
}

// Key returns the canonical lookup key for this element. Symbols are the
// natural key of the catalog; normalized to avoid case-duplicate cache rows.
func (e Element) Key() string {
	return strings.ToUpper(strings.TrimSpace(e.Symbol))
}

// Valid reports whether the element carries enough identity to be enriched.
func (e Element) Valid() bool {
	return e.Key() != "" && e.AtomicNumber > 0
}

// Stable reports whether every isotope of the element's family is expected
// to be stable. Actinides and anything beyond lead are treated as unstable;
// this is a coarse heuristic for synthesis, not a chemistry reference.
func (e Element) Stable() bool {
	if e.Category == CategoryActinide {
		return false
	}
	return e.AtomicNumber > 0 && e.AtomicNumber <= 82 && e.AtomicNumber != 43 && e.AtomicNumber != 61
}
