package synth

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/periodica/enrich/element"
	"github.com/periodica/enrich/source"
)

// appearances is the pool of plausible visual descriptions; the pick is a
// pure function of the element so repeated synthesis agrees with itself.
var appearances = []string{
	"silvery-white metallic",
	"silvery-gray metallic",
	"colorless gas",
	"pale yellow",
	"dark gray solid",
	"lustrous metallic",
	"soft silvery",
	"reddish-brown",
}

// Synthesizer generates plausible substitute data for an element when a
// real source lookup is unavailable. Output is pure and deterministic:
// every value derives from the element's known attributes through a fixed
// hash, never from randomness or a clock, so synthesized entries are
// reproducible across runs and assertable in tests.
type Synthesizer struct{}

// New creates a synthesizer.
func New() *Synthesizer {
	return &Synthesizer{}
}

// Synthesize produces substitute data for the given element, attributed to
// the source it stands in for and tagged with synthetic provenance.
func (s *Synthesizer) Synthesize(el element.Element, src source.ID) source.Data {
	fields := map[string]any{
		"abundance_ppm": s.abundancePPM(el),
		"stable":        el.Stable(),
		"appearance":    s.appearance(el),
		"discovery_era": discoveryEra(el.AtomicNumber),
	}
	if !el.Stable() {
		fields["half_life_seconds"] = s.halfLifeSeconds(el)
	}

	return source.Data{
		Source:     src,
		Provenance: source.ProvenanceSynthetic,
		Summary:    s.summary(el),
		Fields:     fields,
	}
}

func (s *Synthesizer) summary(el element.Element) string {
	category := strings.ReplaceAll(string(el.Category), "-", " ")
	if category == "" {
		category = "chemical element"
	}
	return fmt.Sprintf("%s (%s) is a %s with atomic number %d and an atomic mass of %.3f u.",
		el.Name, el.Symbol, category, el.AtomicNumber, el.AtomicMass)
}

// abundancePPM estimates crustal abundance. Lighter elements dominate the
// crust, so the estimate decays with atomic number, perturbed by the
// element hash to avoid identical values for neighbors.
func (s *Synthesizer) abundancePPM(el element.Element) float64 {
	base := 100000.0 / math.Pow(float64(el.AtomicNumber), 1.5)
	perturbed := base * (0.5 + fraction(el, "abundance"))
	if el.Category == element.CategoryNobleGas {
		perturbed /= 100
	}
	if !el.Stable() {
		perturbed /= 1e6
	}
	return math.Round(perturbed*1000) / 1000
}

// halfLifeSeconds spans the plausible range from seconds to geological
// timescales, shrinking as atomic number grows.
func (s *Synthesizer) halfLifeSeconds(el element.Element) float64 {
	exponent := 16 - float64(el.AtomicNumber)/10 + 4*fraction(el, "half-life")
	return math.Round(math.Pow(10, exponent))
}

func (s *Synthesizer) appearance(el element.Element) string {
	h := hash(el, "appearance")
	return appearances[h%uint64(len(appearances))]
}

func discoveryEra(atomicNumber int) string {
	switch {
	case atomicNumber <= 16:
		return "antiquity"
	case atomicNumber <= 54:
		return "18th-19th century"
	case atomicNumber <= 94:
		return "19th-20th century"
	default:
		return "synthetic era"
	}
}

// hash derives a stable 64-bit value from the element identity and a field
// label, so each field gets an independent but reproducible stream.
func hash(el element.Element, label string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", el.Key(), el.AtomicNumber, label)
	return h.Sum64()
}

// fraction maps the hash to [0, 1).
func fraction(el element.Element, label string) float64 {
	return float64(hash(el, label)%1_000_000) / 1_000_000
}
