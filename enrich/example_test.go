package enrich_test

import (
	"context"
	"fmt"

	"github.com/periodica/enrich/element"
	"github.com/periodica/enrich/enrich"
	"github.com/periodica/enrich/source"
	"github.com/periodica/enrich/store"
	"github.com/periodica/enrich/synth"
)

func Example() {
	encyclopedia := source.NewClientFunc("encyclopedia", func(ctx context.Context, key string) (source.Data, error) {
		return source.Data{Summary: "Gold is a dense transition metal."}, nil
	})
	materials := source.NewClientFunc("materials", func(ctx context.Context, key string) (source.Data, error) {
		return source.Data{}, source.NewError("materials", source.KindNotFound, "no record")
	})

	opts, err := enrich.OptionsFromEnv()
	if err != nil {
		fmt.Println("options:", err)
		return
	}

	enricher, _, err := enrich.New(
		store.NewMemoryStore(),
		[]source.Client{encyclopedia, materials},
		synth.New(),
		nil,
		opts,
	)
	if err != nil {
		fmt.Println("assemble:", err)
		return
	}

	gold := element.Element{
		Symbol:       "Au",
		Name:         "Gold",
		AtomicNumber: 79,
		AtomicMass:   196.967,
		Category:     element.CategoryTransitionMetal,
	}

	result := enricher.Fetch(context.Background(), gold, []source.ID{"encyclopedia", "materials"})

	fmt.Println("success:", result.Success)
	fmt.Println("contributing:", result.Contributing)
	fmt.Println("synthesized:", result.Synthesized)
	fmt.Println("encyclopedia:", result.Merged["encyclopedia"].Summary)

	// Output:
	// success: true
	// contributing: [encyclopedia materials]
	// synthesized: [materials]
	// encyclopedia: Gold is a dense transition metal.
}
