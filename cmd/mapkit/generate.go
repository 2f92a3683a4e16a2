package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jonwillington/filter-mapkit/shop"
)

var (
	generateCount int
	generateSeed  int64
)

var generateCmd = &cobra.Command{
	Use:   "generate <path>",
	Short: "Generate a synthetic shop catalog",
	Long: `Generate a YAML catalog of synthetic coffee shops scattered around
weighted city centers, including the coordinate and logo gaps real
catalog data has. Useful as a fixture for development and load testing.`,
	Args: cobra.ExactArgs(1),
	Run:  runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&generateCount, "shops", 500, "number of shops to generate")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 42, "random seed")
}

func runGenerate(cmd *cobra.Command, args []string) {
	path := args[0]

	shops := shop.GenerateShops(generateCount, generateSeed)
	if err := shop.SaveCatalog(path, shops); err != nil {
		exitError("%v", err)
	}

	located := 0
	for i := range shops {
		if _, _, ok := shops[i].Coordinates(); ok {
			located++
		}
	}

	green := color.New(color.FgGreen)
	green.Printf("Wrote %d shops to %s\n", len(shops), path)
	fmt.Printf("  %d with resolvable coordinates, %d without\n", located, len(shops)-located)
}
