package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Args:  cobra.MinimumNArgs(1),
	Short: "Parse schematic files and report die statistics",
	Long: `Parses one or more GDSII, DXF, or SVG schematic files and prints the
extracted die boundary statistics. Files are parsed concurrently.`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().String("layer", "", "target layer name (DXF/SVG)")
	parseCmd.Flags().String("cell", "", "target cell name (GDSII)")
	parseCmd.Flags().Float64("scale", 0, "coordinate scale multiplier")
	parseCmd.Flags().Bool("json", false, "print full parse results as JSON")
	parseCmd.Flags().Int("workers", 4, "number of files parsed in parallel")
}

func runParse(cmd *cobra.Command, args []string) error {
	layer, _ := cmd.Flags().GetString("layer")
	cell, _ := cmd.Flags().GetString("cell")
	scale, _ := cmd.Flags().GetFloat64("scale")
	asJSON, _ := cmd.Flags().GetBool("json")
	workers, _ := cmd.Flags().GetInt("workers")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	p := parser.New(logger)
	p.MaxDies = cfg.Limits.MaxDies
	hints := parser.Hints{
		TargetLayer:     layer,
		TargetCell:      cell,
		CoordinateScale: scale,
	}

	type parsed struct {
		path string
		data *schematic.SchematicData
	}
	results := make([]parsed, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, path := range args {
		g.Go(func() error {
			data, _, err := parseSchematicFile(ctx, p, path, hints)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = parsed{path: path, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })

	if asJSON {
		out := make(map[string]*schematic.SchematicData, len(results))
		for _, r := range results {
			out[r.path] = r.data
		}
		return printJSON(out)
	}

	for _, r := range results {
		stats := r.data.GetStatistics()
		fmt.Printf("%s\n", r.path)
		fmt.Printf("  format:     %s\n", stats.FormatType)
		fmt.Printf("  dies:       %d (%d available)\n", stats.DieCount, stats.AvailableDieCount)
		fmt.Printf("  layout:     %.3f x %.3f\n", stats.LayoutWidth, stats.LayoutHeight)
		fmt.Printf("  median die: %.3f wide\n", stats.MedianDieWidth)
		if stats.WaferSize != "" {
			fmt.Printf("  wafer size: %s\n", stats.WaferSize)
		}
	}
	return nil
}
