package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Args:  cobra.NoArgs,
	Short: "Export a vendor-specific sampling plan",
	Long: `Simulates a strategy against a schematic and emits the resulting
sampling plan in a vendor tool format (asml, kla).`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("strategy", "", "path to strategy YAML or JSON file")
	exportCmd.Flags().String("schematic", "", "path to schematic file (GDSII, DXF, SVG)")
	exportCmd.Flags().String("vendor", "", "vendor format (asml, kla)")
	exportCmd.Flags().String("layer", "", "target layer name (DXF/SVG)")
	exportCmd.Flags().String("out", "", "output file (default: vendor-chosen filename)")
}

func runExport(cmd *cobra.Command, args []string) error {
	strategyPath, _ := cmd.Flags().GetString("strategy")
	schematicPath, _ := cmd.Flags().GetString("schematic")
	vendorName, _ := cmd.Flags().GetString("vendor")
	if strategyPath == "" || schematicPath == "" || vendorName == "" {
		return fmt.Errorf("--strategy, --schematic, and --vendor flags are required")
	}
	layer, _ := cmd.Flags().GetString("layer")
	outPath, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	def, err := loadStrategyFile(strategyPath)
	if err != nil {
		return err
	}
	vendors := emitter.Builtin()
	vendor, err := vendors.Get(vendorName)
	if err != nil {
		return err
	}
	compiled, err := compiler.New(rules.Builtin(), vendors).Compile(def)
	if err != nil {
		return err
	}

	p := parser.New(logger)
	p.MaxDies = cfg.Limits.MaxDies
	data, wm, err := parseSchematicFile(cmd.Context(), p, schematicPath, parser.Hints{TargetLayer: layer})
	if err != nil {
		return err
	}

	result, err := engine.New(logger).Execute(cmd.Context(), compiled, wm, strategy.ExecContext{}, engine.ToolConstraints{})
	if err != nil {
		return err
	}

	out, err := vendor.Emit(result, emitter.Meta{
		StrategyID:   def.ID,
		StrategyName: def.Name,
		Version:      def.Version,
		WaferSize:    data.WaferSize,
		VendorParams: def.VendorSpecificParams,
	}, nil)
	if err != nil {
		return err
	}

	if outPath == "" {
		outPath = out.Filename
	}
	if err := os.WriteFile(outPath, out.Bytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	fmt.Printf("wrote %d sites to %s (%s)\n", len(result.SelectedPoints), outPath, out.ContentType)
	return nil
}
