package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Args:  cobra.NoArgs,
	Short: "Simulate a strategy against a schematic",
	Long: `Compiles a strategy definition and executes it against the wafer map
synthesized from a schematic file, printing the selected sites and
coverage statistics as JSON.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().String("strategy", "", "path to strategy YAML or JSON file")
	simulateCmd.Flags().String("schematic", "", "path to schematic file (GDSII, DXF, SVG)")
	simulateCmd.Flags().String("layer", "", "target layer name (DXF/SVG)")
	simulateCmd.Flags().Float64("defect-density", 0, "execution context defect density")
	simulateCmd.Flags().String("process-layer", "", "execution context process layer")
	simulateCmd.Flags().Int("max-sites", -1, "tool constraint: maximum site count (-1 for unconstrained)")
	simulateCmd.Flags().Float64("min-spacing", 0, "tool constraint: minimum site spacing in grid units")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	strategyPath, _ := cmd.Flags().GetString("strategy")
	schematicPath, _ := cmd.Flags().GetString("schematic")
	if strategyPath == "" || schematicPath == "" {
		return fmt.Errorf("--strategy and --schematic flags are required")
	}
	layer, _ := cmd.Flags().GetString("layer")
	defectDensity, _ := cmd.Flags().GetFloat64("defect-density")
	processLayer, _ := cmd.Flags().GetString("process-layer")
	maxSites, _ := cmd.Flags().GetInt("max-sites")
	minSpacing, _ := cmd.Flags().GetFloat64("min-spacing")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)

	def, err := loadStrategyFile(strategyPath)
	if err != nil {
		return err
	}
	compiled, err := compiler.New(rules.Builtin(), emitter.Builtin()).Compile(def)
	if err != nil {
		return err
	}

	p := parser.New(logger)
	p.MaxDies = cfg.Limits.MaxDies
	_, wm, err := parseSchematicFile(cmd.Context(), p, schematicPath, parser.Hints{TargetLayer: layer})
	if err != nil {
		return err
	}

	tc := engine.ToolConstraints{MinSpacing: minSpacing}
	if maxSites >= 0 {
		tc.MaxSites = &maxSites
	}
	ec := strategy.ExecContext{
		DefectDensity: defectDensity,
		ProcessLayer:  processLayer,
	}

	result, err := engine.New(logger).Execute(cmd.Context(), compiled, wm, ec, tc)
	if err != nil {
		return err
	}
	return printJSON(result)
}
