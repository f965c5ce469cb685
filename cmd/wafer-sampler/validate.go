package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
	"github.com/metrolab/wafersample/pkg/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Args:  cobra.NoArgs,
	Short: "Validate a strategy against schematic die geometry",
	Long: `Runs a strategy against a schematic and checks every selected site
against the real die boundaries, reporting conflicts, the alignment
score, and remediation recommendations as JSON.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("strategy", "", "path to strategy YAML or JSON file")
	validateCmd.Flags().String("schematic", "", "path to schematic file (GDSII, DXF, SVG)")
	validateCmd.Flags().String("layer", "", "target layer name (DXF/SVG)")
	validateCmd.Flags().String("mode", string(validation.ModePermissive), "validation mode (strict, permissive)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	strategyPath, _ := cmd.Flags().GetString("strategy")
	schematicPath, _ := cmd.Flags().GetString("schematic")
	if strategyPath == "" || schematicPath == "" {
		return fmt.Errorf("--strategy and --schematic flags are required")
	}
	layer, _ := cmd.Flags().GetString("layer")
	mode, _ := cmd.Flags().GetString("mode")

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
	data, _, err := parseSchematicFile(cmd.Context(), p, schematicPath, parser.Hints{TargetLayer: layer})
	if err != nil {
		return err
	}

	validator := validation.New(engine.New(logger), logger)
	result, err := validator.Validate(cmd.Context(), data, compiled, validation.Mode(mode), "")
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}

	if result.Status == validation.StatusFail {
		return fmt.Errorf("validation failed with alignment score %.2f", result.AlignmentScore)
	}
	return nil
}
