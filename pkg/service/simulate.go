package service

import (
	"context"
	"strings"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/validation"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// Simulate compiles the strategy (current or pinned version) and executes
// it against the wafer map.
func (s *Service) Simulate(ctx context.Context, id, version string, w *wafer.Map, ec strategy.ExecContext, tc engine.ToolConstraints) (*engine.SimulationResult, error) {
	def, err := s.GetStrategy(ctx, id, version)
	if err != nil {
		return nil, err
	}
	compiled, err := s.compile.Compile(def)
	if err != nil {
		return nil, err
	}

	var result *engine.SimulationResult
	err = s.withTimeout(ctx, s.timeouts.Simulate, "simulate", func(ctx context.Context) error {
		var err error
		result, err = s.engine.Execute(ctx, compiled, w, ec, tc)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sims.record(id, simulationClean(result))
	return result, nil
}

// simulationClean reports whether the result carries any failure-mode
// warning. Informational warnings (dropped points, clamped counts) do not
// block approval.
func simulationClean(result *engine.SimulationResult) bool {
	for _, w := range result.Warnings {
		if strings.HasPrefix(w, "emptyWafer") ||
			strings.HasPrefix(w, "noEligibleRules") ||
			strings.HasPrefix(w, "toolConstraintInfeasible") {
			return false
		}
	}
	return len(result.SelectedPoints) > 0
}

// ValidateStrategy aligns a strategy against a schematic and persists the
// result.
func (s *Service) ValidateStrategy(ctx context.Context, schematicID, strategyID string, mode validation.Mode, validatedBy string) (*validation.Result, error) {
	rec, err := s.store.Schematics.Get(ctx, schematicID)
	if err != nil {
		return nil, err
	}
	def, err := s.store.Strategies.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	compiled, err := s.compile.Compile(def)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = validation.ModePermissive
	}

	var result *validation.Result
	err = s.withTimeout(ctx, s.timeouts.Validate, "validate", func(ctx context.Context) error {
		var err error
		result, err = s.validator.Validate(ctx, rec.Data, compiled, mode, validatedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Validation.Put(ctx, result); err != nil {
		return nil, err
	}
	s.logger.Info("validation stored",
		"id", result.ID, "schematic", schematicID, "strategy", strategyID,
		"status", string(result.Status))
	return result, nil
}

// ListValidations returns stored validation results for a schematic or a
// strategy; exactly one of the ids should be set.
func (s *Service) ListValidations(ctx context.Context, schematicID, strategyID string) ([]*validation.Result, error) {
	if schematicID != "" {
		return s.store.Validation.ListBySchematic(ctx, schematicID)
	}
	return s.store.Validation.ListByStrategy(ctx, strategyID)
}

// ExportStrategy simulates the strategy against the wafer map and emits the
// result in the vendor's format. When schematicID is set, the latest stored
// validation against that schematic is embedded.
func (s *Service) ExportStrategy(ctx context.Context, id, vendorName string, w *wafer.Map, ec strategy.ExecContext, schematicID string) (emitter.Output, error) {
	def, err := s.store.Strategies.Get(ctx, id)
	if err != nil {
		return emitter.Output{}, err
	}

	vendor := vendorName
	if vendor == "" {
		vendor = def.TargetVendor
	}
	em, err := s.vendors.Get(vendor)
	if err != nil {
		return emitter.Output{}, err
	}

	result, err := s.Simulate(ctx, id, "", w, ec, engine.ToolConstraints{})
	if err != nil {
		return emitter.Output{}, err
	}

	var val *validation.Result
	if schematicID != "" {
		if list, err := s.store.Validation.ListBySchematic(ctx, schematicID); err == nil {
			for _, v := range list {
				if v.StrategyID == id {
					val = v
					break
				}
			}
		}
	}

	meta := emitter.Meta{
		StrategyID:   def.ID,
		StrategyName: def.Name,
		Version:      def.Version,
		WaferSize:    w.WaferSize,
		ProductType:  w.ProductType,
		ProcessLayer: ec.ProcessLayer,
		VendorParams: def.VendorSpecificParams,
	}
	out, err := em.Emit(result, meta, val)
	if err != nil {
		return emitter.Output{}, err
	}
	s.logger.Info("strategy exported",
		"id", id, "vendor", vendor, "sites", len(result.SelectedPoints))
	return out, nil
}
