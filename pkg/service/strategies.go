package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/strategy"
)

// simTracker remembers whether the latest simulation of each strategy id
// completed without errors. The review → approved guard consults it.
type simTracker struct {
	mu    sync.RWMutex
	clean map[string]bool
}

func newSimTracker() *simTracker {
	return &simTracker{clean: make(map[string]bool)}
}

func (t *simTracker) record(id string, clean bool) {
	t.mu.Lock()
	t.clean[id] = clean
	t.mu.Unlock()
}

func (t *simTracker) lastClean(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clean[id]
}

// CreateStrategy validates and stores a new draft.
func (s *Service) CreateStrategy(ctx context.Context, def *strategy.Definition) (*strategy.Definition, error) {
	if def.ID == "" || def.Version == "" {
		fresh := strategy.New(def.Name, def.StrategyType, def.Author)
		fresh.Description = def.Description
		fresh.ProcessStep = def.ProcessStep
		fresh.ToolType = def.ToolType
		fresh.Rules = def.Rules
		fresh.GlobalConditions = def.GlobalConditions
		fresh.Transformations = def.Transformations
		fresh.TargetVendor = def.TargetVendor
		fresh.VendorSpecificParams = def.VendorSpecificParams
		def = fresh
	}
	def.LifecycleState = strategy.StateDraft
	def.SchemaVersion = strategy.SchemaVersion

	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Strategies.Create(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("strategy created", "id", def.ID, "name", def.Name, "author", def.Author)
	return def, nil
}

// UpdateStrategy replaces the rules, conditions, transformations, and vendor
// targeting of a strategy. Draft and review versions are edited in place;
// approved-or-later versions fork a new draft at a bumped version.
func (s *Service) UpdateStrategy(ctx context.Context, id string, update *strategy.Definition, bump strategy.BumpLevel) (*strategy.Definition, error) {
	current, err := s.store.Strategies.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	target := current
	if !current.Mutable() {
		target, err = current.Fork(bump, update.Author)
		if err != nil {
			return nil, err
		}
	}

	if update.Name != "" {
		target.Name = update.Name
	}
	if update.Description != "" {
		target.Description = update.Description
	}
	if update.StrategyType != "" {
		target.StrategyType = update.StrategyType
	}
	if update.ProcessStep != "" {
		target.ProcessStep = update.ProcessStep
	}
	if update.ToolType != "" {
		target.ToolType = update.ToolType
	}
	if update.Rules != nil {
		target.Rules = update.Rules
	}
	target.GlobalConditions = update.GlobalConditions
	target.Transformations = update.Transformations
	target.TargetVendor = update.TargetVendor
	if update.VendorSpecificParams != nil {
		target.VendorSpecificParams = update.VendorSpecificParams
	}
	target.ModifiedAt = time.Now().UTC()

	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Strategies.Put(ctx, target); err != nil {
		return nil, err
	}
	s.compile.Invalidate(target.ID, target.Version)
	s.logger.Info("strategy updated", "id", target.ID, "version", target.Version)
	return target, nil
}

// GetStrategy returns the current version, or a specific one when version
// is non-empty.
func (s *Service) GetStrategy(ctx context.Context, id, version string) (*strategy.Definition, error) {
	if version != "" {
		return s.store.Strategies.GetVersion(ctx, id, version)
	}
	return s.store.Strategies.Get(ctx, id)
}

// ListStrategies returns the current version of every strategy passing the
// filter.
func (s *Service) ListStrategies(ctx context.Context, filter repository.StrategyFilter) ([]*strategy.Definition, error) {
	return s.store.Strategies.List(ctx, filter)
}

// ListStrategyVersions returns the stored versions of a strategy in semver
// order.
func (s *Service) ListStrategyVersions(ctx context.Context, id string) ([]string, error) {
	return s.store.Strategies.ListVersions(ctx, id)
}

// DeleteStrategy removes a strategy and all its versions.
func (s *Service) DeleteStrategy(ctx context.Context, id string) error {
	if err := s.store.Strategies.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("strategy deleted", "id", id)
	return nil
}

// CloneStrategy deep-copies the latest version into a new draft strategy.
func (s *Service) CloneStrategy(ctx context.Context, id, newName, author string) (*strategy.Definition, error) {
	if newName == "" {
		return nil, errcode.New(errcode.ValidationError, "newName is required").
			WithFieldErrors(errcode.FieldError{Field: "newName", Message: "required"})
	}
	src, err := s.store.Strategies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	clone := src.Clone(newName, author)
	if err := s.store.Strategies.Create(ctx, clone); err != nil {
		return nil, err
	}
	s.logger.Info("strategy cloned", "from", id, "to", clone.ID, "name", newName)
	return clone, nil
}

// PromoteStrategy advances the strategy to the next lifecycle state,
// enforcing the transition guards:
//
//	draft → review: at least one rule and a clean compile.
//	review → approved: the latest simulation produced no errors.
//	approved → active: auto-deprecates the previously active strategy for
//	the same (processStep, toolType).
func (s *Service) PromoteStrategy(ctx context.Context, id, user string) (*strategy.Definition, error) {
	def, err := s.store.Strategies.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next, ok := strategy.NextState(def.LifecycleState)
	if !ok {
		return nil, errcode.New(errcode.LifecycleViolation,
			"strategy %s is %s, which has no promotion successor", id, def.LifecycleState).
			WithDetail("from", string(def.LifecycleState)).
			WithDetail("reason", "terminal state")
	}

	switch next {
	case strategy.StateReview:
		if _, err := s.compile.Compile(def); err != nil {
			return nil, err
		}
	case strategy.StateApproved:
		if !s.sims.lastClean(id) {
			return nil, errcode.New(errcode.BusinessLogicError,
				"strategy %s needs a clean simulation before approval", id).
				WithDetail("id", id)
		}
	case strategy.StateActive:
		deprecated, err := s.store.Strategies.Activate(ctx, id, user)
		if err != nil {
			return nil, err
		}
		if deprecated != nil {
			s.logger.Info("strategy auto-deprecated",
				"id", deprecated.ID, "processStep", deprecated.ProcessStep, "toolType", deprecated.ToolType)
		}
		return s.store.Strategies.Get(ctx, id)
	}

	if err := def.Transition(next, user, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.Strategies.Put(ctx, def); err != nil {
		return nil, fmt.Errorf("persisting promotion of %s: %w", id, err)
	}
	s.logger.Info("strategy promoted", "id", id, "to", string(next), "user", user)
	return def, nil
}

// RetractStrategy returns a review or approved strategy to draft, clearing
// reviewer fields.
func (s *Service) RetractStrategy(ctx context.Context, id, user string) (*strategy.Definition, error) {
	def, err := s.store.Strategies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := def.Transition(strategy.StateDraft, user, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.Strategies.Put(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("strategy retracted", "id", id, "user", user)
	return def, nil
}
