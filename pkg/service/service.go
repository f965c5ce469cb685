// Package service is the engine facade: it wires parsers, the compiler,
// the execution engine, the validator, the emitters, and the repositories
// behind one API surface, enforcing resource limits and per-operation
// timeouts. Transport layers (HTTP, CLI) call into this package and own no
// business logic.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/metrolab/wafersample/pkg/emitter"
	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
	"github.com/metrolab/wafersample/pkg/validation"
)

// Limits are the resource ceilings the facade enforces.
type Limits struct {
	MaxUploadBytes int64
	MaxDies        int
}

// Timeouts are the per-operation wall-clock budgets.
type Timeouts struct {
	Upload   time.Duration
	Parse    time.Duration
	Simulate time.Duration
	Validate time.Duration
}

// DefaultLimits returns the standard resource ceilings.
func DefaultLimits() Limits {
	return Limits{
		MaxUploadBytes: 100 << 20,
		MaxDies:        100000,
	}
}

// DefaultTimeouts returns the standard operation budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Upload:   30 * time.Second,
		Parse:    60 * time.Second,
		Simulate: 10 * time.Second,
		Validate: 10 * time.Second,
	}
}

// Service is the assembled engine.
type Service struct {
	store     *repository.Store
	parser    *parser.Parser
	engine    *engine.Engine
	validator *validation.Validator
	compile   *compiler.Cache
	rules     *rules.Registry
	vendors   *emitter.Registry
	logger    *logging.Logger

	limits   Limits
	timeouts Timeouts

	sims *simTracker
}

// Options configures New. Zero-value fields take defaults.
type Options struct {
	Limits    Limits
	Timeouts  Timeouts
	CacheSize int
}

// New assembles a Service over the given store and registries.
func New(store *repository.Store, ruleReg *rules.Registry, vendorReg *emitter.Registry, logger *logging.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}

	cache, err := compiler.NewCache(compiler.New(ruleReg, vendorReg), opts.CacheSize)
	if err != nil {
		return nil, err
	}

	p := parser.New(logger)
	p.MaxDies = opts.Limits.MaxDies

	eng := engine.New(logger)
	return &Service{
		store:     store,
		parser:    p,
		engine:    eng,
		validator: validation.New(eng, logger),
		compile:   cache,
		rules:     ruleReg,
		vendors:   vendorReg,
		logger:    logger,
		limits:    opts.Limits,
		timeouts:  opts.Timeouts,
		sims:      newSimTracker(),
	}, nil
}

// RuleTypes lists the registered rule plugins.
func (s *Service) RuleTypes() []rules.Info { return s.rules.List() }

// Vendors lists the registered vendor emitters.
func (s *Service) Vendors() []string { return s.vendors.List() }

// SupportedFormats lists the accepted schematic input formats.
func (s *Service) SupportedFormats() []string {
	return []string{"gdsii", "dxf", "svg"}
}

// Health reports liveness. It exists so transports have a single authority
// for the health payload.
func (s *Service) Health() map[string]any {
	return map[string]any{
		"status":        "ok",
		"ruleTypes":     len(s.rules.List()),
		"vendors":       len(s.vendors.List()),
		"compiledCache": s.compile.Len(),
	}
}

// withTimeout runs op under the given budget and maps a deadline hit to the
// timeout error code carrying the operation name and limit.
func (s *Service) withTimeout(ctx context.Context, d time.Duration, operation string, op func(ctx context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := op(tctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && errcode.CodeOf(err) != errcode.Timeout {
		return errcode.Wrap(errcode.Timeout, err, "%s exceeded its time budget", operation).
			WithDetail("operation", operation).
			WithDetail("limitMs", d.Milliseconds())
	}
	if e := errcode.AsError(err); e.Code == errcode.Timeout {
		e.WithDetail("operation", operation).WithDetail("limitMs", d.Milliseconds())
	}
	return err
}
