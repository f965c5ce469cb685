// Package engine executes compiled strategies against wafer maps. Execution
// is deterministic: the same compiled strategy, wafer, and context always
// produce a bit-identical result.
//
// Degenerate inputs (empty wafer, no eligible rules, infeasible tool
// constraints) return a well-formed empty result with explanatory warnings
// instead of an error, so interactive previews never crash.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/rules"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// MaxSitesHard caps the selected site count regardless of tool constraints.
const MaxSitesHard = 10000

// SelectedPoint is one sampled site in transformed coordinates.
type SelectedPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	RuleSource string  `json:"ruleSource"`
	Priority   float64 `json:"priority"`
	Available  bool    `json:"available"`
}

// CoverageStats summarizes a simulation.
type CoverageStats struct {
	TotalDies        int             `json:"totalDies"`
	AvailableDies    int             `json:"availableDies"`
	SelectedCount    int             `json:"selectedCount"`
	CoveragePct      float64         `json:"coveragePct"`
	RuleDistribution map[string]int  `json:"ruleDistribution"`
	Centroid         *geometry.Point `json:"centroid,omitempty"`
	XRange           [2]float64      `json:"xRange"`
	YRange           [2]float64      `json:"yRange"`
}

// PerformanceMetrics records wall-clock timings.
type PerformanceMetrics struct {
	TotalMs   float64            `json:"totalMs"`
	PerRuleMs map[string]float64 `json:"perRuleMs,omitempty"`
}

// SimulationResult is the full outcome of one execution.
type SimulationResult struct {
	SelectedPoints     []SelectedPoint    `json:"selectedPoints"`
	CoverageStats      CoverageStats      `json:"coverageStats"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
	Warnings           []string           `json:"warnings"`
}

// ToolConstraints restrict the final site list. A nil MaxSites means
// unconstrained; an explicit 0 is infeasible.
type ToolConstraints struct {
	MaxSites   *int    `json:"maxSites,omitempty"`
	MinSpacing float64 `json:"minSpacing,omitempty"`
}

// Engine runs compiled strategies.
type Engine struct {
	logger *logging.Logger
}

// New creates an engine. A nil logger falls back to a no-op logger.
func New(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{logger: logger}
}

// candidate is a merged site before transformation.
type candidate struct {
	x, y      int
	priority  float64
	sources   map[string]bool
	available bool
}

// Execute runs the compiled strategy against the wafer map.
func (e *Engine) Execute(ctx context.Context, compiled *compiler.Compiled, w *wafer.Map, ec strategy.ExecContext, tc ToolConstraints) (*SimulationResult, error) {
	start := time.Now()

	result := &SimulationResult{
		SelectedPoints: []SelectedPoint{},
		CoverageStats: CoverageStats{
			RuleDistribution: make(map[string]int),
		},
		PerformanceMetrics: PerformanceMetrics{PerRuleMs: make(map[string]float64)},
		Warnings:           []string{},
	}
	for _, cr := range compiled.Rules {
		result.CoverageStats.RuleDistribution[cr.Name] = 0
	}
	defer func() {
		result.PerformanceMetrics.TotalMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	result.CoverageStats.TotalDies = w.Len()
	result.CoverageStats.AvailableDies = w.AvailableCount()
	if w.Len() == 0 || result.CoverageStats.AvailableDies == 0 {
		result.Warnings = append(result.Warnings, "emptyWafer: wafer map has no available dies")
		return result, nil
	}

	if tc.MaxSites != nil && *tc.MaxSites <= 0 {
		result.Warnings = append(result.Warnings,
			"toolConstraintInfeasible: maxSites must be positive")
		return result, nil
	}

	if !compiled.GlobalConditions.Matches(ec) {
		result.Warnings = append(result.Warnings,
			"noEligibleRules: global conditions do not match the execution context")
		return result, nil
	}

	// Gate rules on their conditions and sum eligible weights.
	eligible := make([]compiler.CompiledRule, 0, len(compiled.Rules))
	weightSum := 0.0
	for _, cr := range compiled.Rules {
		if !cr.Conditions.Matches(ec) {
			continue
		}
		eligible = append(eligible, cr)
		weightSum += cr.Weight
	}
	if len(eligible) == 0 || weightSum <= 0 {
		result.Warnings = append(result.Warnings,
			"noEligibleRules: no enabled rule matches the execution context")
		return result, nil
	}

	seed := injectedSeed(compiled.ID, compiled.Version)
	ruleCtx := rules.Context{ProcessParams: ec.ProcessParams, Seed: seed}

	// Apply each eligible rule and merge candidates by coordinate, keeping
	// the maximum weighted priority and every contributing rule name.
	merged := make(map[[2]int]*candidate)
	var order [][2]int
	for _, cr := range eligible {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		ruleStart := time.Now()
		cands, warnings, err := cr.Rule.Apply(w, cr.Params, ruleCtx)
		result.PerformanceMetrics.PerRuleMs[cr.Name] = float64(time.Since(ruleStart).Microseconds()) / 1000
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", cr.Name, err)
		}
		result.Warnings = append(result.Warnings, warnings...)

		if len(cands) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("rule %s produced no points", cr.Name))
		}
		if est := cr.Rule.Estimate(w, cr.Params); est.ExpectedPointCount > 0 && len(cands) > est.ExpectedPointCount*3 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"rule %s produced %d points, over 3x its estimate of %d",
				cr.Name, len(cands), est.ExpectedPointCount))
		}

		for _, cand := range cands {
			final := cand.Priority * cr.Weight / weightSum
			key := [2]int{cand.X, cand.Y}
			m, ok := merged[key]
			if !ok {
				die, _ := w.At(cand.X, cand.Y)
				m = &candidate{x: cand.X, y: cand.Y, sources: make(map[string]bool), available: die.Available}
				merged[key] = m
				order = append(order, key)
			}
			if final > m.priority {
				m.priority = final
			}
			m.sources[cr.Name] = true
		}
	}

	// Transform and materialize points. Transformed points falling outside
	// the wafer's grid extent are kept but warned about.
	minX, minY, maxX, maxY, _ := w.Bounds()
	outside := 0
	points := make([]SelectedPoint, 0, len(order))
	for _, key := range order {
		m := merged[key]
		p := geometry.Point{X: float64(m.x), Y: float64(m.y)}
		if compiled.Transform != nil {
			p = compiled.Transform.Apply(p)
		}
		if p.X < float64(minX) || p.X > float64(maxX) || p.Y < float64(minY) || p.Y > float64(maxY) {
			outside++
		}
		points = append(points, SelectedPoint{
			X:          p.X,
			Y:          p.Y,
			RuleSource: joinSources(m.sources),
			Priority:   m.priority,
			Available:  m.available,
		})
	}
	if outside > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"%d transformed point(s) fall outside the wafer map bounds", outside))
	}

	sortPoints(points)

	// Tool constraints: spacing first from the top of the priority order,
	// then the site-count cap.
	if tc.MinSpacing > 0 {
		kept := spacingFilter(points, tc.MinSpacing)
		if rejected := len(points) - len(kept); rejected > len(points)/5 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"minSpacing %.3g rejected %d of %d candidates", tc.MinSpacing, rejected, len(points)))
		}
		points = kept
	}
	limit := MaxSitesHard
	if tc.MaxSites != nil && *tc.MaxSites < limit {
		limit = *tc.MaxSites
	}
	if len(points) > limit {
		points = points[:limit]
	}

	result.SelectedPoints = points
	result.CoverageStats.SelectedCount = len(points)
	result.CoverageStats.CoveragePct = 100 * float64(len(points)) / float64(result.CoverageStats.AvailableDies)
	fillSpatialStats(&result.CoverageStats, points)
	for _, p := range points {
		for _, src := range strings.Split(p.RuleSource, ",") {
			result.CoverageStats.RuleDistribution[src]++
		}
	}

	e.logger.Debug("strategy executed",
		"strategy", compiled.ID, "version", compiled.Version,
		"selected", len(points), "warnings", len(result.Warnings))
	return result, nil
}

// injectedSeed derives the fallback PRNG seed from the strategy identity so
// repeated simulations of the same version agree.
func injectedSeed(id, version string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(version))
	return int64(h.Sum64())
}

func joinSources(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// sortPoints orders by priority descending, ties by (ruleSource, x, y)
// ascending.
func sortPoints(points []SelectedPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Priority != points[j].Priority {
			return points[i].Priority > points[j].Priority
		}
		if points[i].RuleSource != points[j].RuleSource {
			return points[i].RuleSource < points[j].RuleSource
		}
		if points[i].X != points[j].X {
			return points[i].X < points[j].X
		}
		return points[i].Y < points[j].Y
	})
}

// spacingFilter keeps points greedily from the top of the priority order,
// rejecting any point within minSpacing of an already-kept point.
func spacingFilter(points []SelectedPoint, minSpacing float64) []SelectedPoint {
	kept := make([]SelectedPoint, 0, len(points))
	for _, p := range points {
		ok := true
		for _, k := range kept {
			if math.Hypot(p.X-k.X, p.Y-k.Y) < minSpacing {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, p)
		}
	}
	return kept
}

func fillSpatialStats(stats *CoverageStats, points []SelectedPoint) {
	if len(points) == 0 {
		return
	}
	var cx, cy float64
	stats.XRange = [2]float64{points[0].X, points[0].X}
	stats.YRange = [2]float64{points[0].Y, points[0].Y}
	for _, p := range points {
		cx += p.X
		cy += p.Y
		if p.X < stats.XRange[0] {
			stats.XRange[0] = p.X
		}
		if p.X > stats.XRange[1] {
			stats.XRange[1] = p.X
		}
		if p.Y < stats.YRange[0] {
			stats.YRange[0] = p.Y
		}
		if p.Y > stats.YRange[1] {
			stats.YRange[1] = p.Y
		}
	}
	stats.Centroid = &geometry.Point{
		X: cx / float64(len(points)),
		Y: cy / float64(len(points)),
	}
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return errcode.Wrap(errcode.Timeout, ctx.Err(), "execution timed out")
		}
		return errcode.Wrap(errcode.Cancelled, ctx.Err(), "execution cancelled")
	default:
		return nil
	}
}
