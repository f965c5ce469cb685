// Package validation checks how well a compiled strategy aligns with a
// parsed schematic: it executes the strategy against a wafer map synthesized
// from the die boundaries, maps every selected site back onto the layout,
// and scores the conflicts it finds.
package validation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/metrolab/wafersample/pkg/engine"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/strategy/compiler"

	"github.com/google/uuid"
)

// Mode selects conflict severity handling.
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
)

// Status is the overall validation verdict.
type Status string

const (
	StatusPass         Status = "pass"
	StatusWarning      Status = "warning"
	StatusFail         Status = "fail"
	StatusNotValidated Status = "notValidated"
)

// ConflictType categorizes an alignment problem.
type ConflictType string

const (
	ConflictOutOfBounds      ConflictType = "outOfBounds"
	ConflictOverlap          ConflictType = "overlap"
	ConflictDuplicateSite    ConflictType = "duplicateSite"
	ConflictUnavailableDie   ConflictType = "unavailableDie"
	ConflictClusterViolation ConflictType = "clusterViolation"
)

// Severity ranks a conflict's impact on the alignment score.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

func severityWeight(s Severity) float64 {
	switch s {
	case SeverityError:
		return 1.0
	case SeverityWarning:
		return 0.4
	default:
		return 0.1
	}
}

// Conflict is one alignment problem tied to a strategy point.
type Conflict struct {
	ConflictType   ConflictType   `json:"conflictType"`
	StrategyPoint  geometry.Point `json:"strategyPoint"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	AffectedDieID  string         `json:"affectedDieId,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
}

// Result is the persisted outcome of one validation run.
type Result struct {
	ID              string     `json:"id"`
	StrategyID      string     `json:"strategyId"`
	SchematicID     string     `json:"schematicId"`
	Status          Status     `json:"validationStatus"`
	AlignmentScore  float64    `json:"alignmentScore"`
	CoveragePct     float64    `json:"coveragePct"`
	TotalPoints     int        `json:"totalPoints"`
	ValidPoints     int        `json:"validPoints"`
	Conflicts       []Conflict `json:"conflicts"`
	Warnings        []string   `json:"warnings"`
	Recommendations []string   `json:"recommendations"`
	ValidatedBy     string     `json:"validatedBy,omitempty"`
	ValidationDate  time.Time  `json:"validationDate"`
}

// DefaultMaxClusterDensity is the allowed point count within one median die
// width before a clusterViolation is raised.
const DefaultMaxClusterDensity = 3

// Validator aligns strategies against schematics.
type Validator struct {
	engine *engine.Engine
	logger *logging.Logger

	// MaxClusterDensity overrides the cluster threshold when > 0.
	MaxClusterDensity int
}

// New creates a validator sharing the given execution engine.
func New(eng *engine.Engine, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Validator{engine: eng, logger: logger}
}

// Validate runs the strategy against the schematic and scores the result.
func (v *Validator) Validate(ctx context.Context, s *schematic.SchematicData, compiled *compiler.Compiled, mode Mode, validatedBy string) (*Result, error) {
	result := &Result{
		ID:              uuid.NewString(),
		StrategyID:      compiled.ID,
		SchematicID:     s.ID,
		Status:          StatusNotValidated,
		Conflicts:       []Conflict{},
		Warnings:        []string{},
		Recommendations: []string{},
		ValidatedBy:     validatedBy,
		ValidationDate:  time.Now().UTC(),
	}

	w, gridIndex, err := s.ToWaferMap()
	if err != nil {
		return nil, err
	}

	sim, err := v.engine.Execute(ctx, compiled, w, strategy.ExecContext{WaferSize: s.WaferSize}, engine.ToolConstraints{})
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, sim.Warnings...)

	frame := newGridFrame(s, gridIndex)
	index := newBoundaryIndex(s)

	// Map each selected point into layout coordinates and locate the
	// boundary containing it.
	type hit struct {
		point    geometry.Point
		boundary int // -1 when outside all boundaries
	}
	hits := make([]hit, 0, len(sim.SelectedPoints))
	for i, sp := range sim.SelectedPoints {
		if i%256 == 0 {
			if err := checkCancelled(ctx); err != nil {
				return nil, err
			}
		}
		p := frame.ToLayout(geometry.Point{X: sp.X, Y: sp.Y})
		hits = append(hits, hit{point: p, boundary: index.Lookup(p)})
	}

	result.TotalPoints = len(hits)
	if len(hits) == 0 {
		result.Status = StatusFail
		result.Recommendations = append(result.Recommendations, recommendEmpty)
		return result, nil
	}

	perBoundary := make(map[int][]int)
	for i, h := range hits {
		if h.boundary < 0 {
			result.Conflicts = append(result.Conflicts, Conflict{
				ConflictType:  ConflictOutOfBounds,
				StrategyPoint: h.point,
				Description:   fmt.Sprintf("point (%.2f, %.2f) lies outside every die boundary", h.point.X, h.point.Y),
				Severity:      conflictSeverity(ConflictOutOfBounds, mode),
			})
			continue
		}
		perBoundary[h.boundary] = append(perBoundary[h.boundary], i)
	}

	// duplicateSite: two points resolving to the same boundary.
	for _, b := range sortedKeys(perBoundary) {
		pts := perBoundary[b]
		die := s.Dies[b]
		if len(pts) > 1 {
			for _, i := range pts[1:] {
				result.Conflicts = append(result.Conflicts, Conflict{
					ConflictType:  ConflictDuplicateSite,
					StrategyPoint: hits[i].point,
					Description:   fmt.Sprintf("die %s is sampled %d times", die.DieID, len(pts)),
					Severity:      conflictSeverity(ConflictDuplicateSite, mode),
					AffectedDieID: die.DieID,
				})
			}
		}
		if !die.Available {
			result.Conflicts = append(result.Conflicts, Conflict{
				ConflictType:  ConflictUnavailableDie,
				StrategyPoint: hits[pts[0]].point,
				Description:   fmt.Sprintf("die %s is marked unavailable", die.DieID),
				Severity:      conflictSeverity(ConflictUnavailableDie, mode),
				AffectedDieID: die.DieID,
			})
		}
	}

	// clusterViolation: too many points within one median die width.
	maxDensity := v.MaxClusterDensity
	if maxDensity <= 0 {
		maxDensity = DefaultMaxClusterDensity
	}
	radius := s.MedianDieWidth()
	if radius > 0 {
		flagged := make(map[int]bool)
		for i, h := range hits {
			if flagged[i] {
				continue
			}
			neighbors := 0
			for j, other := range hits {
				if i == j {
					continue
				}
				if math.Hypot(h.point.X-other.point.X, h.point.Y-other.point.Y) <= radius {
					neighbors++
				}
			}
			if neighbors+1 > maxDensity {
				flagged[i] = true
				result.Conflicts = append(result.Conflicts, Conflict{
					ConflictType:  ConflictClusterViolation,
					StrategyPoint: h.point,
					Description: fmt.Sprintf("%d points cluster within radius %.2f, limit is %d",
						neighbors+1, radius, maxDensity),
					Severity: conflictSeverity(ConflictClusterViolation, mode),
				})
			}
		}
	}

	// Scores.
	weighted := 0.0
	errors := 0
	for _, c := range result.Conflicts {
		weighted += severityWeight(c.Severity)
		if c.Severity == SeverityError {
			errors++
		}
	}
	result.AlignmentScore = clamp01(1 - weighted/float64(result.TotalPoints))
	result.ValidPoints = result.TotalPoints - len(result.Conflicts)
	if result.ValidPoints < 0 {
		result.ValidPoints = 0
	}
	result.CoveragePct = 100 * float64(len(perBoundary)) / float64(len(s.Dies))

	switch {
	case errors > 0:
		result.Status = StatusFail
	case result.AlignmentScore >= 0.9:
		result.Status = StatusPass
	case result.AlignmentScore >= 0.5:
		result.Status = StatusWarning
	default:
		result.Status = StatusFail
	}

	result.Recommendations = recommend(result.Conflicts)

	v.logger.Debug("validation complete",
		"strategy", compiled.ID, "schematic", s.ID,
		"status", string(result.Status), "score", result.AlignmentScore,
		"conflicts", len(result.Conflicts))
	return result, nil
}

// conflictSeverity maps conflict types to severities. Strict mode escalates
// outOfBounds and duplicateSite to errors.
func conflictSeverity(t ConflictType, mode Mode) Severity {
	switch t {
	case ConflictOutOfBounds, ConflictDuplicateSite:
		if mode == ModeStrict {
			return SeverityError
		}
		return SeverityWarning
	case ConflictUnavailableDie:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
