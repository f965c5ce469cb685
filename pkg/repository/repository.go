// Package repository owns persistence for the three aggregates: strategies
// (versioned), schematics (immutable body, mutable tags), and validation
// results (append-only). The contract prescribes behavior, not backend;
// memory and SQLite implementations are provided.
package repository

import (
	"context"

	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/validation"
)

// StrategyFilter narrows strategy listings. Empty fields match everything.
type StrategyFilter struct {
	Author         string
	StrategyType   strategy.Type
	ProcessStep    string
	LifecycleState strategy.State
}

// Matches reports whether the definition passes the filter.
func (f StrategyFilter) Matches(d *strategy.Definition) bool {
	if f.Author != "" && f.Author != d.Author {
		return false
	}
	if f.StrategyType != "" && f.StrategyType != d.StrategyType {
		return false
	}
	if f.ProcessStep != "" && f.ProcessStep != d.ProcessStep {
		return false
	}
	if f.LifecycleState != "" && f.LifecycleState != d.LifecycleState {
		return false
	}
	return true
}

// StrategyRepo stores strategy definitions by (id, version) with a pointer
// to the current version. Writes to one id are serialized; readers see
// either the pre-write or post-write state, never a partial one.
type StrategyRepo interface {
	// Create stores the first version of a new strategy. Fails if the id
	// exists.
	Create(ctx context.Context, def *strategy.Definition) error

	// Put stores a version and moves the current pointer to it.
	Put(ctx context.Context, def *strategy.Definition) error

	// Get returns the current version.
	Get(ctx context.Context, id string) (*strategy.Definition, error)

	// GetVersion returns one specific version.
	GetVersion(ctx context.Context, id, version string) (*strategy.Definition, error)

	// ListVersions returns the stored versions of id in semver order.
	ListVersions(ctx context.Context, id string) ([]string, error)

	// List returns the current version of every strategy passing the
	// filter, sorted by name then id.
	List(ctx context.Context, filter StrategyFilter) ([]*strategy.Definition, error)

	// Delete removes the strategy and all its versions.
	Delete(ctx context.Context, id string) error

	// Activate transitions def's stored copy to active and deprecates any
	// other active strategy sharing (processStep, toolType). Returns the
	// deprecated definition, if one existed.
	Activate(ctx context.Context, id string, user string) (deprecated *strategy.Definition, err error)
}

// SchematicRecord is the stored form of a schematic: the parsed data plus
// mutable annotation fields and the original file bytes held separately.
type SchematicRecord struct {
	Data  *schematic.SchematicData `json:"data"`
	Tags  []string                 `json:"tags,omitempty"`
	Notes string                   `json:"notes,omitempty"`
}

// SchematicRepo stores parsed schematics. The parsed body is immutable;
// only tags and notes may change after ingestion.
type SchematicRepo interface {
	// Create stores a schematic and its source file bytes.
	Create(ctx context.Context, data *schematic.SchematicData, fileBytes []byte) error

	// Get returns the stored record.
	Get(ctx context.Context, id string) (*SchematicRecord, error)

	// GetBlob returns the original uploaded bytes.
	GetBlob(ctx context.Context, id string) ([]byte, error)

	// List returns all records sorted by upload date descending.
	List(ctx context.Context) ([]*SchematicRecord, error)

	// UpdateAnnotations replaces tags and notes.
	UpdateAnnotations(ctx context.Context, id string, tags []string, notes string) error

	// Delete removes the schematic and its blob.
	Delete(ctx context.Context, id string) error
}

// ValidationRepo stores validation results append-only, indexed by
// schematic and strategy. The indexes are eventually consistent with the
// store; address results by id for read-after-write.
type ValidationRepo interface {
	// Put appends a result.
	Put(ctx context.Context, result *validation.Result) error

	// Get returns one result by id.
	Get(ctx context.Context, id string) (*validation.Result, error)

	// ListBySchematic returns results for a schematic, newest first.
	ListBySchematic(ctx context.Context, schematicID string) ([]*validation.Result, error)

	// ListByStrategy returns results for a strategy, newest first.
	ListByStrategy(ctx context.Context, strategyID string) ([]*validation.Result, error)
}

// Store bundles the three repositories behind one backend.
type Store struct {
	Strategies StrategyRepo
	Schematics SchematicRepo
	Validation ValidationRepo
}
