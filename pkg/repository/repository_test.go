package repository_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/geometry"
	"github.com/metrolab/wafersample/pkg/repository"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/validation"
)

// forEachBackend runs the test body against both store implementations.
func forEachBackend(t *testing.T, body func(t *testing.T, store *repository.Store)) {
	t.Run("memory", func(t *testing.T) {
		body(t, repository.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, closeStore, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = closeStore() })
		body(t, store)
	})
}

func newStrategy(name, processStep string) *strategy.Definition {
	d := strategy.New(name, strategy.TypeUniformGrid, "alice")
	d.ProcessStep = processStep
	d.ToolType = "cd-sem"
	d.Rules = []strategy.RuleConfig{{
		RuleType:   "uniformGrid",
		Parameters: map[string]any{"gridSpacing": float64(2)},
		Weight:     1,
		Enabled:    true,
	}}
	return d
}

func promoteTo(t *testing.T, d *strategy.Definition, to strategy.State) {
	t.Helper()
	path := map[strategy.State][]strategy.State{
		strategy.StateReview:   {strategy.StateReview},
		strategy.StateApproved: {strategy.StateReview, strategy.StateApproved},
	}[to]
	for _, s := range path {
		require.NoError(t, d.Transition(s, "tester", time.Now().UTC()))
	}
}

func TestStrategyCRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		def := newStrategy("scan", "etch-1")

		require.NoError(t, store.Strategies.Create(ctx, def))

		// Creating the same id twice fails.
		err := store.Strategies.Create(ctx, def)
		require.Error(t, err)
		assert.Equal(t, errcode.ValidationError, errcode.CodeOf(err))

		got, err := store.Strategies.Get(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def.Name, got.Name)
		assert.Equal(t, def.Version, got.Version)
		assert.Equal(t, float64(2), got.Rules[0].Parameters["gridSpacing"])

		_, err = store.Strategies.Get(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, errcode.NotFound, errcode.CodeOf(err))

		require.NoError(t, store.Strategies.Delete(ctx, def.ID))
		_, err = store.Strategies.Get(ctx, def.ID)
		assert.Error(t, err)
	})
}

func TestStrategyVersioning(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		def := newStrategy("scan", "etch-1")
		require.NoError(t, store.Strategies.Create(ctx, def))

		v2 := def.Clone(def.Name, def.Author)
		v2.ID = def.ID
		v2.Version = "1.10.0"
		require.NoError(t, store.Strategies.Put(ctx, v2))

		v3 := def.Clone(def.Name, def.Author)
		v3.ID = def.ID
		v3.Version = "1.2.0"
		require.NoError(t, store.Strategies.Put(ctx, v3))

		// Current follows the latest Put, not the highest version.
		current, err := store.Strategies.Get(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", current.Version)

		old, err := store.Strategies.GetVersion(ctx, def.ID, "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", old.Version)

		_, err = store.Strategies.GetVersion(ctx, def.ID, "9.9.9")
		require.Error(t, err)
		assert.Equal(t, errcode.NotFound, errcode.CodeOf(err))

		// Semver order, not lexicographic: 1.10.0 sorts after 1.2.0.
		versions, err := store.Strategies.ListVersions(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"1.0.0", "1.2.0", "1.10.0"}, versions)
	})
}

func TestStrategyListFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		a := newStrategy("alpha", "etch-1")
		b := newStrategy("beta", "litho-2")
		b.Author = "bob"
		require.NoError(t, store.Strategies.Create(ctx, a))
		require.NoError(t, store.Strategies.Create(ctx, b))

		all, err := store.Strategies.List(ctx, repository.StrategyFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "alpha", all[0].Name)

		byAuthor, err := store.Strategies.List(ctx, repository.StrategyFilter{Author: "bob"})
		require.NoError(t, err)
		require.Len(t, byAuthor, 1)
		assert.Equal(t, "beta", byAuthor[0].Name)

		byStep, err := store.Strategies.List(ctx, repository.StrategyFilter{ProcessStep: "etch-1"})
		require.NoError(t, err)
		require.Len(t, byStep, 1)
		assert.Equal(t, "alpha", byStep[0].Name)

		none, err := store.Strategies.List(ctx, repository.StrategyFilter{LifecycleState: strategy.StateActive})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestActivateDeprecatesRival(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()

		first := newStrategy("first", "etch-1")
		promoteTo(t, first, strategy.StateApproved)
		require.NoError(t, store.Strategies.Create(ctx, first))

		deprecated, err := store.Strategies.Activate(ctx, first.ID, "ops")
		require.NoError(t, err)
		assert.Nil(t, deprecated)

		got, err := store.Strategies.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, strategy.StateActive, got.LifecycleState)

		// Activating a second strategy on the same (processStep, toolType)
		// deprecates the first.
		second := newStrategy("second", "etch-1")
		promoteTo(t, second, strategy.StateApproved)
		require.NoError(t, store.Strategies.Create(ctx, second))

		deprecated, err = store.Strategies.Activate(ctx, second.ID, "ops")
		require.NoError(t, err)
		require.NotNil(t, deprecated)
		assert.Equal(t, first.ID, deprecated.ID)

		got, err = store.Strategies.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, strategy.StateDeprecated, got.LifecycleState)

		got, err = store.Strategies.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, strategy.StateActive, got.LifecycleState)
	})
}

func TestActivateConcurrentSameSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()

		// Two approved strategies race for the same (processStep, toolType)
		// slot. Whatever the interleaving, exactly one may end up active.
		for i := 0; i < 25; i++ {
			a := newStrategy("a", "etch-1")
			promoteTo(t, a, strategy.StateApproved)
			require.NoError(t, store.Strategies.Create(ctx, a))
			b := newStrategy("b", "etch-1")
			promoteTo(t, b, strategy.StateApproved)
			require.NoError(t, store.Strategies.Create(ctx, b))

			start := make(chan struct{})
			var wg sync.WaitGroup
			errs := make([]error, 2)
			for j, id := range []string{a.ID, b.ID} {
				wg.Add(1)
				go func(j int, id string) {
					defer wg.Done()
					<-start
					_, errs[j] = store.Strategies.Activate(ctx, id, "ops")
				}(j, id)
			}
			close(start)
			wg.Wait()
			require.NoError(t, errs[0])
			require.NoError(t, errs[1])

			active := 0
			for _, id := range []string{a.ID, b.ID} {
				got, err := store.Strategies.Get(ctx, id)
				require.NoError(t, err)
				if got.LifecycleState == strategy.StateActive {
					active++
				}
			}
			require.Equal(t, 1, active)

			require.NoError(t, store.Strategies.Delete(ctx, a.ID))
			require.NoError(t, store.Strategies.Delete(ctx, b.ID))
		}
	})
}

func TestActivateDifferentStepsCoexist(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()

		a := newStrategy("a", "etch-1")
		promoteTo(t, a, strategy.StateApproved)
		require.NoError(t, store.Strategies.Create(ctx, a))
		b := newStrategy("b", "litho-2")
		promoteTo(t, b, strategy.StateApproved)
		require.NoError(t, store.Strategies.Create(ctx, b))

		_, err := store.Strategies.Activate(ctx, a.ID, "ops")
		require.NoError(t, err)
		deprecated, err := store.Strategies.Activate(ctx, b.ID, "ops")
		require.NoError(t, err)
		assert.Nil(t, deprecated)
	})
}

func TestActivateRequiresApproved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		def := newStrategy("draft", "etch-1")
		require.NoError(t, store.Strategies.Create(ctx, def))

		_, err := store.Strategies.Activate(ctx, def.ID, "ops")
		require.Error(t, err)
		assert.Equal(t, errcode.LifecycleViolation, errcode.CodeOf(err))

		// The failed activation must not change the stored state.
		got, err := store.Strategies.Get(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, strategy.StateDraft, got.LifecycleState)
	})
}

func newSchematic(id string, uploaded time.Time) *schematic.SchematicData {
	return &schematic.SchematicData{
		ID:               id,
		Filename:         id + ".svg",
		FormatType:       schematic.FormatSVG,
		UploadDate:       uploaded,
		CoordinateSystem: geometry.SVGUnits,
		Dies: []schematic.DieBoundary{
			schematic.NewDieBoundary("die_001", geometry.NewBounds(0, 0, 10, 10), true),
		},
		LayoutBounds: geometry.NewBounds(0, 0, 10, 10),
	}
}

func TestSchematicStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		older := newSchematic("sch-old", now.Add(-time.Hour))
		newer := newSchematic("sch-new", now)
		require.NoError(t, store.Schematics.Create(ctx, older, []byte("old-bytes")))
		require.NoError(t, store.Schematics.Create(ctx, newer, []byte("new-bytes")))

		rec, err := store.Schematics.Get(ctx, "sch-old")
		require.NoError(t, err)
		assert.Equal(t, "sch-old.svg", rec.Data.Filename)
		require.Len(t, rec.Data.Dies, 1)

		blob, err := store.Schematics.GetBlob(ctx, "sch-old")
		require.NoError(t, err)
		assert.Equal(t, []byte("old-bytes"), blob)

		list, err := store.Schematics.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "sch-new", list[0].Data.ID) // newest first

		require.NoError(t, store.Schematics.UpdateAnnotations(ctx, "sch-old", []string{"baseline"}, "golden layout"))
		rec, err = store.Schematics.Get(ctx, "sch-old")
		require.NoError(t, err)
		assert.Equal(t, []string{"baseline"}, rec.Tags)
		assert.Equal(t, "golden layout", rec.Notes)

		require.NoError(t, store.Schematics.Delete(ctx, "sch-old"))
		_, err = store.Schematics.Get(ctx, "sch-old")
		require.Error(t, err)
		assert.Equal(t, errcode.NotFound, errcode.CodeOf(err))
		_, err = store.Schematics.GetBlob(ctx, "sch-old")
		assert.Error(t, err)
	})
}

func TestValidationStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		older := &validation.Result{
			ID: "val-1", StrategyID: "str-1", SchematicID: "sch-1",
			Status: validation.StatusPass, AlignmentScore: 1,
			ValidationDate: now.Add(-time.Hour),
		}
		newer := &validation.Result{
			ID: "val-2", StrategyID: "str-1", SchematicID: "sch-2",
			Status: validation.StatusWarning, AlignmentScore: 0.7,
			ValidationDate: now,
		}
		require.NoError(t, store.Validation.Put(ctx, older))
		require.NoError(t, store.Validation.Put(ctx, newer))

		got, err := store.Validation.Get(ctx, "val-1")
		require.NoError(t, err)
		assert.Equal(t, validation.StatusPass, got.Status)

		byStrategy, err := store.Validation.ListByStrategy(ctx, "str-1")
		require.NoError(t, err)
		require.Len(t, byStrategy, 2)
		assert.Equal(t, "val-2", byStrategy[0].ID) // newest first

		bySchematic, err := store.Validation.ListBySchematic(ctx, "sch-1")
		require.NoError(t, err)
		require.Len(t, bySchematic, 1)
		assert.Equal(t, "val-1", bySchematic[0].ID)

		_, err = store.Validation.Get(ctx, "missing")
		require.Error(t, err)
		assert.Equal(t, errcode.NotFound, errcode.CodeOf(err))
	})
}
