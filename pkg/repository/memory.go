package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/validation"
)

// NewMemoryStore builds an in-memory Store. Intended for tests and the CLI;
// nothing survives a restart.
func NewMemoryStore() *Store {
	return &Store{
		Strategies: newMemoryStrategyRepo(),
		Schematics: newMemorySchematicRepo(),
		Validation: newMemoryValidationRepo(),
	}
}

// keyedMutex hands out one mutex per key so writes to different aggregates
// never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

func nowUTC() time.Time { return time.Now().UTC() }

// deepCopy snapshots a value through JSON so stored state and returned
// state never alias.
func deepCopy[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return v
	}
	return out
}

type strategyEntry struct {
	versions map[string]*strategy.Definition
	current  string
}

type memoryStrategyRepo struct {
	mu      sync.RWMutex
	entries map[string]*strategyEntry
	writes  *keyedMutex
}

func newMemoryStrategyRepo() *memoryStrategyRepo {
	return &memoryStrategyRepo{
		entries: make(map[string]*strategyEntry),
		writes:  newKeyedMutex(),
	}
}

func strategyNotFound(id string) error {
	return errcode.New(errcode.NotFound, "strategy %s not found", id).WithDetail("id", id)
}

func (r *memoryStrategyRepo) Create(_ context.Context, def *strategy.Definition) error {
	lock := r.writes.get(def.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.ID]; exists {
		return errcode.New(errcode.ValidationError, "strategy %s already exists", def.ID).
			WithDetail("id", def.ID)
	}
	r.entries[def.ID] = &strategyEntry{
		versions: map[string]*strategy.Definition{def.Version: deepCopy(def)},
		current:  def.Version,
	}
	return nil
}

func (r *memoryStrategyRepo) Put(_ context.Context, def *strategy.Definition) error {
	lock := r.writes.get(def.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[def.ID]
	if !ok {
		return strategyNotFound(def.ID)
	}
	e.versions[def.Version] = deepCopy(def)
	e.current = def.Version
	return nil
}

func (r *memoryStrategyRepo) Get(_ context.Context, id string) (*strategy.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, strategyNotFound(id)
	}
	return deepCopy(e.versions[e.current]), nil
}

func (r *memoryStrategyRepo) GetVersion(_ context.Context, id, version string) (*strategy.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, strategyNotFound(id)
	}
	def, ok := e.versions[version]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "strategy %s has no version %s", id, version).
			WithDetail("id", id).
			WithDetail("version", version)
	}
	return deepCopy(def), nil
}

func (r *memoryStrategyRepo) ListVersions(_ context.Context, id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, strategyNotFound(id)
	}
	out := make([]string, 0, len(e.versions))
	for v := range e.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strategy.CompareVersions(out[i], out[j]) < 0
	})
	return out, nil
}

func (r *memoryStrategyRepo) List(_ context.Context, filter StrategyFilter) ([]*strategy.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*strategy.Definition
	for _, e := range r.entries {
		def := e.versions[e.current]
		if filter.Matches(def) {
			out = append(out, deepCopy(def))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryStrategyRepo) Delete(_ context.Context, id string) error {
	lock := r.writes.get(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return strategyNotFound(id)
	}
	delete(r.entries, id)
	return nil
}

// Activate promotes the stored strategy to active and deprecates any other
// active strategy with the same (processStep, toolType). The rival scan and
// both transitions run inside one critical section, so two concurrent
// activations for the same slot serialize and the loser sees the winner as
// active.
func (r *memoryStrategyRepo) Activate(_ context.Context, id, user string) (*strategy.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, strategyNotFound(id)
	}
	def := e.versions[e.current]

	var rival *strategy.Definition
	for otherID, other := range r.entries {
		if otherID == id {
			continue
		}
		o := other.versions[other.current]
		if o.LifecycleState == strategy.StateActive &&
			o.ProcessStep == def.ProcessStep && o.ToolType == def.ToolType {
			rival = o
			break
		}
	}

	now := def.ModifiedAt
	if err := def.Transition(strategy.StateActive, user, nowUTC()); err != nil {
		def.ModifiedAt = now
		return nil, err
	}

	var deprecated *strategy.Definition
	if rival != nil {
		if err := rival.Transition(strategy.StateDeprecated, user, nowUTC()); err == nil {
			deprecated = deepCopy(rival)
		}
	}
	return deprecated, nil
}

type memorySchematicRepo struct {
	mu      sync.RWMutex
	records map[string]*SchematicRecord
	blobs   map[string][]byte
}

func newMemorySchematicRepo() *memorySchematicRepo {
	return &memorySchematicRepo{
		records: make(map[string]*SchematicRecord),
		blobs:   make(map[string][]byte),
	}
}

func schematicNotFound(id string) error {
	return errcode.New(errcode.NotFound, "schematic %s not found", id).WithDetail("id", id)
}

func (r *memorySchematicRepo) Create(_ context.Context, data *schematic.SchematicData, fileBytes []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[data.ID]; exists {
		return errcode.New(errcode.ValidationError, "schematic %s already exists", data.ID)
	}
	r.records[data.ID] = &SchematicRecord{Data: deepCopy(data)}
	blob := make([]byte, len(fileBytes))
	copy(blob, fileBytes)
	r.blobs[data.ID] = blob
	return nil
}

func (r *memorySchematicRepo) Get(_ context.Context, id string) (*SchematicRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, schematicNotFound(id)
	}
	return deepCopy(rec), nil
}

func (r *memorySchematicRepo) GetBlob(_ context.Context, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blob, ok := r.blobs[id]
	if !ok {
		return nil, schematicNotFound(id)
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (r *memorySchematicRepo) List(_ context.Context) ([]*SchematicRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SchematicRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, deepCopy(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Data.UploadDate.Equal(out[j].Data.UploadDate) {
			return out[i].Data.UploadDate.After(out[j].Data.UploadDate)
		}
		return out[i].Data.ID < out[j].Data.ID
	})
	return out, nil
}

func (r *memorySchematicRepo) UpdateAnnotations(_ context.Context, id string, tags []string, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return schematicNotFound(id)
	}
	rec.Tags = append([]string(nil), tags...)
	rec.Notes = notes
	return nil
}

func (r *memorySchematicRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return schematicNotFound(id)
	}
	delete(r.records, id)
	delete(r.blobs, id)
	return nil
}

type memoryValidationRepo struct {
	mu          sync.RWMutex
	results     map[string]*validation.Result
	bySchematic map[string][]string
	byStrategy  map[string][]string
}

func newMemoryValidationRepo() *memoryValidationRepo {
	return &memoryValidationRepo{
		results:     make(map[string]*validation.Result),
		bySchematic: make(map[string][]string),
		byStrategy:  make(map[string][]string),
	}
}

func (r *memoryValidationRepo) Put(_ context.Context, result *validation.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ID] = deepCopy(result)
	r.bySchematic[result.SchematicID] = append(r.bySchematic[result.SchematicID], result.ID)
	r.byStrategy[result.StrategyID] = append(r.byStrategy[result.StrategyID], result.ID)
	return nil
}

func (r *memoryValidationRepo) Get(_ context.Context, id string) (*validation.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[id]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "validation result %s not found", id).
			WithDetail("id", id)
	}
	return deepCopy(res), nil
}

func (r *memoryValidationRepo) ListBySchematic(_ context.Context, schematicID string) ([]*validation.Result, error) {
	return r.listIndexed(r.bySchematic, schematicID), nil
}

func (r *memoryValidationRepo) ListByStrategy(_ context.Context, strategyID string) ([]*validation.Result, error) {
	return r.listIndexed(r.byStrategy, strategyID), nil
}

func (r *memoryValidationRepo) listIndexed(index map[string][]string, key string) []*validation.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := index[key]
	out := make([]*validation.Result, 0, len(ids))
	for _, id := range ids {
		if res, ok := r.results[id]; ok {
			out = append(out, deepCopy(res))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ValidationDate.After(out[j].ValidationDate)
	})
	return out
}
