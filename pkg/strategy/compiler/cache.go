package compiler

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/metrolab/wafersample/pkg/strategy"
)

// DefaultCacheSize bounds the compiled-strategy cache.
const DefaultCacheSize = 256

// Cache memoizes compilation keyed by (definition id, version). Entries are
// immutable once inserted; a mutated draft must carry a new version to be
// recompiled, which the repository guarantees.
type Cache struct {
	compiler *Compiler
	entries  *lru.Cache[string, *Compiled]
}

// NewCache wraps the compiler with an LRU of the given size. size <= 0
// selects DefaultCacheSize.
func NewCache(c *Compiler, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Compiled](size)
	if err != nil {
		return nil, err
	}
	return &Cache{compiler: c, entries: entries}, nil
}

func cacheKey(id, version string) string { return id + "@" + version }

// Compile returns the cached compilation for the definition's (id, version)
// or compiles and caches it. Drafts are never cached: their content can
// change under the same version until promoted.
func (c *Cache) Compile(def *strategy.Definition) (*Compiled, error) {
	if def.LifecycleState == strategy.StateDraft {
		return c.compiler.Compile(def)
	}

	key := cacheKey(def.ID, def.Version)
	if compiled, ok := c.entries.Get(key); ok {
		return compiled, nil
	}
	compiled, err := c.compiler.Compile(def)
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, compiled)
	return compiled, nil
}

// Invalidate drops the cache entry for (id, version), if present.
func (c *Cache) Invalidate(id, version string) {
	c.entries.Remove(cacheKey(id, version))
}

// Len returns the number of cached compilations.
func (c *Cache) Len() int { return c.entries.Len() }
