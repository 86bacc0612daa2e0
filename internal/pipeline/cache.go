// Package pipeline provides the shared cache of expensive compute handles,
// one per model version. Loading a handle may take seconds (a multi-gigabyte
// model moving into device memory), so concurrent first-use of the same key is
// collapsed into a single construction that all callers wait on.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Loader constructs the underlying compute resource for a model key. It is
// expected to be slow and may fail (resource unavailable, unknown key).
type Loader interface {
	Load(ctx context.Context, key string) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, key string) error

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, key string) error { return f(ctx, key) }

// Handle is a loaded pipeline shared by all jobs referencing its key. Jobs
// borrow it for the duration of one execution. The accelerator behind a key
// is a mutually-exclusive resource, so Invoke serializes compute per handle.
type Handle struct {
	key      string
	loadedAt time.Time

	mu sync.Mutex
}

// Key returns the model key this handle was loaded for.
func (h *Handle) Key() string { return h.key }

// LoadedAt returns when the handle finished loading.
func (h *Handle) LoadedAt() time.Time { return h.loadedAt }

// Invoke runs fn while holding the handle's compute slot. Invocations for the
// same key run one at a time; distinct keys do not contend.
func (h *Handle) Invoke(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn()
}

// Cache memoizes pipeline handles per model key. A capacity of 0 means
// entries are never evicted (the default); a positive capacity bounds the
// cache with LRU eviction.
type Cache struct {
	loader Loader
	group  singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle
	bounded *lru.Cache[string, *Handle]

	loads int64
}

// NewCache creates a cache backed by the given loader. capacity <= 0 keeps
// every loaded handle for the life of the process.
func NewCache(loader Loader, capacity int) (*Cache, error) {
	c := &Cache{loader: loader}
	if capacity > 0 {
		bounded, err := lru.New[string, *Handle](capacity)
		if err != nil {
			return nil, fmt.Errorf("create lru cache: %w", err)
		}
		c.bounded = bounded
	} else {
		c.handles = make(map[string]*Handle)
	}
	return c, nil
}

// GetOrLoad returns the handle for key, constructing it if absent. Exactly
// one construction runs per key at a time; concurrent callers for the same
// key block until it finishes and share the handle or the error. Errors are
// never cached: once in-flight waiters have been answered, a later call
// retries the load.
func (c *Cache) GetOrLoad(ctx context.Context, key string) (*Handle, error) {
	if h, ok := c.lookup(key); ok {
		return h, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have finished the
		// load before this one entered the group.
		if h, ok := c.lookup(key); ok {
			return h, nil
		}

		if err := c.loader.Load(ctx, key); err != nil {
			return nil, fmt.Errorf("load pipeline %q: %w", key, err)
		}

		h := &Handle{key: key, loadedAt: time.Now().UTC()}
		c.store(key, h)
		c.mu.Lock()
		c.loads++
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		// Drop the flight immediately so the error is not served to callers
		// arriving after the waiters have been answered.
		c.group.Forget(key)
		return nil, err
	}
	return v.(*Handle), nil
}

// Loads returns how many constructions have completed successfully.
func (c *Cache) Loads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	if c.bounded != nil {
		return c.bounded.Len()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

func (c *Cache) lookup(key string) (*Handle, bool) {
	if c.bounded != nil {
		return c.bounded.Get(key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[key]
	return h, ok
}

func (c *Cache) store(key string, h *Handle) {
	if c.bounded != nil {
		c.bounded.Add(key, h)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[key] = h
}
