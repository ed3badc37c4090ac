// Package cache holds the coherent in-process cube cache and the advice
// registry. Both are keyed per AppId; reads are lock-free, mass operations
// take the registry monitor.
package cache

import (
	"strings"
	"sync"

	"github.com/sharedcode/cuberepo"
)

// Entry is a cache slot value: either a cuberepo.Cube or the NotFound sentinel.
type Entry any

type notFoundMarker struct{}

// NotFound is the sentinel cached for a name the persister reported missing.
// It is a distinct singleton: readers must be able to tell "queried and
// missing" from "never queried", otherwise misses re-query the persister.
var NotFound Entry = &notFoundMarker{}

type appCache struct {
	cubes sync.Map // lowercase cube name -> Entry
	mux   sync.Mutex
	// loaders are resource loaders and compiled-code caches attached to the
	// sys.classpath entry; released when the AppId cache is cleared.
	loaders []cuberepo.Releaser
}

// Registry maintains the per-AppId map of name -> (Cube | NotFound).
// All methods are safe for concurrent use.
type Registry struct {
	mux  sync.Mutex // guards mass operations
	apps sync.Map   // AppId cache key -> *appCache
}

// NewRegistry creates an empty cache registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) app(appId cuberepo.AppId) *appCache {
	key := appId.CacheKey()
	if v, ok := r.apps.Load(key); ok {
		return v.(*appCache)
	}
	// Lazy construct on miss; the loser of the race discards its construction
	// and adopts the winner's value.
	v, _ := r.apps.LoadOrStore(key, &appCache{})
	return v.(*appCache)
}

// Get returns the entry cached for (appId, name) and whether one is present.
// The entry is either a cube instance or the NotFound sentinel, never nil.
func (r *Registry) Get(appId cuberepo.AppId, name string) (Entry, bool) {
	v, ok := r.apps.Load(appId.CacheKey())
	if !ok {
		return nil, false
	}
	e, ok := v.(*appCache).cubes.Load(strings.ToLower(name))
	if !ok {
		return nil, false
	}
	return e, true
}

// Put stores the cube, unless its meta-property "cache" is present and false.
func (r *Registry) Put(appId cuberepo.AppId, cube cuberepo.Cube) {
	if !shouldCache(cube) {
		return
	}
	r.app(appId).cubes.Store(strings.ToLower(cube.Name()), Entry(cube))
}

// PutNotFound caches the miss sentinel for (appId, name).
func (r *Registry) PutNotFound(appId cuberepo.AppId, name string) {
	r.app(appId).cubes.Store(strings.ToLower(name), NotFound)
}

// Remove evicts one entry, case-insensitively.
func (r *Registry) Remove(appId cuberepo.AppId, name string) {
	if v, ok := r.apps.Load(appId.CacheKey()); ok {
		v.(*appCache).cubes.Delete(strings.ToLower(name))
	}
}

// AttachLoader registers a releasable resource (URL loader, compiled-code
// cache) with the AppId; Clear releases it.
func (r *Registry) AttachLoader(appId cuberepo.AppId, l cuberepo.Releaser) {
	ac := r.app(appId)
	ac.mux.Lock()
	ac.loaders = append(ac.loaders, l)
	ac.mux.Unlock()
}

// Clear evicts every entry for the AppId and releases any attached loaders.
func (r *Registry) Clear(appId cuberepo.AppId) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.clearLocked(appId.CacheKey())
}

func (r *Registry) clearLocked(key string) {
	v, ok := r.apps.LoadAndDelete(key)
	if !ok {
		return
	}
	ac := v.(*appCache)
	ac.mux.Lock()
	loaders := ac.loaders
	ac.loaders = nil
	ac.mux.Unlock()
	for _, l := range loaders {
		l.Release()
	}
}

// ClearBranches evicts every AppId whose branch-agnostic cache key matches —
// used when promoting or releasing a version, which invalidates every branch
// under that version.
func (r *Registry) ClearBranches(appId cuberepo.AppId) {
	r.mux.Lock()
	defer r.mux.Unlock()
	prefix := appId.BranchAgnosticCacheKey() + "/"
	var keys []string
	r.apps.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			keys = append(keys, k.(string))
		}
		return true
	})
	for _, k := range keys {
		r.clearLocked(k)
	}
}

// ClearAll evicts everything. Test-only.
func (r *Registry) ClearAll() {
	r.mux.Lock()
	defer r.mux.Unlock()
	var keys []string
	r.apps.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	for _, k := range keys {
		r.clearLocked(k)
	}
}

// IsCached reports whether an actual cube instance is cached for (appId, name).
func (r *Registry) IsCached(appId cuberepo.AppId, name string) bool {
	e, ok := r.Get(appId, name)
	return ok && e != NotFound
}

// CachedNames returns the lowercase names currently cached for the AppId,
// misses included.
func (r *Registry) CachedNames(appId cuberepo.AppId) []string {
	var names []string
	if v, ok := r.apps.Load(appId.CacheKey()); ok {
		v.(*appCache).cubes.Range(func(k, _ any) bool {
			names = append(names, k.(string))
			return true
		})
	}
	return names
}

func shouldCache(cube cuberepo.Cube) bool {
	v, ok := cube.MetaProperty("cache")
	if !ok {
		return true
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return !strings.EqualFold(t, "false")
	}
	return true
}
