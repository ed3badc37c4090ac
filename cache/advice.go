package cache

import (
	"sync"

	"github.com/sharedcode/cuberepo"
)

// The literal method advices bind to when a cube carries no method axis.
const defaultMethod = "run"

type adviceBinding struct {
	pattern string
	advice  cuberepo.Advice
}

type appAdvices struct {
	mux      sync.Mutex
	bindings []adviceBinding
}

// AdviceRegistry maps per-AppId wildcard patterns to advices. Advices are
// applied lazily, on cube hydration, to every cube whose "name.method()"
// matches the binding pattern.
type AdviceRegistry struct {
	apps sync.Map // AppId cache key -> *appAdvices
}

// NewAdviceRegistry creates an empty advice registry.
func NewAdviceRegistry() *AdviceRegistry {
	return &AdviceRegistry{}
}

func (r *AdviceRegistry) app(appId cuberepo.AppId) *appAdvices {
	key := appId.CacheKey()
	if v, ok := r.apps.Load(key); ok {
		return v.(*appAdvices)
	}
	v, _ := r.apps.LoadOrStore(key, &appAdvices{})
	return v.(*appAdvices)
}

// Add binds an advice to the AppId under a '*'/'?' pattern matched against
// "cubeName.method()".
func (r *AdviceRegistry) Add(appId cuberepo.AppId, pattern string, advice cuberepo.Advice) {
	aa := r.app(appId)
	aa.mux.Lock()
	aa.bindings = append(aa.bindings, adviceBinding{pattern: pattern, advice: advice})
	aa.mux.Unlock()
}

// Apply attaches every matching advice to the cube. The method ranges over
// the columns of the cube's "method" axis when present, else the literal
// "run".
func (r *AdviceRegistry) Apply(appId cuberepo.AppId, cube cuberepo.Cube) {
	v, ok := r.apps.Load(appId.CacheKey())
	if !ok {
		return
	}
	aa := v.(*appAdvices)
	aa.mux.Lock()
	bindings := make([]adviceBinding, len(aa.bindings))
	copy(bindings, aa.bindings)
	aa.mux.Unlock()
	if len(bindings) == 0 {
		return
	}

	methods := []string{defaultMethod}
	if ax, ok := cube.Axis("method"); ok {
		methods = ax.Columns()
	}
	for _, b := range bindings {
		for _, method := range methods {
			if cuberepo.MatchesWildcard(b.pattern, cube.Name()+"."+method+"()") {
				cube.AddAdvice(b.advice, method)
			}
		}
	}
}

// Clear drops every binding for the AppId.
func (r *AdviceRegistry) Clear(appId cuberepo.AppId) {
	r.apps.Delete(appId.CacheKey())
}
