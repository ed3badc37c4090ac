// Package manager is the process-wide façade of the Cube Repository Manager.
// Every public operation funnels through validation, permission check, lock
// check, persister call, cache mutation and broadcast; read paths shortcut
// after the cache check.
package manager

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sharedcode/cuberepo"
	"github.com/sharedcode/cuberepo/cache"
	"github.com/sharedcode/cuberepo/cel"
)

// Reserved administrative cube names.
const (
	SysBootstrap         = "sys.bootstrap"
	SysClasspath         = "sys.classpath"
	SysPermissions       = "sys.permissions"
	SysUserGroups        = "sys.usergroups"
	SysBranchPermissions = "sys.branch.permissions"
	SysLock              = "sys.lock"
	SysPrototype         = "sys.prototype"
)

// Options holds Manager behaviour knobs.
type Options struct {
	// ReleaseQuiesceDelay is how long ReleaseCubes waits after acquiring the
	// application lock, letting in-flight readers drain. Tests pass 0.
	ReleaseQuiesceDelay time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{ReleaseQuiesceDelay: 10 * time.Second}
}

// Manager coordinates branch lifecycle, caching, permissions and the
// application advisory lock over a durable persister. All public operations
// are safe for concurrent use.
type Manager struct {
	persister   cuberepo.Persister
	deltas      cuberepo.DeltaProcessor
	factory     cuberepo.CubeFactory
	broadcaster cuberepo.Broadcaster
	cubeCache   *cache.Registry
	advices     *cache.AdviceRegistry
	options     Options

	// knownApps memoises tenant/app (and branch) coordinates already seen to
	// carry records, so mutations skip the new-app probe.
	knownApps sync.Map
}

// New creates a Manager over the given collaborators. broadcaster may be nil
// for single-process deployments.
func New(p cuberepo.Persister, d cuberepo.DeltaProcessor, f cuberepo.CubeFactory, b cuberepo.Broadcaster, opts Options) (*Manager, error) {
	if p == nil {
		return nil, cuberepo.Errorf(cuberepo.InvalidState, "no persister injected")
	}
	if d == nil {
		return nil, cuberepo.Errorf(cuberepo.InvalidState, "no delta processor injected")
	}
	if f == nil {
		return nil, cuberepo.Errorf(cuberepo.InvalidState, "no cube factory injected")
	}
	return &Manager{
		persister:   p,
		deltas:      d,
		factory:     f,
		broadcaster: b,
		cubeCache:   cache.NewRegistry(),
		advices:     cache.NewAdviceRegistry(),
		options:     opts,
	}, nil
}

func validCubeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return cuberepo.Errorf(cuberepo.InvalidInput, "cube name cannot be empty")
	}
	return nil
}

func assertNotRelease(appId cuberepo.AppId) error {
	if appId.IsRelease() {
		return cuberepo.Errorf(cuberepo.InvalidInput, "cannot mutate RELEASE AppId %v", appId)
	}
	return nil
}

// GetCube returns the named cube, or nil when it does not exist. The cache is
// consulted first; a miss reported by the persister is cached as the NotFound
// sentinel so repeated lookups do not re-query.
func (m *Manager) GetCube(ctx context.Context, appId cuberepo.AppId, name string) (cuberepo.Cube, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	if err := validCubeName(name); err != nil {
		return nil, err
	}
	if e, ok := m.cubeCache.Get(appId, name); ok {
		if e == cache.NotFound {
			return nil, nil
		}
		return e.(cuberepo.Cube), nil
	}
	return m.loadCube(ctx, appId, name)
}

func (m *Manager) loadCube(ctx context.Context, appId cuberepo.AppId, name string) (cuberepo.Cube, error) {
	cube, err := m.persister.LoadCube(ctx, appId, name)
	if err != nil {
		return nil, err
	}
	if cube == nil {
		m.cubeCache.PutNotFound(appId, name)
		return nil, nil
	}
	m.hydrate(appId, cube)
	return cube, nil
}

// hydrate attaches matching advices and caches the cube.
func (m *Manager) hydrate(appId cuberepo.AppId, cube cuberepo.Cube) {
	cube.SetAppId(appId)
	m.advices.Apply(appId, cube)
	m.cubeCache.Put(appId, cube)
}

// beginMutation runs the front half of the mutation pipeline — validation,
// release rejection, new-app detection, permission checks, lock check — and
// returns the acting user. Failures leave no side effects on the persister.
func (m *Manager) beginMutation(ctx context.Context, appId cuberepo.AppId, action Action, resources ...string) (string, error) {
	if err := appId.Validate(); err != nil {
		return "", err
	}
	if err := assertNotRelease(appId); err != nil {
		return "", err
	}
	for _, res := range resources {
		if err := validCubeName(res); err != nil {
			return "", err
		}
	}
	if err := m.DetectNewAppId(ctx, appId); err != nil {
		return "", err
	}
	user := cuberepo.UserFrom(ctx)
	for _, res := range resources {
		allowed, err := m.Allowed(ctx, appId, res, action)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", cuberepo.Error{
				Code:     cuberepo.SecurityViolation,
				Err:      fmt.Errorf("user %s is not allowed to %s %s in %v", user, action, res, appId),
				UserData: res,
			}
		}
	}
	if err := m.assertNotLockBlocked(ctx, appId, user); err != nil {
		return "", err
	}
	return user, nil
}

// finishMutation applies the cache invalidation rule and broadcasts. A
// mutation naming sys.classpath (rename source or destination included)
// invalidates the whole AppId; everything else invalidates per cube.
func (m *Manager) finishMutation(ctx context.Context, appId cuberepo.AppId, names ...string) {
	whole := false
	for _, n := range names {
		if strings.EqualFold(n, SysClasspath) {
			whole = true
			break
		}
	}
	if whole {
		m.cubeCache.Clear(appId)
	} else {
		for _, n := range names {
			m.cubeCache.Remove(appId, n)
		}
	}
	m.broadcast(ctx, appId)
}

func (m *Manager) broadcast(ctx context.Context, appId cuberepo.AppId) {
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(ctx, appId)
	}
}

// UpdateCube creates or updates a cube on a branch.
func (m *Manager) UpdateCube(ctx context.Context, appId cuberepo.AppId, cube cuberepo.Cube) error {
	if cube == nil {
		return cuberepo.Errorf(cuberepo.InvalidInput, "cube cannot be nil")
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, cube.Name())
	if err != nil {
		return err
	}
	if err := m.persister.UpdateCube(ctx, appId, cube, user); err != nil {
		return err
	}
	log.Debug("updated cube", "app", appId.String(), "cube", cube.Name(), "user", user)
	m.finishMutation(ctx, appId, cube.Name())
	return nil
}

// DeleteCubes tombstones the named cubes.
func (m *Manager) DeleteCubes(ctx context.Context, appId cuberepo.AppId, names []string) error {
	if len(names) == 0 {
		return cuberepo.Errorf(cuberepo.InvalidInput, "empty cube name batch")
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, names...)
	if err != nil {
		return err
	}
	if err := m.persister.DeleteCubes(ctx, appId, names, false, user); err != nil {
		return err
	}
	m.finishMutation(ctx, appId, names...)
	return nil
}

// DuplicateCube copies a cube, possibly across AppIds, under a new name.
func (m *Manager) DuplicateCube(ctx context.Context, src cuberepo.AppId, srcName string, dst cuberepo.AppId, dstName string) error {
	if err := src.Validate(); err != nil {
		return err
	}
	if err := validCubeName(srcName); err != nil {
		return err
	}
	if src.Equals(dst) && strings.EqualFold(srcName, dstName) {
		return cuberepo.Errorf(cuberepo.InvalidInput, "cannot duplicate cube %s onto itself", srcName)
	}
	user, err := m.beginMutation(ctx, dst, ActionUpdate, dstName)
	if err != nil {
		return err
	}
	if err := m.persister.DuplicateCube(ctx, src, srcName, dst, dstName, user); err != nil {
		return err
	}
	m.finishMutation(ctx, dst, dstName)
	return nil
}

// RenameCube renames a cube within an AppId.
func (m *Manager) RenameCube(ctx context.Context, appId cuberepo.AppId, oldName, newName string) error {
	if strings.EqualFold(oldName, newName) {
		return cuberepo.Errorf(cuberepo.InvalidInput, "rename source and target are the same: %s", oldName)
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, oldName, newName)
	if err != nil {
		return err
	}
	if err := m.persister.RenameCube(ctx, appId, oldName, newName, user); err != nil {
		return err
	}
	m.finishMutation(ctx, appId, oldName, newName)
	return nil
}

// Search returns the latest revisions matching the patterns, filtered down to
// the cubes the acting user may read.
func (m *Manager) Search(ctx context.Context, appId cuberepo.AppId, namePattern, contentPattern string, opts cuberepo.SearchOptions) ([]cuberepo.CubeInfo, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	infos, err := m.persister.Search(ctx, appId, namePattern, contentPattern, opts)
	if err != nil {
		return nil, err
	}
	fast, err := m.newFastChecker(ctx, appId, ActionRead)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, ci := range infos {
		if fast.allowed(ci.Name) {
			out = append(out, ci)
		}
	}
	return out, nil
}

// SearchWithFilter runs Search and additionally keeps only results whose
// attribute map satisfies the CEL boolean expression. Available attributes:
// cube.name, cube.revision, cube.sha1, cube.changed, cube.changeType,
// cube.notes.
func (m *Manager) SearchWithFilter(ctx context.Context, appId cuberepo.AppId, namePattern, contentPattern string, opts cuberepo.SearchOptions, filterExpr string) ([]cuberepo.CubeInfo, error) {
	infos, err := m.Search(ctx, appId, namePattern, contentPattern, opts)
	if err != nil {
		return nil, err
	}
	if filterExpr == "" {
		return infos, nil
	}
	filter, err := cel.NewFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, ci := range infos {
		ok, err := filter.Matches(map[string]any{
			"name":       ci.Name,
			"revision":   ci.Revision,
			"sha1":       ci.Sha1,
			"changed":    ci.Changed,
			"changeType": string(ci.ChangeType),
			"notes":      ci.Notes,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ci)
		}
	}
	return out, nil
}

// GetRevisions returns the full revision history of a cube.
func (m *Manager) GetRevisions(ctx context.Context, appId cuberepo.AppId, name string) ([]cuberepo.CubeInfo, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	if err := validCubeName(name); err != nil {
		return nil, err
	}
	return m.persister.GetRevisions(ctx, appId, name)
}

// GetNotes returns the notes of a cube; a missing cube is an input error.
func (m *Manager) GetNotes(ctx context.Context, appId cuberepo.AppId, name string) (string, error) {
	if err := appId.Validate(); err != nil {
		return "", err
	}
	notes, ok, err := m.persister.GetNotes(ctx, appId, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", cuberepo.Errorf(cuberepo.InvalidInput, "cannot get notes, cube %s does not exist in %v", name, appId)
	}
	return notes, nil
}

// UpdateNotes replaces the notes of a cube.
func (m *Manager) UpdateNotes(ctx context.Context, appId cuberepo.AppId, name, notes string) error {
	_, err := m.beginMutation(ctx, appId, ActionUpdate, name)
	if err != nil {
		return err
	}
	if err := m.persister.UpdateNotes(ctx, appId, name, notes); err != nil {
		return err
	}
	m.finishMutation(ctx, appId, name)
	return nil
}

// GetTestData returns the test data of a cube; a missing cube is an input error.
func (m *Manager) GetTestData(ctx context.Context, appId cuberepo.AppId, name string) (string, error) {
	if err := appId.Validate(); err != nil {
		return "", err
	}
	data, ok, err := m.persister.GetTestData(ctx, appId, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", cuberepo.Errorf(cuberepo.InvalidInput, "cannot get test data, cube %s does not exist in %v", name, appId)
	}
	return data, nil
}

// UpdateTestData replaces the test data of a cube.
func (m *Manager) UpdateTestData(ctx context.Context, appId cuberepo.AppId, name, testData string) error {
	_, err := m.beginMutation(ctx, appId, ActionUpdate, name)
	if err != nil {
		return err
	}
	if err := m.persister.UpdateTestData(ctx, appId, name, testData); err != nil {
		return err
	}
	m.finishMutation(ctx, appId, name)
	return nil
}

// GetAppNames lists the applications of a tenant.
func (m *Manager) GetAppNames(ctx context.Context, tenant string) ([]string, error) {
	return m.persister.GetAppNames(ctx, tenant)
}

// GetVersions lists the versions of an application per status, ascending.
func (m *Manager) GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error) {
	versions, err := m.persister.GetVersions(ctx, tenant, app)
	if err != nil {
		return nil, err
	}
	for status := range versions {
		cuberepo.SortVersions(versions[status])
	}
	return versions, nil
}

// GetBranches lists the branches of an AppId's version.
func (m *Manager) GetBranches(ctx context.Context, appId cuberepo.AppId) ([]string, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	return m.persister.GetBranches(ctx, appId)
}

// AddAdvice binds an advice to the AppId under a '*'/'?' pattern matched
// against "cubeName.method()". Cached cubes are dropped so the next hydration
// picks the advice up.
func (m *Manager) AddAdvice(appId cuberepo.AppId, pattern string, advice cuberepo.Advice) {
	m.advices.Add(appId, pattern, advice)
	m.cubeCache.Clear(appId)
}

// AttachLoader registers a releasable classpath resource with the AppId's
// cache slice; ClearCache releases it.
func (m *Manager) AttachLoader(appId cuberepo.AppId, l cuberepo.Releaser) {
	m.cubeCache.AttachLoader(appId, l)
}

// ReferencedCubeNames returns the transitive closure of cube names referenced
// from the named cube. Traversal is iterative with a visited set, so cyclic
// reference graphs terminate.
func (m *Manager) ReferencedCubeNames(ctx context.Context, appId cuberepo.AppId, name string) ([]string, error) {
	root, err := m.GetCube(ctx, appId, name)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "cube %s does not exist in %v", name, appId)
	}
	visited := map[string]bool{strings.ToLower(name): true}
	found := map[string]string{}
	stack := root.ReferencedCubeNames()
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		lower := strings.ToLower(n)
		if _, ok := found[lower]; ok {
			continue
		}
		found[lower] = n
		if visited[lower] {
			continue
		}
		visited[lower] = true
		cube, err := m.GetCube(ctx, appId, n)
		if err != nil {
			return nil, err
		}
		if cube == nil {
			// Dangling reference: report the name, nothing to traverse.
			continue
		}
		stack = append(stack, cube.ReferencedCubeNames()...)
	}
	out := make([]string, 0, len(found))
	for _, n := range found {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// IsCached reports whether an actual cube instance is cached for (appId, name).
func (m *Manager) IsCached(appId cuberepo.AppId, name string) bool {
	return m.cubeCache.IsCached(appId, name)
}

// ClearCache evicts the AppId's cache slice, releasing any attached loaders.
func (m *Manager) ClearCache(appId cuberepo.AppId) {
	m.cubeCache.Clear(appId)
}

// ClearAllCaches evicts everything. Test-only.
func (m *Manager) ClearAllCaches() {
	m.cubeCache.ClearAll()
	m.knownApps.Range(func(k, _ any) bool {
		m.knownApps.Delete(k)
		return true
	})
}
