package cuberepo

import (
	"context"
)

// Cube is the named multi-dimensional decision table consumed by the engine.
// Its cell model, fingerprinting and axis semantics belong to the implementer.
type Cube interface {
	Name() string
	AppId() AppId
	SetAppId(AppId)
	// Sha1 returns the content fingerprint of the cube.
	Sha1() string
	// ClearSha1 drops the memoised fingerprint so it is recomputed on next use.
	ClearSha1()
	// MetaProperty returns a meta-property value and whether it is present.
	// The reserved property "cache" (boolean, default true) controls whether
	// the in-memory cache retains the cube.
	MetaProperty(name string) (any, bool)
	SetMetaProperty(name string, value any)
	// Axis returns the named axis and whether it exists.
	Axis(name string) (Axis, bool)
	// Cell resolves a coordinate map (axis name -> column value) to a cell
	// value. Unbound axes resolve to the axis default column when present.
	Cell(coords map[string]string) (any, bool)
	SetCell(value any, coords map[string]string)
	RemoveCell(coords map[string]string)
	// ReferencedCubeNames returns the names of cubes referenced by this cube's
	// cells and reference axes. Direct references only; the manager computes
	// the transitive closure.
	ReferencedCubeNames() []string
	// AddAdvice attaches an interceptor to the named method.
	AddAdvice(advice Advice, method string)
	// Duplicate deep-copies the cube under a new name, without advices.
	Duplicate(newName string) Cube
	ClearCells()
}

// Axis is a single dimension of a cube.
type Axis interface {
	Name() string
	Columns() []string
	HasDefault() bool
}

// Advice is a named interceptor bound to cubes by a name-pattern; the binding
// lives in the advice registry, application happens on cube hydration.
type Advice interface {
	Name() string
}

// CubeFactory constructs cubes from the simple-JSON format. The engine uses
// it to synthesise the administrative cubes of a newly detected application.
type CubeFactory interface {
	FromSimpleJSON(appId AppId, jsonText string) (Cube, error)
}

// SearchOptions narrows a persister search. The zero value returns every
// latest revision, tombstones included.
type SearchOptions struct {
	IncludeCubeData    bool
	IncludeTestData    bool
	IncludeNotes       bool
	DeletedRecordsOnly bool
	ActiveRecordsOnly  bool
	ChangedRecordsOnly bool
	ExactMatchName     bool
}

// Persister is the durable store of cube revisions, keyed by AppId and cube
// name. The implementer supplies it; all operations are synchronously
// blocking and linearise mutations within a single AppId.
type Persister interface {
	// LoadCube returns the live revision of a cube, or nil when the cube does
	// not exist or is tombstoned.
	LoadCube(ctx context.Context, appId AppId, name string) (Cube, error)
	LoadCubeByID(ctx context.Context, id string) (Cube, error)
	// LoadCubeBySha1 fetches a historical revision by fingerprint; it is the
	// three-way merge base fetch.
	LoadCubeBySha1(ctx context.Context, appId AppId, name, sha1 string) (Cube, error)

	Search(ctx context.Context, appId AppId, namePattern, contentPattern string, options SearchOptions) ([]CubeInfo, error)
	GetRevisions(ctx context.Context, appId AppId, name string) ([]CubeInfo, error)

	UpdateCube(ctx context.Context, appId AppId, cube Cube, user string) error
	DuplicateCube(ctx context.Context, src AppId, srcName string, dst AppId, dstName, user string) error
	RenameCube(ctx context.Context, appId AppId, oldName, newName, user string) error
	DeleteCubes(ctx context.Context, appId AppId, names []string, allowHard bool, user string) error
	RestoreCubes(ctx context.Context, appId AppId, names []string, user string) error
	RollbackCubes(ctx context.Context, appId AppId, names []string, user string) error

	CommitCubes(ctx context.Context, appId AppId, ids []string, user string) ([]CubeInfo, error)
	CommitMergedCubeToHead(ctx context.Context, appId AppId, cube Cube, user string) (CubeInfo, error)
	CommitMergedCubeToBranch(ctx context.Context, appId AppId, cube Cube, baseSha1, user string) (CubeInfo, error)
	PullToBranch(ctx context.Context, appId AppId, ids []string, user string) ([]CubeInfo, error)
	UpdateBranchCubeHeadSha1(ctx context.Context, id, sha1 string) error

	CopyBranch(ctx context.Context, src, dst AppId) (int, error)
	MoveBranch(ctx context.Context, appId AppId, newVersion string) (int, error)
	ReleaseCubes(ctx context.Context, appId AppId, newSnapVersion string) (int, error)

	MergeAcceptMine(ctx context.Context, appId AppId, name, user string) error
	MergeAcceptTheirs(ctx context.Context, appId AppId, name, sha1, user string) error

	GetAppNames(ctx context.Context, tenant string) ([]string, error)
	GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error)
	GetBranches(ctx context.Context, appId AppId) ([]string, error)
	DeleteBranch(ctx context.Context, appId AppId) error

	UpdateTestData(ctx context.Context, appId AppId, name, testData string) error
	GetTestData(ctx context.Context, appId AppId, name string) (string, bool, error)
	UpdateNotes(ctx context.Context, appId AppId, name, notes string) error
	GetNotes(ctx context.Context, appId AppId, name string) (string, bool, error)
}

// Delta is one element of a cube-to-cube difference.
type Delta interface {
	Description() string
}

// DeltaProcessor computes and applies cube deltas; the three-way merge
// delegates compatibility and merging to it.
type DeltaProcessor interface {
	// GetDelta computes the changes that turn base into target.
	GetDelta(base, target Cube) []Delta
	// AreDeltaSetsCompatible reports whether two delta sets are disjoint on
	// every element they modify.
	AreDeltaSetsCompatible(a, b []Delta, reverse bool) bool
	// MergeDeltaSet applies deltas to target, in place.
	MergeDeltaSet(target Cube, deltas []Delta)
	// GetDeltaDescription returns a human-readable difference of two cubes;
	// empty means effectively identical.
	GetDeltaDescription(a, b Cube) []Delta
}

// Broadcaster fans out structural-change notifications to peers.
// Fire-and-forget; the wire form is unspecified at this layer.
type Broadcaster interface {
	Broadcast(ctx context.Context, appId AppId)
}

// Releaser is implemented by resources attached to the cube cache (resource
// URL loaders, compiled-code caches) that must be released when the owning
// AppId cache is cleared.
type Releaser interface {
	Release()
}
