package manager

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sharedcode/cuberepo"
	"github.com/sharedcode/cuberepo/mocks"
)

var (
	head     = cuberepo.NewAppId("acme", "billing", "1.0.0", cuberepo.StatusSnapshot, cuberepo.HeadBranch)
	adminCtx = cuberepo.WithUser(context.Background(), "alice")
	userCtx  = cuberepo.WithUser(context.Background(), "bob")
)

func newTestManager(t *testing.T) (*Manager, *mocks.Persister, *mocks.Broadcaster) {
	t.Helper()
	p := mocks.NewPersister()
	b := mocks.NewBroadcaster()
	m, err := New(p, mocks.DeltaProcessor{}, mocks.CubeFactory{}, b, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m, p, b
}

func mustUpdate(t *testing.T, m *Manager, ctx context.Context, appId cuberepo.AppId, cube cuberepo.Cube) {
	t.Helper()
	if err := m.UpdateCube(ctx, appId, cube); err != nil {
		t.Fatalf("UpdateCube(%s) failed: %v", cube.Name(), err)
	}
}

func mustGet(t *testing.T, m *Manager, ctx context.Context, appId cuberepo.AppId, name string) cuberepo.Cube {
	t.Helper()
	cube, err := m.GetCube(ctx, appId, name)
	if err != nil {
		t.Fatalf("GetCube(%s) failed: %v", name, err)
	}
	if cube == nil {
		t.Fatalf("GetCube(%s) returned nil in %v", name, appId)
	}
	return cube
}

func cellOf(t *testing.T, cube cuberepo.Cube, coords map[string]string) any {
	t.Helper()
	v, ok := cube.Cell(coords)
	if !ok {
		t.Fatalf("cube %s has no cell at %v", cube.Name(), coords)
	}
	return v
}

func newRatesCube(appId cuberepo.AppId) *mocks.Cube {
	cube := mocks.NewCube("rates", appId, mocks.NewAxis("state", false, "tx", "oh", "ca"))
	cube.SetCell(1, map[string]string{"state": "tx"})
	return cube
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	if _, err := New(nil, mocks.DeltaProcessor{}, mocks.CubeFactory{}, nil, Options{}); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("expected InvalidState for nil persister, got %v", err)
	}
	if _, err := New(mocks.NewPersister(), nil, mocks.CubeFactory{}, nil, Options{}); !cuberepo.HasCode(err, cuberepo.InvalidState) {
		t.Errorf("expected InvalidState for nil delta processor, got %v", err)
	}
}

func TestUpdateAndGetCubeRoundTrip(t *testing.T) {
	m, _, b := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))

	got := mustGet(t, m, adminCtx, head, "rates")
	if v := cellOf(t, got, map[string]string{"state": "tx"}); v != 1 {
		t.Errorf("cell tx got %v, want 1", v)
	}
	if !got.AppId().Equals(head) {
		t.Errorf("hydrated cube carries %v, want %v", got.AppId(), head)
	}
	found := false
	for _, a := range b.Sent() {
		if a.Equals(head) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a broadcast for %v, got %v", head, b.Sent())
	}
}

func TestUpdateCubeIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)
	cube := newRatesCube(head)
	mustUpdate(t, m, adminCtx, head, cube)
	mustUpdate(t, m, adminCtx, head, cube)

	revs, err := m.GetRevisions(adminCtx, head, "rates")
	if err != nil {
		t.Fatalf("GetRevisions failed: %v", err)
	}
	if len(revs) != 1 {
		t.Errorf("unchanged content must not add revisions, got %d", len(revs))
	}
}

func TestMissingCubeIsCachedAsNotFound(t *testing.T) {
	m, p, _ := newTestManager(t)
	before := p.CallCount("LoadCube")
	for i := 0; i < 3; i++ {
		cube, err := m.GetCube(adminCtx, head, "missing")
		if err != nil {
			t.Fatalf("GetCube failed: %v", err)
		}
		if cube != nil {
			t.Fatalf("expected nil for a missing cube")
		}
	}
	if got := p.CallCount("LoadCube") - before; got != 1 {
		t.Errorf("expected 1 persister load, got %d", got)
	}
}

func TestUncachedCubeAlwaysLoads(t *testing.T) {
	m, p, _ := newTestManager(t)
	cube := mocks.NewCube("live.feed", head)
	cube.SetMetaProperty("cache", false)
	mustUpdate(t, m, adminCtx, head, cube)

	before := p.CallCount("LoadCube")
	mustGet(t, m, adminCtx, head, "live.feed")
	mustGet(t, m, adminCtx, head, "live.feed")
	if got := p.CallCount("LoadCube") - before; got != 2 {
		t.Errorf("a cache=false cube must load every time, got %d loads", got)
	}
	if m.IsCached(head, "live.feed") {
		t.Errorf("a cache=false cube must never be cached")
	}
}

func TestMutatingReleaseIsRejected(t *testing.T) {
	m, p, _ := newTestManager(t)
	release := head.AsRelease()
	before := p.CallCount("UpdateCube")
	err := m.UpdateCube(adminCtx, release, newRatesCube(release))
	if !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
	if p.CallCount("UpdateCube") != before {
		t.Errorf("a rejected mutation must not reach the persister")
	}
}

func TestDeleteCubes(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	if err := m.DeleteCubes(adminCtx, head, []string{"rates"}); err != nil {
		t.Fatalf("DeleteCubes failed: %v", err)
	}
	cube, err := m.GetCube(adminCtx, head, "rates")
	if err != nil {
		t.Fatalf("GetCube failed: %v", err)
	}
	if cube != nil {
		t.Errorf("expected nil after delete")
	}
	if err := m.DeleteCubes(adminCtx, head, nil); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("expected InvalidInput for an empty batch, got %v", err)
	}
}

func TestRenameCubeInvalidatesBothNames(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	mustGet(t, m, adminCtx, head, "rates")

	if err := m.RenameCube(adminCtx, head, "rates", "tariffs"); err != nil {
		t.Fatalf("RenameCube failed: %v", err)
	}
	old, err := m.GetCube(adminCtx, head, "rates")
	if err != nil {
		t.Fatalf("GetCube failed: %v", err)
	}
	if old != nil {
		t.Errorf("old name should be gone")
	}
	mustGet(t, m, adminCtx, head, "tariffs")

	if err := m.RenameCube(adminCtx, head, "tariffs", "TARIFFS"); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("case-only rename should be rejected, got %v", err)
	}
}

func TestDuplicateCubeAcrossApps(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	other := cuberepo.NewAppId("acme", "claims", "1.0.0", cuberepo.StatusSnapshot, cuberepo.HeadBranch)

	if err := m.DuplicateCube(adminCtx, head, "rates", other, "rates"); err != nil {
		t.Fatalf("DuplicateCube failed: %v", err)
	}
	got := mustGet(t, m, adminCtx, other, "rates")
	if v := cellOf(t, got, map[string]string{"state": "tx"}); v != 1 {
		t.Errorf("duplicated cell got %v, want 1", v)
	}

	if err := m.DuplicateCube(adminCtx, head, "rates", head, "rates"); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("self-duplicate should be rejected, got %v", err)
	}
}

func TestSearchWithFilter(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	fees := mocks.NewCube("fees", head)
	fees.SetCell("flat", map[string]string{})
	mustUpdate(t, m, adminCtx, head, fees)

	infos, err := m.SearchWithFilter(adminCtx, head, "", "", cuberepo.SearchOptions{}, `cube.name.startsWith("rate")`)
	if err != nil {
		t.Fatalf("SearchWithFilter failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "rates" {
		t.Errorf("expected only rates, got %v", infos)
	}

	if _, err := m.SearchWithFilter(adminCtx, head, "", "", cuberepo.SearchOptions{}, `cube.name +`); err == nil {
		t.Errorf("expected a compile error for a malformed expression")
	}
}

func TestNotesAndTestData(t *testing.T) {
	m, _, b := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	b.Reset()

	if err := m.UpdateNotes(adminCtx, head, "rates", "commercial auto rates"); err != nil {
		t.Fatalf("UpdateNotes failed: %v", err)
	}
	if got := len(b.Sent()); got != 1 {
		t.Errorf("UpdateNotes must broadcast like any other mutation, got %d", got)
	}
	notes, err := m.GetNotes(adminCtx, head, "rates")
	if err != nil {
		t.Fatalf("GetNotes failed: %v", err)
	}
	if notes != "commercial auto rates" {
		t.Errorf("notes got %q", notes)
	}
	if _, err := m.GetNotes(adminCtx, head, "missing"); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("notes of a missing cube should be an input error, got %v", err)
	}

	b.Reset()
	if err := m.UpdateTestData(adminCtx, head, "rates", `{"state":"tx"}`); err != nil {
		t.Fatalf("UpdateTestData failed: %v", err)
	}
	if got := len(b.Sent()); got != 1 {
		t.Errorf("UpdateTestData must broadcast like any other mutation, got %d", got)
	}
	data, err := m.GetTestData(adminCtx, head, "rates")
	if err != nil {
		t.Fatalf("GetTestData failed: %v", err)
	}
	if data != `{"state":"tx"}` {
		t.Errorf("test data got %q", data)
	}
}

func TestGetVersionsSorted(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	v10 := head.AsVersion("1.0.10")
	mustUpdate(t, m, adminCtx, v10, newRatesCube(v10))
	v2 := head.AsVersion("1.0.2")
	mustUpdate(t, m, adminCtx, v2, newRatesCube(v2))

	versions, err := m.GetVersions(adminCtx, "acme", "billing")
	if err != nil {
		t.Fatalf("GetVersions failed: %v", err)
	}
	want := []string{cuberepo.BootVersion, "1.0.0", "1.0.2", "1.0.10"}
	if diff := cmp.Diff(want, versions[cuberepo.StatusSnapshot]); diff != "" {
		t.Errorf("snapshot versions mismatch (-want +got):\n%s", diff)
	}
}

func TestReferencedCubeNamesClosure(t *testing.T) {
	m, _, _ := newTestManager(t)
	a := mocks.NewCube("a", head)
	a.SetReferencedCubeNames("b", "ghost")
	b := mocks.NewCube("b", head)
	b.SetReferencedCubeNames("c")
	c := mocks.NewCube("c", head)
	c.SetReferencedCubeNames("a") // cycle back to the root
	for _, cube := range []*mocks.Cube{a, b, c} {
		mustUpdate(t, m, adminCtx, head, cube)
	}

	names, err := m.ReferencedCubeNames(adminCtx, head, "a")
	if err != nil {
		t.Fatalf("ReferencedCubeNames failed: %v", err)
	}
	want := []string{"a", "b", "c", "ghost"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.ReferencedCubeNames(adminCtx, head, "ghost"); !cuberepo.HasCode(err, cuberepo.InvalidInput) {
		t.Errorf("a missing root should be an input error, got %v", err)
	}
}

func TestAddAdviceAppliesOnHydration(t *testing.T) {
	m, _, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	mustGet(t, m, adminCtx, head, "rates")

	m.AddAdvice(head, "rates.*()", mocks.NewAdvice("audit"))
	got := mustGet(t, m, adminCtx, head, "rates").(*mocks.Cube)
	if len(got.Advices()) != 1 {
		t.Errorf("expected the advice after re-hydration, got %d", len(got.Advices()))
	}
}

func TestClearCacheReleasesLoaders(t *testing.T) {
	m, p, _ := newTestManager(t)
	mustUpdate(t, m, adminCtx, head, newRatesCube(head))
	mustGet(t, m, adminCtx, head, "rates")
	if !m.IsCached(head, "rates") {
		t.Fatalf("expected rates to be cached")
	}
	m.ClearCache(head)
	if m.IsCached(head, "rates") {
		t.Errorf("expected the cache slice to be gone")
	}
	before := p.CallCount("LoadCube")
	mustGet(t, m, adminCtx, head, "rates")
	if got := p.CallCount("LoadCube") - before; got != 1 {
		t.Errorf("expected a reload after clear, got %d", got)
	}
}
