package cache

import (
	"testing"

	"github.com/sharedcode/cuberepo"
	"github.com/sharedcode/cuberepo/mocks"
)

var appId = cuberepo.NewAppId("acme", "billing", "1.0.0", cuberepo.StatusSnapshot, cuberepo.HeadBranch)

func TestGetDistinguishesMissFromNotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(appId, "rates"); ok {
		t.Fatalf("expected a cold miss")
	}
	r.PutNotFound(appId, "rates")
	e, ok := r.Get(appId, "rates")
	if !ok {
		t.Fatalf("expected the sentinel to be present")
	}
	if e != NotFound {
		t.Errorf("expected the NotFound sentinel, got %T", e)
	}
	if r.IsCached(appId, "rates") {
		t.Errorf("the sentinel must not count as a cached cube")
	}
}

func TestPutAndRemoveAreCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Put(appId, mocks.NewCube("Rates", appId))
	if e, ok := r.Get(appId, "RATES"); !ok || e == NotFound {
		t.Fatalf("expected the cube under a differently-cased name")
	}
	r.Remove(appId, "rates")
	if _, ok := r.Get(appId, "Rates"); ok {
		t.Errorf("expected the entry to be evicted")
	}
}

func TestPutHonorsCacheMetaProperty(t *testing.T) {
	r := NewRegistry()
	cube := mocks.NewCube("sys.lock", appId)
	cube.SetMetaProperty("cache", false)
	r.Put(appId, cube)
	if _, ok := r.Get(appId, "sys.lock"); ok {
		t.Errorf("a cache=false cube must never be cached")
	}
	cube.SetMetaProperty("cache", "false")
	r.Put(appId, cube)
	if _, ok := r.Get(appId, "sys.lock"); ok {
		t.Errorf("the string form of cache=false must be honored too")
	}
}

type releaser struct {
	released int
}

func (r *releaser) Release() { r.released++ }

func TestClearReleasesAttachedLoaders(t *testing.T) {
	r := NewRegistry()
	r.Put(appId, mocks.NewCube("rates", appId))
	rel := &releaser{}
	r.AttachLoader(appId, rel)
	r.Clear(appId)
	if rel.released != 1 {
		t.Errorf("expected 1 release, got %d", rel.released)
	}
	if _, ok := r.Get(appId, "rates"); ok {
		t.Errorf("expected the entry to be gone")
	}
	// A second clear must not release again.
	r.Clear(appId)
	if rel.released != 1 {
		t.Errorf("loader released twice")
	}
}

func TestClearBranchesSparesOtherVersions(t *testing.T) {
	r := NewRegistry()
	dev := appId.AsBranch("dev1")
	otherVersion := appId.AsVersion("2.0.0")
	r.Put(appId, mocks.NewCube("rates", appId))
	r.Put(dev, mocks.NewCube("rates", dev))
	r.Put(otherVersion, mocks.NewCube("rates", otherVersion))

	r.ClearBranches(appId)
	if _, ok := r.Get(appId, "rates"); ok {
		t.Errorf("HEAD of the version should be cleared")
	}
	if _, ok := r.Get(dev, "rates"); ok {
		t.Errorf("branches of the version should be cleared")
	}
	if _, ok := r.Get(otherVersion, "rates"); !ok {
		t.Errorf("other versions must survive")
	}
}

func TestClearAll(t *testing.T) {
	r := NewRegistry()
	dev := appId.AsBranch("dev1")
	r.Put(appId, mocks.NewCube("rates", appId))
	r.PutNotFound(dev, "missing")
	r.ClearAll()
	if names := r.CachedNames(appId); len(names) != 0 {
		t.Errorf("expected nothing cached, got %v", names)
	}
	if _, ok := r.Get(dev, "missing"); ok {
		t.Errorf("expected the sentinel to be gone")
	}
}
