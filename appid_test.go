package cuberepo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppIdCacheKeys(t *testing.T) {
	a := NewAppId("Acme", "Billing", "1.0.0", StatusSnapshot, "FeatureX")
	if got := a.CacheKey(); got != "acme/billing/1.0.0/snapshot/featurex" {
		t.Errorf("CacheKey got %s", got)
	}
	if got := a.BranchAgnosticCacheKey(); got != "acme/billing/1.0.0/snapshot" {
		t.Errorf("BranchAgnosticCacheKey got %s", got)
	}
}

func TestAppIdEqualsIgnoresCase(t *testing.T) {
	a := NewAppId("acme", "billing", "1.0.0", "snapshot", "head")
	b := NewAppId("ACME", "Billing", "1.0.0", StatusSnapshot, HeadBranch)
	if !a.Equals(b) {
		t.Errorf("%v and %v should be equal", a, b)
	}
	if a.Equals(b.AsBranch("dev")) {
		t.Errorf("different branches should not be equal")
	}
}

func TestAppIdDerivations(t *testing.T) {
	a := NewAppId("acme", "billing", "1.4.0", StatusSnapshot, "dev1")
	boot := a.AsBootVersion()
	want := NewAppId("acme", "billing", BootVersion, StatusSnapshot, HeadBranch)
	if diff := cmp.Diff(want, boot); diff != "" {
		t.Errorf("AsBootVersion mismatch (-want +got):\n%s", diff)
	}
	if !a.AsHead().IsHead() {
		t.Errorf("AsHead should be HEAD")
	}
	if !a.AsRelease().IsRelease() {
		t.Errorf("AsRelease should be RELEASE")
	}
	// Derivations never mutate the receiver.
	if a.Branch != "dev1" || a.Version != "1.4.0" {
		t.Errorf("receiver was mutated: %v", a)
	}
}

func TestAppIdValidate(t *testing.T) {
	good := NewAppId("acme", "billing", "1.0.0", StatusSnapshot, HeadBranch)
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	cases := []AppId{
		NewAppId("", "billing", "1.0.0", StatusSnapshot, HeadBranch),
		NewAppId("acme", "", "1.0.0", StatusSnapshot, HeadBranch),
		NewAppId("acme", "billing", "", StatusSnapshot, HeadBranch),
		NewAppId("acme", "billing", "1.0.0", StatusSnapshot, ""),
		NewAppId("acme", "billing", "1.0.0", "FROZEN", HeadBranch),
		NewAppId("acme", "billing", "1.0.x", StatusSnapshot, HeadBranch),
	}
	for _, a := range cases {
		if err := a.Validate(); !HasCode(err, InvalidInput) {
			t.Errorf("%v: expected InvalidInput, got %v", a, err)
		}
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.10", "1.0.9", 1},
		{"2.0.0", "1.99.99", 1},
		{"1.2.3.4", "1.2.3.10", -1},
		{"1.2.3", "1.2.3.1", -1},
	}
	for _, c := range cases {
		if got := CompareVersions(c.a, c.b); got != c.want {
			t.Errorf("CompareVersions(%s, %s) got %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSortVersions(t *testing.T) {
	versions := []string{"1.0.10", "0.0.0", "1.0.2", "2.0.0", "1.0.0"}
	SortVersions(versions)
	want := []string{"0.0.0", "1.0.0", "1.0.2", "1.0.10", "2.0.0"}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Errorf("SortVersions mismatch (-want +got):\n%s", diff)
	}
}
