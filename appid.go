package cuberepo

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// StatusSnapshot marks a mutable version.
	StatusSnapshot = "SNAPSHOT"
	// StatusRelease marks a frozen version.
	StatusRelease = "RELEASE"
	// HeadBranch is the reserved branch name of the shared mainline.
	HeadBranch = "HEAD"
	// BootVersion is reserved for system-configuration cubes.
	BootVersion = "0.0.0"
)

var versionPattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// AppId is the immutable 5-tuple addressing a workspace:
// (tenant, app, version, status, branch). Equality is by all five fields,
// case-insensitively on the string parts.
type AppId struct {
	Tenant  string `json:"tenant"`
	App     string `json:"app"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Branch  string `json:"branch"`
}

// NewAppId builds an AppId. It performs no validation; see Validate.
func NewAppId(tenant, app, version, status, branch string) AppId {
	return AppId{Tenant: tenant, App: app, Version: version, Status: status, Branch: branch}
}

// AsHead returns the same coordinate on the HEAD branch.
func (a AppId) AsHead() AppId {
	a.Branch = HeadBranch
	return a
}

// AsRelease returns the same coordinate with RELEASE status.
func (a AppId) AsRelease() AppId {
	a.Status = StatusRelease
	return a
}

// AsSnapshot returns the same coordinate with SNAPSHOT status.
func (a AppId) AsSnapshot() AppId {
	a.Status = StatusSnapshot
	return a
}

// AsVersion returns the same coordinate at a different version.
func (a AppId) AsVersion(version string) AppId {
	a.Version = version
	return a
}

// AsBranch returns the same coordinate on a different branch.
func (a AppId) AsBranch(branch string) AppId {
	a.Branch = branch
	return a
}

// AsBootVersion returns the boot AppId (tenant, app, 0.0.0, SNAPSHOT, HEAD) —
// the address of the administrative cubes.
func (a AppId) AsBootVersion() AppId {
	a.Version = BootVersion
	a.Status = StatusSnapshot
	a.Branch = HeadBranch
	return a
}

// CacheKey returns the full-tuple cache key, lowercased.
func (a AppId) CacheKey() string {
	return strings.ToLower(a.Tenant + "/" + a.App + "/" + a.Version + "/" + a.Status + "/" + a.Branch)
}

// BranchAgnosticCacheKey returns the tuple-minus-branch cache key, lowercased.
func (a AppId) BranchAgnosticCacheKey() string {
	return strings.ToLower(a.Tenant + "/" + a.App + "/" + a.Version + "/" + a.Status)
}

func (a AppId) String() string {
	return a.Tenant + "/" + a.App + "/" + a.Version + "-" + a.Status + "/" + a.Branch
}

// Equals compares all five fields case-insensitively.
func (a AppId) Equals(o AppId) bool {
	return strings.EqualFold(a.Tenant, o.Tenant) &&
		strings.EqualFold(a.App, o.App) &&
		strings.EqualFold(a.Version, o.Version) &&
		strings.EqualFold(a.Status, o.Status) &&
		strings.EqualFold(a.Branch, o.Branch)
}

// IsHead reports whether the AppId addresses the shared mainline branch.
func (a AppId) IsHead() bool {
	return strings.EqualFold(a.Branch, HeadBranch)
}

// IsRelease reports whether the AppId addresses a frozen version.
func (a AppId) IsRelease() bool {
	return strings.EqualFold(a.Status, StatusRelease)
}

// IsSnapshot reports whether the AppId addresses a mutable version.
func (a AppId) IsSnapshot() bool {
	return strings.EqualFold(a.Status, StatusSnapshot)
}

// IsBootVersion reports whether the version is the reserved 0.0.0.
func (a AppId) IsBootVersion() bool {
	return a.Version == BootVersion
}

// Validate checks the tuple: no empty parts, a known status and a
// dotted-numeric version.
func (a AppId) Validate() error {
	if a.Tenant == "" || a.App == "" || a.Version == "" || a.Branch == "" {
		return Errorf(InvalidInput, "invalid AppId, empty part(s): %v", a)
	}
	if !a.IsSnapshot() && !a.IsRelease() {
		return Errorf(InvalidInput, "invalid AppId status %q, expecting %s or %s", a.Status, StatusSnapshot, StatusRelease)
	}
	return ValidateVersion(a.Version)
}

// ValidateVersion checks that v is a dotted-numeric version string.
func ValidateVersion(v string) error {
	if !versionPattern.MatchString(v) {
		return Errorf(InvalidInput, "invalid version %q, expecting dotted-numeric", v)
	}
	return nil
}

// CompareVersions orders two dotted-numeric version strings. Semver ordering
// is used when both sides parse as semver; N-part versions beyond semver's
// reach fall back to segment-wise numeric comparison.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SortVersions sorts version strings ascending, in place.
func SortVersions(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}
