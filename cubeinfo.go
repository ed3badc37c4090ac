package cuberepo

// ChangeType classifies a branch cube against its HEAD counterpart.
type ChangeType string

const (
	Created  ChangeType = "CREATED"
	Updated  ChangeType = "UPDATED"
	Deleted  ChangeType = "DELETED"
	Restored ChangeType = "RESTORED"
	Conflict ChangeType = "CONFLICT"
)

// CubeInfo is the per-revision descriptor returned by persister searches.
type CubeInfo struct {
	// ID is the opaque persister identifier of this revision.
	ID string `json:"id"`
	// Name of the cube.
	Name string `json:"name"`
	// Revision is signed; a negative revision is a tombstone.
	Revision int64 `json:"revision"`
	// Sha1 is the content fingerprint of this revision.
	Sha1 string `json:"sha1"`
	// HeadSha1 is the fingerprint of the head revision this branch cube was
	// forked or last synced from. Empty means a never-merged new cube.
	HeadSha1 string `json:"headSha1,omitempty"`
	// Changed marks a branch revision that diverged from its head fork point.
	Changed  bool   `json:"changed"`
	Notes    string `json:"notes,omitempty"`
	TestData string `json:"testData,omitempty"`
	AppId    AppId  `json:"appId"`
	// ChangeType is assigned by the branch diff, not by the persister.
	ChangeType ChangeType `json:"changeType,omitempty"`
}

// IsTombstone reports whether the revision represents a deletion.
func (ci CubeInfo) IsTombstone() bool {
	return ci.Revision < 0
}
