package manager

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/sharedcode/cuberepo"
)

// The branch engine implements a three-way merge between a branch view of a
// cube and its head view. The common ancestor is the head revision whose sha1
// equals the branch cube's headSha1.

// BranchChanges classifies every changed cube of the branch against the head.
// The returned CubeInfos carry the assigned ChangeType; an out-of-sync fork
// point classifies as Conflict until resolved by commit, update or an accept.
func (m *Manager) BranchChanges(ctx context.Context, appId cuberepo.AppId) ([]cuberepo.CubeInfo, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	if appId.IsHead() {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "%s has no changes relative to itself", cuberepo.HeadBranch)
	}
	if err := assertNotRelease(appId); err != nil {
		return nil, err
	}
	branchInfos, err := m.persister.Search(ctx, appId, "", "", cuberepo.SearchOptions{ChangedRecordsOnly: true})
	if err != nil {
		return nil, err
	}
	headIdx, err := m.searchIndex(ctx, appId.AsHead(), "")
	if err != nil {
		return nil, err
	}
	var out []cuberepo.CubeInfo
	for _, bi := range branchInfos {
		head, ok := headIdx[strings.ToLower(bi.Name)]
		var hp *cuberepo.CubeInfo
		if ok {
			hp = &head
		}
		ct, relevant := classifyAgainstHead(bi, hp)
		if !relevant {
			continue
		}
		bi.ChangeType = ct
		out = append(out, bi)
	}
	return out, nil
}

// searchIndex returns the latest revision of every cube of appId, keyed by
// lowercased name. name narrows to a single cube when non-empty.
func (m *Manager) searchIndex(ctx context.Context, appId cuberepo.AppId, name string) (map[string]cuberepo.CubeInfo, error) {
	infos, err := m.persister.Search(ctx, appId, name, "", cuberepo.SearchOptions{ExactMatchName: name != ""})
	if err != nil {
		return nil, err
	}
	idx := make(map[string]cuberepo.CubeInfo, len(infos))
	for _, ci := range infos {
		idx[strings.ToLower(ci.Name)] = ci
	}
	return idx, nil
}

// classifyAgainstHead assigns the change type of one branch revision relative
// to its head counterpart. The second return is false when nothing needs to
// travel to head.
func classifyAgainstHead(branch cuberepo.CubeInfo, head *cuberepo.CubeInfo) (cuberepo.ChangeType, bool) {
	if head == nil {
		if branch.IsTombstone() {
			// Created and deleted within the branch, head never saw it.
			return "", false
		}
		return cuberepo.Created, true
	}
	if branch.HeadSha1 == "" {
		// Same name created independently in head.
		return cuberepo.Conflict, true
	}
	if branch.HeadSha1 != head.Sha1 {
		return cuberepo.Conflict, true
	}
	if branch.Sha1 == head.Sha1 {
		if branch.IsTombstone() == head.IsTombstone() {
			return "", false
		}
		if branch.IsTombstone() {
			return cuberepo.Deleted, true
		}
		return cuberepo.Restored, true
	}
	return cuberepo.Updated, true
}

// CommitBranch pushes the branch's changed cubes onto the head. Non-conflicted
// cubes commit in bulk; conflicted ones go through the three-way merge. Cubes
// that survive as conflicts are reported in a MergeError, but everything else
// is committed and durable by then; the caller retries only the reported set.
func (m *Manager) CommitBranch(ctx context.Context, appId cuberepo.AppId) ([]cuberepo.CubeInfo, error) {
	changes, err := m.BranchChanges(ctx, appId)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(changes))
	for _, ch := range changes {
		names = append(names, ch.Name)
	}
	user, err := m.beginMutation(ctx, appId, ActionCommit, names...)
	if err != nil {
		return nil, err
	}
	headIdx, err := m.searchIndex(ctx, appId.AsHead(), "")
	if err != nil {
		return nil, err
	}
	var ids []string
	types := map[string]cuberepo.ChangeType{}
	conflicts := map[string]cuberepo.MergeConflictInfo{}
	var committed []cuberepo.CubeInfo
	for _, ch := range changes {
		if ch.ChangeType != cuberepo.Conflict {
			ids = append(ids, ch.ID)
			types[strings.ToLower(ch.Name)] = ch.ChangeType
			continue
		}
		if head, ok := headIdx[strings.ToLower(ch.Name)]; ok &&
			ch.Sha1 == head.Sha1 && ch.IsTombstone() == head.IsTombstone() {
			// The branch reproduced the head content independently; adopt the
			// head revision as the fork point, nothing travels.
			if err := m.persister.UpdateBranchCubeHeadSha1(ctx, ch.ID, head.Sha1); err != nil {
				return committed, err
			}
			continue
		}
		merged, conflict, err := m.attemptMerge(ctx, appId, appId.AsHead(), ch.Name, ch.HeadSha1, false)
		if err != nil {
			return committed, err
		}
		if conflict != nil {
			conflicts[ch.Name] = *conflict
			continue
		}
		info, err := m.persister.CommitMergedCubeToHead(ctx, appId, merged, user)
		if err != nil {
			return committed, err
		}
		info.ChangeType = cuberepo.Updated
		committed = append(committed, info)
	}
	if len(ids) > 0 {
		infos, err := m.persister.CommitCubes(ctx, appId, ids, user)
		if err != nil {
			return committed, err
		}
		for _, ci := range infos {
			ci.ChangeType = types[strings.ToLower(ci.Name)]
			committed = append(committed, ci)
		}
	}
	m.cubeCache.Clear(appId)
	m.cubeCache.Clear(appId.AsHead())
	m.broadcast(ctx, appId)
	m.broadcast(ctx, appId.AsHead())
	log.Debug("committed branch", "app", appId.String(), "cubes", len(committed), "conflicts", len(conflicts), "user", user)
	if len(conflicts) > 0 {
		return committed, cuberepo.MergeError{Errors: conflicts}
	}
	return committed, nil
}

// UpdateBranch pulls head changes into the branch, three-way merging where
// both sides diverged.
func (m *Manager) UpdateBranch(ctx context.Context, appId cuberepo.AppId) ([]cuberepo.CubeInfo, error) {
	return m.updateBranchFrom(ctx, appId, appId.AsHead(), "")
}

// UpdateBranchCube runs the update-branch algorithm for a single cube against
// an arbitrary source branch, not just HEAD.
func (m *Manager) UpdateBranchCube(ctx context.Context, appId cuberepo.AppId, name, otherBranch string) ([]cuberepo.CubeInfo, error) {
	if err := validCubeName(name); err != nil {
		return nil, err
	}
	if otherBranch == "" {
		otherBranch = cuberepo.HeadBranch
	}
	return m.updateBranchFrom(ctx, appId, appId.AsBranch(otherBranch), name)
}

type fastForward struct {
	id   string
	sha1 string
}

type mergePlan struct {
	branch cuberepo.CubeInfo
	other  cuberepo.CubeInfo
}

func (m *Manager) updateBranchFrom(ctx context.Context, appId, other cuberepo.AppId, only string) ([]cuberepo.CubeInfo, error) {
	if err := appId.Validate(); err != nil {
		return nil, err
	}
	if appId.IsHead() {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "cannot update %s from a branch", cuberepo.HeadBranch)
	}
	if err := assertNotRelease(appId); err != nil {
		return nil, err
	}
	if appId.Equals(other) {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "cannot update branch %v from itself", appId)
	}
	branchIdx, err := m.searchIndex(ctx, appId, only)
	if err != nil {
		return nil, err
	}
	otherInfos, err := m.persister.Search(ctx, other, only, "", cuberepo.SearchOptions{ExactMatchName: only != ""})
	if err != nil {
		return nil, err
	}
	var (
		pullIDs []string
		ffs     []fastForward
		merges  []mergePlan
		touched []string
	)
	for _, oi := range otherInfos {
		bi, ok := branchIdx[strings.ToLower(oi.Name)]
		if !ok {
			if !oi.IsTombstone() {
				pullIDs = append(pullIDs, oi.ID)
				touched = append(touched, oi.Name)
			}
			continue
		}
		if !bi.Changed {
			if bi.Sha1 != oi.Sha1 || bi.IsTombstone() != oi.IsTombstone() {
				pullIDs = append(pullIDs, oi.ID)
				touched = append(touched, oi.Name)
			} else if bi.HeadSha1 != oi.Sha1 {
				ffs = append(ffs, fastForward{id: bi.ID, sha1: oi.Sha1})
			}
			continue
		}
		if bi.Sha1 == oi.Sha1 {
			// Branch reproduced the head content independently; adopt the head
			// revision as the new fork point without a new branch revision.
			if bi.HeadSha1 != oi.Sha1 {
				ffs = append(ffs, fastForward{id: bi.ID, sha1: oi.Sha1})
			}
			continue
		}
		if bi.HeadSha1 == oi.Sha1 {
			// Branch is strictly ahead; nothing to pull.
			continue
		}
		merges = append(merges, mergePlan{branch: bi, other: oi})
		touched = append(touched, oi.Name)
	}
	if len(pullIDs) == 0 && len(ffs) == 0 && len(merges) == 0 {
		return nil, nil
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, touched...)
	if err != nil {
		return nil, err
	}
	for _, ff := range ffs {
		if err := m.persister.UpdateBranchCubeHeadSha1(ctx, ff.id, ff.sha1); err != nil {
			return nil, err
		}
	}
	var updated []cuberepo.CubeInfo
	if len(pullIDs) > 0 {
		infos, err := m.persister.PullToBranch(ctx, appId, pullIDs, user)
		if err != nil {
			return updated, err
		}
		updated = append(updated, infos...)
	}
	conflicts := map[string]cuberepo.MergeConflictInfo{}
	for _, mp := range merges {
		merged, conflict, err := m.attemptMerge(ctx, appId, other, mp.branch.Name, mp.branch.HeadSha1, true)
		if err != nil {
			return updated, err
		}
		if conflict != nil {
			conflicts[mp.branch.Name] = *conflict
			continue
		}
		info, err := m.persister.CommitMergedCubeToBranch(ctx, appId, merged, mp.other.Sha1, user)
		if err != nil {
			return updated, err
		}
		info.ChangeType = cuberepo.Updated
		updated = append(updated, info)
	}
	m.cubeCache.Clear(appId)
	m.broadcast(ctx, appId)
	log.Debug("updated branch", "app", appId.String(), "from", other.String(),
		"pulled", len(pullIDs), "merged", len(merges)-len(conflicts), "conflicts", len(conflicts))
	if len(conflicts) > 0 {
		return updated, cuberepo.MergeError{Errors: conflicts}
	}
	return updated, nil
}

// attemptMerge three-way merges one cube between branchApp and otherApp. The
// base is the head revision named by headSha1, or a synthesized empty cube
// with the branch cube's axes when the cube never crossed to head. reverse
// selects the pull direction (other's content enriched with branch deltas).
// A nil conflict with a nil error means the merge succeeded.
func (m *Manager) attemptMerge(ctx context.Context, branchApp, otherApp cuberepo.AppId, name, headSha1 string, reverse bool) (cuberepo.Cube, *cuberepo.MergeConflictInfo, error) {
	branchCube, err := m.persister.LoadCube(ctx, branchApp, name)
	if err != nil {
		return nil, nil, err
	}
	other, err := m.persister.LoadCube(ctx, otherApp, name)
	if err != nil {
		return nil, nil, err
	}
	if branchCube == nil || other == nil {
		ci := &cuberepo.MergeConflictInfo{
			Message:  fmt.Sprintf("cube %s was updated on one side and deleted on the other", name),
			HeadSha1: headSha1,
		}
		if branchCube != nil {
			ci.Sha1 = branchCube.Sha1()
		}
		if other != nil {
			ci.HeadSha1 = other.Sha1()
		}
		return nil, ci, nil
	}
	base := m.mergeBase(ctx, branchApp, name, headSha1, branchCube)
	branchDelta := m.deltas.GetDelta(base, branchCube)
	otherDelta := m.deltas.GetDelta(base, other)
	if m.deltas.AreDeltaSetsCompatible(branchDelta, otherDelta, reverse) {
		var merged cuberepo.Cube
		if reverse {
			merged = other.Duplicate(other.Name())
			m.deltas.MergeDeltaSet(merged, branchDelta)
		} else {
			merged = branchCube.Duplicate(branchCube.Name())
			m.deltas.MergeDeltaSet(merged, otherDelta)
		}
		merged.ClearSha1()
		return merged, nil, nil
	}
	desc := m.deltas.GetDeltaDescription(branchCube, other)
	if len(desc) == 0 {
		// Effectively identical despite incompatible deltas.
		return branchCube, nil, nil
	}
	diff := make([]string, 0, len(desc))
	for _, d := range desc {
		diff = append(diff, d.Description())
	}
	return nil, &cuberepo.MergeConflictInfo{
		Message:  fmt.Sprintf("cube %s changed in both %v and %v", name, branchApp, otherApp),
		Sha1:     branchCube.Sha1(),
		HeadSha1: other.Sha1(),
		Diff:     diff,
	}, nil
}

func (m *Manager) mergeBase(ctx context.Context, branchApp cuberepo.AppId, name, headSha1 string, branchCube cuberepo.Cube) cuberepo.Cube {
	if headSha1 != "" {
		base, err := m.persister.LoadCubeBySha1(ctx, branchApp.AsHead(), name, headSha1)
		if err == nil && base != nil {
			return base
		}
		log.Warn("merge base not found, synthesizing empty base", "app", branchApp.String(), "cube", name, "headSha1", headSha1)
	}
	base := branchCube.Duplicate(branchCube.Name())
	base.ClearCells()
	base.ClearSha1()
	return base
}

// MergeAcceptMine resolves conflicts by keeping the branch content: the
// branch's fork point jumps to the current head revision.
func (m *Manager) MergeAcceptMine(ctx context.Context, appId cuberepo.AppId, names ...string) error {
	if len(names) == 0 {
		return cuberepo.Errorf(cuberepo.InvalidInput, "empty cube name batch")
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, names...)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := m.persister.MergeAcceptMine(ctx, appId, n, user); err != nil {
			return err
		}
	}
	m.finishMutation(ctx, appId, names...)
	return nil
}

// MergeAcceptTheirs resolves a conflict by adopting the head content, the
// revision named by headSha1 or the latest when empty.
func (m *Manager) MergeAcceptTheirs(ctx context.Context, appId cuberepo.AppId, name, headSha1 string) error {
	user, err := m.beginMutation(ctx, appId, ActionUpdate, name)
	if err != nil {
		return err
	}
	if err := m.persister.MergeAcceptTheirs(ctx, appId, name, headSha1, user); err != nil {
		return err
	}
	m.finishMutation(ctx, appId, name)
	return nil
}

// RollbackCubes abandons branch changes, returning each cube to its fork
// point; never-committed cubes vanish.
func (m *Manager) RollbackCubes(ctx context.Context, appId cuberepo.AppId, names []string) error {
	if len(names) == 0 {
		return cuberepo.Errorf(cuberepo.InvalidInput, "empty cube name batch")
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, names...)
	if err != nil {
		return err
	}
	if err := m.persister.RollbackCubes(ctx, appId, names, user); err != nil {
		return err
	}
	// Rollback can resurrect or remove any subset; mass invalidation is correct.
	m.cubeCache.Clear(appId)
	m.broadcast(ctx, appId)
	return nil
}

// RestoreCubes revives tombstoned cubes on a branch and re-hydrates them so
// advices reapply.
func (m *Manager) RestoreCubes(ctx context.Context, appId cuberepo.AppId, names []string) error {
	if appId.IsHead() {
		return cuberepo.Errorf(cuberepo.InvalidInput, "restore works on branches, not %s", cuberepo.HeadBranch)
	}
	if len(names) == 0 {
		return cuberepo.Errorf(cuberepo.InvalidInput, "empty cube name batch")
	}
	user, err := m.beginMutation(ctx, appId, ActionUpdate, names...)
	if err != nil {
		return err
	}
	if err := m.persister.RestoreCubes(ctx, appId, names, user); err != nil {
		return err
	}
	for _, n := range names {
		m.cubeCache.Remove(appId, n)
		if _, err := m.loadCube(ctx, appId, n); err != nil {
			return err
		}
	}
	m.broadcast(ctx, appId)
	return nil
}

// CreateBranch forks the head into a new branch and installs the branch
// permission cube for its creator. Returns the number of cubes copied.
func (m *Manager) CreateBranch(ctx context.Context, appId cuberepo.AppId) (int, error) {
	if err := appId.Validate(); err != nil {
		return 0, err
	}
	if appId.IsHead() {
		return 0, cuberepo.Errorf(cuberepo.InvalidInput, "%s already exists", cuberepo.HeadBranch)
	}
	_, err := m.beginMutation(ctx, appId, ActionUpdate)
	if err != nil {
		return 0, err
	}
	n, err := m.persister.CopyBranch(ctx, appId.AsHead(), appId)
	if err != nil {
		return 0, err
	}
	m.cubeCache.Clear(appId)
	m.broadcast(ctx, appId)
	return n, nil
}

// DeleteBranch removes a branch and its branch permission cube.
func (m *Manager) DeleteBranch(ctx context.Context, appId cuberepo.AppId) error {
	if appId.IsHead() {
		return cuberepo.Errorf(cuberepo.InvalidInput, "cannot delete %s", cuberepo.HeadBranch)
	}
	_, err := m.beginMutation(ctx, appId, ActionUpdate)
	if err != nil {
		return err
	}
	if err := m.persister.DeleteBranch(ctx, appId); err != nil {
		return err
	}
	if err := m.persister.DeleteBranch(ctx, appId.AsBootVersion().AsBranch(appId.Branch)); err != nil {
		return err
	}
	m.knownApps.Delete(appId.CacheKey())
	m.cubeCache.Clear(appId)
	m.broadcast(ctx, appId)
	return nil
}
