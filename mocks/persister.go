package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sharedcode/cuberepo"
)

type record struct {
	id       string
	name     string
	revision int64
	cube     *Cube // content snapshot, kept for tombstones too
	sha1     string
	headSha1 string
	changed  bool
	notes    string
	testData string
}

type branchStore struct {
	appId   cuberepo.AppId
	records map[string][]*record // lowercase name -> revision history
}

// Persister is an in-memory revision store implementing cuberepo.Persister.
// It counts invocations per operation so tests can assert the engine's
// traffic (e.g. that a denied mutation never reached the store); read the
// counters through CallCount.
type Persister struct {
	mux      sync.Mutex
	branches map[string]*branchStore
	calls    map[string]int
}

// NewPersister creates an empty in-memory persister.
func NewPersister() *Persister {
	return &Persister{
		branches: map[string]*branchStore{},
		calls:    map[string]int{},
	}
}

func (p *Persister) bump(op string) {
	p.calls[op]++
}

// CallCount returns the number of invocations recorded for an operation.
func (p *Persister) CallCount(op string) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.calls[op]
}

func (p *Persister) store(appId cuberepo.AppId) *branchStore {
	key := appId.CacheKey()
	if s, ok := p.branches[key]; ok {
		return s
	}
	s := &branchStore{appId: appId, records: map[string][]*record{}}
	p.branches[key] = s
	return s
}

func (p *Persister) find(appId cuberepo.AppId) *branchStore {
	return p.branches[appId.CacheKey()]
}

func latest(recs []*record) *record {
	if len(recs) == 0 {
		return nil
	}
	return recs[len(recs)-1]
}

func nextRev(recs []*record) int64 {
	var maxAbs int64
	for _, r := range recs {
		abs := r.revision
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs + 1
}

func copyCube(c *Cube, appId cuberepo.AppId) *Cube {
	d := c.Duplicate(c.Name()).(*Cube)
	d.SetAppId(appId)
	return d
}

func (p *Persister) appendRecord(s *branchStore, name string, r *record) *record {
	lower := strings.ToLower(name)
	r.id = cuberepo.NewUUID().String()
	r.name = name
	s.records[lower] = append(s.records[lower], r)
	return r
}

func (p *Persister) infoOf(s *branchStore, r *record, opts cuberepo.SearchOptions) cuberepo.CubeInfo {
	ci := cuberepo.CubeInfo{
		ID:       r.id,
		Name:     r.name,
		Revision: r.revision,
		Sha1:     r.sha1,
		HeadSha1: r.headSha1,
		Changed:  r.changed,
		AppId:    s.appId,
	}
	if opts.IncludeNotes {
		ci.Notes = r.notes
	}
	if opts.IncludeTestData {
		ci.TestData = r.testData
	}
	return ci
}

func (p *Persister) LoadCube(ctx context.Context, appId cuberepo.AppId, name string) (cuberepo.Cube, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("LoadCube")
	s := p.find(appId)
	if s == nil {
		return nil, nil
	}
	r := latest(s.records[strings.ToLower(name)])
	if r == nil || r.revision < 0 {
		return nil, nil
	}
	return copyCube(r.cube, appId), nil
}

func (p *Persister) LoadCubeByID(ctx context.Context, id string) (cuberepo.Cube, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("LoadCubeByID")
	for _, s := range p.branches {
		for _, recs := range s.records {
			for _, r := range recs {
				if r.id == id {
					return copyCube(r.cube, s.appId), nil
				}
			}
		}
	}
	return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no cube revision with id %s", id)
}

func (p *Persister) LoadCubeBySha1(ctx context.Context, appId cuberepo.AppId, name, sha1 string) (cuberepo.Cube, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("LoadCubeBySha1")
	s := p.find(appId)
	if s == nil {
		return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	recs := s.records[strings.ToLower(name)]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].sha1 == sha1 {
			return copyCube(recs[i].cube, appId), nil
		}
	}
	return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no revision of %s with sha1 %s", name, sha1)
}

func (p *Persister) Search(ctx context.Context, appId cuberepo.AppId, namePattern, contentPattern string, opts cuberepo.SearchOptions) ([]cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("Search")
	s := p.find(appId)
	if s == nil {
		return nil, nil
	}
	var out []cuberepo.CubeInfo
	for _, recs := range s.records {
		r := latest(recs)
		if r == nil {
			continue
		}
		if opts.ActiveRecordsOnly && r.revision < 0 {
			continue
		}
		if opts.DeletedRecordsOnly && r.revision >= 0 {
			continue
		}
		if opts.ChangedRecordsOnly && !r.changed {
			continue
		}
		if namePattern != "" {
			if opts.ExactMatchName {
				if !strings.EqualFold(r.name, namePattern) {
					continue
				}
			} else if !cuberepo.MatchesWildcard(namePattern, r.name) {
				continue
			}
		}
		if contentPattern != "" && !cubeContains(r.cube, contentPattern) {
			continue
		}
		out = append(out, p.infoOf(s, r, opts))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cubeContains(c *Cube, pattern string) bool {
	lower := strings.ToLower(pattern)
	for _, v := range c.CellMap() {
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", v)), lower) {
			return true
		}
	}
	return false
}

func (p *Persister) GetRevisions(ctx context.Context, appId cuberepo.AppId, name string) ([]cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetRevisions")
	s := p.find(appId)
	if s == nil {
		return nil, nil
	}
	opts := cuberepo.SearchOptions{IncludeNotes: true, IncludeTestData: true}
	var out []cuberepo.CubeInfo
	for _, r := range s.records[strings.ToLower(name)] {
		out = append(out, p.infoOf(s, r, opts))
	}
	return out, nil
}

func (p *Persister) UpdateCube(ctx context.Context, appId cuberepo.AppId, cube cuberepo.Cube, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("UpdateCube")
	mc, ok := cube.(*Cube)
	if !ok {
		return cuberepo.Errorf(cuberepo.InvalidInput, "unexpected cube type %T", cube)
	}
	s := p.store(appId)
	recs := s.records[strings.ToLower(cube.Name())]
	prev := latest(recs)
	if prev != nil && prev.revision >= 0 && prev.sha1 == cube.Sha1() {
		// Unchanged content produces no new revision.
		return nil
	}
	headSha1 := ""
	if prev != nil {
		headSha1 = prev.headSha1
	}
	p.appendRecord(s, cube.Name(), &record{
		revision: nextRev(recs),
		cube:     copyCube(mc, appId),
		sha1:     cube.Sha1(),
		headSha1: headSha1,
		changed:  true,
	})
	return nil
}

func (p *Persister) DuplicateCube(ctx context.Context, src cuberepo.AppId, srcName string, dst cuberepo.AppId, dstName, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("DuplicateCube")
	ss := p.find(src)
	if ss == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", src)
	}
	r := latest(ss.records[strings.ToLower(srcName)])
	if r == nil || r.revision < 0 {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", srcName, src)
	}
	dup := r.cube.Duplicate(dstName).(*Cube)
	dup.SetAppId(dst)
	ds := p.store(dst)
	recs := ds.records[strings.ToLower(dstName)]
	p.appendRecord(ds, dstName, &record{
		revision: nextRev(recs),
		cube:     dup,
		sha1:     dup.Sha1(),
		changed:  true,
	})
	return nil
}

func (p *Persister) RenameCube(ctx context.Context, appId cuberepo.AppId, oldName, newName, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("RenameCube")
	s := p.find(appId)
	if s == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	r := latest(s.records[strings.ToLower(oldName)])
	if r == nil || r.revision < 0 {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", oldName, appId)
	}
	renamed := r.cube.Duplicate(newName).(*Cube)
	renamed.SetAppId(appId)
	oldRecs := s.records[strings.ToLower(oldName)]
	p.appendRecord(s, oldName, &record{
		revision: -nextRev(oldRecs),
		cube:     copyCube(r.cube, appId),
		sha1:     r.sha1,
		headSha1: r.headSha1,
		changed:  true,
	})
	newRecs := s.records[strings.ToLower(newName)]
	p.appendRecord(s, newName, &record{
		revision: nextRev(newRecs),
		cube:     renamed,
		sha1:     renamed.Sha1(),
		changed:  true,
	})
	return nil
}

func (p *Persister) DeleteCubes(ctx context.Context, appId cuberepo.AppId, names []string, allowHard bool, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("DeleteCubes")
	s := p.find(appId)
	if s == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	for _, name := range names {
		lower := strings.ToLower(name)
		recs := s.records[lower]
		r := latest(recs)
		if r == nil || r.revision < 0 {
			return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", name, appId)
		}
		if allowHard {
			delete(s.records, lower)
			continue
		}
		p.appendRecord(s, r.name, &record{
			revision: -nextRev(recs),
			cube:     copyCube(r.cube, appId),
			sha1:     r.sha1,
			headSha1: r.headSha1,
			changed:  true,
		})
	}
	return nil
}

func (p *Persister) RestoreCubes(ctx context.Context, appId cuberepo.AppId, names []string, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("RestoreCubes")
	s := p.find(appId)
	if s == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	for _, name := range names {
		recs := s.records[strings.ToLower(name)]
		r := latest(recs)
		if r == nil || r.revision >= 0 {
			return cuberepo.Errorf(cuberepo.InvalidInput, "cube %s is not deleted in %v", name, appId)
		}
		// A restore is a new positive revision, not a mutation of the tombstone.
		p.appendRecord(s, r.name, &record{
			revision: nextRev(recs),
			cube:     copyCube(r.cube, appId),
			sha1:     r.sha1,
			headSha1: r.headSha1,
			changed:  true,
		})
	}
	return nil
}

func (p *Persister) RollbackCubes(ctx context.Context, appId cuberepo.AppId, names []string, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("RollbackCubes")
	s := p.find(appId)
	if s == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	head := p.find(appId.AsHead())
	for _, name := range names {
		lower := strings.ToLower(name)
		recs := s.records[lower]
		r := latest(recs)
		if r == nil {
			return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", name, appId)
		}
		if r.headSha1 == "" {
			// Never came from head; rollback removes it entirely.
			delete(s.records, lower)
			continue
		}
		if head == nil {
			return cuberepo.Errorf(cuberepo.InvalidState, "no head records for %v", appId)
		}
		var base *record
		headRecs := head.records[lower]
		for i := len(headRecs) - 1; i >= 0; i-- {
			if headRecs[i].sha1 == r.headSha1 {
				base = headRecs[i]
				break
			}
		}
		if base == nil {
			return cuberepo.Errorf(cuberepo.InvalidState, "head revision %s of cube %s is gone", r.headSha1, name)
		}
		p.appendRecord(s, r.name, &record{
			revision: nextRev(recs),
			cube:     copyCube(base.cube, appId),
			sha1:     base.sha1,
			headSha1: base.sha1,
			changed:  false,
		})
	}
	return nil
}

func (p *Persister) CommitCubes(ctx context.Context, appId cuberepo.AppId, ids []string, user string) ([]cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("CommitCubes")
	s := p.find(appId)
	if s == nil {
		return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	head := p.store(appId.AsHead())
	var out []cuberepo.CubeInfo
	for _, id := range ids {
		r := p.findRecord(s, id)
		if r == nil {
			return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no branch revision with id %s", id)
		}
		lower := strings.ToLower(r.name)
		headRecs := head.records[lower]
		rev := nextRev(headRecs)
		if r.revision < 0 {
			rev = -rev
		}
		hr := p.appendRecord(head, r.name, &record{
			revision: rev,
			cube:     copyCube(r.cube, head.appId),
			sha1:     r.sha1,
			changed:  false,
		})
		// Fast-forward the branch record onto the new head revision.
		r.headSha1 = r.sha1
		r.changed = false
		out = append(out, p.infoOf(head, hr, cuberepo.SearchOptions{}))
	}
	return out, nil
}

func (p *Persister) findRecord(s *branchStore, id string) *record {
	for _, recs := range s.records {
		for _, r := range recs {
			if r.id == id {
				return r
			}
		}
	}
	return nil
}

func (p *Persister) CommitMergedCubeToHead(ctx context.Context, appId cuberepo.AppId, cube cuberepo.Cube, user string) (cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("CommitMergedCubeToHead")
	mc := cube.(*Cube)
	s := p.store(appId)
	head := p.store(appId.AsHead())
	sha := cube.Sha1()
	hr := p.appendRecord(head, cube.Name(), &record{
		revision: nextRev(head.records[strings.ToLower(cube.Name())]),
		cube:     copyCube(mc, head.appId),
		sha1:     sha,
		changed:  false,
	})
	// The branch adopts the merged content as its new fork point.
	recs := s.records[strings.ToLower(cube.Name())]
	p.appendRecord(s, cube.Name(), &record{
		revision: nextRev(recs),
		cube:     copyCube(mc, appId),
		sha1:     sha,
		headSha1: sha,
		changed:  false,
	})
	return p.infoOf(head, hr, cuberepo.SearchOptions{}), nil
}

func (p *Persister) CommitMergedCubeToBranch(ctx context.Context, appId cuberepo.AppId, cube cuberepo.Cube, baseSha1, user string) (cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("CommitMergedCubeToBranch")
	mc := cube.(*Cube)
	s := p.store(appId)
	recs := s.records[strings.ToLower(cube.Name())]
	r := p.appendRecord(s, cube.Name(), &record{
		revision: nextRev(recs),
		cube:     copyCube(mc, appId),
		sha1:     cube.Sha1(),
		headSha1: baseSha1,
		changed:  true,
	})
	return p.infoOf(s, r, cuberepo.SearchOptions{}), nil
}

func (p *Persister) PullToBranch(ctx context.Context, appId cuberepo.AppId, ids []string, user string) ([]cuberepo.CubeInfo, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("PullToBranch")
	s := p.store(appId)
	var out []cuberepo.CubeInfo
	for _, id := range ids {
		src, sr := p.findRecordAnywhere(id)
		if sr == nil {
			return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no source revision with id %s", id)
		}
		recs := s.records[strings.ToLower(sr.name)]
		rev := nextRev(recs)
		if sr.revision < 0 {
			rev = -rev
		}
		// Pulling from head fast-forwards the fork point; pulling from a
		// sibling branch carries the sibling's fork point and changed flag.
		headSha1, changed := sr.sha1, false
		if !src.appId.IsHead() {
			headSha1, changed = sr.headSha1, sr.changed
		}
		r := p.appendRecord(s, sr.name, &record{
			revision: rev,
			cube:     copyCube(sr.cube, appId),
			sha1:     sr.sha1,
			headSha1: headSha1,
			changed:  changed,
		})
		out = append(out, p.infoOf(s, r, cuberepo.SearchOptions{}))
	}
	return out, nil
}

func (p *Persister) findRecordAnywhere(id string) (*branchStore, *record) {
	for _, s := range p.branches {
		if r := p.findRecord(s, id); r != nil {
			return s, r
		}
	}
	return nil, nil
}

func (p *Persister) UpdateBranchCubeHeadSha1(ctx context.Context, id, sha1 string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("UpdateBranchCubeHeadSha1")
	for _, s := range p.branches {
		if r := p.findRecord(s, id); r != nil {
			r.headSha1 = sha1
			return nil
		}
	}
	return cuberepo.Errorf(cuberepo.NotFoundFailure, "no cube revision with id %s", id)
}

func (p *Persister) CopyBranch(ctx context.Context, src, dst cuberepo.AppId) (int, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("CopyBranch")
	ss := p.find(src)
	ds := p.store(dst)
	if len(ds.records) > 0 {
		return 0, cuberepo.Errorf(cuberepo.InvalidState, "target branch %v already has records", dst)
	}
	if ss == nil {
		return 0, nil
	}
	n := 0
	for _, recs := range ss.records {
		r := latest(recs)
		if r == nil || r.revision < 0 {
			continue
		}
		headSha1 := ""
		if !dst.IsHead() {
			headSha1 = r.sha1
		}
		p.appendRecord(ds, r.name, &record{
			revision: 1,
			cube:     copyCube(r.cube, dst),
			sha1:     r.sha1,
			headSha1: headSha1,
			changed:  false,
		})
		n++
	}
	return n, nil
}

func (p *Persister) MoveBranch(ctx context.Context, appId cuberepo.AppId, newVersion string) (int, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("MoveBranch")
	s := p.find(appId)
	if s == nil {
		return 0, nil
	}
	delete(p.branches, appId.CacheKey())
	moved := appId.AsVersion(newVersion)
	s.appId = moved
	for _, recs := range s.records {
		for _, r := range recs {
			r.cube.SetAppId(moved)
		}
	}
	p.branches[moved.CacheKey()] = s
	return len(s.records), nil
}

func (p *Persister) ReleaseCubes(ctx context.Context, appId cuberepo.AppId, newSnapVersion string) (int, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("ReleaseCubes")
	head := p.find(appId.AsHead())
	if head == nil {
		return 0, nil
	}
	release := p.store(appId.AsRelease().AsHead())
	n := 0
	for _, recs := range head.records {
		r := latest(recs)
		if r == nil || r.revision < 0 {
			continue
		}
		p.appendRecord(release, r.name, &record{
			revision: 1,
			cube:     copyCube(r.cube, release.appId),
			sha1:     r.sha1,
			changed:  false,
		})
		n++
	}
	return n, nil
}

func (p *Persister) MergeAcceptMine(ctx context.Context, appId cuberepo.AppId, name, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("MergeAcceptMine")
	s := p.find(appId)
	head := p.find(appId.AsHead())
	if s == nil || head == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	r := latest(s.records[strings.ToLower(name)])
	hr := latest(head.records[strings.ToLower(name)])
	if r == nil || hr == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", name, appId)
	}
	// Keep the branch content; adopt the current head as the fork point.
	r.headSha1 = hr.sha1
	return nil
}

func (p *Persister) MergeAcceptTheirs(ctx context.Context, appId cuberepo.AppId, name, sha1, user string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("MergeAcceptTheirs")
	s := p.find(appId)
	head := p.find(appId.AsHead())
	if s == nil || head == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	lower := strings.ToLower(name)
	var hr *record
	if sha1 == "" {
		hr = latest(head.records[lower])
	} else {
		for _, r := range head.records[lower] {
			if r.sha1 == sha1 {
				hr = r
			}
		}
	}
	if hr == nil {
		return cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in head of %v", name, appId)
	}
	recs := s.records[lower]
	rev := nextRev(recs)
	if hr.revision < 0 {
		rev = -rev
	}
	p.appendRecord(s, hr.name, &record{
		revision: rev,
		cube:     copyCube(hr.cube, appId),
		sha1:     hr.sha1,
		headSha1: hr.sha1,
		changed:  false,
	})
	return nil
}

func (p *Persister) GetAppNames(ctx context.Context, tenant string) ([]string, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetAppNames")
	seen := map[string]bool{}
	var out []string
	for _, s := range p.branches {
		if strings.EqualFold(s.appId.Tenant, tenant) && !seen[strings.ToLower(s.appId.App)] {
			seen[strings.ToLower(s.appId.App)] = true
			out = append(out, s.appId.App)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Persister) GetVersions(ctx context.Context, tenant, app string) (map[string][]string, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetVersions")
	seen := map[string]bool{}
	out := map[string][]string{}
	for _, s := range p.branches {
		if !strings.EqualFold(s.appId.Tenant, tenant) || !strings.EqualFold(s.appId.App, app) {
			continue
		}
		status := strings.ToUpper(s.appId.Status)
		key := status + "/" + s.appId.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		out[status] = append(out[status], s.appId.Version)
	}
	for status := range out {
		cuberepo.SortVersions(out[status])
	}
	return out, nil
}

func (p *Persister) GetBranches(ctx context.Context, appId cuberepo.AppId) ([]string, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetBranches")
	seen := map[string]bool{}
	var out []string
	for _, s := range p.branches {
		if strings.EqualFold(s.appId.Tenant, appId.Tenant) &&
			strings.EqualFold(s.appId.App, appId.App) &&
			strings.EqualFold(s.appId.Version, appId.Version) &&
			strings.EqualFold(s.appId.Status, appId.Status) &&
			!seen[strings.ToLower(s.appId.Branch)] {
			seen[strings.ToLower(s.appId.Branch)] = true
			out = append(out, s.appId.Branch)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (p *Persister) DeleteBranch(ctx context.Context, appId cuberepo.AppId) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("DeleteBranch")
	delete(p.branches, appId.CacheKey())
	return nil
}

func (p *Persister) UpdateTestData(ctx context.Context, appId cuberepo.AppId, name, testData string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("UpdateTestData")
	r, err := p.latestRecord(appId, name)
	if err != nil {
		return err
	}
	r.testData = testData
	return nil
}

func (p *Persister) GetTestData(ctx context.Context, appId cuberepo.AppId, name string) (string, bool, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetTestData")
	r, err := p.latestRecord(appId, name)
	if err != nil {
		return "", false, nil
	}
	return r.testData, true, nil
}

func (p *Persister) UpdateNotes(ctx context.Context, appId cuberepo.AppId, name, notes string) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("UpdateNotes")
	r, err := p.latestRecord(appId, name)
	if err != nil {
		return err
	}
	r.notes = notes
	return nil
}

func (p *Persister) GetNotes(ctx context.Context, appId cuberepo.AppId, name string) (string, bool, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.bump("GetNotes")
	r, err := p.latestRecord(appId, name)
	if err != nil {
		return "", false, nil
	}
	return r.notes, true, nil
}

func (p *Persister) latestRecord(appId cuberepo.AppId, name string) (*record, error) {
	s := p.find(appId)
	if s == nil {
		return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "no records for %v", appId)
	}
	r := latest(s.records[strings.ToLower(name)])
	if r == nil {
		return nil, cuberepo.Errorf(cuberepo.NotFoundFailure, "cube %s not found in %v", name, appId)
	}
	return r, nil
}
