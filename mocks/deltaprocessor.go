package mocks

import (
	"fmt"

	"github.com/sharedcode/cuberepo"
)

// CellDelta is one cell-level change between two mock cubes.
type CellDelta struct {
	// Key is the canonical cell key the change applies to.
	Key string
	// Value is the new cell value; ignored when Removed.
	Value   any
	Removed bool
}

func (d CellDelta) Description() string {
	if d.Removed {
		return fmt.Sprintf("cell [%s] removed", d.Key)
	}
	return fmt.Sprintf("cell [%s] = %v", d.Key, d.Value)
}

// DeltaProcessor diffs and merges mock cubes at cell granularity.
type DeltaProcessor struct{}

// GetDelta computes the cell changes that turn base into target.
func (DeltaProcessor) GetDelta(base, target cuberepo.Cube) []cuberepo.Delta {
	b := base.(*Cube).CellMap()
	t := target.(*Cube).CellMap()
	var out []cuberepo.Delta
	for k, v := range t {
		if bv, ok := b[k]; !ok || fmt.Sprintf("%v", bv) != fmt.Sprintf("%v", v) {
			out = append(out, CellDelta{Key: k, Value: v})
		}
	}
	for k := range b {
		if _, ok := t[k]; !ok {
			out = append(out, CellDelta{Key: k, Removed: true})
		}
	}
	return out
}

// AreDeltaSetsCompatible reports whether the two delta sets touch disjoint
// cells. The reverse flag does not change disjointness.
func (DeltaProcessor) AreDeltaSetsCompatible(a, b []cuberepo.Delta, reverse bool) bool {
	touched := map[string]bool{}
	for _, d := range a {
		touched[d.(CellDelta).Key] = true
	}
	for _, d := range b {
		if touched[d.(CellDelta).Key] {
			return false
		}
	}
	return true
}

// MergeDeltaSet applies the deltas to target, in place.
func (DeltaProcessor) MergeDeltaSet(target cuberepo.Cube, deltas []cuberepo.Delta) {
	t := target.(*Cube)
	for _, d := range deltas {
		cd := d.(CellDelta)
		if cd.Removed {
			t.RemoveCellByKey(cd.Key)
			continue
		}
		t.SetCellByKey(cd.Key, cd.Value)
	}
}

// GetDeltaDescription diffs two cubes directly; empty means effectively
// identical.
func (DeltaProcessor) GetDeltaDescription(a, b cuberepo.Cube) []cuberepo.Delta {
	am := a.(*Cube).CellMap()
	bm := b.(*Cube).CellMap()
	var out []cuberepo.Delta
	for k, av := range am {
		bv, ok := bm[k]
		if !ok {
			out = append(out, CellDelta{Key: k, Value: av})
			continue
		}
		if fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv) {
			out = append(out, CellDelta{Key: k, Value: fmt.Sprintf("%v != %v", av, bv)})
		}
	}
	for k, bv := range bm {
		if _, ok := am[k]; !ok {
			out = append(out, CellDelta{Key: k, Value: bv})
		}
	}
	return out
}
