// Package mocks provides in-memory implementations of the cuberepo ports —
// cube, delta processor, persister and broadcaster — for unit testing the
// engine without a durable store.
package mocks

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sharedcode/cuberepo"
)

// defaultColumn is the canonical token of an axis default column in cell keys.
const defaultColumn = "\x00default"

// Axis is a discrete string axis with optional default column.
type Axis struct {
	name       string
	columns    []string
	hasDefault bool
}

// NewAxis builds a discrete string axis.
func NewAxis(name string, hasDefault bool, columns ...string) *Axis {
	return &Axis{name: name, hasDefault: hasDefault, columns: append([]string{}, columns...)}
}

func (a *Axis) Name() string { return a.name }

func (a *Axis) Columns() []string { return append([]string{}, a.columns...) }

func (a *Axis) HasDefault() bool { return a.hasDefault }

func (a *Axis) column(value string) (string, bool) {
	for _, c := range a.columns {
		if strings.EqualFold(c, value) {
			return c, true
		}
	}
	return "", false
}

func (a *Axis) clone() *Axis {
	return NewAxis(a.name, a.hasDefault, a.columns...)
}

// AdviceBinding records an advice attached to a cube method.
type AdviceBinding struct {
	Advice cuberepo.Advice
	Method string
}

// Cube is an in-memory cube with discrete string axes and a SHA-1 content
// fingerprint over name, axes, cells and meta-properties.
type Cube struct {
	name    string
	appId   cuberepo.AppId
	axes    []*Axis
	cells   map[string]any
	meta    map[string]any
	refs    []string
	advices []AdviceBinding
	sha1    string
}

// NewCube builds a cube over the given axes.
func NewCube(name string, appId cuberepo.AppId, axes ...*Axis) *Cube {
	return &Cube{
		name:  name,
		appId: appId,
		axes:  axes,
		cells: map[string]any{},
		meta:  map[string]any{},
	}
}

func (c *Cube) Name() string { return c.name }

func (c *Cube) AppId() cuberepo.AppId { return c.appId }

func (c *Cube) SetAppId(appId cuberepo.AppId) { c.appId = appId }

func (c *Cube) MetaProperty(name string) (any, bool) {
	v, ok := c.meta[name]
	return v, ok
}

func (c *Cube) SetMetaProperty(name string, value any) {
	c.meta[name] = value
	c.sha1 = ""
}

func (c *Cube) Axis(name string) (cuberepo.Axis, bool) {
	for _, ax := range c.axes {
		if strings.EqualFold(ax.name, name) {
			return ax, true
		}
	}
	return nil, false
}

// resolve maps a coordinate map to the canonical cell key. Unbound or
// unmatched axis values resolve to the axis default column when present.
// addMissing grows a discrete axis by the supplied value, like an explicit
// addColumn would.
func (c *Cube) resolve(coords map[string]string, addMissing bool) (string, bool) {
	parts := make([]string, 0, len(c.axes))
	for _, ax := range c.axes {
		v, bound := coords[ax.name]
		col := ""
		switch {
		case bound:
			if existing, ok := ax.column(v); ok {
				col = existing
			} else if addMissing {
				ax.columns = append(ax.columns, v)
				col = v
			} else if ax.hasDefault {
				col = defaultColumn
			} else {
				return "", false
			}
		case ax.hasDefault:
			col = defaultColumn
		default:
			return "", false
		}
		parts = append(parts, ax.name+"="+strings.ToLower(col))
	}
	return strings.Join(parts, "|"), true
}

func (c *Cube) Cell(coords map[string]string) (any, bool) {
	key, ok := c.resolve(coords, false)
	if !ok {
		return nil, false
	}
	v, ok := c.cells[key]
	return v, ok
}

func (c *Cube) SetCell(value any, coords map[string]string) {
	key, ok := c.resolve(coords, true)
	if !ok {
		return
	}
	c.cells[key] = value
	c.sha1 = ""
}

func (c *Cube) RemoveCell(coords map[string]string) {
	key, ok := c.resolve(coords, false)
	if !ok {
		return
	}
	delete(c.cells, key)
	c.sha1 = ""
}

func (c *Cube) ClearCells() {
	c.cells = map[string]any{}
	c.sha1 = ""
}

// CellMap exposes the canonical cell map; the mock delta processor diffs it.
func (c *Cube) CellMap() map[string]any {
	out := make(map[string]any, len(c.cells))
	for k, v := range c.cells {
		out[k] = v
	}
	return out
}

// SetCellByKey writes a cell at a canonical key, bypassing coordinate
// resolution. Used by the mock delta processor when applying delta sets.
func (c *Cube) SetCellByKey(key string, value any) {
	c.cells[key] = value
	c.sha1 = ""
}

// RemoveCellByKey removes a cell at a canonical key.
func (c *Cube) RemoveCellByKey(key string) {
	delete(c.cells, key)
	c.sha1 = ""
}

func (c *Cube) ReferencedCubeNames() []string {
	return append([]string{}, c.refs...)
}

// SetReferencedCubeNames sets the direct references reported by the cube.
func (c *Cube) SetReferencedCubeNames(names ...string) {
	c.refs = append([]string{}, names...)
}

func (c *Cube) AddAdvice(advice cuberepo.Advice, method string) {
	c.advices = append(c.advices, AdviceBinding{Advice: advice, Method: method})
}

// Advices returns the attached advice bindings.
func (c *Cube) Advices() []AdviceBinding {
	return append([]AdviceBinding{}, c.advices...)
}

func (c *Cube) Duplicate(newName string) cuberepo.Cube {
	dup := NewCube(newName, c.appId)
	dup.axes = make([]*Axis, len(c.axes))
	for i, ax := range c.axes {
		dup.axes[i] = ax.clone()
	}
	for k, v := range c.cells {
		dup.cells[k] = v
	}
	for k, v := range c.meta {
		dup.meta[k] = v
	}
	dup.refs = append([]string{}, c.refs...)
	return dup
}

func (c *Cube) ClearSha1() {
	c.sha1 = ""
}

// Sha1 lazily computes the fingerprint over name, axes, cells and
// meta-properties. The AppId never participates: the same content on a branch
// and on HEAD must fingerprint identically.
func (c *Cube) Sha1() string {
	if c.sha1 != "" {
		return c.sha1
	}
	type axisDoc struct {
		Name       string   `json:"name"`
		Columns    []string `json:"columns"`
		HasDefault bool     `json:"hasDefault"`
	}
	doc := struct {
		Name  string            `json:"name"`
		Axes  []axisDoc         `json:"axes"`
		Cells map[string]string `json:"cells"`
		Meta  map[string]string `json:"meta"`
	}{
		Name:  strings.ToLower(c.name),
		Cells: map[string]string{},
		Meta:  map[string]string{},
	}
	for _, ax := range c.axes {
		cols := append([]string{}, ax.columns...)
		sort.Strings(cols)
		doc.Axes = append(doc.Axes, axisDoc{Name: ax.name, Columns: cols, HasDefault: ax.hasDefault})
	}
	for k, v := range c.cells {
		doc.Cells[k] = fmt.Sprintf("%v", v)
	}
	for k, v := range c.meta {
		doc.Meta[k] = fmt.Sprintf("%v", v)
	}
	raw, _ := json.Marshal(doc)
	sum := sha1.Sum(raw)
	c.sha1 = hex.EncodeToString(sum[:])
	return c.sha1
}

// Advice is a trivial named advice.
type Advice struct {
	name string
}

// NewAdvice builds a named advice.
func NewAdvice(name string) *Advice {
	return &Advice{name: name}
}

func (a *Advice) Name() string { return a.name }

// CubeFactory builds mock cubes from the simple-JSON format:
//
//	{"name": "...",
//	 "axes": [{"name": "...", "hasDefault": true, "columns": ["a","b"]}],
//	 "metaProps": {"cache": false}}
type CubeFactory struct{}

func (CubeFactory) FromSimpleJSON(appId cuberepo.AppId, jsonText string) (cuberepo.Cube, error) {
	var doc struct {
		Name string `json:"name"`
		Axes []struct {
			Name       string   `json:"name"`
			HasDefault bool     `json:"hasDefault"`
			Columns    []string `json:"columns"`
		} `json:"axes"`
		MetaProps map[string]any `json:"metaProps"`
	}
	if err := json.Unmarshal([]byte(jsonText), &doc); err != nil {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "malformed simple-JSON cube: %v", err)
	}
	if doc.Name == "" {
		return nil, cuberepo.Errorf(cuberepo.InvalidInput, "simple-JSON cube has no name")
	}
	cube := NewCube(doc.Name, appId)
	for _, ax := range doc.Axes {
		cube.axes = append(cube.axes, NewAxis(ax.Name, ax.HasDefault, ax.Columns...))
	}
	for k, v := range doc.MetaProps {
		cube.meta[k] = v
	}
	return cube, nil
}
