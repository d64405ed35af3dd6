package runtime

import (
	"fmt"

	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/shader"
)

// Closure block cell layout: cell 0 holds the component ID, cells 1..3
// the weight, and declared params start at ClosureParamBase. Algebra
// nodes reuse the layout with the marker IDs below and operand pointers
// or colors in the param cells.
const (
	ClosureParamBase = 4

	ClosureAddID int32 = -1
	ClosureMulID int32 = -2
)

// ClosureParam is one declared parameter of a registered closure.
// Offset is in cells from the start of the component block. Keyword
// params are matched by name from the trailing key/value arguments.
type ClosureParam struct {
	Name   string
	Type   shader.TypeSpec
	Offset int
	Key    bool
}

// ClosureEntry describes one registered closure primitive. Prepare and
// Setup, when non-empty, name externs invoked around parameter filling.
type ClosureEntry struct {
	Name    string
	ID      int32
	Size    int // cells of param storage past the header
	Params  []ClosureParam
	Prepare string
	Setup   string
}

// PositionalParams returns the non-keyword params in declaration order.
func (e *ClosureEntry) PositionalParams() []ClosureParam {
	var out []ClosureParam
	for _, p := range e.Params {
		if !p.Key {
			out = append(out, p)
		}
	}
	return out
}

// KeyParam returns the keyword param with the given name, or false.
func (e *ClosureEntry) KeyParam(name string) (ClosureParam, bool) {
	for _, p := range e.Params {
		if p.Key && p.Name == name {
			return p, true
		}
	}
	return ClosureParam{}, false
}

// ClosureRegistry maps closure names to their entries.
type ClosureRegistry struct {
	byName map[string]*ClosureEntry
	nextID int32
}

// NewClosureRegistry creates an empty registry.
func NewClosureRegistry() *ClosureRegistry {
	return &ClosureRegistry{byName: make(map[string]*ClosureEntry), nextID: 1}
}

// Register adds a closure, assigning its ID and param offsets.
func (r *ClosureRegistry) Register(name string, params []ClosureParam, prepare, setup string) (*ClosureEntry, error) {
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("closure %q already registered", name)
	}
	e := &ClosureEntry{Name: name, ID: r.nextID, Prepare: prepare, Setup: setup}
	r.nextID++
	off := ClosureParamBase
	for _, p := range params {
		p.Offset = off
		off += closureParamCells(p.Type)
		e.Params = append(e.Params, p)
	}
	e.Size = off - ClosureParamBase
	r.byName[name] = e
	return e, nil
}

func closureParamCells(t shader.TypeSpec) int {
	if n := t.NumElements(); n > 0 {
		return n
	}
	return 1
}

// Lookup returns the entry for name, or nil.
func (r *ClosureRegistry) Lookup(name string) *ClosureEntry {
	return r.byName[name]
}

// BuiltinClosures returns a registry holding the stock closure set.
func BuiltinClosures() *ClosureRegistry {
	r := NewClosureRegistry()
	mustRegister := func(name string, params []ClosureParam, prepare, setup string) {
		if _, err := r.Register(name, params, prepare, setup); err != nil {
			panic(err)
		}
	}
	label := ClosureParam{Name: "label", Type: shader.TypeString, Key: true}
	mustRegister("emission", []ClosureParam{label}, "", "")
	mustRegister("background", []ClosureParam{label}, "", "")
	mustRegister("holdout", nil, "", "")
	mustRegister("transparent", nil, "", "")
	mustRegister("diffuse", []ClosureParam{
		{Name: "N", Type: shader.TypeTriple},
		label,
	}, "", "")
	mustRegister("oren_nayar", []ClosureParam{
		{Name: "N", Type: shader.TypeTriple},
		{Name: "sigma", Type: shader.TypeFloat},
		label,
	}, "", "")
	mustRegister("phong", []ClosureParam{
		{Name: "N", Type: shader.TypeTriple},
		{Name: "exponent", Type: shader.TypeFloat},
		label,
	}, "", "")
	mustRegister("reflection", []ClosureParam{
		{Name: "N", Type: shader.TypeTriple},
		{Name: "eta", Type: shader.TypeFloat},
		label,
	}, "", "")
	mustRegister("refraction", []ClosureParam{
		{Name: "N", Type: shader.TypeTriple},
		{Name: "eta", Type: shader.TypeFloat},
		label,
	}, "", "")
	mustRegister("microfacet", []ClosureParam{
		{Name: "distribution", Type: shader.TypeString},
		{Name: "N", Type: shader.TypeTriple},
		{Name: "alpha", Type: shader.TypeFloat},
		{Name: "eta", Type: shader.TypeFloat},
		label,
	}, "", "osl_closure_setup_microfacet")
	return r
}

// ClosureWeight is the flattened contribution of one closure component.
type ClosureWeight struct {
	ID     int32
	Weight [3]float32
}

// FlattenClosure walks a closure tree on m and returns each leaf
// component with its accumulated weight. A nil pointer yields nothing.
func FlattenClosure(m *ir.Machine, ptr ir.Value) []ClosureWeight {
	var out []ClosureWeight
	flattenClosure(m, ptr, [3]float32{1, 1, 1}, &out, 0)
	return out
}

func flattenClosure(m *ir.Machine, ptr ir.Value, w [3]float32, out *[]ClosureWeight, depth int) {
	if ptr.Buf == 0 || depth > 64 {
		return
	}
	cell := func(off int) ir.Value {
		p := ptr
		p.Off += off
		return m.LoadCell(p)
	}
	id := cell(0).I
	switch id {
	case ClosureAddID:
		flattenClosure(m, cell(1), w, out, depth+1)
		flattenClosure(m, cell(2), w, out, depth+1)
	case ClosureMulID:
		cw := [3]float32{w[0] * cell(2).F, w[1] * cell(3).F, w[2] * cell(4).F}
		flattenClosure(m, cell(1), cw, out, depth+1)
	default:
		cw := [3]float32{w[0] * cell(1).F, w[1] * cell(2).F, w[2] * cell(3).F}
		*out = append(*out, ClosureWeight{ID: id, Weight: cw})
	}
}
