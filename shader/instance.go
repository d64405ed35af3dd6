package shader

import (
	"fmt"
)

// ErrArrayRebind is reported when an unsized-array parameter is given a
// value whose length disagrees with a length already fixed for it.
var ErrArrayRebind = fmt.Errorf("unsized array parameter rebound with a different length")

// ParamValue is one parameter value supplied when an instance is
// declared. Exactly one of the three slices is populated, matching the
// base type of the value.
type ParamValue struct {
	Name    string
	Type    TypeSpec
	Ints    []int32
	Floats  []float32
	Strings []string
}

// NumValues returns the number of scalar elements carried.
func (p *ParamValue) NumValues() int {
	if len(p.Ints) > 0 {
		return len(p.Ints)
	}
	if len(p.Floats) > 0 {
		return len(p.Floats)
	}
	return len(p.Strings)
}

// ParamHints carry the per-parameter interpolation flags supplied
// alongside a value.
type ParamHints struct {
	Interpolated bool
	Interactive  bool
}

// ConnectedParam identifies one endpoint of a connection.
type ConnectedParam struct {
	Param int // symbol index in the owning layer
	Type  TypeSpec
}

// Connection wires an upstream layer's output param into this layer's
// input param. SrcLayer indexes the group's layer list.
type Connection struct {
	SrcLayer int
	Src      ConnectedParam
	Dst      ConnectedParam
}

// Instance is one use of a master inside a group. Before specialization
// it carries only overrides against the shared master; afterwards it
// owns private copies of the symbol table and code.
type Instance struct {
	Master    *Master
	LayerName string
	ID        int

	// Per-param overrides, indexed by param position within the
	// master's parameter range. A DataOffset of -1 means the master's
	// offset stands.
	Overrides []SymOverride

	// Value pools seeded from the master's defaults, with instance
	// values written over them and unsized-array tails appended.
	IntValues    []int32
	FloatValues  []float32
	StringValues []string

	Connections []Connection

	// Private copies, present only after SpecializeFromMaster.
	Symbols []Symbol
	Ops     []Opcode
	Args    []int

	RunLazily bool
	Entry     bool

	specialized bool

	Warnings []string
}

// NewInstance creates an unspecialized instance of m with parameter
// pools seeded from the master's defaults.
func NewInstance(m *Master, layerName string, id int) *Instance {
	inst := &Instance{
		Master:    m,
		LayerName: layerName,
		ID:        id,
		Overrides: make([]SymOverride, m.NumParams()),
		RunLazily: true,
	}
	for i := range inst.Overrides {
		inst.Overrides[i].DataOffset = -1
	}
	inst.IntValues = append([]int32(nil), m.IntDefaults...)
	inst.FloatValues = append([]float32(nil), m.FloatDefaults...)
	inst.StringValues = append([]string(nil), m.StringDefaults...)
	return inst
}

// Specialized reports whether the instance owns private symbols and code.
func (inst *Instance) Specialized() bool { return inst.specialized }

func (inst *Instance) warnf(format string, args ...any) {
	inst.Warnings = append(inst.Warnings, fmt.Sprintf(format, args...))
}

// override returns the override slot for param symbol index sym.
func (inst *Instance) override(sym int) *SymOverride {
	return &inst.Overrides[sym-inst.Master.FirstParam]
}

// ParamOffset returns the pool offset holding the current value of the
// param at symbol index sym, honoring any unsized-array tail allocation.
func (inst *Instance) ParamOffset(sym int) int {
	ov := inst.override(sym)
	if ov.DataOffset >= 0 {
		return ov.DataOffset
	}
	return inst.Master.Symbols[sym].DataOffset
}

// ParamArrayLen returns the effective array length of the param at
// symbol index sym: the concrete length bound to an unsized array, or
// the declared length.
func (inst *Instance) ParamArrayLen(sym int) int {
	s := &inst.Master.Symbols[sym]
	if s.Type.IsUnsizedArray() {
		if ov := inst.override(sym); ov.ArrayLen > 0 {
			return ov.ArrayLen
		}
		return s.Initializers / s.Type.Aggregate
	}
	return s.Type.ArrayLen
}

// compatibleParam reports whether a value of type given may be bound to
// a param of type want. Equivalent types always qualify, and a triple
// param additionally accepts a single float, which is broadcast across
// its components.
func compatibleParam(want, given TypeSpec) bool {
	if Equivalent(want, given) {
		return true
	}
	return want.IsTriple() && given == TypeFloat
}

// BindParameters applies the supplied values and hints to the instance,
// implementing the declaration-time parameter binding rules. Values that
// exactly restore a locked default are discarded so the parameter stays
// at its default source, which keeps instances mergeable.
func (inst *Instance) BindParameters(params []ParamValue, hints map[string]ParamHints) error {
	m := inst.Master
	for i := range params {
		p := &params[i]
		sym := m.FindParam(p.Name)
		if sym < 0 {
			inst.warnf("parameter %q not found in shader %q", p.Name, m.Name)
			continue
		}
		s := &m.Symbols[sym]
		if s.Type.IsClosure() {
			inst.warnf("cannot bind closure parameter %q", p.Name)
			continue
		}
		if err := inst.bindOne(sym, s, p); err != nil {
			return err
		}
	}
	for name, h := range hints {
		sym := m.FindParam(name)
		if sym < 0 {
			continue
		}
		ov := inst.override(sym)
		ov.Interpolated = h.Interpolated
		ov.Interactive = h.Interactive
	}
	return nil
}

func (inst *Instance) bindOne(sym int, s *Symbol, p *ParamValue) error {
	given := p.Type
	relaxed := false
	switch {
	case compatibleParam(s.Type, given):
	case RelaxedEquivalent(s.Type, given):
		relaxed = true
	default:
		return fmt.Errorf("attempt to set parameter %s.%s (%s) with %s",
			inst.LayerName, p.Name, s.Type, given)
	}

	ints, floats, strs := p.Ints, p.Floats, p.Strings
	if relaxed && s.Type.IsFloatBased() && len(ints) > 0 {
		floats = make([]float32, len(ints))
		for i, v := range ints {
			floats[i] = float32(v)
		}
		ints = nil
	}
	if s.Type.IsIntBased() && len(floats) > 0 {
		return fmt.Errorf("attempt to set int parameter %s.%s with float values (lossy)",
			inst.LayerName, p.Name)
	}

	// A triple param given one float broadcasts it.
	if s.Type.IsTriple() && !s.Type.IsArray() && len(floats) == 1 {
		f := floats[0]
		floats = []float32{f, f, f}
	}

	ov := inst.override(sym)
	n := s.Type.NumElements()
	if s.Type.IsUnsizedArray() {
		elems := s.Type.Aggregate
		nvals := len(ints) + len(floats) + len(strs)
		if nvals%elems != 0 {
			return fmt.Errorf("parameter %s.%s: %d values do not fill %s elements",
				inst.LayerName, p.Name, nvals, s.Type)
		}
		alen := nvals / elems
		if ov.ArrayLen > 0 && ov.ArrayLen != alen {
			return fmt.Errorf("%w: %s.%s (%d, then %d)",
				ErrArrayRebind, inst.LayerName, p.Name, ov.ArrayLen, alen)
		}
		ov.ArrayLen = alen
		n = nvals
		// Allocate tail space at the end of the pool when the bound
		// length exceeds the default storage.
		if n > s.Initializers {
			switch s.Type.Base {
			case BaseInt:
				ov.DataOffset = len(inst.IntValues)
				inst.IntValues = append(inst.IntValues, make([]int32, n)...)
			case BaseString:
				ov.DataOffset = len(inst.StringValues)
				inst.StringValues = append(inst.StringValues, make([]string, n)...)
			default:
				ov.DataOffset = len(inst.FloatValues)
				inst.FloatValues = append(inst.FloatValues, make([]float32, n)...)
			}
		}
	} else {
		want := n
		got := len(ints) + len(floats) + len(strs)
		if got != want {
			return fmt.Errorf("parameter %s.%s: expected %d values, got %d",
				inst.LayerName, p.Name, want, got)
		}
	}

	off := inst.ParamOffset(sym)
	switch s.Type.Base {
	case BaseInt:
		copy(inst.IntValues[off:off+n], ints)
	case BaseString:
		copy(inst.StringValues[off:off+n], strs)
	default:
		copy(inst.FloatValues[off:off+n], floats)
	}

	// A value identical to a locked default is no override at all.
	if ov.DataOffset < 0 && s.Lockgeom() && !ov.Interpolated && !ov.Interactive &&
		!s.HasInitOps() && inst.valueEqualsDefault(s, off, n) {
		ov.Source = SourceDefault
		return nil
	}
	ov.Source = SourceInstance
	return nil
}

// valueEqualsDefault compares the instance's current value for s against
// the master's default bytes.
func (inst *Instance) valueEqualsDefault(s *Symbol, off, n int) bool {
	m := inst.Master
	switch s.Type.Base {
	case BaseInt:
		for i := 0; i < n; i++ {
			if inst.IntValues[off+i] != m.IntDefaults[off+i] {
				return false
			}
		}
	case BaseString:
		for i := 0; i < n; i++ {
			if inst.StringValues[off+i] != m.StringDefaults[off+i] {
				return false
			}
		}
	default:
		for i := 0; i < n; i++ {
			if inst.FloatValues[off+i] != m.FloatDefaults[off+i] {
				return false
			}
		}
	}
	return true
}

// AddConnection wires srcLayer's output param into dst. If dst is an
// unsized array and the source has a concrete length, the destination's
// length is fixed to match.
func (inst *Instance) AddConnection(srcLayer int, src, dst ConnectedParam) error {
	if dst.Type.IsUnsizedArray() && !src.Type.IsUnsizedArray() {
		ov := inst.override(dst.Param)
		alen := src.Type.ArrayLen
		if ov.ArrayLen > 0 && ov.ArrayLen != alen {
			return fmt.Errorf("%w: %s connection (%d, then %d)",
				ErrArrayRebind, inst.LayerName, ov.ArrayLen, alen)
		}
		ov.ArrayLen = alen
		dst.Type.ArrayLen = alen
	}
	ov := inst.override(dst.Param)
	ov.Source = SourceConnected
	inst.Connections = append(inst.Connections, Connection{
		SrcLayer: srcLayer, Src: src, Dst: dst,
	})
	if inst.specialized {
		inst.Symbols[dst.Param].Source = SourceConnected
		inst.Symbols[dst.Param].Connected = true
	}
	return nil
}

// SpecializeFromMaster gives the instance private copies of the master's
// symbol table and code with the instance's overrides folded in. It is
// idempotent; later calls are no-ops. rendererOutputs names the params
// the renderer will read from this layer.
func (inst *Instance) SpecializeFromMaster(rendererOutputs map[string]bool) {
	if inst.specialized {
		return
	}
	inst.specialized = true
	m := inst.Master
	inst.Symbols = append([]Symbol(nil), m.Symbols...)
	inst.Ops = append([]Opcode(nil), m.Ops...)
	inst.Args = append([]int(nil), m.Args...)

	for i := m.FirstParam; i < m.LastParam; i++ {
		s := &inst.Symbols[i]
		ov := &inst.Overrides[i-m.FirstParam]
		s.Source = ov.Source
		if s.Source == SourceDefault && s.HasInitOps() {
			s.Source = SourceInitOps
		}
		s.Interpolated = ov.Interpolated
		s.Interactive = ov.Interactive
		s.Connected = ov.Source == SourceConnected
		s.ConnectedDown = ov.ConnectedDown
		if ov.DataOffset >= 0 {
			s.DataOffset = ov.DataOffset
		}
		if s.Type.IsUnsizedArray() {
			alen := ov.ArrayLen
			if alen == 0 {
				// Left at default: the length is however many elements
				// the default value holds.
				alen = s.Initializers / s.Type.Aggregate
			}
			s.Type.ArrayLen = alen
		}
		if rendererOutputs[s.Name] && (s.Kind == SymOutputParam || s.Kind == SymParam) {
			s.RendererOutput = true
		}
	}
	for _, c := range inst.Connections {
		inst.Symbols[c.Dst.Param].Connected = true
		inst.Symbols[c.Dst.Param].Source = SourceConnected
	}
}

// MarkConnectedDown flags the param at symbol index sym as feeding a
// downstream layer.
func (inst *Instance) MarkConnectedDown(sym int) {
	inst.override(sym).ConnectedDown = true
	if inst.specialized {
		inst.Symbols[sym].ConnectedDown = true
	}
}

// WritesGlobals reports whether the layer writes any global variable,
// and UserDataParams whether any parameter would be fetched from
// geometric user data at execution time. A layer for which both are
// false and which feeds nothing downstream can be skipped entirely.
func (inst *Instance) WritesGlobals() (writesGlobals, userDataParams bool) {
	m := inst.Master
	if inst.specialized {
		for i := range inst.Symbols {
			s := &inst.Symbols[i]
			if s.Kind == SymTemp {
				break
			}
			if s.Kind == SymGlobal && s.EverWritten {
				writesGlobals = true
			}
			if (s.Kind == SymParam || s.Kind == SymOutputParam) &&
				s.Interpolated && !s.Connected {
				userDataParams = true
			}
		}
		return
	}
	// Not yet specialized: consult the master for globals and the
	// overrides for interpolation.
	for i := range m.Symbols {
		s := &m.Symbols[i]
		if s.Kind == SymTemp {
			break
		}
		if s.Kind == SymGlobal && s.EverWritten {
			writesGlobals = true
		}
	}
	for i := range inst.Overrides {
		ov := &inst.Overrides[i]
		if ov.Interpolated && ov.Source != SourceConnected {
			userDataParams = true
		}
	}
	return
}

// FindSymbol returns the index of the named symbol, consulting the
// private table when specialized.
func (inst *Instance) FindSymbol(name string) int {
	if inst.specialized {
		for i := range inst.Symbols {
			if inst.Symbols[i].Name == name {
				return i
			}
		}
		return -1
	}
	return inst.Master.FindSymbol(name)
}

// Symbol returns the symbol at index i, from the private table when
// specialized and the master otherwise.
func (inst *Instance) Symbol(i int) *Symbol {
	if inst.specialized {
		return &inst.Symbols[i]
	}
	return &inst.Master.Symbols[i]
}
