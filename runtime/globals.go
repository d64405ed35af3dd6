package runtime

import "github.com/gogpu/osl/ir"

// GlobalSlot describes where one shader global lives in the globals
// buffer. Float globals occupy three planes of N cells each: value,
// x derivative, y derivative.
type GlobalSlot struct {
	Name string
	Off  int
	N    int
}

// GlobalSlots is the fixed layout of the shader globals buffer.
var GlobalSlots = []GlobalSlot{
	{Name: "P", Off: 0, N: 3},
	{Name: "I", Off: 9, N: 3},
	{Name: "N", Off: 18, N: 3},
	{Name: "Ng", Off: 27, N: 3},
	{Name: "dPdu", Off: 36, N: 3},
	{Name: "dPdv", Off: 45, N: 3},
	{Name: "u", Off: 54, N: 1},
	{Name: "v", Off: 57, N: 1},
	{Name: "time", Off: 60, N: 1},
}

// RaytypeOffset is the int cell holding the active ray type bits.
const RaytypeOffset = 63

// GlobalsSize is the cell count of the globals buffer.
const GlobalsSize = 64

// FindGlobal returns the slot for a global name, or false.
func FindGlobal(name string) (GlobalSlot, bool) {
	for _, s := range GlobalSlots {
		if s.Name == name {
			return s, true
		}
	}
	return GlobalSlot{}, false
}

// GlobalValue is one global's value and optional derivatives, each N
// floats long.
type GlobalValue struct {
	Val []float32
	Dx  []float32
	Dy  []float32
}

// Globals maps global names to the values the renderer supplies for one
// shading point.
type Globals map[string]GlobalValue

// NewGlobalsBuffer allocates and fills a globals buffer on m. Unknown
// names are ignored; missing derivatives stay zero.
func NewGlobalsBuffer(m *ir.Machine, g Globals, raytype int32) ir.Value {
	sg := m.NewBuffer(GlobalsSize)
	for name, v := range g {
		slot, ok := FindGlobal(name)
		if !ok {
			continue
		}
		writePlane(m, sg, slot.Off, v.Val, slot.N)
		writePlane(m, sg, slot.Off+slot.N, v.Dx, slot.N)
		writePlane(m, sg, slot.Off+2*slot.N, v.Dy, slot.N)
	}
	p := sg
	p.Off = RaytypeOffset
	m.StoreCell(p, ir.IntVal(raytype))
	return sg
}

func writePlane(m *ir.Machine, sg ir.Value, off int, vals []float32, n int) {
	for i := 0; i < n && i < len(vals); i++ {
		p := sg
		p.Off = off + i
		m.StoreCell(p, ir.FloatVal(vals[i]))
	}
}
