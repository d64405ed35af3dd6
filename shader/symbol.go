package shader

// SymType is the storage category of a symbol.
type SymType uint8

const (
	SymGlobal SymType = iota
	SymParam
	SymOutputParam
	SymLocal
	SymTemp
	SymConst
)

func (s SymType) String() string {
	switch s {
	case SymGlobal:
		return "global"
	case SymParam:
		return "param"
	case SymOutputParam:
		return "oparam"
	case SymLocal:
		return "local"
	case SymTemp:
		return "temp"
	case SymConst:
		return "const"
	}
	return "unknown"
}

// ValueSource says where a parameter's value comes from.
type ValueSource uint8

const (
	// SourceDefault means the master's default value (or init ops, see
	// SourceInitOps) stands.
	SourceDefault ValueSource = iota
	// SourceInstance means the value was supplied when the instance was
	// declared.
	SourceInstance
	// SourceConnected means the value flows in from an upstream layer.
	SourceConnected
	// SourceInitOps means the value is computed by the parameter's
	// initialization ops at execution time.
	SourceInitOps
)

// Symbol is one named, typed storage slot in a master or instance symbol
// table. The data offset indexes one of three flat pools (int/float/
// string) owned by the master (defaults) or the instance (parameter
// values), selected by the symbol's base type.
type Symbol struct {
	Name string
	Type TypeSpec
	Kind SymType

	Source ValueSource

	// HasDerivs is set only for float-based symbols; int and string
	// symbols never carry derivative channels.
	HasDerivs bool

	Interpolated bool
	Interactive  bool

	Connected     bool // receives a connection
	ConnectedDown bool // feeds a downstream layer

	EverRead        bool
	EverWritten     bool
	EverUsedInGroup bool

	RendererOutput bool

	// FieldID distinguishes struct fields that share a mangled name.
	FieldID int

	// DataOffset indexes the int/float/string pool matching Type.Base.
	DataOffset int

	// InitBegin/InitEnd delimit the parameter's initialization ops in
	// the opcode stream (equal when there are none).
	InitBegin, InitEnd int

	// Initializers is the number of elements in the master's default
	// value, used to fix up unsized-array lengths left at default.
	Initializers int
}

// EverUsed reports whether the symbol is read or written anywhere in its
// own layer.
func (s *Symbol) EverUsed() bool { return s.EverRead || s.EverWritten }

// HasInitOps reports whether the parameter carries initialization ops.
func (s *Symbol) HasInitOps() bool { return s.InitEnd > s.InitBegin }

// Lockgeom reports whether the parameter is immune to per-geometry and
// interactive overrides, which is what makes its value a true constant
// for the optimizer.
func (s *Symbol) Lockgeom() bool { return !s.Interpolated && !s.Interactive }

// SymOverride records per-instance parameter state before the instance
// has its own symbol table. It mirrors the subset of Symbol that can
// differ between instances of one master, so that merging and
// serialization work on unspecialized instances without paying for a
// full symbol table copy.
type SymOverride struct {
	Source        ValueSource
	ArrayLen      int // concrete length given to an unsized array, else 0
	Interpolated  bool
	Interactive   bool
	ConnectedDown bool
	DataOffset    int
}

// equivalentOverride is the override comparison used by the merge test.
// The caller handles the Default/Instance deferral; this is the strict
// per-field check.
func equivalentOverride(a, b *SymOverride) bool {
	return a.Source == b.Source && a.ArrayLen == b.ArrayLen &&
		a.Interpolated == b.Interpolated && a.Interactive == b.Interactive &&
		a.ConnectedDown == b.ConnectedDown
}

// equivalentSymbol compares two symbols from the point of view of merging
// shader instances. It is deliberately not a full equality: unused
// symbols compare equal, and temp/const names are ignored. Constant data
// bytes are compared by the caller, which owns the value pools.
func equivalentSymbol(a, b *Symbol) bool {
	if !a.EverUsed() && !b.EverUsed() {
		return true
	}
	if a.Kind != b.Kind || a.Type != b.Type {
		return false
	}
	if a.Kind != SymTemp && a.Kind != SymConst && a.Name != b.Name {
		return false
	}
	return a.HasDerivs == b.HasDerivs && a.Lockgeom() == b.Lockgeom() &&
		a.Source == b.Source && a.FieldID == b.FieldID &&
		a.InitBegin == b.InitBegin && a.InitEnd == b.InitEnd
}
