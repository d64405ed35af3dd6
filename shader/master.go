package shader

// Opcode is a single operation in a master's code stream. Arguments are
// indices into the master's Args slice, which in turn indexes the symbol
// table.
type Opcode struct {
	Name     string
	FirstArg int
	NArgs    int

	// Jumps are targets into the code stream used by the structured
	// control flow ops (if, for, while, dowhile, functioncall). Unused
	// slots hold -1.
	Jumps [4]int

	SourceFile string
	SourceLine int
}

// JumpTargets returns the used jump targets in order.
func (op *Opcode) JumpTargets() []int {
	n := 0
	for n < len(op.Jumps) && op.Jumps[n] >= 0 {
		n++
	}
	return op.Jumps[:n]
}

// FarthestJump returns the largest jump target, or -1 when the op has
// none. It bounds the extent of the op's structured region.
func (op *Opcode) FarthestJump() int {
	far := -1
	for _, j := range op.Jumps {
		if j > far {
			far = j
		}
	}
	return far
}

// Master is the compiled, immutable form of one shader. Instances share
// a master and carry only their own parameter overrides until
// specialization gives them a private copy of the symbol table and code.
type Master struct {
	Name       string
	ShaderType string

	Symbols []Symbol
	Ops     []Opcode
	Args    []int

	// Default value pools, indexed by Symbol.DataOffset.
	IntDefaults    []int32
	FloatDefaults  []float32
	StringDefaults []string

	// Param symbols occupy the contiguous range [FirstParam, LastParam).
	FirstParam, LastParam int

	// Main code is [MainCodeBegin, MainCodeEnd); everything before it is
	// parameter init ops.
	MainCodeBegin, MainCodeEnd int

	RangeChecking bool
}

// FindSymbol returns the index of the named symbol, or -1.
func (m *Master) FindSymbol(name string) int {
	for i := range m.Symbols {
		if m.Symbols[i].Name == name {
			return i
		}
	}
	return -1
}

// FindParam returns the index of the named param or output param symbol,
// or -1. Only the parameter range is searched.
func (m *Master) FindParam(name string) int {
	for i := m.FirstParam; i < m.LastParam; i++ {
		if m.Symbols[i].Name == name {
			return i
		}
	}
	return -1
}

// Symbol returns the symbol at index i.
func (m *Master) Symbol(i int) *Symbol { return &m.Symbols[i] }

// OpArgs returns the symbol indices of op's arguments.
func (m *Master) OpArgs(op *Opcode) []int {
	return m.Args[op.FirstArg : op.FirstArg+op.NArgs]
}

// NumParams returns the number of param and output param symbols.
func (m *Master) NumParams() int { return m.LastParam - m.FirstParam }

// ParamDefaultFloats returns the declared default values of a float-based
// param, or nil when the param holds no float defaults.
func (m *Master) ParamDefaultFloats(sym int) []float32 {
	s := &m.Symbols[sym]
	if s.Type.Base == BaseInt || s.Type.Base == BaseString || s.Initializers == 0 {
		return nil
	}
	return m.FloatDefaults[s.DataOffset : s.DataOffset+s.Initializers]
}

// ParamDefaultInts returns the declared default values of an int param.
func (m *Master) ParamDefaultInts(sym int) []int32 {
	s := &m.Symbols[sym]
	if s.Type.Base != BaseInt || s.Initializers == 0 {
		return nil
	}
	return m.IntDefaults[s.DataOffset : s.DataOffset+s.Initializers]
}

// ParamDefaultStrings returns the declared default values of a string param.
func (m *Master) ParamDefaultStrings(sym int) []string {
	s := &m.Symbols[sym]
	if s.Type.Base != BaseString || s.Initializers == 0 {
		return nil
	}
	return m.StringDefaults[s.DataOffset : s.DataOffset+s.Initializers]
}
