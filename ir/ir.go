package ir

import "fmt"

// ValueID identifies an SSA value within one function.
type ValueID uint32

// BlockID identifies a basic block within one function.
type BlockID uint32

// NoValue is returned by instructions that produce nothing.
const NoValue ValueID = 0

// Op is an instruction opcode.
type Op uint8

const (
	OpInvalid Op = iota

	// Constants.
	OpConstF
	OpConstI
	OpConstS
	OpConstB

	// Memory.
	OpAlloca // allocate Count cells, result is a pointer to cell 0
	OpOffset // pointer arithmetic in cells
	OpLoad
	OpStore
	OpMemset // zero Count cells starting at pointer
	OpMemcpy // copy Count cells between pointers

	// Float arithmetic.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg

	// Int arithmetic and bitwise.
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpIMod
	OpINeg
	OpIAnd
	OpIOr
	OpIXor
	OpICompl
	OpIShl
	OpIShr

	// Comparisons, producing bools.
	OpFEq
	OpFNe
	OpFLt
	OpFLe
	OpFGt
	OpFGe
	OpIEq
	OpINe
	OpILt
	OpILe
	OpIGt
	OpIGe
	OpSEq
	OpSNe

	// Bool logic and conversions.
	OpNot
	OpSelect
	OpBoolToInt
	OpIntToBool
	OpIntToFloat
	OpFloatToInt

	// Calls and control flow.
	OpCall
	OpBranch
	OpCondBranch
	OpReturn

	// Debug scope markers, ignored by the interpreter.
	OpDebugPush
	OpDebugPop
)

// Instruction is one IR operation. The used fields depend on Op.
type Instruction struct {
	Op     Op
	Result ValueID
	Args   []ValueID

	// Branch targets: True/False for OpCondBranch, True for OpBranch.
	True, False BlockID

	Count int // cell count for Alloca/Memset/Memcpy

	Name string  // callee for OpCall, scope name for OpDebugPush
	F    float32 // OpConstF
	I    int32   // OpConstI
	B    bool    // OpConstB
	S    string  // OpConstS, OpDebugPush file
	Line int     // OpDebugPush
}

// Block is a labeled list of instructions ending in a branch or return.
type Block struct {
	Name  string
	Insts []Instruction
}

// Function is one lowered layer or init entry point.
type Function struct {
	Name      string
	NumParams int
	NumValues int // ValueIDs allocated, for interpreter frame sizing
	Blocks    []Block
}

// Program is a compiled shader group: one callable per layer plus any
// support functions the backend emitted.
type Program struct {
	Funcs map[string]*Function
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{Funcs: make(map[string]*Function)}
}

// Add registers fn, failing on duplicate names.
func (p *Program) Add(fn *Function) error {
	if _, ok := p.Funcs[fn.Name]; ok {
		return fmt.Errorf("ir: duplicate function %q", fn.Name)
	}
	p.Funcs[fn.Name] = fn
	return nil
}

// Lookup returns the named function, or nil.
func (p *Program) Lookup(name string) *Function {
	return p.Funcs[name]
}

// ValueKind tags the runtime representation of a Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindFloat
	KindInt
	KindBool
	KindString
	KindPtr
)

// Value is a runtime value in the interpreter. Pointers name a buffer
// owned by the Machine plus a cell offset into it.
type Value struct {
	Kind ValueKind
	F    float32
	I    int32
	B    bool
	S    string
	Buf  int
	Off  int
}

// FloatVal wraps f.
func FloatVal(f float32) Value { return Value{Kind: KindFloat, F: f} }

// IntVal wraps i.
func IntVal(i int32) Value { return Value{Kind: KindInt, I: i} }

// BoolVal wraps b.
func BoolVal(b bool) Value { return Value{Kind: KindBool, B: b} }

// StringVal wraps s.
func StringVal(s string) Value { return Value{Kind: KindString, S: s} }

// Truthy converts a value to a branch condition.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	}
	return false
}
