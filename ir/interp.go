package ir

import "fmt"

// ExternFunc is a host callback invokable from IR. Externs back renderer
// services, shadeops and closure hooks.
type ExternFunc func(m *Machine, args []Value) (Value, error)

// Machine executes a Program. It owns the cell buffers pointers refer
// to and the extern registry. A Machine is single-threaded; concurrent
// executions need separate Machines.
type Machine struct {
	Program *Program
	Externs map[string]ExternFunc

	buffers [][]Value

	// MaxSteps bounds total instructions executed per Run call, so a
	// runaway loop fails instead of hanging.
	MaxSteps int

	steps int
	depth int
}

// NewMachine creates a machine for p with an empty extern registry.
func NewMachine(p *Program) *Machine {
	return &Machine{
		Program:  p,
		Externs:  make(map[string]ExternFunc),
		buffers:  make([][]Value, 1), // buffer 0 is the nil pointer
		MaxSteps: 10_000_000,
	}
}

// RegisterExtern installs fn under name, replacing any previous binding.
func (m *Machine) RegisterExtern(name string, fn ExternFunc) {
	m.Externs[name] = fn
}

// NewBuffer allocates a host-visible buffer of n cells and returns a
// pointer to its first cell.
func (m *Machine) NewBuffer(n int) Value {
	m.buffers = append(m.buffers, make([]Value, n))
	return Value{Kind: KindPtr, Buf: len(m.buffers) - 1}
}

// LoadCell reads the cell ptr refers to.
func (m *Machine) LoadCell(ptr Value) Value {
	return m.buffers[ptr.Buf][ptr.Off]
}

// StoreCell writes val into the cell ptr refers to.
func (m *Machine) StoreCell(ptr, val Value) {
	m.buffers[ptr.Buf][ptr.Off] = val
}

// Run executes the named function with the given arguments and returns
// whatever its return instruction yields.
func (m *Machine) Run(name string, args ...Value) ([]Value, error) {
	fn := m.Program.Lookup(name)
	if fn == nil {
		return nil, fmt.Errorf("ir: function %q not found", name)
	}
	m.steps = 0
	return m.call(fn, args)
}

const maxCallDepth = 256

func (m *Machine) call(fn *Function, args []Value) ([]Value, error) {
	if len(args) != fn.NumParams {
		return nil, fmt.Errorf("ir: %s wants %d args, got %d", fn.Name, fn.NumParams, len(args))
	}
	if m.depth++; m.depth > maxCallDepth {
		m.depth--
		return nil, fmt.Errorf("ir: call depth exceeded in %s", fn.Name)
	}
	defer func() { m.depth-- }()

	vals := make([]Value, fn.NumValues)
	copy(vals[1:], args)

	block := BlockID(0)
	for {
		insts := fn.Blocks[block].Insts
		for i := range insts {
			inst := &insts[i]
			if m.steps++; m.steps > m.MaxSteps {
				return nil, fmt.Errorf("ir: step limit exceeded in %s", fn.Name)
			}
			switch inst.Op {
			case OpBranch:
				block = inst.True
			case OpCondBranch:
				if vals[inst.Args[0]].Truthy() {
					block = inst.True
				} else {
					block = inst.False
				}
			case OpReturn:
				out := make([]Value, len(inst.Args))
				for j, a := range inst.Args {
					out[j] = vals[a]
				}
				return out, nil
			default:
				v, err := m.eval(fn, inst, vals)
				if err != nil {
					return nil, err
				}
				if inst.Result != NoValue {
					vals[inst.Result] = v
				}
				continue
			}
			break
		}
	}
}

//nolint:gocyclo // flat opcode dispatch
func (m *Machine) eval(fn *Function, inst *Instruction, vals []Value) (Value, error) {
	arg := func(i int) Value { return vals[inst.Args[i]] }
	switch inst.Op {
	case OpConstF:
		return FloatVal(inst.F), nil
	case OpConstI:
		return IntVal(inst.I), nil
	case OpConstS:
		return StringVal(inst.S), nil
	case OpConstB:
		return BoolVal(inst.B), nil

	case OpAlloca:
		return m.NewBuffer(inst.Count), nil
	case OpOffset:
		p := arg(0)
		p.Off += int(arg(1).I)
		return p, nil
	case OpLoad:
		return m.LoadCell(arg(0)), nil
	case OpStore:
		m.StoreCell(arg(0), arg(1))
		return Value{}, nil
	case OpMemset:
		p := arg(0)
		cells := m.buffers[p.Buf][p.Off : p.Off+inst.Count]
		for i := range cells {
			cells[i] = Value{}
		}
		return Value{}, nil
	case OpMemcpy:
		d, s := arg(0), arg(1)
		copy(m.buffers[d.Buf][d.Off:d.Off+inst.Count],
			m.buffers[s.Buf][s.Off:s.Off+inst.Count])
		return Value{}, nil

	case OpFAdd:
		return FloatVal(arg(0).F + arg(1).F), nil
	case OpFSub:
		return FloatVal(arg(0).F - arg(1).F), nil
	case OpFMul:
		return FloatVal(arg(0).F * arg(1).F), nil
	case OpFDiv:
		return FloatVal(arg(0).F / arg(1).F), nil
	case OpFNeg:
		return FloatVal(-arg(0).F), nil

	case OpIAdd:
		return IntVal(arg(0).I + arg(1).I), nil
	case OpISub:
		return IntVal(arg(0).I - arg(1).I), nil
	case OpIMul:
		return IntVal(arg(0).I * arg(1).I), nil
	case OpIDiv:
		if arg(1).I == 0 {
			return IntVal(0), nil
		}
		return IntVal(arg(0).I / arg(1).I), nil
	case OpIMod:
		if arg(1).I == 0 {
			return IntVal(0), nil
		}
		return IntVal(arg(0).I % arg(1).I), nil
	case OpINeg:
		return IntVal(-arg(0).I), nil
	case OpIAnd:
		return IntVal(arg(0).I & arg(1).I), nil
	case OpIOr:
		return IntVal(arg(0).I | arg(1).I), nil
	case OpIXor:
		return IntVal(arg(0).I ^ arg(1).I), nil
	case OpICompl:
		return IntVal(^arg(0).I), nil
	case OpIShl:
		return IntVal(arg(0).I << uint32(arg(1).I)), nil
	case OpIShr:
		return IntVal(arg(0).I >> uint32(arg(1).I)), nil

	case OpFEq:
		return BoolVal(arg(0).F == arg(1).F), nil
	case OpFNe:
		return BoolVal(arg(0).F != arg(1).F), nil
	case OpFLt:
		return BoolVal(arg(0).F < arg(1).F), nil
	case OpFLe:
		return BoolVal(arg(0).F <= arg(1).F), nil
	case OpFGt:
		return BoolVal(arg(0).F > arg(1).F), nil
	case OpFGe:
		return BoolVal(arg(0).F >= arg(1).F), nil
	case OpIEq:
		return BoolVal(arg(0).I == arg(1).I), nil
	case OpINe:
		return BoolVal(arg(0).I != arg(1).I), nil
	case OpILt:
		return BoolVal(arg(0).I < arg(1).I), nil
	case OpILe:
		return BoolVal(arg(0).I <= arg(1).I), nil
	case OpIGt:
		return BoolVal(arg(0).I > arg(1).I), nil
	case OpIGe:
		return BoolVal(arg(0).I >= arg(1).I), nil
	case OpSEq:
		return BoolVal(arg(0).S == arg(1).S), nil
	case OpSNe:
		return BoolVal(arg(0).S != arg(1).S), nil

	case OpNot:
		return BoolVal(!arg(0).Truthy()), nil
	case OpSelect:
		if arg(0).Truthy() {
			return arg(1), nil
		}
		return arg(2), nil
	case OpBoolToInt:
		if arg(0).B {
			return IntVal(1), nil
		}
		return IntVal(0), nil
	case OpIntToBool:
		return BoolVal(arg(0).I != 0), nil
	case OpIntToFloat:
		return FloatVal(float32(arg(0).I)), nil
	case OpFloatToInt:
		return IntVal(int32(arg(0).F)), nil

	case OpCall:
		args := make([]Value, len(inst.Args))
		for i, a := range inst.Args {
			args[i] = vals[a]
		}
		if callee := m.Program.Lookup(inst.Name); callee != nil {
			out, err := m.call(callee, args)
			if err != nil {
				return Value{}, err
			}
			if len(out) > 0 {
				return out[0], nil
			}
			return Value{}, nil
		}
		if ext := m.Externs[inst.Name]; ext != nil {
			return ext(m, args)
		}
		return Value{}, fmt.Errorf("ir: %s calls unknown function %q", fn.Name, inst.Name)

	case OpDebugPush, OpDebugPop:
		return Value{}, nil
	}
	return Value{}, fmt.Errorf("ir: %s: invalid opcode %d", fn.Name, inst.Op)
}
