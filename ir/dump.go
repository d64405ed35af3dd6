package ir

import (
	"fmt"
	"strconv"
	"strings"
)

var opNames = map[Op]string{
	OpConstF: "constf", OpConstI: "consti", OpConstS: "consts", OpConstB: "constb",
	OpAlloca: "alloca", OpOffset: "offset", OpLoad: "load", OpStore: "store",
	OpMemset: "memset", OpMemcpy: "memcpy",
	OpFAdd: "fadd", OpFSub: "fsub", OpFMul: "fmul", OpFDiv: "fdiv", OpFNeg: "fneg",
	OpIAdd: "iadd", OpISub: "isub", OpIMul: "imul", OpIDiv: "idiv", OpIMod: "imod",
	OpINeg: "ineg", OpIAnd: "iand", OpIOr: "ior", OpIXor: "ixor", OpICompl: "icompl",
	OpIShl: "ishl", OpIShr: "ishr",
	OpFEq: "feq", OpFNe: "fne", OpFLt: "flt", OpFLe: "fle", OpFGt: "fgt", OpFGe: "fge",
	OpIEq: "ieq", OpINe: "ine", OpILt: "ilt", OpILe: "ile", OpIGt: "igt", OpIGe: "ige",
	OpSEq: "seq", OpSNe: "sne",
	OpNot: "not", OpSelect: "select",
	OpBoolToInt: "b2i", OpIntToBool: "i2b", OpIntToFloat: "i2f", OpFloatToInt: "f2i",
	OpCall: "call", OpBranch: "br", OpCondBranch: "condbr", OpReturn: "ret",
	OpDebugPush: "debug.push", OpDebugPop: "debug.pop",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Dump writes every function of p in a readable text form, mostly for
// debugging lowered groups.
func (p *Program) Dump() string {
	var b strings.Builder
	for _, f := range p.Funcs {
		b.WriteString(f.Dump())
		b.WriteByte('\n')
	}
	return b.String()
}

// Dump renders one function.
func (f *Function) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(%d params)\n", f.Name, f.NumParams)
	for bi := range f.Blocks {
		blk := &f.Blocks[bi]
		fmt.Fprintf(&b, "b%d: ; %s\n", bi, blk.Name)
		for ii := range blk.Insts {
			b.WriteString("\t")
			b.WriteString(dumpInst(&blk.Insts[ii]))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func dumpInst(in *Instruction) string {
	var b strings.Builder
	if in.Result != NoValue {
		fmt.Fprintf(&b, "v%d = ", in.Result)
	}
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpConstF:
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(float64(in.F), 'g', -1, 32))
	case OpConstI:
		fmt.Fprintf(&b, " %d", in.I)
	case OpConstS:
		fmt.Fprintf(&b, " %q", in.S)
	case OpConstB:
		fmt.Fprintf(&b, " %t", in.B)
	case OpCall:
		fmt.Fprintf(&b, " %s", in.Name)
	case OpDebugPush:
		fmt.Fprintf(&b, " %s %s:%d", in.Name, in.S, in.Line)
	}
	for _, a := range in.Args {
		fmt.Fprintf(&b, " v%d", a)
	}
	if in.Count > 0 {
		fmt.Fprintf(&b, " [%d]", in.Count)
	}
	switch in.Op {
	case OpBranch:
		fmt.Fprintf(&b, " b%d", in.True)
	case OpCondBranch:
		fmt.Fprintf(&b, " b%d b%d", in.True, in.False)
	}
	return b.String()
}
