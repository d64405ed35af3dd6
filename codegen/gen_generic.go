package codegen

import (
	"strings"

	"github.com/gogpu/osl/ir"
)

// genGeneric lowers any op without a dedicated generator to an extern
// call named after the op and its argument shapes, the convention the
// runtime library registers its functions under. sin on a dual float
// becomes osl_sin_dfdf; cross on triples becomes osl_cross_vvv.
func (g *layerGen) genGeneric(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	if len(args) == 0 {
		g.b.Call("osl_" + op.Name)
		return nil
	}
	R := args[0]
	sR := g.sym(R)

	derivCall := g.hasDerivs(R) && !sR.Type.IsMatrix() && g.anyArgDerivs(args[1:]...)

	var name strings.Builder
	name.WriteString("osl_")
	name.WriteString(op.Name)
	name.WriteByte('_')
	if derivCall {
		name.WriteByte('d')
	}
	name.WriteString(typeCode(R, g))
	for _, a := range args[1:] {
		if derivCall && g.hasDerivs(a) && !g.sym(a).Type.IsMatrix() {
			name.WriteByte('d')
		}
		name.WriteString(typeCode(a, g))
	}

	// Scalar non-dual results come back as the return value; aggregates
	// and duals are written through a result pointer passed first.
	byValue := !derivCall && aggregate(sR) == 1
	var callArgs []ir.ValueID
	if !byValue {
		callArgs = append(callArgs, g.symPtr(R))
	}
	for _, a := range args[1:] {
		sa := g.sym(a)
		argDual := derivCall && g.hasDerivs(a) && !sa.Type.IsMatrix()
		switch {
		case argDual || aggregate(sa) > 1:
			callArgs = append(callArgs, g.symPtr(a))
		case sa.Type.IsString():
			callArgs = append(callArgs, g.loadComp(a, 0, 0))
		case sa.Type.IsIntBased():
			callArgs = append(callArgs, g.loadArgI(a, 0))
		default:
			callArgs = append(callArgs, g.loadArgF(a, 0, 0))
		}
	}

	v := g.b.Call(name.String(), callArgs...)
	if byValue {
		g.storeComp(R, 0, 0, v)
	}
	if !derivCall {
		g.zeroDerivs(R)
	}
	return nil
}

// typeCode is the one-letter shape code used in extern names.
func typeCode(sym int, g *layerGen) string {
	t := g.sym(sym).Type
	switch {
	case t.IsMatrix():
		return "m"
	case t.Aggregate == 3 && t.IsFloatBased():
		return "v"
	case t.IsString():
		return "s"
	case t.IsIntBased():
		return "i"
	default:
		return "f"
	}
}
