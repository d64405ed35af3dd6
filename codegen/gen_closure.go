package codegen

import (
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

// genClosure lowers a closure(...) construction. The component block is
// allocated by an extern, positional params are filled in declaration
// order, then the setup hook runs and any keyword params follow.
func (g *layerGen) genClosure(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, Name := args[0], args[1]

	ns := g.sym(Name)
	if ns.Kind != shader.SymConst || !ns.Type.IsString() {
		g.be.opErrorf(g.inst, op, "closure name must be a constant string")
		return nil
	}
	name := g.inst.StringValues[ns.DataOffset]
	entry := g.be.closures.Lookup(name)
	if entry == nil {
		g.be.opErrorf(g.inst, op, "unknown closure %q", name)
		return nil
	}

	ptr := g.b.Call("osl_allocate_closure_component",
		g.b.ConstI(entry.ID), g.b.ConstI(int32(entry.Size)))
	if entry.Prepare != "" {
		g.b.Call(entry.Prepare, g.sg, ptr)
	}

	rest := args[2:]
	for _, p := range entry.PositionalParams() {
		if len(rest) == 0 {
			g.be.opErrorf(g.inst, op, "closure %q missing argument %q", name, p.Name)
			break
		}
		g.fillClosureParam(op, name, ptr, p, rest[0])
		rest = rest[1:]
	}

	if entry.Setup != "" {
		g.b.Call(entry.Setup, g.sg, ptr)
	}

	for len(rest) >= 2 {
		keySym, valSym := rest[0], rest[1]
		rest = rest[2:]
		ks := g.sym(keySym)
		if ks.Kind != shader.SymConst || !ks.Type.IsString() {
			g.be.opErrorf(g.inst, op, "closure %q keyword name must be a constant string", name)
			continue
		}
		key := g.inst.StringValues[ks.DataOffset]
		p, ok := entry.KeyParam(key)
		if !ok {
			g.be.warnf("%s:%d: layer %q (%s): closure %q has no keyword %q",
				op.SourceFile, op.SourceLine, g.inst.LayerName, g.inst.Master.Name, name, key)
			continue
		}
		g.fillClosureParam(op, name, ptr, p, valSym)
	}
	if len(rest) != 0 {
		g.be.opErrorf(g.inst, op, "closure %q has a dangling keyword argument", name)
	}

	g.storeComp(R, 0, 0, ptr)
	return nil
}

// fillClosureParam stores one argument into its cells of the component
// block. A float argument broadcasts into a triple param.
func (g *layerGen) fillClosureParam(op *shader.Opcode, name string, ptr ir.ValueID, p runtime.ClosureParam, sym int) {
	s := g.sym(sym)
	switch {
	case p.Type.IsString():
		if !s.Type.IsString() {
			g.be.opErrorf(g.inst, op, "closure %q param %q wants a string, got %s",
				name, p.Name, s.Type)
			return
		}
		g.b.Store(g.b.OffsetConst(ptr, p.Offset), g.loadComp(sym, 0, 0))
	case p.Type.IsIntBased():
		if !s.Type.IsIntBased() {
			g.be.opErrorf(g.inst, op, "closure %q param %q wants an int, got %s",
				name, p.Name, s.Type)
			return
		}
		g.b.Store(g.b.OffsetConst(ptr, p.Offset), g.loadArgI(sym, 0))
	default:
		n := p.Type.NumElements()
		if !s.Type.IsFloatBased() && !s.Type.IsIntBased() {
			g.be.opErrorf(g.inst, op, "closure %q param %q wants a float type, got %s",
				name, p.Name, s.Type)
			return
		}
		for c := 0; c < n; c++ {
			g.b.Store(g.b.OffsetConst(ptr, p.Offset+c), g.loadArgF(sym, c, 0))
		}
	}
}
