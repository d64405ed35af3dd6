package codegen

import (
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/shader"
)

// constIndex returns an index argument's compile-time value, if it is a
// constant.
func (g *layerGen) constIndex(sym int) (int, bool) {
	s := g.sym(sym)
	if s.Kind != shader.SymConst || !s.Type.IsIntBased() {
		return 0, false
	}
	return int(g.inst.IntValues[s.DataOffset]), true
}

// rangeCheck clamps a runtime index into [0, length) through the
// checked extern, which reports the fault with full source context.
func (g *layerGen) rangeCheck(idx ir.ValueID, length int, symName string, op *shader.Opcode) ir.ValueID {
	if !g.be.opts.RangeChecking || !g.inst.Master.RangeChecking {
		return idx
	}
	return g.b.Call("osl_range_check",
		idx,
		g.b.ConstI(int32(length)),
		g.b.ConstS(symName),
		g.b.ConstS(op.SourceFile),
		g.b.ConstI(int32(op.SourceLine)),
		g.b.ConstS(g.be.group.Name),
		g.b.ConstI(int32(g.layer)),
		g.b.ConstS(g.inst.LayerName),
		g.b.ConstS(g.inst.Master.Name))
}

// clampConstIndex checks a constant index at lowering time.
func (g *layerGen) clampConstIndex(idx, length int, symName string, op *shader.Opcode) int {
	if idx >= 0 && idx < length {
		return idx
	}
	g.be.opErrorf(g.inst, op, "index [%d] out of range %s[0..%d]", idx, symName, length-1)
	if idx < 0 {
		return 0
	}
	return length - 1
}

// elemPtr yields a pointer to component c of array element idx on the
// given plane.
func (g *layerGen) elemPtr(sym int, idx ir.ValueID, c, plane int) ir.ValueID {
	l := g.loc(sym)
	agg := aggregate(g.sym(sym))
	off := g.b.Binary(ir.OpIMul, idx, g.b.ConstI(int32(agg)))
	if c != 0 {
		off = g.b.Binary(ir.OpIAdd, off, g.b.ConstI(int32(c)))
	}
	return g.b.Offset(g.b.OffsetConst(l.base, plane*l.cells), off)
}

// genARef lowers R = A[index].
func (g *layerGen) genARef(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, I := args[0], args[1], args[2]
	sA := g.sym(A)
	if !sA.Type.IsArray() {
		g.be.opErrorf(g.inst, op, "aref of non-array %s", sA.Name)
		return nil
	}
	// Specialization fixed every array length to a concrete value.
	length := sA.Type.ArrayLen
	agg := aggregate(sA)
	planes := 1
	if g.hasDerivs(R) && g.hasDerivs(A) {
		planes = 3
	}

	if ci, ok := g.constIndex(I); ok {
		ci = g.clampConstIndex(ci, length, sA.Name, op)
		for plane := 0; plane < planes; plane++ {
			for c := 0; c < agg; c++ {
				g.storeComp(R, c, plane, g.loadComp(A, ci*agg+c, plane))
			}
		}
		if planes == 1 {
			g.zeroDerivs(R)
		}
		return nil
	}

	idx := g.rangeCheck(g.loadArgI(I, 0), length, sA.Name, op)
	for plane := 0; plane < planes; plane++ {
		for c := 0; c < agg; c++ {
			g.storeComp(R, c, plane, g.b.Load(g.elemPtr(A, idx, c, plane)))
		}
	}
	if planes == 1 {
		g.zeroDerivs(R)
	}
	return nil
}

// genAAssign lowers A[index] = src.
func (g *layerGen) genAAssign(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	A, I, Src := args[0], args[1], args[2]
	sA := g.sym(A)
	length := sA.Type.ArrayLen
	agg := aggregate(sA)
	planes := 1
	if g.hasDerivs(A) {
		planes = 3
	}

	load := func(c, plane int) ir.ValueID {
		if sA.Type.IsIntBased() {
			if plane > 0 {
				return g.b.ConstI(0)
			}
			return g.loadArgI(Src, c)
		}
		if sA.Type.IsString() {
			return g.loadComp(Src, 0, 0)
		}
		if plane > 0 && !g.hasDerivs(Src) {
			return g.b.ConstF(0)
		}
		return g.loadArgF(Src, c, plane)
	}

	if ci, ok := g.constIndex(I); ok {
		ci = g.clampConstIndex(ci, length, sA.Name, op)
		for plane := 0; plane < planes; plane++ {
			for c := 0; c < agg; c++ {
				g.storeComp(A, ci*agg+c, plane, load(c, plane))
			}
		}
		return nil
	}
	idx := g.rangeCheck(g.loadArgI(I, 0), length, sA.Name, op)
	for plane := 0; plane < planes; plane++ {
		for c := 0; c < agg; c++ {
			g.b.Store(g.elemPtr(A, idx, c, plane), load(c, plane))
		}
	}
	return nil
}

// genCompRef lowers R = triple[index], derivatives included.
func (g *layerGen) genCompRef(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, I := args[0], args[1], args[2]
	planes := 1
	if g.hasDerivs(R) && g.hasDerivs(A) {
		planes = 3
	}
	if ci, ok := g.constIndex(I); ok {
		ci = g.clampConstIndex(ci, 3, g.sym(A).Name, op)
		for plane := 0; plane < planes; plane++ {
			g.storeComp(R, 0, plane, g.loadComp(A, ci, plane))
		}
	} else {
		idx := g.rangeCheck(g.loadArgI(I, 0), 3, g.sym(A).Name, op)
		l := g.loc(A)
		for plane := 0; plane < planes; plane++ {
			g.storeComp(R, 0, plane,
				g.b.Load(g.b.Offset(g.b.OffsetConst(l.base, plane*l.cells), idx)))
		}
	}
	if planes == 1 {
		g.zeroDerivs(R)
	}
	return nil
}

// genCompAssign lowers triple[index] = x.
func (g *layerGen) genCompAssign(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	A, I, X := args[0], args[1], args[2]
	planes := 1
	if g.hasDerivs(A) {
		planes = 3
	}
	load := func(plane int) ir.ValueID {
		if plane > 0 && !g.hasDerivs(X) {
			return g.b.ConstF(0)
		}
		return g.loadArgF(X, 0, plane)
	}
	if ci, ok := g.constIndex(I); ok {
		ci = g.clampConstIndex(ci, 3, g.sym(A).Name, op)
		for plane := 0; plane < planes; plane++ {
			g.storeComp(A, ci, plane, load(plane))
		}
		return nil
	}
	idx := g.rangeCheck(g.loadArgI(I, 0), 3, g.sym(A).Name, op)
	l := g.loc(A)
	for plane := 0; plane < planes; plane++ {
		g.b.Store(g.b.Offset(g.b.OffsetConst(l.base, plane*l.cells), idx), load(plane))
	}
	return nil
}

// genMxCompRef lowers R = matrix[row][col]. Matrix components carry no
// derivatives.
func (g *layerGen) genMxCompRef(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, M, Row, Col := args[0], args[1], args[2], args[3]
	r, rok := g.constIndex(Row)
	c, cok := g.constIndex(Col)
	if rok && cok {
		r = g.clampConstIndex(r, 4, g.sym(M).Name, op)
		c = g.clampConstIndex(c, 4, g.sym(M).Name, op)
		g.storeComp(R, 0, 0, g.loadComp(M, r*4+c, 0))
	} else {
		row := g.rangeCheck(g.loadArgI(Row, 0), 4, g.sym(M).Name, op)
		col := g.rangeCheck(g.loadArgI(Col, 0), 4, g.sym(M).Name, op)
		idx := g.b.Binary(ir.OpIAdd, g.b.Binary(ir.OpIMul, row, g.b.ConstI(4)), col)
		g.storeComp(R, 0, 0, g.b.Load(g.b.Offset(g.loc(M).base, idx)))
	}
	g.zeroDerivs(R)
	return nil
}

// genMxCompAssign lowers matrix[row][col] = x.
func (g *layerGen) genMxCompAssign(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	M, Row, Col, X := args[0], args[1], args[2], args[3]
	v := g.loadArgF(X, 0, 0)
	r, rok := g.constIndex(Row)
	c, cok := g.constIndex(Col)
	if rok && cok {
		r = g.clampConstIndex(r, 4, g.sym(M).Name, op)
		c = g.clampConstIndex(c, 4, g.sym(M).Name, op)
		g.storeComp(M, r*4+c, 0, v)
		return nil
	}
	row := g.rangeCheck(g.loadArgI(Row, 0), 4, g.sym(M).Name, op)
	col := g.rangeCheck(g.loadArgI(Col, 0), 4, g.sym(M).Name, op)
	idx := g.b.Binary(ir.OpIAdd, g.b.Binary(ir.OpIMul, row, g.b.ConstI(4)), col)
	g.b.Store(g.b.Offset(g.loc(M).base, idx), v)
	return nil
}

// genArrayLength lowers R = arraylength(A), a lowering-time constant.
func (g *layerGen) genArrayLength(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A := args[0], args[1]
	g.storeComp(R, 0, 0, g.b.ConstI(int32(g.sym(A).Type.ArrayLen)))
	return nil
}

// genArrayCopy lowers whole-array assignment.
func (g *layerGen) genArrayCopy(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A := args[0], args[1]
	lr, la := g.loc(R), g.loc(A)
	n := min(lr.cells, la.cells)
	g.b.Memcpy(lr.base, la.base, n)
	if lr.planes == 3 {
		if la.planes == 3 {
			g.b.Memcpy(g.b.OffsetConst(lr.base, lr.cells),
				g.b.OffsetConst(la.base, la.cells), 2*n)
		} else {
			g.zeroDerivs(R)
		}
	}
	return nil
}

// genConstructTriple lowers color/point/vector/normal construction from
// scalars. The form with a leading space name goes through the extern
// path, which performs the space transform.
func (g *layerGen) genConstructTriple(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R := args[0]
	comps := args[1:]
	if len(comps) > 0 && g.sym(comps[0]).Type.IsString() {
		return g.genGeneric(i)
	}
	planes := 1
	if g.hasDerivs(R) && g.anyArgDerivs(comps...) {
		planes = 3
	}
	for plane := 0; plane < planes; plane++ {
		for c := 0; c < 3; c++ {
			src := comps[0]
			if len(comps) == 3 {
				src = comps[c]
			}
			g.storeComp(R, c, plane, g.loadArgF(src, 0, plane))
		}
	}
	if planes == 1 {
		g.zeroDerivs(R)
	}
	return nil
}
