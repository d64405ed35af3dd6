package codegen

import (
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/shader"
)

// loadArgF reads an argument component as a float, broadcasting scalars
// across aggregate results and converting ints. Plane 1 and 2 read the
// derivative channels; arguments without them read zero.
func (g *layerGen) loadArgF(sym, comp, plane int) ir.ValueID {
	s := g.sym(sym)
	if s.Type.Aggregate == shader.AggScalar {
		comp = 0
	}
	if s.Type.IsIntBased() {
		if plane > 0 {
			return g.b.ConstF(0)
		}
		return g.b.Unary(ir.OpIntToFloat, g.loadComp(sym, comp, 0))
	}
	return g.loadComp(sym, comp, plane)
}

// loadArgI reads an argument component as an int.
func (g *layerGen) loadArgI(sym, comp int) ir.ValueID {
	s := g.sym(sym)
	if s.Type.Aggregate == shader.AggScalar {
		comp = 0
	}
	v := g.loadComp(sym, comp, 0)
	if s.Type.IsFloatBased() {
		return g.b.Unary(ir.OpFloatToInt, v)
	}
	return v
}

// anyArgDerivs reports whether any of the given symbols carries
// derivatives.
func (g *layerGen) anyArgDerivs(syms ...int) bool {
	for _, s := range syms {
		if g.hasDerivs(s) {
			return true
		}
	}
	return false
}

func (g *layerGen) genAdd(i int) error { return g.genAddSub(i, ir.OpFAdd, ir.OpIAdd) }
func (g *layerGen) genSub(i int) error { return g.genAddSub(i, ir.OpFSub, ir.OpISub) }

func (g *layerGen) genAddSub(i int, opF, opI ir.Op) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sR := g.sym(R)
	if sR.Type.IsClosure() {
		// Closure + closure builds an add node.
		v := g.b.Call("osl_add_closure_closure", g.loadComp(A, 0, 0), g.loadComp(B, 0, 0))
		g.storeComp(R, 0, 0, v)
		return nil
	}
	if sR.Type.IsMatrix() || g.sym(A).Type.IsMatrix() || g.sym(B).Type.IsMatrix() {
		return g.genGeneric(i)
	}
	n := aggregate(sR)
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.b.Binary(opI, g.loadArgI(A, c), g.loadArgI(B, c)))
		}
		return nil
	}
	for c := 0; c < n; c++ {
		g.storeComp(R, c, 0, g.b.Binary(opF, g.loadArgF(A, c, 0), g.loadArgF(B, c, 0)))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(A, B) {
		g.zeroDerivs(R)
		return nil
	}
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			d := g.b.Binary(opF, g.loadArgF(A, c, plane), g.loadArgF(B, c, plane))
			g.storeComp(R, c, plane, d)
		}
	}
	return nil
}

func (g *layerGen) genMul(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sR, sA, sB := g.sym(R), g.sym(A), g.sym(B)

	if sR.Type.IsClosure() {
		cl, w := A, B
		if !sA.Type.IsClosure() {
			cl, w = B, A
		}
		clVal := g.loadComp(cl, 0, 0)
		var v ir.ValueID
		if g.sym(w).Type.IsTriple() {
			v = g.b.Call("osl_mul_closure_color", clVal, g.symPtr(w))
		} else {
			v = g.b.Call("osl_mul_closure_float", clVal, g.loadArgF(w, 0, 0))
		}
		g.storeComp(R, 0, 0, v)
		return nil
	}
	if sR.Type.IsMatrix() || sA.Type.IsMatrix() || sB.Type.IsMatrix() {
		return g.genGeneric(i)
	}

	n := aggregate(sR)
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.b.Binary(ir.OpIMul, g.loadArgI(A, c), g.loadArgI(B, c)))
		}
		return nil
	}
	// Keep the loaded values for the product rule.
	av := make([]ir.ValueID, n)
	bv := make([]ir.ValueID, n)
	for c := 0; c < n; c++ {
		av[c] = g.loadArgF(A, c, 0)
		bv[c] = g.loadArgF(B, c, 0)
		g.storeComp(R, c, 0, g.b.Binary(ir.OpFMul, av[c], bv[c]))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(A, B) {
		g.zeroDerivs(R)
		return nil
	}
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			da := g.b.Binary(ir.OpFMul, g.loadArgF(A, c, plane), bv[c])
			db := g.b.Binary(ir.OpFMul, av[c], g.loadArgF(B, c, plane))
			g.storeComp(R, c, plane, g.b.Binary(ir.OpFAdd, da, db))
		}
	}
	return nil
}

func (g *layerGen) genDiv(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sR := g.sym(R)
	if sR.Type.IsMatrix() || g.sym(A).Type.IsMatrix() || g.sym(B).Type.IsMatrix() {
		return g.genGeneric(i)
	}
	n := aggregate(sR)
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.b.Binary(ir.OpIDiv, g.loadArgI(A, c), g.loadArgI(B, c)))
		}
		return nil
	}
	// binv = 1/b, guarded against zero unless b is a nonzero constant.
	safeDiv := !g.isConstNonzero(B)
	binv := make([]ir.ValueID, n)
	res := make([]ir.ValueID, n)
	one := g.b.ConstF(1)
	for c := 0; c < n; c++ {
		b := g.loadArgF(B, c, 0)
		inv := g.b.Binary(ir.OpFDiv, one, b)
		if safeDiv {
			nonzero := g.b.Binary(ir.OpFNe, b, g.b.ConstF(0))
			inv = g.b.Select(nonzero, inv, g.b.ConstF(0))
		}
		binv[c] = inv
		res[c] = g.b.Binary(ir.OpFMul, g.loadArgF(A, c, 0), inv)
		g.storeComp(R, c, 0, res[c])
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(A, B) {
		g.zeroDerivs(R)
		return nil
	}
	// Quotient rule: d = binv * (da - result * db).
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			da := g.loadArgF(A, c, plane)
			db := g.loadArgF(B, c, plane)
			num := g.b.Binary(ir.OpFSub, da, g.b.Binary(ir.OpFMul, res[c], db))
			g.storeComp(R, c, plane, g.b.Binary(ir.OpFMul, binv[c], num))
		}
	}
	return nil
}

// genMod lowers modulus. The float form keeps the first operand's
// derivatives, since d(a mod b)/da is 1 almost everywhere.
func (g *layerGen) genMod(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sR := g.sym(R)
	n := aggregate(sR)
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.b.Binary(ir.OpIMod, g.loadArgI(A, c), g.loadArgI(B, c)))
		}
		return nil
	}
	for c := 0; c < n; c++ {
		v := g.b.Call("osl_fmod_fff", g.loadArgF(A, c, 0), g.loadArgF(B, c, 0))
		g.storeComp(R, c, 0, v)
	}
	if g.hasDerivs(R) {
		if g.hasDerivs(A) {
			for plane := 1; plane <= 2; plane++ {
				for c := 0; c < n; c++ {
					g.storeComp(R, c, plane, g.loadArgF(A, c, plane))
				}
			}
		} else {
			g.zeroDerivs(R)
		}
	}
	return nil
}

func (g *layerGen) genNeg(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A := args[0], args[1]
	sR := g.sym(R)
	n := aggregate(sR)
	if sR.Type.IsMatrix() {
		n = sR.Type.NumElements()
	}
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.b.Unary(ir.OpINeg, g.loadArgI(A, c)))
		}
		return nil
	}
	planes := 1
	if g.hasDerivs(R) && g.hasDerivs(A) {
		planes = 3
	}
	for plane := 0; plane < planes; plane++ {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, plane, g.b.Unary(ir.OpFNeg, g.loadArgF(A, c, plane)))
		}
	}
	if planes == 1 {
		g.zeroDerivs(R)
	}
	return nil
}

// genMinMax lowers min and max with a component select, applying the
// same selection to the derivative channels.
func (g *layerGen) genMinMax(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sR := g.sym(R)
	n := aggregate(sR)
	cmp := ir.OpFLe // min keeps a when a <= b
	icmp := ir.OpILe
	if op.Name == "max" {
		cmp, icmp = ir.OpFGe, ir.OpIGe
	}
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			a, b := g.loadArgI(A, c), g.loadArgI(B, c)
			g.storeComp(R, c, 0, g.b.Select(g.b.Binary(icmp, a, b), a, b))
		}
		return nil
	}
	conds := make([]ir.ValueID, n)
	for c := 0; c < n; c++ {
		a, b := g.loadArgF(A, c, 0), g.loadArgF(B, c, 0)
		conds[c] = g.b.Binary(cmp, a, b)
		g.storeComp(R, c, 0, g.b.Select(conds[c], a, b))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(A, B) {
		g.zeroDerivs(R)
		return nil
	}
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			da, db := g.loadArgF(A, c, plane), g.loadArgF(B, c, plane)
			g.storeComp(R, c, plane, g.b.Select(conds[c], da, db))
		}
	}
	return nil
}

func (g *layerGen) genClamp(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, X, Lo, Hi := args[0], args[1], args[2], args[3]
	sR := g.sym(R)
	n := aggregate(sR)
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			x, lo, hi := g.loadArgI(X, c), g.loadArgI(Lo, c), g.loadArgI(Hi, c)
			v := g.b.Select(g.b.Binary(ir.OpILt, x, lo), lo, x)
			v = g.b.Select(g.b.Binary(ir.OpIGt, v, hi), hi, v)
			g.storeComp(R, c, 0, v)
		}
		return nil
	}
	below := make([]ir.ValueID, n)
	above := make([]ir.ValueID, n)
	for c := 0; c < n; c++ {
		x, lo, hi := g.loadArgF(X, c, 0), g.loadArgF(Lo, c, 0), g.loadArgF(Hi, c, 0)
		below[c] = g.b.Binary(ir.OpFLt, x, lo)
		v := g.b.Select(below[c], lo, x)
		above[c] = g.b.Binary(ir.OpFGt, v, hi)
		g.storeComp(R, c, 0, g.b.Select(above[c], hi, v))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(X, Lo, Hi) {
		g.zeroDerivs(R)
		return nil
	}
	// The clamped result takes the derivative of whichever operand was
	// selected.
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			dx := g.loadArgF(X, c, plane)
			dlo := g.loadArgF(Lo, c, plane)
			dhi := g.loadArgF(Hi, c, plane)
			d := g.b.Select(below[c], dlo, dx)
			g.storeComp(R, c, plane, g.b.Select(above[c], dhi, d))
		}
	}
	return nil
}

// genMix lowers linear blend: r = x + a*(y-x), with the full derivative
// dr = dx + a*(dy-dx) + da*(y-x).
func (g *layerGen) genMix(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, X, Y, A := args[0], args[1], args[2], args[3]
	n := aggregate(g.sym(R))
	xv := make([]ir.ValueID, n)
	diff := make([]ir.ValueID, n)
	tv := make([]ir.ValueID, n)
	for c := 0; c < n; c++ {
		xv[c] = g.loadArgF(X, c, 0)
		tv[c] = g.loadArgF(A, c, 0)
		diff[c] = g.b.Binary(ir.OpFSub, g.loadArgF(Y, c, 0), xv[c])
		g.storeComp(R, c, 0, g.b.Binary(ir.OpFAdd, xv[c], g.b.Binary(ir.OpFMul, tv[c], diff[c])))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.anyArgDerivs(X, Y, A) {
		g.zeroDerivs(R)
		return nil
	}
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			dx := g.loadArgF(X, c, plane)
			dy := g.loadArgF(Y, c, plane)
			dt := g.loadArgF(A, c, plane)
			d := g.b.Binary(ir.OpFAdd, dx,
				g.b.Binary(ir.OpFMul, tv[c], g.b.Binary(ir.OpFSub, dy, dx)))
			d = g.b.Binary(ir.OpFAdd, d, g.b.Binary(ir.OpFMul, dt, diff[c]))
			g.storeComp(R, c, plane, d)
		}
	}
	return nil
}

var compareOps = map[string][3]ir.Op{
	// float, int, string forms
	"eq":  {ir.OpFEq, ir.OpIEq, ir.OpSEq},
	"neq": {ir.OpFNe, ir.OpINe, ir.OpSNe},
	"lt":  {ir.OpFLt, ir.OpILt, ir.OpInvalid},
	"le":  {ir.OpFLe, ir.OpILe, ir.OpInvalid},
	"gt":  {ir.OpFGt, ir.OpIGt, ir.OpInvalid},
	"ge":  {ir.OpFGe, ir.OpIGe, ir.OpInvalid},
}

func (g *layerGen) genCompare(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	sA, sB := g.sym(A), g.sym(B)
	ops := compareOps[op.Name]

	if sA.Type.IsString() || sB.Type.IsString() {
		if ops[2] == ir.OpInvalid {
			g.be.opErrorf(g.inst, op, "cannot order strings with %s", op.Name)
			return nil
		}
		v := g.b.Binary(ops[2], g.loadComp(A, 0, 0), g.loadComp(B, 0, 0))
		g.storeComp(R, 0, 0, g.b.Unary(ir.OpBoolToInt, v))
		return nil
	}

	useFloat := sA.Type.IsFloatBased() || sB.Type.IsFloatBased()
	n := aggregate(sA)
	if bn := aggregate(sB); bn > n {
		n = bn
	}
	var acc ir.ValueID
	for c := 0; c < n; c++ {
		var cmp ir.ValueID
		if useFloat {
			cmp = g.b.Binary(ops[0], g.loadArgF(A, c, 0), g.loadArgF(B, c, 0))
		} else {
			cmp = g.b.Binary(ops[1], g.loadArgI(A, c), g.loadArgI(B, c))
		}
		v := g.b.Unary(ir.OpBoolToInt, cmp)
		if c == 0 {
			acc = v
		} else if op.Name == "neq" {
			acc = g.b.Binary(ir.OpIOr, acc, v)
		} else {
			acc = g.b.Binary(ir.OpIAnd, acc, v)
		}
	}
	g.storeComp(R, 0, 0, acc)
	return nil
}

var bitwiseOps = map[string]ir.Op{
	"and":    ir.OpIAnd,
	"or":     ir.OpIOr,
	"bitand": ir.OpIAnd,
	"bitor":  ir.OpIOr,
	"xor":    ir.OpIXor,
	"shl":    ir.OpIShl,
	"shr":    ir.OpIShr,
}

func (g *layerGen) genBitwise(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A, B := args[0], args[1], args[2]
	g.storeComp(R, 0, 0, g.b.Binary(bitwiseOps[op.Name], g.loadArgI(A, 0), g.loadArgI(B, 0)))
	return nil
}

func (g *layerGen) genCompl(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	g.storeComp(args[0], 0, 0, g.b.Unary(ir.OpICompl, g.loadArgI(args[1], 0)))
	return nil
}

func (g *layerGen) genNot(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	v := g.b.Unary(ir.OpNot, g.condValue(args[1]))
	g.storeComp(args[0], 0, 0, g.b.Unary(ir.OpBoolToInt, v))
	return nil
}

//nolint:gocyclo // one branch per source/destination shape
func (g *layerGen) genAssign(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, A := args[0], args[1]
	sR, sA := g.sym(R), g.sym(A)

	if sR.Type.IsClosure() {
		g.storeComp(R, 0, 0, g.loadComp(A, 0, 0))
		return nil
	}
	if sR.Type.IsString() {
		g.storeComp(R, 0, 0, g.loadComp(A, 0, 0))
		return nil
	}
	// Scalar into matrix scales the identity.
	if sR.Type.IsMatrix() && sA.Type.Aggregate == shader.AggScalar {
		v := g.loadArgF(A, 0, 0)
		zero := g.b.ConstF(0)
		for c := 0; c < 16; c++ {
			if c%5 == 0 {
				g.storeComp(R, c, 0, v)
			} else {
				g.storeComp(R, c, 0, zero)
			}
		}
		return nil
	}

	n := sR.Type.NumElements()
	if !sR.Type.IsArray() {
		n = aggregate(sR)
	}
	if sR.Type.IsIntBased() {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, 0, g.loadArgI(A, c))
		}
		return nil
	}
	for c := 0; c < n; c++ {
		g.storeComp(R, c, 0, g.loadArgF(A, c, 0))
	}
	if !g.hasDerivs(R) {
		return nil
	}
	if !g.hasDerivs(A) {
		g.zeroDerivs(R)
		return nil
	}
	for plane := 1; plane <= 2; plane++ {
		for c := 0; c < n; c++ {
			g.storeComp(R, c, plane, g.loadArgF(A, c, plane))
		}
	}
	return nil
}
