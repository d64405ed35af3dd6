package codegen

import (
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

// flattenArgs expands symbols into one IR value per component, which is
// how the formatting externs want their arguments.
func (g *layerGen) flattenArgs(syms []int) []ir.ValueID {
	var out []ir.ValueID
	for _, a := range syms {
		n := g.sym(a).Type.NumElements()
		if n == 0 {
			n = 1
		}
		for c := 0; c < n; c++ {
			out = append(out, g.loadComp(a, c, 0))
		}
	}
	return out
}

var printfExterns = map[string]string{
	"printf":  "osl_printf",
	"error":   "osl_error",
	"warning": "osl_warning",
}

func (g *layerGen) genPrintf(i int) error {
	op := &g.inst.Ops[i]
	g.b.Call(printfExterns[op.Name], g.flattenArgs(g.opArgs(op))...)
	return nil
}

func (g *layerGen) genFormat(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	v := g.b.Call("osl_format_ss", g.flattenArgs(args[1:])...)
	g.storeComp(args[0], 0, 0, v)
	return nil
}

// genRaytype lowers raytype("name"). A constant name with a known bit
// becomes a bit test against the globals buffer.
func (g *layerGen) genRaytype(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, Name := args[0], args[1]
	s := g.sym(Name)
	if g.be.opts.ConstFoldRaytype && s.Kind == shader.SymConst && s.Type.IsString() {
		bit := runtime.StandardRayTypeBit(g.inst.StringValues[s.DataOffset])
		if bit == 0 {
			g.storeComp(R, 0, 0, g.b.ConstI(0))
			return nil
		}
		bits := g.b.Load(g.b.OffsetConst(g.sg, runtime.RaytypeOffset))
		masked := g.b.Binary(ir.OpIAnd, bits, g.b.ConstI(bit))
		v := g.b.Unary(ir.OpBoolToInt, g.b.Binary(ir.OpINe, masked, g.b.ConstI(0)))
		g.storeComp(R, 0, 0, v)
		return nil
	}
	g.storeComp(R, 0, 0, g.b.Call("osl_raytype_name", g.sg, g.loadComp(Name, 0, 0)))
	return nil
}

// genGetAttribute lowers both the (name, dest) and (object, name, dest)
// forms.
func (g *layerGen) genGetAttribute(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R := args[0]
	obj := g.b.ConstS("")
	var name, dest int
	switch len(args) {
	case 3:
		name, dest = args[1], args[2]
	case 4:
		obj = g.loadComp(args[1], 0, 0)
		name, dest = args[2], args[3]
	default:
		g.be.opErrorf(g.inst, op, "getattribute with %d args", len(args))
		return nil
	}
	n := g.sym(dest).Type.NumElements()
	v := g.b.Call("osl_get_attribute", obj, g.loadComp(name, 0, 0),
		g.b.ConstI(int32(n)), g.symPtr(dest))
	g.storeComp(R, 0, 0, v)
	g.zeroDerivs(dest)
	return nil
}

func (g *layerGen) genIsConstant(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	v := int32(0)
	if g.sym(args[1]).Kind == shader.SymConst {
		v = 1
	}
	g.storeComp(args[0], 0, 0, g.b.ConstI(v))
	return nil
}

// genSincos lowers sincos(x, s, c). Scalar arguments with derivatives
// go through the dual extern; everything else computes values only.
func (g *layerGen) genSincos(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	X, S, C := args[0], args[1], args[2]
	agg := aggregate(g.sym(X))
	if agg == 1 && g.hasDerivs(X) && (g.hasDerivs(S) || g.hasDerivs(C)) {
		g.b.Call("osl_sincos_dfdfdf", g.symPtr(X), g.symPtr(S), g.symPtr(C))
		return nil
	}
	for c := 0; c < agg; c++ {
		ls, lc := g.loc(S), g.loc(C)
		g.b.Call("osl_sincos_fff", g.loadArgF(X, c, 0),
			g.b.OffsetConst(ls.base, c), g.b.OffsetConst(lc.base, c))
	}
	g.zeroDerivs(S)
	g.zeroDerivs(C)
	return nil
}

// genDictFind lowers both dict_find forms: from a document source
// string or from a prior node handle.
func (g *layerGen) genDictFind(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, From, Query := args[0], args[1], args[2]
	extern := "osl_dict_find_from"
	if g.sym(From).Type.IsString() {
		extern = "osl_dict_find"
	}
	v := g.b.Call(extern, g.loadComp(From, 0, 0), g.loadComp(Query, 0, 0))
	g.storeComp(R, 0, 0, v)
	return nil
}

func (g *layerGen) genDictNext(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	g.storeComp(args[0], 0, 0, g.b.Call("osl_dict_next", g.loadComp(args[1], 0, 0)))
	return nil
}

func (g *layerGen) genDictValue(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, Node, Attrib, Dest := args[0], args[1], args[2], args[3]
	t := g.sym(Dest).Type
	v := g.b.Call("osl_dict_value",
		g.loadComp(Node, 0, 0),
		g.loadComp(Attrib, 0, 0),
		g.b.ConstI(int32(t.Base)),
		g.b.ConstI(int32(t.NumElements())),
		g.symPtr(Dest))
	g.storeComp(R, 0, 0, v)
	g.zeroDerivs(Dest)
	return nil
}

// genOptionPairs lowers the trailing key/value arguments of a call that
// takes an option block. Constant values matching the option's default
// are elided. Keys listed in special are returned to the caller instead
// of lowered.
func (g *layerGen) genOptionPairs(op *shader.Opcode, pairs []int,
	table map[string]runtime.OptionSetter, special map[string]bool) map[string]int {

	found := make(map[string]int)
	for k := 0; k+1 < len(pairs); k += 2 {
		keySym, valSym := pairs[k], pairs[k+1]
		ks := g.sym(keySym)
		if ks.Kind != shader.SymConst || !ks.Type.IsString() {
			g.be.opErrorf(g.inst, op, "optional argument name must be a constant string")
			continue
		}
		key := g.inst.StringValues[ks.DataOffset]
		if special[key] {
			found[key] = valSym
			continue
		}
		setter, ok := table[key]
		if !ok {
			g.be.opErrorf(g.inst, op, "unknown optional argument %q", key)
			continue
		}
		if !setter.NoDefault && g.constMatchesDefault(valSym, setter) {
			continue
		}
		switch setter.Kind {
		case runtime.OptionFloat:
			g.b.Call(setter.Extern, g.loadArgF(valSym, 0, 0))
		case runtime.OptionInt:
			g.b.Call(setter.Extern, g.loadArgI(valSym, 0))
		case runtime.OptionString:
			g.b.Call(setter.Extern, g.loadComp(valSym, 0, 0))
		case runtime.OptionColor:
			g.b.Call(setter.Extern, g.symPtr(valSym))
		}
	}
	return found
}

func (g *layerGen) constMatchesDefault(sym int, setter runtime.OptionSetter) bool {
	s := g.sym(sym)
	if s.Kind != shader.SymConst {
		return false
	}
	switch setter.Kind {
	case runtime.OptionFloat:
		return s.Type.IsFloatBased() && g.inst.FloatValues[s.DataOffset] == setter.DefaultF
	case runtime.OptionInt:
		return s.Type.IsIntBased() && g.inst.IntValues[s.DataOffset] == setter.DefaultI
	case runtime.OptionString:
		return s.Type.IsString() && g.inst.StringValues[s.DataOffset] == setter.DefaultS
	}
	return false
}

// genTexture lowers texture(filename, s, t, options...). The color
// channels land in the result; an "alpha" option receives channel 3.
func (g *layerGen) genTexture(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, File, Si, Ti := args[0], args[1], args[2], args[3]
	g.b.Call("osl_get_texture_options")
	special := g.genOptionPairs(op, args[4:], runtime.TextureOptionSetters,
		map[string]bool{"alpha": true})

	nchan := aggregate(g.sym(R))
	alphaSym, wantAlpha := special["alpha"]
	total := nchan
	if wantAlpha {
		total = nchan + 1
	}
	tmp := g.b.Alloca(total)
	g.b.Call("osl_texture",
		g.loadComp(File, 0, 0),
		g.loadArgF(Si, 0, 0), g.loadArgF(Ti, 0, 0),
		g.b.ConstI(int32(total)), tmp)
	for c := 0; c < nchan; c++ {
		g.storeComp(R, c, 0, g.b.Load(g.b.OffsetConst(tmp, c)))
	}
	g.zeroDerivs(R)
	if wantAlpha {
		g.storeComp(alphaSym, 0, 0, g.b.Load(g.b.OffsetConst(tmp, nchan)))
		g.zeroDerivs(alphaSym)
	}
	return nil
}

// genTrace lowers trace(point, direction, options...).
func (g *layerGen) genTrace(i int) error {
	op := &g.inst.Ops[i]
	args := g.opArgs(op)
	R, Pos, Dir := args[0], args[1], args[2]
	g.b.Call("osl_get_trace_options")
	g.genOptionPairs(op, args[3:], runtime.TraceOptionSetters, nil)
	v := g.b.Call("osl_trace", g.symPtr(Pos), g.symPtr(Dir))
	g.storeComp(R, 0, 0, v)
	return nil
}
