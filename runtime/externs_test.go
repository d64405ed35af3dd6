package runtime

import (
	"math"
	"strings"
	"testing"

	"github.com/gogpu/osl/ir"
)

// runExterns builds b into a program, installs the extern library, and
// executes it.
func runExterns(t *testing.T, e *Externs, b *ir.Builder, args ...ir.Value) ([]ir.Value, *ir.Machine) {
	t.Helper()
	p := ir.NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := ir.NewMachine(p)
	e.Install(m)
	out, err := m.Run("f", args...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out, m
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestUnaryDerivChainRule(t *testing.T) {
	// sin of a dual (0.5, dx=2, dy=0): dx of the result is 2*cos(0.5).
	b := ir.NewBuilder("f", 0)
	x := b.Alloca(3)
	b.Store(b.OffsetConst(x, 0), b.ConstF(0.5))
	b.Store(b.OffsetConst(x, 1), b.ConstF(2))
	b.Store(b.OffsetConst(x, 2), b.ConstF(0))
	res := b.Alloca(3)
	b.Call("osl_sin_dfdf", res, x)
	b.Return(b.Load(b.OffsetConst(res, 0)), b.Load(b.OffsetConst(res, 1)))

	out, _ := runExterns(t, NewExterns(), b)
	sin, cos := math.Sin(0.5), math.Cos(0.5)
	if !near(out[0].F, float32(sin)) {
		t.Errorf("value = %g, want %g", out[0].F, sin)
	}
	if !near(out[1].F, float32(2*cos)) {
		t.Errorf("dx = %g, want %g", out[1].F, 2*cos)
	}
}

func TestSafeMath(t *testing.T) {
	b := ir.NewBuilder("f", 0)
	b.Return(
		b.Call("osl_sqrt_ff", b.ConstF(-4)),
		b.Call("osl_log_ff", b.ConstF(0)),
		b.Call("osl_pow_fff", b.ConstF(2), b.ConstF(10)),
	)
	out, _ := runExterns(t, NewExterns(), b)
	if out[0].F != 0 {
		t.Errorf("sqrt(-4) = %g, want 0", out[0].F)
	}
	if out[1].F > -1e30 {
		t.Errorf("log(0) = %g, want a large negative clamp", out[1].F)
	}
	if out[2].F != 1024 {
		t.Errorf("pow(2,10) = %g, want 1024", out[2].F)
	}
}

func TestVectorGeometry(t *testing.T) {
	b := ir.NewBuilder("f", 0)
	v := b.Alloca(3)
	b.Store(b.OffsetConst(v, 0), b.ConstF(3))
	b.Store(b.OffsetConst(v, 1), b.ConstF(4))
	b.Store(b.OffsetConst(v, 2), b.ConstF(0))
	n := b.Alloca(3)
	b.Call("osl_normalize_vv", n, v)
	b.Return(
		b.Call("osl_length_fv", v),
		b.Load(b.OffsetConst(n, 0)),
		b.Call("osl_dot_fvv", v, v),
	)
	out, _ := runExterns(t, NewExterns(), b)
	if !near(out[0].F, 5) {
		t.Errorf("length = %g, want 5", out[0].F)
	}
	if !near(out[1].F, 0.6) {
		t.Errorf("normalized x = %g, want 0.6", out[1].F)
	}
	if !near(out[2].F, 25) {
		t.Errorf("dot = %g, want 25", out[2].F)
	}
}

func TestStringExterns(t *testing.T) {
	b := ir.NewBuilder("f", 0)
	b.Return(
		b.Call("osl_concat_sss", b.ConstS("fog_"), b.ConstS("density")),
		b.Call("osl_strlen_is", b.ConstS("ramp")),
		b.Call("osl_startswith_iss", b.ConstS("fog_density"), b.ConstS("fog_")),
		b.Call("osl_substr_ssii", b.ConstS("fog_density"), b.ConstI(4), b.ConstI(7)),
	)
	out, _ := runExterns(t, NewExterns(), b)
	if out[0].S != "fog_density" {
		t.Errorf("concat = %q", out[0].S)
	}
	if out[1].I != 4 {
		t.Errorf("strlen = %d, want 4", out[1].I)
	}
	if out[2].I != 1 {
		t.Errorf("startswith = %d, want 1", out[2].I)
	}
	if out[3].S != "density" {
		t.Errorf("substr = %q, want density", out[3].S)
	}
}

func TestRangeCheckClampsAndReports(t *testing.T) {
	b := ir.NewBuilder("f", 0)
	b.Return(b.Call("osl_range_check",
		b.ConstI(7), b.ConstI(4), b.ConstS("knots"),
		b.ConstS("ramp.osl"), b.ConstI(12),
		b.ConstS("grp"), b.ConstI(0), b.ConstS("tex"), b.ConstS("ramp")))
	e := NewExterns()
	out, _ := runExterns(t, e, b)
	if out[0].I != 3 {
		t.Errorf("clamped index = %d, want 3", out[0].I)
	}
	if len(e.Errors) != 1 || !strings.Contains(e.Errors[0], "out of range") {
		t.Errorf("errors = %v", e.Errors)
	}
}

func TestPrintfAndError(t *testing.T) {
	var sb strings.Builder
	e := NewExterns()
	e.Out = &sb
	b := ir.NewBuilder("f", 0)
	b.Call("osl_printf", b.ConstS("Kd=%g "), b.ConstF(0.5))
	b.Call("osl_error", b.ConstS("bad %s"), b.ConstS("texture"))
	b.Return()
	runExterns(t, e, b)
	if got := sb.String(); got != "Kd=0.5 " {
		t.Errorf("printf wrote %q", got)
	}
	if len(e.Errors) != 1 || e.Errors[0] != "bad texture" {
		t.Errorf("errors = %v", e.Errors)
	}
}

func TestClosureAlgebra(t *testing.T) {
	e := NewExterns()
	diffuse := e.Closures.Lookup("diffuse")
	emission := e.Closures.Lookup("emission")
	if diffuse == nil || emission == nil {
		t.Fatal("builtin closures missing")
	}

	b := ir.NewBuilder("f", 0)
	c1 := b.Call("osl_allocate_closure_component",
		b.ConstI(diffuse.ID), b.ConstI(int32(diffuse.Size)))
	c2 := b.Call("osl_allocate_closure_component",
		b.ConstI(emission.ID), b.ConstI(int32(emission.Size)))
	half := b.Call("osl_mul_closure_float", c2, b.ConstF(0.5))
	b.Return(b.Call("osl_add_closure_closure", c1, half))

	out, m := runExterns(t, e, b)
	weights := FlattenClosure(m, out[0])
	if len(weights) != 2 {
		t.Fatalf("got %d components, want 2", len(weights))
	}
	if weights[0].ID != diffuse.ID || weights[0].Weight != [3]float32{1, 1, 1} {
		t.Errorf("diffuse = %+v", weights[0])
	}
	if weights[1].ID != emission.ID || weights[1].Weight != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("emission = %+v", weights[1])
	}
}

func TestClosureAddNullOperand(t *testing.T) {
	e := NewExterns()
	diffuse := e.Closures.Lookup("diffuse")
	b := ir.NewBuilder("f", 0)
	c := b.Call("osl_allocate_closure_component",
		b.ConstI(diffuse.ID), b.ConstI(int32(diffuse.Size)))
	b.Return(b.Call("osl_add_closure_closure", c, b.ConstI(0)))
	out, m := runExterns(t, e, b)
	weights := FlattenClosure(m, out[0])
	if len(weights) != 1 {
		t.Errorf("adding a null closure should keep one component, got %d", len(weights))
	}
}

func TestOptionStaging(t *testing.T) {
	e := NewExterns()
	b := ir.NewBuilder("f", 0)
	b.Call("osl_get_texture_options")
	b.Call("osl_texture_set_blur", b.ConstF(0.25))
	b.Call("osl_texture_set_swrap", b.ConstS("clamp"))
	b.Return()
	runExterns(t, e, b)
	if e.texOpts.SBlur != 0.25 || e.texOpts.TBlur != 0.25 {
		t.Errorf("blur = %g/%g, want 0.25 both", e.texOpts.SBlur, e.texOpts.TBlur)
	}
	if e.texOpts.SWrap != "clamp" {
		t.Errorf("swrap = %q", e.texOpts.SWrap)
	}
	// A fresh options call resets the staged state.
	b2 := ir.NewBuilder("f", 0)
	b2.Call("osl_get_texture_options")
	b2.Return()
	runExterns(t, e, b2)
	if e.texOpts.SBlur != 0 {
		t.Errorf("blur after reset = %g, want 0", e.texOpts.SBlur)
	}
}

func TestRaytypeName(t *testing.T) {
	e := NewExterns()
	b := ir.NewBuilder("f", 1)
	b.Return(
		b.Call("osl_raytype_name", b.Param(0), b.ConstS("camera")),
		b.Call("osl_raytype_name", b.Param(0), b.ConstS("shadow")),
	)
	p := ir.NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := ir.NewMachine(p)
	e.Install(m)
	sg := NewGlobalsBuffer(m, nil, StandardRayTypeBit("camera"))
	out, err := m.Run("f", sg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].I != 1 || out[1].I != 0 {
		t.Errorf("raytype = %d/%d, want 1/0", out[0].I, out[1].I)
	}
}

func TestNoiseRangeAndDeterminism(t *testing.T) {
	b := ir.NewBuilder("f", 0)
	b.Return(
		b.Call("osl_noise_ff", b.ConstF(1.25)),
		b.Call("osl_noise_ff", b.ConstF(1.25)),
		b.Call("osl_snoise_ff", b.ConstF(7.5)),
	)
	out, _ := runExterns(t, NewExterns(), b)
	if out[0].F != out[1].F {
		t.Error("noise must be deterministic")
	}
	if out[0].F < 0 || out[0].F > 1 {
		t.Errorf("noise = %g, want [0,1]", out[0].F)
	}
	if out[2].F < -1 || out[2].F > 1 {
		t.Errorf("snoise = %g, want [-1,1]", out[2].F)
	}
}
