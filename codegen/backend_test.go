package codegen

import (
	"strings"
	"testing"

	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/oso"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

func parseMaster(t *testing.T, src string) *shader.Master {
	t.Helper()
	m, err := oso.Parse(src)
	if err != nil {
		t.Fatalf("oso.Parse: %v", err)
	}
	return m
}

// oneLayerGroup wraps a single master into a group named g.
func oneLayerGroup(t *testing.T, src string) *shader.Group {
	t.Helper()
	g := shader.NewGroup("g")
	g.AddLayer(shader.NewInstance(parseMaster(t, src), "l0", 0))
	return g
}

// groupRun compiles a group, executes it on a fresh machine and keeps
// the buffers around for inspection.
type groupRun struct {
	prog   *ir.Program
	layout *Layout
	group  *shader.Group
	m      *ir.Machine
	ext    *runtime.Externs
	sg, gd ir.Value
}

func compileAndRun(t *testing.T, g *shader.Group, ext *runtime.Externs, globals runtime.Globals, raytype int32) *groupRun {
	t.Helper()
	be := NewBackend(g, ext.Closures, DefaultOptions())
	prog, layout, err := be.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	m := ir.NewMachine(prog)
	ext.Install(m)
	r := &groupRun{
		prog: prog, layout: layout, group: g, m: m, ext: ext,
		sg: runtime.NewGlobalsBuffer(m, globals, raytype),
		gd: m.NewBuffer(layout.Size),
	}
	if _, err := m.Run(MainFuncName(g.Name), r.sg, r.gd); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return r
}

// paramCell reads one cell of a param's group data slots. Plane 1 and 2
// are the derivative planes.
func (r *groupRun) paramCell(t *testing.T, layer int, name string, comp, plane int) ir.Value {
	t.Helper()
	inst := r.group.Layers[layer]
	sym := inst.FindSymbol(name)
	if sym < 0 {
		t.Fatalf("layer %d has no symbol %q", layer, name)
	}
	cells := r.layout.ParamCells(layer, inst, sym)
	p := r.gd
	p.Off += r.layout.ParamOffset(layer, inst, sym) + plane*cells + comp
	return r.m.LoadCell(p)
}

func (r *groupRun) paramF(t *testing.T, layer int, name string, comp, plane int) float32 {
	return r.paramCell(t, layer, name, comp, plane).F
}

// TestDualArithmetic checks that value and derivative planes flow
// through multiplication and addition: out = u*u + 3 with du/dx = 1.
func TestDualArithmetic(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface dual
oparam float out %derivs
global float u %derivs
temp float $t %derivs
const float $c3 3
code ___main___
	mul $t u u
	add out $t $c3
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), runtime.Globals{
		"u": {Val: []float32{0.5}, Dx: []float32{1}},
	}, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 3.25 {
		t.Errorf("out = %g, want 3.25", got)
	}
	// Product rule: d(u*u) = 2u du = 1.
	if got := r.paramF(t, 0, "out", 0, 1); got != 1 {
		t.Errorf("d(out)/dx = %g, want 1", got)
	}
	if got := r.paramF(t, 0, "out", 0, 2); got != 0 {
		t.Errorf("d(out)/dy = %g, want 0", got)
	}
}

// TestQuotientRule checks division derivatives and the guarded division
// by a runtime zero.
func TestQuotientRule(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface quot
oparam float out %derivs
oparam float zout
global float u %derivs
global float v %derivs
const float $c0 0
code ___main___
	div out u v
	div zout u $c0
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), runtime.Globals{
		"u": {Val: []float32{1}, Dx: []float32{1}},
		"v": {Val: []float32{2}, Dx: []float32{1}},
	}, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 0.5 {
		t.Errorf("out = %g, want 0.5", got)
	}
	// (1/v)(du - out*dv) = 0.5 * (1 - 0.5) = 0.25.
	if got := r.paramF(t, 0, "out", 0, 1); got != 0.25 {
		t.Errorf("d(out)/dx = %g, want 0.25", got)
	}
	if got := r.paramF(t, 0, "zout", 0, 0); got != 0 {
		t.Errorf("division by zero = %g, want 0", got)
	}
}

const pickSrc = `OpenShadingLanguage 1.00
surface pick
param float x 0.25
oparam float out
temp int $cmp
const float $chalf 0.5
const float $c1 1
const float $c2 2
code ___main___
	gt $cmp x $chalf
	if $cmp %jump{3,4}
	assign out $c1
	assign out $c2
	end
`

// TestIfElse runs both arms of a lowered if statement by rebinding the
// tested parameter.
func TestIfElse(t *testing.T) {
	g := oneLayerGroup(t, pickSrc)
	r := compileAndRun(t, g, runtime.NewExterns(), nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 2 {
		t.Errorf("out with x=0.25: %g, want 2 (else arm)", got)
	}

	g2 := oneLayerGroup(t, pickSrc)
	err := g2.Layers[0].BindParameters([]shader.ParamValue{
		{Name: "x", Type: shader.TypeFloat, Floats: []float32{0.75}},
	}, nil)
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	r2 := compileAndRun(t, g2, runtime.NewExterns(), nil, 0)
	if got := r2.paramF(t, 0, "out", 0, 0); got != 1 {
		t.Errorf("out with x=0.75: %g, want 1 (then arm)", got)
	}
}

// TestForLoop counts five iterations through the structured loop
// lowering.
func TestForLoop(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface looper
oparam float out
local int i
temp int $cmp
const int $c0 0
const int $c5 5
const int $c1 1
const float $cf1 1
code ___main___
	for $cmp %jump{2,3,4,5}
	assign i $c0
	lt $cmp i $c5
	add out out $cf1
	add i i $c1
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 5 {
		t.Errorf("out = %g, want 5", got)
	}
}

// TestExitAbandonsLayer checks that exit skips the rest of the body.
func TestExitAbandonsLayer(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface ex
oparam float out
const float $c1 1
const float $c2 2
code ___main___
	assign out $c1
	exit
	assign out $c2
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 1 {
		t.Errorf("out = %g, want 1", got)
	}
}

const srcLayerSrc = `OpenShadingLanguage 1.00
surface srcsh
oparam float Fout
const float $cv 0.7
const string $msg "ran "
code ___main___
	printf $msg
	assign Fout $cv
	end
`

const dstFloatSrc = `OpenShadingLanguage 1.00
surface dstsh
param float In 0
oparam float out
code ___main___
	assign out In
	end
`

// TestConnectionRunsUpstreamOnce checks lazy layer invocation: the
// upstream layer runs exactly once and its output lands in the
// connected input.
func TestConnectionRunsUpstreamOnce(t *testing.T) {
	g := shader.NewGroup("g")
	g.AddLayer(shader.NewInstance(parseMaster(t, srcLayerSrc), "a", 0))
	g.AddLayer(shader.NewInstance(parseMaster(t, dstFloatSrc), "b", 1))
	if err := g.Connect("a", "Fout", "b", "In"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var sb strings.Builder
	ext := runtime.NewExterns()
	ext.Out = &sb
	r := compileAndRun(t, g, ext, nil, 0)

	if got := r.paramF(t, 1, "out", 0, 0); got != 0.7 {
		t.Errorf("connected value = %g, want 0.7", got)
	}
	if got := sb.String(); got != "ran " {
		t.Errorf("upstream ran %d times: %q", strings.Count(got, "ran"), got)
	}
	// Both run flags must be set afterwards.
	for layer := 0; layer < 2; layer++ {
		p := r.gd
		p.Off += layer
		if r.m.LoadCell(p).I != 1 {
			t.Errorf("run flag for layer %d not set", layer)
		}
	}
}

// TestConnectionBroadcastsFloatToTriple checks the widening copy from a
// float output into a color input.
func TestConnectionBroadcastsFloatToTriple(t *testing.T) {
	g := shader.NewGroup("g")
	g.AddLayer(shader.NewInstance(parseMaster(t, srcLayerSrc), "a", 0))
	g.AddLayer(shader.NewInstance(parseMaster(t, `OpenShadingLanguage 1.00
surface dstc
param color Cin 0 0 0
oparam color out
code ___main___
	assign out Cin
	end
`), "b", 1))
	if err := g.Connect("a", "Fout", "b", "Cin"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r := compileAndRun(t, g, runtime.NewExterns(), nil, 0)
	for c := 0; c < 3; c++ {
		if got := r.paramF(t, 1, "out", c, 0); got != 0.7 {
			t.Errorf("out[%d] = %g, want 0.7", c, got)
		}
	}
}

// TestMergedLayersShareSlots folds two identical layers and checks that
// the survivor's function serves both and the merged layer emits no
// function of its own.
func TestMergedLayersShareSlots(t *testing.T) {
	master := parseMaster(t, srcLayerSrc)
	g := shader.NewGroup("g")
	g.AddLayer(shader.NewInstance(master, "a", 0))
	g.AddLayer(shader.NewInstance(master, "b", 1))
	g.AddLayer(shader.NewInstance(parseMaster(t, dstFloatSrc), "c", 2))
	if err := g.Connect("b", "Fout", "c", "In"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Layer a feeds nothing, so give it the same downstream mark as b to
	// keep the two mergeable.
	g.Layers[0].MarkConnectedDown(master.FindParam("Fout"))

	if n := g.MergeInstances(); n != 1 {
		t.Fatalf("MergeInstances = %d, want 1", n)
	}

	var sb strings.Builder
	ext := runtime.NewExterns()
	ext.Out = &sb
	r := compileAndRun(t, g, ext, nil, 0)

	if got := r.paramF(t, 2, "out", 0, 0); got != 0.7 {
		t.Errorf("out = %g, want 0.7", got)
	}
	if got := sb.String(); got != "ran " {
		t.Errorf("survivor should run once, printed %q", got)
	}
	dump := r.prog.Dump()
	if !strings.Contains(dump, LayerFuncName("g", 0, "a")) {
		t.Error("survivor layer function missing")
	}
	if strings.Contains(dump, LayerFuncName("g", 1, "b")) {
		t.Error("merged layer still has a function")
	}
	// The merged layer's slots alias the survivor's.
	ia, ib := g.Layers[0], g.Layers[1]
	sym := master.FindParam("Fout")
	if r.layout.ParamOffset(0, ia, sym) != r.layout.ParamOffset(1, ib, sym) {
		t.Error("merged layer does not share the survivor's slots")
	}
}

// TestRaytypeConstFold checks that constant ray type queries become bit
// tests with no extern call left in the program.
func TestRaytypeConstFold(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface rt
oparam int iscam
oparam int isshadow
const string $cam "camera"
const string $shad "shadow"
code ___main___
	raytype iscam $cam
	raytype isshadow $shad
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), nil, runtime.StandardRayTypeBit("camera"))
	if got := r.paramCell(t, 0, "iscam", 0, 0).I; got != 1 {
		t.Errorf("raytype(camera) = %d, want 1", got)
	}
	if got := r.paramCell(t, 0, "isshadow", 0, 0).I; got != 0 {
		t.Errorf("raytype(shadow) = %d, want 0", got)
	}
	if strings.Contains(r.prog.Dump(), "osl_raytype_name") {
		t.Error("constant raytype query was not folded")
	}
}

// TestClosureConstruction builds a weighted emission closure with a
// keyword argument and flattens the result.
func TestClosureConstruction(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface clo
oparam closure color Ci
temp closure color $t
const string $em "emission"
const string $lbl "label"
const string $tag "glow"
const float $cw 0.5
code ___main___
	closure $t $em $lbl $tag
	mul Ci $t $cw
	end
`)
	ext := runtime.NewExterns()
	r := compileAndRun(t, g, ext, nil, 0)

	ptr := r.paramCell(t, 0, "Ci", 0, 0)
	weights := runtime.FlattenClosure(r.m, ptr)
	if len(weights) != 1 {
		t.Fatalf("got %d components, want 1", len(weights))
	}
	emission := ext.Closures.Lookup("emission")
	if weights[0].ID != emission.ID {
		t.Errorf("component ID = %d, want emission (%d)", weights[0].ID, emission.ID)
	}
	if weights[0].Weight != [3]float32{0.5, 0.5, 0.5} {
		t.Errorf("weight = %v, want 0.5 everywhere", weights[0].Weight)
	}
}

// TestInitOpsParam evaluates a parameter's init section inside the layer
// with derivatives intact.
func TestInitOpsParam(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface initp
param float warped 0 %derivs
oparam float out %derivs
global float u %derivs
const float $c2 2
code warped
	mul warped u $c2
code ___main___
	assign out warped
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), runtime.Globals{
		"u": {Val: []float32{0.5}, Dx: []float32{1}},
	}, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 1 {
		t.Errorf("out = %g, want 1", got)
	}
	if got := r.paramF(t, 0, "out", 0, 1); got != 2 {
		t.Errorf("d(out)/dx = %g, want 2", got)
	}
}

type testRenderer struct {
	runtime.NullRenderer
	userData map[string][]float32
	texels   []float32
	gotBlur  float32
	gotSWrap string
}

func (r *testRenderer) UserData(name string) ([]float32, bool) {
	v, ok := r.userData[name]
	return v, ok
}

func (r *testRenderer) Texture(_ string, opts *runtime.TextureOptions, _, _ float32, _ int) ([]float32, bool) {
	r.gotBlur = opts.SBlur
	r.gotSWrap = opts.SWrap
	return r.texels, r.texels != nil
}

// TestInterpolatedParamBindsUserData checks that geometric user data
// overrides the baked value of an interpolated parameter.
func TestInterpolatedParamBindsUserData(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface interp
param float scale 1 %interpolated
oparam float out
code ___main___
	assign out scale
	end
`)
	ext := runtime.NewExterns()
	ext.Renderer = &testRenderer{userData: map[string][]float32{"scale": {0.25}}}
	r := compileAndRun(t, g, ext, nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 0.25 {
		t.Errorf("out = %g, want the interpolated 0.25", got)
	}

	// Without user data the declared default stands.
	g2 := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface interp
param float scale 1 %interpolated
oparam float out
code ___main___
	assign out scale
	end
`)
	ext2 := runtime.NewExterns()
	ext2.Renderer = &testRenderer{}
	r2 := compileAndRun(t, g2, ext2, nil, 0)
	if got := r2.paramF(t, 0, "out", 0, 0); got != 1 {
		t.Errorf("out = %g, want the default 1", got)
	}
}

// TestTextureOptionElision checks that texture options are staged before
// the lookup and that values matching the defaults emit no setter call.
func TestTextureOptionElision(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface tex
oparam color Cout
global float u
global float v
const string $file "checker.png"
const string $kblur "blur"
const float $vblur 0.25
const string $kswrap "swrap"
const string $vswrap "default"
code ___main___
	texture Cout $file u v $kblur $vblur $kswrap $vswrap
	end
`)
	ext := runtime.NewExterns()
	rend := &testRenderer{texels: []float32{0.2, 0.4, 0.6}}
	ext.Renderer = rend
	r := compileAndRun(t, g, ext, runtime.Globals{
		"u": {Val: []float32{0.5}},
		"v": {Val: []float32{0.5}},
	}, 0)

	want := []float32{0.2, 0.4, 0.6}
	for c := 0; c < 3; c++ {
		if got := r.paramF(t, 0, "Cout", c, 0); got != want[c] {
			t.Errorf("Cout[%d] = %g, want %g", c, got, want[c])
		}
	}
	if rend.gotBlur != 0.25 {
		t.Errorf("blur at lookup = %g, want 0.25", rend.gotBlur)
	}
	if rend.gotSWrap != "default" {
		t.Errorf("swrap at lookup = %q, want default", rend.gotSWrap)
	}
	if strings.Contains(r.prog.Dump(), "osl_texture_set_swrap") {
		t.Error("default-valued swrap option was not elided")
	}
}

// TestArrayRangeCheck clamps a runtime index and reports the fault with
// source context.
func TestArrayRangeCheck(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface arr
param int idx 7
param float knots[4] 0.1 0.2 0.3 0.4
oparam float out
code ___main___
	aref out knots idx %filename{"arr.osl"} %line{5}
	end
`)
	ext := runtime.NewExterns()
	r := compileAndRun(t, g, ext, nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 0.4 {
		t.Errorf("out = %g, want the clamped 0.4", got)
	}
	if len(ext.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", ext.Errors)
	}
	for _, frag := range []string{"out of range", "knots", "arr.osl:5"} {
		if !strings.Contains(ext.Errors[0], frag) {
			t.Errorf("error %q missing %q", ext.Errors[0], frag)
		}
	}
}

// TestGenericExternDispatch routes an op with no dedicated generator
// through the name-mangled extern path.
func TestGenericExternDispatch(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface gen
oparam float out
const float $c 0.25
code ___main___
	sqrt out $c
	end
`)
	r := compileAndRun(t, g, runtime.NewExterns(), nil, 0)
	if got := r.paramF(t, 0, "out", 0, 0); got != 0.5 {
		t.Errorf("sqrt(0.25) = %g, want 0.5", got)
	}
}

// TestLoweringErrorHasContext checks that a bad op surfaces as a
// compile error naming the layer and source position.
func TestLoweringErrorHasContext(t *testing.T) {
	g := oneLayerGroup(t, `OpenShadingLanguage 1.00
surface bad
oparam closure color Ci
const string $nope "no_such_closure"
code ___main___
	closure Ci $nope %filename{"bad.osl"} %line{9}
	end
`)
	be := NewBackend(g, runtime.BuiltinClosures(), DefaultOptions())
	_, _, err := be.Generate()
	if err == nil {
		t.Fatal("Generate succeeded, want unknown-closure error")
	}
	for _, frag := range []string{"no_such_closure", "bad.osl:9", "l0"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("error %q missing %q", err, frag)
		}
	}
}
