package shader

import (
	"errors"
	"strings"
	"testing"
)

// bindMaster builds a small master exercising every parameter kind the
// binding rules care about.
func bindMaster() *Master {
	m := &Master{Name: "paramtest", ShaderType: "surface", RangeChecking: true}
	addParam := func(name, typ string, kind SymType, floats []float32, ints []int32, strs []string) {
		t, err := ParseTypeSpec(typ)
		if err != nil {
			panic(err)
		}
		s := Symbol{Name: name, Type: t, Kind: kind, EverRead: true}
		switch t.Base {
		case BaseInt:
			s.DataOffset = len(m.IntDefaults)
			m.IntDefaults = append(m.IntDefaults, ints...)
			s.Initializers = len(ints)
		case BaseString:
			s.DataOffset = len(m.StringDefaults)
			m.StringDefaults = append(m.StringDefaults, strs...)
			s.Initializers = len(strs)
		default:
			s.DataOffset = len(m.FloatDefaults)
			m.FloatDefaults = append(m.FloatDefaults, floats...)
			s.Initializers = len(floats)
		}
		m.Symbols = append(m.Symbols, s)
	}
	addParam("Kd", "float", SymParam, []float32{0.5}, nil, nil)
	addParam("Cs", "color", SymParam, []float32{1, 1, 1}, nil, nil)
	addParam("samples", "int", SymParam, nil, []int32{4}, nil)
	addParam("pattern", "string", SymParam, nil, nil, []string{"ramp"})
	addParam("knots", "float[]", SymParam, []float32{0.1, 0.2}, nil, nil)
	addParam("Cout", "color", SymOutputParam, []float32{0, 0, 0}, nil, nil)
	addParam("Fout", "float", SymOutputParam, []float32{0}, nil, nil)
	m.FirstParam, m.LastParam = 0, len(m.Symbols)
	return m
}

func TestBindBroadcastFloatToTriple(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "Cs", Type: TypeFloat, Floats: []float32{0.25}},
	}, nil)
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	sym := inst.Master.FindParam("Cs")
	off := inst.ParamOffset(sym)
	for i := 0; i < 3; i++ {
		if got := inst.FloatValues[off+i]; got != 0.25 {
			t.Errorf("Cs[%d] = %g, want 0.25", i, got)
		}
	}
	if inst.override(sym).Source != SourceInstance {
		t.Error("Cs should be instance-sourced after binding")
	}
}

func TestBindRelaxedIntToFloat(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "Kd", Type: TypeInt, Ints: []int32{1}},
	}, nil)
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	sym := inst.Master.FindParam("Kd")
	if got := inst.FloatValues[inst.ParamOffset(sym)]; got != 1 {
		t.Errorf("Kd = %g, want 1", got)
	}
}

func TestBindFloatToIntIsLossy(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "samples", Type: TypeFloat, Floats: []float32{3.5}},
	}, nil)
	if err == nil {
		t.Fatal("binding float to int parameter should fail")
	}
	if !strings.Contains(err.Error(), "lossy") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBindWrongCount(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "Cs", Type: TypeTriple, Floats: []float32{1, 2}},
	}, nil)
	if err == nil {
		t.Fatal("short triple value should fail")
	}
}

func TestBindUnknownParamWarns(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "nosuch", Type: TypeFloat, Floats: []float32{1}},
	}, nil)
	if err != nil {
		t.Fatalf("unknown parameter should warn, not fail: %v", err)
	}
	if len(inst.Warnings) == 0 {
		t.Error("expected a warning for unknown parameter")
	}
}

func TestBindUnsizedArrayTail(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	poolLen := len(inst.FloatValues)
	knots, _ := ParseTypeSpec("float[]")
	err := inst.BindParameters([]ParamValue{
		{Name: "knots", Type: knots, Floats: []float32{1, 2, 3, 4}},
	}, nil)
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	sym := inst.Master.FindParam("knots")
	if got := inst.ParamArrayLen(sym); got != 4 {
		t.Errorf("ParamArrayLen = %d, want 4", got)
	}
	off := inst.ParamOffset(sym)
	if off != poolLen {
		t.Errorf("tail allocation at %d, want end of pool %d", off, poolLen)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if got := inst.FloatValues[off+i]; got != want {
			t.Errorf("knots[%d] = %g, want %g", i, got, want)
		}
	}
}

func TestBindUnsizedArrayRebind(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	knots, _ := ParseTypeSpec("float[]")
	if err := inst.BindParameters([]ParamValue{
		{Name: "knots", Type: knots, Floats: []float32{1, 2, 3}},
	}, nil); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	err := inst.BindParameters([]ParamValue{
		{Name: "knots", Type: knots, Floats: []float32{1, 2, 3, 4}},
	}, nil)
	if !errors.Is(err, ErrArrayRebind) {
		t.Errorf("rebinding with a new length: got %v, want ErrArrayRebind", err)
	}
}

func TestBindDefaultValueReverts(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "Kd", Type: TypeFloat, Floats: []float32{0.5}},
	}, nil)
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	sym := inst.Master.FindParam("Kd")
	if inst.override(sym).Source != SourceDefault {
		t.Error("binding the default value should leave the param default-sourced")
	}
}

func TestBindDefaultValueKeptWhenInterpolated(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	err := inst.BindParameters([]ParamValue{
		{Name: "Kd", Type: TypeFloat, Floats: []float32{0.5}},
	}, map[string]ParamHints{"Kd": {Interpolated: true}})
	if err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	sym := inst.Master.FindParam("Kd")
	ov := inst.override(sym)
	if !ov.Interpolated {
		t.Error("hint should mark the param interpolated")
	}
}

func TestSpecializeFixesUnsizedLength(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	knots, _ := ParseTypeSpec("float[]")
	if err := inst.BindParameters([]ParamValue{
		{Name: "knots", Type: knots, Floats: []float32{1, 2, 3}},
	}, nil); err != nil {
		t.Fatalf("BindParameters: %v", err)
	}
	inst.SpecializeFromMaster(nil)
	sym := inst.FindSymbol("knots")
	if got := inst.Symbols[sym].Type.ArrayLen; got != 3 {
		t.Errorf("specialized knots length = %d, want 3", got)
	}

	// Left at default, the length comes from the default value.
	inst2 := NewInstance(bindMaster(), "layer2", 1)
	inst2.SpecializeFromMaster(nil)
	sym2 := inst2.FindSymbol("knots")
	if got := inst2.Symbols[sym2].Type.ArrayLen; got != 2 {
		t.Errorf("default knots length = %d, want 2", got)
	}
}

func TestSpecializeRendererOutputs(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	inst.SpecializeFromMaster(map[string]bool{"Cout": true})
	sym := inst.FindSymbol("Cout")
	if !inst.Symbols[sym].RendererOutput {
		t.Error("Cout should be marked as a renderer output")
	}
}

func TestSpecializeIdempotent(t *testing.T) {
	inst := NewInstance(bindMaster(), "layer", 0)
	inst.SpecializeFromMaster(nil)
	syms := inst.Symbols
	inst.SpecializeFromMaster(map[string]bool{"Cout": true})
	if &syms[0] != &inst.Symbols[0] {
		t.Error("second specialization should be a no-op")
	}
}
