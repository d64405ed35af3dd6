package oso

import (
	"strings"
	"testing"

	"github.com/gogpu/osl/shader"
)

const matteSrc = `OpenShadingLanguage 1.00
surface matte
global point P %derivs
param float Kd 0.5
param color Cs 1 1 1
param string pattern "noise map"
oparam closure color Ci
local float tmp %write{1,0}
temp float $tmp1 %derivs
const float $const1 0.5
code Kd
	assign Kd $const1 %line{3}
code ___main___
	mul $tmp1 Kd $const1 %filename{"matte.osl"} %line{8}
	if $tmp1 %jump{3,4}
	end
`

// TestParseMaster checks the symbol table, parameter block, default
// pools and code section ranges of a full master.
func TestParseMaster(t *testing.T) {
	m, err := Parse(matteSrc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.ShaderType != "surface" || m.Name != "matte" {
		t.Errorf("decl = %s %s, want surface matte", m.ShaderType, m.Name)
	}
	if len(m.Symbols) != 8 {
		t.Fatalf("got %d symbols, want 8", len(m.Symbols))
	}
	if m.FirstParam != 1 || m.LastParam != 5 {
		t.Errorf("param block = [%d,%d), want [1,5)", m.FirstParam, m.LastParam)
	}

	p := m.Symbols[0]
	if p.Kind != shader.SymGlobal || !p.HasDerivs {
		t.Errorf("P = kind %v derivs %v", p.Kind, p.HasDerivs)
	}
	kd := m.Symbols[1]
	if kd.Initializers != 1 || m.FloatDefaults[kd.DataOffset] != 0.5 {
		t.Errorf("Kd default wrong: %+v", kd)
	}
	cs := m.Symbols[2]
	if cs.Initializers != 3 {
		t.Errorf("Cs initializers = %d, want 3", cs.Initializers)
	}
	for i := 0; i < 3; i++ {
		if m.FloatDefaults[cs.DataOffset+i] != 1 {
			t.Errorf("Cs[%d] = %g, want 1", i, m.FloatDefaults[cs.DataOffset+i])
		}
	}
	if got := m.StringDefaults[m.Symbols[3].DataOffset]; got != "noise map" {
		t.Errorf("pattern default = %q, want noise map", got)
	}
	if !m.Symbols[4].Type.IsClosure() {
		t.Errorf("Ci type = %v, want closure", m.Symbols[4].Type)
	}
	tmp := m.Symbols[5]
	if !tmp.EverRead || tmp.EverWritten {
		t.Errorf("tmp usage = read %v write %v, want read, never written",
			tmp.EverRead, tmp.EverWritten)
	}

	if kd.InitBegin != 0 || kd.InitEnd != 1 || kd.Source != shader.SourceInitOps {
		t.Errorf("Kd init section = [%d,%d) source %v", kd.InitBegin, kd.InitEnd, kd.Source)
	}
	if m.MainCodeBegin != 1 || m.MainCodeEnd != 4 {
		t.Errorf("main = [%d,%d), want [1,4)", m.MainCodeBegin, m.MainCodeEnd)
	}

	mul := m.Ops[1]
	if mul.Name != "mul" || mul.NArgs != 3 {
		t.Fatalf("main op 0 = %s/%d args", mul.Name, mul.NArgs)
	}
	if mul.SourceFile != "matte.osl" || mul.SourceLine != 8 {
		t.Errorf("source = %s:%d, want matte.osl:8", mul.SourceFile, mul.SourceLine)
	}
	args := m.OpArgs(&mul)
	if m.Symbols[args[0]].Name != "$tmp1" || m.Symbols[args[1]].Name != "Kd" {
		t.Errorf("mul args resolve to %q %q", m.Symbols[args[0]].Name, m.Symbols[args[1]].Name)
	}
	ifOp := m.Ops[2]
	if ifOp.Jumps != [4]int{3, 4, -1, -1} {
		t.Errorf("if jumps = %v, want {3,4,-1,-1}", ifOp.Jumps)
	}
	if mul.Jumps != [4]int{-1, -1, -1, -1} {
		t.Errorf("mul jumps = %v, want all -1", mul.Jumps)
	}
}

// TestParseDefaultsConservative checks that symbols without usage hints
// count as both read and written so later passes stay correct.
func TestParseDefaultsConservative(t *testing.T) {
	m, err := Parse("OpenShadingLanguage 1.00\nsurface s\nparam float x 1\ncode ___main___\n\tend\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	x := m.Symbols[0]
	if !x.EverRead || !x.EverWritten {
		t.Errorf("usage defaults = read %v write %v, want both true", x.EverRead, x.EverWritten)
	}
	if x.HasDerivs {
		t.Error("derivs must be opt-in")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"no header", "surface s\n", "missing format header"},
		{"no shader", "OpenShadingLanguage 1.00\n", "missing shader declaration"},
		{"bad kind", "OpenShadingLanguage 1.00\nsurface s\nbogus float x\n", "unknown symbol kind"},
		{"bad type", "OpenShadingLanguage 1.00\nsurface s\nparam quaternion q\n", "quaternion"},
		{"const no value", "OpenShadingLanguage 1.00\nsurface s\nconst float $c\n", "has no value"},
		{"bad float", "OpenShadingLanguage 1.00\nsurface s\nparam float x abc\n", "bad float value"},
		{"split params", "OpenShadingLanguage 1.00\nsurface s\nparam float a 1\nlocal float t\nparam float b 2\n", "breaks the parameter block"},
		{"unknown op arg", "OpenShadingLanguage 1.00\nsurface s\ncode ___main___\n\tassign x y\n", "unknown symbol"},
		{"unknown section", "OpenShadingLanguage 1.00\nsurface s\ncode nope\n", "unknown symbol \"nope\""},
		{"open quote", "OpenShadingLanguage 1.00\nsurface s\nparam string x \"oops\n", "unterminated string"},
		{"bad jump", "OpenShadingLanguage 1.00\nsurface s\ncode ___main___\n\tend %jump{x}\n", "bad jump target"},
	}
	for _, tc := range cases {
		_, err := Parse(tc.src)
		if err == nil {
			t.Errorf("%s: Parse succeeded, want error containing %q", tc.name, tc.want)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error = %v, want %q", tc.name, err, tc.want)
		}
	}
}

// TestFormatRoundTrip checks that Format is a fixpoint: formatting,
// reparsing and formatting again yields the same text.
func TestFormatRoundTrip(t *testing.T) {
	m, err := Parse(matteSrc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	text := Format(m)
	m2, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(Format): %v\n%s", err, text)
	}
	if again := Format(m2); again != text {
		t.Errorf("Format not stable:\nfirst:\n%s\nsecond:\n%s", text, again)
	}
	if len(m2.Symbols) != len(m.Symbols) || len(m2.Ops) != len(m.Ops) {
		t.Errorf("round trip changed shape: %d/%d symbols, %d/%d ops",
			len(m2.Symbols), len(m.Symbols), len(m2.Ops), len(m.Ops))
	}
}

// TestEmptyMainSection checks that a master with no main code still
// gets a well formed empty op range.
func TestEmptyMainSection(t *testing.T) {
	m, err := Parse("OpenShadingLanguage 1.00\nsurface s\nparam float x 1\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.MainCodeBegin != m.MainCodeEnd {
		t.Errorf("main = [%d,%d), want empty", m.MainCodeBegin, m.MainCodeEnd)
	}
}
