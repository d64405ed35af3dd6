package shader

import "testing"

func TestParseTypeSpecRoundTrip(t *testing.T) {
	cases := []string{
		"int", "float", "string", "color", "matrix",
		"float[4]", "color[2]", "float[]",
	}
	for _, src := range cases {
		ts, err := ParseTypeSpec(src)
		if err != nil {
			t.Fatalf("ParseTypeSpec(%q): %v", src, err)
		}
		if got := ts.String(); got != src {
			t.Errorf("round trip %q: got %q", src, got)
		}
	}
}

func TestParseTypeSpecAliases(t *testing.T) {
	// point, vector, and normal all collapse to the triple.
	for _, src := range []string{"point", "vector", "normal"} {
		ts, err := ParseTypeSpec(src)
		if err != nil {
			t.Fatalf("ParseTypeSpec(%q): %v", src, err)
		}
		if ts != TypeTriple {
			t.Errorf("ParseTypeSpec(%q) = %v, want triple", src, ts)
		}
	}
}

func TestParseTypeSpecErrors(t *testing.T) {
	for _, src := range []string{"quaternion", "float[", "float[-1]", "float[x]"} {
		if _, err := ParseTypeSpec(src); err == nil {
			t.Errorf("ParseTypeSpec(%q) succeeded, want error", src)
		}
	}
}

func TestNumElements(t *testing.T) {
	cases := []struct {
		src  string
		want int
	}{
		{"float", 1},
		{"color", 3},
		{"matrix", 16},
		{"float[4]", 4},
		{"color[2]", 6},
	}
	for _, c := range cases {
		ts, err := ParseTypeSpec(c.src)
		if err != nil {
			t.Fatalf("ParseTypeSpec(%q): %v", c.src, err)
		}
		if got := ts.NumElements(); got != c.want {
			t.Errorf("%s.NumElements() = %d, want %d", c.src, got, c.want)
		}
	}
}

func TestRelaxedEquivalent(t *testing.T) {
	color2, _ := ParseTypeSpec("color[2]")
	float6, _ := ParseTypeSpec("float[6]")
	float4, _ := ParseTypeSpec("float[4]")

	if !RelaxedEquivalent(color2, float6) {
		t.Error("color[2] should accept float[6]")
	}
	if RelaxedEquivalent(color2, float4) {
		t.Error("color[2] should reject float[4]")
	}
	if !RelaxedEquivalent(TypeTriple, TypeTriple) {
		t.Error("identical types should be equivalent")
	}
	if RelaxedEquivalent(TypeString, TypeFloat) {
		t.Error("string and float are never equivalent")
	}
}
