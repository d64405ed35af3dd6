package shader

import (
	"fmt"
	"strconv"
	"strings"
)

// BaseType is the fundamental storage type of a symbol.
type BaseType uint8

const (
	BaseInt BaseType = iota
	BaseFloat
	BaseString
	BaseClosure
)

// Aggregate arities. Scalars are 1, triples (color/point/vector/normal)
// are 3, matrices are 16. All triples are treated identically here; the
// distinction only matters to the frontend.
const (
	AggScalar = 1
	AggTriple = 3
	AggMatrix = 16
)

// LenUnsized marks an array parameter whose concrete length is not known
// until a value or connection supplies one.
const LenUnsized = -1

// TypeSpec describes the type of a symbol: base type, aggregate arity,
// and array length (0 for non-arrays, LenUnsized for indefinite arrays).
type TypeSpec struct {
	Base      BaseType
	Aggregate int
	ArrayLen  int
}

// Convenience constructors for the common types.
var (
	TypeInt     = TypeSpec{Base: BaseInt, Aggregate: AggScalar}
	TypeFloat   = TypeSpec{Base: BaseFloat, Aggregate: AggScalar}
	TypeTriple  = TypeSpec{Base: BaseFloat, Aggregate: AggTriple}
	TypeMatrix  = TypeSpec{Base: BaseFloat, Aggregate: AggMatrix}
	TypeString  = TypeSpec{Base: BaseString, Aggregate: AggScalar}
	TypeClosure = TypeSpec{Base: BaseClosure, Aggregate: AggScalar}
)

func (t TypeSpec) IsInt() bool {
	return t.Base == BaseInt && t.Aggregate == AggScalar && t.ArrayLen == 0
}
func (t TypeSpec) IsFloat() bool {
	return t.Base == BaseFloat && t.Aggregate == AggScalar && t.ArrayLen == 0
}
func (t TypeSpec) IsString() bool  { return t.Base == BaseString && t.ArrayLen == 0 }
func (t TypeSpec) IsClosure() bool { return t.Base == BaseClosure }
func (t TypeSpec) IsTriple() bool {
	return t.Base == BaseFloat && t.Aggregate == AggTriple && t.ArrayLen == 0
}
func (t TypeSpec) IsMatrix() bool {
	return t.Base == BaseFloat && t.Aggregate == AggMatrix && t.ArrayLen == 0
}

func (t TypeSpec) IsFloatBased() bool { return t.Base == BaseFloat }
func (t TypeSpec) IsIntBased() bool   { return t.Base == BaseInt }

func (t TypeSpec) IsArray() bool        { return t.ArrayLen != 0 }
func (t TypeSpec) IsUnsizedArray() bool { return t.ArrayLen == LenUnsized }

// ElementType returns the type of one array element.
func (t TypeSpec) ElementType() TypeSpec {
	t.ArrayLen = 0
	return t
}

// NumElements returns the total number of base-type values a symbol of
// this type stores: array length times aggregate arity. Unsized arrays
// report 0 until a concrete length is assigned.
func (t TypeSpec) NumElements() int {
	switch {
	case t.ArrayLen > 0:
		return t.ArrayLen * t.Aggregate
	case t.ArrayLen == LenUnsized:
		return 0
	default:
		return t.Aggregate
	}
}

// Equivalent reports whether a value of type b may be bound to a slot of
// type a: same base and aggregate, and either equal lengths or a being an
// unsized array accepting any concrete length of the same element type.
func Equivalent(a, b TypeSpec) bool {
	if a.Base != b.Base || a.Aggregate != b.Aggregate {
		return false
	}
	if a.ArrayLen == b.ArrayLen {
		return true
	}
	return a.ArrayLen == LenUnsized && b.ArrayLen > 0
}

// RelaxedEquivalent is the permissive typecheck: any numeric pairing with
// a matching total base-value count is accepted, e.g. float[6] supplied to
// a color[2] parameter.
func RelaxedEquivalent(a, b TypeSpec) bool {
	if Equivalent(a, b) {
		return true
	}
	numericA := a.Base == BaseFloat || a.Base == BaseInt
	numericB := b.Base == BaseFloat || b.Base == BaseInt
	if !numericA || !numericB {
		return false
	}
	if a.ArrayLen == LenUnsized {
		return b.NumElements()%a.Aggregate == 0
	}
	return a.NumElements() == b.NumElements()
}

func (t TypeSpec) String() string {
	var s string
	switch {
	case t.Base == BaseInt:
		s = "int"
	case t.Base == BaseString:
		s = "string"
	case t.Base == BaseClosure:
		s = "closure color"
	case t.Aggregate == AggTriple:
		s = "color"
	case t.Aggregate == AggMatrix:
		s = "matrix"
	default:
		s = "float"
	}
	switch {
	case t.ArrayLen > 0:
		return fmt.Sprintf("%s[%d]", s, t.ArrayLen)
	case t.ArrayLen == LenUnsized:
		return s + "[]"
	}
	return s
}

// ParseTypeSpec is the inverse of TypeSpec.String, used when
// reconstructing a serialized group.
func ParseTypeSpec(s string) (TypeSpec, error) {
	t := TypeSpec{Aggregate: AggScalar}
	base := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return t, fmt.Errorf("malformed type %q", s)
		}
		base = s[:i]
		inner := s[i+1 : len(s)-1]
		if inner == "" {
			t.ArrayLen = LenUnsized
		} else {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return t, fmt.Errorf("malformed array length in %q", s)
			}
			t.ArrayLen = n
		}
	}
	switch base {
	case "int":
		t.Base = BaseInt
	case "float":
		t.Base = BaseFloat
	case "string":
		t.Base = BaseString
	case "color", "point", "vector", "normal":
		t.Base, t.Aggregate = BaseFloat, AggTriple
	case "matrix":
		t.Base, t.Aggregate = BaseFloat, AggMatrix
	default:
		return t, fmt.Errorf("unknown type %q", base)
	}
	return t, nil
}
