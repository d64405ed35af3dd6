package ir

import (
	"strings"
	"testing"
)

// buildAndRun finishes fn into a program and executes it.
func buildAndRun(t *testing.T, b *Builder, args ...Value) []Value {
	t.Helper()
	p := NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMachine(p)
	out, err := m.Run("f", args...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestArithmetic(t *testing.T) {
	b := NewBuilder("f", 2)
	sum := b.Binary(OpFAdd, b.Param(0), b.Param(1))
	prod := b.Binary(OpFMul, sum, b.ConstF(2))
	b.Return(prod)
	out := buildAndRun(t, b, FloatVal(1.5), FloatVal(2.5))
	if len(out) != 1 || out[0].F != 8 {
		t.Errorf("got %v, want [8]", out)
	}
}

func TestIntegerDivisionByZero(t *testing.T) {
	b := NewBuilder("f", 2)
	b.Return(b.Binary(OpIDiv, b.Param(0), b.Param(1)))
	out := buildAndRun(t, b, IntVal(7), IntVal(0))
	if out[0].I != 0 {
		t.Errorf("7/0 = %d, want 0", out[0].I)
	}
}

func TestSelect(t *testing.T) {
	b := NewBuilder("f", 2)
	cond := b.Binary(OpFLt, b.Param(0), b.Param(1))
	b.Return(b.Select(cond, b.Param(0), b.Param(1)))
	out := buildAndRun(t, b, FloatVal(3), FloatVal(1))
	if out[0].F != 1 {
		t.Errorf("min(3,1) = %g, want 1", out[0].F)
	}
}

func TestBufferLoadStore(t *testing.T) {
	b := NewBuilder("f", 0)
	buf := b.Alloca(4)
	b.Memset(buf, 4)
	b.Store(b.OffsetConst(buf, 2), b.ConstF(9))
	b.Return(b.Load(b.OffsetConst(buf, 2)), b.Load(b.OffsetConst(buf, 3)))
	out := buildAndRun(t, b)
	if out[0].F != 9 || out[1].F != 0 {
		t.Errorf("got %v, want [9 0]", out)
	}
}

func TestMemcpy(t *testing.T) {
	b := NewBuilder("f", 0)
	src := b.Alloca(3)
	dst := b.Alloca(3)
	for i := 0; i < 3; i++ {
		b.Store(b.OffsetConst(src, i), b.ConstF(float32(i+1)))
	}
	b.Memcpy(dst, src, 3)
	b.Return(b.Load(b.OffsetConst(dst, 0)), b.Load(b.OffsetConst(dst, 2)))
	out := buildAndRun(t, b)
	if out[0].F != 1 || out[1].F != 3 {
		t.Errorf("got %v, want [1 3]", out)
	}
}

// TestLoop sums 1..n with a conditional back edge.
func TestLoop(t *testing.T) {
	b := NewBuilder("f", 1)
	acc := b.Alloca(1)
	i := b.Alloca(1)
	b.Memset(acc, 1)
	b.Store(i, b.ConstI(1))

	cond := b.NewBlock("cond")
	body := b.NewBlock("body")
	after := b.NewBlock("after")
	b.Branch(cond)

	b.StartBlock(cond)
	iv := b.Load(i)
	b.CondBranch(b.Binary(OpILe, iv, b.Param(0)), body, after)

	b.StartBlock(body)
	iv = b.Load(i)
	b.Store(acc, b.Binary(OpIAdd, b.Load(acc), iv))
	b.Store(i, b.Binary(OpIAdd, iv, b.ConstI(1)))
	b.Branch(cond)

	b.StartBlock(after)
	b.Return(b.Load(acc))

	out := buildAndRun(t, b, IntVal(10))
	if out[0].I != 55 {
		t.Errorf("sum 1..10 = %d, want 55", out[0].I)
	}
}

func TestExternCall(t *testing.T) {
	b := NewBuilder("f", 1)
	b.Return(b.Call("double", b.Param(0)))
	p := NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMachine(p)
	m.RegisterExtern("double", func(_ *Machine, args []Value) (Value, error) {
		return FloatVal(args[0].F * 2), nil
	})
	out, err := m.Run("f", FloatVal(21))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].F != 42 {
		t.Errorf("double(21) = %g, want 42", out[0].F)
	}
}

func TestProgramCallBeforeExtern(t *testing.T) {
	callee := NewBuilder("g", 1)
	callee.Return(callee.Binary(OpIAdd, callee.Param(0), callee.ConstI(1)))

	caller := NewBuilder("f", 1)
	caller.Return(caller.Call("g", caller.Param(0)))

	p := NewProgram()
	if err := p.Add(callee.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(caller.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMachine(p)
	// An extern with the same name must lose to the program function.
	m.RegisterExtern("g", func(_ *Machine, args []Value) (Value, error) {
		return IntVal(-1), nil
	})
	out, err := m.Run("f", IntVal(5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].I != 6 {
		t.Errorf("f(5) = %d, want 6", out[0].I)
	}
}

func TestUnknownCallee(t *testing.T) {
	b := NewBuilder("f", 0)
	b.Call("nosuch")
	b.Return()
	p := NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMachine(p)
	if _, err := m.Run("f"); err == nil {
		t.Error("calling an unknown function should fail")
	}
}

func TestStepLimit(t *testing.T) {
	b := NewBuilder("f", 0)
	top := b.NewBlock("top")
	b.Branch(top)
	b.StartBlock(top)
	b.Branch(top)
	p := NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMachine(p)
	m.MaxSteps = 1000
	if _, err := m.Run("f"); err == nil {
		t.Error("infinite loop should hit the step limit")
	}
}

func TestDuplicateFunction(t *testing.T) {
	p := NewProgram()
	a := NewBuilder("f", 0)
	a.Return()
	if err := p.Add(a.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	dup := NewBuilder("f", 0)
	dup.Return()
	if err := p.Add(dup.Finish()); err == nil {
		t.Error("adding a duplicate function should fail")
	}
}

func TestDump(t *testing.T) {
	b := NewBuilder("f", 1)
	b.Return(b.Binary(OpFAdd, b.Param(0), b.ConstF(1)))
	p := NewProgram()
	if err := p.Add(b.Finish()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	text := p.Dump()
	for _, want := range []string{"func f", "fadd", "constf 1", "ret"} {
		if !strings.Contains(text, want) {
			t.Errorf("dump missing %q:\n%s", want, text)
		}
	}
}
