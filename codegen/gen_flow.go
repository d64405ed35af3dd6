package codegen

import (
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/shader"
)

// condValue loads a condition symbol as a bool.
func (g *layerGen) condValue(sym int) ir.ValueID {
	v := g.loadComp(sym, 0, 0)
	s := g.sym(sym)
	if s.Type.IsFloatBased() {
		return g.b.Binary(ir.OpFNe, v, g.b.ConstF(0))
	}
	if s.Type.IsString() {
		return g.b.Binary(ir.OpSNe, v, g.b.ConstS(""))
	}
	return g.b.Unary(ir.OpIntToBool, v)
}

// genIf lowers: jump 0 is the else clause begin, jump 1 the op after
// the whole statement.
func (g *layerGen) genIf(i int) (int, error) {
	op := &g.inst.Ops[i]
	elseBegin, after := op.Jumps[0], op.Jumps[1]
	cond := g.condValue(g.opArgs(op)[0])

	thenB := g.b.NewBlock("then")
	afterB := g.b.NewBlock("after_if")
	elseB := afterB
	hasElse := elseBegin < after
	if hasElse {
		elseB = g.b.NewBlock("else")
	}
	g.b.CondBranch(cond, thenB, elseB)

	g.b.StartBlock(thenB)
	if err := g.genOps(i+1, elseBegin); err != nil {
		return 0, err
	}
	g.b.Branch(afterB)

	if hasElse {
		g.b.StartBlock(elseB)
		if err := g.genOps(elseBegin, after); err != nil {
			return 0, err
		}
		g.b.Branch(afterB)
	}
	g.b.StartBlock(afterB)
	return after, nil
}

// genLoop lowers for/while/dowhile. Jumps: 0 condition begin, 1 body
// begin, 2 step begin, 3 end. Ops before the condition are the loop
// initializer. A dowhile enters the body without testing first.
func (g *layerGen) genLoop(i int, doWhile bool) (int, error) {
	op := &g.inst.Ops[i]
	condBegin, bodyBegin, stepBegin, end := op.Jumps[0], op.Jumps[1], op.Jumps[2], op.Jumps[3]

	if err := g.genOps(i+1, condBegin); err != nil {
		return 0, err
	}

	condB := g.b.NewBlock("cond")
	bodyB := g.b.NewBlock("body")
	stepB := g.b.NewBlock("step")
	afterB := g.b.NewBlock("after_loop")
	g.b.PushLoop(stepB, afterB)
	defer g.b.PopLoop()

	if doWhile {
		g.b.Branch(bodyB)
	} else {
		g.b.Branch(condB)
	}

	g.b.StartBlock(condB)
	if err := g.genOps(condBegin, bodyBegin); err != nil {
		return 0, err
	}
	g.b.CondBranch(g.condValue(g.opArgs(op)[0]), bodyB, afterB)

	g.b.StartBlock(bodyB)
	if err := g.genOps(bodyBegin, stepBegin); err != nil {
		return 0, err
	}
	g.b.Branch(stepB)

	g.b.StartBlock(stepB)
	if err := g.genOps(stepBegin, end); err != nil {
		return 0, err
	}
	g.b.Branch(condB)

	g.b.StartBlock(afterB)
	return end, nil
}

// genFunctionCall lowers an inlined shader function body. Jump 0 is the
// op after the body; a return inside branches there.
func (g *layerGen) genFunctionCall(i int) (int, error) {
	op := &g.inst.Ops[i]
	end := op.Jumps[0]
	afterB := g.b.NewBlock("after_func")
	g.b.PushFunction(afterB)

	if g.be.opts.Debug {
		name := ""
		if args := g.opArgs(op); len(args) > 0 {
			s := g.sym(args[0])
			if s.Kind == shader.SymConst && s.Type.IsString() {
				name = g.inst.StringValues[s.DataOffset]
			}
		}
		g.b.DebugPushInlinedFunction(name, op.SourceFile, op.SourceLine)
	}

	if err := g.genOps(i+1, end); err != nil {
		return 0, err
	}
	if g.be.opts.Debug {
		g.b.DebugPopInlinedFunction()
	}
	g.b.Branch(afterB)
	g.b.PopFunction()
	g.b.StartBlock(afterB)
	return end, nil
}

// genLoopMod lowers break and continue: branch out, then keep lowering
// into an unreachable block so the remainder of the region still has a
// home.
func (g *layerGen) genLoopMod(i int) error {
	op := &g.inst.Ops[i]
	if !g.b.InLoop() {
		g.be.opErrorf(g.inst, op, "%s outside of a loop", op.Name)
		return nil
	}
	if op.Name == "break" {
		g.b.Branch(g.b.LoopAfterBlock())
	} else {
		g.b.Branch(g.b.LoopStepBlock())
	}
	g.b.StartBlock(g.b.NewBlock("dead"))
	return nil
}

// genReturn branches to the innermost inlined function's return target,
// or ends the layer body at layer scope.
func (g *layerGen) genReturn(i int) error {
	if ret, ok := g.b.ReturnBlock(); ok {
		g.b.Branch(ret)
	} else {
		g.b.Branch(g.doneBlock)
	}
	g.b.StartBlock(g.b.NewBlock("dead"))
	return nil
}

// genExit abandons the whole layer from anywhere.
func (g *layerGen) genExit(i int) error {
	exit, _ := g.b.ExitBlock()
	g.b.Branch(exit)
	g.b.StartBlock(g.b.NewBlock("dead"))
	return nil
}

// genUseParam makes sure lazily connected inputs are ready before the
// ops that read them.
func (g *layerGen) genUseParam(i int) error {
	op := &g.inst.Ops[i]
	g.runConnectedLayers(g.opArgs(op))
	return nil
}
