package ir

// loopContext tracks the jump targets of the innermost loop being built.
type loopContext struct {
	stepBlock  BlockID
	afterBlock BlockID
}

// funcContext tracks the return target of an inlined shader function.
type funcContext struct {
	returnBlock BlockID
}

// Builder assembles one Function. Instructions are appended to the
// current block; blocks are created up front and filled in any order, so
// forward branches need no patching.
type Builder struct {
	fn        *Function
	current   BlockID
	nextValue ValueID

	loopStack []loopContext
	funcStack []funcContext

	exitBlock    BlockID
	hasExitBlock bool
}

// NewBuilder starts a function with the given parameter count. The
// entry block exists and is current; parameter i is value Param(i).
func NewBuilder(name string, numParams int) *Builder {
	b := &Builder{
		fn:        &Function{Name: name, NumParams: numParams},
		nextValue: ValueID(1 + numParams),
	}
	b.fn.Blocks = append(b.fn.Blocks, Block{Name: "entry"})
	return b
}

// Param returns the value holding parameter i.
func (b *Builder) Param(i int) ValueID { return ValueID(1 + i) }

// AllocValue allocates a fresh value ID.
func (b *Builder) AllocValue() ValueID {
	id := b.nextValue
	b.nextValue++
	return id
}

// NewBlock creates an empty named block and returns its ID without
// changing the current block.
func (b *Builder) NewBlock(name string) BlockID {
	id := BlockID(len(b.fn.Blocks))
	b.fn.Blocks = append(b.fn.Blocks, Block{Name: name})
	return id
}

// StartBlock makes id the current block for subsequent instructions.
func (b *Builder) StartBlock(id BlockID) { b.current = id }

// CurrentBlock returns the block instructions are being appended to.
func (b *Builder) CurrentBlock() BlockID { return b.current }

func (b *Builder) emit(inst Instruction) ValueID {
	blk := &b.fn.Blocks[b.current]
	blk.Insts = append(blk.Insts, inst)
	return inst.Result
}

func (b *Builder) emitResult(inst Instruction) ValueID {
	inst.Result = b.AllocValue()
	return b.emit(inst)
}

// ConstF emits a float constant.
func (b *Builder) ConstF(f float32) ValueID {
	return b.emitResult(Instruction{Op: OpConstF, F: f})
}

// ConstI emits an int constant.
func (b *Builder) ConstI(i int32) ValueID {
	return b.emitResult(Instruction{Op: OpConstI, I: i})
}

// ConstS emits a string constant.
func (b *Builder) ConstS(s string) ValueID {
	return b.emitResult(Instruction{Op: OpConstS, S: s})
}

// ConstB emits a bool constant.
func (b *Builder) ConstB(v bool) ValueID {
	return b.emitResult(Instruction{Op: OpConstB, B: v})
}

// Alloca allocates count cells and yields a pointer to the first.
func (b *Builder) Alloca(count int) ValueID {
	return b.emitResult(Instruction{Op: OpAlloca, Count: count})
}

// Offset yields ptr advanced by delta cells.
func (b *Builder) Offset(ptr, delta ValueID) ValueID {
	return b.emitResult(Instruction{Op: OpOffset, Args: []ValueID{ptr, delta}})
}

// OffsetConst yields ptr advanced by a constant number of cells.
func (b *Builder) OffsetConst(ptr ValueID, delta int) ValueID {
	if delta == 0 {
		return ptr
	}
	return b.Offset(ptr, b.ConstI(int32(delta)))
}

// Load reads the cell at ptr.
func (b *Builder) Load(ptr ValueID) ValueID {
	return b.emitResult(Instruction{Op: OpLoad, Args: []ValueID{ptr}})
}

// Store writes val to the cell at ptr.
func (b *Builder) Store(ptr, val ValueID) {
	b.emit(Instruction{Op: OpStore, Args: []ValueID{ptr, val}})
}

// Memset zeroes count cells starting at ptr.
func (b *Builder) Memset(ptr ValueID, count int) {
	b.emit(Instruction{Op: OpMemset, Args: []ValueID{ptr}, Count: count})
}

// Memcpy copies count cells from src to dst.
func (b *Builder) Memcpy(dst, src ValueID, count int) {
	b.emit(Instruction{Op: OpMemcpy, Args: []ValueID{dst, src}, Count: count})
}

// Binary emits a two-operand instruction.
func (b *Builder) Binary(op Op, x, y ValueID) ValueID {
	return b.emitResult(Instruction{Op: op, Args: []ValueID{x, y}})
}

// Unary emits a one-operand instruction.
func (b *Builder) Unary(op Op, x ValueID) ValueID {
	return b.emitResult(Instruction{Op: op, Args: []ValueID{x}})
}

// Select yields t when cond is true, f otherwise.
func (b *Builder) Select(cond, t, f ValueID) ValueID {
	return b.emitResult(Instruction{Op: OpSelect, Args: []ValueID{cond, t, f}})
}

// Call invokes a program function or registered extern by name. The
// result is meaningful only when the callee returns a value.
func (b *Builder) Call(name string, args ...ValueID) ValueID {
	return b.emitResult(Instruction{Op: OpCall, Name: name, Args: args})
}

// Branch ends the current block with an unconditional jump.
func (b *Builder) Branch(target BlockID) {
	b.emit(Instruction{Op: OpBranch, True: target})
}

// CondBranch ends the current block with a two-way jump.
func (b *Builder) CondBranch(cond ValueID, ifTrue, ifFalse BlockID) {
	b.emit(Instruction{Op: OpCondBranch, Args: []ValueID{cond}, True: ifTrue, False: ifFalse})
}

// Return ends the current block, optionally yielding a value.
func (b *Builder) Return(vals ...ValueID) {
	b.emit(Instruction{Op: OpReturn, Args: vals})
}

// PushLoop records the step and after blocks of a loop being entered,
// making them the targets of continue and break.
func (b *Builder) PushLoop(step, after BlockID) {
	b.loopStack = append(b.loopStack, loopContext{stepBlock: step, afterBlock: after})
}

// PopLoop leaves the innermost loop.
func (b *Builder) PopLoop() {
	b.loopStack = b.loopStack[:len(b.loopStack)-1]
}

// LoopStepBlock returns the continue target of the innermost loop.
func (b *Builder) LoopStepBlock() BlockID {
	return b.loopStack[len(b.loopStack)-1].stepBlock
}

// LoopAfterBlock returns the break target of the innermost loop.
func (b *Builder) LoopAfterBlock() BlockID {
	return b.loopStack[len(b.loopStack)-1].afterBlock
}

// InLoop reports whether a loop is being built.
func (b *Builder) InLoop() bool { return len(b.loopStack) > 0 }

// PushFunction records the return target of an inlined shader function.
func (b *Builder) PushFunction(returnBlock BlockID) {
	b.funcStack = append(b.funcStack, funcContext{returnBlock: returnBlock})
}

// PopFunction leaves the innermost inlined function.
func (b *Builder) PopFunction() {
	b.funcStack = b.funcStack[:len(b.funcStack)-1]
}

// ReturnBlock returns the branch target of a return statement inside an
// inlined shader function, or false at layer scope.
func (b *Builder) ReturnBlock() (BlockID, bool) {
	if len(b.funcStack) == 0 {
		return 0, false
	}
	return b.funcStack[len(b.funcStack)-1].returnBlock, true
}

// ExitBlock returns the block a shader-wide exit branches to, creating
// it on first use. The caller terminates it when sealing the function.
func (b *Builder) ExitBlock() (id BlockID, created bool) {
	if !b.hasExitBlock {
		b.exitBlock = b.NewBlock("exit")
		b.hasExitBlock = true
		return b.exitBlock, true
	}
	return b.exitBlock, false
}

// HasExitBlock reports whether an exit block was ever requested.
func (b *Builder) HasExitBlock() bool { return b.hasExitBlock }

// DebugPushInlinedFunction records entry into an inlined shader function
// for diagnostics.
func (b *Builder) DebugPushInlinedFunction(name, file string, line int) {
	b.emit(Instruction{Op: OpDebugPush, Name: name, S: file, Line: line})
}

// DebugPopInlinedFunction closes the innermost debug scope.
func (b *Builder) DebugPopInlinedFunction() {
	b.emit(Instruction{Op: OpDebugPop})
}

// Finish seals and returns the function.
func (b *Builder) Finish() *Function {
	b.fn.NumValues = int(b.nextValue)
	return b.fn
}
