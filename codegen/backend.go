package codegen

import (
	"fmt"

	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

// Options controls lowering.
type Options struct {
	// RangeChecking guards array indexing with clamping checks.
	RangeChecking bool

	// OptUseParam dedups lazy layer invocations per basic block.
	OptUseParam bool

	// ConstFoldRaytype folds raytype("name") queries into a bit test
	// against the globals buffer instead of an extern call.
	ConstFoldRaytype bool

	// Debug emits inlined-function scope markers.
	Debug bool
}

// DefaultOptions returns the standard lowering options.
func DefaultOptions() Options {
	return Options{
		RangeChecking:    true,
		OptUseParam:      true,
		ConstFoldRaytype: true,
	}
}

// Layout describes where each layer's parameters live in the group data
// buffer. Cell 0..NumLayers-1 are the per-layer run flags.
type Layout struct {
	Size      int
	NumLayers int

	offsets [][]int // per layer, per param position
	cells   [][]int // value-plane cell count per param
	planes  [][]int // 1, or 3 when the param carries derivatives
}

// ParamOffset returns the group data cell where a param's value plane
// starts. sym is a symbol index in the layer's table.
func (l *Layout) ParamOffset(layer int, inst *shader.Instance, sym int) int {
	return l.offsets[layer][sym-inst.Master.FirstParam]
}

// ParamCells returns a param's value-plane cell count.
func (l *Layout) ParamCells(layer int, inst *shader.Instance, sym int) int {
	return l.cells[layer][sym-inst.Master.FirstParam]
}

// ParamPlanes returns 3 for derivative-carrying params, else 1.
func (l *Layout) ParamPlanes(layer int, inst *shader.Instance, sym int) int {
	return l.planes[layer][sym-inst.Master.FirstParam]
}

// LayerFuncName names the ir function lowered from one layer.
func LayerFuncName(group string, layer int, layerName string) string {
	return fmt.Sprintf("group_%s_layer_%d_%s", group, layer, layerName)
}

// MainFuncName names the group entry point.
func MainFuncName(group string) string {
	return fmt.Sprintf("group_%s_main", group)
}

// Backend lowers one group. It is single use: construct, Generate,
// discard.
type Backend struct {
	group    *shader.Group
	opts     Options
	closures *runtime.ClosureRegistry

	prog   *ir.Program
	layout *Layout

	errs     []error
	Warnings []string
}

// NewBackend creates a backend for g using the given closure registry.
func NewBackend(g *shader.Group, closures *runtime.ClosureRegistry, opts Options) *Backend {
	return &Backend{group: g, closures: closures, opts: opts}
}

func (be *Backend) errorf(format string, args ...any) {
	be.errs = append(be.errs, fmt.Errorf(format, args...))
}

func (be *Backend) warnf(format string, args ...any) {
	be.Warnings = append(be.Warnings, fmt.Sprintf(format, args...))
}

// opErrorf prefixes an error with the op's source position.
func (be *Backend) opErrorf(inst *shader.Instance, op *shader.Opcode, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	be.errs = append(be.errs, fmt.Errorf("%s:%d: layer %q (%s): %s",
		op.SourceFile, op.SourceLine, inst.LayerName, inst.Master.Name, msg))
}

// Generate lowers the whole group. The group is specialized first if it
// has not been already.
func (be *Backend) Generate() (*ir.Program, *Layout, error) {
	be.group.Specialize()
	be.prog = ir.NewProgram()
	be.buildLayout()

	for i, inst := range be.group.Layers {
		if _, merged := be.group.Merged(i); merged {
			continue
		}
		fn, err := be.genLayer(i, inst)
		if err != nil {
			return nil, nil, err
		}
		if err := be.prog.Add(fn); err != nil {
			return nil, nil, err
		}
	}
	if err := be.genMain(); err != nil {
		return nil, nil, err
	}
	if len(be.errs) > 0 {
		// Report the first error; the rest ride along in Errs.
		return nil, nil, fmt.Errorf("lowering group %q: %w", be.group.Name, be.errs[0])
	}
	return be.prog, be.layout, nil
}

// Errs returns every error the lowering recorded.
func (be *Backend) Errs() []error { return be.errs }

// survivor maps a layer index through merge folding.
func (be *Backend) survivor(layer int) int {
	if into, ok := be.group.Merged(layer); ok {
		return into
	}
	return layer
}

func (be *Backend) buildLayout() {
	n := be.group.NumLayers()
	l := &Layout{NumLayers: n, Size: n}
	l.offsets = make([][]int, n)
	l.cells = make([][]int, n)
	l.planes = make([][]int, n)
	for i, inst := range be.group.Layers {
		if _, merged := be.group.Merged(i); merged {
			continue
		}
		m := inst.Master
		l.offsets[i] = make([]int, m.NumParams())
		l.cells[i] = make([]int, m.NumParams())
		l.planes[i] = make([]int, m.NumParams())
		for sym := m.FirstParam; sym < m.LastParam; sym++ {
			s := &inst.Symbols[sym]
			p := sym - m.FirstParam
			cells := s.Type.NumElements()
			planes := 1
			if s.HasDerivs && s.Type.IsFloatBased() {
				planes = 3
			}
			l.offsets[i][p] = l.Size
			l.cells[i][p] = cells
			l.planes[i][p] = planes
			l.Size += cells * planes
		}
	}
	// Merged layers share the survivor's slots.
	for i := range be.group.Layers {
		if into, merged := be.group.Merged(i); merged {
			l.offsets[i] = l.offsets[into]
			l.cells[i] = l.cells[into]
			l.planes[i] = l.planes[into]
		}
	}
	be.layout = l
}

// genMain builds the group entry point: zero the run flags, bake
// parameter values into their slots, then invoke the entry layers.
func (be *Backend) genMain() error {
	b := ir.NewBuilder(MainFuncName(be.group.Name), 2)
	sg, gd := b.Param(0), b.Param(1)
	b.Memset(gd, be.layout.Size)

	for i, inst := range be.group.Layers {
		if _, merged := be.group.Merged(i); merged {
			continue
		}
		be.genParamInit(b, i, inst, sg, gd)
	}

	for _, e := range be.group.EntryLayers() {
		args := []ir.ValueID{sg, gd}
		b.Call(LayerFuncName(be.group.Name, e, be.group.Layers[e].LayerName), args...)
	}
	b.Return()
	return be.prog.Add(b.Finish())
}

// genParamInit stores a layer's parameter values into group data.
// Connected params are left to the layer prologue; init-ops params are
// evaluated inside the layer function.
func (be *Backend) genParamInit(b *ir.Builder, layer int, inst *shader.Instance, sg, gd ir.ValueID) {
	m := inst.Master
	for sym := m.FirstParam; sym < m.LastParam; sym++ {
		s := &inst.Symbols[sym]
		if s.Type.IsClosure() || s.Source == shader.SourceConnected || s.Source == shader.SourceInitOps {
			continue
		}
		slot := b.OffsetConst(gd, be.layout.ParamOffset(layer, inst, sym))
		cells := be.layout.ParamCells(layer, inst, sym)
		off := inst.ParamOffset(sym)
		// Params declared without a default stay zeroed.
		bake := cells
		if s.Source == shader.SourceDefault && s.Initializers == 0 {
			bake = 0
		}
		for c := 0; c < bake; c++ {
			var v ir.ValueID
			switch s.Type.Base {
			case shader.BaseInt:
				v = b.ConstI(inst.IntValues[off+c])
			case shader.BaseString:
				v = b.ConstS(inst.StringValues[off+c])
			default:
				v = b.ConstF(inst.FloatValues[off+c])
			}
			b.Store(b.OffsetConst(slot, c), v)
		}
		if s.Interpolated {
			// Geometric user data overrides the baked value when the
			// renderer has it.
			b.Call("osl_bind_interpolated_param",
				b.ConstS(s.Name), b.ConstI(int32(cells)), slot)
		}
		if s.Interactive {
			b.Call("osl_bind_interactive_param",
				b.ConstS(inst.LayerName), b.ConstS(s.Name), b.ConstI(int32(cells)), slot)
		}
	}
}

// genLayer lowers one layer into a function.
func (be *Backend) genLayer(layer int, inst *shader.Instance) (*ir.Function, error) {
	g := &layerGen{
		be:         be,
		inst:       inst,
		layer:      layer,
		b:          ir.NewBuilder(LayerFuncName(be.group.Name, layer, inst.LayerName), 2),
		locs:       make(map[int]symLoc),
		layersRun:  make(map[int]bool),
		layerCache: make(map[blockLayerKey]bool),
	}
	g.sg, g.gd = g.b.Param(0), g.b.Param(1)
	g.analyze()

	// Mark this layer as run before anything else, so cycles cannot
	// re-enter it.
	g.b.Store(g.b.OffsetConst(g.gd, layer), g.b.ConstI(1))

	// Parameters computed by init ops.
	m := inst.Master
	for sym := m.FirstParam; sym < m.LastParam; sym++ {
		s := &inst.Symbols[sym]
		if s.Source == shader.SourceInitOps && s.HasInitOps() {
			if err := g.genOps(s.InitBegin, s.InitEnd); err != nil {
				return nil, err
			}
		}
	}

	// Satisfy incoming connections eagerly; useparam sites repeat this
	// with dedup for anything reached lazily.
	g.runConnectedLayers(allConnectionSyms(inst))

	g.doneBlock = g.b.NewBlock("done")
	if err := g.genOps(m.MainCodeBegin, m.MainCodeEnd); err != nil {
		return nil, err
	}
	g.b.Branch(g.doneBlock)

	if g.b.HasExitBlock() {
		exit, _ := g.b.ExitBlock()
		g.b.StartBlock(exit)
		g.b.Branch(g.doneBlock)
	}
	g.b.StartBlock(g.doneBlock)
	g.b.Return()
	return g.b.Finish(), nil
}

func allConnectionSyms(inst *shader.Instance) []int {
	var syms []int
	for _, c := range inst.Connections {
		syms = append(syms, c.Dst.Param)
	}
	return syms
}

// symLoc is the materialized storage of one symbol within a layer
// function.
type symLoc struct {
	base   ir.ValueID
	cells  int // value-plane cells
	planes int
}

type blockLayerKey struct {
	block    ir.BlockID
	srcLayer int
}

// layerGen emits the body of one layer function.
type layerGen struct {
	be    *Backend
	inst  *shader.Instance
	layer int
	b     *ir.Builder

	sg, gd    ir.ValueID
	doneBlock ir.BlockID

	locs map[int]symLoc

	// inConditional marks ops inside any structured control region;
	// unconditional layer invocations in main code are emitted once.
	inConditional []bool
	layersRun     map[int]bool
	layerCache    map[blockLayerKey]bool

	curOp int
}

// analyze computes which ops sit inside conditional regions.
func (g *layerGen) analyze() {
	ops := g.inst.Ops
	g.inConditional = make([]bool, len(ops))
	for i := range ops {
		far := ops[i].FarthestJump()
		if far < 0 {
			continue
		}
		for j := i + 1; j < far && j < len(ops); j++ {
			g.inConditional[j] = true
		}
	}
}

func (g *layerGen) sym(i int) *shader.Symbol { return &g.inst.Symbols[i] }

func (g *layerGen) opArgs(op *shader.Opcode) []int {
	return g.inst.Args[op.FirstArg : op.FirstArg+op.NArgs]
}

// loc materializes a symbol's storage: group data slots for params,
// globals buffer slots for globals, function-local buffers for locals
// and temps, and constants spilled on demand.
func (g *layerGen) loc(sym int) symLoc {
	if l, ok := g.locs[sym]; ok {
		return l
	}
	s := g.sym(sym)
	cells := s.Type.NumElements()
	if cells == 0 {
		cells = 1
	}
	planes := 1
	if s.HasDerivs && s.Type.IsFloatBased() {
		planes = 3
	}
	var base ir.ValueID
	switch s.Kind {
	case shader.SymParam, shader.SymOutputParam:
		base = g.b.OffsetConst(g.gd, g.be.layout.ParamOffset(g.layer, g.inst, sym))
		cells = g.be.layout.ParamCells(g.layer, g.inst, sym)
		planes = g.be.layout.ParamPlanes(g.layer, g.inst, sym)
	case shader.SymGlobal:
		if slot, ok := runtime.FindGlobal(s.Name); ok {
			base = g.b.OffsetConst(g.sg, slot.Off)
			cells, planes = slot.N, 3
		} else {
			g.be.warnf("layer %q reads unknown global %q", g.inst.LayerName, s.Name)
			base = g.b.Alloca(cells * planes)
		}
	case shader.SymConst:
		// Constants are loaded directly; a pointer is only needed for
		// extern calls, so spill the value once.
		base = g.b.Alloca(cells * planes)
		off := s.DataOffset
		for c := 0; c < cells; c++ {
			g.b.Store(g.b.OffsetConst(base, c), g.constComp(s, off+c))
		}
	default: // locals and temps
		base = g.b.Alloca(cells * planes)
		g.b.Memset(base, cells*planes)
	}
	l := symLoc{base: base, cells: cells, planes: planes}
	g.locs[sym] = l
	return l
}

func (g *layerGen) constComp(s *shader.Symbol, poolOff int) ir.ValueID {
	switch s.Type.Base {
	case shader.BaseInt:
		return g.b.ConstI(g.inst.IntValues[poolOff])
	case shader.BaseString:
		return g.b.ConstS(g.inst.StringValues[poolOff])
	default:
		return g.b.ConstF(g.inst.FloatValues[poolOff])
	}
}

// loadComp reads component comp of plane (0 value, 1 d/dx, 2 d/dy).
// Missing derivative planes read as zero.
func (g *layerGen) loadComp(sym, comp, plane int) ir.ValueID {
	s := g.sym(sym)
	if s.Kind == shader.SymConst {
		if plane > 0 {
			return g.b.ConstF(0)
		}
		return g.constComp(s, s.DataOffset+comp)
	}
	l := g.loc(sym)
	if plane >= l.planes {
		return g.b.ConstF(0)
	}
	return g.b.Load(g.b.OffsetConst(l.base, plane*l.cells+comp))
}

// storeComp writes component comp of plane.
func (g *layerGen) storeComp(sym, comp, plane int, v ir.ValueID) {
	l := g.loc(sym)
	if plane >= l.planes {
		return
	}
	g.b.Store(g.b.OffsetConst(l.base, plane*l.cells+comp), v)
}

// symPtr returns a pointer to a symbol's storage, value plane first.
func (g *layerGen) symPtr(sym int) ir.ValueID {
	return g.loc(sym).base
}

// hasDerivs reports whether a symbol carries derivative planes.
func (g *layerGen) hasDerivs(sym int) bool {
	s := g.sym(sym)
	return s.HasDerivs && s.Type.IsFloatBased() && s.Kind != shader.SymConst
}

// zeroDerivs clears a symbol's derivative planes.
func (g *layerGen) zeroDerivs(sym int) {
	if !g.hasDerivs(sym) {
		return
	}
	l := g.loc(sym)
	if l.planes < 3 {
		return
	}
	g.b.Memset(g.b.OffsetConst(l.base, l.cells), 2*l.cells)
}

// aggregate returns a symbol's components per element.
func aggregate(s *shader.Symbol) int {
	return s.Type.Aggregate
}

// isConstZero reports whether sym is a constant whose every component
// is zero, and isConstNonzero whether it is a constant with no zero
// component.
func (g *layerGen) isConstZero(sym int) bool {
	s := g.sym(sym)
	if s.Kind != shader.SymConst || !s.Type.IsFloatBased() {
		return false
	}
	for c := 0; c < s.Type.NumElements(); c++ {
		if g.inst.FloatValues[s.DataOffset+c] != 0 {
			return false
		}
	}
	return true
}

func (g *layerGen) isConstNonzero(sym int) bool {
	s := g.sym(sym)
	if s.Kind != shader.SymConst {
		return false
	}
	switch s.Type.Base {
	case shader.BaseInt:
		for c := 0; c < s.Type.NumElements(); c++ {
			if g.inst.IntValues[s.DataOffset+c] == 0 {
				return false
			}
		}
	case shader.BaseString:
		return false
	default:
		for c := 0; c < s.Type.NumElements(); c++ {
			if g.inst.FloatValues[s.DataOffset+c] == 0 {
				return false
			}
		}
	}
	return true
}

// callLayer invokes an upstream layer unless its run flag is already
// set. unconditional marks call sites that execute on every run of this
// layer, which lets repeated invocations be dropped entirely.
func (g *layerGen) callLayer(srcLayer int, unconditional bool) {
	srcLayer = g.be.survivor(srcLayer)
	if srcLayer == g.layer {
		return
	}
	if unconditional {
		if g.layersRun[srcLayer] {
			return
		}
		g.layersRun[srcLayer] = true
	} else if g.be.opts.OptUseParam {
		key := blockLayerKey{block: g.b.CurrentBlock(), srcLayer: srcLayer}
		if g.layerCache[key] {
			return
		}
		g.layerCache[key] = true
	}

	flag := g.b.Load(g.b.OffsetConst(g.gd, srcLayer))
	cond := g.b.Binary(ir.OpIEq, flag, g.b.ConstI(0))
	then := g.b.NewBlock("run_layer")
	after := g.b.NewBlock("after_run_layer")
	g.b.CondBranch(cond, then, after)
	g.b.StartBlock(then)
	src := g.be.group.Layers[srcLayer]
	g.b.Call(LayerFuncName(g.be.group.Name, srcLayer, src.LayerName), g.sg, g.gd)
	g.b.Branch(after)
	g.b.StartBlock(after)
}

// runConnectedLayers makes sure the sources feeding the given connected
// params have run, then copies their output slots in. Each source is
// handled once per call site.
func (g *layerGen) runConnectedLayers(syms []int) {
	already := make(map[int]bool)
	unconditional := g.curOp == 0 ||
		(g.curOp >= g.inst.Master.MainCodeBegin && !g.inConditional[min(g.curOp, len(g.inConditional)-1)])
	for _, c := range g.inst.Connections {
		if !containsInt(syms, c.Dst.Param) {
			continue
		}
		src := g.be.survivor(c.SrcLayer)
		if !already[src] {
			already[src] = true
			g.callLayer(c.SrcLayer, unconditional)
		}
		g.copyConnection(c)
	}
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// copyConnection copies an upstream output slot into this layer's param
// slot, broadcasting a float source across a triple destination.
func (g *layerGen) copyConnection(c shader.Connection) {
	srcLayer := g.be.survivor(c.SrcLayer)
	srcInst := g.be.group.Layers[srcLayer]
	srcOff := g.be.layout.ParamOffset(srcLayer, srcInst, c.Src.Param)
	srcCells := g.be.layout.ParamCells(srcLayer, srcInst, c.Src.Param)
	srcPlanes := g.be.layout.ParamPlanes(srcLayer, srcInst, c.Src.Param)
	srcPtr := g.b.OffsetConst(g.gd, srcOff)

	dst := g.loc(c.Dst.Param)
	if srcCells == 1 && dst.cells == 3 {
		v := g.b.Load(srcPtr)
		for i := 0; i < 3; i++ {
			g.b.Store(g.b.OffsetConst(dst.base, i), v)
		}
		g.zeroDerivs(c.Dst.Param)
		return
	}
	n := min(srcCells, dst.cells)
	g.b.Memcpy(dst.base, srcPtr, n)
	if dst.planes == 3 {
		if srcPlanes == 3 {
			g.b.Memcpy(g.b.OffsetConst(dst.base, dst.cells),
				g.b.OffsetConst(srcPtr, srcCells), 2*n)
		} else {
			g.zeroDerivs(c.Dst.Param)
		}
	}
}
