// Package osl provides a Pure Go shading-language runtime.
//
// osl organizes compiled shaders as a network: masters hold the
// shared compiled form of each shader, instances bind per-material
// parameter values, and groups wire instances together and lower them
// to an executable program.
//
// The package provides a simple, high-level API for building and
// compiling groups as well as lower-level access to the individual
// stages.
//
// Example usage:
//
//	sys := osl.NewSystem(osl.DefaultOptions())
//	sys.RegisterMaster(noiseMaster)
//	sys.RegisterMaster(surfaceMaster)
//
//	group, err := sys.BeginGroup("hero_skin").
//	    Shader("noise", "tex").
//	    Shader("surface", "out").
//	    Connect("tex", "Cout", "out", "Cin").
//	    End()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	compiled, err := sys.CompileGroup(group)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// To execute a compiled group at one shading point, use an Execution:
//
//	exec := compiled.NewExecution(runtime.NewExterns())
//	exec.SetGlobals(runtime.Globals{"u": {Val: []float32{0.5}}}, 0)
//	if err := exec.Run(); err != nil {
//	    log.Fatal(err)
//	}
//	c, _ := exec.OutputFloats("out", "Cout")
package osl

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/osl/codegen"
	"github.com/gogpu/osl/ir"
	"github.com/gogpu/osl/runtime"
	"github.com/gogpu/osl/shader"
)

// Options configures a System.
type Options struct {
	// Codegen controls lowering of groups to executable programs.
	Codegen codegen.Options

	// Closures is the registry of closure primitives shaders may
	// construct. Defaults to the builtin set.
	Closures *runtime.ClosureRegistry

	// MergeInstances folds equivalent layers within a group before
	// lowering.
	MergeInstances bool

	// Parallel bounds concurrent group compilations in CompileGroups.
	// Zero means one goroutine per group.
	Parallel int
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Codegen:        codegen.DefaultOptions(),
		Closures:       runtime.BuiltinClosures(),
		MergeInstances: true,
	}
}

// System holds the master registry and compilation state shared by
// every group. It is safe for concurrent use.
type System struct {
	opts Options

	mu      sync.Mutex
	masters map[string]*shader.Master

	// Stats counts masters, instances, merges, and compiles.
	Stats shader.Stats
}

// NewSystem creates a System.
func NewSystem(opts Options) *System {
	if opts.Closures == nil {
		opts.Closures = runtime.BuiltinClosures()
	}
	return &System{opts: opts, masters: make(map[string]*shader.Master)}
}

// RegisterMaster adds a compiled shader to the registry. Registering
// the same name twice is an error.
func (s *System) RegisterMaster(m *shader.Master) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.masters[m.Name]; ok {
		return fmt.Errorf("master %q already registered", m.Name)
	}
	s.masters[m.Name] = m
	s.Stats.Masters.Add(1)
	return nil
}

// Master returns a registered master by name.
func (s *System) Master(name string) (*shader.Master, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.masters[name]
	return m, ok
}

// GroupBuilder accumulates the layers, parameter values, and
// connections of one group. The first error sticks and End reports it.
type GroupBuilder struct {
	sys   *System
	group *shader.Group

	params []shader.ParamValue
	hints  map[string]shader.ParamHints
	err    error
}

// BeginGroup starts building a named group.
func (s *System) BeginGroup(name string) *GroupBuilder {
	return &GroupBuilder{sys: s, group: shader.NewGroup(name)}
}

// Shader appends a layer instantiating the named master. Parameter
// values staged since the previous Shader call bind to the new layer.
func (b *GroupBuilder) Shader(master, layerName string) *GroupBuilder {
	if b.err != nil {
		return b
	}
	m, ok := b.sys.Master(master)
	if !ok {
		b.err = fmt.Errorf("group %q: master %q not registered", b.group.Name, master)
		return b
	}
	inst := shader.NewInstance(m, layerName, b.group.NumLayers())
	if len(b.params) > 0 || len(b.hints) > 0 {
		if err := inst.BindParameters(b.params, b.hints); err != nil {
			b.sys.Stats.ParamBindErrors.Add(1)
			b.err = fmt.Errorf("group %q layer %q: %w", b.group.Name, layerName, err)
			return b
		}
		b.params, b.hints = nil, nil
	}
	b.group.AddLayer(inst)
	b.sys.Stats.Instances.Add(1)
	return b
}

// Param stages a parameter value for the next Shader call.
func (b *GroupBuilder) Param(v shader.ParamValue) *GroupBuilder {
	if b.err != nil {
		return b
	}
	b.params = append(b.params, v)
	return b
}

// ParamHint stages hints for a staged parameter.
func (b *GroupBuilder) ParamHint(name string, h shader.ParamHints) *GroupBuilder {
	if b.err != nil {
		return b
	}
	if b.hints == nil {
		b.hints = make(map[string]shader.ParamHints)
	}
	b.hints[name] = h
	return b
}

// Connect wires an upstream output param into a downstream param.
func (b *GroupBuilder) Connect(srcLayer, srcParam, dstLayer, dstParam string) *GroupBuilder {
	if b.err != nil {
		return b
	}
	if err := b.group.Connect(srcLayer, srcParam, dstLayer, dstParam); err != nil {
		b.err = fmt.Errorf("group %q: %w", b.group.Name, err)
	}
	return b
}

// Entry marks the named layer for eager execution.
func (b *GroupBuilder) Entry(layerName string) *GroupBuilder {
	if b.err != nil {
		return b
	}
	i := b.group.FindLayer(layerName)
	if i < 0 {
		b.err = fmt.Errorf("group %q: entry layer %q not found", b.group.Name, layerName)
		return b
	}
	b.group.Layers[i].Entry = true
	return b
}

// RendererOutput names a param the renderer reads directly, which pins
// its layer against merging and lazy elision.
func (b *GroupBuilder) RendererOutput(param string) *GroupBuilder {
	if b.err != nil {
		return b
	}
	b.group.RendererOutputs[param] = true
	return b
}

// End finishes the group.
func (b *GroupBuilder) End() (*shader.Group, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.params) > 0 || len(b.hints) > 0 {
		return nil, fmt.Errorf("group %q: staged Param with no following Shader", b.group.Name)
	}
	if b.group.NumLayers() == 0 {
		return nil, fmt.Errorf("group %q has no layers", b.group.Name)
	}
	return b.group, nil
}

// ParseGroup builds a group from its serialized form, resolving shader
// names against the registry.
func (s *System) ParseGroup(name, src string) (*shader.Group, error) {
	return shader.ParseSerialized(name, src, func(master string) (*shader.Master, error) {
		m, ok := s.Master(master)
		if !ok {
			return nil, fmt.Errorf("master %q not registered", master)
		}
		return m, nil
	})
}

// CompiledGroup is an executable lowering of one group.
type CompiledGroup struct {
	Group    *shader.Group
	Program  *ir.Program
	Layout   *codegen.Layout
	Warnings []string
}

// CompileGroup specializes, merges, and lowers a group.
func (s *System) CompileGroup(g *shader.Group) (*CompiledGroup, error) {
	g.Specialize()
	if s.opts.MergeInstances {
		s.Stats.InstancesMerged.Add(int64(g.MergeInstances()))
	}

	be := codegen.NewBackend(g, s.opts.Closures, s.opts.Codegen)
	prog, layout, err := be.Generate()
	if err != nil {
		return nil, err
	}

	s.Stats.GroupsCompiled.Add(1)
	for i := range g.Layers {
		if _, merged := g.Merged(i); !merged {
			s.Stats.LayersCompiled.Add(1)
		}
	}
	return &CompiledGroup{
		Group:    g,
		Program:  prog,
		Layout:   layout,
		Warnings: be.Warnings,
	}, nil
}

// CompileGroups compiles groups concurrently, bounded by
// Options.Parallel. The returned slice is index-aligned with groups.
// The first failure cancels the batch.
func (s *System) CompileGroups(ctx context.Context, groups []*shader.Group) ([]*CompiledGroup, error) {
	eg, ctx := errgroup.WithContext(ctx)
	if s.opts.Parallel > 0 {
		eg.SetLimit(s.opts.Parallel)
	}
	out := make([]*CompiledGroup, len(groups))
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cg, err := s.CompileGroup(g)
			if err != nil {
				return fmt.Errorf("group %q: %w", g.Name, err)
			}
			out[i] = cg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Execution runs a compiled group at one shading point. It is single
// use per point: set globals, Run, then read outputs.
type Execution struct {
	cg  *CompiledGroup
	m   *ir.Machine
	ext *runtime.Externs

	sg, gd ir.Value
}

// NewExecution prepares a machine with the runtime library installed
// and fresh globals and group data buffers.
func (cg *CompiledGroup) NewExecution(ext *runtime.Externs) *Execution {
	if ext == nil {
		ext = runtime.NewExterns()
	}
	if ext.Interactive == nil {
		ext.Interactive = cg.Group.InteractiveValue
	}
	m := ir.NewMachine(cg.Program)
	ext.Install(m)
	return &Execution{
		cg:  cg,
		m:   m,
		ext: ext,
		sg:  m.NewBuffer(runtime.GlobalsSize),
		gd:  m.NewBuffer(cg.Layout.Size),
	}
}

// SetGlobals fills the globals buffer for this shading point.
func (e *Execution) SetGlobals(g runtime.Globals, raytype int32) {
	e.sg = runtime.NewGlobalsBuffer(e.m, g, raytype)
}

// Externs returns the runtime library state, for inspecting errors and
// warnings raised during Run.
func (e *Execution) Externs() *runtime.Externs { return e.ext }

// Run executes the group entry point.
func (e *Execution) Run() error {
	_, err := e.m.Run(codegen.MainFuncName(e.cg.Group.Name), e.sg, e.gd)
	if err != nil {
		return fmt.Errorf("running group %q: %w", e.cg.Group.Name, err)
	}
	return nil
}

// paramSlot locates a layer param in the group data buffer.
func (e *Execution) paramSlot(layerName, param string) (layer, sym, off, cells int, err error) {
	g := e.cg.Group
	layer = g.FindLayer(layerName)
	if layer < 0 {
		return 0, 0, 0, 0, fmt.Errorf("group %q: no layer %q", g.Name, layerName)
	}
	inst := g.Layers[layer]
	sym = inst.Master.FindParam(param)
	if sym < 0 {
		return 0, 0, 0, 0, fmt.Errorf("layer %q: no param %q", layerName, param)
	}
	off = e.cg.Layout.ParamOffset(layer, inst, sym)
	cells = e.cg.Layout.ParamCells(layer, inst, sym)
	return layer, sym, off, cells, nil
}

// OutputFloats reads a float-based param's value plane after Run.
func (e *Execution) OutputFloats(layerName, param string) ([]float32, error) {
	_, _, off, cells, err := e.paramSlot(layerName, param)
	if err != nil {
		return nil, err
	}
	out := make([]float32, cells)
	for i := range out {
		p := e.gd
		p.Off = off + i
		out[i] = e.m.LoadCell(p).F
	}
	return out, nil
}

// OutputInt reads an int param after Run.
func (e *Execution) OutputInt(layerName, param string) (int32, error) {
	_, _, off, _, err := e.paramSlot(layerName, param)
	if err != nil {
		return 0, err
	}
	p := e.gd
	p.Off = off
	return e.m.LoadCell(p).I, nil
}

// OutputString reads a string param after Run.
func (e *Execution) OutputString(layerName, param string) (string, error) {
	_, _, off, _, err := e.paramSlot(layerName, param)
	if err != nil {
		return "", err
	}
	p := e.gd
	p.Off = off
	return e.m.LoadCell(p).S, nil
}

// OutputClosure flattens a closure param into its weighted components.
func (e *Execution) OutputClosure(layerName, param string) ([]runtime.ClosureWeight, error) {
	_, _, off, _, err := e.paramSlot(layerName, param)
	if err != nil {
		return nil, err
	}
	p := e.gd
	p.Off = off
	return runtime.FlattenClosure(e.m, e.m.LoadCell(p)), nil
}
