package shader

import (
	"fmt"
	"strconv"
	"strings"
)

// Group is an ordered list of shader layers wired together by
// connections. Layers are executed in order, lazily unless marked as
// entry points, with upstream layers run on demand when a connected
// param is first read.
type Group struct {
	Name   string
	Layers []*Instance

	// RendererOutputs names params the renderer reads directly, which
	// pins their layers and values.
	RendererOutputs map[string]bool

	// InteractiveArena backs the float values of interactive params,
	// which the renderer may rewrite between executions without
	// recompiling the group.
	InteractiveArena []float32

	// merged[i] >= 0 means layer i was folded into layer merged[i].
	merged []int

	specialized bool
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{Name: name, RendererOutputs: make(map[string]bool)}
}

// AddLayer appends inst as the next layer and returns its index.
func (g *Group) AddLayer(inst *Instance) int {
	inst.ID = len(g.Layers)
	g.Layers = append(g.Layers, inst)
	g.merged = append(g.merged, -1)
	return inst.ID
}

// FindLayer returns the index of the named layer, or -1.
func (g *Group) FindLayer(name string) int {
	for i, l := range g.Layers {
		if l.LayerName == name {
			return i
		}
	}
	return -1
}

// NumLayers returns the number of layers, merged ones included.
func (g *Group) NumLayers() int { return len(g.Layers) }

// Merged reports whether layer i was folded into another layer, and if
// so which one.
func (g *Group) Merged(i int) (into int, ok bool) {
	if g.merged[i] >= 0 {
		return g.merged[i], true
	}
	return -1, false
}

// EntryLayers returns the indices of the layers executed eagerly. When
// no layer is marked as an entry, the last unmerged layer is the
// implicit entry.
func (g *Group) EntryLayers() []int {
	var entries []int
	for i, l := range g.Layers {
		if l.Entry && g.merged[i] < 0 {
			entries = append(entries, i)
		}
	}
	if entries == nil {
		for i := len(g.Layers) - 1; i >= 0; i-- {
			if g.merged[i] < 0 {
				entries = append(entries, i)
				break
			}
		}
	}
	return entries
}

// Connect wires srcLayer.srcParam into dstLayer.dstParam. The source
// must come from an earlier layer, the source param must be an output,
// and the types must be connectable.
func (g *Group) Connect(srcLayer, srcParam, dstLayer, dstParam string) error {
	si := g.FindLayer(srcLayer)
	if si < 0 {
		return fmt.Errorf("connect: source layer %q not found", srcLayer)
	}
	di := g.FindLayer(dstLayer)
	if di < 0 {
		return fmt.Errorf("connect: destination layer %q not found", dstLayer)
	}
	if si >= di {
		return fmt.Errorf("connect: %q.%s -> %q.%s would not flow downstream",
			srcLayer, srcParam, dstLayer, dstParam)
	}
	src, dst := g.Layers[si], g.Layers[di]
	ss := src.Master.FindParam(srcParam)
	if ss < 0 {
		return fmt.Errorf("connect: param %q not found in layer %q", srcParam, srcLayer)
	}
	ds := dst.Master.FindParam(dstParam)
	if ds < 0 {
		return fmt.Errorf("connect: param %q not found in layer %q", dstParam, dstLayer)
	}
	if src.Master.Symbols[ss].Kind != SymOutputParam {
		return fmt.Errorf("connect: %q.%s is not an output param", srcLayer, srcParam)
	}
	st := src.Master.Symbols[ss].Type
	if st.IsUnsizedArray() {
		st.ArrayLen = src.ParamArrayLen(ss)
	}
	dt := dst.Master.Symbols[ds].Type
	if !Equivalent(dt, st) && !(dt.IsTriple() && st == TypeFloat) {
		return fmt.Errorf("connect: cannot connect %s %q.%s to %s %q.%s",
			st, srcLayer, srcParam, dt, dstLayer, dstParam)
	}
	if err := dst.AddConnection(si,
		ConnectedParam{Param: ss, Type: st},
		ConnectedParam{Param: ds, Type: dt}); err != nil {
		return err
	}
	src.MarkConnectedDown(ss)
	return nil
}

// Specialize gives every layer its private symbol table with overrides
// folded in, propagates group-wide usage, and sizes the interactive
// arena. It is idempotent.
func (g *Group) Specialize() {
	if g.specialized {
		return
	}
	g.specialized = true
	for _, l := range g.Layers {
		l.SpecializeFromMaster(g.RendererOutputs)
	}
	g.propagateUsage()
	g.layoutInteractive()
}

// propagateUsage marks a param as used in the group when any instance of
// the same master uses it, so merging does not treat a param as vacuous
// in one layer while another layer depends on it.
func (g *Group) propagateUsage() {
	used := make(map[*Master][]bool)
	for _, l := range g.Layers {
		m := l.Master
		flags := used[m]
		if flags == nil {
			flags = make([]bool, len(m.Symbols))
			used[m] = flags
		}
		for i := range l.Symbols {
			if l.Symbols[i].EverUsed() {
				flags[i] = true
			}
		}
	}
	for _, l := range g.Layers {
		flags := used[l.Master]
		for i := range l.Symbols {
			if flags[i] {
				l.Symbols[i].EverUsedInGroup = true
			}
		}
	}
}

// layoutInteractive assigns arena slots to interactive float params.
func (g *Group) layoutInteractive() {
	for _, l := range g.Layers {
		for i := l.Master.FirstParam; i < l.Master.LastParam; i++ {
			s := &l.Symbols[i]
			if !s.Interactive || !s.Type.IsFloatBased() {
				continue
			}
			off := l.ParamOffset(i)
			n := s.Type.NumElements()
			s.DataOffset = len(g.InteractiveArena)
			g.InteractiveArena = append(g.InteractiveArena,
				l.FloatValues[off:off+n]...)
		}
	}
}

// SetInteractive rewrites an interactive param's value in the arena.
func (g *Group) SetInteractive(layer, param string, vals []float32) error {
	li := g.FindLayer(layer)
	if li < 0 {
		return fmt.Errorf("interactive: layer %q not found", layer)
	}
	l := g.Layers[li]
	sym := l.FindSymbol(param)
	if sym < 0 {
		return fmt.Errorf("interactive: param %q not found in layer %q", param, layer)
	}
	s := l.Symbol(sym)
	if !s.Interactive {
		return fmt.Errorf("interactive: param %q.%s was not declared interactive", layer, param)
	}
	n := s.Type.NumElements()
	if len(vals) != n {
		return fmt.Errorf("interactive: param %q.%s wants %d values, got %d",
			layer, param, n, len(vals))
	}
	copy(g.InteractiveArena[s.DataOffset:s.DataOffset+n], vals)
	return nil
}

// InteractiveValue reads an interactive param's current arena value.
func (g *Group) InteractiveValue(layer, param string) ([]float32, bool) {
	li := g.FindLayer(layer)
	if li < 0 {
		return nil, false
	}
	l := g.Layers[li]
	sym := l.FindSymbol(param)
	if sym < 0 {
		return nil, false
	}
	s := l.Symbol(sym)
	if !s.Interactive {
		return nil, false
	}
	n := s.Type.NumElements()
	return g.InteractiveArena[s.DataOffset : s.DataOffset+n], true
}

// MergeInstances folds duplicate layers into their first occurrence and
// rewires connections that referenced the duplicates. It returns the
// number of layers merged away. Call before specialization for the
// cheap declaration-time pass and again afterwards for the code-level
// pass.
func (g *Group) MergeInstances() int {
	merged := 0
	for j := 1; j < len(g.Layers); j++ {
		if g.merged[j] >= 0 {
			continue
		}
		for i := 0; i < j; i++ {
			if g.merged[i] >= 0 {
				continue
			}
			if !g.Layers[i].Mergeable(g.Layers[j]) {
				continue
			}
			g.merged[j] = i
			merged++
			// Downstream layers now read from the survivor.
			for k := j + 1; k < len(g.Layers); k++ {
				for c := range g.Layers[k].Connections {
					if g.Layers[k].Connections[c].SrcLayer == j {
						g.Layers[k].Connections[c].SrcLayer = i
					}
				}
			}
			if g.Layers[j].Entry {
				g.Layers[i].Entry = true
			}
			break
		}
	}
	return merged
}

// Serialize renders the group as declaration statements that rebuild it.
func (g *Group) Serialize() string {
	var b strings.Builder
	for _, l := range g.Layers {
		m := l.Master
		for i := m.FirstParam; i < m.LastParam; i++ {
			ov := &l.Overrides[i-m.FirstParam]
			if ov.Source != SourceInstance && !ov.Interpolated && !ov.Interactive {
				continue
			}
			s := &m.Symbols[i]
			t := s.Type
			if t.IsUnsizedArray() {
				t.ArrayLen = l.ParamArrayLen(i)
			}
			fmt.Fprintf(&b, "param %s %s", t, s.Name)
			writeParamValues(&b, l, i, s)
			if ov.Interpolated {
				b.WriteString(" [[int interpolated=1]]")
			}
			if ov.Interactive {
				b.WriteString(" [[int interactive=1]]")
			}
			b.WriteString(" ;\n")
		}
		fmt.Fprintf(&b, "shader %s %s ;\n", m.Name, l.LayerName)
		for _, c := range l.Connections {
			src := g.Layers[c.SrcLayer]
			fmt.Fprintf(&b, "connect %s.%s %s.%s ;\n",
				src.LayerName, src.Master.Symbols[c.Src.Param].Name,
				l.LayerName, m.Symbols[c.Dst.Param].Name)
		}
	}
	return b.String()
}

func writeParamValues(b *strings.Builder, l *Instance, sym int, s *Symbol) {
	off := l.ParamOffset(sym)
	n := s.Type.NumElements()
	if s.Type.IsUnsizedArray() {
		n = l.ParamArrayLen(sym) * s.Type.Aggregate
	}
	switch s.Type.Base {
	case BaseInt:
		for i := 0; i < n; i++ {
			fmt.Fprintf(b, " %d", l.IntValues[off+i])
		}
	case BaseString:
		for i := 0; i < n; i++ {
			fmt.Fprintf(b, " %q", l.StringValues[off+i])
		}
	default:
		for i := 0; i < n; i++ {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(float64(l.FloatValues[off+i]), 'g', -1, 32))
		}
	}
}

// ParseSerialized rebuilds a group from the statement format produced by
// Serialize. The resolver maps shader names to their compiled masters.
func ParseSerialized(name, src string, resolve func(shader string) (*Master, error)) (*Group, error) {
	g := NewGroup(name)
	var pendingParams []ParamValue
	pendingHints := make(map[string]ParamHints)

	toks := fieldsQuoted(src)
	for i := 0; i < len(toks); {
		stmt, rest, err := takeStatement(toks[i:])
		if err != nil {
			return nil, err
		}
		i = len(toks) - len(rest)
		switch stmt[0] {
		case "param":
			pv, hints, err := parseParamStatement(stmt)
			if err != nil {
				return nil, err
			}
			pendingParams = append(pendingParams, pv)
			if hints != (ParamHints{}) {
				pendingHints[pv.Name] = hints
			}
		case "shader":
			if len(stmt) != 3 {
				return nil, fmt.Errorf("shader statement wants 2 arguments, got %d", len(stmt)-1)
			}
			m, err := resolve(stmt[1])
			if err != nil {
				return nil, fmt.Errorf("shader %q: %w", stmt[1], err)
			}
			inst := NewInstance(m, stmt[2], len(g.Layers))
			if err := inst.BindParameters(pendingParams, pendingHints); err != nil {
				return nil, err
			}
			g.AddLayer(inst)
			pendingParams = nil
			pendingHints = make(map[string]ParamHints)
		case "connect":
			if len(stmt) != 3 {
				return nil, fmt.Errorf("connect statement wants 2 arguments, got %d", len(stmt)-1)
			}
			sl, sp, ok := strings.Cut(stmt[1], ".")
			dl, dp, ok2 := strings.Cut(stmt[2], ".")
			if !ok || !ok2 {
				return nil, fmt.Errorf("connect arguments must be layer.param, got %q %q", stmt[1], stmt[2])
			}
			if err := g.Connect(sl, sp, dl, dp); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown statement %q", stmt[0])
		}
	}
	return g, nil
}

// fieldsQuoted splits on whitespace, keeping quoted strings whole with
// their quotes intact.
func fieldsQuoted(src string) []string {
	var toks []string
	var cur strings.Builder
	inQuote, has := false, false
	for _, r := range src {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
			has = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if has {
				toks = append(toks, cur.String())
				cur.Reset()
				has = false
			}
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if has {
		toks = append(toks, cur.String())
	}
	return toks
}

// takeStatement splits off the tokens up to the ";" terminator.
func takeStatement(toks []string) (stmt, rest []string, err error) {
	for i, t := range toks {
		if t == ";" {
			return toks[:i], toks[i+1:], nil
		}
		if strings.HasSuffix(t, ";") {
			stmt = append(append([]string(nil), toks[:i]...), strings.TrimSuffix(t, ";"))
			return stmt, toks[i+1:], nil
		}
	}
	return nil, nil, fmt.Errorf("statement missing %q terminator: %q", ";", strings.Join(toks, " "))
}

func parseParamStatement(stmt []string) (ParamValue, ParamHints, error) {
	var pv ParamValue
	var hints ParamHints
	if len(stmt) < 3 {
		return pv, hints, fmt.Errorf("param statement wants a type and a name")
	}
	t, err := ParseTypeSpec(stmt[1])
	if err != nil {
		return pv, hints, err
	}
	pv.Type = t
	pv.Name = stmt[2]
	for _, tok := range stmt[3:] {
		switch tok {
		case "[[int", "]]":
			continue
		case "interpolated=1]]", "interpolated=1":
			hints.Interpolated = true
			continue
		case "interactive=1]]", "interactive=1":
			hints.Interactive = true
			continue
		}
		switch t.Base {
		case BaseInt:
			v, err := strconv.ParseInt(tok, 10, 32)
			if err != nil {
				return pv, hints, fmt.Errorf("param %s: bad int %q", pv.Name, tok)
			}
			pv.Ints = append(pv.Ints, int32(v))
		case BaseString:
			s, err := strconv.Unquote(tok)
			if err != nil {
				s = tok
			}
			pv.Strings = append(pv.Strings, s)
		default:
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return pv, hints, fmt.Errorf("param %s: bad float %q", pv.Name, tok)
			}
			pv.Floats = append(pv.Floats, float32(v))
		}
	}
	return pv, hints, nil
}
