package shader

import "math"

// Mergeable reports whether other could be replaced by this instance
// without changing what the group computes. Two layers merge when they
// share a master and every observable difference between them is
// vacuous: identical parameter values, identical connections, identical
// evaluation policy, and (once specialized) equivalent symbol tables and
// code. The group rewires connections afterwards, so connection
// destinations referring to the merged layer are the caller's problem.
func (inst *Instance) Mergeable(other *Instance) bool {
	m := inst.Master
	if m != other.Master {
		return false
	}
	if inst.specialized != other.specialized {
		return false
	}

	// A layer whose params the renderer reads by name cannot vanish.
	if inst.specialized {
		for i := range inst.Symbols {
			if inst.Symbols[i].RendererOutput || other.Symbols[i].RendererOutput {
				return false
			}
		}
	}

	for i := range inst.Overrides {
		a, b := &inst.Overrides[i], &other.Overrides[i]
		if a.Interpolated || b.Interpolated || a.Interactive || b.Interactive {
			return false
		}
		if equivalentOverride(a, b) {
			continue
		}
		// A param never touched by any layer in the group cannot matter.
		sym := m.FirstParam + i
		if inst.specialized &&
			!inst.Symbols[sym].EverUsedInGroup && !other.Symbols[sym].EverUsedInGroup {
			continue
		}
		// A default on one side and an instance value on the other is
		// fine when the bytes agree; the value comparison below decides.
		sourceDeferred := (a.Source == SourceDefault || a.Source == SourceInstance) &&
			(b.Source == SourceDefault || b.Source == SourceInstance)
		if !sourceDeferred || a.ArrayLen != b.ArrayLen ||
			a.ConnectedDown != b.ConnectedDown {
			return false
		}
	}

	for sym := m.FirstParam; sym < m.LastParam; sym++ {
		if !paramValuesEqual(inst, other, sym) {
			return false
		}
	}

	if inst.RunLazily != other.RunLazily {
		return false
	}

	if len(inst.Connections) != len(other.Connections) {
		return false
	}
	for i := range inst.Connections {
		if inst.Connections[i] != other.Connections[i] {
			return false
		}
	}

	if inst.specialized && !equivalentCode(inst, other) {
		return false
	}
	return true
}

// paramValuesEqual compares the stored values of one param across two
// instances of the same master.
func paramValuesEqual(a, b *Instance, sym int) bool {
	s := &a.Master.Symbols[sym]
	if s.Type.IsClosure() {
		return true
	}
	n := a.ParamArrayLen(sym)
	bn := b.ParamArrayLen(sym)
	if n != bn {
		return false
	}
	n *= s.Type.Aggregate
	if !s.Type.IsArray() {
		n = s.Type.NumElements()
	}
	ao, bo := a.ParamOffset(sym), b.ParamOffset(sym)
	switch s.Type.Base {
	case BaseInt:
		return int32sEqual(a.IntValues[ao:ao+n], b.IntValues[bo:bo+n])
	case BaseString:
		return stringsEqual(a.StringValues[ao:ao+n], b.StringValues[bo:bo+n])
	default:
		return float32sEqual(a.FloatValues[ao:ao+n], b.FloatValues[bo:bo+n])
	}
}

// equivalentCode compares the post-specialization symbol tables, code
// and argument streams of two instances.
func equivalentCode(a, b *Instance) bool {
	if len(a.Symbols) != len(b.Symbols) ||
		len(a.Ops) != len(b.Ops) || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Symbols {
		sa, sb := &a.Symbols[i], &b.Symbols[i]
		if !equivalentSymbol(sa, sb) {
			return false
		}
		if sa.Kind == SymConst && !constValuesEqual(a, b, sa, sb) {
			return false
		}
	}
	for i := range a.Ops {
		oa, ob := &a.Ops[i], &b.Ops[i]
		if oa.Name != ob.Name || oa.FirstArg != ob.FirstArg ||
			oa.NArgs != ob.NArgs || oa.Jumps != ob.Jumps {
			return false
		}
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return a.Master.MainCodeBegin == b.Master.MainCodeBegin &&
		a.Master.MainCodeEnd == b.Master.MainCodeEnd
}

func constValuesEqual(a, b *Instance, sa, sb *Symbol) bool {
	n := sa.Type.NumElements()
	if n != sb.Type.NumElements() {
		return false
	}
	ao, bo := sa.DataOffset, sb.DataOffset
	switch sa.Type.Base {
	case BaseInt:
		return int32sEqual(a.IntValues[ao:ao+n], b.IntValues[bo:bo+n])
	case BaseString:
		return stringsEqual(a.StringValues[ao:ao+n], b.StringValues[bo:bo+n])
	default:
		return float32sEqual(a.FloatValues[ao:ao+n], b.FloatValues[bo:bo+n])
	}
}

func int32sEqual(a, b []int32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func float32sEqual(a, b []float32) bool {
	for i := range a {
		// Bit comparison, so 0 and -0 stay distinct and equal NaN
		// payloads compare equal.
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
