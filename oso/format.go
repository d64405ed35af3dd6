package oso

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/osl/shader"
)

// Format writes a master back to its serialized form. Parse(Format(m))
// reproduces m up to usage hints.
func Format(m *shader.Master) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OpenShadingLanguage %s\n", Version)
	fmt.Fprintf(&b, "%s %s\n", m.ShaderType, m.Name)

	for i := range m.Symbols {
		writeSymbol(&b, m, &m.Symbols[i])
	}

	// Init sections come out in symbol order, then the main section.
	for i := range m.Symbols {
		s := &m.Symbols[i]
		if !s.HasInitOps() {
			continue
		}
		fmt.Fprintf(&b, "code %s\n", s.Name)
		writeOps(&b, m, s.InitBegin, s.InitEnd)
	}
	fmt.Fprintf(&b, "code %s\n", MainCodeSection)
	writeOps(&b, m, m.MainCodeBegin, m.MainCodeEnd)
	return b.String()
}

func writeSymbol(b *strings.Builder, m *shader.Master, s *shader.Symbol) {
	fmt.Fprintf(b, "%s %s %s", s.Kind, s.Type, s.Name)
	n := s.Initializers
	if s.Kind == shader.SymConst && n == 0 {
		n = s.Type.NumElements()
	}
	for i := 0; i < n; i++ {
		off := s.DataOffset + i
		switch s.Type.Base {
		case shader.BaseInt:
			fmt.Fprintf(b, " %d", m.IntDefaults[off])
		case shader.BaseString:
			fmt.Fprintf(b, " %q", m.StringDefaults[off])
		default:
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(float64(m.FloatDefaults[off]), 'g', -1, 32))
		}
	}
	if s.HasDerivs {
		b.WriteString(" %derivs")
	}
	if s.Interpolated {
		b.WriteString(" %interpolated")
	}
	if s.Interactive {
		b.WriteString(" %interactive")
	}
	if !s.EverRead {
		b.WriteString(" %read{1,0}")
	}
	if !s.EverWritten {
		b.WriteString(" %write{1,0}")
	}
	b.WriteByte('\n')
}

func writeOps(b *strings.Builder, m *shader.Master, from, to int) {
	for i := from; i < to; i++ {
		op := &m.Ops[i]
		b.WriteByte('\t')
		b.WriteString(op.Name)
		for _, a := range m.OpArgs(op) {
			b.WriteByte(' ')
			b.WriteString(m.Symbols[a].Name)
		}
		if targets := op.JumpTargets(); len(targets) > 0 {
			strs := make([]string, len(targets))
			for j, t := range targets {
				strs[j] = strconv.Itoa(t)
			}
			fmt.Fprintf(b, " %%jump{%s}", strings.Join(strs, ","))
		}
		if op.SourceFile != "" {
			fmt.Fprintf(b, " %%filename{%q}", op.SourceFile)
		}
		if op.SourceLine > 0 {
			fmt.Fprintf(b, " %%line{%d}", op.SourceLine)
		}
		b.WriteByte('\n')
	}
}
