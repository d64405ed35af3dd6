// Package oso reads and writes the textual serialized form of compiled
// shader masters.
//
// The format is line oriented. A header names the format version and
// the shader, symbol lines declare the symbol table in order, and code
// sections carry the opcode stream:
//
//	OpenShadingLanguage 1.00
//	surface matte
//	param color Cs 1 1 1
//	oparam closure color Ci
//	const float $const1 0.5
//	code Cs
//		assign Cs $const1 %line{2}
//	code ___main___
//		closure Ci $const2 %filename{"matte.osl"} %line{8}
//		end
//
// Symbol hints follow the default values: %derivs, %interpolated,
// %interactive, %read{a,b}, %write{a,b}. Unknown %hints are skipped.
// Op hints are %jump{...}, %filename{"..."}, and %line{n}.
package oso

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/osl/shader"
)

// MainCodeSection is the code section name holding the shader body.
const MainCodeSection = "___main___"

// Version is the format version Parse accepts and Format writes.
const Version = "1.00"

// Parse reads one master from its serialized form.
func Parse(src string) (*shader.Master, error) {
	p := &parser{m: &shader.Master{RangeChecking: true, FirstParam: -1}}
	for ln, line := range strings.Split(src, "\n") {
		if err := p.line(strings.TrimSpace(line)); err != nil {
			return nil, fmt.Errorf("line %d: %w", ln+1, err)
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.m, nil
}

type parser struct {
	m *shader.Master

	sawVersion bool
	sawShader  bool

	// section is the symbol whose init ops are being read, -1 for the
	// main section, or -2 outside any code section.
	section     int
	sectionFrom int
}

func (p *parser) line(line string) error {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	toks, err := tokenize(line)
	if err != nil {
		return err
	}
	switch {
	case !p.sawVersion:
		if toks[0] != "OpenShadingLanguage" {
			return fmt.Errorf("missing format header")
		}
		p.sawVersion = true
		p.section = -2
		return nil
	case !p.sawShader:
		if len(toks) < 2 {
			return fmt.Errorf("malformed shader declaration")
		}
		p.m.ShaderType, p.m.Name = toks[0], toks[1]
		p.sawShader = true
		return nil
	case toks[0] == "code":
		if len(toks) != 2 {
			return fmt.Errorf("malformed code section")
		}
		p.closeSection()
		if toks[1] == MainCodeSection {
			p.section = -1
		} else {
			sym := p.m.FindSymbol(toks[1])
			if sym < 0 {
				return fmt.Errorf("code section for unknown symbol %q", toks[1])
			}
			p.section = sym
		}
		p.sectionFrom = len(p.m.Ops)
		return nil
	case p.section != -2:
		return p.op(toks)
	default:
		return p.symbol(toks)
	}
}

var symKinds = map[string]shader.SymType{
	"global": shader.SymGlobal,
	"param":  shader.SymParam,
	"oparam": shader.SymOutputParam,
	"local":  shader.SymLocal,
	"temp":   shader.SymTemp,
	"const":  shader.SymConst,
}

func (p *parser) symbol(toks []string) error {
	kind, ok := symKinds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown symbol kind %q", toks[0])
	}
	toks = toks[1:]
	t, rest, err := parseType(toks)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("symbol missing a name")
	}
	s := shader.Symbol{
		Name: rest[0],
		Type: t,
		Kind: kind,
		// Without usage hints assume the symbol is live.
		EverRead:    true,
		EverWritten: true,
	}
	rest = rest[1:]

	vals := 0
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "%") {
		if err := p.appendValue(&s, rest[0], vals == 0); err != nil {
			return err
		}
		vals++
		rest = rest[1:]
	}
	s.Initializers = vals
	if kind == shader.SymConst && vals == 0 {
		return fmt.Errorf("const %q has no value", s.Name)
	}

	for _, h := range rest {
		name, arg := splitHint(h)
		switch name {
		case "derivs":
			s.HasDerivs = s.Type.IsFloatBased()
		case "interpolated":
			s.Interpolated = true
		case "interactive":
			s.Interactive = true
		case "read":
			s.EverRead = rangeNonEmpty(arg)
		case "write":
			s.EverWritten = rangeNonEmpty(arg)
		}
	}

	idx := len(p.m.Symbols)
	if kind == shader.SymParam || kind == shader.SymOutputParam {
		if p.m.FirstParam < 0 {
			p.m.FirstParam = idx
		} else if p.m.LastParam != idx {
			return fmt.Errorf("param %q breaks the parameter block", s.Name)
		}
		p.m.LastParam = idx + 1
	}
	p.m.Symbols = append(p.m.Symbols, s)
	return nil
}

// appendValue stores one default value into the master's pools,
// recording the pool offset on the symbol's first value.
func (p *parser) appendValue(s *shader.Symbol, tok string, first bool) error {
	m := p.m
	switch s.Type.Base {
	case shader.BaseInt:
		n, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return fmt.Errorf("bad int value %q for %q", tok, s.Name)
		}
		if first {
			s.DataOffset = len(m.IntDefaults)
		}
		m.IntDefaults = append(m.IntDefaults, int32(n))
	case shader.BaseString:
		if first {
			s.DataOffset = len(m.StringDefaults)
		}
		m.StringDefaults = append(m.StringDefaults, tok)
	default:
		f, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return fmt.Errorf("bad float value %q for %q", tok, s.Name)
		}
		if first {
			s.DataOffset = len(m.FloatDefaults)
		}
		m.FloatDefaults = append(m.FloatDefaults, float32(f))
	}
	return nil
}

func (p *parser) op(toks []string) error {
	op := shader.Opcode{
		Name:     toks[0],
		FirstArg: len(p.m.Args),
		Jumps:    [4]int{-1, -1, -1, -1},
	}
	toks = toks[1:]
	for len(toks) > 0 && !strings.HasPrefix(toks[0], "%") {
		sym := p.m.FindSymbol(toks[0])
		if sym < 0 {
			return fmt.Errorf("op %q references unknown symbol %q", op.Name, toks[0])
		}
		p.m.Args = append(p.m.Args, sym)
		op.NArgs++
		toks = toks[1:]
	}
	for _, h := range toks {
		name, arg := splitHint(h)
		switch name {
		case "jump":
			for i, f := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
				if i >= len(op.Jumps) {
					return fmt.Errorf("op %q has too many jump targets", op.Name)
				}
				n, err := strconv.Atoi(f)
				if err != nil {
					return fmt.Errorf("op %q: bad jump target %q", op.Name, f)
				}
				op.Jumps[i] = n
			}
		case "filename":
			op.SourceFile = strings.Trim(arg, `"`)
		case "line":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("op %q: bad line %q", op.Name, arg)
			}
			op.SourceLine = n
		}
	}
	p.m.Ops = append(p.m.Ops, op)
	return nil
}

// closeSection records the op range of the section just read.
func (p *parser) closeSection() {
	switch p.section {
	case -2:
	case -1:
		p.m.MainCodeBegin = p.sectionFrom
		p.m.MainCodeEnd = len(p.m.Ops)
	default:
		s := &p.m.Symbols[p.section]
		s.InitBegin, s.InitEnd = p.sectionFrom, len(p.m.Ops)
		if s.HasInitOps() {
			s.Source = shader.SourceInitOps
		}
	}
	p.section = -2
}

func (p *parser) finish() error {
	if !p.sawShader {
		return fmt.Errorf("missing shader declaration")
	}
	p.closeSection()
	if p.m.FirstParam < 0 {
		p.m.FirstParam, p.m.LastParam = 0, 0
	}
	if p.m.MainCodeEnd == 0 {
		p.m.MainCodeBegin = len(p.m.Ops)
		p.m.MainCodeEnd = len(p.m.Ops)
	}
	return nil
}

// parseType consumes the type tokens at the head of rest. "closure"
// spans two tokens.
func parseType(toks []string) (shader.TypeSpec, []string, error) {
	if len(toks) == 0 {
		return shader.TypeSpec{}, nil, fmt.Errorf("symbol missing a type")
	}
	if toks[0] == "closure" {
		if len(toks) < 2 || toks[1] != "color" {
			return shader.TypeSpec{}, nil, fmt.Errorf("malformed closure type")
		}
		return shader.TypeClosure, toks[2:], nil
	}
	t, err := shader.ParseTypeSpec(toks[0])
	if err != nil {
		return shader.TypeSpec{}, nil, err
	}
	return t, toks[1:], nil
}

func splitHint(tok string) (name, arg string) {
	tok = strings.TrimPrefix(tok, "%")
	if i := strings.IndexByte(tok, '{'); i >= 0 && strings.HasSuffix(tok, "}") {
		return tok[:i], tok[i+1 : len(tok)-1]
	}
	return tok, ""
}

// rangeNonEmpty reads a "%read{a,b}" style range; a > b means never.
func rangeNonEmpty(arg string) bool {
	parts := strings.SplitN(arg, ",", 2)
	if len(parts) != 2 {
		return arg != ""
	}
	a, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return true
	}
	return a <= b
}

// tokenize splits a line on whitespace, keeping quoted strings whole
// with their quotes stripped, except inside %hint{...} braces.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote, inBrace, has := false, false, false
	flush := func() {
		if has {
			toks = append(toks, cur.String())
			cur.Reset()
			has = false
		}
	}
	for _, r := range line {
		switch {
		case inQuote:
			if r == '"' {
				inQuote = false
				if inBrace {
					cur.WriteRune(r)
				}
			} else {
				cur.WriteRune(r)
			}
		case r == '"':
			inQuote = true
			has = true
			if inBrace {
				cur.WriteRune(r)
			}
		case r == '{':
			inBrace = true
			cur.WriteRune(r)
			has = true
		case r == '}':
			inBrace = false
			cur.WriteRune(r)
		case !inBrace && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string")
	}
	flush()
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty statement")
	}
	return toks, nil
}
