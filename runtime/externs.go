package runtime

import (
	"fmt"
	"io"
	"os"

	"github.com/chewxy/math32"

	"github.com/gogpu/osl/dict"
	"github.com/gogpu/osl/ir"
)

// Externs owns the host-side state generated code reaches through
// extern calls: the renderer, the closure registry, the dictionary
// cache, option block staging, and the error/warning logs.
type Externs struct {
	Renderer RendererServices
	Closures *ClosureRegistry
	Dict     *dict.Dictionary
	Out      io.Writer

	// Interactive resolves interactively-editable parameter values,
	// normally backed by a group's interactive arena.
	Interactive func(layer, param string) ([]float32, bool)

	Errors   []string
	Warnings []string

	texOpts   TextureOptions
	traceOpts TraceOptions
	noiseOpts NoiseOptions
}

// NewExterns creates an extern state with the null renderer, the
// builtin closures and stdout printf output.
func NewExterns() *Externs {
	return &Externs{
		Renderer: NullRenderer{},
		Closures: BuiltinClosures(),
		Dict:     dict.New(),
		Out:      os.Stdout,
	}
}

func (e *Externs) errorf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

func (e *Externs) warnf(format string, args ...any) {
	e.Warnings = append(e.Warnings, fmt.Sprintf(format, args...))
}

func cellF(m *ir.Machine, p ir.Value, off int) float32 {
	p.Off += off
	return m.LoadCell(p).F
}

func setCellF(m *ir.Machine, p ir.Value, off int, v float32) {
	p.Off += off
	m.StoreCell(p, ir.FloatVal(v))
}

func setCellI(m *ir.Machine, p ir.Value, off int, v int32) {
	p.Off += off
	m.StoreCell(p, ir.IntVal(v))
}

func setCellS(m *ir.Machine, p ir.Value, off int, v string) {
	p.Off += off
	m.StoreCell(p, ir.StringVal(v))
}

// Install registers the extern library on m.
func (e *Externs) Install(m *ir.Machine) {
	e.installMath(m)
	e.installStrings(m)
	e.installNoise(m)
	e.installPrintf(m)
	e.installClosures(m)
	e.installOptions(m)
	e.installServices(m)
	e.installDict(m)
}

// installUnary registers the scalar, derivative, vector and
// vector-derivative forms of a one-argument math function. df is the
// analytic derivative used by the chain rule.
func installUnary(m *ir.Machine, name string, f, df func(float32) float32) {
	m.RegisterExtern("osl_"+name+"_ff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(f(args[0].F)), nil
	})
	m.RegisterExtern("osl_"+name+"_dfdf", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, x := args[0], args[1]
		v := cellF(m, x, 0)
		d := df(v)
		setCellF(m, res, 0, f(v))
		setCellF(m, res, 1, d*cellF(m, x, 1))
		setCellF(m, res, 2, d*cellF(m, x, 2))
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_"+name+"_vv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, x := args[0], args[1]
		for i := 0; i < 3; i++ {
			setCellF(m, res, i, f(cellF(m, x, i)))
		}
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_"+name+"_dvdv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, x := args[0], args[1]
		for i := 0; i < 3; i++ {
			v := cellF(m, x, i)
			d := df(v)
			setCellF(m, res, i, f(v))
			setCellF(m, res, 3+i, d*cellF(m, x, 3+i))
			setCellF(m, res, 6+i, d*cellF(m, x, 6+i))
		}
		return ir.Value{}, nil
	})
}

// installBinary registers the scalar and derivative forms of a
// two-argument math function, with dfda and dfdb the partials.
func installBinary(m *ir.Machine, name string, f, dfda, dfdb func(a, b float32) float32) {
	m.RegisterExtern("osl_"+name+"_fff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(f(args[0].F, args[1].F)), nil
	})
	// Derivative forms: pointer args carry (val, dx, dy); a plain
	// scalar arg has zero derivatives.
	deriv := func(aPtr, bPtr bool) ir.ExternFunc {
		return func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
			res := args[0]
			var a, ax, ay, b, bx, by float32
			if aPtr {
				a, ax, ay = cellF(m, args[1], 0), cellF(m, args[1], 1), cellF(m, args[1], 2)
			} else {
				a = args[1].F
			}
			if bPtr {
				b, bx, by = cellF(m, args[2], 0), cellF(m, args[2], 1), cellF(m, args[2], 2)
			} else {
				b = args[2].F
			}
			da, db := dfda(a, b), dfdb(a, b)
			setCellF(m, res, 0, f(a, b))
			setCellF(m, res, 1, da*ax+db*bx)
			setCellF(m, res, 2, da*ay+db*by)
			return ir.Value{}, nil
		}
	}
	m.RegisterExtern("osl_"+name+"_dfdfdf", deriv(true, true))
	m.RegisterExtern("osl_"+name+"_dfdff", deriv(true, false))
	m.RegisterExtern("osl_"+name+"_dffdf", deriv(false, true))
	m.RegisterExtern("osl_"+name+"_vvv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, a, b := args[0], args[1], args[2]
		for i := 0; i < 3; i++ {
			setCellF(m, res, i, f(cellF(m, a, i), cellF(m, b, i)))
		}
		return ir.Value{}, nil
	})
}

func (e *Externs) installMath(m *ir.Machine) {
	installUnary(m, "sin", math32.Sin, math32.Cos)
	installUnary(m, "cos", math32.Cos, func(x float32) float32 { return -math32.Sin(x) })
	installUnary(m, "tan", math32.Tan, func(x float32) float32 {
		c := math32.Cos(x)
		return 1 / (c * c)
	})
	installUnary(m, "asin", math32.Asin, func(x float32) float32 {
		return 1 / math32.Sqrt(1-x*x)
	})
	installUnary(m, "acos", math32.Acos, func(x float32) float32 {
		return -1 / math32.Sqrt(1-x*x)
	})
	installUnary(m, "atan", math32.Atan, func(x float32) float32 {
		return 1 / (1 + x*x)
	})
	installUnary(m, "sinh", math32.Sinh, math32.Cosh)
	installUnary(m, "cosh", math32.Cosh, math32.Sinh)
	installUnary(m, "tanh", math32.Tanh, func(x float32) float32 {
		t := math32.Tanh(x)
		return 1 - t*t
	})
	installUnary(m, "exp", math32.Exp, math32.Exp)
	installUnary(m, "exp2", math32.Exp2, func(x float32) float32 {
		return math32.Exp2(x) * math32.Ln2
	})
	installUnary(m, "log", safeLog, func(x float32) float32 { return 1 / x })
	installUnary(m, "log2", math32.Log2, func(x float32) float32 {
		return 1 / (x * math32.Ln2)
	})
	installUnary(m, "sqrt", safeSqrt, func(x float32) float32 {
		if x <= 0 {
			return 0
		}
		return 0.5 / math32.Sqrt(x)
	})
	installUnary(m, "inversesqrt", func(x float32) float32 {
		if x <= 0 {
			return 0
		}
		return 1 / math32.Sqrt(x)
	}, func(x float32) float32 {
		if x <= 0 {
			return 0
		}
		return -0.5 / (x * math32.Sqrt(x))
	})
	installUnary(m, "fabs", math32.Abs, func(x float32) float32 {
		if x < 0 {
			return -1
		}
		return 1
	})
	installUnary(m, "floor", math32.Floor, zero1)
	installUnary(m, "ceil", math32.Ceil, zero1)
	installUnary(m, "round", func(x float32) float32 {
		return math32.Floor(x + 0.5)
	}, zero1)
	installUnary(m, "trunc", math32.Trunc, zero1)
	installUnary(m, "sign", sign, zero1)
	installUnary(m, "erf", math32.Erf, func(x float32) float32 {
		return 2 / math32.SqrtPi * math32.Exp(-x*x)
	})
	installUnary(m, "erfc", math32.Erfc, func(x float32) float32 {
		return -2 / math32.SqrtPi * math32.Exp(-x*x)
	})
	installUnary(m, "radians", func(x float32) float32 { return x * math32.Pi / 180 },
		func(float32) float32 { return math32.Pi / 180 })
	installUnary(m, "degrees", func(x float32) float32 { return x * 180 / math32.Pi },
		func(float32) float32 { return 180 / math32.Pi })

	installBinary(m, "pow", safePow,
		func(a, b float32) float32 {
			if a <= 0 {
				return 0
			}
			return b * safePow(a, b-1)
		},
		func(a, b float32) float32 {
			if a <= 0 {
				return 0
			}
			return safePow(a, b) * safeLog(a)
		})
	installBinary(m, "atan2", math32.Atan2,
		func(a, b float32) float32 { return b / (a*a + b*b) },
		func(a, b float32) float32 { return -a / (a*a + b*b) })
	installBinary(m, "fmod", safeFmod,
		func(a, b float32) float32 { return 1 },
		func(a, b float32) float32 { return 0 })
	installBinary(m, "hypot", math32.Hypot,
		func(a, b float32) float32 { return a / math32.Hypot(a, b) },
		func(a, b float32) float32 { return b / math32.Hypot(a, b) })
	installBinary(m, "step", func(edge, x float32) float32 {
		if x < edge {
			return 0
		}
		return 1
	}, zero2, zero2)

	m.RegisterExtern("osl_sincos_fff", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		s, c := math32.Sincos(args[0].F)
		setCellF(m, args[1], 0, s)
		setCellF(m, args[2], 0, c)
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_sincos_dfdfdf", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		x := args[0]
		v, dx, dy := cellF(m, x, 0), cellF(m, x, 1), cellF(m, x, 2)
		s, c := math32.Sincos(v)
		setCellF(m, args[1], 0, s)
		setCellF(m, args[1], 1, c*dx)
		setCellF(m, args[1], 2, c*dy)
		setCellF(m, args[2], 0, c)
		setCellF(m, args[2], 1, -s*dx)
		setCellF(m, args[2], 2, -s*dy)
		return ir.Value{}, nil
	})

	m.RegisterExtern("osl_length_fv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		v := args[0]
		return ir.FloatVal(math32.Sqrt(dot3(m, v, v))), nil
	})
	m.RegisterExtern("osl_distance_fvv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		var sum float32
		for i := 0; i < 3; i++ {
			d := cellF(m, args[0], i) - cellF(m, args[1], i)
			sum += d * d
		}
		return ir.FloatVal(math32.Sqrt(sum)), nil
	})
	m.RegisterExtern("osl_dot_fvv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(dot3(m, args[0], args[1])), nil
	})
	m.RegisterExtern("osl_cross_vvv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, a, b := args[0], args[1], args[2]
		a0, a1, a2 := cellF(m, a, 0), cellF(m, a, 1), cellF(m, a, 2)
		b0, b1, b2 := cellF(m, b, 0), cellF(m, b, 1), cellF(m, b, 2)
		setCellF(m, res, 0, a1*b2-a2*b1)
		setCellF(m, res, 1, a2*b0-a0*b2)
		setCellF(m, res, 2, a0*b1-a1*b0)
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_normalize_vv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, v := args[0], args[1]
		l := math32.Sqrt(dot3(m, v, v))
		if l == 0 {
			for i := 0; i < 3; i++ {
				setCellF(m, res, i, 0)
			}
			return ir.Value{}, nil
		}
		for i := 0; i < 3; i++ {
			setCellF(m, res, i, cellF(m, v, i)/l)
		}
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_luminance_fv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(luminance(m, args[0], 0)), nil
	})
	m.RegisterExtern("osl_luminance_dfdv", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		res, c := args[0], args[1]
		setCellF(m, res, 0, luminance(m, c, 0))
		setCellF(m, res, 1, luminance(m, c, 3))
		setCellF(m, res, 2, luminance(m, c, 6))
		return ir.Value{}, nil
	})
}

func zero1(float32) float32 { return 0 }

func zero2(_, _ float32) float32 { return 0 }

func sign(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func safeLog(x float32) float32 {
	if x <= 0 {
		return -math32.MaxFloat32
	}
	return math32.Log(x)
}

func safeSqrt(x float32) float32 {
	if x <= 0 {
		return 0
	}
	return math32.Sqrt(x)
}

func safePow(a, b float32) float32 {
	if a < 0 && b != math32.Trunc(b) {
		return 0
	}
	return math32.Pow(a, b)
}

func safeFmod(a, b float32) float32 {
	if b == 0 {
		return 0
	}
	return math32.Mod(a, b)
}

func dot3(m *ir.Machine, a, b ir.Value) float32 {
	var sum float32
	for i := 0; i < 3; i++ {
		sum += cellF(m, a, i) * cellF(m, b, i)
	}
	return sum
}

// Rec. 709 luma weights.
func luminance(m *ir.Machine, c ir.Value, off int) float32 {
	return 0.2126*cellF(m, c, off) + 0.7152*cellF(m, c, off+1) + 0.0722*cellF(m, c, off+2)
}

func (e *Externs) installStrings(m *ir.Machine) {
	m.RegisterExtern("osl_concat_sss", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.StringVal(args[0].S + args[1].S), nil
	})
	m.RegisterExtern("osl_strlen_is", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.IntVal(int32(len(args[0].S))), nil
	})
	m.RegisterExtern("osl_startswith_iss", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return boolInt(len(args[0].S) >= len(args[1].S) && args[0].S[:len(args[1].S)] == args[1].S), nil
	})
	m.RegisterExtern("osl_endswith_iss", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return boolInt(len(args[0].S) >= len(args[1].S) && args[0].S[len(args[0].S)-len(args[1].S):] == args[1].S), nil
	})
	m.RegisterExtern("osl_substr_ssii", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		s := args[0].S
		start, length := int(args[1].I), int(args[2].I)
		if start < 0 {
			start += len(s)
		}
		start = clampInt(start, 0, len(s))
		end := clampInt(start+length, start, len(s))
		return ir.StringVal(s[start:end]), nil
	})
}

func boolInt(b bool) ir.Value {
	if b {
		return ir.IntVal(1)
	}
	return ir.IntVal(0)
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Noise is a deterministic value noise over a lattice hash. It is not
// OSL's Perlin implementation, but it has the right range and
// continuity for exercising generated code.
func hashCell(x, y int32) float32 {
	h := uint32(x)*0x9e3779b1 ^ uint32(y)*0x85ebca6b
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	return float32(h&0xffffff) / float32(0x1000000)
}

func smooth(t float32) float32 { return t * t * (3 - 2*t) }

func valueNoise(x, y float32) float32 {
	x0, y0 := math32.Floor(x), math32.Floor(y)
	tx, ty := smooth(x-x0), smooth(y-y0)
	ix, iy := int32(x0), int32(y0)
	a := hashCell(ix, iy)
	b := hashCell(ix+1, iy)
	c := hashCell(ix, iy+1)
	d := hashCell(ix+1, iy+1)
	return lerp(lerp(a, b, tx), lerp(c, d, tx), ty)
}

func lerp(a, b, t float32) float32 { return a + t*(b-a) }

func (e *Externs) installNoise(m *ir.Machine) {
	m.RegisterExtern("osl_noise_ff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(valueNoise(args[0].F, 0)), nil
	})
	m.RegisterExtern("osl_noise_fff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(valueNoise(args[0].F, args[1].F)), nil
	})
	m.RegisterExtern("osl_snoise_ff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(2*valueNoise(args[0].F, 0) - 1), nil
	})
	m.RegisterExtern("osl_snoise_fff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(2*valueNoise(args[0].F, args[1].F) - 1), nil
	})
	m.RegisterExtern("osl_cellnoise_ff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(hashCell(int32(math32.Floor(args[0].F)), 0)), nil
	})
	m.RegisterExtern("osl_cellnoise_fff", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.FloatVal(hashCell(int32(math32.Floor(args[0].F)), int32(math32.Floor(args[1].F)))), nil
	})
}

func (e *Externs) installPrintf(m *ir.Machine) {
	emit := func(args []ir.Value) string {
		goArgs := make([]any, len(args)-1)
		for i, a := range args[1:] {
			switch a.Kind {
			case ir.KindFloat:
				goArgs[i] = a.F
			case ir.KindInt:
				goArgs[i] = a.I
			case ir.KindString:
				goArgs[i] = a.S
			default:
				goArgs[i] = a
			}
		}
		return fmt.Sprintf(args[0].S, goArgs...)
	}
	m.RegisterExtern("osl_printf", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		fmt.Fprint(e.Out, emit(args))
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_format_ss", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.StringVal(emit(args)), nil
	})
	m.RegisterExtern("osl_error", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		e.errorf("%s", emit(args))
		return ir.Value{}, nil
	})
	m.RegisterExtern("osl_warning", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		e.warnf("%s", emit(args))
		return ir.Value{}, nil
	})

	// Index clamping with full source context: index, length, symbol,
	// file, line, group, layer number, layer name, shader name.
	m.RegisterExtern("osl_range_check", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		index, length := args[0].I, args[1].I
		if index >= 0 && index < length {
			return ir.IntVal(index), nil
		}
		clamped := int32(clampInt(int(index), 0, int(length-1)))
		e.errorf("index [%d] out of range %s[0..%d]: %s:%d (group %s, layer %d %s, shader %s)",
			index, args[2].S, length-1, args[3].S, args[4].I,
			args[5].S, args[6].I, args[7].S, args[8].S)
		return ir.IntVal(clamped), nil
	})
}

func (e *Externs) installClosures(m *ir.Machine) {
	m.RegisterExtern("osl_allocate_closure_component", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		id, size := args[0].I, int(args[1].I)
		p := m.NewBuffer(ClosureParamBase + size)
		setCellI(m, p, 0, id)
		for i := 1; i < ClosureParamBase; i++ {
			setCellF(m, p, i, 1)
		}
		return p, nil
	})
	m.RegisterExtern("osl_add_closure_closure", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		a, b := args[0], args[1]
		if a.Buf == 0 {
			return b, nil
		}
		if b.Buf == 0 {
			return a, nil
		}
		p := m.NewBuffer(3)
		setCellI(m, p, 0, ClosureAddID)
		setCellPtr(m, p, 1, a)
		setCellPtr(m, p, 2, b)
		return p, nil
	})
	mulColor := func(m *ir.Machine, c ir.Value, r, g, b float32) ir.Value {
		if c.Buf == 0 || (r == 0 && g == 0 && b == 0) {
			return ir.Value{Kind: ir.KindPtr}
		}
		p := m.NewBuffer(5)
		setCellI(m, p, 0, ClosureMulID)
		setCellPtr(m, p, 1, c)
		setCellF(m, p, 2, r)
		setCellF(m, p, 3, g)
		setCellF(m, p, 4, b)
		return p
	}
	m.RegisterExtern("osl_mul_closure_color", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		w := args[1]
		return mulColor(m, args[0], cellF(m, w, 0), cellF(m, w, 1), cellF(m, w, 2)), nil
	})
	m.RegisterExtern("osl_mul_closure_float", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		f := args[1].F
		return mulColor(m, args[0], f, f, f), nil
	})
	// Setup hook for microfacet; nothing to precompute here.
	m.RegisterExtern("osl_closure_setup_microfacet", func(_ *ir.Machine, _ []ir.Value) (ir.Value, error) {
		return ir.Value{}, nil
	})
}

func setCellPtr(m *ir.Machine, p ir.Value, off int, v ir.Value) {
	p.Off += off
	m.StoreCell(p, v)
}

//nolint:gocyclo // one registration per option setter
func (e *Externs) installOptions(m *ir.Machine) {
	reg := func(name string, fn func(args []ir.Value)) {
		m.RegisterExtern(name, func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
			fn(args)
			return ir.Value{}, nil
		})
	}
	reg("osl_get_texture_options", func([]ir.Value) { e.texOpts = DefaultTextureOptions() })
	reg("osl_texture_set_blur", func(a []ir.Value) { e.texOpts.SBlur = a[0].F; e.texOpts.TBlur = a[0].F })
	reg("osl_texture_set_sblur", func(a []ir.Value) { e.texOpts.SBlur = a[0].F })
	reg("osl_texture_set_tblur", func(a []ir.Value) { e.texOpts.TBlur = a[0].F })
	reg("osl_texture_set_width", func(a []ir.Value) { e.texOpts.SWidth = a[0].F; e.texOpts.TWidth = a[0].F })
	reg("osl_texture_set_swidth", func(a []ir.Value) { e.texOpts.SWidth = a[0].F })
	reg("osl_texture_set_twidth", func(a []ir.Value) { e.texOpts.TWidth = a[0].F })
	reg("osl_texture_set_wrap", func(a []ir.Value) { e.texOpts.SWrap = a[0].S; e.texOpts.TWrap = a[0].S })
	reg("osl_texture_set_swrap", func(a []ir.Value) { e.texOpts.SWrap = a[0].S })
	reg("osl_texture_set_twrap", func(a []ir.Value) { e.texOpts.TWrap = a[0].S })
	reg("osl_texture_set_fill", func(a []ir.Value) { e.texOpts.Fill = a[0].F })
	reg("osl_texture_set_firstchannel", func(a []ir.Value) { e.texOpts.FirstChannel = a[0].I })
	reg("osl_texture_set_subimage", func(a []ir.Value) { e.texOpts.SubImage = a[0].I })
	reg("osl_texture_set_subimagename", func(a []ir.Value) { e.texOpts.SubImageName = a[0].S })
	reg("osl_texture_set_interp", func(a []ir.Value) { e.texOpts.Interp = a[0].S })
	m.RegisterExtern("osl_texture_set_missingcolor", func(m *ir.Machine, a []ir.Value) (ir.Value, error) {
		for i := 0; i < 3; i++ {
			e.texOpts.MissingColor[i] = cellF(m, a[0], i)
		}
		e.texOpts.HasMissing = true
		return ir.Value{}, nil
	})
	reg("osl_texture_set_missingalpha", func(a []ir.Value) {
		e.texOpts.MissingAlpha = a[0].F
		e.texOpts.HasMissing = true
	})

	reg("osl_get_trace_options", func([]ir.Value) { e.traceOpts = DefaultTraceOptions() })
	reg("osl_trace_set_mindist", func(a []ir.Value) { e.traceOpts.MinDist = a[0].F })
	reg("osl_trace_set_maxdist", func(a []ir.Value) { e.traceOpts.MaxDist = a[0].F })
	reg("osl_trace_set_shade", func(a []ir.Value) { e.traceOpts.Shade = a[0].I })
	reg("osl_trace_set_traceset", func(a []ir.Value) { e.traceOpts.TraceSet = a[0].S })

	reg("osl_get_noise_options", func([]ir.Value) { e.noiseOpts = DefaultNoiseOptions() })
	reg("osl_noise_set_anisotropic", func(a []ir.Value) { e.noiseOpts.Anisotropic = a[0].I })
	reg("osl_noise_set_dofilter", func(a []ir.Value) { e.noiseOpts.DoFilter = a[0].I })
	m.RegisterExtern("osl_noise_set_direction", func(m *ir.Machine, a []ir.Value) (ir.Value, error) {
		for i := 0; i < 3; i++ {
			e.noiseOpts.Direction[i] = cellF(m, a[0], i)
		}
		return ir.Value{}, nil
	})
	reg("osl_noise_set_bandwidth", func(a []ir.Value) { e.noiseOpts.Bandwidth = a[0].F })
	reg("osl_noise_set_impulses", func(a []ir.Value) { e.noiseOpts.Impulses = a[0].F })
}

func (e *Externs) installServices(m *ir.Machine) {
	// texture: filename, s, t, nchannels, result pointer.
	m.RegisterExtern("osl_texture", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		nchan := int(args[3].I)
		res, ok := e.Renderer.Texture(args[0].S, &e.texOpts, args[1].F, args[2].F, nchan)
		if !ok {
			if !e.texOpts.HasMissing {
				for i := 0; i < nchan; i++ {
					setCellF(m, args[4], i, e.texOpts.Fill)
				}
				return ir.IntVal(0), nil
			}
			for i := 0; i < nchan && i < 3; i++ {
				setCellF(m, args[4], i, e.texOpts.MissingColor[i])
			}
			if nchan > 3 {
				setCellF(m, args[4], 3, e.texOpts.MissingAlpha)
			}
			return ir.IntVal(0), nil
		}
		for i := 0; i < nchan && i < len(res); i++ {
			setCellF(m, args[4], i, res[i])
		}
		return ir.IntVal(1), nil
	})
	// trace: position pointer, direction pointer.
	m.RegisterExtern("osl_trace", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		var pos, dir [3]float32
		for i := 0; i < 3; i++ {
			pos[i] = cellF(m, args[0], i)
			dir[i] = cellF(m, args[1], i)
		}
		return boolInt(e.Renderer.Trace(&e.traceOpts, pos, dir)), nil
	})
	// getattribute: object, name, n, destination pointer.
	m.RegisterExtern("osl_get_attribute", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		vals, ok := e.Renderer.GetAttribute(args[0].S, args[1].S)
		if !ok {
			return ir.IntVal(0), nil
		}
		n := int(args[2].I)
		for i := 0; i < n && i < len(vals); i++ {
			setCellF(m, args[3], i, vals[i])
		}
		return ir.IntVal(1), nil
	})
	// bind_interpolated_param: name, n, destination pointer.
	m.RegisterExtern("osl_bind_interpolated_param", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		vals, ok := e.Renderer.UserData(args[0].S)
		if !ok {
			return ir.IntVal(0), nil
		}
		n := int(args[1].I)
		for i := 0; i < n && i < len(vals); i++ {
			setCellF(m, args[2], i, vals[i])
		}
		return ir.IntVal(1), nil
	})
	// bind_interactive_param: layer name, param name, n, destination.
	m.RegisterExtern("osl_bind_interactive_param", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		if e.Interactive == nil {
			return ir.IntVal(0), nil
		}
		vals, ok := e.Interactive(args[0].S, args[1].S)
		if !ok {
			return ir.IntVal(0), nil
		}
		n := int(args[2].I)
		for i := 0; i < n && i < len(vals); i++ {
			setCellF(m, args[3], i, vals[i])
		}
		return ir.IntVal(1), nil
	})
	// raytype_name: globals pointer, ray type name.
	m.RegisterExtern("osl_raytype_name", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		sg := args[0]
		sg.Off += RaytypeOffset
		bits := m.LoadCell(sg).I
		return boolInt(bits&e.Renderer.RayTypeBit(args[1].S) != 0), nil
	})
}

func (e *Externs) installDict(m *ir.Machine) {
	m.RegisterExtern("osl_dict_find", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		h, err := e.Dict.Find(args[0].S, args[1].S)
		if err != nil {
			e.warnf("%s", err)
		}
		return ir.IntVal(int32(h)), nil
	})
	m.RegisterExtern("osl_dict_find_from", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		h, err := e.Dict.FindFrom(int(args[0].I), args[1].S)
		if err != nil {
			e.warnf("%s", err)
		}
		return ir.IntVal(int32(h)), nil
	})
	m.RegisterExtern("osl_dict_next", func(_ *ir.Machine, args []ir.Value) (ir.Value, error) {
		return ir.IntVal(int32(e.Dict.Next(int(args[0].I)))), nil
	})
	// dict_value: node, attribute, base type, n, destination pointer.
	m.RegisterExtern("osl_dict_value", func(m *ir.Machine, args []ir.Value) (ir.Value, error) {
		node, attrib := int(args[0].I), args[1].S
		base, n := args[2].I, int(args[3].I)
		dst := args[4]
		switch base {
		case 0: // int
			v, ok := e.Dict.IntValue(node, attrib)
			if !ok {
				return ir.IntVal(0), nil
			}
			setCellI(m, dst, 0, v)
		case 2: // string
			v, ok := e.Dict.Value(node, attrib)
			if !ok {
				return ir.IntVal(0), nil
			}
			setCellS(m, dst, 0, v)
		default: // float based
			if n == 1 {
				v, ok := e.Dict.FloatValue(node, attrib)
				if !ok {
					return ir.IntVal(0), nil
				}
				setCellF(m, dst, 0, v)
				break
			}
			vals, ok := e.Dict.FloatsValue(node, attrib, n)
			if !ok {
				return ir.IntVal(0), nil
			}
			for i, v := range vals {
				setCellF(m, dst, i, v)
			}
		}
		return ir.IntVal(1), nil
	})
}
