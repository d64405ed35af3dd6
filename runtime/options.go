package runtime

import "github.com/chewxy/math32"

// TextureOptions is the option block filled before a texture call.
type TextureOptions struct {
	SWrap, TWrap   string
	SBlur, TBlur   float32
	SWidth, TWidth float32
	Fill           float32
	FirstChannel   int32
	SubImage       int32
	SubImageName   string
	Interp         string
	MissingColor   [3]float32
	MissingAlpha   float32
	HasMissing     bool
}

// DefaultTextureOptions returns the option block state before any
// setter runs.
func DefaultTextureOptions() TextureOptions {
	return TextureOptions{
		SWrap: "default", TWrap: "default",
		SWidth: 1, TWidth: 1,
		Interp: "smartbicubic",
	}
}

// TraceOptions is the option block filled before a trace call.
type TraceOptions struct {
	MinDist  float32
	MaxDist  float32
	Shade    int32
	TraceSet string
}

// DefaultTraceOptions returns the trace defaults.
func DefaultTraceOptions() TraceOptions {
	return TraceOptions{MaxDist: math32.Inf(1)}
}

// NoiseOptions is the option block filled before a gabor noise call.
type NoiseOptions struct {
	Anisotropic int32
	DoFilter    int32
	Direction   [3]float32
	Bandwidth   float32
	Impulses    float32
}

// DefaultNoiseOptions returns the noise defaults.
func DefaultNoiseOptions() NoiseOptions {
	return NoiseOptions{
		DoFilter:  1,
		Direction: [3]float32{1, 0, 0},
		Bandwidth: 1,
		Impulses:  16,
	}
}

// OptionKind says what value an option setter takes.
type OptionKind uint8

const (
	OptionFloat OptionKind = iota
	OptionInt
	OptionString
	OptionColor
)

// OptionSetter maps one option name to its setter extern and the
// default that lets a constant argument be elided.
type OptionSetter struct {
	Extern    string
	Kind      OptionKind
	DefaultF  float32
	DefaultI  int32
	DefaultS  string
	NoDefault bool // never elide
}

// TextureOptionSetters is the option name table for texture calls.
var TextureOptionSetters = map[string]OptionSetter{
	"blur":         {Extern: "osl_texture_set_blur", Kind: OptionFloat},
	"sblur":        {Extern: "osl_texture_set_sblur", Kind: OptionFloat},
	"tblur":        {Extern: "osl_texture_set_tblur", Kind: OptionFloat},
	"width":        {Extern: "osl_texture_set_width", Kind: OptionFloat, DefaultF: 1},
	"swidth":       {Extern: "osl_texture_set_swidth", Kind: OptionFloat, DefaultF: 1},
	"twidth":       {Extern: "osl_texture_set_twidth", Kind: OptionFloat, DefaultF: 1},
	"wrap":         {Extern: "osl_texture_set_wrap", Kind: OptionString, DefaultS: "default"},
	"swrap":        {Extern: "osl_texture_set_swrap", Kind: OptionString, DefaultS: "default"},
	"twrap":        {Extern: "osl_texture_set_twrap", Kind: OptionString, DefaultS: "default"},
	"fill":         {Extern: "osl_texture_set_fill", Kind: OptionFloat},
	"firstchannel": {Extern: "osl_texture_set_firstchannel", Kind: OptionInt},
	"subimage":     {Extern: "osl_texture_set_subimage", Kind: OptionInt},
	"subimagename": {Extern: "osl_texture_set_subimagename", Kind: OptionString},
	"interp":       {Extern: "osl_texture_set_interp", Kind: OptionString, DefaultS: "smartbicubic"},
	"missingcolor": {Extern: "osl_texture_set_missingcolor", Kind: OptionColor, NoDefault: true},
	"missingalpha": {Extern: "osl_texture_set_missingalpha", Kind: OptionFloat, NoDefault: true},
}

// TraceOptionSetters is the option name table for trace calls.
var TraceOptionSetters = map[string]OptionSetter{
	"mindist":  {Extern: "osl_trace_set_mindist", Kind: OptionFloat},
	"maxdist":  {Extern: "osl_trace_set_maxdist", Kind: OptionFloat, NoDefault: true},
	"shade":    {Extern: "osl_trace_set_shade", Kind: OptionInt},
	"traceset": {Extern: "osl_trace_set_traceset", Kind: OptionString},
}

// NoiseOptionSetters is the option name table for gabor noise calls.
var NoiseOptionSetters = map[string]OptionSetter{
	"anisotropic": {Extern: "osl_noise_set_anisotropic", Kind: OptionInt},
	"do_filter":   {Extern: "osl_noise_set_dofilter", Kind: OptionInt, DefaultI: 1},
	"direction":   {Extern: "osl_noise_set_direction", Kind: OptionColor, NoDefault: true},
	"bandwidth":   {Extern: "osl_noise_set_bandwidth", Kind: OptionFloat, DefaultF: 1},
	"impulses":    {Extern: "osl_noise_set_impulses", Kind: OptionFloat, DefaultF: 16},
}
