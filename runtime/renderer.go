package runtime

// RendererServices is what the host renderer provides to running
// shaders. Every method has a conservative default in NullRenderer, so
// embedding it lets a renderer implement only what it supports.
type RendererServices interface {
	// Texture samples a texture at (s, t) honoring opts, writing
	// nchannels results. ok is false when the texture is missing and no
	// fill was applied.
	Texture(filename string, opts *TextureOptions, s, t float32, nchannels int) (result []float32, ok bool)

	// Trace probes the scene from pos along dir and reports whether
	// anything was hit.
	Trace(opts *TraceOptions, pos, dir [3]float32) bool

	// GetAttribute fetches a named attribute of an object ("" means the
	// current object) as floats.
	GetAttribute(object, name string) ([]float32, bool)

	// UserData fetches interpolated per-geometry data for a parameter.
	UserData(name string) ([]float32, bool)

	// RayTypeBit maps a ray type name to its bit, 0 when unknown.
	RayTypeBit(name string) int32
}

// NullRenderer provides every service as a miss.
type NullRenderer struct{}

func (NullRenderer) Texture(string, *TextureOptions, float32, float32, int) ([]float32, bool) {
	return nil, false
}

func (NullRenderer) Trace(*TraceOptions, [3]float32, [3]float32) bool { return false }

func (NullRenderer) GetAttribute(string, string) ([]float32, bool) { return nil, false }

func (NullRenderer) UserData(string) ([]float32, bool) { return nil, false }

// Standard ray type names get stable bits so groups can constant-fold
// raytype queries; unknown names get 0.
func (NullRenderer) RayTypeBit(name string) int32 {
	return StandardRayTypeBit(name)
}

// StandardRayTypeBit maps the conventional ray type names to bits.
func StandardRayTypeBit(name string) int32 {
	switch name {
	case "camera":
		return 1 << 0
	case "shadow":
		return 1 << 1
	case "reflection":
		return 1 << 2
	case "refraction":
		return 1 << 3
	case "diffuse":
		return 1 << 4
	case "glossy":
		return 1 << 5
	case "subsurface":
		return 1 << 6
	case "displacement":
		return 1 << 7
	}
	return 0
}
