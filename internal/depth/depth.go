// Package depth decodes simulator depth buffers and runs a per-point
// z-buffer occlusion test against them.
package depth

import (
	"fmt"
	"math"
)

// FarPlane is the depth in metres encoded by the all-ones 24-bit value.
const FarPlane = 1000.0

// DefaultTolerance absorbs buffer quantization so a surface is not
// occluded by its own encoding error.
const DefaultTolerance = 0.4

const maxEncoded = 256*256*256 - 1

// Map is a decoded depth image in metres, row-major.
type Map struct {
	Width  int
	Height int
	Meters []float32
}

// NewMap allocates a width x height map filled with fill metres.
func NewMap(width, height int, fill float32) *Map {
	m := &Map{Width: width, Height: height, Meters: make([]float32, width*height)}
	for i := range m.Meters {
		m.Meters[i] = fill
	}
	return m
}

// At returns the depth at pixel (u, v). The caller checks bounds.
func (m *Map) At(u, v int) float32 {
	return m.Meters[v*m.Width+u]
}

// Set writes the depth at pixel (u, v).
func (m *Map) Set(u, v int, meters float32) {
	m.Meters[v*m.Width+u] = meters
}

// InBounds reports whether (u, v) is a pixel of the map.
func (m *Map) InBounds(u, v int) bool {
	return u >= 0 && u < m.Width && v >= 0 && v < m.Height
}

// DecodePixel converts one BGRA pixel to metres. R carries the finest
// precision and B the coarsest:
//
//	(R + G·256 + B·256²) / (256³ - 1) · 1000
func DecodePixel(b, g, r byte) float32 {
	n := float64(r) + float64(g)*256 + float64(b)*256*256
	return float32(n / maxEncoded * FarPlane)
}

// Decode converts a raw BGRA depth buffer of width x height pixels.
func Decode(raw []byte, width, height int) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid depth image size %dx%d", width, height)
	}
	if want := width * height * 4; len(raw) != want {
		return nil, fmt.Errorf("depth buffer is %d bytes, want %d for %dx%d BGRA", len(raw), want, width, height)
	}
	m := &Map{Width: width, Height: height, Meters: make([]float32, width*height)}
	for i := range m.Meters {
		px := raw[i*4 : i*4+4]
		m.Meters[i] = DecodePixel(px[0], px[1], px[2])
	}
	return m, nil
}

// Encode is the inverse of Decode, producing an opaque BGRA buffer.
// Depths are clamped to [0, FarPlane].
func Encode(m *Map) []byte {
	raw := make([]byte, len(m.Meters)*4)
	for i, d := range m.Meters {
		n := math.Round(float64(d) / FarPlane * maxEncoded)
		n = math.Max(0, math.Min(maxEncoded, n))
		v := uint32(n)
		raw[i*4+0] = byte(v >> 16)
		raw[i*4+1] = byte(v >> 8)
		raw[i*4+2] = byte(v)
		raw[i*4+3] = 255
	}
	return raw
}

// Oracle is the z-buffer visibility test.
type Oracle struct {
	Tolerance float64
}

// NewOracle returns an Oracle; a non-positive tolerance selects
// DefaultTolerance.
func NewOracle(tolerance float64) Oracle {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return Oracle{Tolerance: tolerance}
}

// Visible reports whether a point at pixel (u, v) with geometric depth z
// is unoccluded: the truncated pixel is in bounds, z > 0, and z does not
// exceed the buffer depth by more than the tolerance.
func (o Oracle) Visible(m *Map, u, v, z float64) bool {
	ui, vi := int(u), int(v)
	if !m.InBounds(ui, vi) || z <= 0 {
		return false
	}
	return z <= float64(m.At(ui, vi))+o.Tolerance
}

// Visibility applies Visible to each point.
func (o Oracle) Visibility(m *Map, us, vs, zs []float64) []bool {
	out := make([]bool, len(us))
	for i := range us {
		out[i] = o.Visible(m, us[i], vs[i], zs[i])
	}
	return out
}
