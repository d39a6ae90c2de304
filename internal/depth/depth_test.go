package depth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePixel(t *testing.T) {
	tests := []struct {
		name    string
		b, g, r byte
		want    float64
	}{
		{"zero", 0, 0, 0, 0},
		{"far plane", 255, 255, 255, 1000},
		{"red is finest", 0, 0, 1, 1000.0 / 16777215},
		{"green", 0, 1, 0, 256 * 1000.0 / 16777215},
		{"blue is coarsest", 1, 0, 0, 65536 * 1000.0 / 16777215},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, float64(DecodePixel(tt.b, tt.g, tt.r)), 1e-4)
		})
	}
}

func TestDecode(t *testing.T) {
	// 2x1 image: pixel 0 at the far plane, pixel 1 zero; alpha ignored.
	raw := []byte{255, 255, 255, 0, 0, 0, 0, 255}
	m, err := Decode(raw, 2, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1000, m.At(0, 0), 1e-3)
	assert.Equal(t, float32(0), m.At(1, 0))

	_, err = Decode(raw, 3, 1)
	assert.Error(t, err)
	_, err = Decode(nil, 0, 0)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewMap(3, 2, 0)
	depths := []float32{0, 0.5, 5, 42.125, 999.9, 1500}
	copy(m.Meters, depths)

	raw := Encode(m)
	require.Len(t, raw, 3*2*4)

	got, err := Decode(raw, 3, 2)
	require.NoError(t, err)
	for i, d := range depths {
		want := d
		if want > FarPlane {
			want = FarPlane
		}
		assert.InDelta(t, want, got.Meters[i], 1e-3, "pixel %d", i)
	}
	assert.Equal(t, byte(255), raw[3])
}

func TestOracle(t *testing.T) {
	m := NewMap(4, 3, 10)
	m.Set(2, 1, 5)
	o := NewOracle(0)
	require.Equal(t, DefaultTolerance, o.Tolerance)

	tests := []struct {
		name    string
		u, v, z float64
		want    bool
	}{
		{"in front of surface", 0.5, 0.5, 8, true},
		{"on surface", 0, 0, 10, true},
		{"within tolerance", 0, 0, 10.39, true},
		{"occluded", 2.7, 1.2, 6, false},
		{"truncates to pixel", 2.99, 1.99, 5.3, true},
		{"non-positive depth", 1, 1, 0, false},
		{"left of image", -1, 1, 3, false},
		{"right of image", 4, 1, 3, false},
		{"below image", 1, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.Visible(m, tt.u, tt.v, tt.z))
		})
	}

	vis := o.Visibility(m, []float64{0, 2}, []float64{0, 1}, []float64{9, 9})
	assert.Equal(t, []bool{true, false}, vis)
}
