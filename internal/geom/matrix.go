package geom

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity returns a fresh 4x4 identity matrix.
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Compose multiplies the matrices left to right: Compose(A, B, C) = A·B·C.
func Compose(ms ...mat.Matrix) *mat.Dense {
	if len(ms) == 0 {
		return Identity()
	}
	out := mat.DenseCopyOf(ms[0])
	for _, m := range ms[1:] {
		var next mat.Dense
		next.Mul(out, m)
		out = &next
	}
	return out
}

// InvertRigid inverts a homogeneous transform whose upper-left 3x3 block
// is orthonormal (rotation or axis permutation, reflections included):
// [R t; 0 1]^-1 = [Rᵀ -Rᵀt; 0 1]. The result is exact for permutation
// matrices, which a general LU inverse does not guarantee.
func InvertRigid(m mat.Matrix) *mat.Dense {
	inv := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		var t float64
		for j := 0; j < 3; j++ {
			inv.Set(i, j, m.At(j, i))
			t -= m.At(j, i) * m.At(j, 3)
		}
		inv.Set(i, 3, t)
	}
	inv.Set(3, 3, 1)
	return inv
}

// Apply transforms a single point by the homogeneous matrix m.
func Apply(m mat.Matrix, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// ApplyAll transforms every point by m, returning a new slice.
func ApplyAll(m mat.Matrix, pts []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(pts))
	for i, p := range pts {
		out[i] = Apply(m, p)
	}
	return out
}

// Translation returns the translation column of a homogeneous transform.
func Translation(m mat.Matrix) r3.Vec {
	return r3.Vec{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}

// Rotation3 copies the upper-left 3x3 block of m.
func Rotation3(m mat.Matrix) *mat.Dense {
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, m.At(i, j))
		}
	}
	return r
}

// Rows returns m as a row-major slice of slices, the layout persisted in
// output records.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}
