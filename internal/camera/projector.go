// Package camera builds pinhole intrinsics and projects Ground-frame
// points into the image with geometric visibility tests.
package camera

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/geom"
)

// DefaultMinDepth is the camera-frame depth a point must exceed to count
// as in front of the camera.
const DefaultMinDepth = 0.1

// Sentinel is the pixel coordinate written for points that are not
// visible. Consumers branch on this exact value.
const Sentinel = -1.0

// Intrinsic returns the 3x3 pinhole matrix for an image of width x height
// pixels with the given horizontal field of view in degrees. The focal
// length is shared by both axes and the principal point is the image
// centre.
func Intrinsic(width, height int, fovDegrees float64) *mat.Dense {
	f := float64(width) / (2.0 * math.Tan(fovDegrees*math.Pi/360.0))
	return mat.NewDense(3, 3, []float64{
		f, 0, float64(width) / 2.0,
		0, f, float64(height) / 2.0,
		0, 0, 1,
	})
}

// Projection is the per-point result of Project. Invisible points carry
// U = V = Sentinel.
type Projection struct {
	U       []float64
	V       []float64
	Depth   []float64 // camera-frame depth before the visibility mask
	Visible []bool
}

// Len is the number of projected points.
func (p Projection) Len() int { return len(p.Visible) }

// VisibleCount returns how many points passed every visibility test.
func (p Projection) VisibleCount() int {
	n := 0
	for _, v := range p.Visible {
		if v {
			n++
		}
	}
	return n
}

// Hide marks point i invisible and writes the sentinel pixel.
func (p Projection) Hide(i int) {
	p.U[i], p.V[i] = Sentinel, Sentinel
	p.Visible[i] = false
}

// Projector maps Ground points to pixels for a fixed image size.
type Projector struct {
	Width    int
	Height   int
	MinDepth float64
}

// NewProjector returns a Projector for a width x height image. A
// non-positive minDepth selects DefaultMinDepth.
func NewProjector(width, height int, minDepth float64) *Projector {
	if minDepth <= 0 {
		minDepth = DefaultMinDepth
	}
	return &Projector{Width: width, Height: height, MinDepth: minDepth}
}

// Project maps Ground points through P = K · inverse(E)[0:3,:], where E is
// the StandardCamera->Ground extrinsic. A point is visible iff its depth
// exceeds MinDepth and its pixel lies in [0,Width) x [0,Height).
func (pr *Projector) Project(points []r3.Vec, cameraToGround, intrinsic mat.Matrix) Projection {
	n := len(points)
	out := Projection{
		U:       make([]float64, n),
		V:       make([]float64, n),
		Depth:   make([]float64, n),
		Visible: make([]bool, n),
	}
	if n == 0 {
		return out
	}

	p := projectionMatrix(cameraToGround, intrinsic)

	w, h := float64(pr.Width), float64(pr.Height)
	for i, pt := range points {
		x := p.At(0, 0)*pt.X + p.At(0, 1)*pt.Y + p.At(0, 2)*pt.Z + p.At(0, 3)
		y := p.At(1, 0)*pt.X + p.At(1, 1)*pt.Y + p.At(1, 2)*pt.Z + p.At(1, 3)
		z := p.At(2, 0)*pt.X + p.At(2, 1)*pt.Y + p.At(2, 2)*pt.Z + p.At(2, 3)
		out.Depth[i] = z

		front := z > pr.MinDepth
		zs := z
		if !front {
			zs = 1.0
		}
		u, v := x/zs, y/zs

		if front && u >= 0 && u < w && v >= 0 && v < h {
			out.U[i], out.V[i] = u, v
			out.Visible[i] = true
			continue
		}
		out.U[i], out.V[i] = Sentinel, Sentinel
	}
	return out
}

// projectionMatrix is the 3x4 P = K · inverse(E)[0:3,:].
func projectionMatrix(cameraToGround, intrinsic mat.Matrix) *mat.Dense {
	groundToCamera := geom.InvertRigid(cameraToGround)
	var p mat.Dense
	p.Mul(intrinsic, groundToCamera.Slice(0, 3, 0, 4))
	return &p
}

// Reproject maps Ground points through the same P as Project but applies
// no visibility test. A zero depth is replaced by 1e-9 before dividing.
// It is the check a consumer runs against persisted pixels.
func Reproject(points []r3.Vec, cameraToGround, intrinsic mat.Matrix) (u, v, z []float64) {
	p := projectionMatrix(cameraToGround, intrinsic)
	u, v, z = make([]float64, len(points)), make([]float64, len(points)), make([]float64, len(points))
	for i, pt := range points {
		x := p.At(0, 0)*pt.X + p.At(0, 1)*pt.Y + p.At(0, 2)*pt.Z + p.At(0, 3)
		y := p.At(1, 0)*pt.X + p.At(1, 1)*pt.Y + p.At(1, 2)*pt.Z + p.At(1, 3)
		d := p.At(2, 0)*pt.X + p.At(2, 1)*pt.Y + p.At(2, 2)*pt.Z + p.At(2, 3)
		z[i] = d
		if d == 0 {
			d = 1e-9
		}
		u[i], v[i] = x/d, y/d
	}
	return u, v, z
}
