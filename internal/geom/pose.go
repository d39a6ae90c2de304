// Package geom holds the coordinate-frame algebra used to turn simulator
// road geometry into camera-relative lane annotations.
//
// Frames used throughout the module:
//
//	World           simulator global frame (left-handed, opaque)
//	Vehicle         X forward, Y right, Z up
//	Ground          x right, y forward, z up; origin at road height under the vehicle
//	NativeCamera    X forward, Y right, Z up (simulator camera)
//	StandardCamera  x right, y down, z forward (pinhole)
//	ExportCamera    x forward, y left, z up (persisted point arrays)
//
// All matrices are 4x4 homogeneous, row-major, and map points from the
// frame named second to the frame named first (T_dst_src).
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rotation is a simulator rotation in degrees.
type Rotation struct {
	Pitch float64
	Yaw   float64
	Roll  float64
}

// Transform is a simulator pose: a location plus a rotation. Its matrix
// maps points from the posed object's local frame into the parent frame.
type Transform struct {
	Location r3.Vec
	Rotation Rotation
}

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

// rotationTerms returns cos/sin of pitch, yaw and roll.
func (r Rotation) rotationTerms() (cp, sp, cy, sy, cr, sr float64) {
	p, y, ro := deg2rad(r.Pitch), deg2rad(r.Yaw), deg2rad(r.Roll)
	return math.Cos(p), math.Sin(p), math.Cos(y), math.Sin(y), math.Cos(ro), math.Sin(ro)
}

// ForwardVector is the local X axis expressed in the parent frame.
func (r Rotation) ForwardVector() r3.Vec {
	cp, sp, cy, sy, _, _ := r.rotationTerms()
	return r3.Vec{X: cp * cy, Y: cp * sy, Z: sp}
}

// RightVector is the local Y axis expressed in the parent frame.
func (r Rotation) RightVector() r3.Vec {
	cp, sp, cy, sy, cr, sr := r.rotationTerms()
	return r3.Vec{
		X: cy*sp*sr - sy*cr,
		Y: sy*sp*sr + cy*cr,
		Z: -cp * sr,
	}
}

// UpVector is the local Z axis expressed in the parent frame.
func (r Rotation) UpVector() r3.Vec {
	cp, sp, cy, sy, cr, sr := r.rotationTerms()
	return r3.Vec{
		X: -cy*sp*cr - sy*sr,
		Y: -sy*sp*cr + cy*sr,
		Z: cp * cr,
	}
}

// Matrix returns the local->parent 4x4 transform using the simulator's
// yaw-pitch-roll composition.
func (t Transform) Matrix() *mat.Dense {
	f := t.Rotation.ForwardVector()
	r := t.Rotation.RightVector()
	u := t.Rotation.UpVector()
	l := t.Location
	return mat.NewDense(4, 4, []float64{
		f.X, r.X, u.X, l.X,
		f.Y, r.Y, u.Y, l.Y,
		f.Z, r.Z, u.Z, l.Z,
		0, 0, 0, 1,
	})
}

// InverseMatrix returns the parent->local 4x4 transform.
func (t Transform) InverseMatrix() *mat.Dense {
	return InvertRigid(t.Matrix())
}

// TransformFromMatrix recovers a Transform from a proper rigid 4x4
// matrix built with the simulator convention. Near gimbal lock
// (|pitch| = 90°) roll is folded into yaw.
func TransformFromMatrix(m mat.Matrix) Transform {
	sp := clamp(m.At(2, 0), -1, 1)
	pitch := math.Asin(sp)

	var yaw, roll float64
	if math.Abs(sp) < 1-1e-12 {
		yaw = math.Atan2(m.At(1, 0), m.At(0, 0))
		roll = math.Atan2(-m.At(2, 1), m.At(2, 2))
	} else {
		yaw = math.Atan2(-m.At(0, 1), m.At(1, 1))
	}

	return Transform{
		Location: Translation(m),
		Rotation: Rotation{Pitch: rad2deg(pitch), Yaw: rad2deg(yaw), Roll: rad2deg(roll)},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
