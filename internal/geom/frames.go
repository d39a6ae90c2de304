package geom

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// AxisSwapVehicleToGround maps Vehicle (X forward, Y right, Z up) onto
// Ground (x right, y forward, z up): x = Y, y = X, z = Z.
func AxisSwapVehicleToGround() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, 1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// AxisRemapNativeCameraToStandardCamera maps the simulator camera frame
// (X forward, Y right, Z up) onto the pinhole frame (x right, y down,
// z forward): x = Y, y = -Z, z = X.
func AxisRemapNativeCameraToStandardCamera() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, 1, 0, 0,
		0, 0, -1, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	})
}

// StandardToExportCameraTransform maps StandardCamera (x right, y down,
// z forward) onto ExportCamera (x forward, y left, z up). It must match
// the downstream preprocessing matrix exactly.
func StandardToExportCameraTransform() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		0, 0, 1, 0,
		-1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 0, 1,
	})
}

// ExportToStandardCameraTransform is the inverse of
// StandardToExportCameraTransform.
func ExportToStandardCameraTransform() *mat.Dense {
	return InvertRigid(StandardToExportCameraTransform())
}

// DownstreamVehicleToGround is the fixed 3x3 rotation R_vg the downstream
// preprocessing applies to stored extrinsic rotations.
func DownstreamVehicleToGround() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
}

// DownstreamGroundToCamera is the fixed 3x3 rotation R_gc the downstream
// preprocessing applies to stored extrinsic rotations.
func DownstreamGroundToCamera() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, 1,
		0, -1, 0,
	})
}

// ConsumerRotation reproduces the downstream preprocessing step:
//
//	final = R_vgᵀ · stored · R_vg · R_gc
func ConsumerRotation(stored mat.Matrix) *mat.Dense {
	rvg := DownstreamVehicleToGround()
	return Compose(rvg.T(), stored, rvg, DownstreamGroundToCamera())
}

// ReexpressExtrinsic is the compatibility shim for the downstream
// preprocessing convention. Given the StandardCamera->Ground extrinsic this
// pipeline computed, it returns the matrix to persist so that
// ConsumerRotation(stored) recovers the computed rotation:
//
//	stored = R_vg · target · R_gcᵀ · R_vgᵀ
//
// The translation column is copied unchanged; the consumer reads it
// verbatim as the camera position in Ground. Replace this function if the
// consumer's ingestion convention changes.
func ReexpressExtrinsic(cameraToGround mat.Matrix) *mat.Dense {
	rvg := DownstreamVehicleToGround()
	rgc := DownstreamGroundToCamera()
	stored := Compose(rvg, Rotation3(cameraToGround), rgc.T(), rvg.T())

	out := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, stored.At(i, j))
		}
		out.Set(i, 3, cameraToGround.At(i, 3))
	}
	return out
}

// RecoverExtrinsic undoes ReexpressExtrinsic: it reads a persisted
// extrinsic the way the downstream consumer does and returns the
// StandardCamera->Ground transform the pipeline computed.
func RecoverExtrinsic(stored mat.Matrix) *mat.Dense {
	rot := ConsumerRotation(Rotation3(stored))
	out := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rot.At(i, j))
		}
		out.Set(i, 3, stored.At(i, 3))
	}
	return out
}

// ExportToGround recovers Ground points from ExportCamera points the way a
// consumer does: ground = E · T_export->standard · p.
func ExportToGround(cameraToGround mat.Matrix, pts []r3.Vec) []r3.Vec {
	return ApplyAll(Compose(cameraToGround, ExportToStandardCameraTransform()), pts)
}
