package camera

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/testutil"
)

// levelCamera is a StandardCamera->Ground extrinsic for a camera at
// height h looking straight down the Ground y axis.
func levelCamera(h float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, -1, 0, h,
		0, 0, 0, 1,
	})
}

func TestIntrinsic(t *testing.T) {
	k := Intrinsic(1920, 1280, 90)
	want := mat.NewDense(3, 3, []float64{
		960, 0, 960,
		0, 960, 640,
		0, 0, 1,
	})
	testutil.AssertMatrixApprox(t, k, want, 1e-9)

	k = Intrinsic(1920, 1280, 51)
	f := 1920 / (2 * math.Tan(51*math.Pi/360))
	if math.Abs(k.At(0, 0)-f) > 1e-9 || k.At(0, 0) != k.At(1, 1) {
		t.Errorf("focal = %v/%v, want %v", k.At(0, 0), k.At(1, 1), f)
	}
}

func TestProject_OpticalAxis(t *testing.T) {
	pr := NewProjector(1920, 1280, 0)
	k := Intrinsic(1920, 1280, 90)
	e := levelCamera(1.5)

	got := pr.Project([]r3.Vec{{X: 0, Y: 5, Z: 1.5}}, e, k)
	if !got.Visible[0] {
		t.Fatal("point on the optical axis should be visible")
	}
	if math.Abs(got.U[0]-960) > 1e-9 || math.Abs(got.V[0]-640) > 1e-9 {
		t.Errorf("uv = (%v, %v), want principal point", got.U[0], got.V[0])
	}
	if math.Abs(got.Depth[0]-5) > 1e-12 {
		t.Errorf("depth = %v, want 5", got.Depth[0])
	}
}

func TestProject_RoundTripThroughExportFrame(t *testing.T) {
	pr := NewProjector(1920, 1280, 0)
	k := Intrinsic(1920, 1280, 51)
	e := levelCamera(1.55)

	ground := r3.Vec{X: 0, Y: 5, Z: 1.55}
	proj := pr.Project([]r3.Vec{ground}, e, k)
	if proj.VisibleCount() != 1 {
		t.Fatal("round-trip point should be visible")
	}

	toExport := geom.Compose(geom.StandardToExportCameraTransform(), geom.InvertRigid(e))
	export := geom.Apply(toExport, ground)
	testutil.AssertVecApprox(t, export, r3.Vec{X: 5}, 1e-12)

	back := geom.ExportToGround(e, []r3.Vec{export})[0]
	testutil.AssertVecApprox(t, back, ground, 1e-6)
}

func TestProject_Sentinels(t *testing.T) {
	pr := NewProjector(1920, 1280, 0.1)
	k := Intrinsic(1920, 1280, 90)
	e := levelCamera(1.5)

	tests := []struct {
		name string
		pt   r3.Vec
	}{
		{"behind camera", r3.Vec{Y: -5, Z: 1.5}},
		{"on the image plane", r3.Vec{Y: 0, Z: 1.5}},
		{"inside min depth", r3.Vec{Y: 0.05, Z: 1.5}},
		{"right of frame", r3.Vec{X: 100, Y: 5, Z: 1.5}},
		{"above frame", r3.Vec{Y: 5, Z: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pr.Project([]r3.Vec{tt.pt}, e, k)
			if got.Visible[0] {
				t.Fatal("expected invisible")
			}
			if got.U[0] != -1 || got.V[0] != -1 {
				t.Errorf("uv = (%v, %v), want (-1, -1)", got.U[0], got.V[0])
			}
		})
	}
}

func TestProject_VisibleImpliesInBounds(t *testing.T) {
	const w, h = 640, 480
	pr := NewProjector(w, h, 0)
	k := Intrinsic(w, h, 70)
	// Camera mounted on a vehicle that sits at the Ground origin.
	cam := geom.Transform{Location: r3.Vec{X: 1.6, Z: 1.55}, Rotation: geom.Rotation{Pitch: -3}}
	e := geom.Compose(geom.AxisSwapVehicleToGround(), cam.Matrix(),
		geom.InvertRigid(geom.AxisRemapNativeCameraToStandardCamera()))

	rng := rand.New(rand.NewSource(1))
	pts := make([]r3.Vec, 2000)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64()*80 - 40, Y: rng.Float64()*140 - 30, Z: rng.Float64()*4 - 1}
	}
	got := pr.Project(pts, e, k)
	if got.Len() != len(pts) {
		t.Fatalf("Len = %d", got.Len())
	}
	if got.VisibleCount() == 0 || got.VisibleCount() == len(pts) {
		t.Fatalf("degenerate visibility split: %d/%d", got.VisibleCount(), len(pts))
	}
	for i := range pts {
		if got.Visible[i] {
			if got.U[i] < 0 || got.U[i] >= w || got.V[i] < 0 || got.V[i] >= h {
				t.Errorf("visible point %d out of bounds: (%v, %v)", i, got.U[i], got.V[i])
			}
		} else if got.U[i] != -1 || got.V[i] != -1 {
			t.Errorf("invisible point %d has uv (%v, %v)", i, got.U[i], got.V[i])
		}
	}
}

func TestProject_EmptyAndHide(t *testing.T) {
	pr := NewProjector(10, 10, 0)
	got := pr.Project(nil, levelCamera(1), Intrinsic(10, 10, 90))
	if got.Len() != 0 || got.VisibleCount() != 0 {
		t.Fatal("expected empty projection")
	}

	got = pr.Project([]r3.Vec{{Y: 5, Z: 1}}, levelCamera(1), Intrinsic(10, 10, 90))
	if got.VisibleCount() != 1 {
		t.Fatal("expected one visible point")
	}
	got.Hide(0)
	if got.VisibleCount() != 0 || got.U[0] != Sentinel || got.V[0] != Sentinel {
		t.Errorf("Hide did not apply the sentinel: %+v", got)
	}
}

func TestReproject_AgreesWithProjectAndKeepsOffscreenPoints(t *testing.T) {
	pr := NewProjector(1920, 1280, 0)
	k := Intrinsic(1920, 1280, 90)
	e := levelCamera(1.5)
	pts := []r3.Vec{{X: -1.75, Y: 10}, {X: 40, Y: 5}, {Y: -3}, {Y: 0, Z: 1.5}}

	proj := pr.Project(pts, e, k)
	u, v, z := Reproject(pts, e, k)

	if !proj.Visible[0] || math.Abs(u[0]-proj.U[0]) > 1e-9 || math.Abs(v[0]-proj.V[0]) > 1e-9 {
		t.Errorf("visible point: Reproject (%v, %v), Project (%v, %v)", u[0], v[0], proj.U[0], proj.V[0])
	}
	// Off to the side: Project hides it, Reproject still reports the pixel.
	if proj.Visible[1] || u[1] < 1920 {
		t.Errorf("side point: visible=%v u=%v", proj.Visible[1], u[1])
	}
	if z[2] >= 0 {
		t.Errorf("point behind the camera has depth %v", z[2])
	}
	// Zero depth divides by 1e-9 rather than producing Inf.
	if z[3] != 0 || math.IsInf(u[3], 0) || math.IsNaN(u[3]) {
		t.Errorf("zero-depth point: z=%v u=%v", z[3], u[3])
	}
}
