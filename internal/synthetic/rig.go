// Package synthetic drives a simulated ego vehicle along a StraightRoad
// and publishes the camera, depth and segmentation images a real
// simulator would, so the collection loop can run without one.
package synthetic

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/camera"
	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/roadgraph"
	"github.com/banshee-data/lanegen/internal/sensorsync"
)

// ErrEndOfRoad is returned by Step once the vehicle leaves the road.
var ErrEndOfRoad = errors.New("vehicle reached the end of the road")

// Semantic classes written into the segmentation image's red channel.
const (
	ClassRoad  uint8 = 7
	ClassWall  uint8 = 11
	ClassSky   uint8 = 13
	wallHeight       = 3.0
)

// Config describes the drive.
type Config struct {
	Width, Height int
	FOV           float64 // horizontal, degrees
	Mount         geom.Transform

	Lane   int     // index into the road's lanes
	StartS float64 // metres along the road
	Speed  float64 // m/s
	Delta  float64 // seconds per tick

	// Bounce oscillates the vehicle body vertically with this amplitude
	// (metres) and period (ticks).
	BounceAmplitude float64
	BouncePeriod    int

	// WallAt places an occluding wall across the road this far along it.
	// Zero disables the wall.
	WallAt float64

	// DropEvery withholds the depth sample on every Nth tick.
	DropEvery int

	Weather string
}

// DefaultConfig is a 50 km/h drive at 20 Hz.
func DefaultConfig() Config {
	return Config{
		Width:        960,
		Height:       640,
		FOV:          51,
		Speed:        13.9,
		Delta:        0.05,
		BouncePeriod: 20,
		Weather:      "ClearNoon",
	}
}

// Rig owns the simulated vehicle.
type Rig struct {
	road      *roadgraph.StraightRoad
	cfg       Config
	intrinsic *mat.Dense
	syncer    *sensorsync.Syncer

	tick uint64
	s    float64
}

// NewRig places the vehicle at cfg.StartS on lane cfg.Lane.
func NewRig(road *roadgraph.StraightRoad, syncer *sensorsync.Syncer, cfg Config) (*Rig, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Lane < 0 || cfg.Lane >= len(road.Lanes) {
		return nil, fmt.Errorf("lane %d out of range [0, %d)", cfg.Lane, len(road.Lanes))
	}
	if cfg.Delta <= 0 {
		cfg.Delta = 0.05
	}
	return &Rig{
		road:      road,
		cfg:       cfg,
		intrinsic: camera.Intrinsic(cfg.Width, cfg.Height, cfg.FOV),
		syncer:    syncer,
		s:         cfg.StartS,
	}, nil
}

// Intrinsic is the camera matrix the images are rendered with.
func (r *Rig) Intrinsic() *mat.Dense { return mat.DenseCopyOf(r.intrinsic) }

// Tick is the last published tick.
func (r *Rig) Tick() uint64 { return r.tick }

// Speed is the vehicle speed in m/s.
func (r *Rig) Speed() float64 { return r.cfg.Speed }

// Weather names the simulated weather preset.
func (r *Rig) Weather() string { return r.cfg.Weather }

// VehiclePose is the vehicle's World pose at the current tick.
func (r *Rig) VehiclePose() geom.Transform {
	rot := geom.Rotation{Yaw: r.road.Heading}
	fwd, right := rot.ForwardVector(), rot.RightVector()
	lat := -r.totalWidth()/2 + r.laneCentre()
	loc := r3.Add(r.road.Origin, r3.Add(r3.Scale(r.s, fwd), r3.Scale(lat, right)))
	loc.Z = r.road.Elevation
	if r.cfg.BounceAmplitude != 0 && r.cfg.BouncePeriod > 0 {
		loc.Z += r.cfg.BounceAmplitude * math.Sin(2*math.Pi*float64(r.tick)/float64(r.cfg.BouncePeriod))
	}
	return geom.Transform{Location: loc, Rotation: rot}
}

// SensorPose is the camera's World pose at the current tick.
func (r *Rig) SensorPose() geom.Transform {
	return geom.TransformFromMatrix(geom.Compose(r.VehiclePose().Matrix(), r.cfg.Mount.Matrix()))
}

func (r *Rig) totalWidth() float64 {
	var w float64
	for _, l := range r.road.Lanes {
		w += l.Width
	}
	return w
}

func (r *Rig) laneCentre() float64 {
	var off float64
	for i := 0; i < r.cfg.Lane; i++ {
		off += r.road.Lanes[i].Width
	}
	return off + r.road.Lanes[r.cfg.Lane].Width/2
}

// Step advances one tick and publishes that tick's samples.
func (r *Rig) Step() (uint64, error) {
	next := r.s + r.cfg.Speed*r.cfg.Delta
	if next > r.road.Length {
		return r.tick, ErrEndOfRoad
	}
	r.s = next
	r.tick++

	pose := r.SensorPose()
	frame := r.render(pose)

	sample := func(raw []byte) sensorsync.Sample {
		return sensorsync.Sample{Tick: r.tick, Pose: pose, Width: r.cfg.Width, Height: r.cfg.Height, Raw: raw}
	}
	if err := r.syncer.RGB.Push(sample(frame.rgb)); err != nil {
		return r.tick, err
	}
	if r.cfg.DropEvery <= 0 || r.tick%uint64(r.cfg.DropEvery) != 0 {
		if err := r.syncer.Depth.Push(sample(depth.Encode(frame.depth))); err != nil {
			return r.tick, err
		}
	}
	if err := r.syncer.Segmentation.Push(sample(frame.segmentation)); err != nil {
		return r.tick, err
	}
	return r.tick, nil
}

type rendered struct {
	rgb          []byte
	depth        *depth.Map
	segmentation []byte
}

// render ray-casts every pixel against the road plane and the optional
// wall. Depth is camera-frame z, sampled at the pixel's top-left corner
// so a ground point never reads deeper than the pixel it truncates to.
func (r *Rig) render(pose geom.Transform) rendered {
	w, h := r.cfg.Width, r.cfg.Height
	out := rendered{
		rgb:          make([]byte, w*h*4),
		depth:        depth.NewMap(w, h, depth.FarPlane),
		segmentation: make([]byte, w*h*4),
	}

	camToWorld := geom.Compose(pose.Matrix(), geom.InvertRigid(geom.AxisRemapNativeCameraToStandardCamera()))
	rot := geom.Rotation3(camToWorld)
	c := geom.Translation(camToWorld)
	f, cx, cy := r.intrinsic.At(0, 0), r.intrinsic.At(0, 2), r.intrinsic.At(1, 2)

	roadRot := geom.Rotation{Yaw: r.road.Heading}
	fwd := roadRot.ForwardVector()
	camS := r3.Dot(r3.Sub(c, r.road.Origin), fwd)

	col := make([]r3.Vec, w)
	for u := 0; u < w; u++ {
		col[u] = r3.Vec{X: (float64(u) - cx) / f, Z: 1}
	}

	for v := 0; v < h; v++ {
		y := (float64(v) - cy) / f
		for u := 0; u < w; u++ {
			d := col[u]
			d.Y = y
			dw := r3.Vec{
				X: rot.At(0, 0)*d.X + rot.At(0, 1)*d.Y + rot.At(0, 2)*d.Z,
				Y: rot.At(1, 0)*d.X + rot.At(1, 1)*d.Y + rot.At(1, 2)*d.Z,
				Z: rot.At(2, 0)*d.X + rot.At(2, 1)*d.Y + rot.At(2, 2)*d.Z,
			}

			t, class := math.Inf(1), ClassSky
			if dw.Z < 0 {
				if tg := (r.road.Elevation - c.Z) / dw.Z; tg > 0 {
					t, class = tg, ClassRoad
				}
			}
			if r.cfg.WallAt > 0 {
				if df := r3.Dot(dw, fwd); df > 0 {
					tw := (r.cfg.WallAt - camS) / df
					hz := c.Z + tw*dw.Z
					if tw > 0 && tw < t && hz >= r.road.Elevation && hz <= r.road.Elevation+wallHeight {
						t, class = tw, ClassWall
					}
				}
			}

			i := v*w + u
			if !math.IsInf(t, 1) && t < depth.FarPlane {
				out.depth.Meters[i] = float32(t)
			}
			paint(out.rgb[i*4:i*4+4], class)
			px := out.segmentation[i*4 : i*4+4]
			px[2], px[3] = class, 255
		}
	}
	return out
}

// paint writes a flat BGRA colour per class.
func paint(px []byte, class uint8) {
	switch class {
	case ClassRoad:
		px[0], px[1], px[2] = 90, 90, 90
	case ClassWall:
		px[0], px[1], px[2] = 60, 60, 180
	default:
		px[0], px[1], px[2] = 235, 206, 135
	}
	px[3] = 255
}
