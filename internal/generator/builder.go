// Package generator turns one captured camera pose into a lane annotation
// record: it resolves the ego lane, samples nearby boundaries, projects
// them into the image, and assembles the record in the frame conventions
// the dataset consumer expects.
//
// Per tick the builder either skips (no road, or inside a junction) and
// returns an empty record, or runs sample, project, classify, deduplicate
// and emit. Every rejection is a filtering decision, never an error.
package generator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lanegen/internal/camera"
	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/lane"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/record"
	"github.com/banshee-data/lanegen/internal/roadgraph"
)

// SkipReason explains why a tick produced an empty record.
type SkipReason int

const (
	NotSkipped SkipReason = iota
	SkipNoRoad
	SkipJunction
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "none"
	case SkipNoRoad:
		return "no_road"
	case SkipJunction:
		return "junction"
	}
	return "unknown"
}

// Rejections counts candidate boundaries dropped at each filter.
type Rejections struct {
	NoMarking     int
	TooShort      int
	TooFewVisible int
	Duplicate     int
}

// Capture is the sensor state for one tick.
type Capture struct {
	// SensorPose is the NativeCamera World pose at capture time.
	SensorPose geom.Transform
	// Depth is the decoded depth image, or nil.
	Depth *depth.Map
}

// Result is the outcome of Process.
type Result struct {
	Frame record.Frame
	Skip  SkipReason
	// Waypoint is the ego lane waypoint; zero when Skip is SkipNoRoad.
	Waypoint   roadgraph.Waypoint
	Rejections Rejections
}

// Builder assembles lane records. Its matrices are read-only after
// construction, so a Builder may be shared by goroutines that each call
// Process.
type Builder struct {
	graph     roadgraph.Graph
	sampler   *lane.Sampler
	projector *camera.Projector
	oracle    depth.Oracle
	intrinsic *mat.Dense
	opts      Options

	cameraFromVehicle *mat.Dense // inverse of the mount transform
	vehicleFromGround *mat.Dense
	nativeFromStd     *mat.Dense
	exportFromStd     *mat.Dense
}

// NewBuilder creates a Builder over graph using the 3x3 intrinsic.
func NewBuilder(graph roadgraph.Graph, intrinsic mat.Matrix, opts Options) *Builder {
	return &Builder{
		graph:             graph,
		sampler:           lane.NewSampler(graph, opts.Sampling),
		projector:         camera.NewProjector(opts.Width, opts.Height, opts.MinDepth),
		oracle:            depth.NewOracle(opts.DepthTolerance),
		intrinsic:         mat.DenseCopyOf(intrinsic),
		opts:              opts,
		cameraFromVehicle: opts.Mount.InverseMatrix(),
		vehicleFromGround: geom.InvertRigid(geom.AxisSwapVehicleToGround()),
		nativeFromStd:     geom.InvertRigid(geom.AxisRemapNativeCameraToStandardCamera()),
		exportFromStd:     geom.StandardToExportCameraTransform(),
	}
}

// ProcessFrame is Process without a depth map, returning only the record.
func (b *Builder) ProcessFrame(sensorPose geom.Transform) record.Frame {
	return b.Process(Capture{SensorPose: sensorPose}).Frame
}

// Process builds the record for one capture.
func (b *Builder) Process(c Capture) Result {
	worldFromCamera := c.SensorPose.Matrix()
	worldFromVehicle := geom.Compose(worldFromCamera, b.cameraFromVehicle)

	wp, ok := b.graph.ProjectToRoad(geom.Translation(worldFromVehicle))
	if !ok {
		monitoring.Debugf("[generator] no road under vehicle at %+v", geom.Translation(worldFromVehicle))
		return Result{Frame: record.Empty(), Skip: SkipNoRoad}
	}
	if wp.IsJunction {
		monitoring.Debugf("[generator] road %d lane %d s=%.1f is a junction", wp.RoadID, wp.LaneID, wp.S)
		return Result{Frame: record.Empty(), Skip: SkipJunction, Waypoint: wp}
	}

	// Ground sits at road height under the vehicle, which removes
	// suspension bounce from the extrinsic.
	worldFromVehicle.Set(2, 3, wp.Transform.Location.Z)
	worldFromGround := geom.Compose(worldFromVehicle, b.vehicleFromGround)
	groundFromWorld := geom.InvertRigid(worldFromGround)

	cameraToGround := geom.Compose(groundFromWorld, worldFromCamera, b.nativeFromStd)
	exportFromGround := geom.Compose(b.exportFromStd, geom.InvertRigid(cameraToGround))

	res := Result{Waypoint: wp}
	var lines []record.LaneLine
	for _, cand := range b.candidates(wp) {
		marking := cand.wp.Marking(cand.side)
		if marking.Type == roadgraph.MarkingNone {
			res.Rejections.NoMarking++
			continue
		}

		boundary := b.sampler.Sample(cand.wp, cand.side, groundFromWorld)
		if len(boundary.Points) < b.opts.MinBoundaryPoints {
			res.Rejections.TooShort++
			continue
		}

		proj := b.projector.Project(boundary.Points, cameraToGround, b.intrinsic)
		if b.opts.DepthOcclusion && c.Depth != nil {
			b.occlude(proj, c.Depth)
		}
		if proj.VisibleCount() < b.opts.MinVisiblePoints {
			res.Rejections.TooFewVisible++
			continue
		}

		pts := geom.ApplyAll(exportFromGround, boundary.Points)
		lines = append(lines, record.NewLaneLine(pts, proj.U, proj.V, proj.Visible, Category(marking)))
	}

	unique, dups := Deduplicate(lines, b.opts.DedupThreshold)
	res.Rejections.Duplicate = dups

	extrinsic := cameraToGround
	if b.opts.ReexpressExtrinsic {
		extrinsic = geom.ReexpressExtrinsic(cameraToGround)
	}

	res.Frame = record.Frame{
		LaneLines:      unique,
		Intrinsic:      geom.Rows(b.intrinsic),
		Extrinsic:      geom.Rows(extrinsic),
		CameraToGround: cameraToGround,
	}
	if res.Frame.LaneLines == nil {
		res.Frame.LaneLines = []record.LaneLine{}
	}
	return res
}

// occlude hides geometrically visible points that the depth buffer shows
// are behind another surface.
func (b *Builder) occlude(proj camera.Projection, m *depth.Map) {
	for i, vis := range proj.Visible {
		if vis && !b.oracle.Visible(m, proj.U[i], proj.V[i], proj.Depth[i]) {
			proj.Hide(i)
		}
	}
}

type candidate struct {
	wp   roadgraph.Waypoint
	side roadgraph.Side
}

// candidates lists the ego lane's two boundaries, then the outer
// boundaries of up to two lanes on each side.
func (b *Builder) candidates(wp roadgraph.Waypoint) []candidate {
	out := []candidate{{wp, roadgraph.Left}, {wp, roadgraph.Right}}
	if l1, ok := b.graph.LeftLane(wp); ok {
		out = append(out, candidate{l1, roadgraph.Left})
		if l2, ok := b.graph.LeftLane(l1); ok {
			out = append(out, candidate{l2, roadgraph.Left})
		}
	}
	if r1, ok := b.graph.RightLane(wp); ok {
		out = append(out, candidate{r1, roadgraph.Right})
		if r2, ok := b.graph.RightLane(r1); ok {
			out = append(out, candidate{r2, roadgraph.Right})
		}
	}
	return out
}

// Deduplicate keeps the first of any lanes whose first ExportCamera
// lateral coordinate (row 1 of XYZ) lies within threshold of an already
// kept lane. It returns the kept lanes and the number dropped.
func Deduplicate(lines []record.LaneLine, threshold float64) ([]record.LaneLine, int) {
	var kept []record.LaneLine
	dropped := 0
	for _, l := range lines {
		if dupOf(kept, l, threshold) {
			dropped++
			continue
		}
		kept = append(kept, l)
	}
	return kept, dropped
}

func dupOf(kept []record.LaneLine, l record.LaneLine, threshold float64) bool {
	if l.Len() == 0 {
		return false
	}
	start := float64(l.XYZ[1][0])
	for _, k := range kept {
		if k.Len() > 0 && math.Abs(float64(k.XYZ[1][0])-start) < threshold {
			return true
		}
	}
	return false
}
