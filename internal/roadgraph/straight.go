package roadgraph

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/geom"
)

// LaneSpec is one lane of a StraightRoad.
type LaneSpec struct {
	Width float64
	Left  LaneMarking
	Right LaneMarking
}

// StraightRoad is a finite straight multi-lane road. Lanes are listed
// left to right (relative to Heading) and centred as a group on the
// reference line that starts at Origin. Waypoint lane IDs are 1-based
// positions in Lanes.
type StraightRoad struct {
	RoadID    int
	Origin    r3.Vec
	Heading   float64 // yaw in degrees
	Length    float64
	Elevation float64
	Lanes     []LaneSpec
	// Junctions lists [start, end] ranges of S flagged as junction area.
	Junctions [][2]float64
}

var _ Graph = (*StraightRoad)(nil)

func (r *StraightRoad) rotation() geom.Rotation {
	return geom.Rotation{Yaw: r.Heading}
}

func (r *StraightRoad) totalWidth() float64 {
	var w float64
	for _, l := range r.Lanes {
		w += l.Width
	}
	return w
}

// laneOffset is the lateral offset (right positive) of lane i's centre.
func (r *StraightRoad) laneOffset(i int) float64 {
	off := -r.totalWidth() / 2
	for j := 0; j < i; j++ {
		off += r.Lanes[j].Width
	}
	return off + r.Lanes[i].Width/2
}

func (r *StraightRoad) inJunction(s float64) bool {
	for _, j := range r.Junctions {
		if s >= j[0] && s <= j[1] {
			return true
		}
	}
	return false
}

func (r *StraightRoad) waypoint(lane int, s float64) Waypoint {
	rot := r.rotation()
	fwd := rot.ForwardVector()
	right := rot.RightVector()
	loc := r3.Add(r.Origin, r3.Add(r3.Scale(s, fwd), r3.Scale(r.laneOffset(lane), right)))
	loc.Z = r.Elevation

	spec := r.Lanes[lane]
	return Waypoint{
		RoadID:       r.RoadID,
		LaneID:       lane + 1,
		S:            s,
		Transform:    geom.Transform{Location: loc, Rotation: rot},
		LaneWidth:    spec.Width,
		IsJunction:   r.inJunction(s),
		LeftMarking:  spec.Left,
		RightMarking: spec.Right,
	}
}

func (r *StraightRoad) laneIndex(wp Waypoint) (int, bool) {
	i := wp.LaneID - 1
	if wp.RoadID != r.RoadID || i < 0 || i >= len(r.Lanes) {
		return 0, false
	}
	return i, true
}

// ProjectToRoad implements Graph.
func (r *StraightRoad) ProjectToRoad(p r3.Vec) (Waypoint, bool) {
	rot := r.rotation()
	d := r3.Sub(p, r.Origin)
	d.Z = 0
	s := r3.Dot(d, rot.ForwardVector())
	lat := r3.Dot(d, rot.RightVector())
	if s < 0 || s > r.Length {
		return Waypoint{}, false
	}

	edge := -r.totalWidth() / 2
	for i, l := range r.Lanes {
		if lat >= edge && lat < edge+l.Width {
			return r.waypoint(i, s), true
		}
		edge += l.Width
	}
	return Waypoint{}, false
}

// Next implements Graph.
func (r *StraightRoad) Next(wp Waypoint, step float64) (Waypoint, bool) {
	i, ok := r.laneIndex(wp)
	if !ok || step <= 0 || wp.S+step > r.Length+1e-9 {
		return Waypoint{}, false
	}
	return r.waypoint(i, math.Min(wp.S+step, r.Length)), true
}

// Previous implements Graph.
func (r *StraightRoad) Previous(wp Waypoint, step float64) (Waypoint, bool) {
	i, ok := r.laneIndex(wp)
	if !ok || step <= 0 || wp.S-step < -1e-9 {
		return Waypoint{}, false
	}
	return r.waypoint(i, math.Max(wp.S-step, 0)), true
}

// LeftLane implements Graph.
func (r *StraightRoad) LeftLane(wp Waypoint) (Waypoint, bool) {
	i, ok := r.laneIndex(wp)
	if !ok || i == 0 {
		return Waypoint{}, false
	}
	return r.waypoint(i-1, wp.S), true
}

// RightLane implements Graph.
func (r *StraightRoad) RightLane(wp Waypoint) (Waypoint, bool) {
	i, ok := r.laneIndex(wp)
	if !ok || i+1 >= len(r.Lanes) {
		return Waypoint{}, false
	}
	return r.waypoint(i+1, wp.S), true
}
