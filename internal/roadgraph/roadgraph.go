// Package roadgraph defines the road-graph query surface the lane pipeline
// consumes. Everything here is plain data: a Graph answers queries with
// Waypoint values and never hands out live simulator handles, so samplers
// can be driven by a fake road in tests.
package roadgraph

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/geom"
)

// MarkingType is the painted pattern of a lane boundary.
type MarkingType int

const (
	MarkingNone MarkingType = iota
	MarkingOther
	MarkingBroken
	MarkingSolid
	MarkingSolidSolid
	MarkingSolidBroken
	MarkingBrokenSolid
	MarkingBrokenBroken
	MarkingBottsDots
	MarkingGrass
	MarkingCurb
)

var markingTypeNames = map[MarkingType]string{
	MarkingNone:         "None",
	MarkingOther:        "Other",
	MarkingBroken:       "Broken",
	MarkingSolid:        "Solid",
	MarkingSolidSolid:   "SolidSolid",
	MarkingSolidBroken:  "SolidBroken",
	MarkingBrokenSolid:  "BrokenSolid",
	MarkingBrokenBroken: "BrokenBroken",
	MarkingBottsDots:    "BottsDots",
	MarkingGrass:        "Grass",
	MarkingCurb:         "Curb",
}

func (t MarkingType) String() string {
	if s, ok := markingTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MarkingType(%d)", int(t))
}

// MarkingColor is the paint color of a lane boundary. The simulator's
// "standard" color is white.
type MarkingColor int

const (
	ColorWhite MarkingColor = iota
	ColorYellow
	ColorBlue
	ColorGreen
	ColorRed
	ColorOther
)

var markingColorNames = map[MarkingColor]string{
	ColorWhite:  "White",
	ColorYellow: "Yellow",
	ColorBlue:   "Blue",
	ColorGreen:  "Green",
	ColorRed:    "Red",
	ColorOther:  "Other",
}

func (c MarkingColor) String() string {
	if s, ok := markingColorNames[c]; ok {
		return s
	}
	return fmt.Sprintf("MarkingColor(%d)", int(c))
}

// LaneMarking describes one painted boundary.
type LaneMarking struct {
	Type  MarkingType
	Color MarkingColor
}

// Side selects a lane boundary relative to the lane's direction of travel.
type Side int

const (
	Left  Side = -1
	Right Side = 1
)

// Sign returns -1 for Left and +1 for Right.
func (s Side) Sign() float64 { return float64(s) }

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Waypoint is a lane-centre position on the road graph.
type Waypoint struct {
	RoadID       int
	LaneID       int
	S            float64 // distance along the road reference line
	Transform    geom.Transform
	LaneWidth    float64
	IsJunction   bool
	LeftMarking  LaneMarking
	RightMarking LaneMarking
}

// Marking returns the boundary marking on the given side.
func (w Waypoint) Marking(side Side) LaneMarking {
	if side == Left {
		return w.LeftMarking
	}
	return w.RightMarking
}

// BoundaryPoint is the world position of the boundary on the given side:
// the lane centre offset by half the lane width along the right vector.
func (w Waypoint) BoundaryPoint(side Side) r3.Vec {
	right := w.Transform.Rotation.RightVector()
	return r3.Add(w.Transform.Location, r3.Scale(0.5*w.LaneWidth*side.Sign(), right))
}

// Graph is the road-graph query interface. Each method reports false
// where the underlying service would return nothing.
type Graph interface {
	// ProjectToRoad returns the lane-centre waypoint nearest to a world
	// point on a drivable lane.
	ProjectToRoad(p r3.Vec) (Waypoint, bool)
	// Next walks step metres forward along the lane.
	Next(wp Waypoint, step float64) (Waypoint, bool)
	// Previous walks step metres backward along the lane.
	Previous(wp Waypoint, step float64) (Waypoint, bool)
	LeftLane(wp Waypoint) (Waypoint, bool)
	RightLane(wp Waypoint) (Waypoint, bool)
}
