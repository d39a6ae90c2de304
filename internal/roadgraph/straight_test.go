package roadgraph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func twoLaneRoad() *StraightRoad {
	white := func(t MarkingType) LaneMarking { return LaneMarking{Type: t, Color: ColorWhite} }
	return &StraightRoad{
		RoadID:    7,
		Origin:    r3.Vec{X: -50, Y: -1.75},
		Length:    300,
		Elevation: 0.25,
		Lanes: []LaneSpec{
			{Width: 3.5, Left: white(MarkingNone), Right: white(MarkingBroken)},
			{Width: 3.5, Left: white(MarkingBroken), Right: white(MarkingSolid)},
		},
		Junctions: [][2]float64{{200, 220}},
	}
}

func TestStraightRoad_ProjectToRoad(t *testing.T) {
	road := twoLaneRoad()

	wp, ok := road.ProjectToRoad(r3.Vec{X: 0, Y: 0.4, Z: 1.2})
	require.True(t, ok)
	assert.Equal(t, 7, wp.RoadID)
	assert.Equal(t, 2, wp.LaneID)
	assert.InDelta(t, 50, wp.S, 1e-9)
	assert.InDelta(t, 0, wp.Transform.Location.Y, 1e-9)
	assert.Equal(t, 0.25, wp.Transform.Location.Z)
	assert.False(t, wp.IsJunction)

	wp, ok = road.ProjectToRoad(r3.Vec{X: 10, Y: -3})
	require.True(t, ok)
	assert.Equal(t, 1, wp.LaneID)
	assert.InDelta(t, -3.5, wp.Transform.Location.Y, 1e-9)

	_, ok = road.ProjectToRoad(r3.Vec{X: 0, Y: 8})
	assert.False(t, ok, "off the road laterally")
	_, ok = road.ProjectToRoad(r3.Vec{X: -60})
	assert.False(t, ok, "before the road starts")

	wp, ok = road.ProjectToRoad(r3.Vec{X: 160})
	require.True(t, ok)
	assert.True(t, wp.IsJunction)
}

func TestStraightRoad_Walk(t *testing.T) {
	road := twoLaneRoad()
	start, ok := road.ProjectToRoad(r3.Vec{})
	require.True(t, ok)

	next, ok := road.Next(start, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 50.5, next.S, 1e-12)
	assert.InDelta(t, 0.5, next.Transform.Location.X, 1e-12)

	prev, ok := road.Previous(start, 0.5)
	require.True(t, ok)
	assert.InDelta(t, -0.5, prev.Transform.Location.X, 1e-12)

	_, ok = road.Previous(start, 51)
	assert.False(t, ok)
	_, ok = road.Next(start, 251)
	assert.False(t, ok)
	_, ok = road.Next(start, 0)
	assert.False(t, ok)
}

func TestStraightRoad_Neighbours(t *testing.T) {
	road := twoLaneRoad()
	ego, _ := road.ProjectToRoad(r3.Vec{})

	left, ok := road.LeftLane(ego)
	require.True(t, ok)
	assert.Equal(t, 1, left.LaneID)
	assert.Equal(t, MarkingNone, left.Marking(Left).Type)

	_, ok = road.LeftLane(left)
	assert.False(t, ok)
	_, ok = road.RightLane(ego)
	assert.False(t, ok)

	foreign := ego
	foreign.RoadID = 99
	_, ok = road.Next(foreign, 0.5)
	assert.False(t, ok)
}

func TestWaypoint_BoundaryPoint(t *testing.T) {
	road := twoLaneRoad()
	ego, _ := road.ProjectToRoad(r3.Vec{})

	l := ego.BoundaryPoint(Left)
	r := ego.BoundaryPoint(Right)
	assert.InDelta(t, -1.75, l.Y, 1e-12)
	assert.InDelta(t, 1.75, r.Y, 1e-12)
	assert.Equal(t, MarkingBroken, ego.Marking(Left).Type)
	assert.Equal(t, MarkingSolid, ego.Marking(Right).Type)
}

func TestStraightRoad_Heading(t *testing.T) {
	road := &StraightRoad{
		Heading: 90,
		Length:  100,
		Lanes:   []LaneSpec{{Width: 4}},
	}
	wp, ok := road.ProjectToRoad(r3.Vec{X: 0.5, Y: 30})
	require.True(t, ok)
	assert.InDelta(t, 30, wp.S, 1e-9)

	// Right of a +Y heading is world -X.
	p := wp.BoundaryPoint(Right)
	assert.InDelta(t, -2, p.X, 1e-9)
	assert.InDelta(t, 30, p.Y, 1e-9)
	assert.False(t, math.IsNaN(p.Z))
}

func TestMarkingStrings(t *testing.T) {
	assert.Equal(t, "BrokenSolid", MarkingBrokenSolid.String())
	assert.Equal(t, "MarkingType(42)", MarkingType(42).String())
	assert.Equal(t, "Yellow", ColorYellow.String())
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, -1.0, Left.Sign())
}
