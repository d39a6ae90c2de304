// Package lane samples lane-boundary polylines from a road graph into the
// Ground frame.
package lane

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/roadgraph"
)

// Config controls boundary sampling. Distances are metres.
type Config struct {
	Step         float64 // longitudinal walk increment
	MaxDist      float64 // forward walk length and forward Ground-y bound
	BackDist     float64 // backward walk length and backward Ground-y bound
	LateralRange float64 // |Ground x| must stay below this
	MinDY        float64 // monotonic filter epsilon
}

// DefaultConfig returns the sampling defaults.
func DefaultConfig() Config {
	return Config{
		Step:         0.5,
		MaxDist:      103.0,
		BackDist:     20.0,
		LateralRange: 35.0,
		MinDY:        1e-3,
	}
}

// Boundary is one sampled lane boundary in the Ground frame. Points are
// strictly increasing in y by more than Config.MinDY, or empty when the
// boundary was too short to keep.
type Boundary struct {
	Points  []r3.Vec
	Side    roadgraph.Side
	Marking roadgraph.LaneMarking
	// Source is the waypoint the walk started from. It is lineage only
	// and never persisted.
	Source roadgraph.Waypoint
}

// Empty reports whether the boundary has no usable points.
func (b Boundary) Empty() bool { return len(b.Points) == 0 }

// Sampler walks a road graph to produce lane boundaries.
type Sampler struct {
	graph roadgraph.Graph
	cfg   Config
}

// NewSampler creates a Sampler over graph. Zero-valued Config fields take
// their defaults.
func NewSampler(graph roadgraph.Graph, cfg Config) *Sampler {
	def := DefaultConfig()
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.MaxDist <= 0 {
		cfg.MaxDist = def.MaxDist
	}
	if cfg.BackDist <= 0 {
		cfg.BackDist = def.BackDist
	}
	if cfg.LateralRange <= 0 {
		cfg.LateralRange = def.LateralRange
	}
	if cfg.MinDY <= 0 {
		cfg.MinDY = def.MinDY
	}
	return &Sampler{graph: graph, cfg: cfg}
}

// Config returns the effective sampling configuration.
func (s *Sampler) Config() Config { return s.cfg }

// Sample walks forward and backward from start along the boundary on the
// given side. groundFromWorld maps World points into Ground. A walk stops
// at the first step whose marking on that side is None. The result is
// empty when fewer than two points survive the bounds and monotonic
// filters.
func (s *Sampler) Sample(start roadgraph.Waypoint, side roadgraph.Side, groundFromWorld mat.Matrix) Boundary {
	b := Boundary{Side: side, Marking: start.Marking(side), Source: start}

	fwd := s.walk(start, side, groundFromWorld, true)
	bwd := s.walk(start, side, groundFromWorld, false)

	pts := make([]r3.Vec, 0, len(fwd)+len(bwd))
	for i := len(bwd) - 1; i >= 0; i-- {
		pts = append(pts, bwd[i])
	}
	pts = append(pts, fwd...)

	if len(pts) < 2 {
		monitoring.Debugf("[lane] road %d lane %d side %s: too short (%d points)",
			start.RoadID, start.LaneID, side, len(pts))
		return b
	}
	b.Points = EnforceMonotonic(pts, s.cfg.MinDY)
	return b
}

func (s *Sampler) walk(start roadgraph.Waypoint, side roadgraph.Side, groundFromWorld mat.Matrix, forward bool) []r3.Vec {
	step := s.cfg.Step
	curr := start
	var dist float64

	if !forward {
		prev, ok := s.graph.Previous(curr, step)
		if !ok {
			return nil
		}
		curr = prev
		dist = step
	}

	target := s.cfg.BackDist
	if forward {
		target = s.cfg.MaxDist
	}
	maxLoops := int(target/step) + 20

	var out []r3.Vec
	for loop := 0; dist < target && loop < maxLoops; loop++ {
		if curr.Marking(side).Type == roadgraph.MarkingNone {
			break
		}

		p := geom.Apply(groundFromWorld, curr.BoundaryPoint(side))
		if p.Y > -s.cfg.BackDist && p.Y < s.cfg.MaxDist && math.Abs(p.X) < s.cfg.LateralRange {
			out = append(out, p)
		}

		var next roadgraph.Waypoint
		var ok bool
		if forward {
			next, ok = s.graph.Next(curr, step)
		} else {
			next, ok = s.graph.Previous(curr, step)
		}
		if !ok {
			break
		}
		curr = next
		dist += step
	}
	return out
}

// EnforceMonotonic sorts pts by y and keeps only points whose y exceeds
// the last kept point's by more than minDY. It returns nil if fewer than
// two points remain. Inputs with fewer than two points are returned as is.
func EnforceMonotonic(pts []r3.Vec, minDY float64) []r3.Vec {
	if len(pts) < 2 {
		return pts
	}
	sorted := make([]r3.Vec, len(pts))
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	kept := []r3.Vec{sorted[0]}
	last := sorted[0].Y
	for _, p := range sorted[1:] {
		if p.Y > last+minDY {
			kept = append(kept, p)
			last = p.Y
		}
	}
	if len(kept) < 2 {
		return nil
	}
	return kept
}
