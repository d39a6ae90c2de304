package generator

import "github.com/banshee-data/lanegen/internal/roadgraph"

// Category codes for curbs and unmatched markings.
const (
	CategoryUnknown = 0
	CategoryCurb    = 20
)

var categoryOffset = map[roadgraph.MarkingType]int{
	roadgraph.MarkingBroken:       1,
	roadgraph.MarkingSolid:        2,
	roadgraph.MarkingBrokenBroken: 3,
	roadgraph.MarkingSolidSolid:   4,
	roadgraph.MarkingBrokenSolid:  5,
	roadgraph.MarkingSolidBroken:  6,
}

// Category maps a marking to its dataset category: 1-6 for white and 7-12
// for yellow painted lines (broken, solid, broken-broken, solid-solid,
// broken-solid, solid-broken), CategoryCurb for curbs of any color, and
// CategoryUnknown otherwise.
func Category(m roadgraph.LaneMarking) int {
	if off, ok := categoryOffset[m.Type]; ok {
		switch m.Color {
		case roadgraph.ColorWhite:
			return off
		case roadgraph.ColorYellow:
			return off + 6
		}
	}
	if m.Type == roadgraph.MarkingCurb {
		return CategoryCurb
	}
	return CategoryUnknown
}
