// Package validate checks saved lane annotations for internal
// consistency. Points are recovered into Ground with the persisted
// extrinsic exactly as a dataset consumer would, reprojected with the
// persisted intrinsic, and compared against the persisted pixels.
package validate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lanegen/internal/camera"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/record"
)

// Options holds the checks' thresholds.
type Options struct {
	// Width and Height bound the visible pixels. Zero skips the bounds
	// check.
	Width  int
	Height int

	// Reexpressed says the extrinsic was written with the consumer
	// re-expression applied.
	Reexpressed bool

	MaxMeanError float64 // px
	MaxError     float64 // px
	// MaxNonMonotonic is the tolerated fraction of forward steps that do
	// not advance in Ground y.
	MaxNonMonotonic float64
	// MaxGroundHeight bounds the 95th percentile of |z| in Ground. Road
	// slope lifts distant points; a wrong extrinsic convention lifts them
	// by tens of metres.
	MaxGroundHeight float64
}

// DefaultOptions matches the generator defaults.
func DefaultOptions() Options {
	return Options{
		Width:           1920,
		Height:          1280,
		Reexpressed:     true,
		MaxMeanError:    2,
		MaxError:        10,
		MaxGroundHeight: 5,
	}
}

// Report is one frame's result. Error statistics are zero when no point
// was visible.
type Report struct {
	Path    string   `json:"path"`
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons,omitempty"`

	Lanes         int `json:"lanes"`
	Points        int `json:"points"`
	VisiblePoints int `json:"visible_points"`

	MeanError float64 `json:"reproj_mean_px"`
	P95Error  float64 `json:"reproj_p95_px"`
	MaxError  float64 `json:"reproj_max_px"`

	// OutOfBounds counts visible points whose stored pixel is off the image.
	OutOfBounds int `json:"out_of_bounds"`
	// SentinelMismatches counts points whose flag disagrees with their
	// pixel: hidden points not at exactly (-1,-1), or visible points at
	// negative coordinates.
	SentinelMismatches int `json:"sentinel_mismatches"`

	NonMonotonic float64 `json:"non_monotonic_ratio"`

	GroundXMin    float64 `json:"ground_x_min"`
	GroundXMax    float64 `json:"ground_x_max"`
	GroundYMin    float64 `json:"ground_y_min"`
	GroundYMax    float64 `json:"ground_y_max"`
	GroundZAbsP95 float64 `json:"ground_z_abs_p95"`
}

func (r *Report) fail(format string, args ...any) {
	r.OK = false
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Frame checks one decoded annotation.
func Frame(f record.Frame, opts Options) Report {
	rep := Report{OK: true, Lanes: len(f.LaneLines)}

	k, err := f.IntrinsicMatrix()
	if err != nil {
		rep.fail("%v", err)
		return rep
	}
	e, err := f.RecoverCameraToGround(opts.Reexpressed)
	if err != nil {
		rep.fail("%v", err)
		return rep
	}
	if len(f.LaneLines) == 0 {
		rep.fail("no lanes")
		return rep
	}

	var errs, heights []float64
	var nonMono float64
	rep.GroundXMin, rep.GroundYMin = math.Inf(1), math.Inf(1)
	rep.GroundXMax, rep.GroundYMax = math.Inf(-1), math.Inf(-1)

	for i, l := range f.LaneLines {
		n := l.Len()
		if len(l.XYZ) != 3 || len(l.UV) != 2 || len(l.XYZ[0]) != n || len(l.XYZ[1]) != n ||
			len(l.XYZ[2]) != n || len(l.UV[0]) != n || len(l.UV[1]) != n {
			rep.fail("lane %d: inconsistent array lengths", i)
			continue
		}
		rep.Points += n

		ground := geom.ExportToGround(e, l.Points())
		u, v, _ := camera.Reproject(ground, e, k)

		steps, back := 0, 0
		for j, g := range ground {
			rep.GroundXMin, rep.GroundXMax = math.Min(rep.GroundXMin, g.X), math.Max(rep.GroundXMax, g.X)
			rep.GroundYMin, rep.GroundYMax = math.Min(rep.GroundYMin, g.Y), math.Max(rep.GroundYMax, g.Y)
			heights = append(heights, math.Abs(g.Z))
			if j > 0 {
				steps++
				if g.Y <= ground[j-1].Y {
					back++
				}
			}

			su, sv := float64(l.UV[0][j]), float64(l.UV[1][j])
			switch l.Visibility[j] {
			case 1:
				rep.VisiblePoints++
				if su < 0 || sv < 0 {
					rep.SentinelMismatches++
					continue
				}
				// The edge itself is allowed: float32 storage can round a
				// pixel just inside it onto it.
				if opts.Width > 0 && opts.Height > 0 &&
					(su > float64(opts.Width) || sv > float64(opts.Height)) {
					rep.OutOfBounds++
				}
				errs = append(errs, math.Hypot(u[j]-su, v[j]-sv))
			case 0:
				if su != camera.Sentinel || sv != camera.Sentinel {
					rep.SentinelMismatches++
				}
			default:
				rep.SentinelMismatches++
			}
		}
		if steps > 0 {
			nonMono += float64(back) / float64(steps)
		}
	}
	rep.NonMonotonic = nonMono / float64(len(f.LaneLines))

	if len(errs) > 0 {
		sort.Float64s(errs)
		rep.MeanError = stat.Mean(errs, nil)
		rep.P95Error = stat.Quantile(0.95, stat.LinInterp, errs, nil)
		rep.MaxError = errs[len(errs)-1]
	}
	if len(heights) > 0 {
		sort.Float64s(heights)
		rep.GroundZAbsP95 = stat.Quantile(0.95, stat.LinInterp, heights, nil)
	} else {
		rep.GroundXMin, rep.GroundXMax, rep.GroundYMin, rep.GroundYMax = 0, 0, 0, 0
	}

	if rep.MeanError > opts.MaxMeanError {
		rep.fail("reprojection mean %.2fpx > %.2fpx", rep.MeanError, opts.MaxMeanError)
	}
	if rep.MaxError > opts.MaxError {
		rep.fail("reprojection max %.2fpx > %.2fpx", rep.MaxError, opts.MaxError)
	}
	if rep.OutOfBounds > 0 {
		rep.fail("%d visible points outside %dx%d", rep.OutOfBounds, opts.Width, opts.Height)
	}
	if rep.SentinelMismatches > 0 {
		rep.fail("%d points disagree with the (-1,-1) sentinel", rep.SentinelMismatches)
	}
	if opts.MaxGroundHeight > 0 && rep.GroundZAbsP95 > opts.MaxGroundHeight {
		rep.fail("ground height p95 %.2fm > %.2fm", rep.GroundZAbsP95, opts.MaxGroundHeight)
	}
	if rep.NonMonotonic > opts.MaxNonMonotonic {
		rep.fail("non-monotonic forward ratio %.2f > %.2f", rep.NonMonotonic, opts.MaxNonMonotonic)
	}
	return rep
}

// Summary aggregates frame reports.
type Summary struct {
	Frames      int            `json:"frames"`
	OK          int            `json:"ok"`
	Failed      int            `json:"failed"`
	Reasons     map[string]int `json:"reasons,omitempty"`
	MeanOfMeans float64        `json:"reproj_mean_px"`
	Reports     []Report       `json:"reports"`
}

// Summarize counts passes and failures. Reasons are keyed by the failing
// frame's first reason.
func Summarize(reports []Report) Summary {
	s := Summary{Frames: len(reports), Reports: reports}
	if s.Reports == nil {
		s.Reports = []Report{}
	}
	var means []float64
	for _, r := range reports {
		if r.VisiblePoints > 0 {
			means = append(means, r.MeanError)
		}
		if r.OK {
			s.OK++
			continue
		}
		s.Failed++
		if s.Reasons == nil {
			s.Reasons = map[string]int{}
		}
		if len(r.Reasons) > 0 {
			s.Reasons[r.Reasons[0]]++
		}
	}
	if len(means) > 0 {
		s.MeanOfMeans = stat.Mean(means, nil)
	}
	return s
}
