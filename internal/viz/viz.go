// Package viz renders annotation records as PNG plots for spot checks.
package viz

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/lanegen/internal/fsutil"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/record"
)

// ErrNoExtrinsic is returned when a bird's-eye plot is requested for a
// frame with neither a camera-to-ground transform nor a persisted
// extrinsic.
var ErrNoExtrinsic = errors.New("frame has no camera-to-ground transform")

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 8 * vg.Inch
)

// BirdsEye plots each lane in the Ground frame (x right, y forward), with
// invisible points drawn hollow. A decoded frame without CameraToGround
// is plotted through its persisted extrinsic, read as re-expressed; call
// record.Frame.Restore first for frames written without re-expression.
func BirdsEye(f record.Frame) (*plot.Plot, error) {
	if f.CameraToGround == nil {
		if err := f.Restore(true); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoExtrinsic, err)
		}
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Bird's-eye: %d lanes", len(f.LaneLines))
	p.X.Label.Text = "x right (m)"
	p.Y.Label.Text = "y forward (m)"
	p.Add(plotter.NewGrid())

	for i, l := range f.LaneLines {
		ground := geom.ExportToGround(f.CameraToGround, l.Points())
		all := make(plotter.XYs, len(ground))
		var hidden plotter.XYs
		for j, g := range ground {
			all[j] = plotter.XY{X: g.X, Y: g.Y}
			if l.Visibility[j] == 0 {
				hidden = append(hidden, all[j])
			}
		}
		if err := addLane(p, i, l.Category, all, hidden); err != nil {
			return nil, err
		}
	}

	// Camera position.
	cam := geom.Translation(f.CameraToGround)
	s, err := plotter.NewScatter(plotter.XYs{{X: cam.X, Y: cam.Y}})
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Shape = draw.PyramidGlyph{}
	s.GlyphStyle.Radius = vg.Points(5)
	s.GlyphStyle.Color = color.Black
	p.Add(s)
	p.Legend.Add("camera", s)
	p.Legend.Top = true
	return p, nil
}

// ImagePlane plots each lane's visible pixel coordinates over the image
// rectangle, v growing downwards.
func ImagePlane(f record.Frame, width, height int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Image plane %dx%d", width, height)
	p.X.Label.Text = "u (px)"
	p.Y.Label.Text = "v (px)"
	p.X.Min, p.X.Max = 0, float64(width)
	p.Y.Min, p.Y.Max = 0, float64(height)
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	p.Y.Tick.Marker = plot.ConstantTicks(axisTicks(height))

	for i, l := range f.LaneLines {
		var pts plotter.XYs
		for j := range l.Visibility {
			if l.Visibility[j] == 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(l.UV[0][j]), Y: float64(l.UV[1][j])})
		}
		if len(pts) < 2 {
			continue
		}
		if err := addLane(p, i, l.Category, pts, nil); err != nil {
			return nil, err
		}
	}
	p.Legend.Top = true
	return p, nil
}

func addLane(p *plot.Plot, i, category int, pts, hidden plotter.XYs) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("lane %d: %w", i, err)
	}
	line.Color = plotutil.Color(i)
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("lane %d (cat %d)", i, category), line)

	if len(hidden) > 0 {
		s, err := plotter.NewScatter(hidden)
		if err != nil {
			return fmt.Errorf("lane %d: %w", i, err)
		}
		s.GlyphStyle.Shape = draw.RingGlyph{}
		s.GlyphStyle.Color = plotutil.Color(i)
		p.Add(s)
	}
	return nil
}

func axisTicks(extent int) []plot.Tick {
	step := extent / 8
	if step == 0 {
		step = 1
	}
	var ticks []plot.Tick
	for v := 0; v <= extent; v += step {
		ticks = append(ticks, plot.Tick{Value: float64(v), Label: fmt.Sprint(v)})
	}
	return ticks
}

// SavePNG renders p as a PNG and writes it through fs.
func SavePNG(fs fsutil.FileSystem, path string, p *plot.Plot) error {
	w, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	return fs.WriteFile(path, buf.Bytes(), 0o644)
}
