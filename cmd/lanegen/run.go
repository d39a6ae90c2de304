package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/config"
	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/fsutil"
	"github.com/banshee-data/lanegen/internal/generator"
	"github.com/banshee-data/lanegen/internal/index"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/preview"
	"github.com/banshee-data/lanegen/internal/record"
	"github.com/banshee-data/lanegen/internal/roadgraph"
	"github.com/banshee-data/lanegen/internal/security"
	"github.com/banshee-data/lanegen/internal/sensorsync"
	"github.com/banshee-data/lanegen/internal/stats"
	"github.com/banshee-data/lanegen/internal/synthetic"
	"github.com/banshee-data/lanegen/internal/units"
	"github.com/banshee-data/lanegen/internal/viz"
)

type runOptions struct {
	Config *config.GeneratorConfig
	FS     fsutil.FileSystem

	Out        string
	Town       string
	Split      string
	Segment    string
	Frames     int
	Format     record.Format
	DBPath     string
	Plots      bool
	ReportPath string

	MinSpeed  float64
	MinDist   float64
	Speed     float64
	WallAt    float64
	DropEvery int

	// SpeedUnits selects how speeds are shown in logs and previews.
	SpeedUnits string

	// MaxTicks bounds the drive; zero means until the road ends.
	MaxTicks int

	Preview  chan<- preview.Summary
	AdminMux *http.ServeMux
}

type runResult struct {
	RunID      string
	Split      string
	Segment    string
	FirstIndex int
	Saved      int
	Ticks      int
	Report     stats.Report
}

// segmentName follows segment-<town>-NNN.
func segmentName(town string, episode int) string {
	slug := strings.ToLower(security.SanitizeFilename(town))
	return fmt.Sprintf("segment-%s-%03d", slug, episode)
}

// syntheticTown is a four-lane one-way road with a yellow double line on
// the left, a curb on the right and a junction part way along.
func syntheticTown() *roadgraph.StraightRoad {
	white := func(t roadgraph.MarkingType) roadgraph.LaneMarking {
		return roadgraph.LaneMarking{Type: t, Color: roadgraph.ColorWhite}
	}
	yellow := roadgraph.LaneMarking{Type: roadgraph.MarkingSolidSolid, Color: roadgraph.ColorYellow}
	curb := roadgraph.LaneMarking{Type: roadgraph.MarkingCurb, Color: roadgraph.ColorOther}
	return &roadgraph.StraightRoad{
		RoadID:  12,
		Origin:  r3.Vec{},
		Heading: 30,
		Length:  1200,
		Lanes: []roadgraph.LaneSpec{
			{Width: 3.5, Left: yellow, Right: white(roadgraph.MarkingBroken)},
			{Width: 3.5, Left: white(roadgraph.MarkingBroken), Right: white(roadgraph.MarkingBroken)},
			{Width: 3.5, Left: white(roadgraph.MarkingBroken), Right: white(roadgraph.MarkingSolid)},
			{Width: 3.0, Left: white(roadgraph.MarkingSolid), Right: curb},
		},
		Junctions: [][2]float64{{600, 640}},
	}
}

func run(ctx context.Context, opts runOptions) (runResult, error) {
	if opts.Config == nil {
		opts.Config = config.EmptyGeneratorConfig()
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Segment == "" {
		opts.Segment = segmentName(opts.Town, 0)
	}
	if opts.DBPath == "" {
		opts.DBPath = filepath.Join(opts.Out, "lanegen.db")
	}
	if err := opts.FS.MkdirAll(opts.Out, 0o755); err != nil {
		return runResult{}, fmt.Errorf("create output root: %w", err)
	}

	cfg := opts.Config
	genOpts := generator.OptionsFromConfig(cfg)

	writer, err := record.NewWriter(opts.FS, opts.Out, opts.Split, opts.Segment, opts.Format)
	if err != nil {
		return runResult{}, err
	}

	ix, err := index.Open(opts.DBPath)
	if err != nil {
		return runResult{}, fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()
	if opts.AdminMux != nil {
		if err := ix.AttachAdminRoutes(opts.AdminMux); err != nil {
			return runResult{}, err
		}
	}

	firstIndex, err := ix.NextFrameIndex(writer.Split(), writer.Segment())
	if err != nil {
		return runResult{}, err
	}
	runRec, err := ix.StartRun(opts.Town, writer.Split(), writer.Segment())
	if err != nil {
		return runResult{}, err
	}
	monitoring.Logf("[run] %s: %s/%s starting at frame %d", runRec.ID, writer.Split(), writer.Segment(), firstIndex)

	road := syntheticTown()
	syncer := sensorsync.NewSyncer(sensorsync.DefaultCapacity, nil)
	defer syncer.Close()

	rigCfg := synthetic.DefaultConfig()
	rigCfg.Width, rigCfg.Height = genOpts.Width, genOpts.Height
	rigCfg.FOV = cfg.GetFOVDegrees()
	rigCfg.Mount = genOpts.Mount
	rigCfg.Lane = 1
	rigCfg.StartS = 20
	rigCfg.Speed = opts.Speed
	rigCfg.BounceAmplitude = 0.03
	rigCfg.WallAt = opts.WallAt
	rigCfg.DropEvery = opts.DropEvery
	rig, err := synthetic.NewRig(road, syncer, rigCfg)
	if err != nil {
		return runResult{}, err
	}

	builder := generator.NewBuilder(road, rig.Intrinsic(), genOpts)
	runStats := stats.NewRunStats()

	var plotDir string
	if opts.Plots {
		plotDir, err = security.JoinWithin(opts.Out, "plots", writer.Split(), writer.Segment())
		if err != nil {
			return runResult{}, err
		}
		if err := opts.FS.MkdirAll(plotDir, 0o755); err != nil {
			return runResult{}, err
		}
	}

	res := runResult{RunID: runRec.ID, Split: writer.Split(), Segment: writer.Segment(), FirstIndex: firstIndex}
	var lastSaved *r3.Vec
	timeout := cfg.GetSyncTimeout()

	for res.Saved < opts.Frames {
		if err := ctx.Err(); err != nil {
			break
		}
		if opts.MaxTicks > 0 && res.Ticks >= opts.MaxTicks {
			break
		}

		tick, err := rig.Step()
		if errors.Is(err, synthetic.ErrEndOfRoad) {
			monitoring.Logf("[run] end of road after %d ticks", res.Ticks)
			break
		}
		if err != nil {
			return res, err
		}
		res.Ticks++

		bundle, err := syncer.GetSyncedFrames(ctx, tick, timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			monitoring.Debugf("[run] tick %d skipped: %v", tick, err)
			continue
		}

		loc := bundle.CameraPose().Location
		if rig.Speed() < opts.MinSpeed {
			continue
		}
		if lastSaved != nil && r3.Norm(r3.Sub(loc, *lastSaved)) < opts.MinDist {
			continue
		}

		var depthMap *depth.Map
		if genOpts.DepthOcclusion {
			if depthMap, err = bundle.DepthMap(); err != nil {
				monitoring.Logf("[run] tick %d: %v", tick, err)
				continue
			}
		}
		out := builder.Process(generator.Capture{SensorPose: bundle.CameraPose(), Depth: depthMap})

		obs := stats.Observation{
			Weather:   rig.Weather(),
			LaneCount: len(out.Frame.LaneLines),
			RoadID:    out.Waypoint.RoadID,
			Junction:  out.Skip == generator.SkipJunction,
		}
		runStats.Scan(opts.Town, obs)

		summary := preview.Summary{
			Tick:      tick,
			Index:     -1,
			LaneCount: obs.LaneCount,
			RoadID:    obs.RoadID,
			Speed:     rig.Speed(),
			SpeedText: units.Format(rig.Speed(), opts.SpeedUnits),
		}
		if out.Skip != generator.NotSkipped {
			summary.Skip = out.Skip.String()
		}

		if len(out.Frame.LaneLines) == 0 {
			publish(opts.Preview, summary)
			continue
		}

		idx := firstIndex + res.Saved
		img, err := record.ImageFromBGRA(bundle.RGB.Raw, bundle.RGB.Width, bundle.RGB.Height)
		if err != nil {
			return res, err
		}
		written, err := writer.Write(idx, out.Frame, img)
		if err != nil {
			return res, err
		}
		if err := ix.RecordFrame(index.Frame{
			RunID:     runRec.ID,
			Split:     writer.Split(),
			Segment:   writer.Segment(),
			Index:     idx,
			Tick:      tick,
			RoadID:    obs.RoadID,
			LaneCount: obs.LaneCount,
			FilePath:  written.FilePath,
		}); err != nil {
			return res, err
		}
		runStats.Save(opts.Town, obs)

		if plotDir != "" {
			if err := writePlots(opts.FS, plotDir, idx, written, genOpts.Width, genOpts.Height); err != nil {
				monitoring.Logf("[run] plots for frame %d: %v", idx, err)
			}
		}

		summary.Index, summary.Saved, summary.FilePath = idx, true, written.FilePath
		publish(opts.Preview, summary)

		res.Saved++
		lastSaved = &loc
		if res.Saved%50 == 0 {
			monitoring.Logf("[run] tick %d: speed=%s lanes=%d saved=%d",
				tick, units.Format(rig.Speed(), opts.SpeedUnits), obs.LaneCount, res.Saved)
		}
	}

	res.Report = runStats.Report()
	if opts.ReportPath != "" {
		if err := writeReports(opts.FS, opts.Out, opts.ReportPath, res.Report); err != nil {
			return res, err
		}
	}
	return res, nil
}

// publish never blocks the collection loop on a slow viewer.
func publish(ch chan<- preview.Summary, s preview.Summary) {
	if ch == nil {
		return
	}
	select {
	case ch <- s:
	default:
	}
}

func writePlots(fs fsutil.FileSystem, dir string, idx int, f record.Frame, width, height int) error {
	bev, err := viz.BirdsEye(f)
	if err != nil {
		return err
	}
	if err := viz.SavePNG(fs, filepath.Join(dir, record.FileID(idx)+"_bev.png"), bev); err != nil {
		return err
	}
	uv, err := viz.ImagePlane(f, width, height)
	if err != nil {
		return err
	}
	return viz.SavePNG(fs, filepath.Join(dir, record.FileID(idx)+"_uv.png"), uv)
}

// writeReports writes the JSON report and an HTML rendering beside it.
func writeReports(fs fsutil.FileSystem, root, rel string, r stats.Report) error {
	jsonPath, err := security.JoinWithin(root, rel)
	if err != nil {
		return err
	}
	if err := stats.WriteReport(fs, jsonPath, r); err != nil {
		return err
	}
	htmlPath := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath)) + ".html"
	return stats.WriteHTML(fs, htmlPath, r)
}
