package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanegen/internal/config"
	"github.com/banshee-data/lanegen/internal/index"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/preview"
	"github.com/banshee-data/lanegen/internal/record"
	"github.com/banshee-data/lanegen/internal/stats"
	"github.com/banshee-data/lanegen/internal/units"
	"github.com/banshee-data/lanegen/internal/validate"
)

func smallConfig() *config.GeneratorConfig {
	cfg := config.EmptyGeneratorConfig()
	w, h := 320, 240
	cfg.ImageWidth, cfg.ImageHeight = &w, &h
	return cfg
}

func testRunOptions(t *testing.T) runOptions {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })
	return runOptions{
		Config:     smallConfig(),
		Out:        t.TempDir(),
		Town:       "Town10HD",
		Split:      "training",
		Frames:     4,
		Format:     record.FormatJSON,
		ReportPath: "stats_report.json",
		MinSpeed:   1,
		MinDist:    3,
		Speed:      13.9,
		MaxTicks:   200,
		SpeedUnits: "kph",
	}
}

func TestSegmentName(t *testing.T) {
	assert.Equal(t, "segment-town10hd-000", segmentName("Town10HD", 0))
	assert.Equal(t, "segment-town05-012", segmentName("Town05", 12))
}

func TestRun_WritesDataset(t *testing.T) {
	opts := testRunOptions(t)
	summaries := make(chan preview.Summary, 256)
	opts.Preview = summaries

	res, err := run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Saved)
	assert.Equal(t, 0, res.FirstIndex)
	assert.Equal(t, "segment-town10hd-000", res.Segment)
	// 0.695 m per tick and 3 m between saved frames.
	assert.GreaterOrEqual(t, res.Ticks, 16)

	seg := filepath.Join("training", "segment-town10hd-000")
	for i := 0; i < 4; i++ {
		assert.FileExists(t, filepath.Join(opts.Out, "images", seg, record.FileID(i)+".jpg"))
	}

	data, err := os.ReadFile(filepath.Join(opts.Out, "lane3d_1000", seg, "000002.json"))
	require.NoError(t, err)
	var f record.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "training/segment-town10hd-000/000002.jpg", f.FilePath)
	require.Len(t, f.LaneLines, 5)
	var cats []int
	for _, l := range f.LaneLines {
		cats = append(cats, l.Category)
	}
	// Ego left/right, yellow double line, right neighbour solid, curb.
	assert.Equal(t, []int{1, 1, 10, 2, 20}, cats)
	assert.Len(t, f.Intrinsic, 3)
	assert.Len(t, f.Extrinsic, 4)

	var report stats.Report
	data, err = os.ReadFile(filepath.Join(opts.Out, "stats_report.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 4, report["Town10HD"][stats.CategoryLaneCount]["5"].Saved)
	assert.FileExists(t, filepath.Join(opts.Out, "stats_report.html"))

	close(summaries)
	saved := 0
	for s := range summaries {
		if s.Saved {
			saved++
		}
		assert.Equal(t, "50.0 km/h", s.SpeedText)
	}
	assert.Equal(t, 4, saved)
}

func TestRun_ResumesSegment(t *testing.T) {
	opts := testRunOptions(t)
	opts.Frames = 2

	first, err := run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 2, first.Saved)

	second, err := run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, second.FirstIndex)
	assert.NotEqual(t, first.RunID, second.RunID)

	ix, err := index.Open(filepath.Join(opts.Out, "lanegen.db"))
	require.NoError(t, err)
	defer ix.Close()
	frames, err := ix.Frames(second.RunID)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 2, frames[0].Index)
	assert.Equal(t, "training/segment-town10hd-000/000003.jpg", frames[1].FilePath)
}

func TestRun_CBORWithPlotsAndOcclusion(t *testing.T) {
	opts := testRunOptions(t)
	opts.Frames = 1
	opts.Format = record.FormatCBOR
	opts.Plots = true
	opts.WallAt = 60
	on := true
	opts.Config.DepthOcclusion = &on

	res, err := run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)

	seg := filepath.Join("training", "segment-town10hd-000")
	data, err := os.ReadFile(filepath.Join(opts.Out, "lane3d_1000", seg, "000000.cbor"))
	require.NoError(t, err)
	f, err := record.DecodeCBOR(data)
	require.NoError(t, err)
	require.NotEmpty(t, f.LaneLines)
	for _, l := range f.LaneLines {
		for j, p := range l.Points() {
			if p.X > 45 {
				assert.Zero(t, l.Visibility[j], "point behind the wall at %.1f m", p.X)
			}
		}
	}

	assert.FileExists(t, filepath.Join(opts.Out, "plots", seg, "000000_bev.png"))
	assert.FileExists(t, filepath.Join(opts.Out, "plots", seg, "000000_uv.png"))
}

func TestRun_MinSpeedSavesNothing(t *testing.T) {
	opts := testRunOptions(t)
	opts.MinSpeed = 100
	opts.MaxTicks = 10

	res, err := run(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, res.Saved)
	assert.Equal(t, 10, res.Ticks)
	assert.Empty(t, res.Report)
}

func TestRun_CancelledContext(t *testing.T) {
	opts := testRunOptions(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := run(ctx, opts)
	require.NoError(t, err)
	assert.Zero(t, res.Ticks)
}

func TestSpeedsInMPS(t *testing.T) {
	tests := []struct {
		unit                   string
		speed, minSpeed        float64
		wantSpeed, wantMinimum float64
	}{
		{units.KPH, 50, 3.6, 13.8889, 1},
		{units.MPH, 30, 2.2369362920544, 13.4112, 1},
		{units.MPS, 13.9, 1, 13.9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			speed, minSpeed := speedsInMPS(tt.speed, tt.minSpeed, tt.unit)
			assert.InDelta(t, tt.wantSpeed, speed, 1e-4)
			assert.InDelta(t, tt.wantMinimum, minSpeed, 1e-9)
		})
	}
}

func TestValidate_SavedSegment(t *testing.T) {
	opts := testRunOptions(t)
	opts.Frames = 3
	_, err := run(context.Background(), opts)
	require.NoError(t, err)

	vopts := validateOptions{
		Config:     opts.Config,
		Out:        opts.Out,
		Town:       opts.Town,
		Split:      opts.Split,
		Format:     opts.Format,
		Plots:      true,
		ReportPath: "validation_report.json",
	}
	summary, err := runValidate(context.Background(), vopts)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Frames)
	assert.Equal(t, 3, summary.OK, "reasons: %v", summary.Reasons)
	assert.Less(t, summary.MeanOfMeans, 0.01)

	seg := filepath.Join("training", "segment-town10hd-000")
	assert.FileExists(t, filepath.Join(opts.Out, "plots", seg, "000002_bev.png"))

	data, err := os.ReadFile(filepath.Join(opts.Out, "validation_report.json"))
	require.NoError(t, err)
	var written validate.Summary
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, 3, written.OK)
	require.Len(t, written.Reports, 3)
	assert.Equal(t, filepath.Join(opts.Out, "lane3d_1000", seg, "000001.json"), written.Reports[1].Path)

	// Damage one saved frame.
	path := filepath.Join(opts.Out, "lane3d_1000", seg, "000001.json")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	f, err := record.DecodeJSON(data)
	require.NoError(t, err)
	f.FilePath = "training/elsewhere/000001.jpg"
	f.LaneLines[0].Visibility[0] = 2
	data, err = json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	vopts.Plots, vopts.ReportPath = false, ""
	summary, err = runValidate(context.Background(), vopts)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.OK)
	assert.Equal(t, 1, summary.Failed)
	bad := summary.Reports[1]
	assert.False(t, bad.OK)
	assert.Equal(t, 1, bad.SentinelMismatches)
	assert.Contains(t, bad.Reasons[len(bad.Reasons)-1], "file_path")
}

func TestValidate_ExtrinsicConventionMustMatch(t *testing.T) {
	opts := testRunOptions(t)
	opts.Frames = 1
	opts.Format = record.FormatCBOR
	_, err := run(context.Background(), opts)
	require.NoError(t, err)

	off := false
	opts.Config.ReexpressExtrinsic = &off
	summary, err := runValidate(context.Background(), validateOptions{
		Config: opts.Config,
		Out:    opts.Out,
		Town:   opts.Town,
		Split:  opts.Split,
		Format: record.FormatCBOR,
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Reports[0].Reasons[0], "ground height")
}

func TestValidate_EmptySegment(t *testing.T) {
	opts := testRunOptions(t)
	_, err := runValidate(context.Background(), validateOptions{Out: opts.Out, Town: "Nowhere", Split: "training"})
	assert.ErrorContains(t, err, "no frames indexed")
}
