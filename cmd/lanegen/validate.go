package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/lanegen/internal/config"
	"github.com/banshee-data/lanegen/internal/fsutil"
	"github.com/banshee-data/lanegen/internal/index"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/record"
	"github.com/banshee-data/lanegen/internal/security"
	"github.com/banshee-data/lanegen/internal/validate"
)

type validateOptions struct {
	Config *config.GeneratorConfig
	FS     fsutil.FileSystem

	Out     string
	Town    string
	Split   string
	Segment string
	Format  record.Format
	DBPath  string
	// Plots re-renders each frame's PNGs from the saved annotation.
	Plots bool
	// ReportPath is relative to Out; empty disables the report.
	ReportPath string
}

// runValidate re-reads every indexed frame of a segment from disk and
// checks it the way a dataset consumer would read it.
func runValidate(ctx context.Context, opts validateOptions) (validate.Summary, error) {
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
	if opts.Format == "" {
		opts.Format = record.FormatJSON
	}
	split := security.SanitizeFilename(opts.Split)
	segment := security.SanitizeFilename(opts.Segment)

	cfg := opts.Config
	vopts := validate.DefaultOptions()
	vopts.Width, vopts.Height = cfg.GetImageWidth(), cfg.GetImageHeight()
	vopts.Reexpressed = cfg.GetReexpressExtrinsic()

	ix, err := index.Open(opts.DBPath)
	if err != nil {
		return validate.Summary{}, fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()

	frames, err := ix.SegmentFrames(split, segment)
	if err != nil {
		return validate.Summary{}, err
	}
	if len(frames) == 0 {
		return validate.Summary{}, fmt.Errorf("no frames indexed for %s/%s", split, segment)
	}

	var plotDir string
	if opts.Plots {
		plotDir, err = security.JoinWithin(opts.Out, "plots", split, segment)
		if err != nil {
			return validate.Summary{}, err
		}
		if err := opts.FS.MkdirAll(plotDir, 0o755); err != nil {
			return validate.Summary{}, err
		}
	}

	reports := make([]validate.Report, 0, len(frames))
	for _, fr := range frames {
		if err := ctx.Err(); err != nil {
			return validate.Summary{}, err
		}
		path, err := record.AnnotationPath(opts.Out, split, segment, fr.Index, opts.Format)
		if err != nil {
			return validate.Summary{}, err
		}

		f, err := record.ReadFrame(opts.FS, path)
		if err != nil {
			reports = append(reports, validate.Report{Path: path, Reasons: []string{err.Error()}})
			continue
		}
		rep := validate.Frame(f, vopts)
		rep.Path = path
		if f.FilePath != fr.FilePath {
			rep.OK = false
			rep.Reasons = append(rep.Reasons, fmt.Sprintf("file_path %q, index has %q", f.FilePath, fr.FilePath))
		}
		if !rep.OK {
			monitoring.Logf("[validate] %s: %v", path, rep.Reasons)
		}
		reports = append(reports, rep)

		if plotDir != "" {
			if err := f.Restore(vopts.Reexpressed); err != nil {
				monitoring.Logf("[validate] plots for frame %d: %v", fr.Index, err)
				continue
			}
			if err := writePlots(opts.FS, plotDir, fr.Index, f, vopts.Width, vopts.Height); err != nil {
				monitoring.Logf("[validate] plots for frame %d: %v", fr.Index, err)
			}
		}
	}

	summary := validate.Summarize(reports)
	monitoring.Logf("[validate] %s/%s: %d frames, %d ok, %d failed, mean reprojection %.4fpx",
		split, segment, summary.Frames, summary.OK, summary.Failed, summary.MeanOfMeans)

	if opts.ReportPath != "" {
		reportPath, err := security.JoinWithin(opts.Out, opts.ReportPath)
		if err != nil {
			return summary, err
		}
		data, err := json.MarshalIndent(summary, "", "    ")
		if err != nil {
			return summary, err
		}
		if err := opts.FS.WriteFile(reportPath, append(data, '\n'), 0o644); err != nil {
			return summary, fmt.Errorf("write %s: %w", reportPath, err)
		}
	}
	return summary, nil
}
