// Command lanegen drives a synthetic collection run: a simulated vehicle
// drives a multi-lane road, each synchronised tick is turned into a lane
// annotation, and saved frames are written in the lane3d_1000 layout.
//
//	lanegen [flags]           collect a segment
//	lanegen [flags] validate  check a collected segment's saved annotations
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/lanegen/internal/config"
	"github.com/banshee-data/lanegen/internal/monitoring"
	"github.com/banshee-data/lanegen/internal/preview"
	"github.com/banshee-data/lanegen/internal/record"
	"github.com/banshee-data/lanegen/internal/units"
	"github.com/banshee-data/lanegen/internal/version"
)

var (
	configPath  = flag.String("config", "", "Generator config JSON (defaults apply when empty)")
	outDir      = flag.String("out", "data/OpenLane", "Dataset root directory")
	town        = flag.String("town", "Synthetic01", "Town name recorded in the index and report")
	split       = flag.String("split", "training", "Dataset split")
	segment     = flag.String("segment", "", "Segment name (default segment-<town>-000)")
	frames      = flag.Int("frames", 100, "Frames to save")
	format      = flag.String("format", "json", "Annotation format: json or cbor")
	dbPath      = flag.String("db", "", "Frame index database (default <out>/lanegen.db)")
	plots       = flag.Bool("plots", false, "Write bird's-eye and image-plane PNGs per saved frame")
	reportPath  = flag.String("report", "stats_report.json", "Statistics report path relative to -out; empty disables")
	previewAddr = flag.String("preview", "", "Serve a websocket preview on this address, e.g. :8090")
	adminAddr   = flag.String("admin", "", "Serve debug routes (tailsql) on this address, e.g. localhost:8091")
	minSpeed    = flag.Float64("min-speed", 3.6, "Minimum vehicle speed, in -units, for a frame to be saved")
	minDist     = flag.Float64("min-dist", 3.0, "Minimum distance (m) between saved frames")
	speed       = flag.Float64("speed", 50, "Synthetic vehicle speed in -units")
	wallAt      = flag.Float64("wall-at", 0, "Place an occluding wall this far along the road (0 disables)")
	dropEvery   = flag.Int("drop-every", 0, "Withhold the depth sample every N ticks")
	speedUnits  = flag.String("units", units.KPH, "Speed units for -speed, -min-speed, logs and preview: mps, mph or kph")
	validation  = flag.String("validation-report", "validation_report.json", "Validation report path relative to -out (validate only); empty disables")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg := config.EmptyGeneratorConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadGeneratorConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	if !units.IsValid(*speedUnits) {
		log.Fatalf("invalid -units %q", *speedUnits)
	}

	recFormat, err := record.ParseFormat(*format)
	if err != nil {
		log.Fatal(err)
	}

	speedMPS, minSpeedMPS := speedsInMPS(*speed, *minSpeed, *speedUnits)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := flag.Arg(0); cmd {
	case "":
	case "validate":
		summary, err := runValidate(ctx, validateOptions{
			Config:     cfg,
			Out:        *outDir,
			Town:       *town,
			Split:      *split,
			Segment:    *segment,
			Format:     recFormat,
			DBPath:     *dbPath,
			Plots:      *plots,
			ReportPath: *validation,
		})
		if err != nil {
			log.Printf("validate failed: %v", err)
			stop()
			os.Exit(1)
		}
		if summary.Failed > 0 {
			stop()
			os.Exit(1)
		}
		return
	default:
		log.Fatalf("unknown command %q", cmd)
	}

	opts := runOptions{
		Config:     cfg,
		Out:        *outDir,
		Town:       *town,
		Split:      *split,
		Segment:    *segment,
		Frames:     *frames,
		Format:     recFormat,
		DBPath:     *dbPath,
		Plots:      *plots,
		ReportPath: *reportPath,
		MinSpeed:   minSpeedMPS,
		MinDist:    *minDist,
		Speed:      speedMPS,
		WallAt:     *wallAt,
		DropEvery:  *dropEvery,
		SpeedUnits: *speedUnits,
	}

	if *previewAddr != "" {
		summaries := make(chan preview.Summary, 16)
		opts.Preview = summaries
		srv := preview.NewServer()
		go func() {
			if err := srv.ListenAndServe(ctx, *previewAddr, summaries); err != nil {
				log.Printf("preview server: %v", err)
			}
		}()
	}
	if *adminAddr != "" {
		opts.AdminMux = http.NewServeMux()
		httpServer := &http.Server{
			Addr:              *adminAddr,
			Handler:           opts.AdminMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("admin server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	res, err := run(ctx, opts)
	if err != nil {
		log.Printf("run failed: %v", err)
		stop()
		os.Exit(1)
	}
	log.Printf("Saved %d frames (%d..%d) from %d ticks into %s/%s",
		res.Saved, res.FirstIndex, res.FirstIndex+res.Saved-1, res.Ticks, res.Split, res.Segment)
}

// speedsInMPS converts the -speed and -min-speed values from the chosen
// units to m/s.
func speedsInMPS(speed, minSpeed float64, unit string) (float64, float64) {
	return units.ConvertToMPS(speed, unit), units.ConvertToMPS(minSpeed, unit)
}
