package generator

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/camera"
	"github.com/banshee-data/lanegen/internal/config"
	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/lane"
)

// Options configures a Builder.
type Options struct {
	Sampling lane.Config

	Width    int
	Height   int
	MinDepth float64

	MinBoundaryPoints int
	MinVisiblePoints  int
	DedupThreshold    float64

	// DepthOcclusion ANDs the z-buffer test into the geometric visibility
	// when a capture carries a depth map.
	DepthOcclusion bool
	DepthTolerance float64

	// Mount is the NativeCamera pose in the Vehicle frame.
	Mount geom.Transform

	// ReexpressExtrinsic writes the extrinsic in the basis the downstream
	// preprocessing expects. When false the computed
	// StandardCamera->Ground matrix is written unchanged.
	ReexpressExtrinsic bool
}

// DefaultMount is the camera mount: 1.6 m forward, 1.55 m up, pitched 3°
// down.
var DefaultMount = geom.Transform{
	Location: r3.Vec{X: 1.6, Z: 1.55},
	Rotation: geom.Rotation{Pitch: -3},
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		Sampling:           lane.DefaultConfig(),
		Width:              1920,
		Height:             1280,
		MinDepth:           camera.DefaultMinDepth,
		MinBoundaryPoints:  5,
		MinVisiblePoints:   10,
		DedupThreshold:     0.2,
		DepthTolerance:     depth.DefaultTolerance,
		Mount:              DefaultMount,
		ReexpressExtrinsic: true,
	}
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg *config.GeneratorConfig) Options {
	return Options{
		Sampling: lane.Config{
			Step:         cfg.GetSampleStep(),
			MaxDist:      cfg.GetMaxDistance(),
			BackDist:     cfg.GetBackDistance(),
			LateralRange: cfg.GetLateralRange(),
			MinDY:        cfg.GetMinDeltaY(),
		},
		Width:             cfg.GetImageWidth(),
		Height:            cfg.GetImageHeight(),
		MinDepth:          cfg.GetMinDepth(),
		MinBoundaryPoints: cfg.GetMinBoundaryPoints(),
		MinVisiblePoints:  cfg.GetMinVisiblePoints(),
		DedupThreshold:    cfg.GetDedupThreshold(),
		DepthOcclusion:    cfg.GetDepthOcclusion(),
		DepthTolerance:    cfg.GetDepthTolerance(),
		Mount: geom.Transform{
			Location: r3.Vec{X: cfg.GetMountX(), Y: cfg.GetMountY(), Z: cfg.GetMountZ()},
			Rotation: geom.Rotation{Pitch: cfg.GetMountPitch()},
		},
		ReexpressExtrinsic: cfg.GetReexpressExtrinsic(),
	}
}
