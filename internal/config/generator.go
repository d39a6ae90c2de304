package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical generator defaults file.
const DefaultConfigPath = "config/generator.defaults.json"

// GeneratorConfig is the root configuration for lane ground-truth
// generation. Every field is optional; the Get* accessors supply the
// defaults when a field is absent from the JSON file.
type GeneratorConfig struct {
	// Boundary sampling
	SampleStep   *float64 `json:"sample_step,omitempty"`
	MaxDistance  *float64 `json:"max_distance,omitempty"`
	BackDistance *float64 `json:"back_distance,omitempty"`
	LateralRange *float64 `json:"lateral_range,omitempty"`
	MinDeltaY    *float64 `json:"min_delta_y,omitempty"`

	// Projection and filtering
	ImageWidth        *int     `json:"image_width,omitempty"`
	ImageHeight       *int     `json:"image_height,omitempty"`
	FOVDegrees        *float64 `json:"fov_degrees,omitempty"`
	MinDepth          *float64 `json:"min_depth,omitempty"`
	MinBoundaryPoints *int     `json:"min_boundary_points,omitempty"`
	MinVisiblePoints  *int     `json:"min_visible_points,omitempty"`
	DedupThreshold    *float64 `json:"dedup_threshold,omitempty"`

	// Depth-buffer occlusion
	DepthOcclusion *bool    `json:"depth_occlusion,omitempty"`
	DepthTolerance *float64 `json:"depth_tolerance,omitempty"`

	// Camera mount relative to the vehicle origin (simulator convention)
	MountX     *float64 `json:"mount_x,omitempty"`
	MountY     *float64 `json:"mount_y,omitempty"`
	MountZ     *float64 `json:"mount_z,omitempty"`
	MountPitch *float64 `json:"mount_pitch,omitempty"`

	// Extrinsic written for the downstream preprocessing convention
	ReexpressExtrinsic *bool `json:"reexpress_extrinsic,omitempty"`

	// Sensor synchronisation
	SyncTimeout *string `json:"sync_timeout,omitempty"` // duration string like "2s"
}

// EmptyGeneratorConfig returns a GeneratorConfig with all fields set to nil.
func EmptyGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{}
}

// LoadGeneratorConfig loads a GeneratorConfig from a JSON file.
// Fields omitted from the file fall back to the Get* defaults, so partial
// configs are safe.
func LoadGeneratorConfig(path string) (*GeneratorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGeneratorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *GeneratorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadGeneratorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *GeneratorConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"sample_step", c.SampleStep},
		{"max_distance", c.MaxDistance},
		{"lateral_range", c.LateralRange},
		{"fov_degrees", c.FOVDegrees},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", p.name, *p.v)
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"back_distance", c.BackDistance},
		{"min_delta_y", c.MinDeltaY},
		{"min_depth", c.MinDepth},
		{"dedup_threshold", c.DedupThreshold},
		{"depth_tolerance", c.DepthTolerance},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v)
		}
	}

	if c.FOVDegrees != nil && *c.FOVDegrees >= 180 {
		return fmt.Errorf("fov_degrees must be below 180, got %f", *c.FOVDegrees)
	}
	if c.ImageWidth != nil && *c.ImageWidth <= 0 {
		return fmt.Errorf("image_width must be positive, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight <= 0 {
		return fmt.Errorf("image_height must be positive, got %d", *c.ImageHeight)
	}
	if c.MinBoundaryPoints != nil && *c.MinBoundaryPoints < 2 {
		return fmt.Errorf("min_boundary_points must be at least 2, got %d", *c.MinBoundaryPoints)
	}
	if c.MinVisiblePoints != nil && *c.MinVisiblePoints < 0 {
		return fmt.Errorf("min_visible_points must be non-negative, got %d", *c.MinVisiblePoints)
	}

	if c.SyncTimeout != nil && *c.SyncTimeout != "" {
		d, err := time.ParseDuration(*c.SyncTimeout)
		if err != nil {
			return fmt.Errorf("invalid sync_timeout '%s': %w", *c.SyncTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("sync_timeout must be positive, got %s", d)
		}
	}

	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetSampleStep returns the longitudinal sampling step (default 0.5).
func (c *GeneratorConfig) GetSampleStep() float64 { return getFloat(c.SampleStep, 0.5) }

// GetMaxDistance returns the forward sampling distance (default 103).
func (c *GeneratorConfig) GetMaxDistance() float64 { return getFloat(c.MaxDistance, 103.0) }

// GetBackDistance returns the backward sampling distance (default 20).
func (c *GeneratorConfig) GetBackDistance() float64 { return getFloat(c.BackDistance, 20.0) }

// GetLateralRange returns the lateral bound on boundary points (default 35).
func (c *GeneratorConfig) GetLateralRange() float64 { return getFloat(c.LateralRange, 35.0) }

// GetMinDeltaY returns the monotonicity epsilon (default 1e-3).
func (c *GeneratorConfig) GetMinDeltaY() float64 { return getFloat(c.MinDeltaY, 1e-3) }

// GetImageWidth returns the image width in pixels (default 1920).
func (c *GeneratorConfig) GetImageWidth() int { return getInt(c.ImageWidth, 1920) }

// GetImageHeight returns the image height in pixels (default 1280).
func (c *GeneratorConfig) GetImageHeight() int { return getInt(c.ImageHeight, 1280) }

// GetFOVDegrees returns the horizontal field of view (default 51).
func (c *GeneratorConfig) GetFOVDegrees() float64 { return getFloat(c.FOVDegrees, 51.0) }

// GetMinDepth returns the minimum camera-frame depth for visibility (default 0.1).
func (c *GeneratorConfig) GetMinDepth() float64 { return getFloat(c.MinDepth, 0.1) }

// GetMinBoundaryPoints returns the minimum sampled points per boundary (default 5).
func (c *GeneratorConfig) GetMinBoundaryPoints() int { return getInt(c.MinBoundaryPoints, 5) }

// GetMinVisiblePoints returns the minimum visible points per boundary (default 10).
func (c *GeneratorConfig) GetMinVisiblePoints() int { return getInt(c.MinVisiblePoints, 10) }

// GetDedupThreshold returns the duplicate-boundary threshold (default 0.2).
func (c *GeneratorConfig) GetDedupThreshold() float64 { return getFloat(c.DedupThreshold, 0.2) }

// GetDepthOcclusion returns whether the depth-buffer test is applied (default false).
func (c *GeneratorConfig) GetDepthOcclusion() bool { return getBool(c.DepthOcclusion, false) }

// GetDepthTolerance returns the z-buffer tolerance (default 0.4).
func (c *GeneratorConfig) GetDepthTolerance() float64 { return getFloat(c.DepthTolerance, 0.4) }

// GetMountX returns the camera mount forward offset (default 1.6).
func (c *GeneratorConfig) GetMountX() float64 { return getFloat(c.MountX, 1.6) }

// GetMountY returns the camera mount lateral offset (default 0).
func (c *GeneratorConfig) GetMountY() float64 { return getFloat(c.MountY, 0) }

// GetMountZ returns the camera mount height (default 1.55).
func (c *GeneratorConfig) GetMountZ() float64 { return getFloat(c.MountZ, 1.55) }

// GetMountPitch returns the camera mount pitch in degrees (default -3).
func (c *GeneratorConfig) GetMountPitch() float64 { return getFloat(c.MountPitch, -3.0) }

// GetReexpressExtrinsic returns whether the written extrinsic is
// re-expressed for the downstream preprocessing convention (default true).
func (c *GeneratorConfig) GetReexpressExtrinsic() bool {
	return getBool(c.ReexpressExtrinsic, true)
}

// GetSyncTimeout parses and returns the SyncTimeout as a time.Duration.
func (c *GeneratorConfig) GetSyncTimeout() time.Duration {
	if c.SyncTimeout == nil || *c.SyncTimeout == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SyncTimeout)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}
