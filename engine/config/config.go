// Package config loads the engine's YAML configuration file. Every field has a
// default, so a missing file or a partial file is valid.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-gles/common"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the file name looked up next to the executable by hosts that do not pass a path.
const DefaultFilename = "oxy.yml"

const maxConfigSize = 1024 * 1024

// Config is the root of the engine configuration file.
type Config struct {
	Window   WindowConfig   `yaml:"window"`
	Render   RenderConfig   `yaml:"render"`
	Import   ImportConfig   `yaml:"import"`
	Log      LogConfig      `yaml:"log"`
	Profiler ProfilerConfig `yaml:"profiler"`
}

// WindowConfig configures the desktop window and its GL ES context.
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	VSync  *bool  `yaml:"vsync"` // pointer to distinguish unset vs false
}

// RenderConfig configures the per-frame pass scheduler and renderer.
type RenderConfig struct {
	// ParallelPasses enables concurrent recording of passes with disjoint resource sets.
	ParallelPasses bool `yaml:"parallel_passes"`

	// FrameLimit caps frames per second; 0 means uncapped.
	FrameLimit int `yaml:"frame_limit"`

	// FrustumCulling skips draw items whose bounds fall outside the camera frustum.
	FrustumCulling *bool `yaml:"frustum_culling"`

	ClearColor [4]float32 `yaml:"clear_color"`
}

// ImportConfig configures the asset import bridge.
type ImportConfig struct {
	Workers         int      `yaml:"workers"`
	QueueSize       int      `yaml:"queue_size"`
	SearchPaths     []string `yaml:"search_paths"`
	GenerateMipmaps *bool    `yaml:"generate_mipmaps"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ProfilerConfig toggles the periodic FPS/memory/VRAM report.
type ProfilerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is present.
//
// Returns:
//   - Config: the default configuration
func Default() Config {
	yes := true
	return Config{
		Window: WindowConfig{Title: "oxy-gles", Width: 1280, Height: 720, VSync: &yes},
		Render: RenderConfig{FrustumCulling: &yes, ClearColor: [4]float32{0.1, 0.1, 0.12, 1}},
		Import: ImportConfig{Workers: 2, QueueSize: 64, GenerateMipmaps: &yes},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file and fills unset fields from Default.
// A missing file yields the default configuration without error.
//
// Parameters:
//   - path: the configuration file path
//
// Returns:
//   - Config: the merged configuration
//   - error: error if the file cannot be read, parsed or fails validation
func Load(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to stat config %s: %w", path, err)
	}
	if info.Size() > maxConfigSize {
		return Config{}, fmt.Errorf("config %s is too large (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a Config, applying defaults and validation.
//
// Parameters:
//   - data: the YAML document
//
// Returns:
//   - Config: the merged configuration
//   - error: error if the document is malformed or invalid
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults(Default())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(d Config) {
	c.Window.Title = common.Coalesce(c.Window.Title, d.Window.Title)
	c.Window.Width = common.Coalesce(c.Window.Width, d.Window.Width)
	c.Window.Height = common.Coalesce(c.Window.Height, d.Window.Height)
	c.Window.VSync = common.Coalesce(c.Window.VSync, d.Window.VSync)
	c.Render.FrustumCulling = common.Coalesce(c.Render.FrustumCulling, d.Render.FrustumCulling)
	if c.Render.ClearColor == [4]float32{} {
		c.Render.ClearColor = d.Render.ClearColor
	}
	c.Import.Workers = common.Coalesce(c.Import.Workers, d.Import.Workers)
	c.Import.QueueSize = common.Coalesce(c.Import.QueueSize, d.Import.QueueSize)
	c.Import.GenerateMipmaps = common.Coalesce(c.Import.GenerateMipmaps, d.Import.GenerateMipmaps)
	c.Log.Level = common.Coalesce(c.Log.Level, d.Log.Level)
}

// Validate checks value ranges.
//
// Returns:
//   - error: the first invalid field found, or nil
func (c Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("window size must be positive, got %dx%d", c.Window.Width, c.Window.Height)
	case c.Render.FrameLimit < 0:
		return fmt.Errorf("render.frame_limit must not be negative, got %d", c.Render.FrameLimit)
	case c.Import.Workers < 1:
		return fmt.Errorf("import.workers must be at least 1, got %d", c.Import.Workers)
	case c.Import.QueueSize < 1:
		return fmt.Errorf("import.queue_size must be at least 1, got %d", c.Import.QueueSize)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// Flag dereferences an optional boolean, returning def when unset.
func Flag(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
