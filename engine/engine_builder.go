package engine

import (
	"time"

	"github.com/Carmen-Shannon/oxy-gles/engine/camera"
	"github.com/Carmen-Shannon/oxy-gles/engine/config"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/profiler"
	"github.com/Carmen-Shannon/oxy-gles/engine/window"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig applies a loaded configuration file: window, render, import, log and profiler
// settings. Options after it override individual values.
//
// Parameters:
//   - cfg: the configuration, usually from config.Load
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg config.Config) EngineBuilderOption {
	return func(e *engine) {
		e.windowOpts = append(e.windowOpts,
			window.WithTitle(cfg.Window.Title),
			window.WithWidth(cfg.Window.Width),
			window.WithHeight(cfg.Window.Height),
			window.WithVSync(config.Flag(cfg.Window.VSync, true)),
		)
		e.width, e.height = cfg.Window.Width, cfg.Window.Height

		e.parallel = cfg.Render.ParallelPasses
		e.culling = config.Flag(cfg.Render.FrustumCulling, true)
		e.clearColor = cfg.Render.ClearColor
		if cfg.Render.FrameLimit > 0 {
			e.renderFrameLimit = time.Second / time.Duration(cfg.Render.FrameLimit)
		}

		if cfg.Import.Workers > 0 {
			e.workers = cfg.Import.Workers
		}
		if cfg.Import.QueueSize > 0 {
			e.queueSize = cfg.Import.QueueSize
		}
		e.searchPaths = append(e.searchPaths, cfg.Import.SearchPaths...)
		e.mipmaps = config.Flag(cfg.Import.GenerateMipmaps, true)

		if cfg.Log.Level != "" {
			e.logLevel, e.logDevelopment, e.logConfigured = cfg.Log.Level, cfg.Log.Development, true
		}
		e.profilingEnabled = cfg.Profiler.Enabled
	}
}

// WithProfiling enables or disables performance profiling output.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithProfiler replaces the default profiler, for example to change its interval.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithWindow sets a custom configured window for the engine to use rather than allowing the engine
// to create and manage one internally. Its GL ES context must be current on the calling thread.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithWindowOptions adds options for the window the engine creates.
//
// Parameters:
//   - options: window builder options
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindowOptions(options ...window.WindowBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.windowOpts = append(e.windowOpts, options...)
	}
}

// WithDevice runs the engine on an existing device. No window is created, which suits
// embedders owning the surface and headless rendering.
//
// Parameters:
//   - d: the device
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDevice(d gpu.Device) EngineBuilderOption {
	return func(e *engine) {
		e.device = d
	}
}

// WithViewport sets the viewport size of a headless engine. A window's framebuffer size
// takes precedence.
//
// Parameters:
//   - width: viewport width in pixels
//   - height: viewport height in pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithViewport(width, height int) EngineBuilderOption {
	return func(e *engine) {
		e.width, e.height = width, height
	}
}

// WithCamera sets the camera for the scene pass.
//
// Parameters:
//   - c: the camera
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCamera(c camera.Camera) EngineBuilderOption {
	return func(e *engine) {
		e.camera = c
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithParallelPasses enables concurrent recording of passes with disjoint resources.
func WithParallelPasses(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.parallel = enabled
	}
}

// WithFrustumCulling toggles culling of draw items outside the camera frustum.
func WithFrustumCulling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.culling = enabled
	}
}

// WithClearColor sets the color the scene pass clears to.
func WithClearColor(rgba [4]float32) EngineBuilderOption {
	return func(e *engine) {
		e.clearColor = rgba
	}
}

// WithImportWorkers sets the number of background decode workers and the depth of the
// import queue.
//
// Parameters:
//   - workers: maximum concurrent decodes
//   - queueSize: maximum queued imports
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithImportWorkers(workers, queueSize int) EngineBuilderOption {
	return func(e *engine) {
		if workers > 0 {
			e.workers = workers
		}
		if queueSize > 0 {
			e.queueSize = queueSize
		}
	}
}

// WithImportDrainLimit caps how many imports are committed per frame; 0 commits all.
func WithImportDrainLimit(n int) EngineBuilderOption {
	return func(e *engine) {
		e.drainLimit = max(n, 0)
	}
}

// WithSearchPaths adds directories assets are resolved against.
func WithSearchPaths(dirs ...string) EngineBuilderOption {
	return func(e *engine) {
		e.searchPaths = append(e.searchPaths, dirs...)
	}
}

// WithMipmaps sets whether imported textures get a mip chain.
func WithMipmaps(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.mipmaps = enabled
	}
}

// WithLogger replaces the engine's own logger. Subsystems keep using the process logger.
func WithLogger(l *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if l != nil {
			e.log = l
		}
	}
}
