package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-gles/engine/camera"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/gpu/gles"
	"github.com/Carmen-Shannon/oxy-gles/engine/loader"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/profiler"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"github.com/Carmen-Shannon/oxy-gles/engine/scene"
	"github.com/Carmen-Shannon/oxy-gles/engine/window"
	"go.uber.org/zap"
)

// ErrNoWindow is returned by Run on an engine built around a headless device.
var ErrNoWindow = errors.New("engine has no window")

// Stats counts frames rendered by the engine.
type Stats struct {
	Frames uint64

	// Skipped frames were not rendered because the context was lost.
	Skipped uint64

	// Dropped frames failed in the render graph.
	Dropped uint64

	// Rebuilds counts completed context-loss recoveries.
	Rebuilds uint64
}

// engine implements the Engine interface. Every method except Quit belongs to the render
// thread, the thread the GL ES context is current on.
type engine struct {
	log *zap.Logger

	window     window.Window
	ownsWindow bool
	windowOpts []window.WindowBuilderOption

	device   gpu.Device
	manager  resource.Manager
	shaders  shader.Cache
	scene    scene.Graph
	importer loader.Importer
	async    loader.AsyncImporter
	frame    rendergraph.Graph
	renderer renderer.Renderer
	camera   camera.Camera

	profiler         *profiler.Profiler
	profilingEnabled bool

	// headless viewport, used when there is no window
	width, height int

	clearColor       [4]float32
	renderFrameLimit time.Duration
	parallel         bool
	culling          bool
	mipmaps          bool
	workers          int
	queueSize        int
	drainLimit       int
	searchPaths      []string
	logLevel         string
	logDevelopment   bool
	logConfigured    bool

	tickCallback   func(deltaTime float32)
	frameCallback  func(g rendergraph.Graph, view renderer.View) error
	importCallback func(t *loader.Ticket)

	elapsed     float32
	stats       Stats
	lostSeen    bool
	diagnostics []renderer.Diagnostic

	quitChannel chan struct{}
	quitOnce    sync.Once
}

// Engine owns the GL ES context and the subsystems drawing into it: the resource manager,
// shader cache, scene graph, import bridge, render graph and renderer. It drives one frame
// at a time on the render thread.
type Engine interface {
	// Window returns the window, nil for a headless engine.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Device returns the GL ES device.
	Device() gpu.Device

	// Resources returns the resource manager.
	Resources() resource.Manager

	// Shaders returns the shader variant cache.
	Shaders() shader.Cache

	// Scene returns the scene graph drawn each frame.
	Scene() scene.Graph

	// Importer returns the synchronous asset importer.
	Importer() loader.Importer

	// Renderer returns the renderer.
	Renderer() renderer.Renderer

	// Camera returns the camera used for the scene pass.
	Camera() camera.Camera

	// Import queues an asset for background decoding. The asset joins the scene during a
	// later frame.
	//
	// Parameters:
	//   - name: the asset file name, resolved against the search paths
	//
	// Returns:
	//   - *loader.Ticket: the ticket settled when the asset is committed or fails
	//   - error: error if the import queue is full or closed
	Import(name string) (*loader.Ticket, error)

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickCallback registers the function called at the start of each frame, before the
	// scene is drawn. Scene mutations belong here.
	//
	// Parameters:
	//   - callback: receives the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetFrameCallback registers the function called after the scene pass is declared.
	// It may declare more passes on the frame's render graph.
	//
	// Parameters:
	//   - callback: receives the render graph and the frame's view; an error drops the frame
	SetFrameCallback(callback func(g rendergraph.Graph, view renderer.View) error)

	// SetImportCallback registers the function called for every settled import ticket.
	//
	// Parameters:
	//   - callback: receives the settled ticket on the render thread
	SetImportCallback(callback func(t *loader.Ticket))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// RenderFrame renders one frame: context-loss recovery, import commits, the tick
	// callback, the scene pass and any passes the frame callback declares.
	//
	// Parameters:
	//   - ctx: cancels the frame between render graph batches
	//   - deltaTime: seconds since the previous frame
	//
	// Returns:
	//   - error: the render graph error of a dropped frame
	RenderFrame(ctx context.Context, deltaTime float32) error

	// Diagnostics returns the draws skipped during the last frame.
	Diagnostics() []renderer.Diagnostic

	// Stats returns the frame counters.
	Stats() Stats

	// Run renders frames until the window closes, ctx is done or Quit is called.
	//
	// Parameters:
	//   - ctx: stops the loop when done
	//
	// Returns:
	//   - error: ErrNoWindow for a headless engine, or the context error
	Run(ctx context.Context) error

	// NotifyContextLost reports that the host destroyed the GL ES context, for example when
	// an embedder's surface goes away. Call it on the rendering thread, then restore the
	// device once a new context is current.
	NotifyContextLost()

	// Quit stops Run. Safe to call from any goroutine, and more than once.
	Quit()

	// Close stops the import workers, releases the shader variants and closes an engine
	// owned window.
	//
	// Returns:
	//   - error: error if the window fails to close
	Close() error
}

var _ Engine = &engine{}

// NewEngine creates an Engine. Without WithDevice it locks the calling goroutine to its OS
// thread, opens a window (unless WithWindow supplied one) and creates a GL ES device on its
// context; the returned engine must then stay on that goroutine.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
//   - error: error if logging, the window or the device cannot be set up
func NewEngine(options ...EngineBuilderOption) (Engine, error) {
	e := &engine{
		quitChannel: make(chan struct{}),
		width:       1280,
		height:      720,
		culling:     true,
		mipmaps:     true,
		workers:     2,
		queueSize:   64,
		clearColor:  [4]float32{0.1, 0.1, 0.12, 1},
	}
	for _, opt := range options {
		opt(e)
	}

	if e.logConfigured {
		if err := logger.Init(e.logLevel, e.logDevelopment); err != nil {
			return nil, err
		}
	}
	if e.log == nil {
		e.log = logger.Named("engine")
	}

	if e.device == nil {
		if e.window == nil {
			runtime.LockOSThread()
			w, err := window.NewWindow(e.windowOpts...)
			if err != nil {
				return nil, err
			}
			e.window, e.ownsWindow = w, true
		}
		d, err := gles.NewDevice()
		if err != nil {
			if e.ownsWindow {
				_ = e.window.Close()
			}
			return nil, err
		}
		e.device = d
	}

	e.manager = resource.NewManager(e.device, resource.WithSearchPaths(e.searchPaths...))
	e.shaders = shader.NewCache(e.manager)
	e.scene = scene.NewGraph(e.manager)
	e.importer = loader.NewImporter(e.manager, e.scene, loader.WithMipmaps(e.mipmaps))
	e.async = loader.NewAsyncImporter(e.importer, loader.WithWorkers(e.workers), loader.WithQueueSize(e.queueSize))
	e.frame = rendergraph.NewGraph(e.manager, rendergraph.WithParallelRecording(e.parallel))
	e.renderer = renderer.NewRenderer(e.device, e.manager, e.shaders, renderer.WithCulling(e.culling))
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler()
	}

	width, height := e.viewportSize()
	if e.camera == nil {
		e.camera = camera.NewCamera()
	}
	if height > 0 {
		e.camera.SetAspect(float32(width) / float32(height))
	}

	if e.window != nil {
		e.window.SetResizeCallback(func(width, height int) {
			if height > 0 {
				e.camera.SetAspect(float32(width) / float32(height))
			}
		})
	}

	e.log.Info("engine ready",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Bool("parallel_passes", e.parallel),
		zap.Bool("frustum_culling", e.culling),
		zap.Bool("headless", e.window == nil),
	)
	return e, nil
}

func (e *engine) Window() window.Window       { return e.window }
func (e *engine) Device() gpu.Device          { return e.device }
func (e *engine) Resources() resource.Manager { return e.manager }
func (e *engine) Shaders() shader.Cache       { return e.shaders }
func (e *engine) Scene() scene.Graph          { return e.scene }
func (e *engine) Importer() loader.Importer   { return e.importer }
func (e *engine) Renderer() renderer.Renderer { return e.renderer }
func (e *engine) Camera() camera.Camera       { return e.camera }
func (e *engine) Stats() Stats                { return e.stats }

func (e *engine) Import(name string) (*loader.Ticket, error) {
	return e.async.Submit(name)
}

// EnableProfiler enables performance profiling output to the log.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables performance profiling output.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetFrameCallback(callback func(g rendergraph.Graph, view renderer.View) error) {
	e.frameCallback = callback
}

func (e *engine) SetImportCallback(callback func(t *loader.Ticket)) {
	e.importCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) Diagnostics() []renderer.Diagnostic {
	return e.diagnostics
}

func (e *engine) RenderFrame(ctx context.Context, deltaTime float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.recoverContext() {
		e.stats.Skipped++
		return nil
	}

	e.drainImports()

	if e.tickCallback != nil {
		e.tickCallback(deltaTime)
	}
	e.elapsed += deltaTime
	e.camera.Update()

	view := e.view()
	e.renderer.BeginFrame()
	clearColor := e.clearColor
	err := e.frame.DeclarePass(e.renderer.ScenePass(renderer.ScenePassConfig{
		Graph: e.scene,
		View:  view,
		Clear: &clearColor,
	}))
	if err == nil && e.frameCallback != nil {
		err = e.frameCallback(e.frame, view)
	}
	if err != nil {
		// the frame never reached Compile
		e.frame.Retire()
	} else {
		err = e.frame.ExecuteFrame(ctx)
	}

	e.diagnostics = e.renderer.Diagnostics()
	e.stats.Frames++
	if err != nil {
		e.stats.Dropped++
		e.log.Warn("frame dropped", zap.Uint64("frame", e.stats.Frames), zap.Error(err))
	}

	if e.profilingEnabled {
		e.profiler.Tick(profiler.Sample{
			Resources: e.manager.Stats(),
			Draws:     e.renderer.Stats(),
			Graph:     e.frame.Stats(),
			Shaders:   e.shaders.Stats(),
		})
	}
	return err
}

// recoverContext handles context loss. While the device is lost every record is
// invalidated once per loss and frames are skipped; once the device is restored the
// invalid records are rebuilt and every handle held by the scene and the shader cache is
// remapped. A partial rebuild still renders; the missing records are retried next frame.
//
// Returns:
//   - bool: true if the frame can be rendered
func (e *engine) recoverContext() bool {
	if e.device.ContextLost() {
		if !e.lostSeen {
			e.lostSeen = true
			e.log.Warn("context lost, invalidating resources", zap.Int("records", e.manager.Len()))
			e.manager.InvalidateAll()
		}
		return false
	}
	e.lostSeen = false
	if !e.manager.Invalidated() {
		return true
	}

	remap, err := e.manager.RebuildAll()
	e.scene.RemapHandles(remap)
	if err := e.shaders.RemapHandles(remap); err != nil && len(remap) > 0 {
		e.log.Error("shader remap incomplete", zap.Error(err))
	}
	if err != nil {
		if errors.Is(err, gpu.ErrContextLost) {
			return false
		}
		// draws using records that failed are skipped until a later rebuild succeeds
		e.log.Error("resource rebuild incomplete", zap.Error(err))
	}
	if !e.manager.Invalidated() {
		e.stats.Rebuilds++
		e.log.Info("context restored", zap.Int("remapped", len(remap)), zap.Int("records", e.manager.Len()))
	}
	return true
}

// NotifyContextLost forwards a loss reported by the host to the device. The next frame
// invalidates every resource and frames are skipped until the device is restored.
func (e *engine) NotifyContextLost() {
	n, ok := e.device.(gpu.ContextLossNotifier)
	if !ok {
		e.log.Warn("device cannot be notified of context loss")
		return
	}
	n.MarkContextLost()
}

func (e *engine) drainImports() {
	for _, t := range e.async.Drain(e.drainLimit) {
		if _, err := t.Result(); err != nil {
			e.log.Error("import failed", zap.String("asset", t.Name()), zap.Error(err))
		}
		if e.importCallback != nil {
			e.importCallback(t)
		}
	}
}

func (e *engine) viewportSize() (int, int) {
	if e.window != nil {
		return e.window.Width(), e.window.Height()
	}
	return e.width, e.height
}

func (e *engine) view() renderer.View {
	width, height := e.viewportSize()
	return renderer.View{
		View:       e.camera.View(),
		Projection: e.camera.Projection(),
		Viewport:   gpu.Viewport{Width: width, Height: height},
		Time:       e.elapsed,
	}
}

// Run renders on the calling goroutine, which must be the one NewEngine ran on.
func (e *engine) Run(ctx context.Context) error {
	if e.window == nil {
		return ErrNoWindow
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	last := time.Now()
	for e.window.PollEvents() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.quitChannel:
			return nil
		default:
		}

		start := time.Now()
		dt := float32(start.Sub(last).Seconds())
		last = start

		if err := e.RenderFrame(ctx, dt); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		e.window.SwapBuffers()

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(start); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
	return nil
}

// Quit signals Run to return. Safe to call multiple times; subsequent calls are no-ops due
// to sync.Once.
func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close() error {
	e.Quit()
	e.async.Close()
	e.shaders.Clear()
	logger.Sync()
	if e.ownsWindow && e.window != nil {
		return e.window.Close()
	}
	return nil
}
