package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer"
	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/rendergraph"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"go.uber.org/zap"
)

// Sample is the engine state observed at the end of a frame.
type Sample struct {
	Resources resource.Stats
	Draws     renderer.FrameStats
	Graph     rendergraph.Stats
	Shaders   shader.CacheStats
}

// Report is one logged summary.
type Report struct {
	FPS         float64
	HeapMB      float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
	SysMB       float64

	// VRAMMB is the estimated GPU memory held by live resources.
	VRAMMB float64

	Sample Sample
}

// Profiler tracks frame rate, memory and GPU resource statistics and logs a summary at a
// configurable interval.
type Profiler struct {
	log            *zap.Logger
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Report
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		log:            logger.Named("profiler"),
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Tick should be called once per frame with the frame's sample. When the update interval
// has elapsed it logs FPS, heap usage, allocation rate, GC pauses, estimated VRAM, live
// GPU objects, draw counts and dropped frames.
//
// Parameters:
//   - s: the state observed at the end of the frame
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick(s Sample) bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}
	seconds := max(elapsed.Seconds(), 1e-9)

	runtime.ReadMemStats(&p.memStats)
	r := Report{
		FPS:         float64(p.frameCount) / seconds,
		HeapMB:      float64(p.memStats.Alloc) / 1024 / 1024,
		SysMB:       float64(p.memStats.Sys) / 1024 / 1024,
		AllocRateMB: float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / seconds,
		GCCount:     p.memStats.NumGC,
		VRAMMB:      float64(s.Resources.Bytes) / 1024 / 1024,
		Sample:      s,
	}

	// PauseNs is a circular buffer of the last 256 GC pauses
	if gc := p.memStats.NumGC; gc > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(gc-1)%256] / 1000
		start := p.lastGCCount
		if gc-start > 256 {
			start = gc - 256
		}
		for i := start; i < gc; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	fields := []zap.Field{
		zap.Float64("fps", r.FPS),
		zap.Float64("heap_mb", r.HeapMB),
		zap.Float64("alloc_rate_mb_s", r.AllocRateMB),
		zap.Uint32("gc", r.GCCount),
		zap.Uint64("gc_last_us", r.LastPauseUs),
		zap.Uint64("gc_max_us", r.MaxPauseUs),
		zap.Float64("sys_mb", r.SysMB),
		zap.Float64("vram_mb", r.VRAMMB),
	}
	for _, kind := range gpu.ObjectKinds {
		fields = append(fields, zap.Int("live_"+kind.String(), s.Resources.Live[kind]))
	}
	fields = append(fields,
		zap.Int("draws", s.Draws.Drawn),
		zap.Int("skipped", s.Draws.Skipped),
		zap.Int("culled", s.Draws.Culled),
		zap.Int("passes", s.Graph.Passes),
		zap.Uint64("dropped_frames", s.Graph.Dropped),
		zap.Int("shader_variants", s.Shaders.Variants),
	)
	p.log.Info("frame stats", fields...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = p.memStats.NumGC
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.last = r
	return true
}

// Last returns the most recent report.
func (p *Profiler) Last() Report {
	return p.last
}
