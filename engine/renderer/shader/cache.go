package shader

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/logger"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"go.uber.org/zap"
)

// CacheStats counts variant cache activity.
type CacheStats struct {
	Hits     int
	Misses   int
	Failures int
	Variants int
}

// cache is the implementation of the Cache interface.
type cache struct {
	manager  resource.Manager
	log      *zap.Logger
	includes map[string]string
	variants map[VariantKey]*Variant
	rejected map[VariantKey]*CompileError
	stats    CacheStats
}

// Cache compiles shader variants on demand and keeps every successful compile keyed by
// its VariantKey, so each permutation reaches the driver at most once. Programs are
// acquired through the resource manager, which owns them.
//
// A Cache belongs to the rendering thread and must not be used concurrently.
type Cache interface {
	// Compile returns the variant of src for the given feature flags, compiling it on the
	// first request. A rejection is returned as *CompileError and remembered for its key,
	// so later requests return the same error without reaching the driver. A corrected
	// source has a new key; Release or Clear forget the rejection. Device errors are not
	// remembered.
	//
	// Parameters:
	//   - src: the shader source
	//   - features: feature flags, NAME or NAME=VALUE, in any order
	//
	// Returns:
	//   - *Variant: the compiled variant
	//   - error: *CompileError on rejection, or a wrapped device error
	Compile(src Source, features ...string) (*Variant, error)

	// Lookup returns a cached variant without compiling.
	//
	// Parameters:
	//   - key: the variant key
	//
	// Returns:
	//   - *Variant: the cached variant, or nil
	//   - bool: true if the key is cached
	Lookup(key VariantKey) (*Variant, bool)

	// Variants returns every cached variant ordered by key.
	//
	// Returns:
	//   - []*Variant: the cached variants
	Variants() []*Variant

	// RemapHandles rewrites every variant's program handle after a context rebuild and
	// refreshes its binding table from the rebuilt program.
	//
	// Parameters:
	//   - remap: the old to new handle mapping returned by RebuildAll
	//
	// Returns:
	//   - error: a joined error for variants whose program could not be reflected
	RemapHandles(remap resource.Remap) error

	// Release drops a cached variant and releases its program, or forgets a remembered
	// rejection so the key compiles again.
	//
	// Parameters:
	//   - key: the variant key
	//
	// Returns:
	//   - error: an error if the program handle is stale
	Release(key VariantKey) error

	// Clear releases every cached variant and forgets every rejection.
	Clear()

	// Stats returns the cache counters.
	//
	// Returns:
	//   - CacheStats: hits, misses, failures and the number of cached variants
	Stats() CacheStats
}

var _ Cache = &cache{}

// NewCache creates a variant cache that acquires programs through manager.
//
// Parameters:
//   - manager: the resource manager owning the compiled programs
//   - options: functional options applied to the cache
//
// Returns:
//   - Cache: the variant cache
func NewCache(manager resource.Manager, options ...CacheBuilderOption) Cache {
	c := &cache{
		manager:  manager,
		log:      logger.Named("shader"),
		includes: make(map[string]string),
		variants: make(map[VariantKey]*Variant),
		rejected: make(map[VariantKey]*CompileError),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *cache) Compile(src Source, features ...string) (*Variant, error) {
	key := KeyFor(src, features)
	if v, ok := c.variants[key]; ok {
		c.stats.Hits++
		return v, nil
	}
	if ce, ok := c.rejected[key]; ok {
		c.stats.Hits++
		return nil, ce
	}
	c.stats.Misses++

	flags := NormalizeFeatures(features)
	pp := NewPreProcessor(c.resolveInclude)

	stages := [2]string{}
	var optional []Annotation
	for i, stage := range []gpu.Stage{gpu.StageVertex, gpu.StageFragment} {
		raw := src.Vertex
		if stage == gpu.StageFragment {
			raw = src.Fragment
		}
		out, err := pp.Process(stage, raw, flags)
		if err != nil {
			return nil, c.fail(&CompileError{Key: key, Name: src.Name, Stage: stage, Diagnostics: []string{err.Error()}})
		}
		stages[i] = out
		optional = append(optional, pp.Declarations()...)
	}

	h, err := c.manager.Acquire(resource.ProgramDescriptor{Vertex: stages[0], Fragment: stages[1], Label: src.Name})
	if err != nil {
		var cf *gpu.CompileFailure
		if errors.As(err, &cf) {
			return nil, c.fail(&CompileError{Key: key, Name: src.Name, Stage: cf.Stage, Diagnostics: splitDiagnostics(cf.Log)})
		}
		c.stats.Failures++
		return nil, fmt.Errorf("compile shader %q: %w", src.Name, err)
	}

	info, err := c.manager.ProgramInfo(h)
	if err != nil {
		_ = c.manager.Release(h)
		c.stats.Failures++
		return nil, fmt.Errorf("reflect shader %q: %w", src.Name, err)
	}

	v := &Variant{
		Key:      key,
		Name:     src.Name,
		Features: flags,
		Program:  h,
		Bindings: newBindingTable(info, optional),
		optional: optional,
	}
	c.variants[key] = v
	c.log.Debug("variant compiled",
		zap.String("name", src.Name),
		zap.String("key", string(key)),
		zap.Strings("features", flags),
		zap.Int("uniforms", len(v.Bindings.Uniforms)),
	)
	return v, nil
}

func (c *cache) fail(err *CompileError) error {
	c.stats.Failures++
	c.rejected[err.Key] = err
	c.log.Warn("variant rejected",
		zap.String("name", err.Name),
		zap.String("key", string(err.Key)),
		zap.Stringer("stage", err.Stage),
		zap.Strings("diagnostics", err.Diagnostics),
	)
	return err
}

func (c *cache) Lookup(key VariantKey) (*Variant, bool) {
	v, ok := c.variants[key]
	return v, ok
}

func (c *cache) Variants() []*Variant {
	out := make([]*Variant, 0, len(c.variants))
	for _, v := range c.variants {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *Variant) int { return strings.Compare(string(a.Key), string(b.Key)) })
	return out
}

func (c *cache) RemapHandles(remap resource.Remap) error {
	var errs []error
	for _, v := range c.variants {
		v.Program = remap.Apply(v.Program)
		info, err := c.manager.ProgramInfo(v.Program)
		if err != nil {
			errs = append(errs, fmt.Errorf("variant %q (%s): %w", v.Name, v.Key, err))
			continue
		}
		v.Bindings = newBindingTable(info, v.optional)
	}
	return errors.Join(errs...)
}

func (c *cache) Release(key VariantKey) error {
	delete(c.rejected, key)
	v, ok := c.variants[key]
	if !ok {
		return nil
	}
	delete(c.variants, key)
	return c.manager.Release(v.Program)
}

func (c *cache) Clear() {
	clear(c.rejected)
	for key := range c.variants {
		if err := c.Release(key); err != nil {
			c.log.Warn("release variant", zap.String("key", string(key)), zap.Error(err))
		}
	}
}

func (c *cache) Stats() CacheStats {
	s := c.stats
	s.Variants = len(c.variants)
	return s
}

// resolveInclude looks an #include name up in the registered includes, then the embedded
// library, then the manager's search paths.
func (c *cache) resolveInclude(name string) (string, error) {
	if src, ok := c.includes[name]; ok {
		return src, nil
	}
	if src, ok := libraryInclude(name); ok {
		return src, nil
	}
	p, err := c.manager.LocateFile(name)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read include %s: %w", p, err)
	}
	return string(b), nil
}
