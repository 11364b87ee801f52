// pre_processor.go implements the Oxy GLSL ES shader pre-processor. It normalizes the
// #version header, emits a #define per feature flag, expands #include "file" directives
// through an IncludeResolver, and replaces @oxy: annotations with their declarations.
//
// The pre-processor maintains one registry, blockRegistry, which maps @oxy:include
// arguments to the GLSL declaration blocks the engine provides.
package shader

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
)

// maxIncludeDepth bounds nested #include expansion.
const maxIncludeDepth = 4

// glslVersion is prepended to sources that do not declare a version.
const glslVersion = "#version 300 es"

// Names of the built-in uniforms declared by //@oxy:include builtins. The renderer
// fills these for every draw, so materials never need to bind them.
const (
	BuiltinModel    = "u_model"
	BuiltinView     = "u_view"
	BuiltinProj     = "u_proj"
	BuiltinViewProj = "u_view_proj"
	BuiltinViewport = "u_viewport"
	BuiltinTime     = "u_time"
)

var builtinsSource = strings.Join([]string{
	"uniform mat4 " + BuiltinModel + ";",
	"uniform mat4 " + BuiltinView + ";",
	"uniform mat4 " + BuiltinProj + ";",
	"uniform mat4 " + BuiltinViewProj + ";",
	"uniform vec4 " + BuiltinViewport + ";",
	"uniform vec4 " + BuiltinTime + ";",
}, "\n")

// IsBuiltin reports whether a uniform name is supplied by the renderer.
func IsBuiltin(name string) bool {
	switch name {
	case BuiltinModel, BuiltinView, BuiltinProj, BuiltinViewProj, BuiltinViewport, BuiltinTime:
		return true
	}
	return false
}

var includeDirective = regexp.MustCompile(`^\s*#\s*include\s+"([^"]+)"\s*$`)

// IncludeResolver loads the source of a file named by an #include directive.
type IncludeResolver func(name string) (string, error)

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// blockRegistry maps @oxy:include arguments to built-in GLSL declaration blocks.
	blockRegistry map[AnnotationArg]string

	resolve IncludeResolver

	// declarations accumulates AnnotationTypeOptional annotations during a Process call.
	// Reset at the start of each Process invocation.
	declarations []Annotation
}

// PreProcessor turns a raw GLSL ES stage source plus a set of feature flags into the
// exact text handed to the driver.
type PreProcessor interface {
	// Process pre-processes one shader stage. The output always starts with a #version
	// directive followed by one #define per feature flag in sorted order. Fragment stages
	// without a precision statement receive a default highp float precision.
	//
	// The declarations list is reset at the start of each call and can be retrieved
	// via Declarations() after Process returns.
	//
	// Parameters:
	//   - stage: the shader stage being processed
	//   - source: the raw GLSL ES source
	//   - features: normalized feature flags, NAME or NAME=VALUE
	//
	// Returns:
	//   - string: the processed source
	//   - error: an error if an include cannot be resolved, nests too deeply, or an annotation is malformed
	Process(stage gpu.Stage, source string, features []string) (string, error)

	// Declarations returns the AnnotationTypeOptional annotations collected during the most
	// recent call to Process, in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor that resolves #include directives through resolve.
// A nil resolver rejects every #include.
//
// Parameters:
//   - resolve: the include resolver
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(resolve IncludeResolver) PreProcessor {
	if resolve == nil {
		resolve = func(name string) (string, error) {
			return "", fmt.Errorf("no include resolver configured for %q", name)
		}
	}
	return &preProcessor{
		blockRegistry: map[AnnotationArg]string{
			AnnotationArgBuiltins: builtinsSource,
		},
		resolve: resolve,
	}
}

func (p *preProcessor) Process(stage gpu.Stage, source string, features []string) (string, error) {
	p.declarations = p.declarations[:0]

	defines := make(map[string]string, len(features))
	var header strings.Builder
	header.WriteString(glslVersion + "\n")
	for _, f := range features {
		name, value, _ := strings.Cut(f, "=")
		defines[name] = value
		if value == "" {
			fmt.Fprintf(&header, "#define %s\n", name)
		} else {
			fmt.Fprintf(&header, "#define %s %s\n", name, value)
		}
	}

	var body []string
	if err := p.expand(source, "<main>", 0, defines, &body); err != nil {
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}

	if stage == gpu.StageFragment && !slices.ContainsFunc(body, isPrecisionStatement) {
		header.WriteString("precision highp float;\n")
	}
	return header.String() + strings.Join(body, "\n") + "\n", nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

// expand appends the processed lines of source to out, following includes recursively.
func (p *preProcessor) expand(source, file string, depth int, defines map[string]string, out *[]string) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("%s: include depth exceeds %d", file, maxIncludeDepth)
	}

	// iterate through each line of the source, replacing directives and annotations with their expansion and keeping every other line as is.
	for i, line := range strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#version") {
			continue
		}

		if m := includeDirective.FindStringSubmatch(line); m != nil {
			name := m[1]
			if v, ok := defines[name]; ok && v != "" {
				name = v
			}
			included, err := p.resolve(name)
			if err != nil {
				return fmt.Errorf("%s:%d: include %q: %w", file, i+1, name, err)
			}
			if err := p.expand(included, name, depth+1, defines, out); err != nil {
				return err
			}
			continue
		}

		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if a == nil {
			*out = append(*out, line)
			continue
		}

		// handle annotation based on its type and arguments
		switch a.Type {
		case annotationTypeInclude:
			block, ok := p.blockRegistry[a.Args[0]]
			if !ok {
				return fmt.Errorf("%s:%d: unknown @oxy:include argument %q", file, i+1, a.Args[0])
			}
			*out = append(*out, block)
		case AnnotationTypeOptional:
			p.declarations = append(p.declarations, *a)
		}
	}
	return nil
}

func isPrecisionStatement(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "precision ")
}

// NormalizeFeatures returns a sorted copy of flags with duplicates and empty entries removed.
// Flag order never affects the variant key.
//
// Parameters:
//   - flags: feature flags, NAME or NAME=VALUE
//
// Returns:
//   - []string: the normalized flags
func NormalizeFeatures(flags []string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
