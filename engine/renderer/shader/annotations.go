// annotations.go defines the annotation types and parser for the Oxy GLSL ES shader
// pre-processor. Annotations are single-line GLSL comments prefixed with @oxy: that
// drive built-in declaration injection and declare which uniforms a material may leave
// unbound. Being comments, annotations that reach the driver are ignored by it.
package shader

import (
	"fmt"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a GLSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a GLSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects a registered built-in declaration block at the annotation site.
	//
	// Syntax: //@oxy:include <block>
	//
	// Example: //@oxy:include builtins
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeOptional marks a uniform as optional. Materials may leave it unbound and
	// the renderer substitutes the listed default components, or zero when none are listed.
	//
	// Syntax: //@oxy:optional <uniform> [component ...]
	//
	// Example: //@oxy:optional u_tint 1 1 1 1
	AnnotationTypeOptional AnnotationType = "optional"
)

// AnnotationArg is a single argument of an annotation.
type AnnotationArg string

const (
	// AnnotationArgBuiltins names the engine built-in uniform block.
	AnnotationArgBuiltins AnnotationArg = "builtins"
)

// Annotation is the parsed form of one //@oxy: comment line.
type Annotation struct {
	Type AnnotationType
	Args []AnnotationArg
	Line int

	// Default holds the parsed default components of an optional uniform.
	Default []float32
}

// parseAnnotation parses a single source line. It returns nil without error for lines
// that are not annotations.
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	body, ok := strings.CutPrefix(trimmed, "//")
	if !ok {
		return nil, nil
	}
	body, ok = strings.CutPrefix(strings.TrimSpace(body), annotationPrefix)
	if !ok {
		return nil, nil
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, fmt.Errorf("line %d: empty annotation", lineNum)
	}

	a := &Annotation{Type: AnnotationType(fields[0]), Line: lineNum}
	for _, f := range fields[1:] {
		a.Args = append(a.Args, AnnotationArg(f))
	}

	switch a.Type {
	case annotationTypeInclude:
		if len(a.Args) != 1 {
			return nil, fmt.Errorf("line %d: @oxy:include takes exactly one argument, got %d", lineNum, len(a.Args))
		}
	case AnnotationTypeOptional:
		if len(a.Args) == 0 {
			return nil, fmt.Errorf("line %d: @oxy:optional requires a uniform name", lineNum)
		}
		for _, arg := range a.Args[1:] {
			v, err := strconv.ParseFloat(string(arg), 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid default component %q for %s: %w", lineNum, arg, a.Args[0], err)
			}
			a.Default = append(a.Default, float32(v))
		}
	default:
		return nil, fmt.Errorf("line %d: unknown annotation type %q", lineNum, a.Type)
	}
	return a, nil
}
