package gpu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	uniformDecl   = regexp.MustCompile(`^\s*uniform\s+(?:(?:lowp|mediump|highp)\s+)?(\w+)\s+(\w+)\s*(?:\[(\d+)\])?\s*;`)
	attributeDecl = regexp.MustCompile(`^\s*(?:layout\s*\([^)]*\)\s*)?(?:in|attribute)\s+(?:(?:lowp|mediump|highp)\s+)?(\w+)\s+(\w+)\s*;`)
	errorDirect   = regexp.MustCompile(`^\s*#\s*error\b(.*)$`)
	mainDecl      = regexp.MustCompile(`\bvoid\s+main\s*\(`)
	defineDirect  = regexp.MustCompile(`^\s*#\s*define\s+(\w+)`)
	condDirect    = regexp.MustCompile(`^\s*#\s*(ifdef|ifndef|if|elif|else|endif)\b\s*(.*)$`)
	definedExpr   = regexp.MustCompile(`^(!)?\s*defined\s*\(?\s*(\w+)\s*\)?$`)
)

var glslTypes = map[string]DataType{
	"float":       TypeFloat,
	"vec2":        TypeVec2,
	"vec3":        TypeVec3,
	"vec4":        TypeVec4,
	"int":         TypeInt,
	"bool":        TypeInt,
	"mat3":        TypeMat3,
	"mat4":        TypeMat4,
	"sampler2D":   TypeSampler2D,
	"samplerCube": TypeSamplerCube,
}

// conditional is one level of #if nesting.
type conditional struct {
	active bool
	taken  bool
	parent bool
}

// scanStage performs the subset of GLSL ES front-end checks the software device models:
// a main entry point must exist, #error directives fail the compile, and top-level
// uniform/attribute declarations are reflected. #define and the #ifdef family are
// honored so feature-gated declarations only appear when their flag is set. #if
// expressions other than defined(NAME) are treated as true.
func scanStage(stage Stage, source string) (uniforms, attributes []Slot, err error) {
	if !mainDecl.MatchString(source) {
		return nil, nil, &CompileFailure{Stage: stage, Log: "ERROR: 0:0: 'main' : function not defined"}
	}

	defines := make(map[string]bool)
	var stack []conditional
	active := true

	for i, line := range strings.Split(source, "\n") {
		if m := condDirect.FindStringSubmatch(line); m != nil {
			expr := strings.TrimSpace(m[2])
			switch m[1] {
			case "ifdef", "ifndef", "if":
				var cond bool
				switch m[1] {
				case "ifdef":
					cond = defines[expr]
				case "ifndef":
					cond = !defines[expr]
				default:
					cond = evalDefined(expr, defines)
				}
				stack = append(stack, conditional{active: active && cond, taken: cond, parent: active})
			case "elif", "else":
				if len(stack) == 0 {
					return nil, nil, &CompileFailure{Stage: stage, Log: fmt.Sprintf("ERROR: 0:%d: '#%s' : unexpected", i+1, m[1])}
				}
				top := &stack[len(stack)-1]
				cond := m[1] == "else" || evalDefined(expr, defines)
				top.active = top.parent && !top.taken && cond
				top.taken = top.taken || cond
			case "endif":
				if len(stack) == 0 {
					return nil, nil, &CompileFailure{Stage: stage, Log: fmt.Sprintf("ERROR: 0:%d: '#endif' : unexpected", i+1)}
				}
				stack = stack[:len(stack)-1]
			}
			active = len(stack) == 0 || stack[len(stack)-1].active
			continue
		}
		if !active {
			continue
		}
		if m := defineDirect.FindStringSubmatch(line); m != nil {
			defines[m[1]] = true
			continue
		}
		if m := errorDirect.FindStringSubmatch(line); m != nil {
			return nil, nil, &CompileFailure{Stage: stage, Log: fmt.Sprintf("ERROR: 0:%d: '#error' :%s", i+1, m[1])}
		}
		if m := uniformDecl.FindStringSubmatch(line); m != nil {
			t, ok := glslTypes[m[1]]
			if !ok {
				return nil, nil, &CompileFailure{Stage: stage, Log: fmt.Sprintf("ERROR: 0:%d: '%s' : unsupported uniform type", i+1, m[1])}
			}
			size := 1
			if m[3] != "" {
				size, _ = strconv.Atoi(m[3])
			}
			uniforms = append(uniforms, Slot{Name: m[2], Type: t, Size: size})
			continue
		}
		if stage == StageVertex {
			if m := attributeDecl.FindStringSubmatch(line); m != nil {
				if t, ok := glslTypes[m[1]]; ok {
					attributes = append(attributes, Slot{Name: m[2], Type: t, Size: 1})
				}
			}
		}
	}
	if len(stack) != 0 {
		return nil, nil, &CompileFailure{Stage: stage, Log: "ERROR: 0:0: '#endif' : missing"}
	}
	return uniforms, attributes, nil
}

func evalDefined(expr string, defines map[string]bool) bool {
	m := definedExpr.FindStringSubmatch(expr)
	if m == nil {
		return true
	}
	return defines[m[2]] != (m[1] == "!")
}

// linkStages merges the reflected slots of both stages and assigns locations in declaration order.
func linkStages(vs, fs []Slot, attrs []Slot) (ProgramInfo, error) {
	var info ProgramInfo
	seen := make(map[string]DataType)
	for _, s := range append(append([]Slot{}, vs...), fs...) {
		if t, ok := seen[s.Name]; ok {
			if t != s.Type {
				return ProgramInfo{}, &CompileFailure{Stage: StageLink, Log: fmt.Sprintf("uniform %q declared with different types in vertex and fragment stage", s.Name)}
			}
			continue
		}
		seen[s.Name] = s.Type
		s.Location = int32(len(info.Uniforms))
		info.Uniforms = append(info.Uniforms, s)
	}
	for i, a := range attrs {
		a.Location = int32(i)
		info.Attributes = append(info.Attributes, a)
	}
	return info, nil
}
