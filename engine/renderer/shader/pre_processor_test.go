package shader

import (
	"errors"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessHeader(t *testing.T) {
	pp := NewPreProcessor(nil)

	out, err := pp.Process(gpu.StageFragment, "#version 100\nvoid main() {}", []string{"A", "B=2"})
	require.NoError(t, err)
	assert.Equal(t, "#version 300 es\n#define A\n#define B 2\nprecision highp float;\nvoid main() {}\n", out)

	out, err = pp.Process(gpu.StageFragment, "precision lowp float;\nvoid main() {}", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "precision "))

	out, err = pp.Process(gpu.StageVertex, "void main() {}", nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "precision")
}

func TestProcessAnnotations(t *testing.T) {
	pp := NewPreProcessor(nil)

	src := "//@oxy:include builtins\n//@oxy:optional u_tint 0.5 1\nuniform vec2 u_tint;\nvoid main() {}"
	out, err := pp.Process(gpu.StageVertex, src, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "uniform mat4 u_model;")
	assert.Contains(t, out, "uniform vec4 u_time;")
	assert.NotContains(t, out, "@oxy:")

	decls := pp.Declarations()
	require.Len(t, decls, 1)
	assert.Equal(t, AnnotationArg("u_tint"), decls[0].Args[0])
	assert.Equal(t, []float32{0.5, 1}, decls[0].Default)
	assert.Equal(t, 2, decls[0].Line)

	// declarations reset per call
	_, err = pp.Process(gpu.StageVertex, "void main() {}", nil)
	require.NoError(t, err)
	assert.Empty(t, pp.Declarations())
}

func TestProcessRejectsMalformedAnnotations(t *testing.T) {
	pp := NewPreProcessor(nil)
	for _, src := range []string{
		"//@oxy:",
		"//@oxy:unknown thing",
		"//@oxy:include",
		"//@oxy:include nothing-registered",
		"//@oxy:optional",
		"//@oxy:optional u_x one",
	} {
		_, err := pp.Process(gpu.StageVertex, src, nil)
		assert.Error(t, err, src)
	}
}

func TestProcessIncludes(t *testing.T) {
	files := map[string]string{
		"a.glsl":       "#include \"b.glsl\"\nfloat a;",
		"b.glsl":       "float b;",
		"lambert.glsl": "float lambert;",
	}
	var resolved []string
	pp := NewPreProcessor(func(name string) (string, error) {
		resolved = append(resolved, name)
		src, ok := files[name]
		if !ok {
			return "", errors.New("not found")
		}
		return src, nil
	})

	out, err := pp.Process(gpu.StageVertex, "#include \"a.glsl\"\n#include \"LIGHTING\"\nvoid main() {}", []string{"LIGHTING=lambert.glsl"})
	require.NoError(t, err)
	assert.Contains(t, out, "float b;\nfloat a;\nfloat lambert;\nvoid main() {}")
	assert.Equal(t, []string{"a.glsl", "b.glsl", "lambert.glsl"}, resolved)

	_, err = pp.Process(gpu.StageVertex, "#include \"missing.glsl\"", nil)
	assert.ErrorContains(t, err, "missing.glsl")
}

func TestProcessIncludeDepthLimit(t *testing.T) {
	chain := func(name string) (string, error) {
		n := len(name)
		return "#include \"" + strings.Repeat("x", n+1) + "\"", nil
	}
	_, err := NewPreProcessor(chain).Process(gpu.StageVertex, "#include \"x\"", nil)
	assert.ErrorContains(t, err, "include depth")

	// exactly maxIncludeDepth levels of nesting is allowed
	depth := func(name string) (string, error) {
		if len(name) >= maxIncludeDepth {
			return "float leaf;", nil
		}
		return "#include \"" + name + "x\"", nil
	}
	out, err := NewPreProcessor(depth).Process(gpu.StageVertex, "#include \"x\"", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "float leaf;")
}

func TestNormalizeFeatures(t *testing.T) {
	assert.Equal(t, []string{"A", "B=1", "C"}, NormalizeFeatures([]string{"C", " A", "B=1", "", "A"}))

	src := Source{Name: "s", Vertex: "v", Fragment: "f"}
	assert.Equal(t, KeyFor(src, []string{"B", "A"}), KeyFor(src, []string{"A", "B", "A"}))
	assert.NotEqual(t, KeyFor(src, nil), KeyFor(src, []string{"A"}))
	assert.NotEqual(t, KeyFor(src, nil), KeyFor(Source{Name: "s", Vertex: "vf"}, nil))
}
