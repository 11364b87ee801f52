package shader

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/engine/gpu"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
	"golang.org/x/crypto/blake2b"
)

// Source is the logical identity of a shader program: a name plus the raw source of both stages.
type Source struct {
	Name     string
	Vertex   string
	Fragment string
}

// VariantKey identifies one compiled permutation of a Source.
type VariantKey string

// KeyFor derives the variant key of a source compiled with a set of feature flags. Flags
// are normalized first, so their order and duplicates never change the key.
//
// Parameters:
//   - src: the shader source
//   - features: feature flags, NAME or NAME=VALUE
//
// Returns:
//   - VariantKey: the deterministic key
func KeyFor(src Source, features []string) VariantKey {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{src.Name, src.Vertex, src.Fragment} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	for _, f := range NormalizeFeatures(features) {
		fmt.Fprintf(h, "%d:%s", len(f), f)
	}
	return VariantKey(hex.EncodeToString(h.Sum(nil)[:16]))
}

// Binding is one slot of a variant's binding table.
type Binding struct {
	gpu.Slot

	// Required slots must be bound by the material unless the renderer supplies them.
	Required bool

	// Default is substituted for an unbound optional slot.
	Default []float32
}

// BindingTable lists a variant's uniform and attribute slots.
type BindingTable struct {
	Uniforms   []Binding
	Attributes []gpu.Slot
}

// Uniform returns the uniform slot with the given name.
func (t BindingTable) Uniform(name string) (Binding, bool) {
	for _, u := range t.Uniforms {
		if u.Name == name {
			return u, true
		}
	}
	return Binding{}, false
}

// Attribute returns the attribute slot with the given name.
func (t BindingTable) Attribute(name string) (gpu.Slot, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return gpu.Slot{}, false
}

func newBindingTable(info gpu.ProgramInfo, optional []Annotation) BindingTable {
	defaults := make(map[string][]float32, len(optional))
	for _, a := range optional {
		defaults[string(a.Args[0])] = a.Default
	}

	t := BindingTable{Attributes: info.Attributes}
	for _, s := range info.Uniforms {
		def, isOptional := defaults[s.Name]
		t.Uniforms = append(t.Uniforms, Binding{
			Slot:     s,
			Required: !isOptional && !IsBuiltin(s.Name),
			Default:  def,
		})
	}
	return t
}

// Variant is a compiled program permutation together with its binding table.
type Variant struct {
	Key      VariantKey
	Name     string
	Features []string
	Program  resource.Handle
	Bindings BindingTable

	optional []Annotation
}

// CompileError reports a variant the driver or the pre-processor rejected. It is a
// recoverable error: the draws using the variant are skipped, and the cache returns the
// same error for the key until the variant is released.
type CompileError struct {
	Key         VariantKey
	Name        string
	Stage       gpu.Stage
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader %q (%s) failed to compile in %s stage: %s", e.Name, e.Key, e.Stage, strings.Join(e.Diagnostics, "; "))
}

// splitDiagnostics turns a driver info log into one diagnostic per non-empty line.
func splitDiagnostics(log string) []string {
	var out []string
	for _, line := range strings.Split(log, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
