package material

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-gles/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-gles/engine/resource"
)

// UnboundParameter is a warning for a material parameter the variant has no matching
// slot for. It never prevents a draw.
type UnboundParameter struct {
	Material string
	Param    string
	Reason   string
}

func (w UnboundParameter) String() string {
	return fmt.Sprintf("material %q: parameter %q not bound: %s", w.Material, w.Param, w.Reason)
}

// MissingBindingError reports required slots the material does not provide. The draw
// using the binding must be skipped.
type MissingBindingError struct {
	Material string
	Variant  shader.VariantKey
	Slots    []string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("material %q is missing required bindings for variant %s: %s", e.Material, e.Variant, strings.Join(e.Slots, ", "))
}

// BoundValue is a value assigned to a uniform slot.
type BoundValue struct {
	Slot   shader.Binding
	Values []float32

	// Default is true when the value came from the slot's default rather than the material.
	Default bool
}

// BoundTexture is a texture assigned to a sampler slot and texture unit.
type BoundTexture struct {
	Slot    shader.Binding
	Unit    int
	Texture resource.Handle
	Sampler resource.Handle
}

// Binding is a material matched against a variant's binding table. Built-in slots are
// left to the renderer.
type Binding struct {
	Variant  *shader.Variant
	Values   []BoundValue
	Textures []BoundTexture
	Warnings []UnboundParameter
}

// Bind matches every material parameter to a slot of the variant. Parameters without a
// matching slot become warnings. Required slots the material leaves open fail the bind
// with *MissingBindingError; optional ones receive their declared default, zero filled.
//
// Parameters:
//   - m: the material
//   - v: the compiled variant the material draws with
//
// Returns:
//   - Binding: the matched values, textures and warnings
//   - error: a *MissingBindingError if a required slot is unbound
func Bind(m Material, v *shader.Variant) (Binding, error) {
	b := Binding{Variant: v}
	bound := make(map[string]bool)

	for _, p := range m.Params() {
		slot, ok := v.Bindings.Uniform(p.Name)
		switch {
		case !ok:
			b.Warnings = append(b.Warnings, UnboundParameter{Material: m.Name(), Param: p.Name, Reason: "no such uniform"})
			continue
		case shader.IsBuiltin(p.Name):
			b.Warnings = append(b.Warnings, UnboundParameter{Material: m.Name(), Param: p.Name, Reason: "built-in uniform"})
			continue
		case p.Kind == ParamTexture && !slot.Type.IsSampler():
			b.Warnings = append(b.Warnings, UnboundParameter{Material: m.Name(), Param: p.Name, Reason: "texture bound to a non-sampler uniform"})
			continue
		case p.Kind == ParamValue && slot.Type.IsSampler():
			b.Warnings = append(b.Warnings, UnboundParameter{Material: m.Name(), Param: p.Name, Reason: "value bound to a sampler uniform"})
			continue
		case p.Kind == ParamValue && len(p.Value) != width(slot):
			b.Warnings = append(b.Warnings, UnboundParameter{
				Material: m.Name(),
				Param:    p.Name,
				Reason:   fmt.Sprintf("has %d components, uniform takes %d", len(p.Value), width(slot)),
			})
			continue
		}

		bound[p.Name] = true
		if p.Kind == ParamTexture {
			b.Textures = append(b.Textures, BoundTexture{Slot: slot, Texture: p.Texture, Sampler: p.Sampler})
		} else {
			b.Values = append(b.Values, BoundValue{Slot: slot, Values: p.Value})
		}
	}

	var missing []string
	for _, slot := range v.Bindings.Uniforms {
		if bound[slot.Name] || shader.IsBuiltin(slot.Name) {
			continue
		}
		if slot.Required {
			missing = append(missing, slot.Name)
			continue
		}
		if !slot.Type.IsSampler() {
			b.Values = append(b.Values, BoundValue{Slot: slot, Values: defaultValue(slot), Default: true})
		}
	}

	for i := range b.Textures {
		b.Textures[i].Unit = i
	}

	if len(missing) > 0 {
		return b, &MissingBindingError{Material: m.Name(), Variant: v.Key, Slots: missing}
	}
	return b, nil
}

func width(slot shader.Binding) int {
	return slot.Type.Components() * max(slot.Size, 1)
}

// defaultValue fits the slot's declared default to its width, zero filling the rest.
func defaultValue(slot shader.Binding) []float32 {
	out := make([]float32, width(slot))
	copy(out, slot.Default)
	return out
}
