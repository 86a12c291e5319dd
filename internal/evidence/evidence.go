// Package evidence holds the normalized description of one design component's
// configurable surface: variant axes, scalar properties, text slots and content slots.
//
// Every name is kept verbatim (so it can be written back into generated mapping
// source) next to exactly one normalized key (so it can be matched). Evidence is
// produced once per component and never mutated afterwards.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// PropertyKind classifies a scalar (non-variant) component property.
type PropertyKind string

const (
	KindBoolean  PropertyKind = "boolean"
	KindText     PropertyKind = "text"
	KindInstance PropertyKind = "instance"
)

// Valid reports whether k is one of the known kinds.
func (k PropertyKind) Valid() bool {
	switch k {
	case KindBoolean, KindText, KindInstance:
		return true
	default:
		return false
	}
}

// VariantAxis is one variant dimension (e.g. "Size") and the labels observed for it.
type VariantAxis struct {
	Name   string   `yaml:"name" json:"name"`
	Key    string   `yaml:"key" json:"key"`
	Values []string `yaml:"values" json:"values"`
	Tokens []string `yaml:"tokens,omitempty" json:"tokens,omitempty"`
}

// NormalizedName returns the case-folded, whitespace-collapsed axis name.
func (a VariantAxis) NormalizedName() string {
	return NormalizeLabel(a.Name)
}

// IsBoolean reports whether the axis is boolean-equivalent. See IsBooleanAxis.
func (a VariantAxis) IsBoolean() bool {
	return IsBooleanAxis(a.Values)
}

// ScalarProperty is a boolean, text or instance-swap property.
type ScalarProperty struct {
	Name string       `yaml:"name" json:"name"`
	Key  string       `yaml:"key" json:"key"`
	Kind PropertyKind `yaml:"kind" json:"kind"`
}

// Slot is a named layer available for text or child-content binding.
type Slot struct {
	Name string `yaml:"name" json:"name"`
	Key  string `yaml:"key" json:"key"`
}

// Evidence is the configurable surface of one design component.
type Evidence struct {
	ComponentID      string           `yaml:"component_id" json:"component_id"`
	ComponentName    string           `yaml:"component_name" json:"component_name"`
	URL              string           `yaml:"url,omitempty" json:"url,omitempty"`
	VariantAxes      []VariantAxis    `yaml:"variant_axes" json:"variant_axes"`
	ScalarProperties []ScalarProperty `yaml:"scalar_properties" json:"scalar_properties"`
	TextSlots        []Slot           `yaml:"text_slots" json:"text_slots"`
	ContentSlots     []Slot           `yaml:"content_slots" json:"content_slots"`
}

// Axis returns the variant axis whose key matches name after normalization.
func (e *Evidence) Axis(name string) (VariantAxis, bool) {
	key := NormalizeKey(name)
	for _, a := range e.VariantAxes {
		if a.Key == key {
			return a, true
		}
	}
	return VariantAxis{}, false
}

// Property returns the scalar property whose key matches name after normalization.
func (e *Evidence) Property(name string) (ScalarProperty, bool) {
	key := NormalizeKey(name)
	for _, p := range e.ScalarProperties {
		if p.Key == key {
			return p, true
		}
	}
	return ScalarProperty{}, false
}

// IsEmpty reports whether the component exposes nothing bindable.
func (e *Evidence) IsEmpty() bool {
	return len(e.VariantAxes) == 0 && len(e.ScalarProperties) == 0 &&
		len(e.TextSlots) == 0 && len(e.ContentSlots) == 0
}

// Fingerprint returns a stable digest of the normalized surface. Two Evidence
// values with the same keys, kinds and axis values share a fingerprint
// regardless of declaration order.
func (e *Evidence) Fingerprint() string {
	var parts []string
	for _, a := range e.VariantAxes {
		vals := make([]string, len(a.Values))
		for i, v := range a.Values {
			vals[i] = NormalizeLabel(v)
		}
		parts = append(parts, "axis:"+a.Key+"="+strings.Join(vals, "|"))
	}
	for _, p := range e.ScalarProperties {
		parts = append(parts, "prop:"+p.Key+":"+string(p.Kind))
	}
	for _, s := range e.TextSlots {
		parts = append(parts, "text:"+s.Key)
	}
	for _, s := range e.ContentSlots {
		parts = append(parts, "content:"+s.Key)
	}
	sort.Strings(parts)

	h := sha256.New()
	h.Write([]byte(e.ComponentID))
	h.Write([]byte{0})
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// fill recomputes derived fields (keys and tokens) from the verbatim names.
// Used after decoding an Evidence document, where derived fields are optional.
func (e *Evidence) fill() {
	for i := range e.VariantAxes {
		a := &e.VariantAxes[i]
		a.Key = NormalizeKey(a.Name)
		a.Values = distinct(a.Values)
		a.Tokens = make([]string, len(a.Values))
		for j, v := range a.Values {
			a.Tokens[j] = EnumToken(v)
		}
	}
	for i := range e.ScalarProperties {
		p := &e.ScalarProperties[i]
		p.Key = NormalizeKey(p.Name)
		if !p.Kind.Valid() {
			p.Kind = ClassifyProperty(p.Name, string(p.Kind))
		}
	}
	for i := range e.TextSlots {
		e.TextSlots[i].Key = NormalizeKey(e.TextSlots[i].Name)
	}
	for i := range e.ContentSlots {
		e.ContentSlots[i].Key = NormalizeKey(e.ContentSlots[i].Name)
	}
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
