package evidence

import (
	"errors"
	"strings"
)

// RawProperty is a property definition as reported by the design tool.
// Type is optional; when empty the kind is inferred from the name.
type RawProperty struct {
	Name           string   `yaml:"name" json:"name"`
	Type           string   `yaml:"type,omitempty" json:"type,omitempty"`
	VariantOptions []string `yaml:"variant_options,omitempty" json:"variantOptions,omitempty"`
}

// RawComponent is the un-normalized component description handed over by the
// metadata collaborator.
type RawComponent struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name"`
	URL          string        `yaml:"url,omitempty" json:"url,omitempty"`
	Properties   []RawProperty `yaml:"properties" json:"properties"`
	Variants     []string      `yaml:"variants,omitempty" json:"variants,omitempty"`
	TextLayers   []string      `yaml:"text_layers,omitempty" json:"textLayers,omitempty"`
	ContentSlots []string      `yaml:"content_slots,omitempty" json:"contentSlots,omitempty"`
}

// ErrNoComponentName is returned by Build for a component without a name.
var ErrNoComponentName = errors.New("component has no name")

// Build normalizes a raw component into Evidence.
//
// Variant axes are collected from explicit VARIANT definitions and from variant
// names of the form "Size=Small, State=Hover"; values keep first-seen order.
// Names are deduplicated by normalized key, first occurrence wins.
func Build(raw RawComponent) (*Evidence, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return nil, ErrNoComponentName
	}

	ev := &Evidence{
		ComponentID:   raw.ID,
		ComponentName: strings.TrimSpace(raw.Name),
		URL:           raw.URL,
	}

	axes := newAxisCollector()
	seenProps := make(map[string]bool)

	for _, p := range raw.Properties {
		name := stripNodeSuffix(p.Name)
		key := NormalizeKey(name)
		if key == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(p.Type), "VARIANT") {
			axes.add(name, p.VariantOptions...)
			continue
		}
		if seenProps[key] {
			continue
		}
		seenProps[key] = true
		ev.ScalarProperties = append(ev.ScalarProperties, ScalarProperty{
			Name: name,
			Key:  key,
			Kind: ClassifyProperty(name, p.Type),
		})
	}

	for _, variant := range raw.Variants {
		for _, pair := range parseVariantName(variant) {
			axes.add(pair[0], pair[1])
		}
	}
	ev.VariantAxes = axes.axes()

	ev.TextSlots = buildSlots(raw.TextLayers)
	ev.ContentSlots = buildSlots(raw.ContentSlots)
	return ev, nil
}

func buildSlots(names []string) []Slot {
	seen := make(map[string]bool, len(names))
	var slots []Slot
	for _, n := range names {
		name := strings.TrimSpace(n)
		key := NormalizeKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		slots = append(slots, Slot{Name: name, Key: key})
	}
	return slots
}

// parseVariantName splits "Size=Small, State=Hover" into ordered axis/value
// pairs. Segments without "=" are ignored.
func parseVariantName(variant string) [][2]string {
	var out [][2]string
	for _, seg := range strings.Split(variant, ",") {
		axis, value, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		axis = strings.TrimSpace(axis)
		value = strings.TrimSpace(value)
		if axis == "" || value == "" {
			continue
		}
		out = append(out, [2]string{axis, value})
	}
	return out
}

type axisEntry struct {
	name   string
	values []string
	seen   map[string]bool
}

type axisCollector struct {
	order []string
	byKey map[string]*axisEntry
}

func newAxisCollector() *axisCollector {
	return &axisCollector{byKey: make(map[string]*axisEntry)}
}

func (c *axisCollector) add(name string, values ...string) {
	key := NormalizeKey(name)
	if key == "" {
		return
	}
	entry, ok := c.byKey[key]
	if !ok {
		entry = &axisEntry{name: name, seen: make(map[string]bool)}
		c.byKey[key] = entry
		c.order = append(c.order, key)
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || entry.seen[v] {
			continue
		}
		entry.seen[v] = true
		entry.values = append(entry.values, v)
	}
}

// axes returns the collected axes in first-seen order with derived tokens.
func (c *axisCollector) axes() []VariantAxis {
	axes := make([]VariantAxis, 0, len(c.order))
	for _, key := range c.order {
		entry := c.byKey[key]
		tokens := make([]string, len(entry.values))
		for i, v := range entry.values {
			tokens[i] = EnumToken(v)
		}
		axes = append(axes, VariantAxis{
			Name:   entry.name,
			Key:    key,
			Values: entry.values,
			Tokens: tokens,
		})
	}
	return axes
}
