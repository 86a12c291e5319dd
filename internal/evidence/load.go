package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of an evidence document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the document format from a file extension.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads every component described in the file at path.
func Load(path string) ([]*Evidence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence %s: %w", path, err)
	}
	evs, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse evidence %s: %w", path, err)
	}
	return evs, nil
}

// Parse decodes an evidence document. A document is either a single component
// or a list under "components". Each component may be given in normalized form
// (variant_axes, scalar_properties, ...) or raw form (properties, variants, ...);
// raw components are normalized with Build.
func Parse(data []byte, format Format) ([]*Evidence, error) {
	var probe map[string]any
	if err := unmarshal(data, format, &probe); err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, fmt.Errorf("empty evidence document")
	}

	if _, ok := probe["components"]; ok {
		var doc struct {
			Components []rawNode `yaml:"components" json:"components"`
		}
		if err := unmarshal(data, format, &doc); err != nil {
			return nil, err
		}
		out := make([]*Evidence, 0, len(doc.Components))
		for i, node := range doc.Components {
			ev, err := node.decode(format)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			out = append(out, ev)
		}
		return out, nil
	}

	ev, err := decodeOne(data, format, probe)
	if err != nil {
		return nil, err
	}
	return []*Evidence{ev}, nil
}

// rawNode defers decoding of a list element until its shape is known.
type rawNode struct {
	yamlNode yaml.Node
	jsonRaw  json.RawMessage
}

func (n *rawNode) UnmarshalYAML(value *yaml.Node) error {
	n.yamlNode = *value
	return nil
}

func (n *rawNode) UnmarshalJSON(data []byte) error {
	n.jsonRaw = append(json.RawMessage(nil), data...)
	return nil
}

func (n rawNode) decode(format Format) (*Evidence, error) {
	var data []byte
	var err error
	if format == FormatJSON {
		data = n.jsonRaw
	} else {
		data, err = yaml.Marshal(&n.yamlNode)
		if err != nil {
			return nil, err
		}
	}
	var probe map[string]any
	if err := unmarshal(data, format, &probe); err != nil {
		return nil, err
	}
	return decodeOne(data, format, probe)
}

func decodeOne(data []byte, format Format, probe map[string]any) (*Evidence, error) {
	if isRaw(probe) {
		var raw RawComponent
		if err := unmarshal(data, format, &raw); err != nil {
			return nil, err
		}
		return Build(raw)
	}

	var ev Evidence
	if err := unmarshal(data, format, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.ComponentName) == "" {
		return nil, ErrNoComponentName
	}
	ev.fill()
	return &ev, nil
}

func isRaw(probe map[string]any) bool {
	for _, k := range []string{"properties", "variants", "text_layers", "textLayers"} {
		if _, ok := probe[k]; ok {
			return true
		}
	}
	return false
}

func unmarshal(data []byte, format Format, v any) error {
	if format == FormatJSON {
		return json.Unmarshal(data, v)
	}
	return yaml.Unmarshal(data, v)
}

// Select picks one component from a loaded document. An empty name is only
// accepted when the document holds a single component; otherwise name must
// match a component ID or (case-insensitively) a component name.
func Select(evs []*Evidence, name string) (*Evidence, error) {
	if len(evs) == 0 {
		return nil, fmt.Errorf("evidence document has no components")
	}
	if name == "" {
		if len(evs) == 1 {
			return evs[0], nil
		}
		return nil, fmt.Errorf("evidence document has %d components, pick one of: %s", len(evs), componentNames(evs))
	}
	for _, ev := range evs {
		if ev.ComponentID == name || strings.EqualFold(ev.ComponentName, name) {
			return ev, nil
		}
	}
	return nil, fmt.Errorf("component %q not found, have: %s", name, componentNames(evs))
}

func componentNames(evs []*Evidence) string {
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.ComponentName
		if names[i] == "" {
			names[i] = ev.ComponentID
		}
	}
	return strings.Join(names, ", ")
}
