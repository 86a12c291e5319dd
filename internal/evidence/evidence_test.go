package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Size", "size"},
		{"Show Icon?", "showicon"},
		{"?Icon", "icon"},
		{"  Has-Border  ", "hasborder"},
		{"Label_2", "label2"},
		{"??Double", "double"},
		{"Größe", "größe"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.in))
		})
	}
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	inputs := []string{
		"Size", "Show Icon?", "?Icon?", "??x??", "a b\tc", "İstanbul", "Label#12:3",
		"---", "?", "Ünïcödé Name", "camelCaseKey", "snake_case_key", "42 Things",
	}
	for _, in := range inputs {
		once := NormalizeKey(in)
		assert.Equal(t, once, NormalizeKey(once), "input %q", in)
	}
}

func TestEnumToken(t *testing.T) {
	assert.Equal(t, "extra_large_xl", EnumToken("Extra Large / XL"))
	assert.Equal(t, "small", EnumToken("  Small "))
	assert.Equal(t, "a_b", EnumToken("--A--B--"))
	assert.Equal(t, "", EnumToken("***"))
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "primary button", NormalizeLabel("  Primary \t Button "))
}

func TestIsBooleanAxis(t *testing.T) {
	tests := []struct {
		values []string
		want   bool
	}{
		{[]string{"Yes", "No"}, true},
		{[]string{"no", "YES"}, true},
		{[]string{"True", "False"}, true},
		{[]string{"On", "Off"}, true},
		{[]string{"off", "ON"}, true},
		{[]string{"Yes", "No", "Maybe"}, false},
		{[]string{"Red", "Blue"}, false},
		{[]string{"Yes", "Off"}, false},
		{[]string{"Yes"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBooleanAxis(tt.values), "values %v", tt.values)
	}
}

func TestClassifyProperty(t *testing.T) {
	tests := []struct {
		name, declared string
		want           PropertyKind
	}{
		{"Disabled", "BOOLEAN", KindBoolean},
		{"Icon", "INSTANCE_SWAP", KindInstance},
		{"Anything", "TEXT", KindText},
		{"Show Icon?", "", KindBoolean},
		{"Button Label", "", KindText},
		{"Helper text", "", KindText},
		{"Leading Icon", "", KindInstance},
		{"Title?", "", KindBoolean},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyProperty(tt.name, tt.declared), tt.name)
	}
}

func TestBuild(t *testing.T) {
	raw := RawComponent{
		ID:   "1:23",
		Name: "Button",
		Properties: []RawProperty{
			{Name: "Label#101:0", Type: "TEXT"},
			{Name: "Show Icon?"},
			{Name: "Icon#102:4", Type: "INSTANCE_SWAP"},
			{Name: "label", Type: "TEXT"}, // duplicate by key
			{Name: "Variant", Type: "VARIANT", VariantOptions: []string{"Primary", "Secondary"}},
		},
		Variants: []string{
			"Size=Small, Disabled=No",
			"Size=Large, Disabled=Yes",
			"Size=Small, Disabled=Yes, Variant=Tertiary",
		},
		TextLayers:   []string{"Label", "Caption", "label"},
		ContentSlots: []string{"Content"},
	}

	ev, err := Build(raw)
	require.NoError(t, err)

	wantAxes := []VariantAxis{
		{Name: "Variant", Key: "variant", Values: []string{"Primary", "Secondary", "Tertiary"}, Tokens: []string{"primary", "secondary", "tertiary"}},
		{Name: "Size", Key: "size", Values: []string{"Small", "Large"}, Tokens: []string{"small", "large"}},
		{Name: "Disabled", Key: "disabled", Values: []string{"No", "Yes"}, Tokens: []string{"no", "yes"}},
	}
	if diff := cmp.Diff(wantAxes, ev.VariantAxes); diff != "" {
		t.Errorf("variant axes mismatch (-want +got):\n%s", diff)
	}

	wantProps := []ScalarProperty{
		{Name: "Label", Key: "label", Kind: KindText},
		{Name: "Show Icon?", Key: "showicon", Kind: KindBoolean},
		{Name: "Icon", Key: "icon", Kind: KindInstance},
	}
	if diff := cmp.Diff(wantProps, ev.ScalarProperties); diff != "" {
		t.Errorf("scalar properties mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []Slot{{Name: "Label", Key: "label"}, {Name: "Caption", Key: "caption"}}, ev.TextSlots)
	assert.Equal(t, []Slot{{Name: "Content", Key: "content"}}, ev.ContentSlots)

	axis, ok := ev.Axis("disabled")
	require.True(t, ok)
	assert.True(t, axis.IsBoolean())
}

func TestBuild_RequiresName(t *testing.T) {
	_, err := Build(RawComponent{ID: "1"})
	assert.ErrorIs(t, err, ErrNoComponentName)
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := &Evidence{
		ComponentID: "1",
		ScalarProperties: []ScalarProperty{
			{Name: "A", Key: "a", Kind: KindText},
			{Name: "B", Key: "b", Kind: KindBoolean},
		},
	}
	b := &Evidence{
		ComponentID: "1",
		ScalarProperties: []ScalarProperty{
			{Name: "B", Key: "b", Kind: KindBoolean},
			{Name: "A", Key: "a", Kind: KindText},
		},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.ScalarProperties[0].Kind = KindText
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestParse_NormalizedYAML(t *testing.T) {
	doc := `
component_id: "10:1"
component_name: Badge
variant_axes:
  - name: Tone
    values: [Info, Warning, Info]
scalar_properties:
  - name: Text
    kind: text
  - name: Dismissible?
text_slots:
  - name: Label
`
	evs, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ev := evs[0]
	assert.Equal(t, "Badge", ev.ComponentName)
	require.Len(t, ev.VariantAxes, 1)
	assert.Equal(t, []string{"Info", "Warning"}, ev.VariantAxes[0].Values)
	assert.Equal(t, "tone", ev.VariantAxes[0].Key)
	assert.Equal(t, KindBoolean, ev.ScalarProperties[1].Kind)
	assert.Equal(t, "label", ev.TextSlots[0].Key)
}

func TestParse_RawJSONList(t *testing.T) {
	doc := `{"components": [
		{"id": "1", "name": "Chip", "properties": [{"name": "Selected", "type": "BOOLEAN"}]},
		{"id": "2", "name": "Tag", "variants": ["Size=S", "Size=M"]}
	]}`
	evs, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, KindBoolean, evs[0].ScalarProperties[0].Kind)
	assert.Equal(t, []string{"S", "M"}, evs[1].VariantAxes[0].Values)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "button.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Button\nproperties:\n  - name: Label\n"), 0o644))

	evs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, KindText, evs[0].ScalarProperties[0].Kind)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	button := &Evidence{ComponentID: "1:2", ComponentName: "Button"}
	card := &Evidence{ComponentID: "3:4", ComponentName: "Card"}

	got, err := Select([]*Evidence{button}, "")
	require.NoError(t, err)
	assert.Same(t, button, got)

	got, err = Select([]*Evidence{button, card}, "card")
	require.NoError(t, err)
	assert.Same(t, card, got)

	got, err = Select([]*Evidence{button, card}, "1:2")
	require.NoError(t, err)
	assert.Same(t, button, got)

	_, err = Select([]*Evidence{button, card}, "")
	assert.ErrorContains(t, err, "Button, Card")

	_, err = Select([]*Evidence{button}, "Chip")
	assert.ErrorContains(t, err, `"Chip" not found`)

	_, err = Select(nil, "")
	assert.Error(t, err)
}
