package feedback

import (
	"sort"
	"strings"

	"mapgen/internal/evidence"
)

// KeySet maps normalized keys to the verbatim name they were derived from.
type KeySet map[string]string

func (s KeySet) add(name string) {
	key := evidence.NormalizeKey(name)
	if key == "" {
		return
	}
	if _, ok := s[key]; !ok {
		s[key] = name
	}
}

// Has reports whether the normalized form of name is in the set.
func (s KeySet) Has(name string) bool {
	_, ok := s[evidence.NormalizeKey(name)]
	return ok
}

// Keys returns the normalized keys, sorted.
func (s KeySet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names returns the verbatim names in key order.
func (s KeySet) Names() []string {
	keys := s.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = s[k]
	}
	return names
}

// union returns a new set holding every entry of s and others.
func (s KeySet) union(others ...KeySet) KeySet {
	out := make(KeySet, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

// KeySets holds the legal keys for each helper kind, derived from one Evidence.
type KeySets struct {
	StringKeys       KeySet
	BooleanKeys      KeySet
	EnumKeys         KeySet
	InstanceKeys     KeySet
	TextSlotNames    KeySet
	ContentSlotNames KeySet
}

// BuildKeySets derives the legal key sets from ev.
//
// Every variant axis is legal for asEnum and asString, and also for asBoolean
// when its values form a boolean pair. Scalar properties land in exactly one
// set by kind. Text and content slots fill their own sets.
func BuildKeySets(ev *evidence.Evidence) *KeySets {
	ks := &KeySets{
		StringKeys:       KeySet{},
		BooleanKeys:      KeySet{},
		EnumKeys:         KeySet{},
		InstanceKeys:     KeySet{},
		TextSlotNames:    KeySet{},
		ContentSlotNames: KeySet{},
	}
	if ev == nil {
		return ks
	}

	for _, axis := range ev.VariantAxes {
		ks.EnumKeys.add(axis.Name)
		ks.StringKeys.add(axis.Name)
		if axis.IsBoolean() {
			ks.BooleanKeys.add(axis.Name)
		}
	}

	for _, p := range ev.ScalarProperties {
		switch p.Kind {
		case evidence.KindBoolean:
			ks.BooleanKeys.add(p.Name)
		case evidence.KindInstance:
			ks.InstanceKeys.add(p.Name)
		default:
			ks.StringKeys.add(p.Name)
		}
	}

	for _, s := range ev.TextSlots {
		ks.TextSlotNames.add(s.Name)
	}
	for _, s := range ev.ContentSlots {
		ks.ContentSlotNames.add(s.Name)
	}
	return ks
}

// Allowed returns the set an invocation of kind must draw its key from, and
// false for helper kinds that are never checked.
func (ks *KeySets) Allowed(kind HelperKind) (KeySet, bool) {
	switch kind {
	case HelperString:
		return ks.StringKeys.union(ks.EnumKeys), true
	case HelperBoolean:
		return ks.BooleanKeys, true
	case HelperEnum:
		return ks.EnumKeys, true
	case HelperInstance:
		return ks.InstanceKeys, true
	case HelperTextContent:
		return ks.TextSlotNames, true
	case HelperChildren:
		return ks.ContentSlotNames, true
	default:
		return nil, false
	}
}

// Describe renders every checked helper kind with its legal names, one per line.
// It is used in instructions and repair reminders.
func (ks *KeySets) Describe() string {
	var sb strings.Builder
	for _, kind := range CheckedHelperKinds {
		set, _ := ks.Allowed(kind)
		sb.WriteString("- ")
		sb.WriteString(kind.Method())
		sb.WriteString(" (")
		sb.WriteString(string(kind))
		sb.WriteString("): ")
		sb.WriteString(formatNames(set.Names()))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatNames(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ", ")
}
