// Package mapping implements the two renaming bijections a conversion
// applies between a source format's vocabulary and the vocabulary
// actually stored in the corpus: a unit-type map and a feature map.
// Both directions (import and export) reuse the same tables, the
// export direction simply walking them in reverse.
package mapping

import "github.com/mr-martian/rebabel-format/internal/store"

// FeatureKey identifies a feature map entry. Type is empty for an
// untyped entry, which applies to a feature name regardless of which
// unit type it appears on; a typed entry (Type set) takes precedence
// over an untyped one for the same feature name.
type FeatureKey struct {
	Feature string
	Type    string // "" for an untyped entry
}

// FeatureTarget is the renamed (feature, type) pair a FeatureKey maps
// to. Type may be empty, meaning the unit type is translated by the
// type map alone.
type FeatureTarget struct {
	Feature string
	Type    string
}

// Mapping holds the type_map and feat_map bijections compiled from a
// conversion's configuration.
type Mapping struct {
	typeMap map[string]string
	featMap map[FeatureKey]FeatureTarget
}

// New builds a Mapping from raw type and feature tables. A feats key
// with Type set is a typed entry; one with Type empty is untyped.
func New(types map[string]string, feats map[FeatureKey]FeatureTarget) *Mapping {
	m := &Mapping{
		typeMap: make(map[string]string, len(types)),
		featMap: make(map[FeatureKey]FeatureTarget, len(feats)),
	}
	for k, v := range types {
		m.typeMap[k] = v
	}
	for k, v := range feats {
		m.featMap[k] = v
	}
	return m
}

// MapType translates a source unit type to its stored form. Unmapped
// types pass through unchanged.
func (m *Mapping) MapType(sourceType string) string {
	if m == nil {
		return sourceType
	}
	if mapped, ok := m.typeMap[sourceType]; ok {
		return mapped
	}
	return sourceType
}

// MapFeature translates a source (tier:feature, unitType) pair to its
// stored form. A typed entry for unitType wins over an untyped entry
// for the same feature name; an unmapped feature name passes through
// unchanged, keeping unitType mapped via MapType.
func (m *Mapping) MapFeature(name, unitType string) (string, string, error) {
	storedType := m.MapType(unitType)
	if m == nil {
		return name, storedType, nil
	}
	if target, ok := m.featMap[FeatureKey{Feature: name, Type: unitType}]; ok {
		return resolveTarget(name, storedType, target)
	}
	if target, ok := m.featMap[FeatureKey{Feature: name}]; ok {
		return resolveTarget(name, storedType, target)
	}
	return name, storedType, nil
}

func resolveTarget(sourceName, storedType string, target FeatureTarget) (string, string, error) {
	name := sourceName
	if target.Feature != "" {
		name = target.Feature
	}
	if target.Type != "" {
		storedType = target.Type
	}
	return name, storedType, nil
}

// Reversed builds the export-direction mapping: every type_map and
// feat_map entry inverted, so a stored name/type translates back to
// the name/type a source reader originally produced. A many-to-one
// collision on the forward map (several source names mapping to one
// stored name) is legal; Reversed keeps a single inverse for it, and
// which of the source names that is depends on map iteration order
// and is not defined.
func (m *Mapping) Reversed() *Mapping {
	if m == nil {
		return nil
	}
	rev := &Mapping{
		typeMap: make(map[string]string, len(m.typeMap)),
		featMap: make(map[FeatureKey]FeatureTarget, len(m.featMap)),
	}
	for src, dst := range m.typeMap {
		if _, exists := rev.typeMap[dst]; !exists {
			rev.typeMap[dst] = src
		}
	}
	for key, target := range m.featMap {
		revKey := FeatureKey{Feature: target.Feature, Type: target.Type}
		revTarget := FeatureTarget{Feature: key.Feature, Type: key.Type}
		if _, exists := rev.featMap[revKey]; !exists {
			rev.featMap[revKey] = revTarget
		}
	}
	return rev
}

// ParseSpec builds a FeatureTarget from the (tier, feature) pair a
// configuration decodes via config.ParseFeatureSpec.
func ParseSpec(tier, feature string) FeatureTarget {
	return FeatureTarget{Feature: store.JoinFeatureName(tier, feature)}
}
