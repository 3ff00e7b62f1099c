// Package config parses the process-keyed TOML configuration document
// and resolves individual parameters against it with the precedence
// rule described for the conversion pipeline: an explicit keyword
// argument wins, then a process-scoped entry, then a document-wide
// entry, then the caller's declared default.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/mr-martian/rebabel-format/internal/store"
)

// Document is a decoded configuration file: a flat map of document-wide
// settings plus one nested map per named process.
type Document map[string]any

// Load decodes the TOML file at path into a Document.
func Load(path string) (Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, store.NewConfigError(fmt.Sprintf("failed to parse config %s: %v", path, err))
	}
	return doc, nil
}

// ResolveParam implements the precedence chain: kwargs[key], then
// doc[process][key], then doc[key], then hasDefault/def. It returns a
// ConfigError if none of those sources supplies a value and no default
// was declared.
func ResolveParam(doc Document, process, key string, kwargs map[string]any, hasDefault bool, def any) (any, error) {
	if kwargs != nil {
		if v, ok := kwargs[key]; ok {
			return v, nil
		}
	}
	if doc != nil {
		if procRaw, ok := doc[process]; ok {
			if proc, ok := procRaw.(map[string]any); ok {
				if v, ok := proc[key]; ok {
					return v, nil
				}
			}
		}
		if v, ok := doc[key]; ok {
			return v, nil
		}
	}
	if hasDefault {
		return def, nil
	}
	return nil, store.NewConfigError(fmt.Sprintf("missing required parameter %q for process %q", key, process))
}

// ParseFeatureSpec accepts the three forms the original configuration
// format permits for naming a feature: the joined "tier:feature"
// string, a {"tier":..., "feature":...} map, or a two-element list
// [tier, feature].
func ParseFeatureSpec(v any) (tier, feature string, err error) {
	switch t := v.(type) {
	case string:
		return store.SplitFeatureName(t)
	case map[string]any:
		tierV, ok1 := t["tier"].(string)
		featV, ok2 := t["feature"].(string)
		if !ok1 || !ok2 {
			return "", "", store.NewConfigError(fmt.Sprintf("invalid feature spec %v: expected tier and feature keys", v))
		}
		return tierV, featV, nil
	case []any:
		if len(t) != 2 {
			return "", "", store.NewConfigError(fmt.Sprintf("invalid feature spec %v: expected 2 elements", v))
		}
		tierV, ok1 := t[0].(string)
		featV, ok2 := t[1].(string)
		if !ok1 || !ok2 {
			return "", "", store.NewConfigError(fmt.Sprintf("invalid feature spec %v: elements must be strings", v))
		}
		return tierV, featV, nil
	default:
		return "", "", store.NewConfigError(fmt.Sprintf("invalid feature spec %v: unsupported shape %T", v, v))
	}
}
