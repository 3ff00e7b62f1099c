package config

import (
	"fmt"

	"github.com/mr-martian/rebabel-format/internal/store"
)

// Param declares one named, typed configuration value a process
// consumes. Construction through Resolve performs the same validation
// the original Parameter descriptor did: presence (required vs
// default), and membership in Choices when set.
type Param struct {
	Key      string
	Required bool
	Default  any
	Choices  []string
}

// Resolve looks Key up via ResolveParam and validates the result
// against Choices, if any were declared.
func (p Param) Resolve(doc Document, process string, kwargs map[string]any) (any, error) {
	v, err := ResolveParam(doc, process, p.Key, kwargs, !p.Required, p.Default)
	if err != nil {
		return nil, err
	}
	if len(p.Choices) > 0 {
		s, ok := v.(string)
		if !ok {
			return nil, store.NewConfigError(fmt.Sprintf("parameter %q must be a string to validate against choices", p.Key))
		}
		valid := false
		for _, c := range p.Choices {
			if c == s {
				valid = true
				break
			}
		}
		if !valid {
			return nil, store.NewConfigError(fmt.Sprintf("parameter %q: %q is not one of %v", p.Key, s, p.Choices))
		}
	}
	return v, nil
}

// ProcessConfig resolves every declared Param against doc/kwargs for
// one process invocation, mirroring process_parameters.
func ProcessConfig(params []Param, doc Document, process string, kwargs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, p := range params {
		v, err := p.Resolve(doc, process, kwargs)
		if err != nil {
			return nil, err
		}
		out[p.Key] = v
	}
	return out, nil
}
