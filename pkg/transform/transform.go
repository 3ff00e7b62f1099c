// Package transform implements the transformation engine: a fixed set
// of typed command objects, each applying one graph edit to a single
// query match. A transformation run executes every command against
// every match returned by a query, in source order, inside one shared
// transaction scope.
package transform

import (
	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/planner"
)

// Match binds query Unit names to unit ids for one matched row. A
// command that introduces a new unit (CreateUnit) adds an entry to
// this map so later commands in the same list can refer to it by name.
type Match = planner.Match

// Command is one transformation step. Apply mutates the store (and,
// for CreateUnit, match itself) according to the command's fixed
// semantics.
type Command interface {
	Apply(st *store.Store, match Match) error
}

func lookup(match Match, name string) (int64, error) {
	id, ok := match[name]
	if !ok {
		return 0, &store.TransformError{Reason: "no such unit " + name}
	}
	return id, nil
}

// CreateFeature registers a new (unit type, tier:feature) definition.
// It does not touch any match; it exists as a command so a
// transformation file can declare schema alongside the edits that use
// it.
type CreateFeature struct {
	UnitType  string
	Tier      string
	Feature   string
	ValueType store.ValueType
}

func (c CreateFeature) Apply(st *store.Store, _ Match) error {
	if err := st.CreateFeature(c.UnitType, c.Tier, c.Feature, c.ValueType); err != nil {
		return &store.TransformError{Command: "create_feature", Reason: err.Error(), Cause: err}
	}
	return nil
}

// SetFeature writes a literal value onto Target's feature.
type SetFeature struct {
	Target     string
	Feature    string // "tier:feature"
	Value      any
	User       string
	Confidence float64
}

func (c SetFeature) Apply(st *store.Store, match Match) error {
	id, err := lookup(match, c.Target)
	if err != nil {
		return err
	}
	conf := c.Confidence
	if conf == 0 {
		conf = 1
	}
	if err := st.SetFeature(id, c.Feature, c.Value, c.User, conf); err != nil {
		return &store.TransformError{Command: "set_feature", Reason: err.Error(), Cause: err}
	}
	return nil
}

// SetRefFeature writes a ref-typed feature pointing Target's feature
// at another matched unit, Value, instead of a literal.
type SetRefFeature struct {
	Target     string
	Feature    string
	Value      string // match name of the referenced unit
	User       string
	Confidence float64
}

func (c SetRefFeature) Apply(st *store.Store, match Match) error {
	targetID, err := lookup(match, c.Target)
	if err != nil {
		return err
	}
	refID, err := lookup(match, c.Value)
	if err != nil {
		return err
	}
	conf := c.Confidence
	if conf == 0 {
		conf = 1
	}
	if err := st.SetFeature(targetID, c.Feature, refID, c.User, conf); err != nil {
		return &store.TransformError{Command: "set_ref_feature", Reason: err.Error(), Cause: err}
	}
	return nil
}

// CopyFeature copies From's SourceFeature value onto Target's
// TargetFeature — a distinct feature name on a (possibly distinct)
// unit, per scenario 5's `source_feature='UD:lemma'` ->
// `target_feature='nlp:form'`. At most one of the three optional
// adjuncts applies: Add shifts a numeric copied value by a fixed
// integer delta; Prepend/Append splice a literal string onto a string
// copied value. A non-string source under Prepend/Append (or a
// non-numeric source under Add) is a no-op, not an error, matching
// scenario 5's "is a no-op on non-string source values".
type CopyFeature struct {
	From, Target                 string
	SourceFeature, TargetFeature string
	Add                          *int64
	Prepend                      *string
	Append                       *string
	User                         string
	Confidence                   float64
}

func (c CopyFeature) Apply(st *store.Store, match Match) error {
	fromID, err := lookup(match, c.From)
	if err != nil {
		return err
	}
	targetID, err := lookup(match, c.Target)
	if err != nil {
		return err
	}
	v, err := st.GetFeatureValue(fromID, c.SourceFeature)
	if err != nil {
		return &store.TransformError{Command: "copy_feature", Reason: err.Error(), Cause: err}
	}
	if v == nil {
		return nil
	}
	final := v
	switch {
	case c.Add != nil:
		n, ok := copyAsInt64(v)
		if !ok {
			return nil
		}
		final = n + *c.Add
	case c.Prepend != nil:
		s, ok := v.(string)
		if !ok {
			return nil
		}
		final = *c.Prepend + s
	case c.Append != nil:
		s, ok := v.(string)
		if !ok {
			return nil
		}
		final = s + *c.Append
	}
	conf := c.Confidence
	if conf == 0 {
		conf = 1
	}
	if err := st.SetFeature(targetID, c.TargetFeature, final, c.User, conf); err != nil {
		return &store.TransformError{Command: "copy_feature", Reason: err.Error(), Cause: err}
	}
	return nil
}

func copyAsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	default:
		return 0, false
	}
}

// RemoveFeature deletes Target's authoritative row for Feature
// outright, so a subsequent exists(Target.Feature) predicate reports
// false. It does not touch any suggestions recorded for the pair.
type RemoveFeature struct {
	Target  string
	Feature string
	User    string
}

func (c RemoveFeature) Apply(st *store.Store, match Match) error {
	id, err := lookup(match, c.Target)
	if err != nil {
		return err
	}
	if err := st.ClearFeature(id, c.Feature, c.User); err != nil {
		return &store.TransformError{Command: "remove_feature", Reason: err.Error(), Cause: err}
	}
	return nil
}

// CreateUnit allocates a new unit of UnitType and binds it to Name in
// match, so later commands in the same command list can reference it.
type CreateUnit struct {
	UnitType string
	Name     string
	User     string
}

func (c CreateUnit) Apply(st *store.Store, match Match) error {
	id, err := st.CreateUnit(c.UnitType, c.User)
	if err != nil {
		return &store.TransformError{Command: "create_unit", Reason: err.Error(), Cause: err}
	}
	match[c.Name] = id
	return nil
}

// RemoveUnit soft-deactivates Target (meta:active=false). Its id, and
// any feature/relation history naming it, remains in the store.
type RemoveUnit struct {
	Target string
	User   string
}

func (c RemoveUnit) Apply(st *store.Store, match Match) error {
	id, err := lookup(match, c.Target)
	if err != nil {
		return err
	}
	if err := st.Deactivate(id, c.User); err != nil {
		return &store.TransformError{Command: "remove_unit", Reason: err.Error(), Cause: err}
	}
	return nil
}

// editRelation is the shared implementation behind the four
// parent/child edit commands, mirroring EditRelation in the original
// transform engine: Adding selects set vs. remove, Primary selects
// primary-parent vs. secondary-relation semantics.
type editRelation struct {
	Parent, Child string
	Adding        bool
	Primary       bool
}

func (c editRelation) apply(st *store.Store, match Match) error {
	parentID, err := lookup(match, c.Parent)
	if err != nil {
		return err
	}
	childID, err := lookup(match, c.Child)
	if err != nil {
		return err
	}
	if c.Adding {
		return st.SetParent(parentID, childID, c.Primary)
	}
	return st.RemParent(parentID, childID, c.Primary)
}

// SetParent attaches Child to Parent as its active primary parent.
type SetParent struct{ Parent, Child string }

func (c SetParent) Apply(st *store.Store, match Match) error {
	if err := (editRelation{c.Parent, c.Child, true, true}).apply(st, match); err != nil {
		return &store.TransformError{Command: "set_parent", Reason: err.Error(), Cause: err}
	}
	return nil
}

// RemoveParent clears Child's active primary parent relation to Parent.
type RemoveParent struct{ Parent, Child string }

func (c RemoveParent) Apply(st *store.Store, match Match) error {
	if err := (editRelation{c.Parent, c.Child, false, true}).apply(st, match); err != nil {
		return &store.TransformError{Command: "remove_parent", Reason: err.Error(), Cause: err}
	}
	return nil
}

// SetRelation adds a secondary (non-primary) relation between Parent
// and Child.
type SetRelation struct{ Parent, Child string }

func (c SetRelation) Apply(st *store.Store, match Match) error {
	if err := (editRelation{c.Parent, c.Child, true, false}).apply(st, match); err != nil {
		return &store.TransformError{Command: "set_relation", Reason: err.Error(), Cause: err}
	}
	return nil
}

// RemoveRelation clears every active relation between Parent and
// Child, secondary or primary.
type RemoveRelation struct{ Parent, Child string }

func (c RemoveRelation) Apply(st *store.Store, match Match) error {
	if err := (editRelation{c.Parent, c.Child, false, false}).apply(st, match); err != nil {
		return &store.TransformError{Command: "remove_relation", Reason: err.Error(), Cause: err}
	}
	return nil
}

// Apply runs every command in commands against every row of matches,
// in source order, inside one shared store transaction.
func Apply(st *store.Store, matches []planner.Match, commands []Command) error {
	return st.Transaction(func() error {
		for _, match := range matches {
			for _, cmd := range commands {
				if err := cmd.Apply(st, match); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
