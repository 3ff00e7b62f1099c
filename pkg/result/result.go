// Package result implements ResultTable, the layer that turns raw
// planner matches into named feature projections: binding results to
// feature values by name, by tier prefix, or to a node's children,
// ready for a caller (a converter, a transformation, a report) to
// consume as plain rows.
package result

import (
	"fmt"
	"strings"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/mapping"
	"github.com/mr-martian/rebabel-format/pkg/planner"
)

// Table binds a set of planner matches to named feature columns. Rows
// preserve the order the planner produced (already sorted per Unit
// Order features); columns accumulate as AddFeatures/AddTier/
// AddChildren are called.
type Table struct {
	st      *store.Store
	rows    []map[string]any // row i: node name -> unit id, plus added columns
	nodeKey map[string]bool  // names that are node bindings, not derived columns
}

// New builds a Table from matches, seeding one column per Unit name
// holding its bound unit id.
func New(st *store.Store, matches []planner.Match) *Table {
	t := &Table{st: st, nodeKey: make(map[string]bool)}
	t.rows = make([]map[string]any, len(matches))
	for i, m := range matches {
		row := make(map[string]any, len(m))
		for name, id := range m {
			row[name] = id
			t.nodeKey[name] = true
		}
		t.rows[i] = row
	}
	return t
}

// columnExists reports whether name is already used as a node or
// derived column, for add_children's collision-avoidance.
func (t *Table) columnExists(name string) bool {
	if t.nodeKey[name] {
		return true
	}
	if len(t.rows) > 0 {
		if _, ok := t.rows[0][name]; ok {
			return true
		}
	}
	return false
}

func unitID(v any) (int64, bool) {
	id, ok := v.(int64)
	return id, ok
}

// AddFeatures resolves each of featureNames against node, optionally
// translating the name through m.MapFeature first (with no unit type,
// so only untyped feature entries apply; the column keeps the name as
// given), and writes one "<node>.<feature>" column per row. node
// may be bound to a single unit id (from New or AddChildren's reverse
// addressability) or, for a multi-node produced by AddChildren, a list
// of unit ids — in which case the column holds one value per id, in
// order.
func (t *Table) AddFeatures(node string, featureNames []string, m *mapping.Mapping) error {
	for _, name := range featureNames {
		col := node + "." + name
		lookup := name
		if m != nil {
			mapped, _, err := m.MapFeature(name, "")
			if err != nil {
				return err
			}
			lookup = mapped
		}
		for _, row := range t.rows {
			switch bound := row[node].(type) {
			case int64:
				v, err := t.st.GetFeatureValue(bound, lookup)
				if err != nil {
					return err
				}
				row[col] = v
			case []int64:
				vals := make([]any, len(bound))
				for i, id := range bound {
					v, err := t.st.GetFeatureValue(id, lookup)
					if err != nil {
						return err
					}
					vals[i] = v
				}
				row[col] = vals
			default:
				return fmt.Errorf("result: node %q is not bound in this row", node)
			}
		}
	}
	return nil
}

// AddTier enumerates every feature registered (in the store's tier
// schema, not merely the features already set on a given instance) for
// node's bound unit type(s) and adds one column per feature. Without
// prefix, a feature's full "tier:feature" name must equal tier
// exactly; with prefix=true, every feature whose name starts with
// "tier:" matches, per the add_tier(node, tier, prefix=false)
// contract. skip omits feature names a mapping already rewrote under
// a different name.
func (t *Table) AddTier(node, tier string, prefix bool, skip map[string]bool) error {
	seenTypes := make(map[string]bool)
	seenNames := make(map[string]bool)
	var features []string
	for _, row := range t.rows {
		id, ok := unitID(row[node])
		if !ok {
			continue
		}
		unitType, err := t.st.GetUnitType(id)
		if err != nil {
			return err
		}
		if seenTypes[unitType] {
			continue
		}
		seenTypes[unitType] = true
		all, err := t.st.ListFeatures(unitType)
		if err != nil {
			return err
		}
		for _, name := range all {
			matches := name == tier
			if prefix {
				matches = strings.HasPrefix(name, tier+":")
			}
			if !matches || seenNames[name] {
				continue
			}
			_, feat, err := store.SplitFeatureName(name)
			if err != nil {
				continue
			}
			if skip[feat] {
				continue
			}
			seenNames[name] = true
			features = append(features, name)
		}
	}
	return t.AddFeatures(node, features, nil)
}

// AddChildren adds a node_children[*] column holding the active
// primary children of node's bound unit, with the original's
// collision-avoidance: if node+"_children" is already a column, '*'
// characters are appended until a free name is found. The new column
// is registered as a node binding (nodeKey), so a following
// AddFeatures(childrenCol, ...) call addresses every bound child id,
// per §4.5's "these children acquire result-local ids ... so
// subsequent add_features calls address them".
func (t *Table) AddChildren(node string) (string, error) {
	name := node + "_children"
	for t.columnExists(name) {
		name += "*"
	}
	for _, row := range t.rows {
		id, ok := unitID(row[node])
		if !ok {
			return "", fmt.Errorf("result: node %q is not bound in this row", node)
		}
		children, err := t.st.GetChildren(id)
		if err != nil {
			return "", err
		}
		row[name] = children
	}
	t.nodeKey[name] = true
	return name, nil
}

// Results returns the accumulated rows as plain maps, one per match.
func (t *Table) Results() []map[string]any {
	return t.rows
}
