package planner

import (
	"fmt"
	"sort"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/query"
)

// Match is one result row: a binding of every Query Unit name to the
// unit id it matched.
type Match map[string]int64

// Search compiles and runs q against st, returning every match the
// constraint tree admits, sorted per each Unit's Order feature (units
// with a present value sort ascending before absent-value units,
// which themselves sort by id ascending — the original engine's
// tie-break, carried over verbatim). Any Subqueries attached to q are
// applied after the base join: an outer match survives only if each
// attached subquery's match count, run anchored on that outer match,
// falls within its declared [Min,Max].
func Search(st *store.Store, q *query.Query) ([]Match, error) {
	if err := query.ValidateQuery(q); err != nil {
		return nil, err
	}

	results, err := search(st, q, nil)
	if err != nil {
		return nil, err
	}

	if len(q.Subqueries) > 0 {
		filtered := results[:0]
		for _, m := range results {
			ok, err := satisfiesSubqueries(st, q.Subqueries, m)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, m)
			}
		}
		results = filtered
	}

	if err := sortResults(st, q.Units, results); err != nil {
		return nil, err
	}
	return results, nil
}

// satisfiesSubqueries runs every Subquery anchored on outer, restricted
// to the id outer bound to each subquery's Anchor, and reports whether
// every nested match count falls within its declared bound.
func satisfiesSubqueries(st *store.Store, subqueries []query.Subquery, outer Match) (bool, error) {
	for _, sq := range subqueries {
		anchorID, ok := outer[sq.Anchor]
		if !ok {
			return false, fmt.Errorf("planner: subquery anchor %q not bound in outer match", sq.Anchor)
		}
		overrides := map[string][]int64{sq.AnchorUnit: {anchorID}}
		subMatches, err := search(st, sq.Query, overrides)
		if err != nil {
			return false, err
		}
		n := len(subMatches)
		if n < sq.Min || (sq.Max > 0 && n > sq.Max) {
			return false, nil
		}
	}
	return true, nil
}

// search is Search's core join, factored out so it can be re-run with
// overrides restricting specific Units' candidate sets to a fixed id
// set (used to anchor a Subquery's nested query on one outer match).
// It does not sort or apply Subqueries itself.
func search(st *store.Store, q *query.Query, overrides map[string][]int64) ([]Match, error) {
	initial, err := initialCandidates(st, q.Units)
	if err != nil {
		return nil, err
	}
	for name, ids := range overrides {
		initial[name] = ids
	}
	tracker := NewIntersectionTracker(initial)

	clauses := q.Where.Flatten()
	if err := propagateStructural(st, tracker, q.Units, clauses); err != nil {
		return nil, err
	}
	for _, u := range q.Units {
		if !tracker.Possible(u.Name) {
			return nil, nil
		}
	}

	ctx := newEvalContext(st)
	order := make([]query.Unit, len(q.Units))
	copy(order, q.Units)

	var results []Match
	binding := make(binding, len(order))
	var backtrack func(i int) error
	backtrack = func(i int) error {
		if i == len(order) {
			m := make(Match, len(binding))
			for k, v := range binding {
				m[k] = v
			}
			results = append(results, m)
			return nil
		}
		u := order[i]
		for _, id := range tracker.Lookup(u.Name) {
			binding[u.Name] = id
			ok, err := clausesSatisfied(ctx, clauses, binding)
			if err != nil {
				return err
			}
			if ok {
				if err := backtrack(i + 1); err != nil {
					return err
				}
			}
		}
		delete(binding, u.Name)
		return nil
	}
	if err := backtrack(0); err != nil {
		return nil, err
	}
	return results, nil
}

// clausesSatisfied evaluates every flattened clause whose referenced
// Units are all currently bound, short-circuiting on the first
// violation. Clauses that reference a not-yet-bound Unit are deferred
// (treated as satisfied for now) and re-checked once that Unit binds.
func clausesSatisfied(ctx *evalContext, clauses []*query.Condition, b binding) (bool, error) {
	for _, c := range clauses {
		if !allBound(c, b) {
			continue
		}
		v, err := Eval(ctx, c, b)
		if err != nil {
			return false, err
		}
		if !truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func allBound(c *query.Condition, b binding) bool {
	if c == nil {
		return true
	}
	switch c.Op {
	case query.OpLiteral:
		return true
	case query.OpFeatureAccess, query.OpExists, query.OpNotExists:
		_, ok := b[c.Unit]
		return ok
	case query.OpParent, query.OpChild:
		_, ok1 := b[c.Unit]
		_, ok2 := b[c.RefTarget]
		return ok1 && ok2
	case query.OpRefEquals:
		_, ok1 := b[c.Unit]
		_, ok2 := b[c.RefTarget]
		return ok1 && ok2
	case query.OpNot:
		return allBound(c.Operand, b)
	default:
		return allBound(c.Left, b) && allBound(c.Right, b)
	}
}

// initialCandidates seeds each Unit's starting candidate set as the
// union of store.GetUnits across its disjunctive type list.
func initialCandidates(st *store.Store, units []query.Unit) (map[string][]int64, error) {
	out := make(map[string][]int64, len(units))
	for _, u := range units {
		seen := make(map[int64]bool)
		var ids []int64
		for _, t := range u.Types {
			got, err := st.GetUnits(t, nil)
			if err != nil {
				return nil, err
			}
			for _, id := range got {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		out[u.Name] = ids
	}
	return out, nil
}

// propagateStructural applies RestrictPair for every Parent/Child
// clause to a fixpoint, pruning each Unit's candidate set before the
// combinatorial backtracking search begins.
func propagateStructural(st *store.Store, tracker *IntersectionTracker, units []query.Unit, clauses []*query.Condition) error {
	var steps []func() bool
	for _, c := range clauses {
		c := c
		var parentName, childName string
		switch c.Op {
		case query.OpParent:
			parentName, childName = c.Unit, c.RefTarget
		case query.OpChild:
			parentName, childName = c.RefTarget, c.Unit
		default:
			continue
		}
		pairs, err := buildPairs(st, tracker.Lookup(parentName))
		if err != nil {
			return err
		}
		steps = append(steps, func() bool {
			return tracker.RestrictPair(parentName, childName, pairs)
		})
	}
	Converge(steps)
	return nil
}

func buildPairs(st *store.Store, parents []int64) (map[int64]map[int64]bool, error) {
	out := make(map[int64]map[int64]bool, len(parents))
	for _, p := range parents {
		children, err := st.GetChildren(p)
		if err != nil {
			return nil, err
		}
		set := make(map[int64]bool, len(children))
		for _, c := range children {
			set[c] = true
		}
		out[p] = set
	}
	return out, nil
}

// sortResults orders results by each Unit's Order feature, present
// values ascending before absent-value units (themselves ordered by
// id ascending), the first ordered Unit deciding and each later one
// breaking ties left by those before it, matching query.py:sort_units.
// An ordered Unit whose types declare its Order feature with differing
// value types is rejected with a QueryCompileError.
func sortResults(st *store.Store, units []query.Unit, results []Match) error {
	type key struct {
		hasValue bool
		num      float64
		str      string
		id       int64
	}
	ordered := make([]query.Unit, 0)
	for _, u := range units {
		if u.Order != "" {
			ordered = append(ordered, u)
		}
	}
	if len(ordered) == 0 {
		return nil
	}
	for _, u := range ordered {
		tier, feat, _ := store.SplitFeatureName(u.Order)
		var first store.ValueType
		for _, t := range u.Types {
			_, vt, err := st.GetFeature(t, tier, feat)
			if err != nil {
				continue
			}
			if first != "" && vt != first {
				return store.NewQueryCompileError(fmt.Sprintf("order feature %s of unit %s has mixed value types", u.Order, u.Name))
			}
			first = vt
		}
	}
	keys := make([]map[string]key, len(results))
	for i, m := range results {
		keys[i] = make(map[string]key, len(ordered))
		for _, u := range ordered {
			id := m[u.Name]
			v, err := st.GetFeatureValue(id, u.Order)
			if err != nil {
				return err
			}
			k := key{id: id}
			if v == nil {
				keys[i][u.Name] = k
				continue
			}
			k.hasValue = true
			switch t := v.(type) {
			case string:
				k.str = t
			case int64:
				k.num = float64(t)
			case bool:
				if t {
					k.num = 1
				}
			}
			keys[i][u.Name] = k
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		for _, u := range ordered {
			a, b := keys[i][u.Name], keys[j][u.Name]
			if a.hasValue != b.hasValue {
				return a.hasValue
			}
			if !a.hasValue {
				if a.id != b.id {
					return a.id < b.id
				}
				continue
			}
			if a.str != "" || b.str != "" {
				if a.str != b.str {
					return a.str < b.str
				}
				continue
			}
			if a.num != b.num {
				return a.num < b.num
			}
		}
		return false
	})
	return nil
}
