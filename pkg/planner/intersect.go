// Package planner compiles a query.Query into an execution plan and
// runs it against a store.Store, yielding one match (a binding of
// Unit name to unit id) per row the constraint tree admits.
//
// Before any join rows are materialized, IntersectionTracker prunes
// each Unit's candidate id set using parent/child pair-constraints to
// a fixpoint, the same pre-filter the original
// query engine runs ahead of its SQL join to keep queries with many
// Units from blowing up combinatorially.
package planner

import "sort"

// IntersectionTracker holds, for each Unit name, the current set of
// candidate ids it may still bind to. Restrict narrows one Unit's set
// in response to a discovered pairwise constraint; Possible reports
// whether at least one candidate remains.
type IntersectionTracker struct {
	candidates map[string]map[int64]bool
}

// NewIntersectionTracker seeds the tracker from each Unit's initial
// candidate id list (typically store.GetUnits(type) results).
func NewIntersectionTracker(initial map[string][]int64) *IntersectionTracker {
	t := &IntersectionTracker{candidates: make(map[string]map[int64]bool, len(initial))}
	for name, ids := range initial {
		set := make(map[int64]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		t.candidates[name] = set
	}
	return t
}

// Lookup returns the current candidate set for name as a slice, in
// ascending id order.
func (t *IntersectionTracker) Lookup(name string) []int64 {
	set := t.candidates[name]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Possible reports whether name still has any candidate left.
func (t *IntersectionTracker) Possible(name string) bool {
	return len(t.candidates[name]) > 0
}

// Restrict intersects name's candidate set with allowed, returning
// whether the set actually shrank.
func (t *IntersectionTracker) Restrict(name string, allowed map[int64]bool) bool {
	cur := t.candidates[name]
	shrank := false
	for id := range cur {
		if !allowed[id] {
			delete(cur, id)
			shrank = true
		}
	}
	return shrank
}

// RestrictPair prunes parentName's and childName's candidate sets
// against each other using the pairs relation (parent id -> set of
// child ids actually related to it in the store). Both directions are
// applied: a parent candidate with none of its children present in
// childName's set is dropped, and vice versa. Returns whether either
// set shrank, so callers can drive a worklist to fixpoint.
func (t *IntersectionTracker) RestrictPair(parentName, childName string, pairs map[int64]map[int64]bool) bool {
	parents := t.candidates[parentName]
	children := t.candidates[childName]
	shrank := false

	validParents := make(map[int64]bool, len(parents))
	for p := range parents {
		kids := pairs[p]
		ok := false
		for c := range kids {
			if children[c] {
				ok = true
				break
			}
		}
		if ok {
			validParents[p] = true
		}
	}
	if len(validParents) != len(parents) {
		t.candidates[parentName] = validParents
		shrank = true
	}

	validChildren := make(map[int64]bool, len(children))
	for c := range children {
		ok := false
		for p := range t.candidates[parentName] {
			if pairs[p][c] {
				ok = true
				break
			}
		}
		if ok {
			validChildren[c] = true
		}
	}
	if len(validChildren) != len(children) {
		t.candidates[childName] = validChildren
		shrank = true
	}

	return shrank
}

// Converge repeatedly applies every restriction in steps until none of
// them shrinks any candidate set, mirroring the original tracker's
// todo/next_todo worklist loop.
func Converge(steps []func() bool) {
	changed := true
	for changed {
		changed = false
		for _, step := range steps {
			if step() {
				changed = true
			}
		}
	}
}
