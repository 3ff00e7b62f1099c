// Package stage implements the staging buffer converters stream
// through while reading one input file: a per-block batch of symbolic
// names that accumulates type assignments, a primary parent, zero or
// more secondary relations, and feature values, then flushes the
// whole block in one store transaction via FinishBlock.
//
// FinishBlock's core job is merge-on resolution: when a unit type
// declares a merge-key feature, newly staged names whose key matches
// an existing corpus unit are folded onto that unit instead of
// allocating a fresh one, using iterative structural pruning over
// parent/child candidate sets to disambiguate ties before falling
// back to "first remaining candidate wins".
package stage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/mapping"
	"github.com/mr-martian/rebabel-format/pkg/planner"
)

type featureCacheKey struct {
	unitType string
	feature  string
}

// stagedFeature holds everything SetFeature received for one (name,
// feature) pair: the declared value type (so the tier can be
// auto-created on first use, per reader.py:ensure_feature), the raw
// value, and its confidence. For a ValueRef feature, value is the
// symbolic name of the referenced unit rather than an id — the id
// isn't known until the block resolves, so resolution is deferred to
// emitFeatures, mirroring the original's `value = uids[value]` lookup.
type stagedFeature struct {
	valueType  store.ValueType
	value      any
	confidence float64
}

// Buffer is one importer's staging state across successive blocks.
// Each FinishBlock clears the staged block state; keepUIDs controls
// whether a name's id allocation survives into the next block, for
// formats whose blocks share referents, e.g. document-wide entities.
type Buffer struct {
	st      *store.Store
	mapping *mapping.Mapping
	mergeOn map[string]string // unit type -> "tier:feature" merge key
	log     *slog.Logger

	keepUIDs bool

	names         []string
	seen          map[string]bool
	nameType      map[string]string
	nameParent    map[string]string
	nameSecondary map[string][]string
	nameFeatures  map[string]map[string]stagedFeature

	uids         map[string]int64 // name -> allocated/merged unit id, carried if keepUIDs
	featureCache map[featureCacheKey]int64
}

// New builds an empty Buffer bound to st. mergeOn declares, per unit
// type that wants merge resolution, which "tier:feature" identifies an
// existing unit to fold new data onto.
func New(st *store.Store, m *mapping.Mapping, mergeOn map[string]string, keepUIDs bool, log *slog.Logger) *Buffer {
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		st:           st,
		mapping:      m,
		mergeOn:      mergeOn,
		log:          log,
		keepUIDs:     keepUIDs,
		uids:         make(map[string]int64),
		featureCache: make(map[featureCacheKey]int64),
	}
}

func (b *Buffer) reset() {
	b.names = nil
	b.seen = nil
	b.nameType = nil
	b.nameParent = nil
	b.nameSecondary = nil
	b.nameFeatures = nil
}

func (b *Buffer) checkName(name string) {
	if b.seen == nil {
		b.seen = make(map[string]bool)
		b.nameType = make(map[string]string)
		b.nameParent = make(map[string]string)
		b.nameSecondary = make(map[string][]string)
		b.nameFeatures = make(map[string]map[string]stagedFeature)
	}
	if !b.seen[name] {
		b.seen[name] = true
		b.names = append(b.names, name)
	}
}

// SetType declares name's unit type for the current block.
func (b *Buffer) SetType(name, unitType string) {
	b.checkName(name)
	b.nameType[name] = b.mapping.MapType(unitType)
}

// SetParent declares name's primary parent, by symbolic name, for the
// current block.
func (b *Buffer) SetParent(name, parentName string) {
	b.checkName(name)
	b.checkName(parentName)
	b.nameParent[name] = parentName
}

// AddRelation declares a secondary relation from name to otherName.
func (b *Buffer) AddRelation(name, otherName string) {
	b.checkName(name)
	b.checkName(otherName)
	b.nameSecondary[name] = append(b.nameSecondary[name], otherName)
}

// SetFeature stages a feature value for name, applying the feature map
// before storage. valueType is carried alongside the value so
// FinishBlock can auto-create the feature's tier definition on first
// use (spec step 4; reader.py:ensure_feature), rather than requiring
// every feature to have been pre-registered via Store.CreateFeature.
// confidence defaults to 1 if omitted, matching set_feature's optional
// trailing argument. For a ValueRef feature, value must be the
// symbolic name of the referenced unit within this same block; it is
// resolved to an id at flush time.
func (b *Buffer) SetFeature(name, featureName string, valueType store.ValueType, value any, confidence ...float64) {
	b.checkName(name)
	unitType := b.nameType[name]
	mapped, _, _ := b.mapping.MapFeature(featureName, unitType)
	conf := 1.0
	if len(confidence) > 0 {
		conf = confidence[0]
	}
	if b.nameFeatures[name] == nil {
		b.nameFeatures[name] = make(map[string]stagedFeature)
	}
	b.nameFeatures[name][mapped] = stagedFeature{valueType: valueType, value: value, confidence: conf}
}

// ensureFeature resolves (unitType, "tier:feature") to a feature id,
// auto-creating its tier row with valueType on first use, and caching
// the lookup for the Buffer's lifetime so repeated blocks touching the
// same feature don't re-resolve it on every flush. Directly mirrors
// reader.py:ensure_feature, which both registers and resolves in one
// call rather than requiring the feature to already exist.
func (b *Buffer) ensureFeature(unitType, name string, valueType store.ValueType) (int64, error) {
	key := featureCacheKey{unitType: unitType, feature: name}
	if id, ok := b.featureCache[key]; ok {
		return id, nil
	}
	tier, feature, err := store.SplitFeatureName(name)
	if err != nil {
		return 0, err
	}
	if err := b.st.CreateFeature(unitType, tier, feature, valueType); err != nil {
		return 0, err
	}
	id, _, err := b.st.GetFeature(unitType, tier, feature)
	if err != nil {
		return 0, err
	}
	b.featureCache[key] = id
	return id, nil
}

// FinishBlock flushes every name staged since the last FinishBlock
// call in one transaction: merge resolution, unit allocation for
// unmerged names, relation emission, then feature emission. It
// returns the resolved name -> unit id map for the block. The staged
// names, types, relations and features are always cleared afterward;
// unless keepUIDs was set, the name -> id map is not carried over
// either, so the next block starts fresh, matching the original
// reader's teardown.
func (b *Buffer) FinishBlock() (map[string]int64, error) {
	resolved := make(map[string]int64, len(b.names))
	for name, id := range b.uids {
		resolved[name] = id
	}

	err := b.st.Transaction(func() error {
		merged, err := b.resolveMerges()
		if err != nil {
			return err
		}
		for name, id := range merged {
			resolved[name] = id
		}

		for _, name := range b.names {
			if _, ok := resolved[name]; ok {
				continue
			}
			unitType, ok := b.nameType[name]
			if !ok {
				return &store.ReaderError{Location: name, Reason: "unit has no type assigned"}
			}
			id, err := b.st.CreateUnit(unitType, "")
			if err != nil {
				return &store.ReaderError{Location: name, Reason: "failed to create unit", Cause: err}
			}
			resolved[name] = id
		}

		if err := b.emitRelations(resolved); err != nil {
			return err
		}
		if err := b.emitFeatures(resolved); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.keepUIDs {
		for name, id := range resolved {
			b.uids[name] = id
		}
	}
	b.reset()
	return resolved, nil
}

// resolveMerges implements the structural-pruning merge-on algorithm:
// gather DB candidates matching each mergeable name's key value, prune
// using the batch's own parent/child shape against the candidates'
// actual stored relations, and fold onto the first surviving
// candidate.
func (b *Buffer) resolveMerges() (map[string]int64, error) {
	resolved := make(map[string]int64)

	candidateNames := make([]string, 0)
	initial := make(map[string][]int64)
	for _, name := range b.names {
		unitType, ok := b.nameType[name]
		if !ok {
			continue
		}
		mergeKey, ok := b.mergeOn[unitType]
		if !ok {
			continue
		}
		staged, ok := b.nameFeatures[name][mergeKey]
		if !ok {
			continue
		}
		candidates, err := b.st.FindUnitsByFeatureValue(unitType, mergeKey, staged.value)
		if err != nil {
			var se *store.SchemaError
			if errors.As(err, &se) {
				// The merge key is not registered yet, so no stored
				// unit can carry it.
				continue
			}
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		candidateNames = append(candidateNames, name)
		initial[name] = candidates
	}
	if len(candidateNames) == 0 {
		return resolved, nil
	}

	tracker := planner.NewIntersectionTracker(initial)

	// childNames: batch parent name -> batch child names, used to
	// build the pairwise parent/child constraint between two mergeable
	// names' candidate sets.
	childNames := make(map[string][]string)
	for child, parent := range b.nameParent {
		childNames[parent] = append(childNames[parent], child)
	}

	var steps []func() bool
	for _, parentName := range candidateNames {
		for _, childName := range childNames[parentName] {
			if _, ok := initial[childName]; !ok {
				continue
			}
			parentName, childName := parentName, childName
			pairs, err := buildDBPairs(b.st, tracker.Lookup(parentName))
			if err != nil {
				return nil, err
			}
			steps = append(steps, func() bool {
				return tracker.RestrictPair(parentName, childName, pairs)
			})
		}
	}
	planner.Converge(steps)

	for _, name := range candidateNames {
		remaining := tracker.Lookup(name)
		if len(remaining) == 0 {
			continue
		}
		resolved[name] = remaining[0]
	}
	return resolved, nil
}

func buildDBPairs(st *store.Store, parents []int64) (map[int64]map[int64]bool, error) {
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

// emitRelations inserts the primary-parent and secondary relations
// staged this block, skipping names whose parent/relation target
// could not be resolved to an id (logged, not fatal, matching
// ReaderError's per-block-not-per-program propagation policy).
func (b *Buffer) emitRelations(resolved map[string]int64) error {
	for _, name := range b.names {
		childID, ok := resolved[name]
		if !ok {
			continue
		}
		if parentName, ok := b.nameParent[name]; ok {
			parentID, ok := resolved[parentName]
			if !ok {
				b.log.Warn("relation skipped: parent not resolved", "unit", name, "parent", parentName)
				continue
			}
			if err := b.st.SetParent(parentID, childID, true); err != nil {
				return fmt.Errorf("stage: set parent for %s: %w", name, err)
			}
		}
		for _, other := range b.nameSecondary[name] {
			otherID, ok := resolved[other]
			if !ok {
				b.log.Warn("relation skipped: target not resolved", "unit", name, "target", other)
				continue
			}
			if err := b.st.SetParent(otherID, childID, false); err != nil {
				return fmt.Errorf("stage: set relation for %s: %w", name, err)
			}
		}
	}
	return nil
}

// emitFeatures writes every staged feature value, for both newly
// created and merged-onto units. Store.SetFeature already performs
// UPDATE-then-INSERT-OR-IGNORE, so the same call path is correct
// whether the unit behind id is brand new or a merge target. A
// ValueRef feature's staged value is a symbolic name within this same
// block; it is resolved against resolved here, mirroring the
// original's `value = uids[value]` rewrite.
func (b *Buffer) emitFeatures(resolved map[string]int64) error {
	for _, name := range b.names {
		id, ok := resolved[name]
		if !ok {
			continue
		}
		unitType := b.nameType[name]
		for feature, staged := range b.nameFeatures[name] {
			if unitType != "" {
				if _, err := b.ensureFeature(unitType, feature, staged.valueType); err != nil {
					return fmt.Errorf("stage: resolve feature %s on %s: %w", feature, name, err)
				}
			}
			value := staged.value
			if staged.valueType == store.ValueRef {
				refName, ok := value.(string)
				if !ok {
					return &store.ReaderError{Location: name, Reason: fmt.Sprintf("ref feature %s requires a symbolic name value", feature)}
				}
				refID, ok := resolved[refName]
				if !ok {
					b.log.Warn("ref feature skipped: target not resolved", "unit", name, "feature", feature, "target", refName)
					continue
				}
				value = refID
			}
			if err := b.st.SetFeature(id, feature, value, "", staged.confidence); err != nil {
				return fmt.Errorf("stage: set feature %s on %s: %w", feature, name, err)
			}
		}
	}
	return nil
}

// NewSyntheticName generates a collision-free synthetic symbolic name,
// used when a converter needs to introduce an anonymous unit (e.g. a
// virtual root) without a name supplied by the source format.
func NewSyntheticName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
