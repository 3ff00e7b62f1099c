package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/mapping"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func TestFinishBlockCreatesUnitsAndRelations(t *testing.T) {
	st := setupStore(t)
	buf := New(st, &mapping.Mapping{}, nil, false, nil)

	buf.SetType("s1", "sentence")
	buf.SetFeature("s1", "meta:id", store.ValueStr, "s1")
	buf.SetType("w1", "token")
	buf.SetParent("w1", "s1")
	buf.SetFeature("w1", "upos:tag", store.ValueStr, "NOUN")
	buf.SetFeature("w1", "meta:index", store.ValueInt, int64(0))

	ids, err := buf.FinishBlock()
	require.NoError(t, err)
	require.Len(t, ids, 2)

	parent, ok, err := st.GetParent(ids["w1"])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids["s1"], parent)

	v, err := st.GetFeatureValue(ids["w1"], "upos:tag")
	require.NoError(t, err)
	require.Equal(t, "NOUN", v)
}

// TestSetFeatureAutoCreatesTierOnFirstUse exercises spec step 4: a
// feature never registered via Store.CreateFeature must still stage
// and flush successfully, auto-creating its tier row with the staged
// value type.
func TestSetFeatureAutoCreatesTierOnFirstUse(t *testing.T) {
	st := setupStore(t)
	buf := New(st, &mapping.Mapping{}, nil, false, nil)
	buf.SetType("w1", "token")
	buf.SetFeature("w1", "upos:tag", store.ValueStr, "NOUN")

	ids, err := buf.FinishBlock()
	require.NoError(t, err)

	_, vt, err := st.GetFeature("token", "upos", "tag")
	require.NoError(t, err)
	require.Equal(t, store.ValueStr, vt)

	v, err := st.GetFeatureValue(ids["w1"], "upos:tag")
	require.NoError(t, err)
	require.Equal(t, "NOUN", v)
}

// TestFinishBlockResolvesRefFeatureAgainstBlockNames exercises the
// deferred uids[value] rewrite: a ValueRef feature is staged with the
// referenced unit's symbolic name, and must resolve to that unit's
// freshly allocated id once the block flushes.
func TestFinishBlockResolvesRefFeatureAgainstBlockNames(t *testing.T) {
	st := setupStore(t)
	buf := New(st, &mapping.Mapping{}, nil, false, nil)
	buf.SetType("head", "token")
	buf.SetType("dep", "token")
	buf.SetFeature("dep", "ud:head", store.ValueRef, "head")

	ids, err := buf.FinishBlock()
	require.NoError(t, err)

	v, err := st.GetFeatureValue(ids["dep"], "ud:head")
	require.NoError(t, err)
	require.Equal(t, ids["head"], v)
}

func TestFinishBlockMergesOnMatchingKey(t *testing.T) {
	st := setupStore(t)
	mergeOn := map[string]string{"sentence": "meta:id"}

	first := New(st, &mapping.Mapping{}, mergeOn, false, nil)
	first.SetType("s1", "sentence")
	first.SetFeature("s1", "meta:id", store.ValueStr, "doc1-s1")
	ids1, err := first.FinishBlock()
	require.NoError(t, err)

	second := New(st, &mapping.Mapping{}, mergeOn, false, nil)
	second.SetType("s1", "sentence")
	second.SetFeature("s1", "meta:id", store.ValueStr, "doc1-s1")
	ids2, err := second.FinishBlock()
	require.NoError(t, err)

	require.Equal(t, ids1["s1"], ids2["s1"], "a second block with the same merge key must fold onto the same unit")
}

func TestFinishBlockResetsStateBetweenBlocks(t *testing.T) {
	st := setupStore(t)
	buf := New(st, &mapping.Mapping{}, nil, false, nil)
	buf.SetType("a", "sentence")
	_, err := buf.FinishBlock()
	require.NoError(t, err)
	require.Empty(t, buf.names)
}
