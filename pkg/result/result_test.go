package result

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/planner"
)

func setupCorpus(t *testing.T) (*store.Store, int64, []int64) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	require.NoError(t, st.CreateFeature("token", "upos", "tag", store.ValueStr))
	require.NoError(t, st.CreateFeature("sentence", "meta", "id", store.ValueStr))

	sentence, err := st.CreateUnit("sentence", "tester")
	require.NoError(t, err)
	require.NoError(t, st.SetFeature(sentence, "meta:id", "s1", "tester", 1))

	var children []int64
	for _, tag := range []string{"DET", "NOUN"} {
		id, err := st.CreateUnit("token", "tester")
		require.NoError(t, err)
		require.NoError(t, st.SetFeature(id, "upos:tag", tag, "tester", 1))
		require.NoError(t, st.SetParent(sentence, id, true))
		children = append(children, id)
	}
	return st, sentence, children
}

func TestAddFeaturesPopulatesColumn(t *testing.T) {
	st, _, children := setupCorpus(t)
	matches := []planner.Match{{"t": children[0]}, {"t": children[1]}}
	table := New(st, matches)
	require.NoError(t, table.AddFeatures("t", []string{"upos:tag"}, nil))

	rows := table.Results()
	require.Equal(t, "DET", rows[0]["t.upos:tag"])
	require.Equal(t, "NOUN", rows[1]["t.upos:tag"])
}

func TestAddChildrenAvoidsNameCollision(t *testing.T) {
	st, sentence, children := setupCorpus(t)
	matches := []planner.Match{{"s": sentence, "s_children": 999}}
	table := New(st, matches)

	name, err := table.AddChildren("s")
	require.NoError(t, err)
	require.Equal(t, "s_children*", name, "must avoid the pre-existing s_children column")

	rows := table.Results()
	require.ElementsMatch(t, children, rows[0][name])
}

func TestAddFeaturesAddressesChildrenBoundByAddChildren(t *testing.T) {
	st, sentence, children := setupCorpus(t)
	matches := []planner.Match{{"s": sentence}}
	table := New(st, matches)

	name, err := table.AddChildren("s")
	require.NoError(t, err)
	require.NoError(t, table.AddFeatures(name, []string{"upos:tag"}, nil))

	rows := table.Results()
	tags, ok := rows[0][name+".upos:tag"].([]any)
	require.True(t, ok)
	require.ElementsMatch(t, []any{"DET", "NOUN"}, tags)
}

func TestAddTierExactVsPrefixMatch(t *testing.T) {
	st, _, children := setupCorpus(t)
	require.NoError(t, st.CreateFeature("token", "upos", "lemma", store.ValueStr))
	require.NoError(t, st.SetFeature(children[0], "upos:lemma", "the", "tester", 1))

	matches := []planner.Match{{"t": children[0]}}

	exact := New(st, matches)
	require.NoError(t, exact.AddTier("t", "upos:tag", false, nil))
	rows := exact.Results()
	require.Equal(t, "DET", rows[0]["t.upos:tag"])
	_, hasLemma := rows[0]["t.upos:lemma"]
	require.False(t, hasLemma, "exact match on the literal feature name must not also pull upos:lemma")

	withPrefix := New(st, matches)
	require.NoError(t, withPrefix.AddTier("t", "upos", true, nil))
	rows = withPrefix.Results()
	require.Equal(t, "DET", rows[0]["t.upos:tag"])
	require.Equal(t, "the", rows[0]["t.upos:lemma"])
}

func TestGetSpanWindowsAroundCenter(t *testing.T) {
	st, _, children := setupCorpus(t)
	span, err := GetSpan(st, children[1], 1, 0)
	require.NoError(t, err)
	require.Equal(t, children, span)
}
