package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/query"
)

func setupCorpus(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	require.NoError(t, st.CreateFeature("token", "upos", "tag", store.ValueStr))
	require.NoError(t, st.CreateFeature("token", "meta", "index", store.ValueInt))
	require.NoError(t, st.CreateFeature("sentence", "meta", "id", store.ValueStr))

	sentence, err := st.CreateUnit("sentence", "tester")
	require.NoError(t, err)
	require.NoError(t, st.SetFeature(sentence, "meta:id", "s1", "tester", 1))

	words := []string{"The", "cat", "sat"}
	tags := []string{"DET", "NOUN", "VERB"}
	for i := range words {
		id, err := st.CreateUnit("token", "tester")
		require.NoError(t, err)
		require.NoError(t, st.SetFeature(id, "meta:index", int64(i), "tester", 1))
		require.NoError(t, st.SetFeature(id, "upos:tag", tags[i], "tester", 1))
		require.NoError(t, st.SetParent(sentence, id, true))
	}
	return st
}

func TestSearchReturnsOrderedTokens(t *testing.T) {
	st := setupCorpus(t)
	q := &query.Query{
		Units: []query.Unit{query.NewUnit("t", "token").WithOrder("meta:index")},
	}
	matches, err := Search(st, q)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	ctx := newEvalContext(st)
	var tags []any
	for _, m := range matches {
		v, err := Eval(ctx, query.FeatureOf("t", "upos:tag"), binding(m))
		require.NoError(t, err)
		tags = append(tags, v)
	}
	require.Equal(t, []any{"DET", "NOUN", "VERB"}, tags)
}

func TestSearchFiltersOnFeatureComparison(t *testing.T) {
	st := setupCorpus(t)
	q := &query.Query{
		Units: []query.Unit{query.NewUnit("t", "token")},
		Where: query.Eq(query.FeatureOf("t", "upos:tag"), query.Literal("NOUN")),
	}
	matches, err := Search(st, q)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSearchParentChildConstraint(t *testing.T) {
	st := setupCorpus(t)
	q := &query.Query{
		Units: []query.Unit{
			query.NewUnit("s", "sentence"),
			query.NewUnit("t", "token"),
		},
		Where: query.Parent("s", "t"),
	}
	matches, err := Search(st, q)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		require.NotZero(t, m["s"])
	}
}

func TestSearchSubqueryCountBound(t *testing.T) {
	st := setupCorpus(t)

	nounSubquery := func(min, max int) *query.Query {
		return &query.Query{
			Units: []query.Unit{query.NewUnit("s", "sentence")},
			Subqueries: []query.Subquery{{
				Anchor:     "s",
				AnchorUnit: "anchor_s",
				Min:        min,
				Max:        max,
				Query: &query.Query{
					Units: []query.Unit{
						query.NewUnit("anchor_s", "sentence"),
						query.NewUnit("t", "token"),
					},
					Where: query.And(
						query.Parent("anchor_s", "t"),
						query.Eq(query.FeatureOf("t", "upos:tag"), query.Literal("NOUN")),
					),
				},
			}},
		}
	}

	matches, err := Search(st, nounSubquery(1, 1))
	require.NoError(t, err)
	require.Len(t, matches, 1, "sentence has exactly one NOUN child, within [1,1]")

	matches, err = Search(st, nounSubquery(2, 0))
	require.NoError(t, err)
	require.Empty(t, matches, "sentence has only one NOUN child, below a minimum of 2")
}

func TestSearchRefEqualsUnsupportedLiteralRejected(t *testing.T) {
	st := setupCorpus(t)
	q := &query.Query{
		Units: []query.Unit{query.NewUnit("t", "token")},
		Where: &query.Condition{Op: query.OpRefEquals, Unit: "t", Feature: "meta:index"},
	}
	_, err := Search(st, q)
	require.Error(t, err)
}
