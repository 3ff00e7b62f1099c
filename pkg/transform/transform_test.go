package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/planner"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	require.NoError(t, st.CreateFeature("token", "upos", "tag", store.ValueStr))
	require.NoError(t, st.CreateFeature("token", "upos", "lemma", store.ValueStr))
	require.NoError(t, st.CreateFeature("token", "nlp", "form", store.ValueStr))
	require.NoError(t, st.CreateFeature("token", "meta", "count", store.ValueInt))
	return st
}

func TestSetFeatureCommandWritesValue(t *testing.T) {
	st := setupStore(t)
	id, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)

	cmd := SetFeature{Target: "t", Feature: "upos:tag", Value: "NOUN", User: "tester", Confidence: 1}
	require.NoError(t, Apply(st, []planner.Match{{"t": id}}, []Command{cmd}))

	v, err := st.GetFeatureValue(id, "upos:tag")
	require.NoError(t, err)
	require.Equal(t, "NOUN", v)
}

func TestCopyFeatureAcrossFeaturesWithLiteralAppend(t *testing.T) {
	st := setupStore(t)
	verb, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	obj, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)

	require.NoError(t, st.SetFeature(verb, "upos:lemma", "lemma", "tester", 1))

	suffix := "-ing"
	cmd := CopyFeature{
		From: "verb", SourceFeature: "upos:lemma",
		Target: "obj", TargetFeature: "nlp:form",
		Append: &suffix,
	}
	require.NoError(t, Apply(st, []planner.Match{{"verb": verb, "obj": obj}}, []Command{cmd}))

	v, err := st.GetFeatureValue(obj, "nlp:form")
	require.NoError(t, err)
	require.Equal(t, "lemma-ing", v)
}

func TestCopyFeatureNoopOnNonStringSourceUnderAppend(t *testing.T) {
	st := setupStore(t)
	src, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	dst, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	require.NoError(t, st.SetFeature(src, "meta:count", int64(3), "tester", 1))

	suffix := "-ing"
	cmd := CopyFeature{
		From: "src", SourceFeature: "meta:count",
		Target: "dst", TargetFeature: "nlp:form",
		Append: &suffix,
	}
	require.NoError(t, Apply(st, []planner.Match{{"src": src, "dst": dst}}, []Command{cmd}))

	v, err := st.GetFeatureValue(dst, "nlp:form")
	require.NoError(t, err)
	require.Nil(t, v, "a non-string source under append must be a no-op, not an error")
}

func TestCopyFeatureAddAdjunct(t *testing.T) {
	st := setupStore(t)
	src, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	dst, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	require.NoError(t, st.SetFeature(src, "meta:count", int64(3), "tester", 1))

	delta := int64(2)
	cmd := CopyFeature{
		From: "src", SourceFeature: "meta:count",
		Target: "dst", TargetFeature: "meta:count",
		Add: &delta,
	}
	require.NoError(t, Apply(st, []planner.Match{{"src": src, "dst": dst}}, []Command{cmd}))

	v, err := st.GetFeatureValue(dst, "meta:count")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestRemoveFeatureDeletesRow(t *testing.T) {
	st := setupStore(t)
	id, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	require.NoError(t, st.SetFeature(id, "upos:tag", "NOUN", "tester", 1))

	cmd := RemoveFeature{Target: "t", Feature: "upos:tag"}
	require.NoError(t, Apply(st, []planner.Match{{"t": id}}, []Command{cmd}))

	v, err := st.GetFeatureValue(id, "upos:tag")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestCreateUnitBindsNewName(t *testing.T) {
	st := setupStore(t)
	cmd := CreateUnit{UnitType: "token", Name: "new", User: "tester"}
	match := planner.Match{}
	require.NoError(t, Apply(st, []planner.Match{match}, []Command{cmd}))
	require.NotZero(t, match["new"])
}

func TestSetParentEnforcesSinglePrimaryViaCommand(t *testing.T) {
	st := setupStore(t)
	p1, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	p2, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)
	child, err := st.CreateUnit("token", "tester")
	require.NoError(t, err)

	match := planner.Match{"p1": p1, "p2": p2, "c": child}
	cmds := []Command{SetParent{Parent: "p1", Child: "c"}, SetParent{Parent: "p2", Child: "c"}}
	require.NoError(t, Apply(st, []planner.Match{match}, cmds))

	actual, ok, err := st.GetParent(child)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p2, actual)
}

func TestUnboundTargetReportsTransformError(t *testing.T) {
	st := setupStore(t)
	cmd := SetFeature{Target: "missing", Feature: "upos:tag", Value: "X"}
	err := Apply(st, []planner.Match{{}}, []Command{cmd})
	require.Error(t, err)
	var te *store.TransformError
	require.ErrorAs(t, err, &te)
}
