package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestCreateUnitSetsImplicitActiveFeature(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)
	require.NotZero(t, id)

	v, err := s.GetFeatureValue(id, MetaActiveFeature)
	require.NoError(t, err)
	require.Equal(t, true, v)
}

func TestCreateFeatureRejectsConflictingValueType(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateFeature("token", "upos", "tag", ValueStr))
	require.NoError(t, s.CreateFeature("token", "upos", "tag", ValueStr), "re-registering same type is a no-op")

	err := s.CreateFeature("token", "upos", "tag", ValueInt)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestSetFeatureUpsertsAuthoritativeValue(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateFeature("token", "upos", "tag", ValueStr))
	id, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)

	require.NoError(t, s.SetFeature(id, "upos:tag", "NOUN", "tester", 1))
	v, err := s.GetFeatureValue(id, "upos:tag")
	require.NoError(t, err)
	require.Equal(t, "NOUN", v)

	require.NoError(t, s.SetFeature(id, "upos:tag", "VERB", "tester", 1))
	v, err = s.GetFeatureValue(id, "upos:tag")
	require.NoError(t, err)
	require.Equal(t, "VERB", v, "second write must overwrite, not duplicate, the authoritative row")
}

func TestSetFeatureDistNormalizesProbabilities(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateFeature("token", "upos", "tag", ValueStr))
	id, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)

	err = s.SetFeatureDist(id, "upos:tag", []any{"NOUN", "VERB"}, []float64{3, 1}, true)
	require.NoError(t, err)

	err = s.SetFeatureDist(id, "upos:tag", []any{"NOUN"}, []float64{0}, true)
	require.Error(t, err, "non-positive probabilities must be rejected")
}

func TestSetParentEnforcesSinglePrimaryParent(t *testing.T) {
	s := openTestStore(t)
	parent1, err := s.CreateUnit("sentence", "tester")
	require.NoError(t, err)
	parent2, err := s.CreateUnit("sentence", "tester")
	require.NoError(t, err)
	child, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)

	require.NoError(t, s.SetParent(parent1, child, true))
	require.NoError(t, s.SetParent(parent2, child, true))

	p, ok, err := s.GetParent(child)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, parent2, p, "setting a new primary parent must deactivate the old one")
}

func TestGetChildrenExcludesSecondaryRelations(t *testing.T) {
	s := openTestStore(t)
	parent, err := s.CreateUnit("sentence", "tester")
	require.NoError(t, err)
	primaryChild, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)
	secondaryChild, err := s.CreateUnit("token", "tester")
	require.NoError(t, err)

	require.NoError(t, s.SetParent(parent, primaryChild, true))
	require.NoError(t, s.SetParent(parent, secondaryChild, false))

	children, err := s.GetChildren(parent)
	require.NoError(t, err)
	require.Equal(t, []int64{primaryChild}, children)
}

func TestTransactionNestsAndCommitsOnce(t *testing.T) {
	s := openTestStore(t)
	var id int64
	err := s.Transaction(func() error {
		return s.Transaction(func() error {
			var err error
			id, err = s.CreateUnit("token", "tester")
			return err
		})
	})
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestGetUnitTypeReportsMissingUnit(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetUnitType(999)
	var missing *MissingUnit
	require.ErrorAs(t, err, &missing)
}
