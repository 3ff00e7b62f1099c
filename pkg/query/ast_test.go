package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenSplitsTopLevelAnd(t *testing.T) {
	c := And(And(Exists("t", "upos:tag"), Literal(true)), NotExists("t", "meta:index"))
	clauses := c.Flatten()
	require.Len(t, clauses, 3)
}

func TestFlattenNonAndRootIsSingleClause(t *testing.T) {
	c := Or(Literal(true), Literal(false))
	assert.Len(t, c.Flatten(), 1)
}

func TestValidateRefEqualsRejectsLiteralTarget(t *testing.T) {
	bad := &Condition{Op: OpRefEquals, Unit: "a", Feature: "meta:ref"}
	err := ValidateRefEquals(bad)
	require.Error(t, err)
}

func TestValidateRefEqualsAcceptsUnitTarget(t *testing.T) {
	ok := RefEquals("a", "meta:ref", "b")
	require.NoError(t, ValidateRefEquals(ok))
}

func TestUnitByName(t *testing.T) {
	q := &Query{Units: []Unit{NewUnit("s", "sentence"), NewUnit("t", "token")}}
	u, found := q.UnitByName("t")
	require.True(t, found)
	assert.Equal(t, []string{"token"}, u.Types)

	_, found = q.UnitByName("missing")
	assert.False(t, found)
}
