package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-martian/rebabel-format/pkg/query"
)

func TestTokenizeRecognizesKeywordsAndOperators(t *testing.T) {
	toks, err := Tokenize(`t.upos:tag == "NOUN" and not s has meta:id`)
	require.NoError(t, err)

	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Contains(t, kinds, TokDot)
	assert.Contains(t, kinds, TokEq)
	assert.Contains(t, kinds, TokAnd)
	assert.Contains(t, kinds, TokNot)
	assert.Contains(t, kinds, TokHas)
	assert.Equal(t, TokEOF, kinds[len(kinds)-1])
}

func TestParseFeatureAccessComparison(t *testing.T) {
	cond, err := Parse(`t.upos:tag == "NOUN"`)
	require.NoError(t, err)
	require.Equal(t, query.OpEq, cond.Op)
	require.Equal(t, query.OpFeatureAccess, cond.Left.Op)
	assert.Equal(t, "t", cond.Left.Unit)
	assert.Equal(t, "upos:tag", cond.Left.Feature)
	require.Equal(t, query.OpLiteral, cond.Right.Op)
	assert.Equal(t, "NOUN", cond.Right.Value)
}

func TestParseAndOrPrecedence(t *testing.T) {
	// "a or b and c" must parse as "a or (b and c)" since and binds
	// tighter than or.
	cond, err := Parse(`t.meta:active == 1 or t.meta:active == 0 and t.upos:tag == "X"`)
	require.NoError(t, err)
	require.Equal(t, query.OpOr, cond.Op)
	require.Equal(t, query.OpAnd, cond.Right.Op)
}

func TestParseParentChild(t *testing.T) {
	cond, err := Parse(`s parent t`)
	require.NoError(t, err)
	require.Equal(t, query.OpParent, cond.Op)
	assert.Equal(t, "s", cond.Unit)
	assert.Equal(t, "t", cond.RefTarget)
}

func TestParseUnexpectedTokenReportsLine(t *testing.T) {
	_, err := Parse("t.upos:tag ==")
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
}

func TestParseNotOnValueReportsCannotNegate(t *testing.T) {
	_, err := Parse(`N.ud:lemma = NOT "hi"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Cannot negate value")
}

func TestParseUnitDeclMissingTypeReportsMissingUnitType(t *testing.T) {
	_, _, err := ParseLine("unit N")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Missing unit type")
}

func TestParseAdjacentOperandsReportsExpectedOperator(t *testing.T) {
	_, err := Parse(`N.ud:lemma "IS" "hi"`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Expected operator")
}

func TestParseUnitDeclReturnsNameAndType(t *testing.T) {
	cond, decl, err := ParseLine("unit N token")
	require.NoError(t, err)
	require.Nil(t, cond)
	require.NotNil(t, decl)
	require.Equal(t, "N", decl.Name)
	require.Equal(t, "token", decl.Type)
}

func TestParseSingleEqualsAliasesDoubleEquals(t *testing.T) {
	cond, err := Parse(`t.upos:tag = "NOUN"`)
	require.NoError(t, err)
	require.Equal(t, query.OpEq, cond.Op)
}
