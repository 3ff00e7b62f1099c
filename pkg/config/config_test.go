package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rebabel.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDecodesNestedProcessTables(t *testing.T) {
	path := writeTOML(t, `
username = "alice"

[import_conllu]
file = "corpus.conllu"
`)
	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc["username"])
	proc, ok := doc["import_conllu"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "corpus.conllu", proc["file"])
}

func TestResolveParamPrecedence(t *testing.T) {
	doc := Document{
		"username": "doc-wide",
		"import": map[string]any{
			"username": "process-scoped",
		},
	}

	v, err := ResolveParam(doc, "import", "username", map[string]any{"username": "kwarg"}, true, "default")
	require.NoError(t, err)
	assert.Equal(t, "kwarg", v, "an explicit kwarg beats everything else")

	v, err = ResolveParam(doc, "import", "username", nil, true, "default")
	require.NoError(t, err)
	assert.Equal(t, "process-scoped", v, "a process-scoped entry beats a document-wide one")

	v, err = ResolveParam(doc, "export", "username", nil, true, "default")
	require.NoError(t, err)
	assert.Equal(t, "doc-wide", v, "falls back to the document-wide entry for a different process")

	_, err = ResolveParam(Document{}, "import", "missing", nil, false, nil)
	require.Error(t, err)
}

func TestParseFeatureSpecAllThreeForms(t *testing.T) {
	tier, feat, err := ParseFeatureSpec("upos:tag")
	require.NoError(t, err)
	assert.Equal(t, "upos", tier)
	assert.Equal(t, "tag", feat)

	tier, feat, err = ParseFeatureSpec(map[string]any{"tier": "upos", "feature": "tag"})
	require.NoError(t, err)
	assert.Equal(t, "upos", tier)
	assert.Equal(t, "tag", feat)

	tier, feat, err = ParseFeatureSpec([]any{"upos", "tag"})
	require.NoError(t, err)
	assert.Equal(t, "upos", tier)
	assert.Equal(t, "tag", feat)
}

func TestParamResolveValidatesChoices(t *testing.T) {
	p := Param{Key: "mode", Choices: []string{"strict", "lenient"}}
	_, err := p.Resolve(nil, "import", map[string]any{"mode": "bogus"})
	require.Error(t, err)

	v, err := p.Resolve(nil, "import", map[string]any{"mode": "strict"})
	require.NoError(t, err)
	assert.Equal(t, "strict", v)
}
