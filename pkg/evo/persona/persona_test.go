package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_YAML(t *testing.T) {
	p, err := Parse([]byte(`
name: Evo
personality: You are a cheerful companion.
rules:
  - Keep answers short.
  - Never reveal API keys.
`))
	require.NoError(t, err)
	assert.Equal(t, "Evo", p.Name)
	assert.Equal(t, "You are a cheerful companion.", p.Personality)
	assert.Equal(t, []string{"Keep answers short.", "Never reveal API keys."}, p.Rules())
}

func TestParse_NestedJSON(t *testing.T) {
	p, err := Parse([]byte(`{
		"name": "Evo",
		"system_prompt_components": {
			"personality": "Curious and kind.",
			"rules": ["Rule one", "Rule two"]
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Curious and kind.", p.Personality)
	assert.Equal(t, []string{"Rule one", "Rule two"}, p.Rules())
}

func TestParse_DefaultsName(t *testing.T) {
	p, err := Parse([]byte(`personality: hi`))
	require.NoError(t, err)
	assert.Equal(t, DefaultName, p.Name)
}

func TestParse_RequiresPersonality(t *testing.T) {
	_, err := Parse([]byte(`name: Evo`))
	assert.Error(t, err)
}

func TestRules_ReturnsCopy(t *testing.T) {
	p := New("Evo", "x", []string{"a"})
	rules := p.Rules()
	rules[0] = "mutated"
	assert.Equal(t, []string{"a"}, p.Rules())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personality.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personality: hello\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Personality)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
