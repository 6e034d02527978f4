package settings

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, doc string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(doc)))
	return FromViper(v)
}

func TestDefaults(t *testing.T) {
	s, err := loadYAML(t, "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", s.BaseURL)
	assert.Equal(t, 30*time.Second, s.Timeout)
	assert.Equal(t, "model1", s.DefaultModel())
	assert.Len(t, s.Models, len(DefaultModels))
	assert.Equal(t, 25, s.SnippetBudget)
	assert.False(t, s.Autosave.Enabled)
	assert.NotEmpty(t, s.CredentialsFile)
}

func TestFromViperOverrides(t *testing.T) {
	s, err := loadYAML(t, `
base-url: https://chat.example.com
timeout: 5s
allow-http: false
model: fast
models:
  - value: fast
    label: Fast
  - value: smart
    label: Smart
greeting: ""
autosave:
  enabled: true
  dir: /tmp/transcripts
`)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", s.BaseURL)
	assert.Equal(t, 5*time.Second, s.Timeout)
	assert.False(t, s.AllowHTTP)
	assert.Equal(t, []Model{{Value: "fast", Label: "Fast"}, {Value: "smart", Label: "Smart"}}, s.Models)
	assert.Equal(t, "fast", s.DefaultModel())
	assert.Equal(t, "", s.Greeting)
	assert.True(t, s.Autosave.Enabled)
	assert.Equal(t, "/tmp/transcripts", s.Autosave.Dir)

	c, err := s.NewClient()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", c.BaseURL())
}

func TestValidate(t *testing.T) {
	_, err := loadYAML(t, "model: unknown\n")
	require.Error(t, err)

	_, err = loadYAML(t, "snippet-budget: 2\n")
	require.Error(t, err)

	_, err = loadYAML(t, "models:\n  - label: nameless\n")
	require.Error(t, err)

	_, err = loadYAML(t, "placeholder-title: ' '\n")
	require.Error(t, err)
}

func TestClone(t *testing.T) {
	s := NewSettings()
	c := s.Clone()
	c.Models[0].Value = "changed"
	c.Autosave.Enabled = true
	assert.Equal(t, "model1", s.Models[0].Value)
	assert.False(t, s.Autosave.Enabled)
}

func TestJSONSchema(t *testing.T) {
	b, err := json.Marshal(JSONSchema())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	props, ok := doc["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "base-url")
	assert.Contains(t, props, "snippet-budget")
	assert.Contains(t, props, "autosave")
}

func TestValidateDocument(t *testing.T) {
	problems, err := ValidateDocument([]byte(`
base-url: https://chat.example.com
timeout: 10s
models:
  - value: fast
autosave:
  enabled: true
`))
	require.NoError(t, err)
	assert.Empty(t, problems)

	problems, err = ValidateDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, problems)

	problems, err = ValidateDocument([]byte("base-urll: typo\nsnippet-budget: 1\nmodels:\n  - label: nameless\n"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(problems), 3)

	_, err = ValidateDocument([]byte(": ["))
	require.Error(t, err)
}
