// Package settings holds the configuration of the dialogue client, loaded
// through viper from the config file, DIALOGUE_* environment variables and
// command line flags.
package settings

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/search"
	"github.com/go-go-golems/dialogue/pkg/security"
	"github.com/huandu/go-clone"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const AppName = "dialogue"

// Model is one entry of the model catalog offered by the backend.
type Model struct {
	Value string `yaml:"value" mapstructure:"value" json:"value" jsonschema:"required,description=Model identifier sent to the backend"`
	Label string `yaml:"label" mapstructure:"label" json:"label" jsonschema:"description=Human readable name"`
}

type AutosaveSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled" jsonschema:"description=Write a JSON transcript after every reply"`
	Dir     string `yaml:"dir,omitempty" mapstructure:"dir" json:"dir,omitempty" jsonschema:"description=Directory transcripts are written to"`
	Format  string `yaml:"format,omitempty" mapstructure:"format" json:"format,omitempty" jsonschema:"description=Transcript path template (text/template with sprig functions)"`
}

type Settings struct {
	BaseURL            string           `yaml:"base-url" mapstructure:"base-url" json:"base-url" jsonschema:"description=Base URL of the dialog backend"`
	Model              string           `yaml:"model,omitempty" mapstructure:"model" json:"model,omitempty" jsonschema:"description=Model used for new questions. Defaults to the first catalog entry"`
	Models             []Model          `yaml:"models,omitempty" mapstructure:"models" json:"models,omitempty" jsonschema:"description=Model catalog"`
	Timeout            time.Duration    `yaml:"timeout" mapstructure:"timeout" json:"timeout" jsonschema:"oneof_type=string;integer,description=Timeout of non-streaming backend requests"`
	AllowHTTP          bool             `yaml:"allow-http" mapstructure:"allow-http" json:"allow-http" jsonschema:"description=Allow plain HTTP backends"`
	AllowLocalNetworks bool             `yaml:"allow-local-networks" mapstructure:"allow-local-networks" json:"allow-local-networks" jsonschema:"description=Allow backends on loopback and private networks"`
	PlaceholderTitle   string           `yaml:"placeholder-title" mapstructure:"placeholder-title" json:"placeholder-title" jsonschema:"description=Title of a new chat"`
	Greeting           string           `yaml:"greeting" mapstructure:"greeting" json:"greeting" jsonschema:"description=First bot message of a new chat. Empty disables it"`
	SnippetBudget      int              `yaml:"snippet-budget" mapstructure:"snippet-budget" json:"snippet-budget" jsonschema:"minimum=4,description=Characters shown per search result"`
	Autosave           AutosaveSettings `yaml:"autosave" mapstructure:"autosave" json:"autosave"`
	CredentialsFile    string           `yaml:"credentials-file,omitempty" mapstructure:"credentials-file" json:"credentials-file,omitempty" jsonschema:"description=File the login is remembered in"`
}

var DefaultModels = []Model{
	{Value: "model1", Label: "deepseek v3"},
	{Value: "model2", Label: "deepseek R1"},
	{Value: "model3", Label: "Baidu Qianfan"},
	{Value: "model4", Label: "Tongyi Qianwen"},
	{Value: "model5", Label: "Tencent Hunyuan"},
	{Value: "model6", Label: "multimodal"},
}

func NewSettings() *Settings {
	return &Settings{
		BaseURL:            backend.DefaultBaseURL,
		Models:             clone.Clone(DefaultModels).([]Model),
		Timeout:            backend.DefaultTimeout,
		AllowHTTP:          true,
		AllowLocalNetworks: true,
		PlaceholderTitle:   conversation.DefaultPlaceholderTitle,
		Greeting:           conversation.DefaultGreeting,
		SnippetBudget:      search.DefaultSnippetBudget,
		Autosave: AutosaveSettings{
			Dir: filepath.Join(ConfigDir(), "transcripts"),
		},
		CredentialsFile: filepath.Join(ConfigDir(), "credentials.yaml"),
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// ConfigDir is the per-user directory for config, credentials and transcripts.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppName)
	}
	return "." + AppName
}

// SetDefaults registers the defaults with v so that unset keys unmarshal to
// them.
func SetDefaults(v *viper.Viper) {
	d := NewSettings()
	v.SetDefault("base-url", d.BaseURL)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("allow-http", d.AllowHTTP)
	v.SetDefault("allow-local-networks", d.AllowLocalNetworks)
	v.SetDefault("placeholder-title", d.PlaceholderTitle)
	v.SetDefault("greeting", d.Greeting)
	v.SetDefault("snippet-budget", d.SnippetBudget)
	v.SetDefault("autosave.enabled", d.Autosave.Enabled)
	v.SetDefault("autosave.dir", d.Autosave.Dir)
	v.SetDefault("credentials-file", d.CredentialsFile)
}

// FromViper unmarshals the settings on top of the defaults and validates them.
func FromViper(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	// a configured catalog replaces the default one instead of being merged
	// into it element by element
	if v.IsSet("models") {
		s.Models = nil
	}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not parse settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.BaseURL) == "" {
		return errors.New("base-url is empty")
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout %s is negative", s.Timeout)
	}
	if s.SnippetBudget < 4 {
		return errors.Errorf("snippet-budget %d is too small", s.SnippetBudget)
	}
	if strings.TrimSpace(s.PlaceholderTitle) == "" {
		return errors.New("placeholder-title is empty")
	}
	if s.Model != "" && len(s.Models) > 0 {
		if _, ok := s.FindModel(s.Model); !ok {
			return errors.Errorf("model %q is not in the model catalog", s.Model)
		}
	}
	for i, m := range s.Models {
		if m.Value == "" {
			return errors.Errorf("model %d of the catalog has no value", i)
		}
	}
	return nil
}

func (s *Settings) FindModel(value string) (Model, bool) {
	for _, m := range s.Models {
		if m.Value == value {
			return m, true
		}
	}
	return Model{}, false
}

// DefaultModel is the configured model, or the first catalog entry.
func (s *Settings) DefaultModel() string {
	if s.Model != "" {
		return s.Model
	}
	if len(s.Models) > 0 {
		return s.Models[0].Value
	}
	return ""
}

func (s *Settings) URLOptions() security.OutboundURLOptions {
	return security.OutboundURLOptions{
		AllowHTTP:          s.AllowHTTP,
		AllowLocalNetworks: s.AllowLocalNetworks,
	}
}

// NewClient builds the backend client described by the settings.
func (s *Settings) NewClient() (*backend.Client, error) {
	return backend.NewClient(s.BaseURL,
		backend.WithTimeout(s.Timeout),
		backend.WithURLOptions(s.URLOptions()),
	)
}

// StoreOptions returns the session store options described by the settings.
func (s *Settings) StoreOptions() []conversation.StoreOption {
	return []conversation.StoreOption{
		conversation.WithPlaceholderTitle(s.PlaceholderTitle),
		conversation.WithGreeting(s.Greeting),
	}
}

// JSONSchema describes the config file.
func JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&Settings{})
	schema.Title = "dialogue configuration"
	return schema
}
