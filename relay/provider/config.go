package provider

import (
	"os"
	"strings"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"

	"github.com/modelrelay/modelrelay/common"
	"github.com/modelrelay/modelrelay/relay/apitype"
)

// Binding is one upstream provider entry from the bindings file. A binding
// carries everything an adaptor needs to reach the upstream: endpoint,
// credentials, and per-provider catalog knobs.
type Binding struct {
	Id      string `yaml:"id"`
	Family  string `yaml:"family"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// AWS credentials, only meaningful for the bedrock family.
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// TTLFreshMin overrides the global catalog freshness window in minutes.
	TTLFreshMin int  `yaml:"ttl_fresh_min"`
	Private     bool `yaml:"private"`
	Disabled    bool `yaml:"disabled"`

	// VirtualKeys maps a sub_provider hint to the underlying key when the
	// upstream is itself a gateway multiplexing several vendors.
	VirtualKeys map[string]string `yaml:"virtual_keys"`

	// FallbackModels is the static model list served when a catalog fetch
	// fails and no stale snapshot exists.
	FallbackModels []string `yaml:"fallback_models"`
}

// Config is the parsed bindings file.
type Config struct {
	Providers []Binding `yaml:"providers"`

	// Failover maps a model-id prefix to the ordered provider chain used
	// as the neighbour set during failover, e.g. "claude" -> [anthropic, bedrock].
	Failover map[string][]string `yaml:"failover"`
}

// familyToApiType maps the binding family names accepted in YAML to the
// adaptor wire protocols.
var familyToApiType = map[string]int{
	"openai":            apitype.OpenAI,
	"anthropic":         apitype.Anthropic,
	"gemini":            apitype.Gemini,
	"bedrock":           apitype.AwsBedrock,
	"openai_compatible": apitype.OpenAICompatible,
}

// ApiType resolves the adaptor wire protocol for the binding.
func (b *Binding) ApiType() int {
	if t, ok := familyToApiType[b.Family]; ok {
		return t
	}
	return apitype.OpenAICompatible
}

// VirtualKeyFor returns the override key for a sub_provider hint, falling
// back to the binding's own key when no override matches.
func (b *Binding) VirtualKeyFor(subProvider string) string {
	if subProvider != "" {
		if key, ok := b.VirtualKeys[subProvider]; ok && key != "" {
			return key
		}
	}
	return b.APIKey
}

// LoadConfig reads and validates the bindings file. Values of the form
// ${VAR} are expanded from the environment so keys never live in the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read provider bindings file %q", path)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse provider bindings file %q", path)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "validate provider bindings")
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return errors.New("at least one provider binding is required")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i := range cfg.Providers {
		b := &cfg.Providers[i]
		if b.Id == "" {
			return errors.Errorf("provider at index %d has no id", i)
		}
		if seen[b.Id] {
			return errors.Errorf("duplicate provider id %q", b.Id)
		}
		seen[b.Id] = true

		if _, ok := familyToApiType[b.Family]; !ok {
			return errors.Errorf("provider %q has unknown family %q", b.Id, b.Family)
		}

		switch b.Family {
		case "bedrock":
			if b.Region == "" {
				return errors.Errorf("provider %q requires region", b.Id)
			}
			if b.AccessKey == "" || b.SecretKey == "" {
				return errors.Errorf("provider %q requires access_key and secret_key", b.Id)
			}
		default:
			if b.BaseURL == "" {
				return errors.Errorf("provider %q requires base_url", b.Id)
			}
			if !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
				return errors.Errorf("provider %q base_url must be http(s)", b.Id)
			}
			if b.APIKey == "" {
				return errors.Errorf("provider %q requires api_key", b.Id)
			}
			if common.IsMaskedSecret(b.APIKey) {
				return errors.Errorf("provider %q api_key is a masked placeholder", b.Id)
			}
		}
	}

	for prefix, chain := range cfg.Failover {
		for _, id := range chain {
			if !seen[id] {
				return errors.Errorf("failover chain %q references unknown provider %q", prefix, id)
			}
		}
	}

	return nil
}
