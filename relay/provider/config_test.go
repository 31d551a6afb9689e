package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/relay/apitype"
)

func writeBindings(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validBindings = `
providers:
  - id: openai
    family: openai
    base_url: https://api.openai.com
    api_key: ${TEST_OPENAI_KEY}
    ttl_fresh_min: 45
  - id: anthropic
    family: anthropic
    base_url: https://api.anthropic.com
    api_key: sk-ant-test
    fallback_models: [claude-sonnet-4, claude-haiku-4]
  - id: proxygw
    family: openai_compatible
    base_url: https://gw.example.com
    api_key: gw-master-key
    virtual_keys:
      deepseek: ds-key-1
      qwen: qw-key-2
failover:
  gpt: [openai, proxygw]
  claude: [anthropic]
`

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	path := writeBindings(t, validBindings)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)
	require.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	require.Equal(t, 45, cfg.Providers[0].TTLFreshMin)
	require.Equal(t, []string{"claude-sonnet-4", "claude-haiku-4"}, cfg.Providers[1].FallbackModels)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "empty providers",
			content: "providers: []\n",
			errMsg:  "at least one provider",
		},
		{
			name: "duplicate id",
			content: `
providers:
  - {id: a, family: openai, base_url: https://x.test, api_key: k}
  - {id: a, family: openai, base_url: https://y.test, api_key: k}
`,
			errMsg: "duplicate provider id",
		},
		{
			name: "unknown family",
			content: `
providers:
  - {id: a, family: palm, base_url: https://x.test, api_key: k}
`,
			errMsg: "unknown family",
		},
		{
			name: "missing base_url",
			content: `
providers:
  - {id: a, family: openai, api_key: k}
`,
			errMsg: "requires base_url",
		},
		{
			name: "bedrock missing region",
			content: `
providers:
  - {id: a, family: bedrock, access_key: ak, secret_key: sk}
`,
			errMsg: "requires region",
		},
		{
			name: "masked api_key placeholder",
			content: `
providers:
  - {id: a, family: openai, base_url: https://x.test, api_key: "******"}
`,
			errMsg: "masked placeholder",
		},
		{
			name: "failover references unknown provider",
			content: `
providers:
  - {id: a, family: openai, base_url: https://x.test, api_key: k}
failover:
  gpt: [a, ghost]
`,
			errMsg: "unknown provider",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeBindings(t, tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBindingApiType(t *testing.T) {
	t.Parallel()
	require.Equal(t, apitype.OpenAI, (&Binding{Family: "openai"}).ApiType())
	require.Equal(t, apitype.Anthropic, (&Binding{Family: "anthropic"}).ApiType())
	require.Equal(t, apitype.Gemini, (&Binding{Family: "gemini"}).ApiType())
	require.Equal(t, apitype.AwsBedrock, (&Binding{Family: "bedrock"}).ApiType())
	require.Equal(t, apitype.OpenAICompatible, (&Binding{Family: "openai_compatible"}).ApiType())
}

func TestVirtualKeyFor(t *testing.T) {
	t.Parallel()
	b := &Binding{
		APIKey:      "master",
		VirtualKeys: map[string]string{"deepseek": "ds-key"},
	}
	require.Equal(t, "ds-key", b.VirtualKeyFor("deepseek"))
	require.Equal(t, "master", b.VirtualKeyFor("qwen"), "unknown hint falls back to the master key")
	require.Equal(t, "master", b.VirtualKeyFor(""))
}

func TestRegistryInstallAndLookup(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	path := writeBindings(t, validBindings)
	require.NoError(t, LoadAndInstall(context.Background(), path))

	b, ok := Get("openai")
	require.True(t, ok)
	require.Equal(t, "https://api.openai.com", b.BaseURL)

	_, ok = Get("missing")
	require.False(t, ok)

	require.Equal(t, []string{"openai", "anthropic", "proxygw"}, Ids())
}

func TestRegistrySkipsDisabled(t *testing.T) {
	path := writeBindings(t, `
providers:
  - {id: live, family: openai, base_url: https://x.test, api_key: k}
  - {id: dark, family: openai, base_url: https://y.test, api_key: k, disabled: true}
`)
	require.NoError(t, LoadAndInstall(context.Background(), path))

	_, ok := Get("dark")
	require.False(t, ok, "disabled bindings should not be installed")
	require.Equal(t, []string{"live"}, Ids())
}

func TestNeighboursForLongestPrefix(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	path := writeBindings(t, `
providers:
  - {id: openai, family: openai, base_url: https://x.test, api_key: k}
  - {id: anthropic, family: anthropic, base_url: https://y.test, api_key: k}
  - {id: bedrock1, family: bedrock, region: us-east-1, access_key: ak, secret_key: sk}
failover:
  claude: [anthropic, bedrock1]
  claude-haiku: [bedrock1]
`)
	require.NoError(t, LoadAndInstall(context.Background(), path))

	require.Equal(t, []string{"anthropic", "bedrock1"}, NeighboursFor("claude-sonnet-4"))
	require.Equal(t, []string{"bedrock1"}, NeighboursFor("claude-haiku-4"), "longest prefix wins")
	require.Nil(t, NeighboursFor("gpt-4o"))
}
