// Package config handles minion's persisted user configuration.
//
// The config file at ~/.minion/config.yaml names the default LLM provider
// and optional per-provider endpoint overrides. Provider API keys are kept
// in the OS keychain when one is available; the config file is the fallback
// for headless environments. The file is read once at startup and written
// by the login command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/autominion/minion/internal/llm"
)

// keyringService is the keychain service identifier for provider keys.
const keyringService = "minion"

// ErrNoCredentials indicates no usable provider credential was found.
var ErrNoCredentials = errors.New("no LLM provider credentials configured; run `minion login` to authenticate")

// defaultEndpoints maps known provider tags to their chat-completions URLs.
var defaultEndpoints = map[string]string{
	"openrouter":    "https://openrouter.ai/api/v1/chat/completions",
	"groq":          "https://api.groq.com/openai/v1/chat/completions",
	"google-gemini": "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions",
}

// Provider holds one provider's configuration.
type Provider struct {
	// Endpoint overrides the built-in chat-completions URL.
	Endpoint string `yaml:"endpoint,omitempty"`
	// APIKey is the file-stored credential. Empty when the key lives in
	// the OS keychain instead.
	APIKey string `yaml:"api_key,omitempty"`
}

// Config is the persisted user configuration.
type Config struct {
	DefaultProvider string              `yaml:"default_provider,omitempty"`
	Providers       map[string]Provider `yaml:"providers,omitempty"`
}

// Dir returns the minion config directory.
// Checks MINION_CONFIG_DIR, defaults to ~/.minion.
func Dir() string {
	if dir := os.Getenv("MINION_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".minion")
	}
	return filepath.Join(home, ".minion")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// RunsDir returns the base directory for per-run storage.
func RunsDir() string {
	return filepath.Join(Dir(), "runs")
}

// Load reads the config file. A missing file yields an empty config.
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", Path(), err)
	}
	return cfg, nil
}

// Save writes the config file with restricted permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(Dir(), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(Path(), data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SetKey stores a provider API key, preferring the OS keychain. When the
// keychain is unavailable (CI, headless hosts) the key is kept in the config
// file instead; callers must Save afterwards in either case so the provider
// entry itself is persisted.
func (c *Config) SetKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	entry := c.Providers[provider]
	if err := keyring.Set(keyringService, provider, key); err != nil {
		entry.APIKey = key
	} else {
		entry.APIKey = ""
	}
	c.Providers[provider] = entry
}

// SetEndpoint records a provider endpoint override.
func (c *Config) SetEndpoint(provider, endpoint string) {
	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	entry := c.Providers[provider]
	entry.Endpoint = endpoint
	c.Providers[provider] = entry
}

// KnownProvider reports whether a provider has a built-in endpoint.
func KnownProvider(provider string) bool {
	_, ok := defaultEndpoints[provider]
	return ok
}

// BuiltinProviders lists the provider tags with built-in endpoints, sorted.
func BuiltinProviders() []string {
	tags := make([]string, 0, len(defaultEndpoints))
	for tag := range defaultEndpoints {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// apiKey resolves a provider's credential: config file first, then keychain.
func (c *Config) apiKey(provider string) string {
	if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
		return p.APIKey
	}
	key, err := keyring.Get(keyringService, provider)
	if err != nil {
		return ""
	}
	return key
}

// endpoint resolves a provider's chat-completions URL.
func (c *Config) endpoint(provider string) string {
	if p, ok := c.Providers[provider]; ok && p.Endpoint != "" {
		return p.Endpoint
	}
	return defaultEndpoints[provider]
}

// providerTags returns every provider named by the config or the built-in
// endpoint table.
func (c *Config) providerTags() []string {
	seen := make(map[string]bool)
	var tags []string
	for tag := range defaultEndpoints {
		seen[tag] = true
		tags = append(tags, tag)
	}
	for tag := range c.Providers {
		if !seen[tag] {
			tags = append(tags, tag)
		}
	}
	return tags
}

// RouterTable builds the immutable routing table for a run. Providers
// without a resolvable credential or endpoint are omitted. It fails with
// ErrNoCredentials when the table would be unusable.
func (c *Config) RouterTable() (llm.RouterTable, error) {
	table := llm.RouterTable{
		Default:   c.DefaultProvider,
		Providers: make(map[string]llm.Provider),
	}

	for _, tag := range c.providerTags() {
		key := c.apiKey(tag)
		endpoint := c.endpoint(tag)
		if key == "" || endpoint == "" {
			continue
		}
		table.Providers[tag] = llm.Provider{Endpoint: endpoint, APIKey: key}
	}

	if len(table.Providers) == 0 {
		return llm.RouterTable{}, ErrNoCredentials
	}
	if table.Default == "" && len(table.Providers) == 1 {
		for tag := range table.Providers {
			table.Default = tag
		}
	}
	if _, ok := table.Providers[table.Default]; !ok {
		return llm.RouterTable{}, fmt.Errorf("%w: default provider %q has no credential", ErrNoCredentials, table.Default)
	}
	return table, nil
}
