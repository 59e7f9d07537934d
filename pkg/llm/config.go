package llm

import "strings"

// Provider names an upstream wire dialect.
type Provider string

const (
	// ProviderOpenAI is any OpenAI-compatible chat completions API.
	ProviderOpenAI Provider = "openai"

	// ProviderOllama is a local Ollama server speaking its native /api/chat.
	ProviderOllama Provider = "ollama"

	// ProviderGemini is the Google Generative Language REST API.
	ProviderGemini Provider = "gemini"
)

var providerAliases = map[string]Provider{
	"":                  ProviderOpenAI,
	"openai":            ProviderOpenAI,
	"openai-compatible": ProviderOpenAI,
	"deepseek":          ProviderOpenAI,
	"openrouter":        ProviderOpenAI,
	"siliconflow":       ProviderOpenAI,
	"ollama":            ProviderOllama,
	"gemini":            ProviderGemini,
	"google":            ProviderGemini,
}

// ParseProvider resolves a provider name or alias, case-insensitively.
// An empty name resolves to ProviderOpenAI.
func ParseProvider(name string) (Provider, bool) {
	p, ok := providerAliases[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// GenerationConfig selects and authenticates against an upstream provider.
// It is resolved once per call and treated as immutable for that call.
type GenerationConfig struct {
	Provider Provider `json:"provider,omitempty" toml:"provider"`
	APIURL   string   `json:"api_url,omitempty" toml:"api_url"`
	APIKey   string   `json:"api_key,omitempty" toml:"api_key"`
	Model    string   `json:"model,omitempty" toml:"model"`
}

// WithDefaults returns c with empty fields taken from d. The API key is only
// inherited when the provider is unchanged, so a server-held key is never
// sent to an upstream the caller picked.
func (c GenerationConfig) WithDefaults(d GenerationConfig) GenerationConfig {
	samePlace := c.Provider == "" || c.Provider == d.Provider
	if c.APIURL != "" && c.APIURL != d.APIURL {
		samePlace = false
	}

	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.APIKey == "" && samePlace {
		c.APIKey = d.APIKey
	}
	return c
}
