// Package config loads quill's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/quill/pkg/llm"
)

// Config is the root of the configuration file.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Generation GenerationConfig `toml:"generation"`
	OCR        OCRConfig        `toml:"ocr"`
	Archive    ArchiveConfig    `toml:"archive"`
	Routes     []Route          `toml:"routes"`
}

type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Listen string `toml:"listen"`

	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string `toml:"db_path"`

	// UpstreamTimeout bounds each passthrough request.
	UpstreamTimeout Duration `toml:"upstream_timeout"`
}

// GenerationConfig holds the server-side generation defaults. Requests that
// leave config fields empty inherit them from here.
type GenerationConfig struct {
	Provider    llm.Provider `toml:"provider"`
	APIURL      string       `toml:"api_url"`
	APIKey      string       `toml:"api_key"`
	Model       string       `toml:"model"`
	Temperature *float64     `toml:"temperature"`
	Timeout     Duration     `toml:"timeout"`
	Concurrency int          `toml:"concurrency"`
}

// Defaults returns the provider selection as an llm.GenerationConfig.
func (g GenerationConfig) Defaults() llm.GenerationConfig {
	return llm.GenerationConfig{
		Provider: g.Provider,
		APIURL:   g.APIURL,
		APIKey:   g.APIKey,
		Model:    g.Model,
	}
}

type OCRConfig struct {
	// MaxWidth downscales wider images before upload. 0 disables resizing.
	MaxWidth int `toml:"max_width"`

	// Quality is the JPEG quality (1-100) used when re-encoding.
	Quality int `toml:"quality"`

	// Instruction overrides the default extraction instruction.
	Instruction string `toml:"instruction"`
}

type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Endpoint      string   `toml:"endpoint"`
	AccessKey     string   `toml:"access_key"`
	SecretKey     string   `toml:"secret_key"`
	Bucket        string   `toml:"bucket"`
	Region        string   `toml:"region"`
	UseSSL        bool     `toml:"use_ssl"`
	PublicBaseURL string   `toml:"public_base_url"`
	PresignExpiry Duration `toml:"presign_expiry"`
}

// Route is one passthrough entry of the proxy table.
type Route struct {
	// Name is the route key in /api/proxy/<name>/...
	Name string `toml:"name"`

	// Upstream is the base URL the remaining path is appended to.
	Upstream string `toml:"upstream"`

	// Secret is attached to every upstream request, either as the
	// SecretHeader header (prefixed with SecretPrefix) or as the
	// SecretQuery query parameter.
	Secret       string `toml:"secret"`
	SecretHeader string `toml:"secret_header"`
	SecretPrefix string `toml:"secret_prefix"`
	SecretQuery  string `toml:"secret_query"`

	// AccessToken, when set, must be presented by callers in X-Quill-Token.
	AccessToken string `toml:"access_token"`

	// RequiredQuery lists query parameters callers must send.
	RequiredQuery []string `toml:"required_query"`

	// RateLimit in requests per second. 0 disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// Duration is a time.Duration written as a string such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and decodes the file at path. ${VAR} references are expanded
// from the environment before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := Parse(os.ExpandEnv(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes TOML text, applies defaults and validates the result.
func Parse(text string) (*Config, error) {
	c := &Config{}
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.UpstreamTimeout.Duration == 0 {
		c.Server.UpstreamTimeout.Duration = 60 * time.Second
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = llm.ProviderOpenAI
	}
	if c.Generation.Timeout.Duration == 0 {
		c.Generation.Timeout.Duration = 5 * time.Minute
	}
	if c.Generation.Concurrency == 0 {
		c.Generation.Concurrency = 4
	}

	if c.OCR.Quality == 0 {
		c.OCR.Quality = 85
	}

	if c.Archive.PresignExpiry.Duration == 0 {
		c.Archive.PresignExpiry.Duration = 7 * 24 * time.Hour
	}

	for i := range c.Routes {
		r := &c.Routes[i]
		if r.SecretHeader != "" && r.SecretPrefix == "" && strings.EqualFold(r.SecretHeader, "Authorization") {
			r.SecretPrefix = "Bearer "
		}
		if r.RateLimit > 0 && r.Burst == 0 {
			r.Burst = 1
		}
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := llm.ParseProvider(string(c.Generation.Provider)); !ok {
		errs = append(errs, fmt.Errorf("generation: %w: %q", llm.ErrUnknownProvider, c.Generation.Provider))
	}
	if t := c.Generation.Temperature; t != nil && !(*t >= 0 && *t <= 2) {
		errs = append(errs, fmt.Errorf("generation: temperature %.2f outside [0, 2]", *t))
	}
	if q := c.OCR.Quality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("ocr: quality %d outside [1, 100]", q))
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive: endpoint and bucket are required when enabled"))
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: name is required", i))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true

		u, err := url.Parse(r.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("route %q: upstream must be an absolute URL", r.Name))
		}
		if r.Secret != "" && r.SecretHeader == "" && r.SecretQuery == "" {
			errs = append(errs, fmt.Errorf("route %q: secret needs secret_header or secret_query", r.Name))
		}
		if r.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("route %q: rate_limit must not be negative", r.Name))
		}
	}
	return errors.Join(errs...)
}
