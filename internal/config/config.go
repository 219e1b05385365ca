package config

import (
	"fmt"
	"strings"
	"time"

	"agentstudio/internal/observability"
)

// Defaults for the Browser Use deployment and the polling cadence.
const (
	DefaultBaseURL               = "https://api.browser-use.com/api/v1"
	DefaultPollInterval          = 2 * time.Second
	DefaultMaxPollDuration       = 45 * time.Minute
	DefaultRequestTimeout        = 30 * time.Second
	DefaultScreenshotStagger     = 500 * time.Millisecond
	DefaultScreenshotConcurrency = 2
	DefaultArtifactCacheSize     = 512
	DefaultMaxResponseBytes      = 8 << 20
	DefaultTaskType              = "startup-analysis"
	DefaultServerPort            = 8080
)

// APIKeyEnv is the canonical environment variable holding the remote credential.
const APIKeyEnv = "BROWSER_USE_API_KEY"

// Config captures every user-configurable setting.
type Config struct {
	APIKey                string
	BaseURL               string
	PollInterval          time.Duration
	MaxPollDuration       time.Duration
	RequestTimeout        time.Duration
	ScreenshotStagger     time.Duration
	ScreenshotConcurrency int
	ArtifactCacheSize     int
	MaxResponseBytes      int64
	DefaultTaskType       string
	LLMModel              string
	Server                ServerConfig
	Observability         observability.Config
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Defaults returns the configuration used before any source is applied.
func Defaults() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		PollInterval:          DefaultPollInterval,
		MaxPollDuration:       DefaultMaxPollDuration,
		RequestTimeout:        DefaultRequestTimeout,
		ScreenshotStagger:     DefaultScreenshotStagger,
		ScreenshotConcurrency: DefaultScreenshotConcurrency,
		ArtifactCacheSize:     DefaultArtifactCacheSize,
		MaxResponseBytes:      DefaultMaxResponseBytes,
		DefaultTaskType:       DefaultTaskType,
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: DefaultServerPort,
		},
		Observability: observability.DefaultConfig(),
	}
}

// HasAPIKey reports whether a remote credential is configured.
func (c Config) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Validate rejects settings the engine cannot run with. A missing API key is
// not a validation failure; it surfaces at the first remote call.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base_url must not be empty")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.MaxPollDuration < 0 {
		problems = append(problems, "max_poll_duration must not be negative")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	if c.ScreenshotStagger < 0 {
		problems = append(problems, "screenshot_stagger must not be negative")
	}
	if c.ScreenshotConcurrency <= 0 {
		problems = append(problems, "screenshot_concurrency must be positive")
	}
	if c.ArtifactCacheSize <= 0 {
		problems = append(problems, "artifact_cache_size must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		problems = append(problems, "max_response_bytes must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
