package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	path     string
	loadedAt time.Time
}

// Source returns the origin for the given configuration key.
func (m Metadata) Source(key string) ValueSource {
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// Path returns the config file that was read, or "" when none was.
func (m Metadata) Path() string {
	return m.path
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}

// Overrides conveys caller-specified values, typically CLI flags, that win
// over every other source.
type Overrides struct {
	APIKey          *string
	BaseURL         *string
	PollInterval    *time.Duration
	MaxPollDuration *time.Duration
	DefaultTaskType *string
	LLMModel        *string
	LogLevel        *string
	ServerHost      *string
	ServerPort      *int
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithOverrides applies caller overrides that take highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// AliasEnvLookup wraps an EnvLookup with additional alias keys.
func AliasEnvLookup(base EnvLookup, aliases map[string][]string) EnvLookup {
	if base == nil {
		base = DefaultEnvLookup
	}
	return func(key string) (string, bool) {
		if value, ok := base(key); ok && value != "" {
			return value, true
		}
		for _, alias := range aliases[key] {
			if value, ok := base(alias); ok && value != "" {
				return value, true
			}
		}
		return "", false
	}
}

// Load builds the configuration from defaults, then the config file, then the
// environment, then caller overrides.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}
	lookup := AliasEnvLookup(options.envLookup, DefaultEnvAliases())

	cfg := Defaults()
	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	if err := applyFile(&cfg, &meta, options, lookup); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, lookup); err != nil {
		return Config{}, Metadata{}, err
	}
	applyOverrides(&cfg, &meta, options.overrides)

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

func resolveConfigPath(options loadOptions, lookup EnvLookup) string {
	if options.configPath != "" {
		return options.configPath
	}
	if path, ok := lookup("AGENTSTUDIO_CONFIG"); ok {
		return path
	}
	if options.homeDir == nil {
		return ""
	}
	home, err := options.homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".agentstudio", "config.yaml")
}

func applyFile(cfg *Config, meta *Metadata, options loadOptions, lookup EnvLookup) error {
	path := resolveConfigPath(options, lookup)
	if path == "" {
		return nil
	}
	data, err := options.readFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	v := viper.New()
	v.SetConfigType(configType(path))
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for _, f := range fields {
		if !v.IsSet(f.key) {
			continue
		}
		raw := v.GetString(f.key)
		if f.list {
			raw = strings.Join(v.GetStringSlice(f.key), ",")
		}
		if err := f.set(cfg, raw); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, f.key, err)
		}
		meta.sources[f.key] = SourceFile
	}
	meta.path = path
	return nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

func applyEnv(cfg *Config, meta *Metadata, lookup EnvLookup) error {
	for _, f := range fields {
		if f.env == "" {
			continue
		}
		raw, ok := lookup(f.env)
		if !ok {
			continue
		}
		if err := f.set(cfg, raw); err != nil {
			return fmt.Errorf("environment %s: %w", f.env, err)
		}
		meta.sources[f.key] = SourceEnv
	}
	return nil
}

func applyOverrides(cfg *Config, meta *Metadata, o Overrides) {
	set := func(key string) { meta.sources[key] = SourceOverride }
	if o.APIKey != nil {
		cfg.APIKey = *o.APIKey
		set("api_key")
	}
	if o.BaseURL != nil {
		cfg.BaseURL = *o.BaseURL
		set("base_url")
	}
	if o.PollInterval != nil {
		cfg.PollInterval = *o.PollInterval
		set("poll_interval")
	}
	if o.MaxPollDuration != nil {
		cfg.MaxPollDuration = *o.MaxPollDuration
		set("max_poll_duration")
	}
	if o.DefaultTaskType != nil {
		cfg.DefaultTaskType = *o.DefaultTaskType
		set("default_task_type")
	}
	if o.LLMModel != nil {
		cfg.LLMModel = *o.LLMModel
		set("llm_model")
	}
	if o.LogLevel != nil {
		cfg.Observability.Logging.Level = *o.LogLevel
		set("logging.level")
	}
	if o.ServerHost != nil {
		cfg.Server.Host = *o.ServerHost
		set("server.host")
	}
	if o.ServerPort != nil {
		cfg.Server.Port = *o.ServerPort
		set("server.port")
	}
}

// field binds one config key to its env var and setter.
type field struct {
	key  string
	env  string
	list bool
	set  func(*Config, string) error
}

var fields = []field{
	{key: "api_key", env: APIKeyEnv, set: func(c *Config, v string) error { c.APIKey = v; return nil }},
	{key: "base_url", env: "AGENTSTUDIO_BASE_URL", set: func(c *Config, v string) error { c.BaseURL = v; return nil }},
	{key: "poll_interval", env: "AGENTSTUDIO_POLL_INTERVAL", set: durationSetter(func(c *Config) *time.Duration { return &c.PollInterval })},
	{key: "max_poll_duration", env: "AGENTSTUDIO_MAX_POLL_DURATION", set: durationSetter(func(c *Config) *time.Duration { return &c.MaxPollDuration })},
	{key: "request_timeout", env: "AGENTSTUDIO_REQUEST_TIMEOUT", set: durationSetter(func(c *Config) *time.Duration { return &c.RequestTimeout })},
	{key: "screenshot_stagger", env: "AGENTSTUDIO_SCREENSHOT_STAGGER", set: durationSetter(func(c *Config) *time.Duration { return &c.ScreenshotStagger })},
	{key: "screenshot_concurrency", env: "AGENTSTUDIO_SCREENSHOT_CONCURRENCY", set: intSetter(func(c *Config) *int { return &c.ScreenshotConcurrency })},
	{key: "artifact_cache_size", env: "AGENTSTUDIO_ARTIFACT_CACHE_SIZE", set: intSetter(func(c *Config) *int { return &c.ArtifactCacheSize })},
	{key: "max_response_bytes", env: "AGENTSTUDIO_MAX_RESPONSE_BYTES", set: func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		c.MaxResponseBytes = n
		return nil
	}},
	{key: "default_task_type", env: "AGENTSTUDIO_DEFAULT_TASK_TYPE", set: func(c *Config, v string) error { c.DefaultTaskType = strings.TrimSpace(v); return nil }},
	{key: "llm_model", env: "AGENTSTUDIO_LLM_MODEL", set: func(c *Config, v string) error { c.LLMModel = strings.TrimSpace(v); return nil }},
	{key: "server.host", env: "AGENTSTUDIO_SERVER_HOST", set: func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{key: "server.port", env: "AGENTSTUDIO_SERVER_PORT", set: intSetter(func(c *Config) *int { return &c.Server.Port })},
	{key: "server.cors_origins", env: "AGENTSTUDIO_CORS_ORIGINS", list: true, set: func(c *Config, v string) error { c.Server.CORSOrigins = splitList(v); return nil }},
	{key: "logging.level", env: "AGENTSTUDIO_LOG_LEVEL", set: func(c *Config, v string) error { c.Observability.Logging.Level = v; return nil }},
	{key: "logging.format", env: "AGENTSTUDIO_LOG_FORMAT", set: func(c *Config, v string) error { c.Observability.Logging.Format = v; return nil }},
	{key: "metrics.enabled", env: "AGENTSTUDIO_METRICS_ENABLED", set: boolSetter(func(c *Config) *bool { return &c.Observability.Metrics.Enabled })},
	{key: "tracing.enabled", env: "AGENTSTUDIO_TRACING_ENABLED", set: boolSetter(func(c *Config) *bool { return &c.Observability.Tracing.Enabled })},
	{key: "tracing.exporter", env: "AGENTSTUDIO_TRACING_EXPORTER", set: func(c *Config, v string) error { c.Observability.Tracing.Exporter = v; return nil }},
	{key: "tracing.otlp_endpoint", env: "AGENTSTUDIO_OTLP_ENDPOINT", set: func(c *Config, v string) error { c.Observability.Tracing.OTLPEndpoint = v; return nil }},
	{key: "tracing.zipkin_endpoint", env: "AGENTSTUDIO_ZIPKIN_ENDPOINT", set: func(c *Config, v string) error { c.Observability.Tracing.ZipkinEndpoint = v; return nil }},
	{key: "tracing.sample_rate", env: "AGENTSTUDIO_TRACING_SAMPLE_RATE", set: func(c *Config, v string) error {
		rate, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid float %q", v)
		}
		c.Observability.Tracing.SampleRate = rate
		return nil
	}},
	{key: "tracing.service_name", set: func(c *Config, v string) error { c.Observability.Tracing.ServiceName = v; return nil }},
}

func durationSetter(target func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*target(c) = d
		return nil
	}
}

func intSetter(target func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*target(c) = n
		return nil
	}
}

func boolSetter(target func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*target(c) = b
		return nil
	}
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
