package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Logging      LogConfig
	RateLimit    RateLimitConfig
	Store        StoreConfig
	Cache        CacheConfig
	Sandbox      SandboxConfig
	Resolver     ResolverConfig
	Versions     VersionsConfig
	Content      ContentConfig
	Invalidation InvalidationConfig
	HTTP         HTTPConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8787"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	AllowOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds admin API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// StoreConfig locates the SQLite database holding settings and the
// dependency cache.
type StoreConfig struct {
	Path string `envconfig:"SIUL_DB_PATH" default:"siul.db"`
}

// CacheConfig controls where the compiled artifact is written.
type CacheConfig struct {
	Dir  string `envconfig:"SIUL_CACHE_DIR" default:"cache"`
	Gzip bool   `envconfig:"SIUL_CACHE_GZIP" default:"true"`
}

// SandboxConfig bounds sandbox waits and optionally overrides the bootstrap
// documents shipped with the binary.
type SandboxConfig struct {
	ReadyTimeout            time.Duration `envconfig:"SIUL_SANDBOX_READY_TIMEOUT" default:"30s"`
	RequestTimeout          time.Duration `envconfig:"SIUL_SANDBOX_REQUEST_TIMEOUT" default:"2m"`
	CompilerBootstrap       string        `envconfig:"SIUL_COMPILER_BOOTSTRAP"`
	ConfigResolverBootstrap string        `envconfig:"SIUL_CONFIG_RESOLVER_BOOTSTRAP"`
}

// ResolverConfig configures dependency map resolution.
type ResolverConfig struct {
	GeneratorURL    string        `envconfig:"SIUL_GENERATOR_URL" default:"https://api.jspm.io/generate"`
	CDNURL          string        `envconfig:"SIUL_CDN_URL" default:"https://esm.sh"`
	RegistryURL     string        `envconfig:"SIUL_NPM_REGISTRY_URL" default:"https://registry.npmjs.org"`
	DefaultProvider string        `envconfig:"SIUL_DEFAULT_PROVIDER" default:"esm.sh"`
	TTL             time.Duration `envconfig:"SIUL_RESOLVER_TTL" default:"24h"`
}

// VersionsConfig configures the compiler version registry.
type VersionsConfig struct {
	URL        string `envconfig:"SIUL_VERSIONS_URL" default:"https://data.jsdelivr.com/v1/package/npm/tailwindcss"`
	Constraint string `envconfig:"SIUL_VERSION_CONSTRAINT" default:">=3.0.0, <4.0.0"`
}

// ContentConfig configures content providers.
type ContentConfig struct {
	ProvidersFile string `envconfig:"SIUL_PROVIDERS_FILE" default:"providers.toml"`
	BatchSize     int    `envconfig:"SIUL_SCAN_BATCH_SIZE" default:"50"`
}

// InvalidationConfig configures downstream cache invalidation.
type InvalidationConfig struct {
	NATSURL       string   `envconfig:"SIUL_NATS_URL"`
	NATSSubject   string   `envconfig:"SIUL_NATS_SUBJECT" default:"siul.cache.invalidated"`
	PurgeWebhooks []string `envconfig:"SIUL_PURGE_WEBHOOKS"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout           time.Duration `envconfig:"SIUL_HTTP_TIMEOUT" default:"30s"`
	Retries           int           `envconfig:"SIUL_HTTP_RETRIES" default:"2"`
	RequestsPerSecond float64       `envconfig:"SIUL_HTTP_RPS" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8787",
			Host:         "0.0.0.0",
			AllowOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Store: StoreConfig{
			Path: "siul.db",
		},
		Cache: CacheConfig{
			Dir:  "cache",
			Gzip: true,
		},
		Sandbox: SandboxConfig{
			ReadyTimeout:   30 * time.Second,
			RequestTimeout: 2 * time.Minute,
		},
		Resolver: ResolverConfig{
			GeneratorURL:    "https://api.jspm.io/generate",
			CDNURL:          "https://esm.sh",
			RegistryURL:     "https://registry.npmjs.org",
			DefaultProvider: "esm.sh",
			TTL:             24 * time.Hour,
		},
		Versions: VersionsConfig{
			URL:        "https://data.jsdelivr.com/v1/package/npm/tailwindcss",
			Constraint: ">=3.0.0, <4.0.0",
		},
		Content: ContentConfig{
			ProvidersFile: "providers.toml",
			BatchSize:     50,
		},
		Invalidation: InvalidationConfig{
			NATSSubject: "siul.cache.invalidated",
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
			Retries: 2,
		},
	}
}
