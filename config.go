package goSession

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the complete Manager configuration. Start from [DefaultConfig]
// and override fields; env tags are read by [ConfigFromEnv] under the
// GOSESSION_ prefix.
type Config struct {
	// BaseURL of the auth API. Required unless the Builder is given a shared
	// API client, in which case the client's base URL is used.
	BaseURL   string          `env:"BASE_URL"`
	Endpoints EndpointsConfig `envPrefix:"ENDPOINT_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Refresh   RefreshConfig   `envPrefix:"REFRESH_"`
	Storage   StorageConfig   `envPrefix:"STORE_"`
	Events    EventsConfig    `envPrefix:"EVENTS_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
}

/*
====================================
ENDPOINTS
====================================
*/

// EndpointsConfig holds the auth API paths, relative to BaseURL.
type EndpointsConfig struct {
	Login       string `env:"LOGIN"`
	Register    string `env:"REGISTER"`
	Refresh     string `env:"REFRESH"`
	CurrentUser string `env:"ME"`
}

/*
====================================
HTTP
====================================
*/

// HTTPConfig configures the API client built when none is injected.
type HTTPConfig struct {
	Timeout          time.Duration `env:"TIMEOUT"`
	UserAgent        string        `env:"USER_AGENT"`
	MaxResponseBytes int64         `env:"MAX_RESPONSE_BYTES"`
}

/*
====================================
REFRESH
====================================
*/

// RefreshConfig controls the 401 refresh protocol.
type RefreshConfig struct {
	// Deduplicate funnels concurrent refreshes through one in-flight call.
	Deduplicate bool `env:"DEDUPLICATE"`
	// PersistRotatedRefreshToken stores a refresh token returned by the
	// refresh endpoint in place of the one sent.
	PersistRotatedRefreshToken bool `env:"PERSIST_ROTATED"`
}

/*
====================================
STORAGE
====================================
*/

// StoreBackend names a credential store implementation.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreRedis  StoreBackend = "redis"
)

// StorageConfig selects the credential store opened by Build when no store
// is injected with WithStore.
type StorageConfig struct {
	Backend StoreBackend `env:"BACKEND"`
	// Path is the file or SQLite database path.
	Path        string        `env:"PATH"`
	RedisAddr   string        `env:"REDIS_ADDR"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
	RedisTTL    time.Duration `env:"REDIS_TTL"`
}

/*
====================================
EVENTS / METRICS
====================================
*/

// EventsConfig configures asynchronous session event dispatch.
type EventsConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig toggles in-process counters and the request latency
// histogram.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the defaults used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			Login:       "/api/auth/login",
			Register:    "/api/auth/register",
			Refresh:     "/api/auth/refresh",
			CurrentUser: "/api/auth/me",
		},
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			UserAgent:        "goSession",
			MaxResponseBytes: 4 << 20,
		},
		Refresh: RefreshConfig{
			Deduplicate:                true,
			PersistRotatedRefreshToken: true,
		},
		Storage: StorageConfig{
			Backend:     StoreMemory,
			RedisPrefix: "gs",
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.BaseURL = strings.TrimSpace(cfg.BaseURL)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BaseURL must be an absolute URL, got %q", c.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BaseURL scheme must be http or https, got %q", u.Scheme)
	}

	for name, path := range map[string]string{
		"Login":       c.Endpoints.Login,
		"Register":    c.Endpoints.Register,
		"Refresh":     c.Endpoints.Refresh,
		"CurrentUser": c.Endpoints.CurrentUser,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("Endpoints.%s must start with /", name)
		}
	}

	if c.HTTP.Timeout < 0 {
		return errors.New("HTTP Timeout must be >= 0")
	}
	if c.HTTP.MaxResponseBytes < 0 {
		return errors.New("HTTP MaxResponseBytes must be >= 0")
	}

	switch c.Storage.Backend {
	case "", StoreMemory:
	case StoreFile, StoreSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("Storage backend %q requires Path", c.Storage.Backend)
		}
	case StoreRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return errors.New("Storage backend redis requires RedisAddr")
		}
		if c.Storage.RedisTTL < 0 {
			return errors.New("Storage RedisTTL must be >= 0")
		}
	default:
		return fmt.Errorf("unsupported Storage backend %q", c.Storage.Backend)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when events are enabled")
	}

	return nil
}
