package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath = "config.json"
	DefaultAddress    = "0.0.0.0:5000"
	DefaultProvider   = "openai"
	DefaultModel      = "gpt-4o"
)

// Environment variables consulted after the config file. The OpenAI pair keeps
// the names the hosted integration injects.
const (
	EnvConfigPath = "FINTELLIGENCE_CONFIG"
	EnvAPIKey     = "AI_INTEGRATIONS_OPENAI_API_KEY"
	EnvBaseURL    = "AI_INTEGRATIONS_OPENAI_BASE_URL"
	EnvProvider   = "FINTELLIGENCE_PROVIDER"
	EnvModel      = "FINTELLIGENCE_MODEL"
	EnvAddress    = "FINTELLIGENCE_ADDR"
	EnvLogLevel   = "FINTELLIGENCE_LOG_LEVEL"
	EnvRedisAddr  = "FINTELLIGENCE_REDIS_ADDR"
	EnvRedisDB    = "FINTELLIGENCE_REDIS_DB"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Provider    string                    `json:"provider"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Log         LogConfig                 `json:"log"`
	RateLimit   RateLimitConfig           `json:"rate_limit"`
	Redis       RedisConfig               `json:"redis"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
	// TimeoutSeconds bounds a single completion call.
	TimeoutSeconds int `json:"timeout_seconds"`
	MaxTokens      int `json:"max_tokens"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	MaxUploadMB   int64  `json:"max_upload_mb"`
	MaxJSONBodyMB int64  `json:"max_json_body_mb"`
	// MaxWorkers caps completion calls in flight; QueueTimeoutSeconds is how
	// long a request may wait for a free slot.
	MaxWorkers          int `json:"max_workers"`
	QueueTimeoutSeconds int `json:"queue_timeout_seconds"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

type RateLimitConfig struct {
	Disabled      bool `json:"disabled"`
	Requests      int  `json:"requests"`
	WindowSeconds int  `json:"window_seconds"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

var supportedProviders = map[string]struct{}{
	"openai": {},
	"claude": {},
	"gemini": {},
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies .env and environment overrides. A missing default file is not an
// error: the service runs on defaults plus environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	var cfg Config
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider = v
	}
	provider := strings.ToLower(strings.TrimSpace(c.Provider))
	if provider == "" {
		provider = DefaultProvider
	}
	c.Provider = provider
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	prov := c.Providers[provider]
	if v := os.Getenv(EnvAPIKey); v != "" {
		prov.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		prov.BaseURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		prov.Model = v
	}
	c.Providers[provider] = prov

	if v := os.Getenv(EnvAddress); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultAddress
	}
	if c.BasicConfig.MaxUploadMB == 0 {
		c.BasicConfig.MaxUploadMB = 10
	}
	if c.BasicConfig.MaxJSONBodyMB == 0 {
		c.BasicConfig.MaxJSONBodyMB = 5
	}
	if c.BasicConfig.MaxWorkers == 0 {
		c.BasicConfig.MaxWorkers = 16
	}
	if c.BasicConfig.QueueTimeoutSeconds == 0 {
		c.BasicConfig.QueueTimeoutSeconds = 10
	}
	prov := c.Providers[c.Provider]
	if prov.Model == "" && c.Provider == DefaultProvider {
		prov.Model = DefaultModel
	}
	if prov.TimeoutSeconds == 0 {
		prov.TimeoutSeconds = 60
	}
	c.Providers[c.Provider] = prov
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 60
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
}

// Validate reports configuration the service cannot start with. A missing API
// key is accepted; calls fail at request time instead.
func (c *Config) Validate() error {
	if _, ok := supportedProviders[c.Provider]; !ok {
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	if c.ActiveProvider().Model == "" {
		return fmt.Errorf("model must be configured for provider %s", c.Provider)
	}
	if c.BasicConfig.MaxUploadMB < 0 || c.BasicConfig.MaxJSONBodyMB < 0 {
		return errors.New("body limits must be positive")
	}
	if c.BasicConfig.MaxWorkers < 0 || c.BasicConfig.QueueTimeoutSeconds < 0 {
		return errors.New("worker limits must be positive")
	}
	if c.RateLimit.Requests < 0 || c.RateLimit.WindowSeconds < 0 {
		return errors.New("rate_limit values must be positive")
	}
	return nil
}

// ActiveProvider returns the settings of the selected completion provider.
func (c *Config) ActiveProvider() ProviderConfig {
	return c.Providers[c.Provider]
}

func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (b BasicConfig) MaxUploadBytes() int64 {
	return b.MaxUploadMB << 20
}

func (b BasicConfig) MaxJSONBodyBytes() int64 {
	return b.MaxJSONBodyMB << 20
}

func (b BasicConfig) QueueTimeout() time.Duration {
	return time.Duration(b.QueueTimeoutSeconds) * time.Second
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}
