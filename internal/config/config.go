// Package config handles loading and validation of agent configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"golang.org/x/mod/semver"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all agent configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	ClientID   string // Names the Secret Manager secret for this deployment

	API   APIConfig
	Cache CacheConfig

	// DevStore serves the in-memory storefront on a loopback port and
	// points the API client at it. API.BaseURL is ignored.
	DevStore bool

	// ExpiryCheckInterval is how often the session token's exp is checked.
	ExpiryCheckInterval time.Duration
}

// APIConfig describes the remote storefront API.
type APIConfig struct {
	BaseURL           string        `json:"base_url"`
	Version           string        `json:"version"`
	RequestTimeout    time.Duration `json:"-"`
	ChromeFingerprint bool          `json:"chrome_fingerprint"`
}

// CacheConfig selects and configures the local key-value cache.
type CacheConfig struct {
	Backend       string `json:"backend"`
	Dir           string `json:"dir"`
	MaxBytes      int64  `json:"max_bytes"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// secrets is the Secret Manager payload. Only values that must not sit
// in plain env vars live here.
type secrets struct {
	APIBaseURL    string `json:"api_base_url"`
	RedisPassword string `json:"redis_password"`
}

const (
	defaultPort          = "7070"
	defaultAPIVersion    = "v1"
	defaultTimeout       = 15 * time.Second
	defaultCacheMaxBytes = 5 << 20 // 5MB, the usual browser localStorage budget
	defaultExpiryCheck   = 30 * time.Second
)

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", defaultPort),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		ClientID:    os.Getenv("CLIENT_ID"),
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("CLIENT_ID required in production environment")
		}
		if err = cfg.loadFromEnv(); err == nil {
			err = cfg.loadFromSecretManager(ctx)
		}
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig matches the CONFIG_FILE JSON structure.
type fileConfig struct {
	Port                string      `json:"port"`
	Environment         string      `json:"environment"`
	LogLevel            string      `json:"log_level"`
	DevStore            bool        `json:"dev_store"`
	RequestTimeout      string      `json:"request_timeout"`
	ExpiryCheckInterval string      `json:"expiry_check_interval"`
	API                 APIConfig   `json:"api"`
	Cache               CacheConfig `json:"cache"`
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fc.Port, defaultPort),
		Environment: withDefault(fc.Environment, "development"),
		LogLevel:    withDefault(fc.LogLevel, "info"),
		DevStore:    fc.DevStore,
		API:         fc.API,
		Cache:       fc.Cache,
	}
	if cfg.API.RequestTimeout, err = parseDuration("request_timeout", fc.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ExpiryCheckInterval, err = parseDuration("expiry_check_interval", fc.ExpiryCheckInterval); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches secrets from GCP Secret Manager and
// overlays them on the env-derived config.
// Secret name format: projects/{project}/secrets/{client_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.ClientID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecrets(result.Payload.Data)
}

// applySecrets overlays non-empty secret values.
func (c *Config) applySecrets(data []byte) error {
	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.APIBaseURL != "" {
		c.API.BaseURL = s.APIBaseURL
	}
	if s.RedisPassword != "" {
		c.Cache.RedisPassword = s.RedisPassword
	}
	return nil
}

// loadFromEnv reads individual environment variables.
func (c *Config) loadFromEnv() error {
	var err error

	c.API = APIConfig{
		BaseURL: os.Getenv("API_BASE_URL"),
		Version: os.Getenv("API_VERSION"),
	}
	if c.API.RequestTimeout, err = parseDuration("REQUEST_TIMEOUT", os.Getenv("REQUEST_TIMEOUT")); err != nil {
		return err
	}
	if c.API.ChromeFingerprint, err = parseBool("TLS_FINGERPRINT", os.Getenv("TLS_FINGERPRINT")); err != nil {
		return err
	}
	if c.DevStore, err = parseBool("DEV_STORE", os.Getenv("DEV_STORE")); err != nil {
		return err
	}
	if c.ExpiryCheckInterval, err = parseDuration("EXPIRY_CHECK_INTERVAL", os.Getenv("EXPIRY_CHECK_INTERVAL")); err != nil {
		return err
	}

	c.Cache = CacheConfig{
		Backend:       os.Getenv("CACHE_BACKEND"),
		Dir:           os.Getenv("CACHE_DIR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if v := os.Getenv("CACHE_MAX_BYTES"); v != "" {
		if c.Cache.MaxBytes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("parsing CACHE_MAX_BYTES: %w", err)
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if c.Cache.RedisDB, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parsing REDIS_DB: %w", err)
		}
	}
	return nil
}

// applyDefaults fills unset optional fields.
func (c *Config) applyDefaults() {
	if c.API.Version == "" {
		c.API.Version = defaultAPIVersion
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = defaultTimeout
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendFile
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = defaultCacheMaxBytes
	}
	if c.Cache.Backend == BackendFile && c.Cache.Dir == "" {
		c.Cache.Dir = defaultCacheDir()
	}
	if c.ExpiryCheckInterval == 0 {
		c.ExpiryCheckInterval = defaultExpiryCheck
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if !c.DevStore {
		if c.API.BaseURL == "" {
			return fmt.Errorf("api base_url is required unless dev_store is enabled")
		}
		u, err := url.Parse(c.API.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid api base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("api base_url must be http or https, got %q", c.API.BaseURL)
		}
	}

	if !semver.IsValid(normalizeVersion(c.API.Version)) {
		return fmt.Errorf("api version %q is not a semantic version", c.API.Version)
	}
	if c.API.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache dir is required for file backend")
		}
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for redis backend")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache max_bytes must not be negative")
	}
	return nil
}

// defaultCacheDir is the per-user cache directory, or a temp dir when
// the platform has none.
func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "cartsync")
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func parseDuration(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}

func parseBool(name, v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", name, err)
	}
	return b, nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
