package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// API
	APIURL      string        `yaml:"api_url"`      // default: http://localhost:8000/api
	RefreshPath string        `yaml:"refresh_path"` // default: /auth/refresh/
	LoginURL    string        `yaml:"login_url"`    // where the user is sent once the session is gone
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// Credentials
	CredentialStore string        `yaml:"credential_store"` // "file", "redis" or "memory"
	CredentialFile  string        `yaml:"credential_file"`
	CredentialKey   string        `yaml:"credential_key"` // redis key
	RedisAddr       string        `yaml:"redis_addr"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`

	// Polling
	PollInterval      time.Duration `yaml:"poll_interval"`       // default: 5s
	PollErrorInterval time.Duration `yaml:"poll_error_interval"` // default: 10s

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "console"

	// Observability
	OTELExporterType     string `yaml:"otel_exporter_type"` // "stdout", "otlp" or "none"
	OTELExporterEndpoint string `yaml:"otel_exporter_endpoint"`
	MetricsAddr          string `yaml:"metrics_addr"`

	// Dev server
	DevServer DevServerConfig `yaml:"devserver"`
}

type DevServerConfig struct {
	Port       string        `yaml:"port"`
	JWTSecret  string        `yaml:"jwt_secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	JobStep    time.Duration `yaml:"job_step"`
	RateLimit  int64         `yaml:"rate_limit"` // requests per minute per user, 0 disables
}

func Default() *Config {
	return &Config{
		APIURL:               "http://localhost:8000/api",
		RefreshPath:          "/auth/refresh/",
		LoginURL:             "/login",
		HTTPTimeout:          30 * time.Second,
		CredentialStore:      "file",
		CredentialFile:       defaultCredentialFile(),
		CredentialKey:        "mediactl:credentials",
		RefreshTimeout:       15 * time.Second,
		PollInterval:         5 * time.Second,
		PollErrorInterval:    10 * time.Second,
		LogLevel:             "info",
		LogFormat:            "console",
		OTELExporterType:     "none",
		OTELExporterEndpoint: "localhost:4317",
		DevServer: DevServerConfig{
			Port:       "8000",
			JWTSecret:  "dev-secret",
			AccessTTL:  5 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			JobStep:    3 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("MEDIA_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.APIURL = getEnv("MEDIA_API_URL", cfg.APIURL)
	cfg.RefreshPath = getEnv("MEDIA_REFRESH_PATH", cfg.RefreshPath)
	cfg.LoginURL = getEnv("MEDIA_LOGIN_URL", cfg.LoginURL)
	cfg.CredentialStore = getEnv("CREDENTIAL_STORE", cfg.CredentialStore)
	cfg.CredentialFile = getEnv("CREDENTIAL_FILE", cfg.CredentialFile)
	cfg.CredentialKey = getEnv("CREDENTIAL_KEY", cfg.CredentialKey)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.OTELExporterType = getEnv("OTEL_EXPORTER_TYPE", cfg.OTELExporterType)
	cfg.OTELExporterEndpoint = getEnv("OTEL_EXPORTER_ENDPOINT", cfg.OTELExporterEndpoint)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.DevServer.Port = getEnv("DEVSERVER_PORT", cfg.DevServer.Port)
	cfg.DevServer.JWTSecret = getEnv("DEVSERVER_JWT_SECRET", cfg.DevServer.JWTSecret)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"REFRESH_TIMEOUT", &cfg.RefreshTimeout},
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"POLL_ERROR_INTERVAL", &cfg.PollErrorInterval},
		{"DEVSERVER_ACCESS_TTL", &cfg.DevServer.AccessTTL},
		{"DEVSERVER_REFRESH_TTL", &cfg.DevServer.RefreshTTL},
		{"DEVSERVER_JOB_STEP", &cfg.DevServer.JobStep},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v, ok := os.LookupEnv("DEVSERVER_RATE_LIMIT"); ok {
		rpm, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid DEVSERVER_RATE_LIMIT: %w", err)
		}
		cfg.DevServer.RateLimit = rpm
	}
	return nil
}

// Validate checks cross-field constraints after all sources are merged.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("MEDIA_API_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollErrorInterval <= c.PollInterval {
		return fmt.Errorf("POLL_ERROR_INTERVAL (%s) must be longer than POLL_INTERVAL (%s)", c.PollErrorInterval, c.PollInterval)
	}
	switch c.CredentialStore {
	case "memory", "file":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis credential store")
		}
	default:
		return fmt.Errorf("unknown CREDENTIAL_STORE %q", c.CredentialStore)
	}
	if c.DevServer.RateLimit > 0 && c.RedisAddr == "" {
		return fmt.Errorf("DEVSERVER_RATE_LIMIT requires REDIS_ADDR")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".mediactl-credentials.json"
	}
	return dir + string(os.PathSeparator) + "mediactl" + string(os.PathSeparator) + "credentials.json"
}
