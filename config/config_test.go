package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEDIA_CONFIG_FILE", "")
	t.Setenv("CREDENTIAL_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("Expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PollErrorInterval != 10*time.Second {
		t.Errorf("Expected 10s error interval, got %s", cfg.PollErrorInterval)
	}
	if cfg.RefreshPath != "/auth/refresh/" {
		t.Errorf("Expected /auth/refresh/, got %s", cfg.RefreshPath)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mediactl.yaml")
	body := []byte("api_url: http://file.example/api\npoll_interval: 2s\npoll_error_interval: 8s\ncredential_store: memory\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIA_CONFIG_FILE", path)
	t.Setenv("MEDIA_API_URL", "http://env.example/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIURL != "http://env.example/api" {
		t.Errorf("Expected env api url, got %s", cfg.APIURL)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("Expected 2s from file, got %s", cfg.PollInterval)
	}
	if cfg.PollErrorInterval != 8*time.Second {
		t.Errorf("Expected 8s from file, got %s", cfg.PollErrorInterval)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("MEDIA_CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid POLL_INTERVAL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"error interval not longer", func(c *Config) { c.PollErrorInterval = c.PollInterval }, true},
		{"redis without addr", func(c *Config) { c.CredentialStore = "redis" }, true},
		{"unknown store", func(c *Config) { c.CredentialStore = "vault" }, true},
		{"rate limit without redis", func(c *Config) { c.DevServer.RateLimit = 60 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
