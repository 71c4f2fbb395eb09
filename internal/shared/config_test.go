package shared

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./mvx.db" {
			t.Errorf("expected database path ./mvx.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Limits.SingleShotThreshold != 100<<20 {
			t.Errorf("expected single-shot threshold 100 MiB, got %d", config.Limits.SingleShotThreshold)
		}

		if config.Limits.MaxObjectSize != 1<<30 {
			t.Errorf("expected max object size 1 GiB, got %d", config.Limits.MaxObjectSize)
		}

		if config.Server.IsProduction() {
			t.Error("default config should not be production")
		}

		if config.Transfer.ProgressInterval() != 100*time.Millisecond {
			t.Errorf("expected 100ms progress interval, got %v", config.Transfer.ProgressInterval())
		}

		if config.Storage.PresignTTL() != 15*time.Minute {
			t.Errorf("expected 15m presign ttl, got %v", config.Storage.PresignTTL())
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[storage]
endpoint = "http://127.0.0.1:9000"
region = "us-east-1"
bucket = "assets"
access_key_id = "minioadmin"
secret_access_key = "minioadmin"
public_url = "https://cdn.example.com/"

[cms]
project_id = "abc123"
dataset = "staging"
token = "sk-test"

[server]
port = 8080
environment = "production"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Storage.Bucket != "assets" {
			t.Errorf("expected bucket assets, got %s", config.Storage.Bucket)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if !config.Server.IsProduction() {
			t.Error("expected production environment")
		}

		if config.CMS.APIVersion != "2024-01-01" {
			t.Errorf("expected api version default to survive partial file, got %s", config.CMS.APIVersion)
		}

		if got := config.CMS.Endpoint(); got != "https://abc123.api.sanity.io" {
			t.Errorf("unexpected cms endpoint %s", got)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("expected complete config to validate, got %v", err)
		}
	})

	t.Run("LoadConfig with invalid TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[storage\nbucket = "), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		config := DefaultConfig()
		env := map[string]string{
			"MVX_S3_SECRET_ACCESS_KEY": "from-env",
			"MVX_CMS_TOKEN":            "token-from-env",
			"MVX_ENV":                  "production",
			"MVX_S3_BUCKET":            "",
		}
		config.ApplyEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})

		if config.Storage.SecretAccessKey != "from-env" {
			t.Errorf("expected secret from env, got %q", config.Storage.SecretAccessKey)
		}
		if config.CMS.Token != "token-from-env" {
			t.Errorf("expected token from env, got %q", config.CMS.Token)
		}
		if !config.Server.IsProduction() {
			t.Error("expected MVX_ENV to switch to production")
		}
		if config.Storage.Bucket != "media" {
			t.Errorf("empty env value should not override bucket, got %q", config.Storage.Bucket)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		t.Run("missing storage settings fail fast", func(t *testing.T) {
			config := DefaultConfig()
			err := config.ValidateStorage()
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			for _, field := range []string{"storage.access_key_id", "storage.public_url", "storage.secret_access_key"} {
				if !strings.Contains(err.Error(), field) {
					t.Errorf("expected %s in error, got %v", field, err)
				}
			}
		})

		t.Run("missing cms token", func(t *testing.T) {
			config := DefaultConfig()
			config.CMS.ProjectID = "p"
			err := config.ValidateCMS()
			if !errors.Is(err, ErrConfiguration) || !strings.Contains(err.Error(), "cms.token") {
				t.Fatalf("expected missing cms.token, got %v", err)
			}
		})

		t.Run("limits", func(t *testing.T) {
			config := DefaultConfig()
			if err := config.ValidateLimits(); err != nil {
				t.Fatalf("default limits should be valid: %v", err)
			}

			config.Limits.SingleShotThreshold = config.Limits.MaxObjectSize + 1
			if err := config.ValidateLimits(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected threshold above max to fail, got %v", err)
			}

			config = DefaultConfig()
			config.Limits.PartSize = 1024
			if err := config.ValidateLimits(); !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected small part size to fail, got %v", err)
			}
		})
	})
}
