package shared

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	CMS      CMSConfig      `toml:"cms"`
	Limits   LimitsConfig   `toml:"limits"`
	Encoder  EncoderConfig  `toml:"encoder"`
	Transfer TransferConfig `toml:"transfer"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
}

// StorageConfig contains S3-compatible object store settings.
type StorageConfig struct {
	Endpoint          string `toml:"endpoint"`
	Region            string `toml:"region"`
	Bucket            string `toml:"bucket"`
	AccessKeyID       string `toml:"access_key_id"`
	SecretAccessKey   string `toml:"secret_access_key"`
	PublicURL         string `toml:"public_url"`
	KeyPrefix         string `toml:"key_prefix"`
	UsePathStyle      bool   `toml:"use_path_style"`
	PresignTTLSeconds int    `toml:"presign_ttl_seconds"`
}

// PresignTTL returns the lifetime of presigned URLs.
func (s StorageConfig) PresignTTL() time.Duration {
	if s.PresignTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.PresignTTLSeconds) * time.Second
}

// CMSConfig contains headless CMS project settings.
type CMSConfig struct {
	ProjectID  string `toml:"project_id"`
	Dataset    string `toml:"dataset"`
	APIVersion string `toml:"api_version"`
	Token      string `toml:"token"`
	BaseURL    string `toml:"base_url"`
}

// Endpoint returns the API base URL, derived from the project id unless base_url is set.
func (c CMSConfig) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.api.sanity.io", c.ProjectID)
}

// LimitsConfig contains byte size limits for transfers.
type LimitsConfig struct {
	SingleShotThreshold int64 `toml:"single_shot_threshold"`
	MaxObjectSize       int64 `toml:"max_object_size"`
	PartSize            int64 `toml:"part_size"`
	ChunkSize           int64 `toml:"chunk_size"`
	PartRetries         int   `toml:"part_retries"`
}

// EncoderConfig contains the transcoding policy.
type EncoderConfig struct {
	Binary       string `toml:"binary"`
	ProbeBinary  string `toml:"probe_binary"`
	VideoCodec   string `toml:"video_codec"`
	CRF          int    `toml:"crf"`
	Preset       string `toml:"preset"`
	AudioCodec   string `toml:"audio_codec"`
	AudioBitrate string `toml:"audio_bitrate"`
}

// TransferConfig contains local working directory and pacing settings.
type TransferConfig struct {
	TempDir            string  `toml:"temp_dir"`
	ProgressIntervalMS int     `toml:"progress_interval_ms"`
	ItemsPerSecond     float64 `toml:"items_per_second"`
	SweepSchedule      string  `toml:"sweep_schedule"`
	SweepMaxAgeHours   int     `toml:"sweep_max_age_hours"`
}

// ProgressInterval returns the minimum spacing between progress events.
func (t TransferConfig) ProgressInterval() time.Duration {
	if t.ProgressIntervalMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(t.ProgressIntervalMS) * time.Millisecond
}

// SweepMaxAge returns the age after which the scheduled sweep removes temp files.
func (t TransferConfig) SweepMaxAge() time.Duration {
	if t.SweepMaxAgeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(t.SweepMaxAgeHours) * time.Hour
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Environment    string   `toml:"environment"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// IsProduction reports whether admin endpoints must be refused.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(s.Environment), "production")
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// ResolveConfig loads path when it exists, falls back to [DefaultConfig] otherwise,
// and applies environment overrides on top.
func ResolveConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if config, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides secrets and the runtime mode from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"MVX_S3_ENDPOINT", &c.Storage.Endpoint},
		{"MVX_S3_BUCKET", &c.Storage.Bucket},
		{"MVX_S3_ACCESS_KEY_ID", &c.Storage.AccessKeyID},
		{"MVX_S3_SECRET_ACCESS_KEY", &c.Storage.SecretAccessKey},
		{"MVX_S3_PUBLIC_URL", &c.Storage.PublicURL},
		{"MVX_CMS_PROJECT_ID", &c.CMS.ProjectID},
		{"MVX_CMS_DATASET", &c.CMS.Dataset},
		{"MVX_CMS_TOKEN", &c.CMS.Token},
		{"MVX_ENV", &c.Server.Environment},
	}

	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.target = v
		}
	}
}

// ValidateStorage fails with [ErrConfiguration] naming every missing object store setting.
func (c *Config) ValidateStorage() error {
	return requireFields("storage", map[string]string{
		"region":            c.Storage.Region,
		"bucket":            c.Storage.Bucket,
		"access_key_id":     c.Storage.AccessKeyID,
		"secret_access_key": c.Storage.SecretAccessKey,
		"public_url":        c.Storage.PublicURL,
	})
}

// ValidateCMS fails with [ErrConfiguration] naming every missing CMS setting.
func (c *Config) ValidateCMS() error {
	return requireFields("cms", map[string]string{
		"project_id":  c.CMS.ProjectID,
		"dataset":     c.CMS.Dataset,
		"api_version": c.CMS.APIVersion,
		"token":       c.CMS.Token,
	})
}

// ValidateLimits checks size limits are positive and ordered.
func (c *Config) ValidateLimits() error {
	l := c.Limits
	switch {
	case l.SingleShotThreshold <= 0, l.MaxObjectSize <= 0, l.PartSize <= 0, l.ChunkSize <= 0:
		return fmt.Errorf("%w: limits must be positive", ErrConfiguration)
	case l.SingleShotThreshold > l.MaxObjectSize:
		return fmt.Errorf("%w: single_shot_threshold exceeds max_object_size", ErrConfiguration)
	case l.PartSize < 5<<20:
		return fmt.Errorf("%w: part_size must be at least 5 MiB", ErrConfiguration)
	}
	return nil
}

// Validate runs every section check.
func (c *Config) Validate() error {
	for _, fn := range []func() error{c.ValidateStorage, c.ValidateCMS, c.ValidateLimits} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func requireFields(section string, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, section+"."+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
}
