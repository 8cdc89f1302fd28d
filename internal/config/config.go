package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Environment variables that override the storage secrets in config files.
const (
	EnvS3AccessKey = "CARDVAULT_S3_ACCESS_KEY"
	EnvS3SecretKey = "CARDVAULT_S3_SECRET_KEY"
)

// StorageConfig selects and configures the object store for card files and
// transcripts.
type StorageConfig struct {
	// Backend is "fs" (default) or "s3".
	Backend string `json:"backend,omitempty"`

	// Dir is the root directory of the fs backend. Relative paths resolve
	// against the cardvault base dir.
	Dir string `json:"dir,omitempty"`

	Endpoint  string `json:"endpoint,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	Secure    bool   `json:"secure,omitempty"`

	// PresignTTLSeconds is the lifetime of presigned transcript URLs.
	PresignTTLSeconds int `json:"presign_ttl_seconds,omitempty"`
}

// PresignTTL returns the presign lifetime as a duration.
func (s StorageConfig) PresignTTL() time.Duration {
	return time.Duration(s.PresignTTLSeconds) * time.Second
}

// Config holds application configuration.
type Config struct {
	// DefaultPageSize is used when a transcript page request omits page_size.
	DefaultPageSize int `json:"default_page_size,omitempty"`

	// MaxPageSize caps page_size on transcript reads.
	MaxPageSize int `json:"max_page_size,omitempty"`

	// Workers sizes the rewrite pool. 0 derives it from GOMAXPROCS.
	Workers int `json:"workers,omitempty"`

	// RuleMatchTimeoutMS bounds one regex rule on one message.
	RuleMatchTimeoutMS int `json:"rule_match_timeout_ms,omitempty"`

	// ReadBufferBytes is the buffer size of the streaming transcript reader.
	ReadBufferBytes int `json:"read_buffer_bytes,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	Storage StorageConfig `json:"storage"`
}

// RuleMatchTimeout returns the per-rule match timeout as a duration.
func (c *Config) RuleMatchTimeout() time.Duration {
	return time.Duration(c.RuleMatchTimeoutMS) * time.Millisecond
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultPageSize:    20,
		MaxPageSize:        200,
		RuleMatchTimeoutMS: 250,
		ReadBufferBytes:    32 * 1024,
		LogLevel:           "info",
		Storage: StorageConfig{
			Backend:           BackendFS,
			Dir:               "objects",
			PresignTTLSeconds: 3600,
		},
	}
}

// Validate checks values that would otherwise fail later at request time.
func (c *Config) Validate() error {
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("default_page_size must be >= 1, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("max_page_size (%d) must be >= default_page_size (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	switch c.Storage.Backend {
	case BackendFS:
	case BackendS3:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return fmt.Errorf("storage backend s3 needs endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.cardvault.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.cardvault) and repo
// (.cardvault) directories, then applies environment overrides.
// Repo config is found by walking upward from startDir to find the nearest .cardvault/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides storage secrets from the environment. Non-empty
// variables win over file values.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvS3AccessKey)); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := strings.TrimSpace(getenv(EnvS3SecretKey)); v != "" {
		cfg.Storage.SecretKey = v
	}
}

// FindRepoConfig walks upward from startDir to find the nearest .cardvault/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".cardvault", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		DefaultPageSize:    pickInt(overlay.DefaultPageSize, base.DefaultPageSize),
		MaxPageSize:        pickInt(overlay.MaxPageSize, base.MaxPageSize),
		Workers:            pickInt(overlay.Workers, base.Workers),
		RuleMatchTimeoutMS: pickInt(overlay.RuleMatchTimeoutMS, base.RuleMatchTimeoutMS),
		ReadBufferBytes:    pickInt(overlay.ReadBufferBytes, base.ReadBufferBytes),
		LogLevel:           pickString(overlay.LogLevel, base.LogLevel),
		DBMaxOpenConns:     pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:     pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
		Storage: StorageConfig{
			Backend:           pickString(overlay.Storage.Backend, base.Storage.Backend),
			Dir:               pickString(overlay.Storage.Dir, base.Storage.Dir),
			Endpoint:          pickString(overlay.Storage.Endpoint, base.Storage.Endpoint),
			Bucket:            pickString(overlay.Storage.Bucket, base.Storage.Bucket),
			AccessKey:         pickString(overlay.Storage.AccessKey, base.Storage.AccessKey),
			SecretKey:         pickString(overlay.Storage.SecretKey, base.Storage.SecretKey),
			PresignTTLSeconds: pickInt(overlay.Storage.PresignTTLSeconds, base.Storage.PresignTTLSeconds),
			// Booleans: overlay wins if true, else base
			Secure: base.Storage.Secure || overlay.Storage.Secure,
		},
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// pickInt returns overlay if non-zero, else base.
func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
