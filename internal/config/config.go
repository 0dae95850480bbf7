// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"

	"github.com/jeranaias/hamrah/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete hamrah configuration.
type Config struct {
	Storage StorageConfig `toml:"storage" json:"storage"`
	Gateway GatewayConfig `toml:"gateway" json:"gateway"`
	UI      UIConfig      `toml:"ui" json:"ui"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// StorageConfig selects where personas and conversations are kept.
type StorageConfig struct {
	// Backend is "file", "sqlite" or "memory".
	Backend string `toml:"backend" json:"backend"`

	// DataDir holds the store files. A leading "~" is expanded.
	DataDir string `toml:"data_dir" json:"data_dir"`

	// Watch reloads the chat view when another process changes the file store.
	Watch bool `toml:"watch" json:"watch"`
}

// GatewayConfig configures the completion service client.
type GatewayConfig struct {
	BaseURL           string `toml:"base_url" json:"base_url"`
	APIVersion        string `toml:"api_version" json:"api_version"`
	Model             string `toml:"model" json:"model"`
	TimeoutSecs       int    `toml:"timeout_secs" json:"timeout_secs"`
	MaxRetries        int    `toml:"max_retries" json:"max_retries"`
	RequestsPerMinute int    `toml:"requests_per_minute" json:"requests_per_minute"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	Locale         string `toml:"locale" json:"locale"`
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`

	// Color is "auto", "always" or "never".
	Color string `toml:"color" json:"color"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string  `toml:"addr" json:"addr"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	Burst           int     `toml:"burst" json:"burst"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	File       string `toml:"file" json:"file"`
	Debug      bool   `toml:"debug" json:"debug"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
}

// Timeout returns the per-request timeout.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".hamrah"
	}
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			DataDir: dir,
			Watch:   true,
		},
		Gateway: GatewayConfig{
			BaseURL:           "https://generativelanguage.googleapis.com/",
			APIVersion:        "v1beta",
			Model:             "gemini-2.5-flash",
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerMinute: 60,
			APIKeyEnv:         "API_KEY",
		},
		UI: UIConfig{
			Locale:         "fa-IR",
			RenderMarkdown: true,
			Color:          "auto",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			RateLimitPerSec: 5,
			Burst:           10,
		},
		Log: LogConfig{
			File:       filepath.Join(dir, "hamrah.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// fillDefaults fills empty strings and zero sizes with defaults. Booleans are
// left alone; they get their defaults from decoding into Default().
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaults.Storage.DataDir
	}
	cfg.Storage.DataDir = ExpandHome(cfg.Storage.DataDir)

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = defaults.Gateway.BaseURL
	}
	if cfg.Gateway.APIVersion == "" {
		cfg.Gateway.APIVersion = defaults.Gateway.APIVersion
	}
	if cfg.Gateway.Model == "" {
		cfg.Gateway.Model = defaults.Gateway.Model
	}
	if cfg.Gateway.TimeoutSecs == 0 {
		cfg.Gateway.TimeoutSecs = defaults.Gateway.TimeoutSecs
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = defaults.Gateway.MaxRetries
	}
	if cfg.Gateway.APIKeyEnv == "" {
		cfg.Gateway.APIKeyEnv = defaults.Gateway.APIKeyEnv
	}

	if cfg.UI.Locale == "" {
		cfg.UI.Locale = defaults.UI.Locale
	}
	if cfg.UI.Color == "" {
		cfg.UI.Color = defaults.UI.Color
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}

	if cfg.Log.File != "" {
		cfg.Log.File = ExpandHome(cfg.Log.File)
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the hamrah configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".hamrah"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ensureSecurePermissions tightens config file permissions to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.hamrah/config.toml if it exists, then applies environment
// overrides and validates. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		fillDefaults(cfg)
		return cfg, cfg.Validate()
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		fillDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep their
// current values. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Not fatal: permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path with a header comment.
// SECURITY: Config files are written with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents a torn file on crash.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# hamrah configuration file\n")
	buf.WriteString("# The Gemini API key is read from the environment variable named by\n")
	buf.WriteString("# gateway.api_key_env and is never stored here.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		add("storage.backend", "must be file, sqlite or memory, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && strings.TrimSpace(c.Storage.DataDir) == "" {
		add("storage.data_dir", "is required for the %s backend", c.Storage.Backend)
	}

	if u, err := url.Parse(c.Gateway.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("gateway.base_url", "must be an http(s) URL, got %q", c.Gateway.BaseURL)
	}
	if strings.TrimSpace(c.Gateway.Model) == "" {
		add("gateway.model", "is required")
	}
	if c.Gateway.TimeoutSecs < 1 || c.Gateway.TimeoutSecs > 600 {
		add("gateway.timeout_secs", "must be between 1 and 600, got %d", c.Gateway.TimeoutSecs)
	}
	if c.Gateway.MaxRetries < 1 || c.Gateway.MaxRetries > 10 {
		add("gateway.max_retries", "must be between 1 and 10, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.RequestsPerMinute < 0 {
		add("gateway.requests_per_minute", "must not be negative")
	}
	if strings.TrimSpace(c.Gateway.APIKeyEnv) == "" {
		add("gateway.api_key_env", "is required")
	}

	if _, err := language.Parse(c.UI.Locale); err != nil {
		add("ui.locale", "is not a valid language tag: %q", c.UI.Locale)
	}
	switch c.UI.Color {
	case "auto", "always", "never":
	default:
		add("ui.color", "must be auto, always or never, got %q", c.UI.Color)
	}

	if _, port, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "must be host:port, got %q", c.Server.Addr)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		add("server.addr", "has an invalid port %q", port)
	}
	if c.Server.RateLimitPerSec < 0 {
		add("server.rate_limit_per_sec", "must not be negative")
	}
	if c.Server.RateLimitPerSec > 0 && c.Server.Burst < 1 {
		add("server.burst", "must be at least 1 when rate limiting is on")
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		add("log", "rotation limits must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - HAMRAH_DATA_DIR: overrides storage.data_dir
//   - HAMRAH_STORAGE_BACKEND: overrides storage.backend
//   - HAMRAH_MODEL: overrides gateway.model
//   - HAMRAH_LOCALE: overrides ui.locale
//   - HAMRAH_SERVER_ADDR: overrides server.addr
//   - HAMRAH_DEBUG: enables log.debug when "1" or "true"
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("HAMRAH_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if backend := os.Getenv("HAMRAH_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if model := os.Getenv("HAMRAH_MODEL"); model != "" {
		c.Gateway.Model = model
	}
	if loc := os.Getenv("HAMRAH_LOCALE"); loc != "" {
		c.UI.Locale = loc
	}
	if addr := os.Getenv("HAMRAH_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if debug := os.Getenv("HAMRAH_DEBUG"); debug != "" {
		c.Log.Debug = debug == "1" || strings.ToLower(debug) == "true"
	}
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path, e.g. "gateway.model".
func (c *Config) Get(key string) (interface{}, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("empty key")
	}

	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]; tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
