// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if want := filepath.Join(home, ".hamrah"); cfg.Storage.DataDir != want {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, want)
	}
	if cfg.Gateway.Model != "gemini-2.5-flash" {
		t.Errorf("Gateway.Model = %q", cfg.Gateway.Model)
	}
	if cfg.Gateway.APIVersion != "v1beta" {
		t.Errorf("Gateway.APIVersion = %q, want v1beta", cfg.Gateway.APIVersion)
	}
	if cfg.Gateway.Timeout().Seconds() != 60 {
		t.Errorf("Gateway.Timeout() = %v, want 60s", cfg.Gateway.Timeout())
	}
	if cfg.UI.Locale != "fa-IR" {
		t.Errorf("UI.Locale = %q, want fa-IR", cfg.UI.Locale)
	}
	if !cfg.UI.RenderMarkdown || !cfg.Storage.Watch {
		t.Error("boolean defaults should be on")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "defaults",
			config: Default(),
		},
		{
			name: "memory backend without data dir",
			config: func() *Config {
				c := Default()
				c.Storage.Backend = "memory"
				c.Storage.DataDir = ""
				return c
			}(),
		},
		{
			name: "unknown backend",
			config: func() *Config {
				c := Default()
				c.Storage.Backend = "postgres"
				return c
			}(),
			wantErr: "storage.backend",
		},
		{
			name: "relative base url",
			config: func() *Config {
				c := Default()
				c.Gateway.BaseURL = "/generativelanguage"
				return c
			}(),
			wantErr: "gateway.base_url",
		},
		{
			name: "timeout too large",
			config: func() *Config {
				c := Default()
				c.Gateway.TimeoutSecs = 601
				return c
			}(),
			wantErr: "gateway.timeout_secs",
		},
		{
			name: "zero retries",
			config: func() *Config {
				c := Default()
				c.Gateway.MaxRetries = 0
				return c
			}(),
			wantErr: "gateway.max_retries",
		},
		{
			name: "bad locale",
			config: func() *Config {
				c := Default()
				c.UI.Locale = "not a tag!"
				return c
			}(),
			wantErr: "ui.locale",
		},
		{
			name: "bad color",
			config: func() *Config {
				c := Default()
				c.UI.Color = "rainbow"
				return c
			}(),
			wantErr: "ui.color",
		},
		{
			name: "addr without port",
			config: func() *Config {
				c := Default()
				c.Server.Addr = "localhost"
				return c
			}(),
			wantErr: "server.addr",
		},
		{
			name: "rate limit without burst",
			config: func() *Config {
				c := Default()
				c.Server.Burst = 0
				return c
			}(),
			wantErr: "server.burst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Errorf("Validate() error type = %T, want ValidateErrors", err)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Gateway.Model = "gemini-2.5-pro"
	cfg.UI.RenderMarkdown = false
	cfg.Server.Addr = "0.0.0.0:9000"

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# hamrah configuration file") {
		t.Errorf("saved file should start with header, got %q", string(data)[:40])
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config permissions = %o, want 600", perm)
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Gateway.Model != "gemini-2.5-pro" {
		t.Errorf("Gateway.Model = %q", loaded.Gateway.Model)
	}
	if loaded.UI.RenderMarkdown {
		t.Error("UI.RenderMarkdown should stay false after round trip")
	}
	if loaded.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", loaded.Server.Addr)
	}
}

func TestLoadFromPath_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[gateway]\nmodel = \"custom-model\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Gateway.Model != "custom-model" {
		t.Errorf("Gateway.Model = %q", cfg.Gateway.Model)
	}
	if cfg.Gateway.MaxRetries != 3 {
		t.Errorf("Gateway.MaxRetries = %d, want default 3", cfg.Gateway.MaxRetries)
	}
	if !cfg.Storage.Watch {
		t.Error("Storage.Watch should keep its default")
	}
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[gateway]\nmodle = \"typo\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "gateway.modle") {
		t.Errorf("LoadFromPath() error = %v, want unknown key error", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HAMRAH_DATA_DIR", "/tmp/hamrah-data")
	t.Setenv("HAMRAH_STORAGE_BACKEND", "SQLITE")
	t.Setenv("HAMRAH_MODEL", "env-model")
	t.Setenv("HAMRAH_LOCALE", "en-US")
	t.Setenv("HAMRAH_SERVER_ADDR", "127.0.0.1:1234")
	t.Setenv("HAMRAH_DEBUG", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.DataDir != "/tmp/hamrah-data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Gateway.Model != "env-model" {
		t.Errorf("Gateway.Model = %q", cfg.Gateway.Model)
	}
	if cfg.UI.Locale != "en-US" {
		t.Errorf("UI.Locale = %q", cfg.UI.Locale)
	}
	if cfg.Server.Addr != "127.0.0.1:1234" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if !cfg.Log.Debug {
		t.Error("Log.Debug should be true")
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/data"); got != filepath.Join(home, "data") {
		t.Errorf("ExpandHome(~/data) = %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Errorf("ExpandHome(~) = %q", got)
	}
	if got := ExpandHome("/abs/~path"); got != "/abs/~path" {
		t.Errorf("ExpandHome should not touch absolute paths, got %q", got)
	}
}

func TestConfig_Get(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("gateway.model")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "gemini-2.5-flash" {
		t.Errorf("Get(gateway.model) = %v", v)
	}

	v, err = cfg.Get("server.burst")
	if err != nil || v != 10 {
		t.Errorf("Get(server.burst) = %v, %v", v, err)
	}

	if _, err := cfg.Get("gateway.nope"); err == nil {
		t.Error("Get() should fail for unknown field")
	}
	if _, err := cfg.Get("gateway.model.deeper"); err == nil {
		t.Error("Get() should fail when descending into a scalar")
	}
	if _, err := cfg.Get(""); err == nil {
		t.Error("Get() should fail for empty key")
	}
}
