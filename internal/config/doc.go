// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for hamrah.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and validation. The Gemini API key is never part of it; the
// gateway reads the key from the process environment on every call.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - StorageConfig: Store backend and data directory
//   - GatewayConfig: Completion endpoint, model, retries and rate limit
//   - ServerConfig: HTTP API listen address and request limits
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (HAMRAH_*)
//   - ~/.hamrah/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	dir := cfg.Storage.DataDir
//	timeout := cfg.Gateway.Timeout()
package config
