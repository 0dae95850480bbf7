// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the hamrah command line.
//
// Commands are declared as go-flags structs and share one lazily opened
// environment (config, logger, store, registry, chat service, admin console).
//
// # Commands
//
//	hamrah chat [--persona ID] [--safety POLICY]   Interactive chat
//	hamrah personas                                List personas
//	hamrah admin <personas|add|edit|rm|...>        Admin console
//	hamrah export --format txt|json|md|csv         Export conversations
//	hamrah serve [--addr HOST:PORT]                HTTP API
//	hamrah config <show|init|get>                  Configuration
//	hamrah version                                 Version information
//
// # Exit Codes
//
// Usage errors exit 2, configuration errors 3, admin password failures 4,
// completion service errors 5 and missing resources 7.
package cli
