// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat service and admin console as a JSON API.
//
// # Endpoints
//
//   - GET    /health                          - Health check
//   - GET    /api/personas                    - List personas
//   - POST   /api/personas/{id}/select        - Start a conversation with a persona
//   - GET    /api/conversation                - Active conversation and its state
//   - POST   /api/conversation/messages       - Send a message, wait for the reply
//   - PUT    /api/conversation/safety         - Change the active safety policy
//   - GET    /api/conversation/export?format= - Download the active conversation
//
// Admin endpoints require the X-Admin-Password header:
//
//   - GET/POST   /api/admin/personas
//   - PUT/DELETE /api/admin/personas/{id}
//   - GET        /api/admin/conversations
//   - GET/DELETE /api/admin/conversations/{id}
//   - GET        /api/admin/export.csv
//
// # Middleware
//
// Requests pass through panic recovery, security headers, zap request
// logging and a per-client token bucket limiter, in that order.
//
// # Usage
//
//	srv := server.New(svc, console,
//		server.WithAddr("127.0.0.1:8787"),
//		server.WithLogger(logger))
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
