// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for personas, conversations and messages.
//
// # Key Types
//
//   - Persona: a configured character whose behavior instruction drives the assistant
//   - Conversation: one exchange tied to at most one persona, with an append-only log
//   - Message: single immutable turn with role, content and timestamp
//   - SafetyPolicy: content-filter strictness forwarded to the completion service
//
// # Ordering
//
// Message order is slice order. Timestamps are informational and are never used
// to sort a conversation's log.
//
// # Usage
//
//	conv := model.NewConversation(persona, "Chat with Aria", time.Now())
//	conv.Append(model.NewMessage(model.RoleUser, "سلام", time.Now()), time.Now())
package model
