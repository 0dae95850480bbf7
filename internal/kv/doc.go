// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kv provides the durable key-value store behind personas and conversations.
//
// Every collection hamrah keeps (personas, conversations, the active conversation
// pointer) lives under one fixed key as a UTF-8 JSON document. Components never
// hold state that is not written back through a Store.
//
// # Key Types
//
//   - Store: byte-level interface implemented by every backend
//   - FileStore: one JSON file per key, atomic writes, fsnotify change watch
//   - SQLiteStore: single-table SQLite database (modernc.org/sqlite)
//   - MemoryStore: in-process map, used by tests and ephemeral sessions
//
// # Typed Access
//
// Get, Set and Update wrap a Store with JSON encoding:
//
//	personas := kv.Get(store, "ai-characters", defaults)
//	err := kv.Set(store, "ai-characters", personas)
//
// Get never fails: absent or malformed content yields the caller's default.
// Update runs a read-modify-write cycle while holding the store's lock, so two
// components sharing a store cannot lose each other's writes.
package kv
