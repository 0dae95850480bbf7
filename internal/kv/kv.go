// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a durable byte-level key-value store.
//
// Lock and Unlock bracket a read-modify-write cycle (see Update). They are
// separate from whatever internal locking a backend uses for single calls.
type Store interface {
	// Get returns the stored bytes and whether the key exists.
	Get(key string) ([]byte, bool, error)

	// Set durably stores value under key, overwriting prior content.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists all stored keys in lexical order.
	Keys() ([]string, error)

	// Close releases backend resources.
	Close() error

	sync.Locker
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store is closed")

// ErrInvalidKey is returned for keys every backend must refuse.
var ErrInvalidKey = errors.New("kv: invalid key")

// ValidateKey rejects empty keys and keys starting with ".". The file backend
// reserves dot-prefixed names for its temporary files.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates a store for the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("kv: unknown backend %q (want file, sqlite or memory)", backend)
	}
}

// =============================================================================
// TYPED ACCESS
// =============================================================================

// Get decodes the JSON value stored under key.
//
// Absent keys, read failures and content that does not parse as T all yield def.
// This is a silent-repair policy: the next Set overwrites the bad content.
func Get[T any](s Store, key string, def T) T {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def
	}
	return v
}

// Set encodes value as JSON and stores it under key.
func Set[T any](s Store, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	if err := s.Set(key, data); err != nil {
		return fmt.Errorf("kv: write %q: %w", key, err)
	}
	return nil
}

// Update reads the latest value under key (def if absent or malformed), applies
// fn and writes the result, all while holding the store lock.
//
// If fn returns an error nothing is written and the current value is returned.
func Update[T any](s Store, key string, def T, fn func(T) (T, error)) (T, error) {
	s.Lock()
	defer s.Unlock()

	current := Get(s, key, def)
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if err := Set(s, key, next); err != nil {
		return current, err
	}
	return next, nil
}
