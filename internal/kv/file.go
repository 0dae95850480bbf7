// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/hamrah/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore stores each key as <BaseDir>/<key>.json.
//
// Writes go through util.AtomicWriteFile, so a crash leaves either the old or
// the new document, never a torn one.
type FileStore struct {
	// BaseDir is the directory holding one file per key.
	BaseDir string

	tx     sync.Mutex
	mu     sync.RWMutex
	closed bool

	// seen holds the digest of the last content written or observed per key.
	// The watcher uses it to skip events caused by our own writes.
	seenMu sync.Mutex
	seen   map[string][sha256.Size]byte
}

// NewFileStore creates a file store rooted at baseDir, creating the directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("kv: file store requires a directory")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("kv: create %s: %w", baseDir, err)
	}
	return &FileStore{
		BaseDir: baseDir,
		seen:    make(map[string][sha256.Size]byte),
	}, nil
}

// Get implements Store.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set implements Store.
func (s *FileStore) Set(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.remember(key, value)
	return util.AtomicWriteFile(s.filePath(key), value, 0600)
}

// Delete implements Store.
func (s *FileStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.seenMu.Lock()
	delete(s.seen, key)
	s.seenMu.Unlock()

	if err := os.Remove(s.filePath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys implements Store.
func (s *FileStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		key, ok := decodeKey(name)
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Lock implements sync.Locker for read-modify-write cycles.
func (s *FileStore) Lock() { s.tx.Lock() }

// Unlock implements sync.Locker.
func (s *FileStore) Unlock() { s.tx.Unlock() }

// =============================================================================
// CHANGE WATCH
// =============================================================================

// Watch reports keys whose files were changed by another process (a second
// hamrah instance, a text editor). It blocks until ctx is cancelled.
//
// Changes made through this FileStore are not reported.
func (s *FileStore) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kv: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.BaseDir); err != nil {
		return fmt.Errorf("kv: watch %s: %w", s.BaseDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			key, ok := decodeKey(filepath.Base(event.Name))
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if s.changedExternally(key) {
				onChange(key)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("kv: watcher: %w", err)
		}
	}
}

// changedExternally compares the file's current digest with the last known one.
func (s *FileStore) changedExternally(key string) bool {
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		data = nil
	}
	sum := sha256.Sum256(data)

	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if prev, ok := s.seen[key]; ok && prev == sum {
		return false
	}
	s.seen[key] = sum
	return true
}

func (s *FileStore) remember(key string, value []byte) {
	s.seenMu.Lock()
	s.seen[key] = sha256.Sum256(value)
	s.seenMu.Unlock()
}

// filePath maps a key to its file. Keys are path-escaped, so the mapping is
// reversible and a key can never name a file outside BaseDir.
func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.BaseDir, encodeKey(key))
}

func encodeKey(key string) string {
	return url.PathEscape(key) + ".json"
}

// decodeKey reverses encodeKey. It reports false for temporary files and
// names encodeKey cannot produce.
func decodeKey(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
	if err != nil || ValidateKey(key) != nil || encodeKey(key) != name {
		return "", false
	}
	return key, true
}
