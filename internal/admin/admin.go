// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admin is the gated console for curating personas and reviewing
// conversations.
//
// NOTE: The gate compares input against a compile-time constant in plaintext.
// There is no hashing, rate limiting or session expiry. It keeps casual users
// out of the admin screens and is not access control: anyone who can read the
// binary or the store can bypass it.
package admin

import (
	"crypto/subtle"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

// Password unlocks the console.
const Password = "supersecretpassword"

var (
	// ErrLocked is returned by console operations before Unlock succeeds.
	ErrLocked = errors.New("admin console is locked")

	// ErrWrongPassword is returned by Unlock for a mismatched password.
	ErrWrongPassword = errors.New("wrong admin password")
)

// =============================================================================
// GATE
// =============================================================================

// Gate tracks whether the console has been unlocked.
type Gate struct {
	mu       sync.RWMutex
	unlocked bool
}

// Check reports whether input equals the admin password.
func Check(input string) bool {
	return subtle.ConstantTimeCompare([]byte(input), []byte(Password)) == 1
}

// Unlock opens the gate if input matches the password.
func (g *Gate) Unlock(input string) error {
	if !Check(input) {
		return ErrWrongPassword
	}
	g.mu.Lock()
	g.unlocked = true
	g.mu.Unlock()
	return nil
}

// Lock closes the gate.
func (g *Gate) Lock() {
	g.mu.Lock()
	g.unlocked = false
	g.mu.Unlock()
}

// Unlocked reports whether the gate is open.
func (g *Gate) Unlocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unlocked
}

// =============================================================================
// CONSOLE
// =============================================================================

// Console exposes persona CRUD and conversation review behind a Gate.
type Console struct {
	Gate

	personas *persona.Registry
	convs    *storage.Store
	log      *zap.Logger
}

// NewConsole creates a locked console.
func NewConsole(personas *persona.Registry, convs *storage.Store, logger *zap.Logger) *Console {
	return &Console{personas: personas, convs: convs, log: logging.OrNop(logger)}
}

// Unlock opens the console. Failed attempts are logged.
func (c *Console) Unlock(input string) error {
	was := c.Unlocked()
	if err := c.Gate.Unlock(input); err != nil {
		c.log.Warn("admin unlock failed")
		return err
	}
	if !was {
		c.log.Info("admin console unlocked")
	}
	return nil
}

func (c *Console) check() error {
	if !c.Unlocked() {
		return ErrLocked
	}
	return nil
}

// Personas lists personas in stored order.
func (c *Console) Personas() ([]model.Persona, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.personas.List(), nil
}

// CreatePersona validates and adds a persona.
func (c *Console) CreatePersona(d model.PersonaDraft) (model.Persona, error) {
	if err := c.check(); err != nil {
		return model.Persona{}, err
	}
	return c.personas.Create(d)
}

// UpdatePersona edits persona id. An unknown id is a no-op reported by the
// bool result.
func (c *Console) UpdatePersona(id string, d model.PersonaDraft) (model.Persona, bool, error) {
	if err := c.check(); err != nil {
		return model.Persona{}, false, err
	}
	return c.personas.Update(id, d)
}

// DeletePersona removes persona id. Its conversations are kept.
func (c *Console) DeletePersona(id string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.personas.Delete(id)
}

// Conversations lists all conversations, most recently updated first.
func (c *Console) Conversations() ([]model.Conversation, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.convs.SortedByUpdated(), nil
}

// Conversation returns one conversation.
func (c *Console) Conversation(id string) (model.Conversation, error) {
	if err := c.check(); err != nil {
		return model.Conversation{}, err
	}
	return c.convs.Get(id)
}

// DeleteConversation removes conversation id.
func (c *Console) DeleteConversation(id string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.convs.Delete(id)
}

// ExportCSV writes every message of every conversation as CSV rows, in
// stored order.
func (c *Console) ExportCSV(w io.Writer) error {
	if err := c.check(); err != nil {
		return err
	}
	return export.WriteCSV(w, c.convs.List())
}

// ExportCSVToFile writes the CSV export into dir.
func (c *Console) ExportCSVToFile(dir string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	return export.ExportCSVToFile(c.convs.List(), opts)
}
