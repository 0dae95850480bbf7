// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persona manages the ordered collection of personas.
//
// Personas are stored as one JSON array under the "ai-characters" key. The
// registry re-reads the store on every call, so the chat view and the admin
// console never work from diverging copies.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/hamrah/internal/kv"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
)

// StorageKey is the store key holding the persona list.
const StorageKey = "ai-characters"

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("persona not found")

// Defaults returns the built-in persona list.
func Defaults() []model.Persona {
	var personas []model.Persona
	if err := yaml.Unmarshal(defaultsYAML, &personas); err != nil {
		// The file is embedded at build time; a parse failure is a build defect.
		panic(fmt.Sprintf("persona: invalid defaults.yaml: %v", err))
	}
	return personas
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry provides create, update and delete over the stored personas.
type Registry struct {
	store kv.Store
	log   *zap.Logger
}

// NewRegistry creates a registry over store, seeding the default personas if
// the store has never held a persona list.
func NewRegistry(store kv.Store, logger *zap.Logger) (*Registry, error) {
	r := &Registry{store: store, log: logging.OrNop(logger)}
	if err := r.seed(); err != nil {
		return nil, err
	}
	return r, nil
}

// seed writes the defaults once. An explicitly emptied list stays empty.
func (r *Registry) seed() error {
	r.store.Lock()
	defer r.store.Unlock()

	_, ok, err := r.store.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("persona: read store: %w", err)
	}
	if ok {
		return nil
	}

	defaults := Defaults()
	if err := kv.Set(r.store, StorageKey, defaults); err != nil {
		return err
	}
	r.log.Info("seeded default personas", zap.Int("count", len(defaults)))
	return nil
}

// List returns all personas in stored order.
func (r *Registry) List() []model.Persona {
	return kv.Get(r.store, StorageKey, Defaults())
}

// Get returns the persona with the given id.
func (r *Registry) Get(id string) (model.Persona, error) {
	for _, p := range r.List() {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create validates draft and appends a persona with a fresh id.
func (r *Registry) Create(draft model.PersonaDraft) (model.Persona, error) {
	draft = Normalize(draft)
	if err := Validate(draft); err != nil {
		return model.Persona{}, err
	}

	p := model.Persona{ID: model.NewPersonaID()}.WithDraft(draft)
	_, err := kv.Update(r.store, StorageKey, Defaults(), func(list []model.Persona) ([]model.Persona, error) {
		return append(list, p), nil
	})
	if err != nil {
		return model.Persona{}, err
	}

	r.log.Info("persona created", zap.String("persona_id", p.ID))
	return p, nil
}

// Update replaces the editable fields of persona id.
//
// An unknown id is a silent no-op: the returned bool is false and nothing is
// written. Invalid drafts are rejected before the store is touched.
func (r *Registry) Update(id string, draft model.PersonaDraft) (model.Persona, bool, error) {
	draft = Normalize(draft)
	if err := Validate(draft); err != nil {
		return model.Persona{}, false, err
	}

	var (
		updated model.Persona
		found   bool
	)
	_, err := kv.Update(r.store, StorageKey, Defaults(), func(list []model.Persona) ([]model.Persona, error) {
		next := make([]model.Persona, len(list))
		for i, p := range list {
			if p.ID == id {
				p = p.WithDraft(draft)
				updated, found = p, true
			}
			next[i] = p
		}
		return next, nil
	})
	if err != nil {
		return model.Persona{}, false, err
	}

	if !found {
		r.log.Debug("persona update ignored: unknown id", zap.String("persona_id", id))
		return model.Persona{}, false, nil
	}
	r.log.Info("persona updated", zap.String("persona_id", id))
	return updated, true, nil
}

// Delete removes persona id if present. Conversations that reference it are
// left untouched.
func (r *Registry) Delete(id string) error {
	_, err := kv.Update(r.store, StorageKey, Defaults(), func(list []model.Persona) ([]model.Persona, error) {
		next := make([]model.Persona, 0, len(list))
		for _, p := range list {
			if p.ID != id {
				next = append(next, p)
			}
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	r.log.Info("persona deleted", zap.String("persona_id", id))
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid draft field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is returned when a draft fails validation.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "invalid persona: " + strings.Join(msgs, "; ")
}

// Normalize trims surrounding whitespace from the text fields.
func Normalize(d model.PersonaDraft) model.PersonaDraft {
	d.Name = strings.TrimSpace(d.Name)
	d.AvatarRef = strings.TrimSpace(d.AvatarRef)
	d.Biography = strings.TrimSpace(d.Biography)
	d.BehaviorInstruction = strings.TrimSpace(d.BehaviorInstruction)
	return d
}

// Validate checks a draft. It returns ValidationErrors or nil.
func Validate(d model.PersonaDraft) error {
	var errs ValidationErrors
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "is required"})
	}
	if d.Age <= 0 {
		errs = append(errs, ValidationError{Field: "age", Message: "must be greater than zero"})
	}
	if strings.TrimSpace(d.BehaviorInstruction) == "" {
		errs = append(errs, ValidationError{Field: "behaviorInstruction", Message: "is required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
