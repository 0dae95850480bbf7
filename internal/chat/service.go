// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/gateway"
	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

// ErrNoActiveConversation is returned by operations that need an active
// conversation when none exists.
var ErrNoActiveConversation = errors.New("no active conversation")

// =============================================================================
// STATE
// =============================================================================

// State is a conversation's position in the request cycle.
type State int

const (
	StateIdle State = iota
	StateAwaiting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_response"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventKind identifies what changed.
type EventKind string

const (
	EventConversationCreated EventKind = "conversation_created"
	EventMessageAppended     EventKind = "message_appended"
	EventStateChanged        EventKind = "state_changed"
	EventSafetyChanged       EventKind = "safety_changed"
	EventReloaded            EventKind = "reloaded"
)

// Event is delivered to subscribers after every change. Conversation is a
// snapshot taken right after the change; it is zero for EventReloaded.
type Event struct {
	Kind           EventKind
	ConversationID string
	State          State
	Conversation   model.Conversation
}

// =============================================================================
// SERVICE
// =============================================================================

// Service coordinates personas, conversations and the completion gateway.
type Service struct {
	personas  *persona.Registry
	convs     *storage.Store
	completer gateway.Completer
	locale    locale.Locale
	now       func() time.Time
	log       *zap.Logger

	mu       sync.Mutex
	awaiting map[string]bool
	subs     []subscriber
	nextSub  int
}

type subscriber struct {
	id int
	fn func(Event)
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. Tests use it to control timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocale sets the language for titles, apologies and exports.
func WithLocale(l locale.Locale) Option {
	return func(s *Service) { s.locale = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = logging.OrNop(l) }
}

// NewService creates a chat service.
func NewService(personas *persona.Registry, convs *storage.Store, completer gateway.Completer, opts ...Option) *Service {
	s := &Service{
		personas:  personas,
		convs:     convs,
		completer: completer,
		locale:    locale.Default(),
		now:       time.Now,
		log:       logging.Nop(),
		awaiting:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locale returns the service locale.
func (s *Service) Locale() locale.Locale {
	return s.locale
}

// Personas returns the current persona list.
func (s *Service) Personas() []model.Persona {
	return s.personas.List()
}

// Active returns the active conversation.
func (s *Service) Active() (model.Conversation, bool) {
	return s.convs.Active()
}

// State returns the state of conversation id.
func (s *Service) State(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaiting[id] {
		return StateAwaiting
	}
	return StateIdle
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// SelectPersona starts a new conversation with p and makes it active.
//
// Every call creates a new conversation, even for the persona that is already
// active. The behavior instruction is copied, so later persona edits do not
// reach this conversation.
func (s *Service) SelectPersona(p model.Persona) (model.Conversation, error) {
	now := s.now()
	conv := model.NewConversation(p, s.locale.ConversationTitle(p.Name), now)

	if err := s.convs.Insert(conv); err != nil {
		return model.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	if err := s.convs.SetActive(conv.ID); err != nil {
		return model.Conversation{}, fmt.Errorf("set active conversation: %w", err)
	}

	s.log.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("persona_id", p.ID))
	s.notify(Event{Kind: EventConversationCreated, ConversationID: conv.ID, Conversation: conv.Clone()})
	return conv, nil
}

// SelectPersonaByID looks up persona id and selects it.
func (s *Service) SelectPersonaByID(id string) (model.Conversation, error) {
	p, err := s.personas.Get(id)
	if err != nil {
		return model.Conversation{}, err
	}
	return s.SelectPersona(p)
}

// SendMessage sends text in the active conversation and waits for the reply.
//
// It reports false without doing anything when text is blank, when no
// conversation is active, or when the active conversation is already
// awaiting a response. Gateway failures are not returned: the reply becomes
// the localized apology. The error result is reserved for storage failures.
func (s *Service) SendMessage(ctx context.Context, text string) (bool, error) {
	text = locale.NormalizeInput(text)
	if text == "" {
		return false, nil
	}

	active, ok := s.convs.Active()
	if !ok {
		return false, nil
	}
	id := active.ID

	if !s.begin(id) {
		return false, nil
	}
	defer s.finish(id)

	now := s.now()
	conv, err := s.convs.AppendMessage(id, model.NewMessage(model.RoleUser, text, now), now)
	if err != nil {
		return false, fmt.Errorf("append user message: %w", err)
	}
	s.notify(Event{Kind: EventMessageAppended, ConversationID: id, Conversation: conv})
	s.notify(Event{Kind: EventStateChanged, ConversationID: id, State: StateAwaiting, Conversation: conv})

	start := time.Now()
	reply, err := s.completer.Complete(ctx, conv.Messages, conv.BehaviorInstruction, conv.SafetyPolicy)
	if err != nil {
		s.log.Warn("completion failed, sending apology",
			zap.String("conversation_id", id),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		reply = s.locale.Apology()
	} else {
		s.log.Debug("completion received",
			zap.String("conversation_id", id),
			zap.Duration("duration", time.Since(start)),
			zap.Int("reply_runes", len([]rune(reply))))
	}

	now = s.now()
	conv, err = s.convs.AppendMessage(id, model.NewMessage(model.RoleAssistant, reply, now), now)
	if err != nil {
		// The conversation was deleted while the request was in flight.
		return true, fmt.Errorf("append assistant message: %w", err)
	}
	s.notify(Event{Kind: EventMessageAppended, ConversationID: id, Conversation: conv})
	return true, nil
}

// begin moves id to Awaiting. It reports false if a request is in flight.
func (s *Service) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaiting[id] {
		return false
	}
	s.awaiting[id] = true
	return true
}

// finish returns id to Idle.
func (s *Service) finish(id string) {
	s.mu.Lock()
	delete(s.awaiting, id)
	s.mu.Unlock()

	conv, _ := s.convs.Get(id)
	s.notify(Event{Kind: EventStateChanged, ConversationID: id, State: StateIdle, Conversation: conv})
}

// ChangeSafetyPolicy sets the policy used for future replies in the active
// conversation.
func (s *Service) ChangeSafetyPolicy(policy model.SafetyPolicy) (model.Conversation, error) {
	if !policy.Valid() {
		return model.Conversation{}, fmt.Errorf("invalid safety policy %q", policy)
	}
	active, ok := s.convs.Active()
	if !ok {
		return model.Conversation{}, ErrNoActiveConversation
	}

	conv, err := s.convs.SetSafetyPolicy(active.ID, policy, s.now())
	if err != nil {
		return model.Conversation{}, err
	}
	s.log.Info("safety policy changed",
		zap.String("conversation_id", conv.ID),
		zap.String("policy", string(policy)))
	s.notify(Event{Kind: EventSafetyChanged, ConversationID: conv.ID, State: s.State(conv.ID), Conversation: conv})
	return conv, nil
}

// Reload tells subscribers to re-read state, e.g. after another process
// changed the store.
func (s *Service) Reload() {
	s.notify(Event{Kind: EventReloaded})
}

// StoreWatcher reports keys changed by other writers. kv.FileStore
// implements it.
type StoreWatcher interface {
	Watch(ctx context.Context, onChange func(key string)) error
}

// WatchStore calls Reload whenever w reports a change to the persona or
// conversation records. It blocks until ctx is done.
func (s *Service) WatchStore(ctx context.Context, w StoreWatcher) error {
	return w.Watch(ctx, func(key string) {
		switch key {
		case storage.ConversationsKey, storage.ActiveKey, persona.StorageKey:
			s.log.Debug("store changed externally", zap.String("key", key))
			s.Reload()
		}
	})
}

// =============================================================================
// EXPORT
// =============================================================================

// Download is an exported conversation.
type Download struct {
	FileName string
	MimeType string
	Content  []byte
}

// Export serializes the active conversation. It never changes state.
func (s *Service) Export(format export.Format) (Download, error) {
	active, ok := s.convs.Active()
	if !ok {
		return Download{}, ErrNoActiveConversation
	}
	return s.ExportConversation(active, format)
}

// ExportConversation serializes conv in a single-conversation format.
func (s *Service) ExportConversation(conv model.Conversation, format export.Format) (Download, error) {
	exp, err := export.New(format, s.exportOptions(""))
	if err != nil {
		return Download{}, err
	}
	content, err := exp.Export(conv)
	if err != nil {
		return Download{}, err
	}
	return Download{
		FileName: export.FileName(conv, exp),
		MimeType: exp.MimeType(),
		Content:  content,
	}, nil
}

// ExportToFile writes the active conversation into dir and returns the path.
func (s *Service) ExportToFile(format export.Format, dir string) (string, error) {
	active, ok := s.convs.Active()
	if !ok {
		return "", ErrNoActiveConversation
	}
	opts := s.exportOptions(dir)
	exp, err := export.New(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(active, exp, opts)
}

func (s *Service) exportOptions(dir string) *export.Options {
	opts := export.DefaultOptions()
	opts.Locale = s.locale
	if dir != "" {
		opts.OutputDir = dir
	}
	return opts
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn for every change and returns a function that removes
// it. Subscribers are called in registration order, synchronously, on the
// goroutine that made the change.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Service) notify(ev Event) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
