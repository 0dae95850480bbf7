// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/kv"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/util"
)

// Store keys.
const (
	ConversationsKey = "conversations"
	ActiveKey        = "activeConversationId"
)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Store manages the conversation collection.
type Store struct {
	kv  kv.Store
	log *zap.Logger
}

// NewStore creates a conversation store over s.
func NewStore(s kv.Store, logger *zap.Logger) *Store {
	return &Store{kv: s, log: logging.OrNop(logger)}
}

// List returns all conversations in stored order.
func (s *Store) List() []model.Conversation {
	return kv.Get(s.kv, ConversationsKey, []model.Conversation{})
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (model.Conversation, error) {
	for _, c := range s.List() {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Conversation{}, notFound(id)
}

// Upsert replaces the conversation with the same id in place, or appends it.
func (s *Store) Upsert(conv model.Conversation) error {
	_, err := s.update(func(list []model.Conversation) ([]model.Conversation, error) {
		for i := range list {
			if list[i].ID == conv.ID {
				list[i] = conv
				return list, nil
			}
		}
		return append(list, conv), nil
	})
	return err
}

// Insert puts conv at the front of the collection, dropping any record with
// the same id. New conversations are added this way so the newest comes first.
func (s *Store) Insert(conv model.Conversation) error {
	_, err := s.update(func(list []model.Conversation) ([]model.Conversation, error) {
		next := make([]model.Conversation, 0, len(list)+1)
		next = append(next, conv)
		for _, c := range list {
			if c.ID != conv.ID {
				next = append(next, c)
			}
		}
		return next, nil
	})
	return err
}

// Delete removes conversation id if present. If it was active, the active
// pointer is cleared.
func (s *Store) Delete(id string) error {
	_, err := s.update(func(list []model.Conversation) ([]model.Conversation, error) {
		next := make([]model.Conversation, 0, len(list))
		for _, c := range list {
			if c.ID != id {
				next = append(next, c)
			}
		}
		return next, nil
	})
	if err != nil {
		return err
	}

	if err := s.clearActive(id); err != nil {
		return err
	}

	s.log.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// clearActive removes the active pointer if it names id.
func (s *Store) clearActive(id string) error {
	s.kv.Lock()
	defer s.kv.Unlock()
	if s.ActiveID() != id {
		return nil
	}
	return s.kv.Delete(ActiveKey)
}

// AppendMessage appends msg to conversation id and refreshes its
// LastUpdatedAt. It returns the updated conversation.
func (s *Store) AppendMessage(id string, msg model.Message, now time.Time) (model.Conversation, error) {
	return s.mutate(id, func(c *model.Conversation) {
		c.Append(msg, now)
	})
}

// SetSafetyPolicy changes the safety policy of conversation id.
func (s *Store) SetSafetyPolicy(id string, policy model.SafetyPolicy, now time.Time) (model.Conversation, error) {
	if !policy.Valid() {
		return model.Conversation{}, fmt.Errorf("storage: invalid safety policy %q", policy)
	}
	return s.mutate(id, func(c *model.Conversation) {
		c.SetSafetyPolicy(policy, now)
	})
}

// mutate applies fn to conversation id under the store lock.
func (s *Store) mutate(id string, fn func(*model.Conversation)) (model.Conversation, error) {
	var out model.Conversation
	_, err := s.update(func(list []model.Conversation) ([]model.Conversation, error) {
		for i := range list {
			if list[i].ID == id {
				fn(&list[i])
				out = list[i].Clone()
				return list, nil
			}
		}
		return nil, notFound(id)
	})
	if err != nil {
		return model.Conversation{}, err
	}
	return out, nil
}

func (s *Store) update(fn func([]model.Conversation) ([]model.Conversation, error)) ([]model.Conversation, error) {
	return kv.Update(s.kv, ConversationsKey, []model.Conversation{}, fn)
}

// =============================================================================
// ACTIVE CONVERSATION
// =============================================================================

// ActiveID returns the stored active conversation id, or "" if none is set.
func (s *Store) ActiveID() string {
	return kv.Get(s.kv, ActiveKey, "")
}

// SetActive stores id as the active conversation. An empty id clears it.
func (s *Store) SetActive(id string) error {
	if id == "" {
		return s.kv.Delete(ActiveKey)
	}
	return kv.Set(s.kv, ActiveKey, id)
}

// Active returns the active conversation. It never writes.
//
// When the pointer is unset or dangling and conversations exist, the first
// stored conversation is reported as active.
func (s *Store) Active() (model.Conversation, bool) {
	list := s.List()
	id := s.ActiveID()
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	if len(list) == 0 {
		return model.Conversation{}, false
	}
	return list[0], true
}

// RestoreActive persists the pointer Active resolves to, so a missing or
// dangling pointer is repaired once at startup. It reports whether a
// conversation is active.
func (s *Store) RestoreActive() (bool, error) {
	conv, ok := s.Active()
	if !ok {
		if s.ActiveID() != "" {
			return false, s.SetActive("")
		}
		return false, nil
	}
	if conv.ID == s.ActiveID() {
		return true, nil
	}
	if err := s.SetActive(conv.ID); err != nil {
		return true, fmt.Errorf("restore active conversation: %w", err)
	}
	s.log.Debug("active conversation restored", zap.String("conversation_id", conv.ID))
	return true, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// SortedByUpdated returns all conversations, most recently updated first.
func (s *Store) SortedByUpdated() []model.Conversation {
	list := s.List()
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastUpdatedAt.After(list[j].LastUpdatedAt)
	})
	return list
}

// SearchMessages returns conversations where any message or the title
// contains query (case-insensitive). An empty query returns everything.
func (s *Store) SearchMessages(query string) []model.Conversation {
	list := s.List()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return list
	}

	var results []model.Conversation
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Title), query) {
			results = append(results, c)
			continue
		}
		for _, msg := range c.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, c)
				break
			}
		}
	}
	return results
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrConversationNotFound is returned when a conversation id does not exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID == "" {
		return e.Message
	}
	return e.Message + ": " + e.ID
}

// Is matches on Message so errors carrying an id still match the sentinel.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &ConversationError{Message: ErrConversationNotFound.Message, ID: id}
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

const (
	idWidth      = 32
	updatedWidth = 17
	countWidth   = 8
	titleWidth   = 40
)

// FormatConversationList formats conversations as a table with id, last
// update, message count and title. Widths are display columns, so Persian and
// CJK titles line up.
func FormatConversationList(convs []model.Conversation) string {
	if len(convs) == 0 {
		return "No conversations found."
	}

	rule := strings.Repeat("-", idWidth+updatedWidth+countWidth+titleWidth+3) + "\n"

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	sb.WriteString(rule)
	sb.WriteString(util.PadRight("ID", idWidth) + " " +
		util.PadRight("Updated", updatedWidth) + " " +
		util.PadRight("Messages", countWidth) + " Title\n")
	sb.WriteString(rule)

	for _, c := range convs {
		title := c.Title
		if preview := c.Preview(); preview != "" {
			title += " - " + preview
		}
		sb.WriteString(util.PadRight(util.TruncateWidth(c.ID, idWidth), idWidth) + " " +
			util.PadRight(c.LastUpdatedAt.Local().Format("2006-01-02 15:04"), updatedWidth) + " " +
			util.PadRight(strconv.Itoa(c.MessageCount()), countWidth) + " " +
			util.TruncateWidth(util.SingleLine(title), titleWidth) + "\n")
	}
	return sb.String()
}
