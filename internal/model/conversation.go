// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/jeranaias/hamrah/internal/util"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one exchange of messages.
//
// BehaviorInstruction is copied from the persona when the conversation is
// created; later persona edits do not reach it. PersonaID may dangle after the
// persona is deleted.
type Conversation struct {
	ID                  string       `json:"id"`
	Title               string       `json:"title"`
	Messages            []Message    `json:"messages"`
	BehaviorInstruction string       `json:"behaviorInstruction"`
	SafetyPolicy        SafetyPolicy `json:"safetyPolicy"`
	LastUpdatedAt       time.Time    `json:"lastUpdatedAt"`
	PersonaID           string       `json:"personaId,omitempty"`
}

// ConversationID derives the conversation id for a persona selected at now.
func ConversationID(personaID string, now time.Time) string {
	return fmt.Sprintf("conv_%s_%d", personaID, now.UnixMilli())
}

// NewConversation starts an empty conversation for p.
func NewConversation(p Persona, title string, now time.Time) Conversation {
	return Conversation{
		ID:                  ConversationID(p.ID, now),
		Title:               title,
		Messages:            []Message{},
		BehaviorInstruction: p.BehaviorInstruction,
		SafetyPolicy:        SafetyDefault,
		LastUpdatedAt:       now,
		PersonaID:           p.ID,
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Append adds msg to the end of the log and refreshes LastUpdatedAt.
func (c *Conversation) Append(msg Message, now time.Time) {
	c.Messages = append(c.Messages, msg)
	c.Touch(now)
}

// SetSafetyPolicy changes the policy used for future completions.
func (c *Conversation) SetSafetyPolicy(p SafetyPolicy, now time.Time) {
	c.SafetyPolicy = p
	c.Touch(now)
}

// Touch refreshes LastUpdatedAt. It never moves the timestamp backwards,
// even if the wall clock does.
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.LastUpdatedAt) {
		c.LastUpdatedAt = now
	}
}

// Clone returns a copy whose message log does not share storage with c.
func (c Conversation) Clone() Conversation {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	return c
}

// =============================================================================
// ACCESSORS
// =============================================================================

// LastMessage returns the most recent message, or false if the log is empty.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// Preview returns the first user message truncated to 80 characters.
func (c Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return util.TruncateRunes(util.SingleLine(msg.Content), 80)
		}
	}
	return ""
}
