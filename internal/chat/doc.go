// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives the user-visible chat flow.
//
// Service owns the per-conversation state machine:
//
//	Idle --SendMessage--> Awaiting --reply or apology--> Idle
//
// Selecting a persona always starts a new conversation. Sending a message
// appends the user turn, calls the completion gateway with the full log and
// appends either the reply or a localized apology. A failed completion never
// surfaces as an error; it becomes an assistant turn. At most one request is
// in flight per conversation.
//
// # Key Types
//
//   - Service: state owner with subscribe/notify
//   - Event: change notification delivered to subscribers
//   - Download: an exported conversation ready to save
//
// # Usage
//
//	svc := chat.NewService(personas, convs, gatewayClient, chat.WithLogger(log))
//	unsubscribe := svc.Subscribe(func(ev chat.Event) { redraw(ev.Conversation) })
//	defer unsubscribe()
//
//	conv, err := svc.SelectPersona(p)
//	sent, err := svc.SendMessage(ctx, "سلام")
package chat
