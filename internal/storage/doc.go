// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for hamrah.
//
// All conversations live in one ordered JSON array under the "conversations"
// key of a kv.Store, next to a pointer record naming the active conversation.
// Every mutation is a locked read-modify-write against the store, so the chat
// view and the admin console can share one store without losing writes.
//
// # Key Types
//
//   - Store: conversation collection plus the active pointer
//   - ConversationError: error type behind ErrConversationNotFound
//
// # Usage
//
// Create a store over a kv backend and add a conversation:
//
//	convs := storage.NewStore(kvStore, logger)
//	err := convs.Insert(conv)
//
// Append a message:
//
//	conv, err := convs.AppendMessage(conv.ID, msg, time.Now())
//
// List for display, newest first:
//
//	fmt.Print(storage.FormatConversationList(convs.SortedByUpdated()))
package storage
