// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export serializes conversations for download.
//
// # Key Types
//
//   - Exporter: single-conversation exporter interface
//   - TextExporter: plain transcript with localized timestamps
//   - JSONExporter: pretty-printed dump of the full record
//   - MarkdownExporter: Markdown with YAML front matter
//   - WriteCSV: flattens every message of every conversation into rows
//
// # Supported Formats
//
//   - txt: "[timestamp] role:" line, content below, blank line between messages
//   - json: the stored record, two-space indent
//   - md: human-readable, renders well in any Markdown viewer
//   - csv: conversationId,messageId,timestamp,role,content; content always quoted
//
// # Usage
//
//	exp, err := export.New(export.FormatText, nil)
//	path, err := export.ExportToFile(conv, exp, opts)
//
// Exporting is read-only: no exporter changes the conversation it is given.
package export
