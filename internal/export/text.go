// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"strings"

	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/model"
)

// TextExporter writes a plain transcript:
//
//	[۱۴۰۳/۱۲/۱۱، ۱۵:۳۰:۰۰] user:
//	سلام
//
// Role names are the raw stored values.
type TextExporter struct {
	locale locale.Locale
}

// NewTextExporter creates a new text exporter.
func NewTextExporter(opts *Options) *TextExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &TextExporter{locale: opts.Locale}
}

// Export converts a conversation to a transcript. An empty conversation
// yields empty output.
func (e *TextExporter) Export(conv model.Conversation) ([]byte, error) {
	blocks := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		blocks = append(blocks,
			"["+e.locale.FormatTimestamp(msg.Timestamp)+"] "+string(msg.Role)+":\n"+msg.Content)
	}
	return []byte(strings.Join(blocks, "\n\n")), nil
}

// FileExtension returns the file extension for text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for text.
func (e *TextExporter) MimeType() string {
	return "text/plain; charset=utf-8"
}
