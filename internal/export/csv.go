// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bufio"
	"io"
	"strings"

	"github.com/jeranaias/hamrah/internal/model"
)

// CSVHeader is the first row of a CSV export.
var CSVHeader = []string{"conversationId", "messageId", "timestamp", "role", "content"}

// csvTimestamp is ISO 8601 in UTC with milliseconds.
const csvTimestamp = "2006-01-02T15:04:05.000Z"

// WriteCSV writes one row per message across all conversations, in stored
// order. The content column is always quoted, with embedded quotes doubled;
// other columns are quoted only when they need it.
func WriteCSV(w io.Writer, convs []model.Conversation) error {
	bw := bufio.NewWriter(w)

	writeRow := func(fields []string, forceLast bool) {
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			if forceLast && i == len(fields)-1 {
				bw.WriteString(quoteCSV(f))
			} else {
				bw.WriteString(csvField(f))
			}
		}
		bw.WriteByte('\n')
	}

	writeRow(CSVHeader, false)
	for _, conv := range convs {
		for _, msg := range conv.Messages {
			writeRow([]string{
				conv.ID,
				msg.ID,
				msg.Timestamp.UTC().Format(csvTimestamp),
				string(msg.Role),
				msg.Content,
			}, true)
		}
	}
	return bw.Flush()
}

// quoteCSV always quotes s.
func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// csvField quotes s only if it contains a separator, quote or line break.
func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") || strings.HasPrefix(s, " ") {
		return quoteCSV(s)
	}
	return s
}
