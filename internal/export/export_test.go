// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions(t *testing.T) *Options {
	return &Options{
		OutputDir:       t.TempDir(),
		Locale:          locale.Default().In(time.UTC),
		IncludeMetadata: true,
	}
}

func testConversation() model.Conversation {
	p := model.Persona{ID: "char_aria", Name: "آریا", BehaviorInstruction: "friendly tutor"}
	conv := model.NewConversation(p, "چت با آریا", t0)
	conv.Messages = []model.Message{
		{ID: "msg_1", Role: model.RoleUser, Content: "سلام", Timestamp: t0},
		{ID: "msg_2", Role: model.RoleAssistant, Content: "سلام! چطور می‌توانم کمک کنم؟", Timestamp: t0.Add(2 * time.Second)},
	}
	conv.LastUpdatedAt = t0.Add(2 * time.Second)
	return conv
}

// =============================================================================
// TEXT
// =============================================================================

func TestTextExporter(t *testing.T) {
	out, err := NewTextExporter(testOptions(t)).Export(testConversation())
	require.NoError(t, err)

	want := "[۱۴۰۳/۱۲/۱۱، ۱۲:۰۰:۰۰] user:\nسلام\n\n" +
		"[۱۴۰۳/۱۲/۱۱، ۱۲:۰۰:۰۲] assistant:\nسلام! چطور می‌توانم کمک کنم؟"
	assert.Equal(t, want, string(out))
}

func TestTextExporter_English(t *testing.T) {
	opts := testOptions(t)
	opts.Locale = locale.Parse("en").In(time.UTC)

	out, err := NewTextExporter(opts).Export(testConversation())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "[3/1/2025, 12:00:00] user:\nسلام\n\n"))
}

func TestTextExporter_Empty(t *testing.T) {
	conv := testConversation()
	conv.Messages = nil
	out, err := NewTextExporter(nil).Export(conv)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// =============================================================================
// JSON
// =============================================================================

func TestJSONExporter(t *testing.T) {
	conv := testConversation()
	conv.Messages[0].Content = "<b>bold</b> & more"

	out, err := NewJSONExporter().Export(conv)
	require.NoError(t, err)

	assert.Contains(t, string(out), "\n  \"id\": \"conv_char_aria_1740830400000\"")
	assert.Contains(t, string(out), "<b>bold</b> & more")
	assert.False(t, bytes.HasSuffix(out, []byte("\n")))

	var back model.Conversation
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, conv, back)
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions(t)).Export(testConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\n"))
	assert.Contains(t, md, "id: conv_char_aria_1740830400000\n")
	assert.Contains(t, md, "safety_policy: default\n")
	assert.Contains(t, md, "messages: 2\n")
	assert.Contains(t, md, "# چت با آریا\n")
	assert.Contains(t, md, "> friendly tutor\n")
	assert.Contains(t, md, "### شما <sub>۱۴۰۳/۱۲/۱۱، ۱۲:۰۰:۰۰</sub>\n\nسلام\n")
	assert.Contains(t, md, "### دستیار")
	assert.Equal(t, 1, strings.Count(md, "\n---\n\n###"), "separator only between messages")
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	opts := testOptions(t)
	opts.IncludeMetadata = false

	out, err := NewMarkdownExporter(opts).Export(testConversation())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# چت با آریا"))
	assert.NotContains(t, string(out), "friendly tutor")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\#1 \*bold\* \_x\_ \[a\]`, escapeMarkdown("#1 *bold* _x_ [a]"))
}

// =============================================================================
// CSV
// =============================================================================

func TestWriteCSV(t *testing.T) {
	a := testConversation()
	a.ID = "conv_a"
	a.Messages = []model.Message{{ID: "msg_a", Role: model.RoleUser, Content: `He said "hi"`, Timestamp: t0}}
	b := testConversation()
	b.ID = "conv_b"
	b.Messages = []model.Message{{ID: "msg_b", Role: model.RoleAssistant, Content: "line1\nline2, ok", Timestamp: t0.Add(1500 * time.Millisecond)}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []model.Conversation{a, b}))

	want := "conversationId,messageId,timestamp,role,content\n" +
		"conv_a,msg_a,2025-03-01T12:00:00.000Z,user,\"He said \"\"hi\"\"\"\n" +
		"conv_b,msg_b,2025-03-01T12:00:01.500Z,assistant,\"line1\nline2, ok\"\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_NoConversations(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "conversationId,messageId,timestamp,role,content\n", buf.String())
}

func TestCSVField(t *testing.T) {
	assert.Equal(t, "plain", csvField("plain"))
	assert.Equal(t, `"a,b"`, csvField("a,b"))
	assert.Equal(t, `"x""y"`, csvField(`x"y`))
	assert.Equal(t, `"plain"`, quoteCSV("plain"))
}

// =============================================================================
// FILES
// =============================================================================

func TestExportToFile(t *testing.T) {
	opts := testOptions(t)
	conv := testConversation()

	for _, format := range []Format{FormatText, FormatJSON, FormatMarkdown} {
		exp, err := New(format, opts)
		require.NoError(t, err)

		path, err := ExportToFile(conv, exp, opts)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(opts.OutputDir, "conversation-conv_char_aria_1740830400000"+exp.FileExtension()), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		direct, _ := exp.Export(conv)
		assert.Equal(t, direct, data)
	}
}

func TestExportCSVToFile(t *testing.T) {
	opts := testOptions(t)
	path, err := ExportCSVToFile([]model.Conversation{testConversation()}, opts)
	require.NoError(t, err)
	assert.Equal(t, CSVFileName, filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestExport_DoesNotMutate(t *testing.T) {
	conv := testConversation()
	before := conv.Clone()
	for _, format := range []Format{FormatText, FormatJSON, FormatMarkdown} {
		exp, err := New(format, nil)
		require.NoError(t, err)
		_, err = exp.Export(conv)
		require.NoError(t, err)
	}
	assert.Equal(t, before, conv)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"txt": FormatText, "TEXT": FormatText, "json": FormatJSON,
		"md": FormatMarkdown, "markdown": FormatMarkdown, " csv ": FormatCSV,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("html")
	assert.Error(t, err)

	_, err = New(FormatCSV, nil)
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "conv_a-b", sanitizeFilename("conv a/b"))
	assert.Equal(t, "conversation", sanitizeFilename(""))
}
