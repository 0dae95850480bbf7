// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for conversation exporters.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(conv model.Conversation) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Format names an export format.
type Format string

const (
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
)

// ParseFormat accepts the short names plus "text" and "markdown".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown export format %q (want txt, json, md or csv)", s)
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// Locale formats timestamps in text and Markdown output.
	Locale locale.Locale

	// IncludeMetadata adds front matter and a details section to Markdown.
	IncludeMetadata bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		Locale:          locale.Default(),
		IncludeMetadata: true,
	}
}

// New returns the exporter for a single-conversation format.
func New(format Format, opts *Options) (Exporter, error) {
	switch format {
	case FormatText:
		return NewTextExporter(opts), nil
	case FormatJSON:
		return NewJSONExporter(), nil
	case FormatMarkdown:
		return NewMarkdownExporter(opts), nil
	case FormatCSV:
		return nil, fmt.Errorf("csv exports all conversations; use WriteCSV")
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// CSVFileName is the file written by ExportCSVToFile.
const CSVFileName = "conversations_export.csv"

// FileName returns the download name for conv, e.g. "conversation-conv_x_1.txt".
func FileName(conv model.Conversation, exporter Exporter) string {
	return "conversation-" + sanitizeFilename(conv.ID) + exporter.FileExtension()
}

// ExportToFile exports a conversation to a file using the specified exporter.
// Returns the output file path or an error.
func ExportToFile(conv model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	return writeOutput(opts.OutputDir, FileName(conv, exporter), content)
}

// ExportCSVToFile writes every message of convs to CSVFileName in the output
// directory.
func ExportCSVToFile(convs []model.Conversation, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, convs); err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	return writeOutput(opts.OutputDir, CSVFileName, buf.Bytes())
}

func writeOutput(dir, name string, content []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, name)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 100)

	var sb strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			sb.WriteRune('_')
		case r < 32 || r == 127:
			sb.WriteRune('-')
		default:
			sb.WriteRune(r)
		}
	}

	if sb.Len() == 0 {
		return "conversation"
	}
	return sb.String()
}
