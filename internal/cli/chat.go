// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/config"
	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/model"
)

// ChatCmd starts the interactive chat.
type ChatCmd struct {
	Persona string `short:"p" long:"persona" value-name:"ID" description:"Start a new conversation with this persona"`
	Safety  string `short:"s" long:"safety" choice:"default" choice:"relaxed" choice:"unfiltered" description:"Safety policy for the conversation"`
	Plain   bool   `long:"plain" description:"Print replies without markdown rendering"`

	app *App
}

// Execute implements flags.Commander.
func (c *ChatCmd) Execute(args []string) error {
	e, err := c.app.open()
	if err != nil {
		return err
	}
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	input := newLineReader()
	defer input.Close()

	r := newREPL(e, c.app.stdout)
	if !c.Plain && e.cfg.UI.RenderMarkdown && IsStdoutTTY() {
		r.render = markdownRenderer(TerminalWidth())
	}

	switch {
	case c.Persona != "":
		if _, err := e.svc.SelectPersonaByID(c.Persona); err != nil {
			return err
		}
	default:
		if _, ok := e.svc.Active(); !ok {
			if err := r.pickPersona(input); err != nil {
				return err
			}
		}
	}
	if c.Safety != "" {
		if _, err := e.svc.ChangeSafetyPolicy(model.SafetyPolicy(c.Safety)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watcher, ok := e.store.(chat.StoreWatcher); ok && e.cfg.Storage.Watch {
		go func() {
			if err := e.svc.WatchStore(ctx, watcher); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("store watch stopped", zap.Error(err))
			}
		}()
	}
	unsubscribe := e.svc.Subscribe(r.onEvent)
	defer unsubscribe()

	if !e.client.IsConfigured() {
		fmt.Fprintln(c.app.stderr, WarningStyle.Render(
			fmt.Sprintf("Warning: %s is not set; replies will fail until it is.", e.cfg.Gateway.APIKeyEnv)))
	}

	r.printWelcome()
	for {
		line, err := input.Prompt(r.prompt())
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the session.
			fmt.Fprintln(c.app.stdout)
			return nil
		}
		quit, err := r.handleLine(ctx, line)
		if err != nil {
			fmt.Fprintf(c.app.stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if quit {
			return nil
		}
	}
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader wraps liner with history persisted in the config directory.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

// Prompt reads one line and records non-empty input in history.
func (r *lineReader) Prompt(prompt string) (string, error) {
	s, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) != "" {
		r.line.AppendHistory(s)
	}
	return s, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

type prompter interface {
	Prompt(prompt string) (string, error)
}

// repl renders the active conversation and dispatches input lines.
type repl struct {
	env    *env
	out    io.Writer
	render func(string) string

	mu      sync.Mutex
	printed int
	convID  string
}

func newREPL(e *env, out io.Writer) *repl {
	return &repl{env: e, out: out, render: func(s string) string { return s }}
}

func markdownRenderer(width int) func(string) string {
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(width, 100)),
	)
	if err != nil {
		return func(s string) string { return s }
	}
	return func(s string) string {
		out, err := tr.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(out, "\n")
	}
}

func (r *repl) prompt() string {
	conv, ok := r.env.svc.Active()
	if !ok {
		return "> "
	}
	return string(conv.SafetyPolicy) + "> "
}

// handleLine processes one line of input. It reports true when the session
// should end.
func (r *repl) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return r.handleSlash(line)
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return true, nil
	}

	active, ok := r.env.svc.Active()
	if !ok {
		return false, chat.ErrNoActiveConversation
	}
	if r.env.svc.State(active.ID) == chat.StateAwaiting {
		fmt.Fprintln(r.out, WarningStyle.Render("Still waiting for the previous reply."))
		return false, nil
	}

	_, err := r.env.svc.SendMessage(ctx, line)
	return false, err
}

func (r *repl) handleSlash(line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		r.printHelp()

	case "/personas":
		fmt.Fprint(r.out, formatPersonaTable(r.env.svc.Personas()))

	case "/new":
		if len(args) != 1 {
			fmt.Fprint(r.out, formatPersonaTable(r.env.svc.Personas()))
			return false, usageErrorf("/new", "usage: /new <persona-id>")
		}
		if _, err := r.env.svc.SelectPersonaByID(args[0]); err != nil {
			return false, err
		}

	case "/safety":
		if len(args) != 1 {
			return false, usageErrorf("/safety", "usage: /safety default|relaxed|unfiltered")
		}
		policy, err := model.ParseSafetyPolicy(args[0])
		if err != nil {
			return false, err
		}
		if _, err := r.env.svc.ChangeSafetyPolicy(policy); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Safety policy: "+string(policy)))

	case "/export":
		if len(args) < 1 || len(args) > 2 {
			return false, usageErrorf("/export", "usage: /export txt|json|md [dir]")
		}
		format, err := export.ParseFormat(args[0])
		if err != nil || format == export.FormatCSV {
			return false, usageErrorf("/export", "format must be txt, json or md")
		}
		dir := ""
		if len(args) == 2 {
			dir = config.ExpandHome(args[1])
		}
		path, err := r.env.svc.ExportToFile(format, dir)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Exported to "+path))

	case "/history":
		r.reprint()

	default:
		return false, usageErrorf(cmd, "unknown command (try /help)")
	}
	return false, nil
}

// onEvent prints messages as they are appended.
func (r *repl) onEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventConversationCreated, chat.EventReloaded:
		r.reprint()
	case chat.EventMessageAppended:
		r.printNew(ev.Conversation)
	case chat.EventStateChanged:
		if ev.State == chat.StateAwaiting {
			fmt.Fprintln(r.out, DimStyle.Render("..."))
		}
	}
}

// reprint clears the printed cursor and prints the whole active conversation.
func (r *repl) reprint() {
	conv, ok := r.env.svc.Active()
	if !ok {
		return
	}
	r.mu.Lock()
	r.convID, r.printed = conv.ID, 0
	r.mu.Unlock()

	fmt.Fprintln(r.out, RenderSeparator())
	fmt.Fprintln(r.out, TitleStyle.Render(conv.Title))
	r.printNew(conv)
}

// printNew prints messages of conv not yet shown.
func (r *repl) printNew(conv model.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.ID != r.convID {
		return
	}
	for _, msg := range conv.Messages[min(r.printed, len(conv.Messages)):] {
		r.printMessage(msg)
	}
	r.printed = len(conv.Messages)
}

func (r *repl) printMessage(msg model.Message) {
	loc := r.env.locale
	style := UserStyle
	content := msg.Content
	if msg.Role == model.RoleAssistant {
		style = PersonaStyle
		content = r.render(content)
	}
	fmt.Fprintf(r.out, "%s %s\n%s\n\n",
		style.Render(loc.RoleLabel(msg.Role)),
		DimStyle.Render(loc.FormatTimestamp(msg.Timestamp)),
		content)
}

func (r *repl) printWelcome() {
	r.reprint()
	fmt.Fprintln(r.out, DimStyle.Render("Type a message, or /help for commands."))
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, l := range [][2]string{
		{"/new <id>", "Start a new conversation with a persona"},
		{"/personas", "List personas"},
		{"/safety <policy>", "default, relaxed or unfiltered"},
		{"/export <fmt> [dir]", "Save the conversation as txt, json or md"},
		{"/history", "Show the whole conversation"},
		{"/quit", "Leave the chat"},
	} {
		fmt.Fprintf(r.out, "  %-22s %s\n", l[0], DimStyle.Render(l[1]))
	}
}

// pickPersona asks the user to choose a persona by number.
func (r *repl) pickPersona(in prompter) error {
	personas := r.env.svc.Personas()
	if len(personas) == 0 {
		return errors.New("no personas available; add one with 'hamrah admin add'")
	}
	fmt.Fprintln(r.out, TitleStyle.Render("Choose a persona"))
	for i, p := range personas {
		fmt.Fprintf(r.out, "  %d. %s (%d) %s\n", i+1, p.Name, p.Age, DimStyle.Render(p.ID))
	}
	for {
		s, err := in.Prompt(fmt.Sprintf("Persona [1-%d]: ", len(personas)))
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 || n > len(personas) {
			fmt.Fprintln(r.out, WarningStyle.Render("Enter a number from the list."))
			continue
		}
		_, err = r.env.svc.SelectPersona(personas[n-1])
		return err
	}
}
