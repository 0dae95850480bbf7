// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/config"
	"github.com/jeranaias/hamrah/internal/export"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/util"
)

// ExportCmd exports one conversation, or every message as CSV.
type ExportCmd struct {
	Format   string `short:"f" long:"format" default:"txt" choice:"txt" choice:"json" choice:"md" choice:"csv" description:"Export format"`
	ID       string `long:"id" value-name:"ID" description:"Conversation to export (default: active)"`
	Out      string `short:"o" long:"out" value-name:"DIR" description:"Write a file into DIR instead of stdout"`
	Password string `long:"password" env:"HAMRAH_ADMIN_PASSWORD" description:"Admin password, needed for csv"`

	app *App
}

// Execute implements flags.Commander.
func (c *ExportCmd) Execute(args []string) error {
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return usageErrorf("export", "%v", err)
	}

	if format == export.FormatCSV {
		if c.ID != "" {
			return usageErrorf("export", "--id cannot be combined with csv; csv always contains every conversation")
		}
		ad := &AdminCmd{Password: c.Password, app: c.app}
		e, err := ad.unlock()
		if err != nil {
			return err
		}
		return exportCSV(c.app, e.console, c.Out)
	}

	e, err := c.app.open()
	if err != nil {
		return err
	}

	var conv model.Conversation
	if c.ID != "" {
		if conv, err = e.convs.Get(c.ID); err != nil {
			return err
		}
	} else {
		active, ok := e.svc.Active()
		if !ok {
			return fmt.Errorf("export: %w", chat.ErrNoActiveConversation)
		}
		conv = active
	}

	dl, err := e.svc.ExportConversation(conv, format)
	if err != nil {
		return err
	}
	if c.Out == "" {
		_, err = c.app.stdout.Write(append(dl.Content, '\n'))
		return err
	}

	path := filepath.Join(config.ExpandHome(c.Out), dl.FileName)
	if err := util.AtomicWriteFile(path, dl.Content, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintln(c.app.stderr, SuccessStyle.Render("Exported to "+path))
	return nil
}
