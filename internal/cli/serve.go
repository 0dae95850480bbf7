// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/server"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `long:"addr" value-name:"HOST:PORT" description:"Listen address (default from server.addr)"`

	app *App
}

// Execute implements flags.Commander.
func (c *ServeCmd) Execute(args []string) error {
	e, err := c.app.open()
	if err != nil {
		return err
	}

	addr := e.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
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

	srv := server.New(e.svc, e.console,
		server.WithAddr(addr),
		server.WithLogger(e.log),
		server.WithRateLimit(e.cfg.Server.RateLimitPerSec, e.cfg.Server.Burst))

	fmt.Fprintln(c.app.stderr, SuccessStyle.Render("Listening on http://"+srv.Addr()))
	if !e.client.IsConfigured() {
		fmt.Fprintln(c.app.stderr, WarningStyle.Render(
			fmt.Sprintf("Warning: %s is not set; replies will be apologies until it is.", e.cfg.Gateway.APIKeyEnv)))
	}
	return srv.Run(ctx)
}
