// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/hamrah/internal/config"
	"github.com/jeranaias/hamrah/internal/kv"
	"github.com/jeranaias/hamrah/internal/util"
)

// ConfigCmd groups configuration commands.
type ConfigCmd struct {
	Show ConfigShowCmd `command:"show" description:"Print the effective configuration"`
	Init ConfigInitCmd `command:"init" description:"Write a default config file"`
	Get  ConfigGetCmd  `command:"get" description:"Print one setting, e.g. gateway.model"`
}

// ConfigShowCmd prints the effective configuration as TOML.
type ConfigShowCmd struct {
	Store bool `long:"store" description:"Also list the keys held by the configured store"`

	app *App
}

// Execute implements flags.Commander.
func (c *ConfigShowCmd) Execute(args []string) error {
	cfg, err := c.app.loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprint(c.app.stdout, cfg.String())
	if !c.Store {
		return nil
	}

	e, err := c.app.open()
	if err != nil {
		return err
	}
	summary, err := storeSummary(e.cfg.Storage, e.store)
	if err != nil {
		return err
	}
	fmt.Fprint(c.app.stdout, "\n"+summary)
	return nil
}

// storeSummary lists every stored key with its size, as TOML comments so the
// output stays loadable.
func storeSummary(sc config.StorageConfig, store kv.Store) (string, error) {
	keys, err := store.Keys()
	if err != nil {
		return "", fmt.Errorf("list store keys: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# store: %s", sc.Backend)
	if sc.Backend != kv.BackendMemory {
		fmt.Fprintf(&sb, " (%s)", sc.DataDir)
	}
	sb.WriteString("\n")
	if len(keys) == 0 {
		sb.WriteString("#   (empty)\n")
		return sb.String(), nil
	}
	for _, k := range keys {
		data, _, err := store.Get(k)
		if err != nil {
			return "", fmt.Errorf("read %q: %w", k, err)
		}
		fmt.Fprintf(&sb, "#   %s %d bytes\n", util.PadRight(k, 24), len(data))
	}
	return sb.String(), nil
}

// ConfigInitCmd writes the defaults to the config path.
type ConfigInitCmd struct {
	Force bool `long:"force" description:"Overwrite an existing file"`

	app *App
}

// Execute implements flags.Commander.
func (c *ConfigInitCmd) Execute(args []string) error {
	path := ""
	if c.app.opts != nil {
		path = c.app.opts.ConfigFile
	}
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !c.Force {
		return usageErrorf("config init", "%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ConfigError{Err: err}
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &ConfigError{Err: err}
	}
	fmt.Fprintln(c.app.stdout, SuccessStyle.Render("Wrote "+path))
	return nil
}

// ConfigGetCmd prints one value by dotted key.
type ConfigGetCmd struct {
	app *App
}

// Execute implements flags.Commander.
func (c *ConfigGetCmd) Execute(args []string) error {
	key, err := oneArg("config get", args, "key")
	if err != nil {
		return err
	}
	cfg, err := c.app.loadConfig()
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return usageErrorf("config get", "%v", err)
	}
	fmt.Fprintln(c.app.stdout, v)
	return nil
}
