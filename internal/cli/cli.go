// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/admin"
	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/config"
	"github.com/jeranaias/hamrah/internal/gateway"
	"github.com/jeranaias/hamrah/internal/kv"
	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options is the root command. Struct tags are read by go-flags.
type Options struct {
	ConfigFile string `short:"c" long:"config" value-name:"PATH" description:"Config file (default ~/.hamrah/config.toml)"`
	DataDir    string `long:"data-dir" value-name:"DIR" description:"Override storage.data_dir"`
	Backend    string `long:"backend" choice:"file" choice:"sqlite" choice:"memory" description:"Override storage.backend"`
	Locale     string `long:"locale" value-name:"TAG" description:"Override ui.locale (fa-IR or en-US)"`
	Debug      bool   `long:"debug" description:"Write debug logs to stderr"`

	Chat     ChatCmd     `command:"chat" description:"Chat with a persona"`
	Personas PersonasCmd `command:"personas" description:"List personas"`
	Admin    AdminCmd    `command:"admin" description:"Manage personas and review conversations"`
	Export   ExportCmd   `command:"export" description:"Export conversations"`
	Serve    ServeCmd    `command:"serve" description:"Start the HTTP API"`
	Config   ConfigCmd   `command:"config" description:"Show or create the configuration file"`
	Version  VersionCmd  `command:"version" description:"Print version information"`
}

// =============================================================================
// APP
// =============================================================================

// App runs commands against a shared environment.
type App struct {
	stdout io.Writer
	stderr io.Writer
	opts   *Options
	env    *env
}

// env is everything a command may need, opened once per process.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	store    kv.Store
	personas *persona.Registry
	convs    *storage.Store
	client   *gateway.Client
	svc      *chat.Service
	console  *admin.Console
	locale   locale.Locale
}

// NewApp creates an App writing to stdout and stderr.
func NewApp(stdout, stderr io.Writer) *App {
	return &App{stdout: stdout, stderr: stderr}
}

// Run executes the hamrah command line and returns the exit code.
func Run(args []string) int {
	app := NewApp(os.Stdout, os.Stderr)
	defer app.Close()
	return app.Run(args)
}

// Run parses args, executes the selected command and returns the exit code.
// Errors are printed to stderr.
func (a *App) Run(args []string) int {
	err := a.execute(args)
	var flagsErr *flags.Error
	switch {
	case err == nil:
	case errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp:
		fmt.Fprintln(a.stdout, flagsErr.Message)
	default:
		fmt.Fprintf(a.stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
	}
	return ExitCode(err)
}

func (a *App) execute(args []string) error {
	a.opts = &Options{}
	a.bind(a.opts)

	parser := flags.NewParser(a.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "hamrah"
	parser.LongDescription = "A persona chat client backed by the Gemini API."
	_, err := parser.ParseArgs(args)
	return err
}

// bind gives every command a handle on the app.
func (a *App) bind(o *Options) {
	o.Chat.app = a
	o.Personas.app = a
	o.Export.app = a
	o.Serve.app = a
	o.Version.app = a

	o.Config.Show.app = a
	o.Config.Init.app = a
	o.Config.Get.app = a

	ad := &o.Admin
	ad.app = a
	ad.Personas.admin = ad
	ad.Add.admin = ad
	ad.Edit.admin = ad
	ad.Rm.admin = ad
	ad.Conversations.admin = ad
	ad.Show.admin = ad
	ad.Delete.admin = ad
	ad.CSV.admin = ad
}

// loadConfig loads the config file and applies global flag overrides.
func (a *App) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.opts != nil && a.opts.ConfigFile != "" {
		cfg, err = config.LoadFromPath(a.opts.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	if o := a.opts; o != nil {
		if o.DataDir != "" {
			cfg.Storage.DataDir = config.ExpandHome(o.DataDir)
		}
		if o.Backend != "" {
			cfg.Storage.Backend = o.Backend
		}
		if o.Locale != "" {
			cfg.UI.Locale = o.Locale
		}
		if o.Debug {
			cfg.Log.Debug = true
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

// open builds the environment on first use.
func (a *App) open() (*env, error) {
	if a.env != nil {
		return a.env, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	lipgloss.SetColorProfile(ColorProfile(cfg.UI.Color))

	logger, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		Debug:      cfg.Log.Debug,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("open log file: %w", err)}
	}

	store, err := kv.Open(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	personas, err := persona.NewRegistry(store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	convs := storage.NewStore(store, logger)
	if _, err := convs.RestoreActive(); err != nil {
		logger.Warn("failed to restore active conversation", zap.Error(err))
	}
	loc := locale.Parse(cfg.UI.Locale)

	client := gateway.NewClient().
		WithBaseURL(cfg.Gateway.BaseURL).
		WithAPIVersion(cfg.Gateway.APIVersion).
		WithModel(cfg.Gateway.Model).
		WithTimeout(cfg.Gateway.Timeout()).
		WithMaxRetries(cfg.Gateway.MaxRetries).
		WithRequestsPerMinute(cfg.Gateway.RequestsPerMinute).
		WithAPIKeyEnv(cfg.Gateway.APIKeyEnv, gateway.FallbackAPIKeyEnv).
		WithLogger(logger)

	a.env = &env{
		cfg:      cfg,
		log:      logger,
		store:    store,
		personas: personas,
		convs:    convs,
		client:   client,
		svc:      chat.NewService(personas, convs, client, chat.WithLocale(loc), chat.WithLogger(logger)),
		console:  admin.NewConsole(personas, convs, logger),
		locale:   loc,
	}
	logger.Debug("environment opened",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("locale", loc.String()))
	return a.env, nil
}

// Close releases the store and flushes logs.
func (a *App) Close() {
	if a.env == nil {
		return
	}
	if a.env.store != nil {
		_ = a.env.store.Close()
	}
	if a.env.log != nil {
		_ = a.env.log.Sync()
	}
	a.env = nil
}

// =============================================================================
// VERSION
// =============================================================================

// VersionCmd prints build information.
type VersionCmd struct {
	app *App
}

// Execute implements flags.Commander.
func (c *VersionCmd) Execute(args []string) error {
	w := c.app.stdout
	fmt.Fprintln(w, TitleStyle.Render("hamrah "+Version))
	fmt.Fprintln(w, RenderKeyValue("Commit", GitCommit))
	fmt.Fprintln(w, RenderKeyValue("Built", BuildDate))
	fmt.Fprintln(w, RenderKeyValue("Go", runtime.Version()))
	fmt.Fprintln(w, RenderKeyValue("Platform", runtime.GOOS+"/"+runtime.GOARCH))
	return nil
}
