// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/jeranaias/hamrah/internal/admin"
	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/gateway"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid arguments.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	if e.Command == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

func usageErrorf(command, format string, args ...any) error {
	return &UsageError{Command: command, Reason: fmt.Sprintf(format, args...)}
}

// ConfigError wraps a failure to load or validate configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrPasswordRequired is returned when the admin password is needed but
// cannot be prompted for.
var ErrPasswordRequired = errors.New("admin password required (use --password or run in a terminal)")

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		flagsErr  *flags.Error
		usageErr  *UsageError
		configErr *ConfigError
		credErr   *gateway.ConfigurationError
		upErr     *gateway.UpstreamError
		verrs     persona.ValidationErrors
	)
	switch {
	case errors.As(err, &flagsErr):
		if flagsErr.Type == flags.ErrHelp {
			return ExitSuccess
		}
		return ExitUsageError
	case errors.As(err, &usageErr), errors.As(err, &verrs):
		return ExitUsageError
	case errors.As(err, &configErr):
		return ExitConfigError
	case errors.Is(err, admin.ErrWrongPassword),
		errors.Is(err, admin.ErrLocked),
		errors.Is(err, ErrPasswordRequired):
		return ExitAuthError
	case errors.As(err, &credErr), errors.As(err, &upErr):
		return ExitNetworkError
	case errors.Is(err, persona.ErrNotFound),
		errors.Is(err, storage.ErrConversationNotFound),
		errors.Is(err, chat.ErrNoActiveConversation):
		return ExitNotFoundError
	}
	return ExitGeneralError
}
