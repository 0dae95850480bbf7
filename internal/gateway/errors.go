// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"fmt"
)

// ErrBlocked indicates the service refused the prompt or withheld the answer
// under its safety settings. It is always wrapped in an UpstreamError.
var ErrBlocked = errors.New("response blocked by safety settings")

// errEmptyResponse indicates a 200 response without any text.
var errEmptyResponse = errors.New("empty response")

// ConfigurationError reports a missing API credential. It is returned before
// any network attempt.
type ConfigurationError struct {
	// Env lists the environment variables that were checked.
	Env []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("gateway: API credential not set (checked %v)", e.Env)
}

// UpstreamError wraps every failure that happens once a request is attempted:
// transport errors, non-200 statuses, blocked and empty responses.
type UpstreamError struct {
	// Status is the HTTP status, or 0 when no response was received.
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("gateway: upstream error (HTTP %d): %s", e.Status, msg)
	}
	return "gateway: upstream error: " + msg
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// retryable reports whether the request may succeed if sent again.
func (e *UpstreamError) retryable() bool {
	return e.Status == 429 || (e.Status >= 500 && e.Status < 600)
}
