// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway adapts a conversation to the hosted Gemini completion API.
//
// The gateway is the only network boundary in hamrah. It turns a message log,
// a behavior instruction and a safety policy into one generateContent call and
// returns the reply text. Every failure comes back as either a
// ConfigurationError (no credential) or an UpstreamError; callers are expected
// to degrade both to a fixed apology rather than show the error.
//
// GATEWAY: Retry with backoff and outbound rate limiting
package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/jeranaias/hamrah/internal/logging"
	"github.com/jeranaias/hamrah/internal/model"
)

// Configuration constants for the Gemini API.
const (
	// DefaultBaseURL is the base URL of the Generative Language API.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/"

	// DefaultAPIVersion is the API version segment placed after the base URL.
	DefaultAPIVersion = "v1beta"

	// DefaultModel is the model used for every conversation.
	DefaultModel = "gemini-2.5-flash"

	// DefaultAPIKeyEnv is the environment variable holding the API key.
	DefaultAPIKeyEnv = "API_KEY"

	// FallbackAPIKeyEnv is consulted when DefaultAPIKeyEnv is empty.
	FallbackAPIKeyEnv = "GEMINI_API_KEY"

	DefaultTimeout           = 60 * time.Second
	DefaultMaxRetries        = 3
	DefaultRequestsPerMinute = 60

	// Sampling parameters are fixed for every persona.
	Temperature float32 = 1.0
	TopP        float32 = 0.9

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// Completer produces the assistant's next turn.
type Completer interface {
	Complete(ctx context.Context, messages []model.Message, instruction string, policy model.SafetyPolicy) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []model.Message, instruction string, policy model.SafetyPolicy) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
	return f(ctx, messages, instruction, policy)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the generateContent endpoint.
type Client struct {
	baseURL    string
	apiVersion string
	model      string
	keyEnvs    []string
	httpClient *http.Client
	maxRetries int
	limiter    *rate.Limiter
	log        *zap.Logger
	backoff    func(attempt int) time.Duration
}

// NewClient creates a client with default settings. The API key is read from
// the environment on every call, never stored.
func NewClient() *Client {
	return &Client{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		model:      DefaultModel,
		keyEnvs:    []string{DefaultAPIKeyEnv, FallbackAPIKeyEnv},
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		limiter:    perMinute(DefaultRequestsPerMinute),
		log:        logging.Nop(),
		backoff:    calculateBackoff,
	}
}

// WithBaseURL sets the API base URL.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// WithAPIVersion sets the API version, e.g. "v1beta".
func (c *Client) WithAPIVersion(v string) *Client {
	if v != "" {
		c.apiVersion = v
	}
	return c
}

// WithModel sets the model name.
func (c *Client) WithModel(m string) *Client {
	c.model = m
	return c
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient = &http.Client{Timeout: timeout}
	return c
}

// WithMaxRetries sets the maximum number of attempts.
func (c *Client) WithMaxRetries(n int) *Client {
	if n < 1 {
		n = 1
	}
	c.maxRetries = n
	return c
}

// WithRequestsPerMinute limits outbound calls. Zero or less disables the limit.
func (c *Client) WithRequestsPerMinute(n int) *Client {
	c.limiter = perMinute(n)
	return c
}

// WithAPIKeyEnv sets the environment variables searched for the API key, in
// order.
func (c *Client) WithAPIKeyEnv(names ...string) *Client {
	if len(names) > 0 {
		c.keyEnvs = names
	}
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.log = logging.OrNop(l)
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured reports whether an API key is present in the environment.
func (c *Client) IsConfigured() bool {
	_, err := c.apiKey()
	return err == nil
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
}

func (c *Client) apiKey() (string, error) {
	for _, name := range c.keyEnvs {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key, nil
		}
	}
	return "", &ConfigurationError{Env: c.keyEnvs}
}

// =============================================================================
// COMPLETION
// =============================================================================

// Request is one generateContent call: the conversation turns and the
// per-call configuration.
type Request struct {
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// Complete sends the message log and returns the reply text.
//
// System-role messages are dropped; the instruction travels in the dedicated
// system instruction field. The credential check happens before any network
// attempt.
func (c *Client) Complete(ctx context.Context, messages []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
	key, err := c.apiKey()
	if err != nil {
		return "", err
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    c.baseURL,
			APIVersion: c.apiVersion,
		},
	})
	if err != nil {
		return "", &UpstreamError{Message: "create client", Err: err}
	}

	req := BuildRequest(messages, instruction, policy)

	var lastErr *UpstreamError
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &UpstreamError{Err: ctx.Err()}
			case <-time.After(c.backoff(attempt)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", &UpstreamError{Err: err}
		}

		text, err := c.generate(ctx, api, req)
		if err == nil {
			return text, nil
		}
		if !err.retryable() {
			return "", err
		}
		lastErr = err
	}

	return "", &UpstreamError{Status: lastErr.Status, Message: "max retries exceeded", Err: lastErr}
}

// BuildRequest translates a conversation into a generateContent request.
func BuildRequest(messages []model.Message, instruction string, policy model.SafetyPolicy) Request {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  wireRole(m.Role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(Temperature),
		TopP:           genai.Ptr(TopP),
		SafetySettings: SafetySettings(policy),
	}
	if instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}
	return Request{Contents: contents, Config: cfg}
}

func wireRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "model"
	}
	return "user"
}

// generate performs one attempt and classifies its failure.
func (c *Client) generate(ctx context.Context, api *genai.Client, req Request) (string, *UpstreamError) {
	start := time.Now()
	resp, err := api.Models.GenerateContent(ctx, c.model, req.Contents, req.Config)
	if err != nil {
		upErr := upstreamError(err)
		c.log.Warn("gemini request failed",
			zap.String("model", c.model),
			zap.Int("status", upErr.Status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", upErr
	}

	c.log.Debug("gemini response",
		zap.String("model", c.model),
		zap.Duration("duration", time.Since(start)))

	return replyText(resp)
}

// upstreamError converts an SDK error into an UpstreamError, keeping the
// HTTP status the service reported.
func upstreamError(err error) *UpstreamError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &UpstreamError{Status: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return &UpstreamError{Err: err}
}

// replyText extracts the answer, treating safety blocks and empty candidates
// as failures.
func replyText(resp *genai.GenerateContentResponse) (string, *UpstreamError) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &UpstreamError{
			Status:  http.StatusOK,
			Message: "prompt blocked: " + string(resp.PromptFeedback.BlockReason),
			Err:     ErrBlocked,
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", &UpstreamError{Status: http.StatusOK, Message: "candidate blocked: SAFETY", Err: ErrBlocked}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &UpstreamError{Status: http.StatusOK, Err: errEmptyResponse}
	}
	return text, nil
}

// calculateBackoff returns the delay before the given attempt: 1s, 2s, 4s...
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
