// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/jeranaias/hamrah/internal/model"
)

const okBody = `{"candidates":[{"content":{"role":"model","parts":[{"text":"سلام! "},{"text":"چطور می‌توانم کمک کنم؟"}]},"finishReason":"STOP"}]}`

const generatePath = "/v1beta/models/gemini-2.5-flash:generateContent"

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testLog() []model.Message {
	return []model.Message{
		model.NewMessage(model.RoleSystem, "ignored", t0),
		model.NewMessage(model.RoleUser, "سلام", t0),
		model.NewMessage(model.RoleAssistant, "Hello", t0),
		model.NewMessage(model.RoleUser, "How are you?", t0),
	}
}

// wireRequest is the subset of the generateContent body the tests inspect.
type wireRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	SafetySettings []struct {
		Category  string `json:"category"`
		Threshold string `json:"threshold"`
	} `json:"safetySettings"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
		TopP        float64 `json:"topP"`
	} `json:"generationConfig"`
}

// newTestClient points a client at a fake endpoint with retries that do not sleep.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	t.Setenv(DefaultAPIKeyEnv, "test-key")

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient().WithBaseURL(server.URL).WithRequestsPerMinute(0)
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": status, "message": message, "status": http.StatusText(status)},
	})
	_, _ = w.Write(body)
}

// =============================================================================
// REQUEST TRANSLATION TESTS
// =============================================================================

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(testLog(), "friendly tutor", model.SafetyDefault)

	require.Len(t, req.Contents, 3, "system messages are dropped")
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "سلام", req.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", req.Contents[1].Role)
	assert.Equal(t, "user", req.Contents[2].Role)

	require.NotNil(t, req.Config)
	require.NotNil(t, req.Config.SystemInstruction)
	assert.Equal(t, "friendly tutor", req.Config.SystemInstruction.Parts[0].Text)

	require.NotNil(t, req.Config.Temperature)
	assert.Equal(t, float32(1.0), *req.Config.Temperature)
	require.NotNil(t, req.Config.TopP)
	assert.Equal(t, float32(0.9), *req.Config.TopP)

	require.Len(t, req.Config.SafetySettings, 4)
	for _, s := range req.Config.SafetySettings {
		assert.Equal(t, genai.HarmBlockThresholdBlockMediumAndAbove, s.Threshold)
	}
}

func TestBuildRequest_EmptyInstructionOmitted(t *testing.T) {
	req := BuildRequest(nil, "", model.SafetyDefault)
	assert.Nil(t, req.Config.SystemInstruction)
	assert.NotNil(t, req.Contents)
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		policy model.SafetyPolicy
		want   genai.HarmBlockThreshold
	}{
		{model.SafetyDefault, genai.HarmBlockThresholdBlockMediumAndAbove},
		{model.SafetyRelaxed, genai.HarmBlockThresholdBlockOnlyHigh},
		{model.SafetyUnfiltered, genai.HarmBlockThresholdBlockNone},
		{"bogus", genai.HarmBlockThresholdBlockMediumAndAbove},
		{"", genai.HarmBlockThresholdBlockMediumAndAbove},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Threshold(tt.policy), "policy %q", tt.policy)
	}
}

func TestSafetySettings_Categories(t *testing.T) {
	settings := SafetySettings(model.SafetyUnfiltered)
	var cats []genai.HarmCategory
	for _, s := range settings {
		cats = append(cats, s.Category)
		assert.Equal(t, genai.HarmBlockThresholdBlockNone, s.Threshold)
	}
	assert.Equal(t, HarmCategories, cats)
}

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestComplete_Success(t *testing.T) {
	var got wireRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, generatePath), "path %q", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"), "key must not be in the URL")

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	})

	text, err := c.Complete(context.Background(), testLog(), "friendly tutor", model.SafetyRelaxed)
	require.NoError(t, err)
	assert.Equal(t, "سلام! چطور می‌توانم کمک کنم؟", text)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
	require.Len(t, got.SafetySettings, 4)
	assert.Equal(t, "HARM_CATEGORY_HARASSMENT", got.SafetySettings[0].Category)
	assert.Equal(t, "BLOCK_ONLY_HIGH", got.SafetySettings[0].Threshold)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "friendly tutor", got.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.9, got.GenerationConfig.TopP, 0.001)
}

func TestComplete_MissingKeyFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	t.Setenv(DefaultAPIKeyEnv, "")
	t.Setenv(FallbackAPIKeyEnv, "")

	_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{DefaultAPIKeyEnv, FallbackAPIKeyEnv}, cfgErr.Env)
	assert.Zero(t, calls.Load())
	assert.False(t, c.IsConfigured())
}

func TestComplete_FallbackKeyEnv(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fallback-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	})
	t.Setenv(DefaultAPIKeyEnv, "")
	t.Setenv(FallbackAPIKeyEnv, "fallback-key")

	_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)
	require.NoError(t, err)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeAPIError(w, http.StatusServiceUnavailable, "overloaded")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	})

	text, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_RetriesExhaustedIsUpstreamError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusTooManyRequests, "quota exceeded")
	})
	c.WithMaxRetries(2)

	_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)

	upErr, ok := err.(*UpstreamError)
	require.True(t, ok, "want *UpstreamError at the top level, got %T", err)
	assert.Equal(t, http.StatusTooManyRequests, upErr.Status)
	assert.Equal(t, "max retries exceeded", upErr.Message)

	var cause *UpstreamError
	require.ErrorAs(t, upErr.Unwrap(), &cause)
	assert.Equal(t, "quota exceeded", cause.Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadRequest, "API key not valid")
	})

	_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.Status)
	assert.Equal(t, "API key not valid", upErr.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotContains(t, err.Error(), "test-key")
}

func TestComplete_Blocked(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"prompt feedback", `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`},
		{"finish reason", `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)
			assert.ErrorIs(t, err, ErrBlocked)

			var upErr *UpstreamError
			assert.ErrorAs(t, err, &upErr)
		})
	}
}

func TestComplete_EmptyAndMalformedResponses(t *testing.T) {
	for _, body := range []string{`{"candidates":[]}`, `not json`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})

		_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)
		var upErr *UpstreamError
		assert.ErrorAs(t, err, &upErr, "body %q", body)
	}
}

func TestComplete_TransportFailureIsUpstreamError(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "test-key")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	c := NewClient().WithBaseURL(base).WithMaxRetries(1).WithRequestsPerMinute(0)
	_, err := c.Complete(context.Background(), testLog(), "x", model.SafetyDefault)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Zero(t, upErr.Status)
	assert.NotNil(t, errors.Unwrap(upErr))
}

func TestComplete_CanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Complete(ctx, testLog(), "x", model.SafetyDefault)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompleterFunc(t *testing.T) {
	var f Completer = CompleterFunc(func(ctx context.Context, msgs []model.Message, instruction string, p model.SafetyPolicy) (string, error) {
		return instruction + ":" + string(p), nil
	})
	out, err := f.Complete(context.Background(), nil, "tutor", model.SafetyRelaxed)
	require.NoError(t, err)
	assert.Equal(t, "tutor:relaxed", out)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, time.Second, calculateBackoff(1))
	assert.Equal(t, 2*time.Second, calculateBackoff(2))
	assert.Equal(t, retryMaxDelay, calculateBackoff(10))
}
