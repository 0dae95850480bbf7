// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/hamrah/internal/admin"
	"github.com/jeranaias/hamrah/internal/chat"
	"github.com/jeranaias/hamrah/internal/gateway"
	"github.com/jeranaias/hamrah/internal/kv"
	"github.com/jeranaias/hamrah/internal/locale"
	"github.com/jeranaias/hamrah/internal/model"
	"github.com/jeranaias/hamrah/internal/persona"
	"github.com/jeranaias/hamrah/internal/storage"
)

func echoCompleter() gateway.Completer {
	return gateway.CompleterFunc(func(ctx context.Context, msgs []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
		return "echo: " + msgs[len(msgs)-1].Content, nil
	})
}

func newTestServer(t *testing.T, completer gateway.Completer, opts ...Option) (*Server, *storage.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	personas, err := persona.NewRegistry(store, nil)
	require.NoError(t, err)
	convs := storage.NewStore(store, nil)
	svc := chat.NewService(personas, convs, completer, chat.WithLocale(locale.Default().In(time.UTC)))
	console := admin.NewConsole(personas, convs, nil)
	return New(svc, console, opts...), convs
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// CHAT ROUTES
// =============================================================================

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	rec := do(t, srv.Handler(), "GET", "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, "fa-IR", health.Locale)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestPersonas_ListsDefaults(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	rec := do(t, srv.Handler(), "GET", "/api/personas", "")

	require.Equal(t, http.StatusOK, rec.Code)
	personas := decode[[]model.Persona](t, rec)
	require.Len(t, personas, 3)
	assert.Equal(t, "char_aria", personas[0].ID)
}

func TestConversationFlow(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()

	rec := do(t, h, "GET", "/api/conversation", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "POST", "/api/personas/char_nima/select", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[ConversationResponse](t, rec)
	assert.Equal(t, "char_nima", created.Conversation.PersonaID)
	assert.Equal(t, "idle", created.State)
	assert.Empty(t, created.Conversation.Messages)

	rec = do(t, h, "POST", "/api/conversation/messages", `{"text":"  سلام  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[ConversationResponse](t, rec)
	require.Len(t, after.Conversation.Messages, 2)
	assert.Equal(t, "سلام", after.Conversation.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, after.Conversation.Messages[1].Role)
	assert.Equal(t, "echo: سلام", after.Conversation.Messages[1].Content)
	assert.Equal(t, "idle", after.State)

	rec = do(t, h, "GET", "/api/conversation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[ConversationResponse](t, rec)
	assert.Equal(t, created.Conversation.ID, active.Conversation.ID)
}

func TestSelectPersona_Unknown(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	rec := do(t, srv.Handler(), "POST", "/api/personas/char_nobody/select", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessage_Rejections(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()

	rec := do(t, h, "POST", "/api/conversation/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no active conversation")

	do(t, h, "POST", "/api/personas/char_aria/select", "")

	rec = do(t, h, "POST", "/api/conversation/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/conversation/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/conversation/messages", `{"text":"hi","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_PendingReplyConflicts(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	completer := gateway.CompleterFunc(func(ctx context.Context, msgs []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
		close(entered)
		<-release
		return "done", nil
	})
	srv, _ := newTestServer(t, completer)
	h := srv.Handler()
	do(t, h, "POST", "/api/personas/char_aria/select", "")

	first := make(chan int, 1)
	go func() {
		first <- do(t, h, "POST", "/api/conversation/messages", `{"text":"one"}`).Code
	}()
	<-entered

	rec := do(t, h, "POST", "/api/conversation/messages", `{"text":"two"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "GET", "/api/conversation", "")
	assert.Equal(t, "awaiting_response", decode[ConversationResponse](t, rec).State)

	close(release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestSendMessage_ClientDisconnectDoesNotCancelReply(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	completer := gateway.CompleterFunc(func(ctx context.Context, msgs []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
		close(entered)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "real reply", nil
		}
	})
	srv, convs := newTestServer(t, completer)
	h := srv.Handler()
	do(t, h, "POST", "/api/personas/char_aria/select", "")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/conversation/messages", strings.NewReader(`{"text":"hello"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()

	<-entered
	cancel()
	close(release)
	<-done

	conv, ok := convs.Active()
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "real reply", conv.Messages[1].Content)
}

func TestSendMessage_GatewayFailureBecomesApology(t *testing.T) {
	completer := gateway.CompleterFunc(func(ctx context.Context, msgs []model.Message, instruction string, policy model.SafetyPolicy) (string, error) {
		return "", errors.New("upstream down")
	})
	srv, _ := newTestServer(t, completer)
	h := srv.Handler()
	do(t, h, "POST", "/api/personas/char_aria/select", "")

	rec := do(t, h, "POST", "/api/conversation/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[ConversationResponse](t, rec).Conversation
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, locale.Default().Apology(), conv.Messages[1].Content)
}

func TestSafety(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()

	rec := do(t, h, "PUT", "/api/conversation/safety", `{"policy":"relaxed"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, "POST", "/api/personas/char_aria/select", "")

	rec = do(t, h, "PUT", "/api/conversation/safety", `{"policy":"strict"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "PUT", "/api/conversation/safety", `{"policy":"unfiltered"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.SafetyUnfiltered, decode[ConversationResponse](t, rec).Conversation.SafetyPolicy)
}

func TestExport(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()

	rec := do(t, h, "GET", "/api/conversation/export?format=txt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "POST", "/api/personas/char_aria/select", "")
	id := decode[ConversationResponse](t, rec).Conversation.ID
	do(t, h, "POST", "/api/conversation/messages", `{"text":"hi"}`)

	rec = do(t, h, "GET", "/api/conversation/export?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "conversation-"+id+".json")
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Len(t, conv.Messages, 2)

	rec = do(t, h, "GET", "/api/conversation/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".txt")

	rec = do(t, h, "GET", "/api/conversation/export?format=csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/api/conversation/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN ROUTES
// =============================================================================

func TestAdmin_RequiresPassword(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()

	rec := do(t, h, "GET", "/api/admin/personas", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "GET", "/api/admin/personas", "", AdminPasswordHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "GET", "/api/admin/personas", "", AdminPasswordHeader, admin.Password)
	assert.Equal(t, http.StatusOK, rec.Code)

	// An earlier success does not open the routes for later callers.
	rec = do(t, h, "GET", "/api/admin/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_PersonaCRUD(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter())
	h := srv.Handler()
	auth := []string{AdminPasswordHeader, admin.Password}

	rec := do(t, h, "POST", "/api/admin/personas", `{"name":"","behaviorInstruction":""}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/admin/personas", `{"name":"Dara","behaviorInstruction":"Be brief."}`, auth...)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Persona](t, rec)
	assert.Equal(t, model.DefaultDraftAge, created.Age)
	assert.NotEmpty(t, created.ID)

	rec = do(t, h, "PUT", "/api/admin/personas/"+created.ID, `{"name":"Dara","age":40,"behaviorInstruction":"Be kind."}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, decode[model.Persona](t, rec).Age)

	rec = do(t, h, "PUT", "/api/admin/personas/char_missing", `{"name":"X","age":1,"behaviorInstruction":"Y"}`, auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "DELETE", "/api/admin/personas/"+created.ID, "", auth...)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, "GET", "/api/personas", "")
	assert.Len(t, decode[[]model.Persona](t, rec), 3)
}

func TestAdmin_Conversations(t *testing.T) {
	srv, convs := newTestServer(t, echoCompleter())
	h := srv.Handler()
	auth := []string{AdminPasswordHeader, admin.Password}

	rec := do(t, h, "POST", "/api/personas/char_aria/select", "")
	id := decode[ConversationResponse](t, rec).Conversation.ID
	do(t, h, "POST", "/api/conversation/messages", `{"text":"hi, \"friend\""}`)

	rec = do(t, h, "GET", "/api/admin/conversations", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Conversation](t, rec), 1)

	rec = do(t, h, "GET", "/api/admin/conversations/"+id, "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[model.Conversation](t, rec).ID)

	rec = do(t, h, "GET", "/api/admin/conversations/conv_missing", "", auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "GET", "/api/admin/export.csv", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "conversationId,messageId,timestamp,role,content\n"), body)
	assert.Contains(t, body, `"hi, ""friend"""`)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "conversations_export.csv")

	rec = do(t, h, "DELETE", "/api/admin/conversations/"+id, "", auth...)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, convs.List())

	rec = do(t, h, "GET", "/api/conversation", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, echoCompleter(), WithRateLimit(0.001, 2))
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "").Code)

	rec := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_DisabledAllowsAll(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(RecoveryMiddleware(zapNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, "GET", "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, decode[ErrorResponse](t, rec).Error.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	do(t, h, "GET", "/", "")
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func zapNop() *zap.Logger { return zap.NewNop() }
