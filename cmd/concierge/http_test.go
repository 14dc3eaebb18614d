package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/retailstream/concierge/runtime/chat/admission"
	"github.com/retailstream/concierge/runtime/chat/session"
	sessioninmem "github.com/retailstream/concierge/runtime/chat/session/inmem"
)

type fakeTurner struct {
	err    error
	output string
	got    struct {
		conversationID string
		content        string
	}
}

func (f *fakeTurner) Turn(_ context.Context, conversationID, content string, out io.Writer) error {
	f.got.conversationID = conversationID
	f.got.content = content
	if f.err != nil {
		return f.err
	}
	_, werr := io.WriteString(out, f.output)
	return werr
}

type fakeProvider struct {
	id  string
	err error
}

func (f *fakeProvider) CreateConversation(context.Context) (string, error) { return f.id, f.err }
func (f *fakeProvider) CreateMessage(context.Context, string, string, string) error {
	return nil
}
func (f *fakeProvider) StreamRun(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeProvider) CancelRun(context.Context, string, string) error { return nil }

func newTestHandler(t *testing.T, turn *fakeTurner, prov *fakeProvider, store session.Store) http.Handler {
	t.Helper()
	return newHandler(log.Context(context.Background(), log.WithOutput(io.Discard)), &server{
		splicer:  turn,
		provider: prov,
		sessions: store,
		origin:   "https://shop.example.com",
	}, health.NewChecker(), false)
}

func TestCreateConversation(t *testing.T) {
	store := sessioninmem.New()
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{id: "thread_1"}, store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp conversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "thread_1", resp.ConversationID)

	// The conversation is registered so history works before the first turn.
	turns, err := store.History(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestCreateConversationProviderDown(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{err: errors.New("down")}, sessioninmem.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPostMessageStreams(t *testing.T) {
	turn := &fakeTurner{output: `{"event":"final","content":"Hello"}` + "\n" + `{"event":"run.complete"}` + "\n"}
	h := newTestHandler(t, turn, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/thread_1/messages",
		strings.NewReader(`{"content":"hi"}`))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	require.Equal(t, "thread_1", turn.got.conversationID)
	require.Equal(t, "hi", turn.got.content)
	require.Contains(t, rec.Body.String(), `{"event":"run.complete"}`)
}

func TestPostMessageValidation(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, sessioninmem.New())

	for _, body := range []string{"", "{}", `{"content":""}`, "not json"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations/thread_1/messages",
			strings.NewReader(body))
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestPostMessageTurnActive(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{err: admission.ErrTurnActive}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/thread_1/messages",
		strings.NewReader(`{"content":"hi"}`))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "already being generated")
}

func TestPostMessageStartFailure(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{err: errors.New("start run: boom")}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/thread_1/messages",
		strings.NewReader(`{"content":"hi"}`))
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHistory(t *testing.T) {
	store := sessioninmem.New()
	require.NoError(t, store.Append(context.Background(), "thread_1", session.RoleUser, "hi"))
	require.NoError(t, store.Append(context.Background(), "thread_1", session.RoleAssistant, "hello"))
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/thread_1/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []session.Turn{
		{Role: session.RoleUser, Text: "hi"},
		{Role: session.RoleAssistant, Text: "hello"},
	}, resp.Messages)
}

func TestHistoryNotFound(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/missing/history", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearHistory(t *testing.T) {
	store := sessioninmem.New()
	require.NoError(t, store.Append(context.Background(), "thread_1", session.RoleUser, "hi"))
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations/thread_1/history", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	turns, err := store.History(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestClearHistoryNotFound(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/conversations/missing/history", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, &fakeTurner{}, &fakeProvider{}, sessioninmem.New())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
