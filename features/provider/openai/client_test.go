package openai

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	_, err := New(Options{AssistantID: "asst_1"})
	require.EqualError(t, err, "api key is required")

	_, err = New(Options{APIKey: "sk-test"})
	require.EqualError(t, err, "assistant id is required")
}

func TestBridgeSSE(t *testing.T) {
	feed := strings.Join([]string{
		"event: thread.run.created",
		`data: {"id":"run_1","status":"queued"}`,
		"",
		": keep-alive",
		"event: thread.message.delta",
		`data: {"delta":{"content":[{"type":"text","text":{"value":"Hel"}}]}}`,
		"",
		"event: done",
		"data: [DONE]",
		"",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, bridgeSSE(strings.NewReader(feed), &out))

	want := `{"event":"thread.run.created","data":{"id":"run_1","status":"queued"}}` + "\n" +
		`{"event":"thread.message.delta","data":{"delta":{"content":[{"type":"text","text":{"value":"Hel"}}]}}}` + "\n"
	require.Equal(t, want, out.String())
}

func TestBridgeSSETrailingMessageWithoutBlankLine(t *testing.T) {
	feed := "event: thread.run.completed\n" +
		`data: {"id":"run_1","status":"completed"}`

	var out bytes.Buffer
	require.NoError(t, bridgeSSE(strings.NewReader(feed), &out))
	require.Equal(t, `{"event":"thread.run.completed","data":{"id":"run_1","status":"completed"}}`+"\n", out.String())
}

func TestBridgeSSERejectsInvalidPayload(t *testing.T) {
	feed := "event: thread.run.created\ndata: {not json\n\n"
	var out bytes.Buffer
	err := bridgeSSE(strings.NewReader(feed), &out)
	require.ErrorContains(t, err, "invalid event payload")
}

func TestCreateConversationAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			io.WriteString(w, `{"id":"thread_123","object":"thread"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_123/messages":
			body, _ := io.ReadAll(r.Body)
			require.Contains(t, string(body), "hello")
			io.WriteString(w, `{"id":"msg_1","object":"thread.message"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "sk-test", AssistantID: "asst_1", BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := c.CreateConversation(context.Background())
	require.NoError(t, err)
	require.Equal(t, "thread_123", id)

	require.NoError(t, c.CreateMessage(context.Background(), "thread_123", "user", "hello"))
}

func TestStreamRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/threads/thread_123/runs", r.URL.Path)
		require.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"stream":true`)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: thread.run.created\n")
		io.WriteString(w, `data: {"id":"run_1","status":"queued"}`+"\n\n")
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "sk-test", AssistantID: "asst_1", BaseURL: srv.URL})
	require.NoError(t, err)

	stream, err := c.StreamRun(context.Background(), "thread_123")
	require.NoError(t, err)
	defer stream.Close()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, `{"event":"thread.run.created","data":{"id":"run_1","status":"queued"}}`+"\n", string(got))
}

func TestStreamRunNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c, err := New(Options{APIKey: "sk-test", AssistantID: "asst_1", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.StreamRun(context.Background(), "thread_123")
	require.ErrorContains(t, err, "status 429")
	require.ErrorContains(t, err, "rate limited")
}
