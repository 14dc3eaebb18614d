// Package openai adapts the OpenAI Assistants API to the generation
// provider contract.
//
// Conversation and message management plus run cancellation go through the
// regular REST client. Run streaming uses the raw SSE endpoint directly and
// re-frames the feed as newline-delimited JSON records, the wire format the
// pipeline's decoder and classifier consume.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	streamTimeout  = 10 * time.Minute
)

type (
	// Options configures the provider client.
	Options struct {
		// APIKey authenticates all requests. Required.
		APIKey string
		// AssistantID identifies the assistant runs execute against.
		// Required.
		AssistantID string
		// BaseURL overrides the API endpoint, e.g. for a proxy or a test
		// server. Defaults to the public API.
		BaseURL string
		// HTTPClient is used for the streaming run request. Defaults to a
		// client with a generous stream-wide timeout.
		HTTPClient *http.Client
	}

	// Client implements provider.Client on top of the Assistants API.
	Client struct {
		api         *openai.Client
		http        *http.Client
		apiKey      string
		assistantID string
		baseURL     string
	}
)

// New builds a Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if opts.AssistantID == "" {
		return nil, errors.New("assistant id is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = baseURL
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: streamTimeout}
	}
	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		http:        httpClient,
		apiKey:      opts.APIKey,
		assistantID: opts.AssistantID,
		baseURL:     baseURL,
	}, nil
}

// CreateConversation allocates a new thread and returns its identifier.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// CreateMessage appends a message to the thread ahead of a run.
func (c *Client) CreateMessage(ctx context.Context, conversationID, role, text string) error {
	_, err := c.api.CreateMessage(ctx, conversationID, openai.MessageRequest{
		Role:    role,
		Content: text,
	})
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// StreamRun starts a streamed run on the thread and returns the event feed
// re-framed as newline-delimited JSON. The caller must close the returned
// reader; closing it aborts the underlying response.
func (c *Client) StreamRun(ctx context.Context, conversationID string) (io.ReadCloser, error) {
	body := fmt.Sprintf(`{"assistant_id":%q,"stream":true}`, c.assistantID)
	url := fmt.Sprintf("%s/threads/%s/runs", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("start run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	pr, pw := io.Pipe()
	go func() {
		err := bridgeSSE(resp.Body, pw)
		resp.Body.Close()
		pw.CloseWithError(err)
	}()
	return &pipeStream{PipeReader: pr, body: resp.Body}, nil
}

// CancelRun requests termination of an in-flight run.
func (c *Client) CancelRun(ctx context.Context, conversationID, runID string) error {
	if _, err := c.api.CancelRun(ctx, conversationID, runID); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// pipeStream closes the HTTP response along with the pipe so an early client
// disconnect releases the upstream connection.
type pipeStream struct {
	*io.PipeReader
	body io.Closer
}

func (p *pipeStream) Close() error {
	p.body.Close()
	return p.PipeReader.Close()
}
