// Package anthropic adapts the Anthropic Claude Messages API to the
// generation provider contract.
//
// The Messages API is stateless: there are no server-side conversations or
// runs. The adapter keeps the transcript per conversation locally, mints run
// identifiers itself, and re-frames the SDK's streaming events as the
// newline-delimited JSON records the pipeline's classifier understands. Tool
// use surfaces as an authoritative requires-action record carrying the
// complete argument payload.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"
)

const defaultMaxTokens = 1024

// searchToolName is the catalog lookup tool advertised to the model.
const searchToolName = "search_catalog"

var searchToolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Free-text description of the product the shopper wants",
		},
	},
	"required": []any{"query"},
}

type (
	// MessagesClient captures the subset of the Anthropic SDK client the
	// adapter uses. It is satisfied by *sdk.MessageService so callers can
	// pass either a real client or a mock in tests.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// Messages issues streaming requests. Required.
		Messages MessagesClient
		// Model is the Claude model identifier. Required.
		Model string
		// SystemPrompt steers the assistant. Optional.
		SystemPrompt string
		// MaxTokens caps each completion. Defaults to 1024.
		MaxTokens int
	}

	// Client implements provider.Client on top of Claude Messages.
	Client struct {
		msg       MessagesClient
		model     string
		system    string
		maxTokens int

		mu          sync.Mutex
		transcripts map[string][]sdk.MessageParam
		cancels     map[string]context.CancelFunc
	}
)

// New builds a Client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Messages == nil {
		return nil, errors.New("messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		msg:         opts.Messages,
		model:       opts.Model,
		system:      opts.SystemPrompt,
		maxTokens:   maxTokens,
		transcripts: make(map[string][]sdk.MessageParam),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	opts.Messages = &ac.Messages
	return New(opts)
}

// CreateConversation allocates a local conversation transcript.
func (c *Client) CreateConversation(context.Context) (string, error) {
	id := "conv_" + uuid.NewString()
	c.mu.Lock()
	c.transcripts[id] = nil
	c.mu.Unlock()
	return id, nil
}

// CreateMessage appends a message to the conversation transcript.
func (c *Client) CreateMessage(_ context.Context, conversationID, role, text string) error {
	var msg sdk.MessageParam
	switch role {
	case "user":
		msg = sdk.NewUserMessage(sdk.NewTextBlock(text))
	case "assistant":
		msg = sdk.NewAssistantMessage(sdk.NewTextBlock(text))
	default:
		return fmt.Errorf("unsupported message role %q", role)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.transcripts[conversationID]; !ok {
		return fmt.Errorf("unknown conversation %q", conversationID)
	}
	c.transcripts[conversationID] = append(c.transcripts[conversationID], msg)
	return nil
}

// StreamRun starts a streamed completion over the conversation transcript and
// returns the event feed as newline-delimited JSON records.
func (c *Client) StreamRun(ctx context.Context, conversationID string) (io.ReadCloser, error) {
	c.mu.Lock()
	transcript, ok := c.transcripts[conversationID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown conversation %q", conversationID)
	}
	if len(transcript) == 0 {
		return nil, errors.New("conversation has no messages")
	}

	runID := "run_" + uuid.NewString()
	rctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[runID] = cancel
	c.mu.Unlock()

	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Messages:  transcript,
		Model:     sdk.Model(c.model),
		Tools: []sdk.ToolUnionParam{
			sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: searchToolSchema}, searchToolName),
		},
	}
	if c.system != "" {
		params.System = []sdk.TextBlockParam{{Text: c.system}}
	}

	stream := c.msg.NewStreaming(rctx, params)
	if err := stream.Err(); err != nil {
		c.finishRun(runID, cancel)
		return nil, fmt.Errorf("anthropic messages stream: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		text, err := c.relay(runID, stream, pw)
		stream.Close()
		c.finishRun(runID, cancel)
		if err == nil && strings.TrimSpace(text) != "" {
			// Keep the transcript coherent for the next turn.
			c.mu.Lock()
			c.transcripts[conversationID] = append(c.transcripts[conversationID],
				sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
			c.mu.Unlock()
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// CancelRun aborts an in-flight run by cancelling its stream context.
func (c *Client) CancelRun(_ context.Context, _, runID string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[runID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown run %q", runID)
	}
	cancel()
	return nil
}

func (c *Client) finishRun(runID string, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	delete(c.cancels, runID)
	c.mu.Unlock()
}

// relay converts the SDK event stream into wire records, returning the
// accumulated assistant text. A context cancellation mid-stream yields a
// cancelled terminal record instead of an error so consumers see a clean end
// of stream.
func (c *Client) relay(runID string, stream *ssestream.Stream[sdk.MessageStreamEventUnion], w io.Writer) (string, error) {
	if err := writeRecord(w, runCreatedRecord(runID)); err != nil {
		return "", err
	}

	var text strings.Builder
	tools := make(map[int]*toolBuffer)
	sawToolUse := false

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				tools[int(ev.Index)] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if err := writeRecord(w, textDeltaRecord(delta.Text)); err != nil {
					return text.String(), err
				}
			case sdk.InputJSONDelta:
				if tb := tools[int(ev.Index)]; tb != nil {
					tb.fragments.WriteString(delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			tb := tools[int(ev.Index)]
			if tb == nil {
				continue
			}
			delete(tools, int(ev.Index))
			sawToolUse = true
			args := tb.fragments.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			if err := writeRecord(w, requiresActionRecord(runID, tb.id, tb.name, args)); err != nil {
				return text.String(), err
			}
		case sdk.MessageStopEvent:
			if sawToolUse {
				// The run is parked on tool output it will never receive;
				// no terminal record, the caller resolves the tool out of
				// band and cancels.
				return text.String(), nil
			}
			return text.String(), writeRecord(w, runTerminalRecord(runID, "completed"))
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return text.String(), writeRecord(w, runTerminalRecord(runID, "cancelled"))
		}
		return text.String(), fmt.Errorf("anthropic stream: %w", err)
	}
	return text.String(), writeRecord(w, runTerminalRecord(runID, "completed"))
}

type toolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}
