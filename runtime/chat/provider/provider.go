// Package provider defines the generation provider boundary.
//
// The pipeline treats the provider as an opaque source of a framed event
// stream plus an imperative control API. Adapters under features/provider
// bridge concrete vendors (OpenAI Assistants, Anthropic Messages) onto this
// contract.
package provider

import (
	"context"
	"io"
)

// Client is the generation provider consumed by the streaming pipeline.
type Client interface {
	// CreateConversation allocates a new provider-side conversation and
	// returns its identifier.
	CreateConversation(ctx context.Context) (string, error)
	// CreateMessage adds a message to the conversation ahead of a run.
	CreateMessage(ctx context.Context, conversationID, role, text string) error
	// StreamRun starts a generation run for the conversation and returns its
	// event stream as newline-delimited JSON records. The caller owns the
	// returned reader and must close it.
	StreamRun(ctx context.Context, conversationID string) (io.ReadCloser, error)
	// CancelRun requests termination of an in-flight run. Best-effort:
	// callers log failures and never depend on cancellation for
	// correctness.
	CancelRun(ctx context.Context, conversationID, runID string) error
}
