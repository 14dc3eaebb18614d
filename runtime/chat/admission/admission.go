// Package admission enforces the at-most-one-active-generation-per-
// conversation invariant.
//
// A turn may only start when no other turn holds the conversation's
// admission. Conflicting turns are rejected immediately, never queued.
// Implementations must provide atomic check-and-set semantics keyed by
// conversation ID; the in-memory guard under admission/inmem covers tests
// and single-process deployments, and features/admission/redis holds the
// flag in shared infrastructure so the invariant survives restarts and
// multiple instances.
package admission

import (
	"context"
	"errors"
)

// ErrTurnActive is returned by Acquire when a generation is already in
// flight for the conversation.
var ErrTurnActive = errors.New("a turn is already active for this conversation")

// Guard grants exclusive admission to run a generation for a conversation.
type Guard interface {
	// Acquire atomically claims the conversation's admission flag. On
	// success it returns a release function that the caller must invoke
	// exactly once on every exit path, success, failure and cancellation
	// alike. Calling release more than once is a no-op. Returns
	// ErrTurnActive when the flag is already held.
	Acquire(ctx context.Context, conversationID string) (release func(context.Context) error, err error)
}
