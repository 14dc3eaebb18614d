// Package toolcall assembles fragmented tool-call arguments into complete,
// parseable invocations.
//
// Providers stream tool-call arguments as partial JSON slices that only parse
// once concatenated. Some providers additionally emit an authoritative
// requires-action event carrying the full argument string; when present it
// supersedes the fragment concatenation for that call.
package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"goa.design/clue/log"
)

var (
	// ErrUnparseable reports that tool calls were observed but none produced
	// a valid argument document by end of stream. The condition is non-fatal:
	// callers fall back to the plain text answer.
	ErrUnparseable = errors.New("tool call arguments never became parseable")
)

type (
	// Invocation is a resolved tool call ready for dispatch.
	Invocation struct {
		// CallID is the provider's identifier for the call.
		CallID string
		// Name is the tool's function name when the provider supplied one.
		Name string
		// Arguments is the complete argument document.
		Arguments json.RawMessage
		// Query is the search query extracted from Arguments. May be empty
		// when the arguments parse but carry no usable query.
		Query string
	}

	// Accumulator tracks pending tool calls for one turn's stream, keyed by
	// call ID so interleaved calls cannot cross-talk. It is driven from a
	// single goroutine and is not safe for concurrent use.
	Accumulator struct {
		calls map[string]*pending
		order []string
	}

	pending struct {
		name          string
		fragments     strings.Builder
		authoritative string
		complete      bool
	}
)

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[string]*pending)}
}

// AddFragment appends a partial argument chunk to the call's buffer, creating
// the pending call on first sight.
func (a *Accumulator) AddFragment(callID, chunk string) {
	if callID == "" || chunk == "" {
		return
	}
	a.call(callID).fragments.WriteString(chunk)
}

// SetAuthoritative records the provider's complete argument string for the
// call. It replaces, not extends, any fragment concatenation and marks the
// call complete.
func (a *Accumulator) SetAuthoritative(callID, name, arguments string) {
	if callID == "" {
		return
	}
	p := a.call(callID)
	p.name = name
	p.authoritative = arguments
	p.complete = true
}

// Empty reports whether no tool call was observed on the stream.
func (a *Accumulator) Empty() bool {
	return len(a.order) == 0
}

// Resolve is called at end of stream and returns the first call, in
// observation order, whose arguments form a valid invocation. Calls completed
// by an authoritative event need only parse as a JSON object; calls built
// from fragments alone must additionally carry the query field that marks a
// well-formed invocation. Returns (nil, nil) when no call was observed and
// ErrUnparseable when calls were observed but none resolved.
func (a *Accumulator) Resolve(ctx context.Context) (*Invocation, error) {
	if a.Empty() {
		return nil, nil
	}
	for _, id := range a.order {
		p := a.calls[id]
		raw := p.authoritative
		if !p.complete {
			raw = p.fragments.String()
		}
		query, ok := parseArguments(raw, p.complete)
		if !ok {
			log.Debugf(ctx, "tool call %s: arguments not parseable at end of stream", id)
			continue
		}
		return &Invocation{
			CallID:    id,
			Name:      p.name,
			Arguments: json.RawMessage(raw),
			Query:     query,
		}, nil
	}
	return nil, ErrUnparseable
}

func (a *Accumulator) call(id string) *pending {
	p, ok := a.calls[id]
	if !ok {
		p = &pending{}
		a.calls[id] = p
		a.order = append(a.order, id)
	}
	return p
}

// parseArguments validates the argument document and extracts the query
// field. authoritative arguments are trusted to be complete even without a
// query; fragment concatenations are only accepted once they form an object
// with one.
func parseArguments(raw string, authoritative bool) (string, bool) {
	var args struct {
		Query *string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", false
	}
	if args.Query == nil {
		return "", authoritative
	}
	return strings.TrimSpace(*args.Query), true
}
