// Package pipeline implements the streaming tool-call interception pipeline.
//
// A Splicer drives one conversational turn: it forwards the provider's raw
// byte stream to the client as it arrives while classifying a decoded copy of
// the same bytes, assembles any tool call the generator requests, resolves it
// out of band through the dispatcher once the source stream ends, splices the
// final answer into the output as explicit completion frames, and records the
// turn in session storage. The client never sees a corrupted or truncated
// transcript: the passthrough is byte-for-byte, and the output is always
// terminated exactly once regardless of upstream failures.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/retailstream/concierge/runtime/chat/admission"
	"github.com/retailstream/concierge/runtime/chat/dispatch"
	"github.com/retailstream/concierge/runtime/chat/event"
	"github.com/retailstream/concierge/runtime/chat/ndjson"
	"github.com/retailstream/concierge/runtime/chat/provider"
	"github.com/retailstream/concierge/runtime/chat/session"
	"github.com/retailstream/concierge/runtime/chat/toolcall"
)

// defaultAnswer is emitted when a turn produces neither a dispatched answer
// nor any accumulated text.
const defaultAnswer = "Sorry, I wasn't able to put together a reply this time. Please try again."

const cancelTimeout = 10 * time.Second

type (
	// Splicer orchestrates conversational turns. Construct with New; a
	// single Splicer serves concurrent turns for different conversations.
	Splicer struct {
		provider   provider.Client
		sessions   session.Store
		guard      admission.Guard
		dispatcher *dispatch.Dispatcher
		toolCalls  bool
		framing    bool
	}

	// Option configures a Splicer during construction.
	Option func(*config)

	config struct {
		provider   provider.Client
		sessions   session.Store
		guard      admission.Guard
		dispatcher *dispatch.Dispatcher
		toolCalls  bool
		framing    bool
	}

	frame struct {
		Event   string `json:"event"`
		Content string `json:"content,omitempty"`
	}
)

// WithProvider sets the generation provider. Required.
func WithProvider(p provider.Client) Option {
	return func(c *config) { c.provider = p }
}

// WithSessions sets the session store. Required.
func WithSessions(s session.Store) Option {
	return func(c *config) { c.sessions = s }
}

// WithGuard sets the admission guard. Required.
func WithGuard(g admission.Guard) Option {
	return func(c *config) { c.guard = g }
}

// WithDispatcher sets the tool dispatcher. Required unless tool-call
// handling is disabled.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(c *config) { c.dispatcher = d }
}

// WithToolCallHandling toggles interception of tool calls. When disabled the
// stream is forwarded and recorded but tool calls resolve to accumulated
// text only.
func WithToolCallHandling(enabled bool) Option {
	return func(c *config) { c.toolCalls = enabled }
}

// WithFinalFrames toggles explicit completion framing: a final-answer frame
// followed by a terminal run-complete marker. When disabled, finalization is
// a no-op over the passthrough already written.
func WithFinalFrames(enabled bool) Option {
	return func(c *config) { c.framing = enabled }
}

// New builds a Splicer from the provided options. Tool-call handling and
// final framing are enabled by default.
func New(opts ...Option) (*Splicer, error) {
	cfg := config{toolCalls: true, framing: true}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, errors.New("provider client is required")
	}
	if cfg.sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.guard == nil {
		return nil, errors.New("admission guard is required")
	}
	if cfg.toolCalls && cfg.dispatcher == nil {
		return nil, errors.New("dispatcher is required when tool call handling is enabled")
	}
	return &Splicer{
		provider:   cfg.provider,
		sessions:   cfg.sessions,
		guard:      cfg.guard,
		dispatcher: cfg.dispatcher,
		toolCalls:  cfg.toolCalls,
		framing:    cfg.framing,
	}, nil
}

// Turn runs one conversational turn, streaming the provider's output to out.
//
// Only two failures surface as errors: admission.ErrTurnActive when another
// turn holds the conversation, and a hard failure to even start the upstream
// run. Everything past that point — malformed records, dispatch failures,
// mid-stream source errors — degrades the answer but completes the turn,
// recording whatever was accumulated and terminating the output exactly
// once.
func (s *Splicer) Turn(ctx context.Context, conversationID, content string, out io.Writer) error {
	release, err := s.guard.Acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			log.Errorf(ctx, rerr, "releasing turn admission")
		}
	}()

	if err := s.provider.CreateMessage(ctx, conversationID, string(session.RoleUser), content); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	src, err := s.provider.StreamRun(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Debugf(ctx, "closing source stream: %v", cerr)
		}
	}()

	// The turn exists from here on: record the user's input exactly once.
	// Storage failures are fault-isolated, the stream still runs.
	if err := s.sessions.Append(ctx, conversationID, session.RoleUser, content); err != nil {
		log.Errorf(ctx, err, "recording user turn")
	}

	st := s.forward(ctx, src, out)
	answer := s.resolve(ctx, conversationID, st)
	s.finalize(ctx, answer, out)

	// Record the resolved assistant answer exactly once, even when the
	// client has gone away or the source failed mid-stream.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := s.sessions.Append(rctx, conversationID, session.RoleAssistant, answer); err != nil {
		log.Errorf(ctx, err, "recording assistant turn")
	}
	return nil
}

// turnState carries the semantic interpretation of the bytes forwarded so
// far: accumulated text, pending tool calls and run lifecycle observations.
type turnState struct {
	dec            *ndjson.Decoder
	acc            *toolcall.Accumulator
	text           strings.Builder
	runID          string
	terminal       bool
	requiresAction bool
	toolCalls      bool
}

// forward relays the source stream to out byte-for-byte while feeding the
// decoder and classifier from the same chunk. Each chunk is written to the
// passthrough before it is parsed, so semantic work never delays or reorders
// the bytes the client sees. A source read error terminates forwarding and
// is treated exactly like end-of-stream.
func (s *Splicer) forward(ctx context.Context, src io.Reader, out io.Writer) *turnState {
	st := &turnState{
		dec:       ndjson.NewDecoder(),
		acc:       toolcall.NewAccumulator(),
		toolCalls: s.toolCalls,
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := out.Write(chunk); werr != nil {
				// Client gone: stop forwarding but keep interpreting what
				// already arrived so the turn can still be recorded.
				log.Debugf(ctx, "client write failed, draining stream: %v", werr)
				st.ingest(ctx, chunk)
				break
			}
			flush(out)
			st.ingest(ctx, chunk)
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) {
				log.Errorf(ctx, rerr, "source stream failed, finalizing with accumulated text")
			}
			break
		}
	}
	if rec, ok := st.dec.Flush(); ok {
		st.apply(event.Classify(ctx, rec))
	}
	return st
}

func (st *turnState) ingest(ctx context.Context, chunk []byte) {
	for _, rec := range st.dec.Write(chunk) {
		st.apply(event.Classify(ctx, rec))
	}
}

func (st *turnState) apply(events []event.Event) {
	for _, ev := range events {
		switch ev.Type {
		case event.TypeTextDelta:
			st.text.WriteString(ev.Text)
		case event.TypeToolCallFragment:
			if st.toolCalls {
				st.acc.AddFragment(ev.Fragment.CallID, ev.Fragment.Arguments)
			}
		case event.TypeToolCallRequired:
			if st.toolCalls {
				st.acc.SetAuthoritative(ev.Required.CallID, ev.Required.Name, ev.Required.Arguments)
				st.requiresAction = true
			}
		case event.TypeRunCreated:
			st.runID = ev.Run.RunID
		case event.TypeRunTerminal:
			st.terminal = true
		case event.TypeUnrecognized:
			// Already forwarded raw; nothing semantic to do.
		}
	}
}

// resolve decides the turn's final answer: the dispatcher's synthesized
// answer when a tool call completed, else the accumulated text, else the
// default answer. A panic while resolving degrades to the accumulated text
// so the output is still terminated.
func (s *Splicer) resolve(ctx context.Context, conversationID string, st *turnState) (answer string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(ctx, fmt.Errorf("%v", r), "panic while resolving answer")
			answer = fallbackText(st)
		}
	}()

	if st.toolCalls && !st.acc.Empty() {
		inv, err := st.acc.Resolve(ctx)
		switch {
		case err != nil:
			log.Errorf(ctx, err, "tool call failed, falling back to accumulated text")
		case inv != nil && inv.Query != "":
			// The dispatch result supersedes the in-flight generation; ask
			// the provider to stop it. Fire-and-forget: the spliced output
			// is authoritative regardless of whether the provider honors
			// the cancellation.
			if st.requiresAction && st.runID != "" && !st.terminal {
				s.cancelRun(ctx, conversationID, st.runID)
			}
			return s.dispatcher.Dispatch(ctx, inv.Query)
		default:
			log.Debugf(ctx, "tool call resolved without a query, using accumulated text")
		}
	}
	return fallbackText(st)
}

func fallbackText(st *turnState) string {
	if text := st.text.String(); strings.TrimSpace(text) != "" {
		return text
	}
	return defaultAnswer
}

// finalize writes the completion frames: one final-answer frame tagged
// distinctly from ordinary deltas, then one terminal marker. Write failures
// are logged and the terminal marker is still attempted so the consumer
// observes exactly one end of stream.
func (s *Splicer) finalize(ctx context.Context, answer string, out io.Writer) {
	if !s.framing {
		return
	}
	if err := writeFrame(out, frame{Event: "final", Content: answer}); err != nil {
		log.Debugf(ctx, "writing final frame: %v", err)
	}
	if err := writeFrame(out, frame{Event: "run.complete"}); err != nil {
		log.Debugf(ctx, "writing terminal frame: %v", err)
	}
	flush(out)
}

func (s *Splicer) cancelRun(ctx context.Context, conversationID, runID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	go func() {
		defer cancel()
		if err := s.provider.CancelRun(cctx, conversationID, runID); err != nil {
			log.Errorf(cctx, err, "cancel run %s", runID)
		}
	}()
}

func writeFrame(out io.Writer, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}

// flush pushes buffered bytes to the client between chunks so deltas render
// live. Recognizes both http.Flusher and buffered writers.
func flush(out io.Writer) {
	switch f := out.(type) {
	case interface{ Flush() }:
		f.Flush()
	case interface{ Flush() error }:
		_ = f.Flush()
	}
}
