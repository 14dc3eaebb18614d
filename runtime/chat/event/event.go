// Package event maps decoded stream records onto a closed set of semantic
// events.
//
// The generation provider interleaves several record shapes on one stream:
// chat-completion deltas carrying fragmented tool-call arguments, assistant
// thread events carrying message text, and run lifecycle markers. The
// classifier recognizes each shape explicitly; anything else degrades to an
// Unrecognized event so the pipeline can keep forwarding bytes it does not
// understand.
package event

type (
	// Type discriminates the event variants. Exactly one variant payload is
	// populated per event.
	Type string

	// Event is a single classified stream record. Inspect Type to decide
	// which payload field is set.
	Event struct {
		// Type selects the active variant.
		Type Type
		// Text carries the delta text for TypeTextDelta.
		Text string
		// Fragment is set for TypeToolCallFragment.
		Fragment *ToolCallFragment
		// Required is set for TypeToolCallRequired.
		Required *ToolCallRequired
		// Run is set for TypeRunCreated and TypeRunTerminal.
		Run *RunLifecycle
		// Raw preserves the original record for TypeUnrecognized.
		Raw string
	}

	// ToolCallFragment is a partial slice of a tool call's argument string.
	// Fragments for one call share a CallID and concatenate in arrival order.
	ToolCallFragment struct {
		// CallID identifies the tool call the fragment belongs to.
		CallID string
		// Arguments is the partial argument text, typically a slice of a JSON
		// document that only parses once all fragments have arrived.
		Arguments string
	}

	// ToolCallRequired is the provider's authoritative statement that a run
	// is blocked on a tool invocation. Arguments is the complete argument
	// string and supersedes any fragment concatenation for the same CallID.
	ToolCallRequired struct {
		// CallID identifies the blocked tool call.
		CallID string
		// Name is the tool's function name.
		Name string
		// Arguments is the full argument JSON document.
		Arguments string
	}

	// RunLifecycle reports a run transitioning lifecycle states.
	RunLifecycle struct {
		// RunID identifies the provider run.
		RunID string
		// Status is the lifecycle state, e.g. "created" or "completed".
		Status string
	}
)

const (
	// TypeTextDelta is an increment of assistant message text.
	TypeTextDelta Type = "text_delta"
	// TypeToolCallFragment is a partial tool-call argument chunk.
	TypeToolCallFragment Type = "tool_call_fragment"
	// TypeToolCallRequired is a complete, authoritative tool invocation.
	TypeToolCallRequired Type = "tool_call_required"
	// TypeRunCreated marks the start of a provider run.
	TypeRunCreated Type = "run_created"
	// TypeRunTerminal marks a run reaching a terminal state.
	TypeRunTerminal Type = "run_terminal"
	// TypeUnrecognized is any record matching no known shape. It carries no
	// semantics but its bytes are still forwarded to the client.
	TypeUnrecognized Type = "unrecognized"
)
