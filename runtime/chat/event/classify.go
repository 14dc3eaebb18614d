package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/clue/log"
)

// Record shape tags understood by the classifier. Terminal run states carry
// the state as the suffix of the event tag.
const (
	eventRunCreated        = "thread.run.created"
	eventRunRequiresAction = "thread.run.requires_action"
	eventMessageDelta      = "thread.message.delta"
	eventMessageCompleted  = "thread.message.completed"
	runEventPrefix         = "thread.run."
)

var terminalRunStates = map[string]struct{}{
	"completed": {},
	"failed":    {},
	"cancelled": {},
	"expired":   {},
}

type (
	envelope struct {
		Event   string          `json:"event"`
		Data    json.RawMessage `json:"data"`
		Choices []choice        `json:"choices"`
	}

	choice struct {
		Delta struct {
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
	}

	chatToolCall struct {
		Index    *int   `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}

	runData struct {
		ID             string `json:"id"`
		RequiredAction struct {
			SubmitToolOutputs struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}

	messageDeltaData struct {
		Delta struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}

	messageCompletedData struct {
		Content json.RawMessage `json:"content"`
	}
)

// Classify parses one decoded record and returns its semantic events in shape
// priority order. A record may match several shapes; every match is emitted.
// Malformed records are expected noise: they are logged at debug level and
// degrade to a single Unrecognized event, never an error.
func Classify(ctx context.Context, record string) []Event {
	var env envelope
	if err := json.Unmarshal([]byte(record), &env); err != nil {
		log.Debugf(ctx, "skipping unparseable stream record: %v", err)
		return []Event{{Type: TypeUnrecognized, Raw: record}}
	}

	var events []Event
	events = append(events, classifyChatToolCalls(env)...)
	events = append(events, classifyRunLifecycle(ctx, env)...)
	events = append(events, classifyMessageDelta(ctx, env)...)
	events = append(events, classifyMessageCompleted(env)...)

	if len(events) == 0 {
		return []Event{{Type: TypeUnrecognized, Raw: record}}
	}
	return events
}

// classifyChatToolCalls extracts fragmented tool-call arguments from
// chat-completion style records (choices[0].delta.tool_calls).
func classifyChatToolCalls(env envelope) []Event {
	var events []Event
	for _, ch := range env.Choices {
		for _, tc := range ch.Delta.ToolCalls {
			if tc.Function.Arguments == "" {
				continue
			}
			id := tc.ID
			if id == "" && tc.Index != nil {
				id = fmt.Sprintf("index-%d", *tc.Index)
			}
			if id == "" {
				continue
			}
			events = append(events, Event{
				Type:     TypeToolCallFragment,
				Fragment: &ToolCallFragment{CallID: id, Arguments: tc.Function.Arguments},
			})
		}
	}
	return events
}

func classifyRunLifecycle(ctx context.Context, env envelope) []Event {
	if !strings.HasPrefix(env.Event, runEventPrefix) {
		return nil
	}
	var data runData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Debugf(ctx, "skipping malformed run event %q: %v", env.Event, err)
		return nil
	}
	switch {
	case env.Event == eventRunCreated:
		if data.ID == "" {
			return nil
		}
		return []Event{{Type: TypeRunCreated, Run: &RunLifecycle{RunID: data.ID, Status: "created"}}}
	case env.Event == eventRunRequiresAction:
		var events []Event
		for _, tc := range data.RequiredAction.SubmitToolOutputs.ToolCalls {
			if tc.ID == "" {
				continue
			}
			events = append(events, Event{
				Type: TypeToolCallRequired,
				Required: &ToolCallRequired{
					CallID:    tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		return events
	default:
		status := strings.TrimPrefix(env.Event, runEventPrefix)
		if _, ok := terminalRunStates[status]; !ok || data.ID == "" {
			return nil
		}
		return []Event{{Type: TypeRunTerminal, Run: &RunLifecycle{RunID: data.ID, Status: status}}}
	}
}

// classifyMessageDelta concatenates the text values of every "text" content
// entry in a message delta record into a single TextDelta event.
func classifyMessageDelta(ctx context.Context, env envelope) []Event {
	if env.Event != eventMessageDelta {
		return nil
	}
	var data messageDeltaData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Debugf(ctx, "skipping malformed message delta: %v", err)
		return nil
	}
	var b strings.Builder
	for _, entry := range data.Delta.Content {
		if entry.Type == "text" {
			b.WriteString(entry.Text.Value)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return []Event{{Type: TypeTextDelta, Text: b.String()}}
}

// classifyMessageCompleted handles finished messages whose content is carried
// directly as a string.
func classifyMessageCompleted(env envelope) []Event {
	if env.Event != eventMessageCompleted {
		return nil
	}
	var data messageCompletedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil
	}
	var content string
	if err := json.Unmarshal(data.Content, &content); err != nil || content == "" {
		return nil
	}
	return []Event{{Type: TypeTextDelta, Text: content}}
}
