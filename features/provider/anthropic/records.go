package anthropic

import (
	"encoding/json"
	"io"
)

// Wire record shapes. Each builder produces one newline-delimited JSON
// record in the framing the stream classifier consumes.

type (
	record struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	runData struct {
		ID     string `json:"id"`
		Status string `json:"status,omitempty"`
	}

	deltaData struct {
		Delta struct {
			Content []deltaContent `json:"content"`
		} `json:"delta"`
	}

	deltaContent struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	}

	requiresActionData struct {
		ID             string `json:"id"`
		RequiredAction struct {
			SubmitToolOutputs struct {
				ToolCalls []toolCall `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}

	toolCall struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
)

func runCreatedRecord(runID string) record {
	return record{Event: "thread.run.created", Data: runData{ID: runID, Status: "queued"}}
}

func runTerminalRecord(runID, status string) record {
	return record{Event: "thread.run." + status, Data: runData{ID: runID, Status: status}}
}

func textDeltaRecord(text string) record {
	var d deltaData
	var c deltaContent
	c.Type = "text"
	c.Text.Value = text
	d.Delta.Content = []deltaContent{c}
	return record{Event: "thread.message.delta", Data: d}
}

func requiresActionRecord(runID, callID, name, arguments string) record {
	var d requiresActionData
	d.ID = runID
	var tc toolCall
	tc.ID = callID
	tc.Function.Name = name
	tc.Function.Arguments = arguments
	d.RequiredAction.SubmitToolOutputs.ToolCalls = []toolCall{tc}
	return record{Event: "thread.run.requires_action", Data: d}
}

func writeRecord(w io.Writer, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
