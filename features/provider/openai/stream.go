package openai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// bridgeSSE re-frames a server-sent-event feed as newline-delimited JSON
// records of the form {"event":<name>,"data":<payload>}. Each SSE message is
// one output record; the [DONE] sentinel and comment lines are dropped. The
// scanner buffer is sized for large tool-call argument payloads.
func bridgeSSE(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data strings.Builder
	flush := func() error {
		defer func() {
			event = ""
			data.Reset()
		}()
		payload := data.String()
		if payload == "" || payload == "[DONE]" {
			return nil
		}
		return writeRecord(w, event, payload)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// SSE comment, typically a keep-alive.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	// Feeds that end without a trailing blank line still deliver their last
	// message.
	return flush()
}

func writeRecord(w io.Writer, event, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("invalid event payload for %q", event)
	}
	name, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, `{"event":%s,"data":%s}`+"\n", name, payload); err != nil {
		return err
	}
	return nil
}
