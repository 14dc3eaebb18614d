// Package ndjson reassembles newline-delimited JSON records from an
// arbitrarily chunked byte stream.
//
// The decoder is the first stage of the streaming pipeline: the provider
// delivers bytes in whatever sized pieces the transport produces, and record
// boundaries routinely fall inside a chunk, between chunks, or inside a
// multi-byte UTF-8 sequence. The decoder carries partial trailing bytes
// across calls and only materializes a record once its terminating newline
// has arrived, so no record is ever truncated or corrupted by chunking.
package ndjson

import (
	"bytes"
	"strings"
)

// Decoder splits a chunked byte stream into complete newline-terminated
// records. It is stateful and must not be shared across streams; create one
// Decoder per stream. Decoder is not safe for concurrent use.
type Decoder struct {
	// carry holds bytes received after the last complete newline. It may end
	// mid-record and even mid-rune; bytes stay buffered until the newline
	// arrives. The newline byte 0x0A never occurs inside a UTF-8 multi-byte
	// sequence, so splitting on it cannot tear a rune apart.
	carry []byte
}

// NewDecoder returns a Decoder with an empty carry-over buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write ingests the next chunk and returns the records the chunk completed,
// in arrival order. Records are returned without their trailing newline (and
// without a trailing carriage return, for CRLF-framed streams). Empty lines
// are dropped. The chunk may be retained only for the duration of the call.
func (d *Decoder) Write(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var records []string
	for {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := trimRecord(d.carry[:i])
		d.carry = d.carry[i+1:]
		if line != "" {
			records = append(records, line)
		}
	}
	if len(d.carry) == 0 {
		d.carry = nil
	}
	return records
}

// Flush returns the trailing partial record, if any. It is called once after
// the source stream ends to recover a final record that was not newline
// terminated. The decoder is empty afterwards.
func (d *Decoder) Flush() (string, bool) {
	if len(d.carry) == 0 {
		return "", false
	}
	line := trimRecord(d.carry)
	d.carry = nil
	if line == "" {
		return "", false
	}
	return line, true
}

func trimRecord(b []byte) string {
	return strings.TrimSpace(string(b))
}
