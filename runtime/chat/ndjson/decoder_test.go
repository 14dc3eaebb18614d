package ndjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteSingleChunk(t *testing.T) {
	d := NewDecoder()
	records := d.Write([]byte("{\"a\":1}\n{\"b\":2}\n"))
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`}, records)
	_, ok := d.Flush()
	require.False(t, ok)
}

func TestWriteRecordSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()
	require.Empty(t, d.Write([]byte(`{"event":"thread.mess`)))
	records := d.Write([]byte("age.delta\"}\n"))
	require.Equal(t, []string{`{"event":"thread.message.delta"}`}, records)
}

func TestWriteSplitInsideMultiByteRune(t *testing.T) {
	// "héllo" with the split placed between the two bytes of é.
	payload := []byte("{\"t\":\"h\xc3\xa9llo\"}\n")
	d := NewDecoder()
	require.Empty(t, d.Write(payload[:8]))
	records := d.Write(payload[8:])
	require.Equal(t, []string{"{\"t\":\"héllo\"}"}, records)
}

func TestEmptyLinesFiltered(t *testing.T) {
	d := NewDecoder()
	records := d.Write([]byte("\n\n{\"a\":1}\n\r\n{\"b\":2}\n\n"))
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`}, records)
}

func TestCRLFFraming(t *testing.T) {
	d := NewDecoder()
	records := d.Write([]byte("{\"a\":1}\r\n{\"b\":2}\r\n"))
	require.Equal(t, []string{`{"a":1}`, `{"b":2}`}, records)
}

func TestFlushReturnsTrailingPartialRecord(t *testing.T) {
	d := NewDecoder()
	require.Empty(t, d.Write([]byte(`{"tail":true}`)))
	rec, ok := d.Flush()
	require.True(t, ok)
	require.Equal(t, `{"tail":true}`, rec)

	// The decoder is empty after Flush.
	_, ok = d.Flush()
	require.False(t, ok)
}

func TestWriteEmptyChunkIsNoOp(t *testing.T) {
	d := NewDecoder()
	require.Empty(t, d.Write(nil))
	require.Empty(t, d.Write([]byte{}))
}
