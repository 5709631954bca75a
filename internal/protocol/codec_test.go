package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte(body)))
	return buf.Bytes()
}

func TestRoundTripSingleMessage(t *testing.T) {
	encoded := frame(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	messages, remaining, err := ReadMessage(encoded)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(messages[0]))
}

func TestRoundTripMultipleMessagesOneRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(t, `{"a":1}`))
	buf.Write(frame(t, `{"b":2}`))
	buf.Write(frame(t, `{"c":3}`))

	messages, remaining, err := ReadMessage(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, remaining)
	require.Len(t, messages, 3)
	assert.JSONEq(t, `{"a":1}`, string(messages[0]))
	assert.JSONEq(t, `{"b":2}`, string(messages[1]))
	assert.JSONEq(t, `{"c":3}`, string(messages[2]))
}

// TestSplitAcrossEveryByteBoundary is the literal invariant from the
// spec: for all byte streams made of n concatenated encoded messages,
// split at any byte boundary across reads, the decoder recovers exactly
// those n messages and an empty tail.
func TestSplitAcrossEveryByteBoundary(t *testing.T) {
	var full bytes.Buffer
	full.Write(frame(t, `{"n":1}`))
	full.Write(frame(t, `{"n":2}`))
	data := full.Bytes()

	for split := 0; split <= len(data); split++ {
		var acc []byte
		var got [][]byte

		first, rem1, err := ReadMessage(data[:split])
		require.NoError(t, err)
		got = append(got, first...)
		acc = rem1

		acc = append(acc, data[split:]...)
		second, rem2, err := ReadMessage(acc)
		require.NoError(t, err)
		got = append(got, second...)

		require.Lenf(t, got, 2, "split at byte %d", split)
		assert.Empty(t, rem2, "split at byte %d", split)
	}
}

func TestPartialHeaderWaitsForMore(t *testing.T) {
	full := frame(t, `{"x":true}`)
	partial := full[:5]
	messages, remaining, err := ReadMessage(partial)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Equal(t, partial, remaining)
}

func TestPartialBodyWaitsForMore(t *testing.T) {
	full := frame(t, `{"x":true,"y":1234567}`)
	// Cut off inside the body but past the header.
	headerEnd := bytes.Index(full, []byte("\r\n\r\n")) + 4
	partial := full[:headerEnd+3]
	messages, remaining, err := ReadMessage(partial)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Equal(t, partial, remaining)
}

func TestMissingContentLengthFails(t *testing.T) {
	raw := []byte("Foo: bar\r\n\r\n{}")
	_, _, err := ReadMessage(raw)
	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, HeaderMalformed, cerr.Kind)
}

func TestMultipleContentLengthHeadersRejected(t *testing.T) {
	raw := []byte("Content-Length: 2\r\nContent-Length: 2\r\n\r\n{}")
	_, _, err := ReadMessage(raw)
	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, HeaderMalformed, cerr.Kind)
}

func TestInvalidUTF8BodyFailsLoudly(t *testing.T) {
	body := []byte{0xff, 0xfe, 0xfd}
	header := []byte("Content-Length: 3\r\n\r\n")
	raw := append(header, body...)

	_, _, err := ReadMessage(raw)
	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, UtfInvalid, cerr.Kind)
}

func TestZeroLengthBody(t *testing.T) {
	raw := []byte("Content-Length: 0\r\n\r\n")
	messages, remaining, err := ReadMessage(raw)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	require.Len(t, messages, 1)
	assert.Empty(t, messages[0])
}

func TestEOFWithTrailingGarbageIsBodyTruncated(t *testing.T) {
	raw := []byte("Content-Length: 100\r\n\r\n{\"partial\":")
	_, err := ReadMessageEOF(raw)
	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, BodyTruncated, cerr.Kind)
}

func TestResyncAfterMalformedHeaderRecoversNextMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("Bogus-Header-Without-Colon\r\n\r\n")
	buf.Write(frame(t, `{"recovered":true}`))

	// The first pass over the malformed prefix reports the error with the
	// remaining bytes (including the still-unparsed valid message)
	// available for the caller to retry after logging the incident.
	_, remaining, err := ReadMessage(buf.Bytes())
	require.Error(t, err)

	messages, rest, err := ReadMessage(remaining)
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, messages, 1)
	assert.JSONEq(t, `{"recovered":true}`, string(messages[0]))
}
