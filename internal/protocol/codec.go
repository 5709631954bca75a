// Package protocol implements the Content-Length framed JSON-RPC envelope
// shared by the MCP stdio transport and every spawned LSP child's stdio
// transport: "Content-Length: <n>\r\n\r\n<n bytes of UTF-8 JSON>".
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const headerContentLength = "Content-Length"

// CodecError is the error family returned by Read/Write on framing
// failures. Kind distinguishes the subcases the spec names so callers
// (the LSP Client) can decide whether a failure is locally recoverable.
type CodecError struct {
	Kind    CodecErrorKind
	Message string
}

// CodecErrorKind enumerates the framing failure subcases.
type CodecErrorKind int

const (
	// HeaderMalformed covers a header line that isn't "Name: Value", a
	// missing Content-Length header, or more than one Content-Length
	// header on the same message.
	HeaderMalformed CodecErrorKind = iota
	// BodyTruncated covers a Content-Length longer than the bytes
	// actually available when the stream will not block for more (EOF).
	BodyTruncated
	// UtfInvalid covers a body that is not valid UTF-8.
	UtfInvalid
)

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s", e.Message)
}

func newCodecError(kind CodecErrorKind, format string, args ...interface{}) *CodecError {
	return &CodecError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WriteMessage frames body as a single Content-Length message and writes
// it to w. body must already be valid JSON bytes.
func WriteMessage(w io.Writer, body []byte) error {
	header := fmt.Sprintf("%s: %d\r\n\r\n", headerContentLength, len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("protocol: write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: write body: %w", err)
	}
	return nil
}

// ReadMessage consumes as many complete framed messages as possible from
// buf without blocking for more input, returning the decoded bodies and
// the unconsumed remainder of buf. A short header or a body not yet fully
// buffered is not an error: it is returned verbatim as the tail for the
// next read to extend.
//
// Resynchronization: when more than 8192 bytes are buffered without a
// header terminator and the first 256 of them contain a NUL byte, the
// bytes before the next "Content-Length" are discarded rather than
// failing the whole stream. A malformed header block is dropped up to
// its blank line and reported as an error. ReadMessageEOF does not
// resynchronize: it reports any leftover bytes as BodyTruncated.
func ReadMessage(buf []byte) (messages [][]byte, remaining []byte, err error) {
	remaining = buf
	for {
		headerEnd := bytes.Index(remaining, []byte("\r\n\r\n"))
		if headerEnd < 0 {
			// Guard against an unbounded garbage prefix that will never
			// resolve to a header; a real Content-Length header is short.
			if len(remaining) > 8192 && !looksLikeHeaderPrefix(remaining) {
				resynced, ok := resync(remaining)
				if !ok {
					return messages, remaining, nil
				}
				remaining = resynced
				continue
			}
			return messages, remaining, nil
		}

		headerBlock := remaining[:headerEnd]
		contentLength, herr := parseContentLength(headerBlock)
		if herr != nil {
			// The malformed header block has a known extent (up to the
			// blank line); drop exactly it and let the caller log the
			// incident and retry on what's left, which is where the next
			// well-formed header, if any, begins.
			return messages, remaining[headerEnd+4:], herr
		}

		bodyStart := headerEnd + 4
		if len(remaining) < bodyStart+contentLength {
			// Body not fully buffered yet; wait for more bytes.
			return messages, remaining, nil
		}

		body := remaining[bodyStart : bodyStart+contentLength]
		if !utf8.Valid(body) {
			return messages, remaining[bodyStart+contentLength:], newCodecError(UtfInvalid, "message body is not valid UTF-8")
		}

		msg := make([]byte, len(body))
		copy(msg, body)
		messages = append(messages, msg)
		remaining = remaining[bodyStart+contentLength:]
	}
}

// looksLikeHeaderPrefix reports whether buf could still become a valid
// header given more bytes (i.e. it doesn't yet contain a byte that is
// impossible inside an HTTP-style header line).
func looksLikeHeaderPrefix(buf []byte) bool {
	limit := len(buf)
	if limit > 256 {
		limit = 256
	}
	for _, b := range buf[:limit] {
		if b == 0 {
			return false
		}
	}
	return true
}

// resync discards bytes up to and including the next occurrence of
// "Content-Length" in buf, so framing can recover after a
// content-length mismatch corrupted our notion of message boundaries.
// The caller logs the incident; resync itself is a pure function.
func resync(buf []byte) (rest []byte, ok bool) {
	idx := bytes.Index(buf, []byte(headerContentLength))
	if idx < 0 {
		return nil, false
	}
	return buf[idx:], true
}

func parseContentLength(headerBlock []byte) (int, *CodecError) {
	lines := strings.Split(string(headerBlock), "\r\n")
	contentLength := -1
	for _, line := range lines {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, newCodecError(HeaderMalformed, "malformed header line %q", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !strings.EqualFold(name, headerContentLength) {
			continue
		}
		if contentLength != -1 {
			return 0, newCodecError(HeaderMalformed, "multiple Content-Length headers")
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, newCodecError(HeaderMalformed, "invalid Content-Length value %q", value)
		}
		contentLength = n
	}
	if contentLength == -1 {
		return 0, newCodecError(HeaderMalformed, "missing Content-Length header")
	}
	return contentLength, nil
}

// ReadMessageEOF is ReadMessage's companion for the case where the
// underlying stream has ended: any non-empty remaining tail that still
// doesn't resolve to a complete message is a BodyTruncated error instead
// of "wait for more bytes".
func ReadMessageEOF(buf []byte) (messages [][]byte, err error) {
	messages, remaining, err := ReadMessage(buf)
	if err != nil {
		return messages, err
	}
	if len(remaining) > 0 {
		return messages, newCodecError(BodyTruncated, "stream ended with %d unconsumed bytes", len(remaining))
	}
	return messages, nil
}

// Codec adapts this package's framing to jsonrpc2.ObjectCodec, so a
// *jsonrpc2.Conn can be built directly over it for both the MCP-facing
// stdio connection and each spawned LSP child's stdio connection —
// jsonrpc2.Conn then owns request ids, the pending-request table, and
// Call/Notify, while Codec owns exactly the framing and its error
// taxonomy.
type Codec struct{}

// WriteObject implements jsonrpc2.ObjectCodec.
func (Codec) WriteObject(stream io.Writer, obj interface{}) error {
	body, err := marshalJSON(obj)
	if err != nil {
		return err
	}
	return WriteMessage(stream, body)
}

// ReadObject implements jsonrpc2.ObjectCodec.
func (Codec) ReadObject(stream *bufio.Reader, v interface{}) error {
	header, err := readHeaderBlock(stream)
	if err != nil {
		return err
	}
	contentLength, cerr := parseContentLength(header)
	if cerr != nil {
		return cerr
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(stream, body); err != nil {
		return newCodecError(BodyTruncated, "reading %d-byte body: %v", contentLength, err)
	}
	if !utf8.Valid(body) {
		return newCodecError(UtfInvalid, "message body is not valid UTF-8")
	}
	return unmarshalJSON(body, v)
}

// readHeaderBlock reads header lines up to and including the blank line
// that terminates them, returning the header block without the trailing
// blank line.
func readHeaderBlock(r *bufio.Reader) ([]byte, error) {
	var header bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, newCodecError(HeaderMalformed, "reading header line: %v", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return header.Bytes(), nil
		}
		header.WriteString(trimmed)
		header.WriteString("\r\n")
	}
}
