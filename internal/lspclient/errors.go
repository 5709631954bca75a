package lspclient

import "fmt"

// ErrorKind enumerates the LSP Client's failure taxonomy from spec §4.2/§7.
type ErrorKind int

const (
	// ConnectionLost: stream EOF or child crash; all pending waiters fail,
	// the Pool is signaled, the client is removed from the pool. Not
	// retried by the Client itself.
	ConnectionLost ErrorKind = iota
	// RequestTimeout: the specific waiter fails; the client remains usable.
	RequestTimeout
	// ProtocolError: malformed server message; waiter (if any) fails.
	ProtocolError
	// InitializeTimeout: the initialize handshake didn't complete in time;
	// the client transitions to failed.
	InitializeTimeout
	// NotReady: a request was attempted against a client that is not in
	// the ready state.
	NotReady
)

// ClientError carries the Kind so the Pool and Plan/Apply Engine can
// decide whether to retry, replan, or surface the error to the caller.
type ClientError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("lspclient: %s: %v", e.kindName(), e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func (e *ClientError) kindName() string {
	switch e.Kind {
	case ConnectionLost:
		return "connection lost"
	case RequestTimeout:
		return "request timeout"
	case ProtocolError:
		return "protocol error"
	case InitializeTimeout:
		return "initialize timeout"
	case NotReady:
		return "not ready"
	default:
		return "unknown"
	}
}

func newClientError(kind ErrorKind, err error) *ClientError {
	return &ClientError{Kind: kind, Err: err}
}
