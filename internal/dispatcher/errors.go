// Package dispatcher implements the Tool Dispatcher: the single-entry
// MCP tools/call router that selects a handler by tool name, enforces
// authentication and workspace scoping, validates arguments, and wraps
// results/errors in the MCP response envelope (spec §4.5).
package dispatcher

import "fmt"

// Code is the dispatcher's fixed numeric error catalogue (spec §7:
// "wraps them in an MCP error envelope with a numeric code (fixed
// catalogue: E1000..E1008)"). A table-driven test checks that the nine
// Codes render as nine distinct strings E1000..E1008; any Code outside
// the named cases renders as E1008.
type Code int

const (
	CodeUnknownTool Code = 1000 + iota
	CodeInvalidArguments
	CodeUnauthorized
	CodeMissingUserID
	CodeNotFound
	CodePlanFailure
	CodeApplyFailure
	CodeConnectionLost
	CodeInternalError
)

func (c Code) String() string {
	switch c {
	case CodeUnknownTool:
		return "E1000"
	case CodeInvalidArguments:
		return "E1001"
	case CodeUnauthorized:
		return "E1002"
	case CodeMissingUserID:
		return "E1003"
	case CodeNotFound:
		return "E1004"
	case CodePlanFailure:
		return "E1005"
	case CodeApplyFailure:
		return "E1006"
	case CodeConnectionLost:
		return "E1007"
	default:
		return "E1008"
	}
}

// Error is the MCP-facing error the dispatcher returns for any handler
// or validation failure.
type Error struct {
	Code    Code
	Message string
	Field   string                 `json:"field,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
