package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mcplsp/bridge/internal/auth"
	"github.com/mcplsp/bridge/internal/plan"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/mcplsp/bridge/internal/workspace"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/willibrandon/mtlog/core"
)

// Category groups tools for tools/list presentation (spec §4.5).
type Category string

const (
	CategoryNavigation   Category = "navigation"
	CategoryIntelligence Category = "intelligence"
	CategoryPlanApply    Category = "plan_apply"
	CategoryAnalysis     Category = "analysis"
	CategoryWorkspace    Category = "workspace"
	CategoryHealth       Category = "health"
)

// Request is the deserialized form of one tools/call invocation handed
// to a Handler.
type Request struct {
	UserID    string
	Arguments gjson.Result
	Raw       json.RawMessage
}

// Handler implements one tool's behavior. It may perform I/O, plan
// construction, LSP calls, and AST analysis (spec §4.5 step 4).
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// Tool is one entry of the public tool surface.
type Tool struct {
	Name            string
	Category        Category
	Visible         bool // false for internal tools hidden from tools/list but still callable
	RequiresUserID  bool
	RequiredFields  []string // dotted gjson paths validated before Handler runs
	Handler         Handler
}

// Dispatcher is the single-entry MCP tools/call router.
type Dispatcher struct {
	auth       *auth.Verifier
	workspaces *workspace.Manager
	plugins    *plugin.Registry
	log        core.Logger

	mu    sync.RWMutex
	tools map[string]*Tool
}

// New builds a Dispatcher. verifier, workspaces, and plugins are shared
// collaborators injected by the main package's wiring.
func New(verifier *auth.Verifier, workspaces *workspace.Manager, plugins *plugin.Registry, log core.Logger) *Dispatcher {
	return &Dispatcher{
		auth:       verifier,
		workspaces: workspaces,
		plugins:    plugins,
		log:        log,
		tools:      make(map[string]*Tool),
	}
}

// Register installs t. Re-registering the same name overwrites the
// prior entry, used by tests and by optional tool sets.
func (d *Dispatcher) Register(t *Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Name] = t
}

// ToolSummary is one entry of a tools/list response.
type ToolSummary struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

// List returns the visible tool set, sorted by name, per spec §4.5's
// "fixed subset filtered by visibility flags" contract.
func (d *Dispatcher) List() []ToolSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ToolSummary, 0, len(d.tools))
	for _, t := range d.tools {
		if t.Visible {
			out = append(out, ToolSummary{Name: t.Name, Category: t.Category})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call handles one tools/call invocation: name, an args JSON payload,
// and the caller's raw bearer token (already stripped of the
// "Authorization: Bearer " prefix, if present; empty if absent).
func (d *Dispatcher) Call(ctx context.Context, name string, argsJSON json.RawMessage, bearerToken string) (interface{}, error) {
	d.mu.RLock()
	t, ok := d.tools[name]
	d.mu.RUnlock()
	if !ok {
		return nil, newError(CodeUnknownTool, "no such tool: "+name)
	}

	var userID string
	if t.RequiresUserID {
		if bearerToken == "" {
			return nil, newError(CodeMissingUserID, "tool "+name+" requires authentication")
		}
		claims, err := d.auth.Verify(bearerToken)
		if err != nil {
			return nil, newError(CodeUnauthorized, err.Error())
		}
		userID = claims.UserID
	}

	if err := d.validateArguments(t, argsJSON); err != nil {
		return nil, err
	}

	req := &Request{
		UserID:    userID,
		Arguments: gjson.ParseBytes(argsJSON),
		Raw:       argsJSON,
	}

	result, err := t.Handler(ctx, req)
	if err != nil {
		return nil, wrapHandlerError(err)
	}
	return result, nil
}

func (d *Dispatcher) validateArguments(t *Tool, argsJSON json.RawMessage) error {
	parsed := gjson.ParseBytes(argsJSON)
	for _, field := range t.RequiredFields {
		if !parsed.Get(field).Exists() {
			details, _ := sjson.Set("{}", "missing_field", field)
			var detailMap map[string]interface{}
			_ = json.Unmarshal([]byte(details), &detailMap)
			return &Error{
				Code:    CodeInvalidArguments,
				Message: fmt.Sprintf("missing required field %q for tool %q", field, t.Name),
				Field:   field,
				Details: detailMap,
			}
		}
	}
	return nil
}

// wrapHandlerError maps a handler's returned error onto the fixed MCP
// error catalogue. Handlers are expected to return either *Error (an
// already-classified dispatcher error), *plan.Error (classified by its
// own Code field, not by scraping its message), workspace.ErrNotFound,
// or a generic error; each maps to a specific code so the catalogue
// mapping stays total rather than collapsing everything into
// InternalError.
func wrapHandlerError(err error) *Error {
	if derr, ok := err.(*Error); ok {
		return derr
	}
	if perr, ok := err.(*plan.Error); ok {
		return newError(codeForPlanError(perr.Code), perr.Error())
	}
	if errors.Is(err, workspace.ErrNotFound) {
		return newError(CodeNotFound, err.Error())
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid_arguments"):
		return newError(CodeInvalidArguments, msg)
	case strings.Contains(msg, "not_found"):
		return newError(CodeNotFound, msg)
	case strings.Contains(msg, "connection lost"):
		return newError(CodeConnectionLost, msg)
	default:
		return newError(CodeInternalError, msg)
	}
}

// codeForPlanError maps every plan.ErrorCode onto the dispatcher's
// catalogue; it is total over plan.ErrorCode's known values so a newly
// added plan error kind that falls to the default case is easy to spot
// in review rather than silently landing on InternalError.
func codeForPlanError(code plan.ErrorCode) Code {
	switch code {
	case plan.ErrAmbiguousTarget, plan.ErrOverlappingEdits, plan.ErrBatchConflict:
		return CodePlanFailure
	case plan.ErrNotFound:
		return CodeNotFound
	case plan.ErrPluginFailure:
		return CodePlanFailure
	case plan.ErrChecksumDrift, plan.ErrEditOutOfBounds, plan.ErrIOFailure,
		plan.ErrValidationFailed, plan.ErrRollbackFailed,
		plan.ErrVersionMismatch, plan.ErrPlanConsumed:
		return CodeApplyFailure
	default:
		return CodeInternalError
	}
}
