package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mcplsp/bridge/internal/auth"
	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/plan"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/mcplsp/bridge/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeCatalogueIsTotalAndDistinct(t *testing.T) {
	codes := []Code{
		CodeUnknownTool, CodeInvalidArguments, CodeUnauthorized, CodeMissingUserID,
		CodeNotFound, CodePlanFailure, CodeApplyFailure, CodeConnectionLost, CodeInternalError,
	}
	seen := make(map[string]bool)
	for _, c := range codes {
		s := c.String()
		assert.Regexp(t, `^E100[0-8]$`, s)
		assert.False(t, seen[s], "duplicate error string %s", s)
		seen[s] = true
	}
	assert.Len(t, seen, 9)
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	v := auth.NewVerifier("test-secret")
	return New(v, workspace.NewManager(), plugin.NewRegistry(), logging.Default())
}

func TestCallUnknownToolFails(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Call(context.Background(), "no.such.tool", json.RawMessage(`{}`), "")
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeUnknownTool, de.Code)
}

func TestCallRequiresAuthWhenToolDemandsUserID(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&Tool{
		Name: "workspace.list", Category: CategoryWorkspace, Visible: true, RequiresUserID: true,
		Handler: func(ctx context.Context, req *Request) (interface{}, error) { return "ok", nil },
	})

	_, err := d.Call(context.Background(), "workspace.list", json.RawMessage(`{}`), "")
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeMissingUserID, de.Code)
}

func TestCallValidatesRequiredFields(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&Tool{
		Name: "rename.plan", Category: CategoryPlanApply, Visible: true,
		RequiredFields: []string{"target.path", "new_name"},
		Handler:        func(ctx context.Context, req *Request) (interface{}, error) { return "ok", nil },
	})

	_, err := d.Call(context.Background(), "rename.plan", json.RawMessage(`{"target":{"path":"a.rs"}}`), "")
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeInvalidArguments, de.Code)
	assert.Equal(t, "new_name", de.Field)
}

func TestCallSucceedsWithValidAuthAndArguments(t *testing.T) {
	d := newTestDispatcher(t)
	v := auth.NewVerifier("test-secret")
	token, err := v.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	d.auth = v

	d.Register(&Tool{
		Name: "workspace.list", Category: CategoryWorkspace, Visible: true, RequiresUserID: true,
		Handler: func(ctx context.Context, req *Request) (interface{}, error) {
			return req.UserID, nil
		},
	})

	result, err := d.Call(context.Background(), "workspace.list", json.RawMessage(`{}`), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", result)
}

func TestWrapHandlerErrorMapsPlanVersionMismatchToApplyFailure(t *testing.T) {
	err := wrapHandlerError(&plan.Error{Code: plan.ErrVersionMismatch, Message: "major version mismatch"})
	assert.Equal(t, CodeApplyFailure, err.Code)
}

func TestWrapHandlerErrorMapsPlanConsumedToApplyFailure(t *testing.T) {
	err := wrapHandlerError(&plan.Error{Code: plan.ErrPlanConsumed, Message: "already applied"})
	assert.Equal(t, CodeApplyFailure, err.Code)
}

func TestWrapHandlerErrorMapsEditOutOfBoundsToApplyFailure(t *testing.T) {
	err := wrapHandlerError(&plan.Error{Code: plan.ErrEditOutOfBounds, Message: "beyond EOF", Files: []string{"a.rs"}})
	assert.Equal(t, CodeApplyFailure, err.Code)
}

func TestWrapHandlerErrorMapsPluginFailureToPlanFailure(t *testing.T) {
	err := wrapHandlerError(&plan.Error{Code: plan.ErrPluginFailure, Message: "lsp rename failed"})
	assert.Equal(t, CodePlanFailure, err.Code)
}

func TestWrapHandlerErrorMapsInvalidArgumentsSentinelString(t *testing.T) {
	err := wrapHandlerError(fmt.Errorf("invalid_arguments: line must be >= 1 (1-indexed), got 0"))
	assert.Equal(t, CodeInvalidArguments, err.Code)
}

func TestWrapHandlerErrorMapsWorkspaceNotFoundSentinel(t *testing.T) {
	err := wrapHandlerError(fmt.Errorf("lookup failed: %w", workspace.ErrNotFound))
	assert.Equal(t, CodeNotFound, err.Code)
}

func TestListOnlyReturnsVisibleTools(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(&Tool{Name: "public.tool", Visible: true})
	d.Register(&Tool{Name: "internal.tool", Visible: false})

	summaries := d.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, "public.tool", summaries[0].Name)
}
