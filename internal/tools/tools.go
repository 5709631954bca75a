// Package tools implements the concrete tool handlers grouped by
// category (spec §4.5): navigation, plan/apply, workspace, and the
// supplemented health category. No intelligence or analysis tools are
// registered. RegisterAll wires every handler into a
// *dispatcher.Dispatcher at startup.
package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mcplsp/bridge/internal/astcache"
	"github.com/mcplsp/bridge/internal/dispatcher"
	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plan"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/mcplsp/bridge/internal/pool"
	"github.com/mcplsp/bridge/internal/workspace"
	"github.com/willibrandon/mtlog/core"
)

// Deps bundles every collaborator a tool handler might need. Handlers
// receive Deps by closure rather than by a shared struct field, keeping
// each registration self-contained and easy to unit test in isolation.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Workspaces *workspace.Manager
	Plugins    *plugin.Registry
	Pools      *pool.Registry
	Engine     *plan.Engine
	Applier    *plan.Applier
	Plans      *PlanStore
	ASTCache   *astcache.Cache
	Log        core.Logger
}

// RegisterAll installs every tool handler this bridge exposes.
func RegisterAll(d Deps) {
	registerNavigationTools(d)
	registerPlanApplyTools(d)
	registerWorkspaceTools(d)
	registerHealthTools(d)
}

// apiLineToInternal converts the tool argument surface's 1-indexed line
// number to the internal 0-indexed LSP line, per spec §6's "Tool
// argument conventions". L=0 is invalid at the API boundary (there is
// no line zero in 1-indexed space) and is rejected with
// InvalidArguments rather than silently underflowing to -1.
func apiLineToInternal(apiLine int) (int, error) {
	if apiLine < 1 {
		return 0, fmt.Errorf("invalid_arguments: line must be >= 1 (1-indexed), got %d", apiLine)
	}
	return apiLine - 1, nil
}

// internalLineToAPI is apiLineToInternal's inverse, used when
// formatting a position for return to the caller.
func internalLineToAPI(internalLine int) int {
	return internalLine + 1
}

func registerNavigationTools(d Deps) {
	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "find_definition",
		Category:       dispatcher.CategoryNavigation,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"path", "position.line", "position.character"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			path := req.Arguments.Get("path").String()
			apiLine := int(req.Arguments.Get("position.line").Int())
			character := int(req.Arguments.Get("position.character").Int())
			language := req.Arguments.Get("language").String()

			line, err := apiLineToInternal(apiLine)
			if err != nil {
				return nil, err
			}

			p, ok := d.Plugins.FindByExtension(path)
			if !ok && language == "" {
				return nil, fmt.Errorf("not_found: no plugin registered for %s", path)
			}
			if ok {
				language = p.Name()
			}

			poolForLang := d.Pools.Pool(language)
			if poolForLang == nil {
				return nil, fmt.Errorf("not_found: no language server configured for %s", language)
			}
			client, err := poolForLang.Acquire(ctx, workspaceRootFor(d, req.UserID, path))
			if err != nil {
				return nil, err
			}

			var result lsptypes.WorkspaceEdit
			err = client.Request(ctx, "textDocument/definition", map[string]interface{}{
				"textDocument": map[string]string{"uri": path},
				"position":     lsptypes.Position{Line: line, Character: character},
			}, &result)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "find_references",
		Category:       dispatcher.CategoryNavigation,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"path", "position.line", "position.character"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			path := req.Arguments.Get("path").String()
			apiLine := int(req.Arguments.Get("position.line").Int())
			character := int(req.Arguments.Get("position.character").Int())
			language := req.Arguments.Get("language").String()

			line, err := apiLineToInternal(apiLine)
			if err != nil {
				return nil, err
			}
			if p, ok := d.Plugins.FindByExtension(path); ok {
				language = p.Name()
			}
			poolForLang := d.Pools.Pool(language)
			if poolForLang == nil {
				return nil, fmt.Errorf("not_found: no language server configured for %s", language)
			}
			client, err := poolForLang.Acquire(ctx, workspaceRootFor(d, req.UserID, path))
			if err != nil {
				return nil, err
			}

			var result interface{}
			err = client.Request(ctx, "textDocument/references", map[string]interface{}{
				"textDocument": map[string]string{"uri": path},
				"position":     lsptypes.Position{Line: line, Character: character},
				"context":      map[string]bool{"includeDeclaration": true},
			}, &result)
			return result, err
		},
	})
}

// workspaceRootFor resolves the pool-affinity root for path: the
// longest-matching registered workspace root owned by userID that
// contains path, or path's own directory when no registered workspace
// covers it (an ad hoc call against a file the caller never registered
// via workspace.register, which Acquire still services by spawning a
// Client rooted directly at that directory).
func workspaceRootFor(d Deps, userID, path string) string {
	if ws, ok := d.Workspaces.FindRootForPath(userID, path); ok {
		return ws.Root
	}
	return filepath.Dir(path)
}
