// Package lspadapter implements the Plan/Apply Engine's narrow
// collaborator interfaces (plan.LSPEditor, plan.SymbolSearcher,
// plan.DocumentSync) on top of the pool.Registry and plugin.Registry,
// so the engine never imports lspclient directly and stays testable
// against hand-written fakes (plan's own test files exercise these
// interfaces through fakes, not through a live Client).
//
// Grounded on saibing-bingo/langserver/handler.go's pattern of mapping
// one incoming request to one outgoing LSP call against the single
// process it owns, generalized here to first resolve which language's
// pool and which pooled Client a given file belongs to.
package lspadapter

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mcplsp/bridge/internal/lspclient"
	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plan"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/mcplsp/bridge/internal/pool"
)

// Adapter bundles the pool and plugin registries needed to resolve a
// file URI to a live, ready Client.
type Adapter struct {
	Pools   *pool.Registry
	Plugins *plugin.Registry
}

// New builds an Adapter.
func New(pools *pool.Registry, plugins *plugin.Registry) *Adapter {
	return &Adapter{Pools: pools, Plugins: plugins}
}

// clientFor resolves uri's language via the plugin registry, finds that
// language's pool, and acquires a Client affine to uri's enclosing
// manifest root (falling back to uri's own directory when no manifest
// is found above it — an unsaved/scratch file, for instance).
func (a *Adapter) clientFor(ctx context.Context, uri string) (*lspclient.Client, error) {
	p, ok := a.Plugins.FindByExtension(uri)
	if !ok {
		return nil, fmt.Errorf("not_found: no language plugin registered for %s", uri)
	}
	pl := a.Pools.Pool(p.Name())
	if pl == nil {
		return nil, fmt.Errorf("not_found: no language server configured for %s", p.Name())
	}
	return pl.Acquire(ctx, a.rootFor(uri, p))
}

// rootFor derives the pool-affinity root for uri: the directory holding
// the nearest manifest the plugin recognizes, or uri's own directory
// when the plugin declares no manifest (or none is found).
func (a *Adapter) rootFor(uri string, p plugin.Plugin) string {
	dir := filepath.Dir(uri)
	mu, ok := p.ManifestUpdater()
	if !ok {
		return dir
	}
	manifestPath, err := mu.ManifestPath(context.Background(), dir)
	if err != nil || manifestPath == "" {
		return dir
	}
	return filepath.Dir(manifestPath)
}

// Rename satisfies plan.LSPEditor by issuing textDocument/rename
// against uri's pooled Client.
func (a *Adapter) Rename(ctx context.Context, uri string, pos lsptypes.Position, newName string) (lsptypes.WorkspaceEdit, error) {
	client, err := a.clientFor(ctx, uri)
	if err != nil {
		return lsptypes.WorkspaceEdit{}, err
	}
	var result lsptypes.WorkspaceEdit
	err = client.Request(ctx, "textDocument/rename", map[string]interface{}{
		"textDocument": map[string]string{"uri": uri},
		"position":     pos,
		"newName":      newName,
	}, &result)
	return result, err
}

// codeActionResult is the subset of textDocument/codeAction's response
// this bridge consumes: each returned action may already carry a
// WorkspaceEdit (the common case for refactor.* kinds), or only a
// command the bridge doesn't execute (out of scope — code actions that
// require a follow-up workspace/executeCommand round trip are surfaced
// with zero edits rather than attempted).
type codeActionResult struct {
	Edit *lsptypes.WorkspaceEdit `json:"edit,omitempty"`
}

// CodeActions satisfies plan.LSPEditor by issuing textDocument/codeAction
// scoped to kind and flattening the first action's edit, if any.
func (a *Adapter) CodeActions(ctx context.Context, uri string, r lsptypes.Range, kind string) (lsptypes.WorkspaceEdit, error) {
	client, err := a.clientFor(ctx, uri)
	if err != nil {
		return lsptypes.WorkspaceEdit{}, err
	}
	var actions []codeActionResult
	err = client.Request(ctx, "textDocument/codeAction", map[string]interface{}{
		"textDocument": map[string]string{"uri": uri},
		"range":        r,
		"context": map[string]interface{}{
			"only": []string{kind},
		},
	}, &actions)
	if err != nil {
		return lsptypes.WorkspaceEdit{}, err
	}
	for _, act := range actions {
		if act.Edit != nil {
			return *act.Edit, nil
		}
	}
	return lsptypes.WorkspaceEdit{}, nil
}

// symbolInformation is the subset of workspace/symbol's response this
// bridge reads.
type symbolInformation struct {
	Name     string `json:"name"`
	Location struct {
		URI   string         `json:"uri"`
		Range lsptypes.Range `json:"range"`
	} `json:"location"`
}

// SearchWorkspaceSymbols satisfies plan.SymbolSearcher. root alone
// doesn't name a language, so every language configured for this
// process is queried and results are merged — a multi-language
// workspace (e.g. a Go service with a Rust sidecar) may legitimately
// have candidates of the same name in both.
func (a *Adapter) SearchWorkspaceSymbols(ctx context.Context, root, query string) ([]plan.SymbolMatch, error) {
	var out []plan.SymbolMatch
	for _, lang := range a.Plugins.Languages() {
		pl := a.Pools.Pool(lang)
		if pl == nil {
			continue
		}
		client, err := pl.Acquire(ctx, root)
		if err != nil {
			continue // this language isn't reachable at root; not fatal to the overall search
		}
		var symbols []symbolInformation
		if err := client.Request(ctx, "workspace/symbol", map[string]interface{}{"query": query}, &symbols); err != nil {
			continue
		}
		for _, s := range symbols {
			out = append(out, plan.SymbolMatch{URI: s.Location.URI, Position: s.Location.Range.Start, Name: s.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// NotifyFileChanged satisfies plan.DocumentSync: if uri is open against
// its language's pooled Client, push the new content via didChange so
// the server's view stays fresh for the caller's next request, per
// spec §4.4.3 step 3.
func (a *Adapter) NotifyFileChanged(ctx context.Context, uri, newContent string) error {
	client, err := a.clientFor(ctx, uri)
	if err != nil {
		// No configured server for this file's language is not a failure
		// the apply engine needs to roll back over — there's simply
		// nothing to notify.
		return nil
	}
	if !client.IsOpen(uri) {
		return nil
	}
	return client.DidChange(ctx, uri, newContent)
}

// NotifyFileRenamed satisfies plan.DocumentSync: closes the old URI (if
// open) so the server drops its document state for a path that no
// longer exists. The new path is picked up lazily on the next
// navigation/intelligence call that opens it, rather than eagerly
// reading its content here.
func (a *Adapter) NotifyFileRenamed(ctx context.Context, oldURI, newURI string) error {
	client, err := a.clientFor(ctx, oldURI)
	if err != nil {
		return nil
	}
	if client.IsOpen(oldURI) {
		return client.CloseFile(ctx, oldURI)
	}
	return nil
}

// NotifyFileDeleted satisfies plan.DocumentSync: closes uri if the
// server has it open.
func (a *Adapter) NotifyFileDeleted(ctx context.Context, uri string) error {
	client, err := a.clientFor(ctx, uri)
	if err != nil {
		return nil
	}
	if client.IsOpen(uri) {
		return client.CloseFile(ctx, uri)
	}
	return nil
}
