package plan

import (
	"context"

	"github.com/mcplsp/bridge/internal/lsptypes"
)

// FileSystem is the narrow filesystem surface plan construction and
// apply need. Production code backs this with real os.* calls; tests
// back it with an in-memory fake, since plan construction must remain a
// pure function of (plugin, workspace state, arguments) with no direct
// syscalls sprinkled through the construction phases.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Exists(path string) bool
	// Walk invokes fn for every regular file under root whose name
	// matches one of the given extensions (used by the path-literal
	// scanner and by workspace-wide reference rewrites).
	Walk(root string, extensions []string, fn func(path string) error) error

	// WriteFileAtomic writes content to path via a temp-file-plus-rename
	// sequence in the same directory, per spec §4.4.3 step 3.
	WriteFileAtomic(path string, content []byte) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	MkdirAll(dir string) error
}

// DocumentSync notifies any LSP Client with a file open that its
// contents changed underneath it, so the server's own view stays fresh
// for the next request (spec §4.4.3 step 3's "notify it with didChange
// (or close+open)").
type DocumentSync interface {
	NotifyFileChanged(ctx context.Context, uri, newContent string) error
	NotifyFileRenamed(ctx context.Context, oldURI, newURI string) error
	NotifyFileDeleted(ctx context.Context, uri string) error
}

// CacheInvalidator drops any cached AST/document state for a file,
// invoked on successful apply per spec §4.4.3 step 6.
type CacheInvalidator interface {
	InvalidateFile(uri string)
}

// SymbolMatch is one candidate returned by workspace symbol search.
type SymbolMatch struct {
	URI      string
	Position lsptypes.Position
	Name     string
}

// SymbolSearcher resolves a symbol-kind target to a position, per spec
// §4.4.1 step 1's search_workspace_symbols fallback.
type SymbolSearcher interface {
	SearchWorkspaceSymbols(ctx context.Context, root, query string) ([]SymbolMatch, error)
}

// LSPEditor is the subset of LSP requests plan construction drives
// directly. It is satisfied by a thin adapter over *lspclient.Client in
// production and by a scripted fake in tests.
type LSPEditor interface {
	Rename(ctx context.Context, uri string, pos lsptypes.Position, newName string) (lsptypes.WorkspaceEdit, error)
	CodeActions(ctx context.Context, uri string, r lsptypes.Range, kind string) (lsptypes.WorkspaceEdit, error)
}

// flattenWorkspaceEdit converts the LSP's nested WorkspaceEdit shape
// into the plan's flat per-file Edit slice, per the "edits as a flat
// ordered sequence" design note (spec §9).
func flattenWorkspaceEdit(we lsptypes.WorkspaceEdit) []Edit {
	var out []Edit
	for uri, edits := range we.Changes {
		for _, e := range edits {
			out = append(out, Edit{URI: uri, Range: e.Range, NewText: e.NewText})
		}
	}
	for _, dc := range we.DocumentChanges {
		for _, e := range dc.Edits {
			out = append(out, Edit{URI: dc.URI, Range: e.Range, NewText: e.NewText})
		}
	}
	return out
}
