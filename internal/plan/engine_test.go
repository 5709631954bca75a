package plan

import (
	"context"
	"testing"

	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(fs *memFS, lsp LSPEditor) *Engine {
	return &Engine{
		FS:      fs,
		Symbols: fakeSymbolSearcher{},
		LSP:     lsp,
		Plugins: plugin.NewRegistry(),
		Log:     logging.Default(),
	}
}

func renameWorkspaceEdit() lsptypes.WorkspaceEdit {
	return lsptypes.WorkspaceEdit{
		Changes: map[string][]lsptypes.TextEdit{
			"src/a.rs": {
				{Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 6}}, NewText: "baz"},
				{Range: lsptypes.Range{Start: lsptypes.Position{Line: 1, Character: 11}, End: lsptypes.Position{Line: 1, Character: 14}}, NewText: "baz"},
			},
		},
	}
}

func TestRenamePlanIsDeterministic(t *testing.T) {
	fs := newMemFS(map[string]string{"src/a.rs": "fn foo() {}\nfn bar() { foo(); }\n"})
	lsp := fakeLSPEditor{renameEdits: renameWorkspaceEdit()}
	e := testEngine(fs, lsp)

	args := RenameArgs{
		Targets: []Target{{Kind: "symbol", Path: "src/a.rs", Position: &lsptypes.Position{Line: 1, Character: 4}, NewName: "baz"}},
		Scope:   "standard",
	}

	p1, err := e.Rename(context.Background(), "/ws", "rust", args)
	require.NoError(t, err)
	p2, err := e.Rename(context.Background(), "/ws", "rust", args)
	require.NoError(t, err)

	assert.Equal(t, p1.Edits, p2.Edits)
	assert.Equal(t, p1.Summary, p2.Summary)
	assert.Equal(t, p1.FileChecksums, p2.FileChecksums)
	assert.Equal(t, 1, p1.Summary.AffectedFiles)
	assert.Len(t, p1.Edits, 2)
	// canonical order: descending range start within the file.
	assert.Equal(t, 1, p1.Edits[0].Range.Start.Line)
}

func TestRenamePlanRejectsOverlappingEdits(t *testing.T) {
	fs := newMemFS(map[string]string{"src/a.rs": "fn foo() {}\n"})
	overlapping := lsptypes.WorkspaceEdit{
		Changes: map[string][]lsptypes.TextEdit{
			"src/a.rs": {
				{Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 0}, End: lsptypes.Position{Line: 0, Character: 5}}, NewText: "x"},
				{Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 8}}, NewText: "y"},
			},
		},
	}
	e := testEngine(fs, fakeLSPEditor{renameEdits: overlapping})
	args := RenameArgs{Targets: []Target{{Kind: "symbol", Path: "src/a.rs", Position: &lsptypes.Position{}, NewName: "baz"}}}

	_, err := e.Rename(context.Background(), "/ws", "rust", args)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrOverlappingEdits, pe.Code)
}

func TestBatchRenameConflictDetectedBeforeEdits(t *testing.T) {
	fs := newMemFS(map[string]string{"a.txt": "a", "b.txt": "b"})
	e := testEngine(fs, fakeLSPEditor{})

	args := RenameArgs{
		Targets: []Target{
			{Kind: "file", Path: "a.txt", NewName: "c.txt"},
			{Kind: "file", Path: "b.txt", NewName: "c.txt"},
		},
	}
	_, err := e.Rename(context.Background(), "/ws", "text", args)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrBatchConflict, pe.Code)
}

func TestAmbiguousSymbolStrictModeFails(t *testing.T) {
	fs := newMemFS(map[string]string{"src/a.rs": "fn foo() {}\n"})
	e := testEngine(fs, fakeLSPEditor{})
	e.Symbols = fakeSymbolSearcher{matches: []SymbolMatch{
		{URI: "src/a.rs", Position: lsptypes.Position{Line: 0}, Name: "foo"},
		{URI: "src/b.rs", Position: lsptypes.Position{Line: 2}, Name: "foo"},
	}}

	args := RenameArgs{Targets: []Target{{Kind: "symbol", Path: "src/a.rs", Symbol: "foo", NewName: "baz"}}, Strict: true}
	_, err := e.Rename(context.Background(), "/ws", "rust", args)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrAmbiguousTarget, pe.Code)
}

func TestAmbiguousSymbolNonStrictReturnsWarning(t *testing.T) {
	fs := newMemFS(map[string]string{"src/a.rs": "fn foo() {}\n"})
	e := testEngine(fs, fakeLSPEditor{})
	e.Symbols = fakeSymbolSearcher{matches: []SymbolMatch{
		{URI: "src/a.rs", Position: lsptypes.Position{Line: 0}, Name: "foo"},
		{URI: "src/b.rs", Position: lsptypes.Position{Line: 2}, Name: "foo"},
	}}

	args := RenameArgs{Targets: []Target{{Kind: "symbol", Path: "src/a.rs", Symbol: "foo", NewName: "baz"}}}
	p, err := e.Rename(context.Background(), "/ws", "rust", args)
	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	assert.Equal(t, WarnMultipleMatches, p.Warnings[0].Code)
	assert.Empty(t, p.Edits)
}

func TestDeletePlanListsTargets(t *testing.T) {
	fs := newMemFS(map[string]string{"x.rs": "x"})
	e := testEngine(fs, fakeLSPEditor{})
	p, err := e.Delete(context.Background(), "rust", DeleteArgs{Paths: []string{"x.rs"}})
	require.NoError(t, err)
	assert.Equal(t, KindDelete, p.Metadata.Kind)
	assert.Equal(t, 1, p.Summary.DeletedFiles)
	require.Len(t, p.DeletionTargets, 1)
	assert.Equal(t, "x.rs", p.DeletionTargets[0].Path)
}
