// Package plugin defines the capability-based language plugin interface
// and the extension-keyed registry that selects a plugin for a file.
// This replaces the teacher's single hard-coded Go backend (bingo only
// ever spoke gobuild/gocode) with the orthogonal capability-slot design
// called for by the bridge's multi-language scope: a plugin advertises
// only the capabilities it actually implements, and handlers query by
// capability rather than downcasting to a concrete type.
package plugin

import (
	"context"

	"github.com/mcplsp/bridge/internal/lsptypes"
)

// TextEdit is a (range, replacement) pair in a specific file, the shape
// every capability method returns so the plan engine can flatten them
// uniformly regardless of which capability produced them.
type TextEdit struct {
	URI     string
	Range   lsptypes.Range
	NewText string
}

// ImportSupport rewrites import/use declarations, e.g. after a rename
// or move changes an importable path.
type ImportSupport interface {
	// RewriteImports returns edits updating any import/use statement in
	// fileURI that refers to oldImportPath, to refer to newImportPath
	// instead. Returns no edits if fileURI has no matching import.
	RewriteImports(ctx context.Context, fileURI, oldImportPath, newImportPath string) ([]TextEdit, error)
	// ImportPathFor derives the importable path a plugin would use to
	// reference the package/module/crate rooted at dirPath.
	ImportPathFor(ctx context.Context, dirPath string) (string, error)
}

// WorkspaceSupport handles multi-package manifest operations that span
// more than a single file, such as workspace member lists.
type WorkspaceSupport interface {
	// WorkspaceMembers lists the member package/module paths declared by
	// the workspace-level manifest at workspaceRoot.
	WorkspaceMembers(ctx context.Context, workspaceRoot string) ([]string, error)
	// RemoveWorkspaceMember returns an edit removing memberPath from the
	// workspace-level manifest at workspaceRoot, or no edit if the
	// manifest has no explicit member list (e.g. Go's directory-implicit
	// modules).
	RemoveWorkspaceMember(ctx context.Context, workspaceRoot, memberPath string) (*TextEdit, error)
}

// RefactoringProvider supplies AST-level edits an LSP server's rename
// response does not cover: module-declaration updates after a file
// move, cross-crate path rewrites, and similar structural changes.
type RefactoringProvider interface {
	// OnFileRenamed returns edits required purely because of the move
	// (not captured by the LSP's own textDocument/rename), e.g.
	// rewriting `mod` declarations or package clauses.
	OnFileRenamed(ctx context.Context, oldPath, newPath string) ([]TextEdit, error)
	// RewriteQualifiedReferences returns edits rewriting fully qualified
	// references like `source_crate::X` to `target_crate::module::X`
	// across the given candidate file set, used by crate consolidation.
	RewriteQualifiedReferences(ctx context.Context, files []string, oldQualifier, newQualifier string) ([]TextEdit, error)
}

// ManifestUpdater edits package descriptor files (go.mod, Cargo.toml)
// when an operation changes package identity or boundaries.
type ManifestUpdater interface {
	// ManifestPath returns the manifest file governing dirPath, or ""
	// if dirPath has no manifest of this plugin's kind.
	ManifestPath(ctx context.Context, dirPath string) (string, error)
	// RenamePackage returns an edit updating the manifest's own
	// declared name/path after a package-root rename.
	RenamePackage(ctx context.Context, manifestPath, oldName, newName string) (*TextEdit, error)
	// MergeManifests returns an edit to targetManifest that unions its
	// dependency set with sourceManifest's, preferring the target's
	// values on conflict, for crate/module consolidation.
	MergeManifests(ctx context.Context, targetManifest, sourceManifest string) (*TextEdit, error)
}

// ModuleLocator finds the path implementing a named module/package, the
// capability scope-scanning and move-target resolution depend on.
type ModuleLocator interface {
	// LocateModule returns the path implementing the module named by
	// dotted or slash-separated modulePath, rooted at workspaceRoot: a
	// file for Rust modules, a directory for Go packages.
	LocateModule(ctx context.Context, workspaceRoot, modulePath string) (string, error)
}

// Plugin is the full interface a language backend registers. Capability
// accessors return false when the plugin doesn't implement that slot;
// handlers must check before calling, never type-assert the Plugin
// itself.
type Plugin interface {
	// Name is the language name this plugin is registered under
	// (matches config.LanguageServer.Language).
	Name() string
	// Extensions lists the file extensions (with leading dot) this
	// plugin claims authority over.
	Extensions() []string
	// ManifestFilename is the package descriptor filename this
	// language uses (e.g. "go.mod", "Cargo.toml"), or "" if none.
	ManifestFilename() string

	ImportSupport() (ImportSupport, bool)
	WorkspaceSupport() (WorkspaceSupport, bool)
	RefactoringProvider() (RefactoringProvider, bool)
	ManifestUpdater() (ManifestUpdater, bool)
	ModuleLocator() (ModuleLocator, bool)
}
