// Package rust implements the bridge's Rust language plugin: `mod`
// declaration rewriting on file move, `use`-path rewriting for crate
// consolidation, and Cargo.toml manifest edits via
// github.com/pelletier/go-toml/v2. Grounded on
// TimAnthonyAlexander-loom/internal/profiler/signals/manifests.go's
// per-manifest-kind extraction switch (its "cargo.toml" case reads
// package name/dependencies the same shape this plugin needs to write
// back), generalized from read-only signal extraction into the
// ManifestUpdater capability's merge/rename writes, and on
// saibing-bingo/langserver/internal/source/ast.go's import-rewrite
// approach, adapted from Go import specs to Rust's textual `use` and
// `mod` statements since this bridge treats Rust syntax as a black-box
// parsing concern (spec §1) rather than embedding a Rust AST library.
package rust

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/pelletier/go-toml/v2"
)

// Plugin is the Rust language backend.
type Plugin struct{}

// New builds the Rust plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string             { return "rust" }
func (p *Plugin) Extensions() []string     { return []string{".rs"} }
func (p *Plugin) ManifestFilename() string { return "Cargo.toml" }

func (p *Plugin) ImportSupport() (plugin.ImportSupport, bool)             { return p, true }
func (p *Plugin) WorkspaceSupport() (plugin.WorkspaceSupport, bool)       { return p, true }
func (p *Plugin) RefactoringProvider() (plugin.RefactoringProvider, bool) { return p, true }
func (p *Plugin) ManifestUpdater() (plugin.ManifestUpdater, bool)         { return p, true }
func (p *Plugin) ModuleLocator() (plugin.ModuleLocator, bool)             { return p, true }

// useRe matches a `use` statement's leading path component run, used by
// RewriteImports (oldImportPath as the leading segment, e.g. a crate
// name). RewriteQualifiedReferences builds its own regex per qualifier.
var useRe = regexp.MustCompile(`^(\s*(?:pub(?:\([^)]*\))?\s+)?use\s+)([A-Za-z0-9_:]+)`)

// RewriteImports rewrites a `use oldImportPath...` statement's leading
// path segment to newImportPath, line by line, the way a textual
// gofix-style rewrite works when no Rust AST library is available to
// this bridge (the bridge's parsing is pluggable and black-box per spec
// §1; Rust source manipulation here is deliberately line-oriented).
func (p *Plugin) RewriteImports(ctx context.Context, fileURI, oldImportPath, newImportPath string) ([]plugin.TextEdit, error) {
	src, err := os.ReadFile(fileURI)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", fileURI, err)
	}

	lines := strings.Split(string(src), "\n")
	changed := false
	for i, line := range lines {
		m := useRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[2] != oldImportPath && !strings.HasPrefix(m[2], oldImportPath+"::") {
			continue
		}
		rest := strings.TrimPrefix(m[2], oldImportPath)
		lines[i] = m[1] + newImportPath + rest + line[len(m[0]):]
		changed = true
	}
	if !changed {
		return nil, nil
	}
	return []plugin.TextEdit{wholeFileReplaceEdit(fileURI, string(src), strings.Join(lines, "\n"))}, nil
}

// ImportPathFor derives the crate-qualified path a module rooted at
// dirPath would be referenced by: the nearest Cargo.toml's package name
// joined with dirPath's position under src/, mirroring Cargo's own
// module-path-from-file-path convention (src/foo/bar.rs ->
// crate_name::foo::bar).
func (p *Plugin) ImportPathFor(ctx context.Context, dirPath string) (string, error) {
	manifestDir, name, err := nearestCargoToml(dirPath)
	if err != nil {
		return "", err
	}
	srcRoot := filepath.Join(manifestDir, "src")
	rel, err := filepath.Rel(srcRoot, dirPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return name, nil
	}
	if rel == "." {
		return name, nil
	}
	return name + "::" + strings.ReplaceAll(filepath.ToSlash(rel), "/", "::"), nil
}

// OnFileRenamed rewrites the `mod` declaration in the parent directory's
// module file after a Rust source file moves, since Rust (unlike Go)
// ties a file's module identity to its path via an explicit `mod name;`
// declaration in the parent module rather than a package clause inside
// the file itself.
func (p *Plugin) OnFileRenamed(ctx context.Context, oldPath, newPath string) ([]plugin.TextEdit, error) {
	if filepath.Dir(oldPath) != filepath.Dir(newPath) {
		// Cross-directory moves are covered by RewriteQualifiedReferences
		// during consolidation; a same-directory rename is the only case
		// a single `mod` declaration edit can resolve unambiguously.
		return nil, nil
	}
	oldName := modNameFor(oldPath)
	newName := modNameFor(newPath)
	if oldName == newName {
		return nil, nil
	}

	parentMod := parentModFile(oldPath)
	if parentMod == "" {
		return nil, nil
	}
	src, err := os.ReadFile(parentMod)
	if err != nil {
		return nil, nil // no parent mod file to rewrite is not an error
	}

	lines := strings.Split(string(src), "\n")
	changed := false
	modRe := regexp.MustCompile(`^(\s*(?:pub(?:\([^)]*\))?\s+)?mod\s+)` + regexp.QuoteMeta(oldName) + `\s*;`)
	for i, line := range lines {
		if m := modRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + newName + ";"
			changed = true
		}
	}
	if !changed {
		return nil, nil
	}
	return []plugin.TextEdit{wholeFileReplaceEdit(parentMod, string(src), strings.Join(lines, "\n"))}, nil
}

// RewriteQualifiedReferences rewrites `oldQualifier::Symbol`-style paths
// to `newQualifier::Symbol` across files, scanning both `use` statements
// and inline fully-qualified references, for crate consolidation.
func (p *Plugin) RewriteQualifiedReferences(ctx context.Context, files []string, oldQualifier, newQualifier string) ([]plugin.TextEdit, error) {
	var edits []plugin.TextEdit
	qualRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(oldQualifier) + `::`)
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("rust: read %s: %w", f, err)
		}
		if !qualRe.MatchString(string(src)) {
			continue
		}
		newSrc := qualRe.ReplaceAllString(string(src), newQualifier+"::")
		edits = append(edits, wholeFileReplaceEdit(f, string(src), newSrc))
	}
	return edits, nil
}

// WorkspaceMembers reads the `[workspace] members = [...]` array from
// the root Cargo.toml.
func (p *Plugin) WorkspaceMembers(ctx context.Context, workspaceRoot string) ([]string, error) {
	path := filepath.Join(workspaceRoot, "Cargo.toml")
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", path, err)
	}
	var doc cargoManifest
	if err := toml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("rust: parse %s: %w", path, err)
	}
	return doc.Workspace.Members, nil
}

// RemoveWorkspaceMember removes memberPath from the root Cargo.toml's
// workspace member list.
func (p *Plugin) RemoveWorkspaceMember(ctx context.Context, workspaceRoot, memberPath string) (*plugin.TextEdit, error) {
	path := filepath.Join(workspaceRoot, "Cargo.toml")
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", path, err)
	}
	var doc cargoManifest
	if err := toml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("rust: parse %s: %w", path, err)
	}
	if len(doc.Workspace.Members) == 0 {
		return nil, nil
	}
	kept := doc.Workspace.Members[:0]
	removed := false
	for _, m := range doc.Workspace.Members {
		if m == memberPath {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	if !removed {
		return nil, nil
	}
	doc.Workspace.Members = kept
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rust: format %s: %w", path, err)
	}
	edit := wholeFileReplaceEdit(path, string(src), string(out))
	return &edit, nil
}

// ManifestPath walks up from dirPath looking for Cargo.toml.
func (p *Plugin) ManifestPath(ctx context.Context, dirPath string) (string, error) {
	dir, _, err := nearestCargoToml(dirPath)
	if err != nil {
		return "", nil
	}
	return filepath.Join(dir, "Cargo.toml"), nil
}

// RenamePackage rewrites a Cargo.toml's `[package] name` field.
func (p *Plugin) RenamePackage(ctx context.Context, manifestPath, oldName, newName string) (*plugin.TextEdit, error) {
	src, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", manifestPath, err)
	}
	var doc cargoManifest
	if err := toml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("rust: parse %s: %w", manifestPath, err)
	}
	doc.Package.Name = newName
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("rust: format %s: %w", manifestPath, err)
	}
	return ptrEdit(wholeFileReplaceEdit(manifestPath, string(src), string(out))), nil
}

// MergeManifests unions sourceManifest's `[dependencies]` table into
// targetManifest's, preferring the target's version string on conflict,
// mirroring golang's package equivalent for crate consolidation.
func (p *Plugin) MergeManifests(ctx context.Context, targetManifest, sourceManifest string) (*plugin.TextEdit, error) {
	targetSrc, err := os.ReadFile(targetManifest)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", targetManifest, err)
	}
	sourceSrc, err := os.ReadFile(sourceManifest)
	if err != nil {
		return nil, fmt.Errorf("rust: read %s: %w", sourceManifest, err)
	}

	var target, source cargoManifest
	if err := toml.Unmarshal(targetSrc, &target); err != nil {
		return nil, fmt.Errorf("rust: parse %s: %w", targetManifest, err)
	}
	if err := toml.Unmarshal(sourceSrc, &source); err != nil {
		return nil, fmt.Errorf("rust: parse %s: %w", sourceManifest, err)
	}

	if target.Dependencies == nil {
		target.Dependencies = make(map[string]interface{})
	}
	for name, spec := range source.Dependencies {
		if _, exists := target.Dependencies[name]; exists {
			continue
		}
		target.Dependencies[name] = spec
	}

	out, err := toml.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("rust: format %s: %w", targetManifest, err)
	}
	return ptrEdit(wholeFileReplaceEdit(targetManifest, string(targetSrc), string(out))), nil
}

// LocateModule resolves a `::`-separated module path to the .rs file
// implementing it, walking src/ the way Cargo's own module resolution
// does: crate::foo::bar -> src/foo/bar.rs, falling back to
// src/foo/bar/mod.rs.
func (p *Plugin) LocateModule(ctx context.Context, workspaceRoot, modulePath string) (string, error) {
	manifestDir, name, err := nearestCargoToml(workspaceRoot)
	if err != nil {
		return "", err
	}
	rel := strings.TrimPrefix(modulePath, name)
	rel = strings.TrimPrefix(rel, "::")
	if rel == "" {
		return filepath.Join(manifestDir, "src", "lib.rs"), nil
	}
	segments := strings.Split(rel, "::")
	asFile := filepath.Join(append([]string{manifestDir, "src"}, segments...)...) + ".rs"
	if _, err := os.Stat(asFile); err == nil {
		return asFile, nil
	}
	asDir := filepath.Join(append([]string{manifestDir, "src"}, segments...)...)
	return filepath.Join(asDir, "mod.rs"), nil
}

type cargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version,omitempty"`
	} `toml:"package"`
	Workspace struct {
		Members []string `toml:"members,omitempty"`
	} `toml:"workspace"`
	Dependencies map[string]interface{} `toml:"dependencies,omitempty"`
}

// nearestCargoToml walks upward from dirPath looking for Cargo.toml,
// returning its directory and declared package name.
func nearestCargoToml(dirPath string) (root, packageName string, err error) {
	dir := dirPath
	for {
		candidate := filepath.Join(dir, "Cargo.toml")
		if data, readErr := os.ReadFile(candidate); readErr == nil {
			var doc cargoManifest
			if err := toml.Unmarshal(data, &doc); err != nil {
				return "", "", fmt.Errorf("rust: parse %s: %w", candidate, err)
			}
			if doc.Package.Name == "" {
				return "", "", fmt.Errorf("rust: %s has no [package] name", candidate)
			}
			return dir, doc.Package.Name, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("rust: no Cargo.toml found above %s", dirPath)
		}
		dir = parent
	}
}

// modNameFor derives the module name Rust infers from a source file's
// base name (foo.rs -> foo; mod.rs -> its parent directory's name).
func modNameFor(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".rs")
	if base == "mod" {
		return filepath.Base(filepath.Dir(path))
	}
	return base
}

// parentModFile finds the file declaring path's module: either the
// sibling mod.rs, or the parent directory's own `<dirname>.rs`.
func parentModFile(path string) string {
	dir := filepath.Dir(path)
	modRS := filepath.Join(dir, "mod.rs")
	if _, err := os.Stat(modRS); err == nil && modRS != path {
		return modRS
	}
	siblingRS := filepath.Join(filepath.Dir(dir), filepath.Base(dir)+".rs")
	if _, err := os.Stat(siblingRS); err == nil {
		return siblingRS
	}
	return ""
}

func wholeFileReplaceEdit(uri, oldText, newText string) plugin.TextEdit {
	lines := strings.Count(oldText, "\n")
	lastLineStart := strings.LastIndexByte(oldText, '\n') + 1
	endCharacter := len(oldText) - lastLineStart
	return plugin.TextEdit{
		URI: uri,
		Range: lsptypes.Range{
			Start: lsptypes.Position{Line: 0, Character: 0},
			End:   lsptypes.Position{Line: lines, Character: endCharacter},
		},
		NewText: newText,
	}
}

func ptrEdit(e plugin.TextEdit) *plugin.TextEdit { return &e }
