package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/willibrandon/mtlog/core"
)

// Engine builds Plans. It is a pure function of (plugin, workspace
// state, arguments): every dependency it needs (filesystem reads,
// symbol search, LSP requests) is injected so construction never
// reaches for ambient global state, keeping plan(args) == plan(args)
// true whenever the workspace itself is unchanged (spec §8).
type Engine struct {
	FS       FileSystem
	Symbols  SymbolSearcher
	LSP      LSPEditor
	Plugins  *plugin.Registry
	Log      core.Logger
}

// Target identifies what a rename/move/delete operation acts on.
type Target struct {
	Kind     string          // "symbol" | "file"
	Path     string          // file URI/path the target lives in or is
	Position *lsptypes.Position
	Symbol   string          // explicit symbol name, used when Position is nil
	NewName  string          // destination name for this target
}

// RenameArgs is rename.plan's argument shape.
type RenameArgs struct {
	Targets []Target
	Scope   string
	Strict  bool
}

// Rename builds a rename plan: symbol targets are resolved and renamed
// through the LSP, file targets are augmented by the language plugin
// and, outside the code scope, by the path-literal scan; the result
// goes through the common overlap/ordering/checksum step.
func (e *Engine) Rename(ctx context.Context, workspaceRoot, language string, args RenameArgs) (*Plan, error) {
	scope, scopeWarning := canonicalizeScope(args.Scope)

	if len(args.Targets) > 1 {
		if err := detectBatchConflicts(args.Targets); err != nil {
			return nil, err
		}
	}

	var allEdits []Edit
	var warnings []Warning
	if scopeWarning != "" {
		warnings = append(warnings, Warning{Code: WarnScopeAlias, Message: scopeWarning})
	}
	var renames []RenameFileEntry

	for _, t := range args.Targets {
		switch t.Kind {
		case "symbol":
			pos, resolveWarnings, err := e.resolveSymbolTarget(ctx, workspaceRoot, t, args.Strict)
			if err != nil {
				return nil, err
			}
			warnings = append(warnings, resolveWarnings...)
			if pos == nil {
				// ambiguous and non-strict: plan returns no edits for
				// this target, per spec §4.4.1 step 1.
				continue
			}
			we, err := e.LSP.Rename(ctx, t.Path, *pos, t.NewName)
			if err != nil {
				return nil, newError(ErrPluginFailure, fmt.Sprintf("LSP rename failed: %v", err), t.Path)
			}
			allEdits = append(allEdits, flattenWorkspaceEdit(we)...)

		case "file":
			renames = append(renames, RenameFileEntry{OldPath: t.Path, NewPath: t.NewName})
			astEdits, err := e.augmentRenamedFile(ctx, t.Path, t.NewName, language)
			if err != nil {
				return nil, err
			}
			allEdits = append(allEdits, astEdits...)

			if scope != ScopeCode {
				scanEdits, err := e.scanPathLiterals(workspaceRoot, t.Path, t.NewName, scope)
				if err != nil {
					return nil, err
				}
				allEdits = append(allEdits, scanEdits...)
			}

		default:
			return nil, newError(ErrNotFound, "unknown target kind: "+t.Kind)
		}
	}

	return e.finishPlan(KindRename, language, allEdits, renames, nil, warnings)
}

// MoveArgs is move.plan's argument shape, including the Rust-specific
// crate-consolidation switch (spec §4.4.1's "Consolidation" phase).
type MoveArgs struct {
	Source      string
	Destination string
	Consolidate *bool // nil means auto-detect
}

func (e *Engine) Move(ctx context.Context, workspaceRoot, language string, args MoveArgs) (*Plan, error) {
	var allEdits []Edit
	var warnings []Warning
	var deletions []DeletionTarget

	renames := []RenameFileEntry{{OldPath: args.Source, NewPath: args.Destination}}

	astEdits, err := e.augmentRenamedFile(ctx, args.Source, args.Destination, language)
	if err != nil {
		return nil, err
	}
	allEdits = append(allEdits, astEdits...)

	autoConsolidate := e.detectConsolidation(ctx, args.Source, args.Destination, language)
	consolidate := autoConsolidate
	if args.Consolidate != nil {
		if *args.Consolidate != autoConsolidate {
			warnings = append(warnings, Warning{
				Code:    WarnConsolidationOverride,
				Message: "explicit consolidate flag overrides auto-detection",
			})
		}
		consolidate = *args.Consolidate
	}

	if consolidate {
		mergeEdits, mergeDeletions, err := e.consolidate(ctx, workspaceRoot, args.Source, args.Destination, language)
		if err != nil {
			return nil, err
		}
		allEdits = append(allEdits, mergeEdits...)
		deletions = append(deletions, mergeDeletions...)
	}

	return e.finishPlan(KindMove, language, allEdits, renames, deletions, warnings)
}

// DeleteArgs is delete.plan's argument shape.
type DeleteArgs struct {
	Paths []string
}

func (e *Engine) Delete(ctx context.Context, language string, args DeleteArgs) (*Plan, error) {
	deletions := make([]DeletionTarget, 0, len(args.Paths))
	for _, p := range args.Paths {
		deletions = append(deletions, DeletionTarget{Path: p})
	}
	return e.finishPlan(KindDelete, language, nil, nil, deletions, nil)
}

// StructuralArgs covers extract/inline/reorder/transform: each names a
// region and a code-action-like operation kind the LSP or the plugin's
// RefactoringProvider performs. These four kinds are intentionally
// handled uniformly — the spec narrates rename/move/delete in detail
// and leaves these as "the LSP already knows how"; the bridge asks the
// server for a matching code action and falls back to the plugin's
// RefactoringProvider when the server has none.
type StructuralArgs struct {
	URI        string
	Range      lsptypes.Range
	ActionKind string // e.g. "refactor.extract", "refactor.inline", "refactor.rewrite"
}

func (e *Engine) Structural(ctx context.Context, kind Kind, language string, args StructuralArgs) (*Plan, error) {
	we, err := e.LSP.CodeActions(ctx, args.URI, args.Range, args.ActionKind)
	if err != nil {
		return nil, newError(ErrPluginFailure, fmt.Sprintf("LSP code action %s failed: %v", args.ActionKind, err), args.URI)
	}
	edits := flattenWorkspaceEdit(we)

	if len(edits) == 0 {
		if p, ok := e.Plugins.FindByExtension(args.URI); ok {
			if rp, ok := p.RefactoringProvider(); ok {
				pluginEdits, err := rp.OnFileRenamed(ctx, args.URI, args.URI)
				if err != nil {
					return nil, newError(ErrPluginFailure, err.Error(), args.URI)
				}
				for _, pe := range pluginEdits {
					edits = append(edits, Edit{URI: pe.URI, Range: pe.Range, NewText: pe.NewText})
				}
			}
		}
	}

	return e.finishPlan(kind, language, edits, nil, nil, nil)
}

// Reorder reorders declarations within a single file; the LSP's
// document-symbol-driven code action covers this, so it shares the
// Structural path with ActionKind "refactor.rewrite.reorder".
func (e *Engine) Reorder(ctx context.Context, language string, args StructuralArgs) (*Plan, error) {
	args.ActionKind = "refactor.rewrite.reorder"
	return e.Structural(ctx, KindReorder, language, args)
}

func (e *Engine) resolveSymbolTarget(ctx context.Context, root string, t Target, strict bool) (*lsptypes.Position, []Warning, error) {
	if t.Position != nil {
		return t.Position, nil, nil
	}
	matches, err := e.Symbols.SearchWorkspaceSymbols(ctx, root, t.Symbol)
	if err != nil {
		return nil, nil, newError(ErrPluginFailure, err.Error())
	}
	if len(matches) == 0 {
		return nil, nil, newError(ErrNotFound, "no symbol matched: "+t.Symbol)
	}
	if len(matches) == 1 {
		return &matches[0].Position, nil, nil
	}
	candidates := make([]string, len(matches))
	for i, m := range matches {
		candidates[i] = fmt.Sprintf("%s:%d:%d (%s)", m.URI, m.Position.Line, m.Position.Character, m.Name)
	}
	if strict {
		return nil, nil, newError(ErrAmbiguousTarget, "ambiguous symbol in strict mode: "+t.Symbol)
	}
	return nil, []Warning{{Code: WarnMultipleMatches, Message: "ambiguous symbol: " + t.Symbol, Candidates: candidates}}, nil
}

func detectBatchConflicts(targets []Target) error {
	seen := make(map[string]bool)
	for _, t := range targets {
		dest := t.NewName
		if seen[dest] {
			return newError(ErrBatchConflict, "multiple targets map to the same destination", dest)
		}
		seen[dest] = true
	}
	return nil
}

func (e *Engine) augmentRenamedFile(ctx context.Context, oldPath, newPath, language string) ([]Edit, error) {
	p, ok := e.Plugins.FindByLanguage(language)
	if !ok {
		return nil, nil
	}
	var out []Edit
	if rp, ok := p.RefactoringProvider(); ok {
		edits, err := rp.OnFileRenamed(ctx, oldPath, newPath)
		if err != nil {
			return nil, newError(ErrPluginFailure, err.Error(), oldPath)
		}
		for _, pe := range edits {
			out = append(out, Edit{URI: pe.URI, Range: pe.Range, NewText: pe.NewText})
		}
	}
	if is, ok := p.ImportSupport(); ok {
		oldImport, err := is.ImportPathFor(ctx, filepath.Dir(oldPath))
		if err == nil {
			newImport, err := is.ImportPathFor(ctx, filepath.Dir(newPath))
			if err == nil && oldImport != newImport {
				edits, err := is.RewriteImports(ctx, newPath, oldImport, newImport)
				if err == nil {
					for _, pe := range edits {
						out = append(out, Edit{URI: pe.URI, Range: pe.Range, NewText: pe.NewText})
					}
				}
			}
		}
	}
	if mu, ok := p.ManifestUpdater(); ok {
		manifestPath, err := mu.ManifestPath(ctx, filepath.Dir(oldPath))
		if err == nil && manifestPath != "" {
			edit, err := mu.RenamePackage(ctx, manifestPath, filepath.Base(oldPath), filepath.Base(newPath))
			if err == nil && edit != nil {
				out = append(out, Edit{URI: edit.URI, Range: edit.Range, NewText: edit.NewText})
			}
		}
	}
	return out, nil
}

// wholeFileRange spans all of content, matching the line/character
// accounting the language plugins' wholeFileReplaceEdit helper uses
// (counting newlines for the line and the trailing partial line's
// length for the character, rather than content's byte length).
func wholeFileRange(content string) lsptypes.Range {
	lines := strings.Count(content, "\n")
	lastLineStart := strings.LastIndexByte(content, '\n') + 1
	endCharacter := len(content) - lastLineStart
	return lsptypes.Range{
		Start: lsptypes.Position{Line: 0, Character: 0},
		End:   lsptypes.Position{Line: lines, Character: endCharacter},
	}
}

func (e *Engine) scanPathLiterals(workspaceRoot, oldPath, newPath string, scope Scope) ([]Edit, error) {
	exts := scanExtensionsForScope(scope)
	if len(exts) == 0 {
		return nil, nil
	}
	var edits []Edit
	rewrite := func(value string) (string, bool) {
		return scanStringLiteral(value, oldPath, newPath)
	}
	err := e.FS.Walk(workspaceRoot, exts, func(path string) error {
		content, err := e.FS.ReadFile(path)
		if err != nil {
			return err
		}
		var changed bool
		var out []byte
		switch {
		case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
			out, changed, err = scanYAMLStrings(content, rewrite)
		case strings.HasSuffix(path, ".toml"):
			out, changed, err = scanTOMLStrings(content, rewrite)
		case strings.HasSuffix(path, ".md"):
			matches := scanMarkdownPathLiterals(content, oldPath)
			changed = len(matches) > 0
			if changed {
				text := string(content)
				for _, m := range matches {
					text = strings.ReplaceAll(text, m.Literal, strings.ReplaceAll(m.Literal, oldPath, newPath))
				}
				out = []byte(text)
			} else {
				out = content
			}
		default:
			return nil
		}
		if err != nil {
			e.Log.Warning("skipping unparsable {Path} during path-literal scan: {Error}", path, err)
			return nil
		}
		if !changed {
			return nil
		}
		edits = append(edits, Edit{
			URI:     path,
			Range:   wholeFileRange(string(content)),
			NewText: string(out),
		})
		return nil
	})
	return edits, err
}

// detectConsolidation implements the heuristic from spec §9: source has
// a package manifest and destination is inside another package's source
// tree.
func (e *Engine) detectConsolidation(ctx context.Context, source, destination, language string) bool {
	p, ok := e.Plugins.FindByLanguage(language)
	if !ok {
		return false
	}
	mu, ok := p.ManifestUpdater()
	if !ok {
		return false
	}
	sourceManifest, err := mu.ManifestPath(ctx, source)
	if err != nil || sourceManifest == "" {
		return false
	}
	destManifest, err := mu.ManifestPath(ctx, filepath.Dir(destination))
	if err != nil || destManifest == "" {
		return false
	}
	return destManifest != sourceManifest
}

func (e *Engine) consolidate(ctx context.Context, workspaceRoot, source, destination, language string) ([]Edit, []DeletionTarget, error) {
	p, ok := e.Plugins.FindByLanguage(language)
	if !ok {
		return nil, nil, nil
	}
	var edits []Edit
	mu, hasManifest := p.ManifestUpdater()
	rp, hasRefactor := p.RefactoringProvider()
	ws, hasWorkspace := p.WorkspaceSupport()

	if hasManifest {
		sourceManifest, _ := mu.ManifestPath(ctx, source)
		destManifest, _ := mu.ManifestPath(ctx, filepath.Dir(destination))
		if sourceManifest != "" && destManifest != "" {
			edit, err := mu.MergeManifests(ctx, destManifest, sourceManifest)
			if err != nil {
				return nil, nil, newError(ErrPluginFailure, err.Error(), sourceManifest)
			}
			if edit != nil {
				edits = append(edits, Edit{URI: edit.URI, Range: edit.Range, NewText: edit.NewText})
			}
		}
	}

	if hasRefactor {
		oldQualifier := filepath.Base(source)
		newQualifier := filepath.Base(filepath.Dir(destination))
		qualifiedEdits, err := rp.RewriteQualifiedReferences(ctx, []string{destination}, oldQualifier, newQualifier)
		if err != nil {
			return nil, nil, newError(ErrPluginFailure, err.Error())
		}
		for _, qe := range qualifiedEdits {
			edits = append(edits, Edit{URI: qe.URI, Range: qe.Range, NewText: qe.NewText})
		}
	}

	if hasWorkspace {
		if memberPath, err := filepath.Rel(workspaceRoot, source); err == nil && !strings.HasPrefix(memberPath, "..") {
			memberPath = filepath.ToSlash(memberPath)
			edit, err := ws.RemoveWorkspaceMember(ctx, workspaceRoot, memberPath)
			if err != nil {
				return nil, nil, newError(ErrPluginFailure, err.Error(), workspaceRoot)
			}
			if edit != nil {
				edits = append(edits, Edit{URI: edit.URI, Range: edit.Range, NewText: edit.NewText})
			}
		}
	}

	if ml, hasLocator := p.ModuleLocator(); hasLocator && hasRefactor {
		// Sanity-check the qualifier RewriteQualifiedReferences just used
		// actually still resolves to source's old location before the
		// plan deletes it, so a plugin whose module-path derivation
		// disagrees with its own locator surfaces as a warning source
		// rather than silently mismatched edits.
		if is, hasImports := p.ImportSupport(); hasImports {
			if modulePath, err := is.ImportPathFor(ctx, source); err == nil {
				if resolved, err := ml.LocateModule(ctx, workspaceRoot, modulePath); err != nil || resolved == "" {
					e.Log.Warning("consolidation: {Language} plugin's ModuleLocator could not resolve {ModulePath} back to {Source}", language, modulePath, source)
				}
			}
		}
	}

	deletions := []DeletionTarget{{Path: source}}
	return edits, deletions, nil
}

func (e *Engine) finishPlan(kind Kind, language string, edits []Edit, renames []RenameFileEntry, deletions []DeletionTarget, warnings []Warning) (*Plan, error) {
	if err := checkNonOverlapping(edits); err != nil {
		return nil, err
	}
	ordered := canonicalOrder(edits)

	checksums := make(map[string]string)
	touched := make(map[string]bool)
	for _, e2 := range ordered {
		touched[e2.URI] = true
	}
	for _, r := range renames {
		touched[r.OldPath] = true
	}
	for _, d := range deletions {
		touched[d.Path] = true
	}
	var affected, created, deleted int
	for uri := range touched {
		if !e.FS.Exists(uri) {
			created++
			continue
		}
		content, err := e.FS.ReadFile(uri)
		if err != nil {
			return nil, newError(ErrIOFailure, err.Error(), uri)
		}
		checksums[uri] = checksumBytes(content)
		affected++
	}
	for _, d := range deletions {
		deleted++
		_ = d
	}

	return &Plan{
		Metadata: Metadata{
			Kind:        kind,
			Language:    language,
			PlanVersion: PlanVersion,
			CreatedAt:   time.Now(),
		},
		Edits:           ordered,
		FileRenames:     renames,
		DeletionTargets: deletions,
		Summary: Summary{
			AffectedFiles: affected,
			CreatedFiles:  created,
			DeletedFiles:  deleted,
		},
		Warnings:      warnings,
		FileChecksums: checksums,
	}, nil
}
