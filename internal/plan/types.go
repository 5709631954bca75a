// Package plan implements the Refactoring Plan/Apply Engine: pure plan
// construction from LSP edits, AST-derived edits, and manifest edits,
// followed by atomic, checksummed, rollback-capable application. This
// is the bridge's largest component, grounded on the teacher's
// handler.go command dispatch shape (one pure "compute a WorkspaceEdit"
// step, pushed through a structured response) generalized into a
// two-phase plan/apply split the teacher never needed because bingo
// only ever proxies LSP rename/codeAction requests directly.
package plan

import (
	"sort"
	"time"

	"github.com/mcplsp/bridge/internal/lsptypes"
)

// Kind tags which of the seven plan operations produced a Plan.
type Kind string

const (
	KindRename    Kind = "rename"
	KindExtract   Kind = "extract"
	KindInline    Kind = "inline"
	KindMove      Kind = "move"
	KindReorder   Kind = "reorder"
	KindTransform Kind = "transform"
	KindDelete    Kind = "delete"
)

// Scope controls how broadly a rename/move searches for references
// outside of code, per spec §4.4.1.
type Scope string

const (
	ScopeCode       Scope = "code"
	ScopeStandard   Scope = "standard"
	ScopeComments   Scope = "comments"
	ScopeEverything Scope = "everything"
)

// canonicalizeScope maps deprecated scope aliases onto their current
// name, returning a warning message when a rewrite occurred.
func canonicalizeScope(raw string) (Scope, string) {
	switch raw {
	case "", string(ScopeStandard):
		return ScopeStandard, ""
	case string(ScopeCode):
		return ScopeCode, ""
	case string(ScopeComments):
		return ScopeComments, ""
	case string(ScopeEverything):
		return ScopeEverything, ""
	case "minimal":
		return ScopeCode, "scope \"minimal\" is deprecated; use \"code\""
	case "all":
		return ScopeEverything, "scope \"all\" is deprecated; use \"everything\""
	default:
		return ScopeStandard, "unrecognized scope \"" + raw + "\"; defaulting to \"standard\""
	}
}

// Edit is one (range, replacement) change against one file, the plan's
// serializable edit unit (spec §3's "edits grouped by file URI").
type Edit struct {
	URI     string         `json:"uri"`
	Range   lsptypes.Range `json:"range"`
	NewText string         `json:"new_text"`
}

// WarningCode enumerates the non-fatal advisories a plan may carry.
type WarningCode string

const (
	WarnMultipleMatches WarningCode = "multiple_matches"
	WarnScopeAlias      WarningCode = "scope_alias"
	WarnConsolidationOverride WarningCode = "consolidation_override"
)

// Warning is a non-fatal advisory attached to a plan.
type Warning struct {
	Code       WarningCode `json:"code"`
	Message    string      `json:"message"`
	Candidates []string    `json:"candidates,omitempty"`
}

// Summary counts the files a plan touches.
type Summary struct {
	AffectedFiles int `json:"affected_files"`
	CreatedFiles  int `json:"created_files"`
	DeletedFiles  int `json:"deleted_files"`
}

// PlanVersion is the current plan schema version. Plans carry this at
// construction time; apply rejects a plan whose major version differs
// from the engine's current major version (Open Question resolution,
// see DESIGN.md).
const PlanVersion = "1.0.0"

// Metadata is the plan's fixed identification block.
type Metadata struct {
	Kind        Kind      `json:"kind"`
	Language    string    `json:"language"`
	PlanVersion string    `json:"plan_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeletionTarget names a file slated for removal, used by DeletePlan
// and by move/consolidate operations that delete a source directory.
type DeletionTarget struct {
	Path string `json:"path"`
}

// RenameFileEntry names a single file move within a plan (move/rename
// of a file or directory).
type RenameFileEntry struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

// Plan is the immutable value produced by a *.plan tool. It is pure
// data: applying it must never require reaching back into live plugin
// or LSP Client state, per the plan-immutability design note (spec §9).
type Plan struct {
	Metadata Metadata `json:"metadata"`

	// Edits are grouped implicitly by URI field and are already in
	// canonical order: by file path ascending, then by range start
	// descending within a file (spec §4.4.2).
	Edits []Edit `json:"edits"`

	// DeletionTargets lists files to delete, distinct from Edits, used
	// by DeletePlan and consolidation's source-directory removal.
	DeletionTargets []DeletionTarget `json:"deletion_targets,omitempty"`

	// FileRenames lists file/directory moves this plan performs before
	// its Edits are applied.
	FileRenames []RenameFileEntry `json:"file_renames,omitempty"`

	Summary       Summary            `json:"summary"`
	Warnings      []Warning          `json:"warnings"`
	FileChecksums map[string]string  `json:"file_checksums"`

	// consumed marks a plan that has already been passed to Apply once;
	// the engine refuses re-application of a consumed plan instance
	// even if checksums would still verify, per spec §3's lifecycle
	// invariant. A caller that wants to retry must re-plan.
	consumed bool
}

// EditsForFile returns p's edits touching uri, in canonical order.
func (p *Plan) EditsForFile(uri string) []Edit {
	var out []Edit
	for _, e := range p.Edits {
		if e.URI == uri {
			out = append(out, e)
		}
	}
	return out
}

// Files returns the sorted, de-duplicated set of file URIs this plan
// touches via edits, renames, or deletions.
func (p *Plan) Files() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(uri string) {
		if !seen[uri] {
			seen[uri] = true
			out = append(out, uri)
		}
	}
	for _, e := range p.Edits {
		add(e.URI)
	}
	for _, r := range p.FileRenames {
		add(r.OldPath)
		add(r.NewPath)
	}
	for _, d := range p.DeletionTargets {
		add(d.Path)
	}
	sort.Strings(out)
	return out
}
