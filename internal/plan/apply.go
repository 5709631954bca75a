package plan

import (
	"context"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/willibrandon/mtlog/core"
)

// ValidationCommand is an optional post-apply shell command; a non-zero
// exit triggers rollback (spec §4.4.3 step 4). Running an arbitrary
// configured command is inherently a stdlib os/exec concern — no pack
// library wraps "run a command with a timeout" any better than
// context.WithTimeout + exec.CommandContext, so this one piece of the
// apply engine is deliberately stdlib-only (see DESIGN.md).
type ValidationCommand struct {
	Command        string
	TimeoutSeconds int
}

// Options controls one Apply call.
type Options struct {
	ValidateChecksums bool
	RollbackOnError   bool
	Validation        *ValidationCommand
}

// DefaultOptions matches spec §4.4.3's documented defaults.
func DefaultOptions() Options {
	return Options{ValidateChecksums: true, RollbackOnError: true}
}

// RollbackState reports what happened when an apply failed.
type RollbackState string

const (
	RollbackNone      RollbackState = "none"
	RollbackSucceeded RollbackState = "succeeded"
	RollbackFailed    RollbackState = "failed"
)

// Result is Apply's success/failure report.
type Result struct {
	AppliedFiles  []string
	Rollback      RollbackState
	InconsistentFiles []string
}

// snapshot captures a file's pre-apply state for rollback.
type snapshot struct {
	path    string
	existed bool
	content []byte
}

// fileLocks serializes concurrent applies touching the same file. Per
// spec §5, per-file locks (not a global workspace lock) are sufficient
// because plans are the only legitimate mutation path.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*sync.Mutex)}
}

func (f *fileLocks) lockFor(path string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.locks[path]
	if !ok {
		m = &sync.Mutex{}
		f.locks[path] = m
	}
	return m
}

// Applier executes Plans against a workspace.
type Applier struct {
	FS       FileSystem
	Sync     DocumentSync
	Cache    CacheInvalidator
	Log      core.Logger
	locks    *fileLocks
}

// NewApplier builds an Applier with its own per-file lock table.
func NewApplier(fs FileSystem, sync DocumentSync, cache CacheInvalidator, log core.Logger) *Applier {
	return &Applier{FS: fs, Sync: sync, Cache: cache, Log: log, locks: newFileLocks()}
}

// Apply executes p per spec §4.4.3. p is consumed: a second Apply call
// on the same *Plan value fails with ErrPlanConsumed even if checksums
// would still verify, per the plan lifecycle invariant (spec §3).
func (a *Applier) Apply(ctx context.Context, p *Plan, opts Options) (*Result, error) {
	if p.consumed {
		return nil, newError(ErrPlanConsumed, "plan has already been applied")
	}
	if err := checkVersionCompatible(p.Metadata.PlanVersion); err != nil {
		return nil, err
	}

	files := p.Files()
	locksHeld := a.acquireLocks(files)
	defer a.releaseLocks(locksHeld)

	if opts.ValidateChecksums {
		if err := a.verifyChecksums(p); err != nil {
			return nil, err
		}
	}
	if err := a.verifyEditBounds(p); err != nil {
		return nil, err
	}

	snapshots, err := a.takeSnapshots(p, files)
	if err != nil {
		return nil, err
	}

	applied, applyErr := a.applyOps(ctx, p)
	if applyErr == nil && opts.Validation != nil {
		applyErr = a.runValidation(ctx, *opts.Validation)
	}

	if applyErr != nil {
		p.consumed = true
		if !opts.RollbackOnError {
			return &Result{AppliedFiles: applied, Rollback: RollbackNone}, applyErr
		}
		touched := make(map[string]bool, len(applied))
		for _, f := range applied {
			touched[f] = true
		}
		var toRestore []snapshot
		for _, s := range snapshots {
			if touched[s.path] {
				toRestore = append(toRestore, s)
			}
		}
		if rollbackErr := a.rollback(toRestore); rollbackErr != nil {
			inconsistent := make([]string, len(toRestore))
			for i, s := range toRestore {
				inconsistent[i] = s.path
			}
			return &Result{Rollback: RollbackFailed, InconsistentFiles: inconsistent},
				newError(ErrRollbackFailed, rollbackErr.Error(), inconsistent...)
		}
		return &Result{Rollback: RollbackSucceeded}, applyErr
	}

	p.consumed = true
	for _, uri := range applied {
		a.Cache.InvalidateFile(uri)
	}
	return &Result{AppliedFiles: applied, Rollback: RollbackNone}, nil
}

func (a *Applier) acquireLocks(files []string) []*sync.Mutex {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, f := range sorted {
		m := a.locks.lockFor(f)
		m.Lock()
		held = append(held, m)
	}
	return held
}

func (a *Applier) releaseLocks(held []*sync.Mutex) {
	for i := len(held) - 1; i >= 0; i-- {
		held[i].Unlock()
	}
}

func (a *Applier) verifyChecksums(p *Plan) error {
	var drifted []string
	for path, want := range p.FileChecksums {
		if !a.FS.Exists(path) {
			drifted = append(drifted, path)
			continue
		}
		content, err := a.FS.ReadFile(path)
		if err != nil {
			drifted = append(drifted, path)
			continue
		}
		if checksumBytes(content) != want {
			drifted = append(drifted, path)
		}
	}
	if len(drifted) > 0 {
		return newError(ErrChecksumDrift, "file contents changed since plan was built", drifted...)
	}
	return nil
}

func (a *Applier) verifyEditBounds(p *Plan) error {
	byFile := flattenEdits(p.Edits)
	for uri, ops := range byFile {
		if !a.FS.Exists(uri) {
			continue // CreateFile-only plans cover new files
		}
		content, err := a.FS.ReadFile(uri)
		if err != nil {
			return newError(ErrIOFailure, err.Error(), uri)
		}
		if _, err := applyOpsToContent(string(content), ops); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) takeSnapshots(p *Plan, files []string) ([]snapshot, error) {
	snapshots := make([]snapshot, 0, len(files))
	for _, f := range files {
		if a.FS.Exists(f) {
			content, err := a.FS.ReadFile(f)
			if err != nil {
				return nil, newError(ErrIOFailure, err.Error(), f)
			}
			snapshots = append(snapshots, snapshot{path: f, existed: true, content: content})
		} else {
			snapshots = append(snapshots, snapshot{path: f, existed: false})
		}
	}
	return snapshots, nil
}

func (a *Applier) applyOps(ctx context.Context, p *Plan) ([]string, error) {
	var applied []string

	// File moves happen first (per spec §4.4.3 step 3: "for
	// directory-scope plans, file moves happen first").
	for _, r := range p.FileRenames {
		if err := a.FS.Rename(r.OldPath, r.NewPath); err != nil {
			return applied, newError(ErrIOFailure, err.Error(), r.OldPath)
		}
		applied = append(applied, r.OldPath, r.NewPath)
		_ = a.Sync.NotifyFileRenamed(ctx, r.OldPath, r.NewPath)
	}

	byFile := flattenEdits(p.Edits)
	paths := make([]string, 0, len(byFile))
	for uri := range byFile {
		paths = append(paths, uri)
	}
	sort.Strings(paths)

	for _, uri := range paths {
		ops := byFile[uri]
		var original string
		if a.FS.Exists(uri) {
			content, err := a.FS.ReadFile(uri)
			if err != nil {
				return applied, newError(ErrIOFailure, err.Error(), uri)
			}
			original = string(content)
		}
		newContent, err := applyOpsToContent(original, ops)
		if err != nil {
			return applied, err
		}
		if err := a.FS.WriteFileAtomic(uri, []byte(newContent)); err != nil {
			return applied, newError(ErrIOFailure, err.Error(), uri)
		}
		applied = append(applied, uri)
		_ = a.Sync.NotifyFileChanged(ctx, uri, newContent)
	}

	for _, d := range p.DeletionTargets {
		if err := a.FS.Remove(d.Path); err != nil {
			return applied, newError(ErrIOFailure, err.Error(), d.Path)
		}
		applied = append(applied, d.Path)
		_ = a.Sync.NotifyFileDeleted(ctx, d.Path)
	}

	return applied, nil
}

func (a *Applier) runValidation(ctx context.Context, v ValidationCommand) error {
	timeout := time.Duration(v.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", v.Command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return newError(ErrValidationFailed, string(output))
	}
	return nil
}

func (a *Applier) rollback(snapshots []snapshot) error {
	var failures []string
	for i := len(snapshots) - 1; i >= 0; i-- {
		s := snapshots[i]
		if s.existed {
			if err := a.FS.WriteFileAtomic(s.path, s.content); err != nil {
				a.Log.Error("rollback failed to restore {Path}: {Error}", s.path, err)
				failures = append(failures, s.path)
			}
		} else {
			if err := a.FS.Remove(s.path); err != nil {
				a.Log.Error("rollback failed to remove created file {Path}: {Error}", s.path, err)
				failures = append(failures, s.path)
			}
		}
	}
	if len(failures) > 0 {
		return newError(ErrRollbackFailed, "one or more files could not be restored", failures...)
	}
	return nil
}
