package plan

import (
	"context"
	"testing"
	"time"

	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleRenamePlan(checksum string) *Plan {
	return &Plan{
		Metadata: Metadata{Kind: KindRename, Language: "rust", PlanVersion: PlanVersion, CreatedAt: time.Now()},
		Edits: []Edit{
			{URI: "src/a.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 1, Character: 11}, End: lsptypes.Position{Line: 1, Character: 14}}, NewText: "baz"},
			{URI: "src/a.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 6}}, NewText: "baz"},
		},
		Summary:       Summary{AffectedFiles: 1},
		FileChecksums: map[string]string{"src/a.rs": checksum},
	}
}

func TestApplyRenameWritesExpectedContent(t *testing.T) {
	original := "fn foo() {}\nfn bar() { foo(); }\n"
	fs := newMemFS(map[string]string{"src/a.rs": original})
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := simpleRenamePlan(checksumBytes([]byte(original)))
	result, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, result.AppliedFiles, "src/a.rs")

	content, _ := fs.ReadFile("src/a.rs")
	assert.Equal(t, "fn baz() {}\nfn bar() { baz(); }\n", string(content))
}

func TestApplyRejectsReuseOfConsumedPlan(t *testing.T) {
	original := "fn foo() {}\nfn bar() { foo(); }\n"
	fs := newMemFS(map[string]string{"src/a.rs": original})
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := simpleRenamePlan(checksumBytes([]byte(original)))
	_, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.NoError(t, err)

	_, err = applier.Apply(context.Background(), p, DefaultOptions())
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrPlanConsumed, pe.Code)
}

func TestApplyDetectsChecksumDrift(t *testing.T) {
	original := "fn foo() {}\nfn bar() { foo(); }\n"
	fs := newMemFS(map[string]string{"src/a.rs": original + "\n"}) // externally modified
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := simpleRenamePlan(checksumBytes([]byte(original)))
	_, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrChecksumDrift, pe.Code)

	content, _ := fs.ReadFile("src/a.rs")
	assert.Equal(t, original+"\n", string(content), "drift must leave the file untouched")
}

func TestApplyRollsBackOnLaterFileFailure(t *testing.T) {
	files := map[string]string{
		"a.rs": "fn a() {}\n",
		"b.rs": "fn b() {}\n",
	}
	fs := newMemFS(files)
	fs.failWriteOn = "b.rs"
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := &Plan{
		Metadata: Metadata{PlanVersion: PlanVersion},
		Edits: []Edit{
			{URI: "a.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 4}}, NewText: "x"},
			{URI: "b.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 4}}, NewText: "y"},
		},
		FileChecksums: map[string]string{
			"a.rs": checksumBytes([]byte(files["a.rs"])),
			"b.rs": checksumBytes([]byte(files["b.rs"])),
		},
	}

	result, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, RollbackSucceeded, result.Rollback)

	after := fs.snapshot()
	assert.Equal(t, files["a.rs"], after["a.rs"], "earlier file must be rolled back")
	assert.Equal(t, files["b.rs"], after["b.rs"])
}

func TestApplyValidationFailureRollsBack(t *testing.T) {
	original := "x = 1\n"
	fs := newMemFS(map[string]string{"x.rs": original})
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := &Plan{
		Metadata: Metadata{PlanVersion: PlanVersion},
		Edits: []Edit{
			{URI: "x.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 0}, End: lsptypes.Position{Line: 0, Character: 1}}, NewText: "y"},
		},
		FileChecksums: map[string]string{"x.rs": checksumBytes([]byte(original))},
	}

	opts := DefaultOptions()
	opts.Validation = &ValidationCommand{Command: "false", TimeoutSeconds: 5}

	result, err := applier.Apply(context.Background(), p, opts)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrValidationFailed, pe.Code)
	assert.Equal(t, RollbackSucceeded, result.Rollback)

	content, _ := fs.ReadFile("x.rs")
	assert.Equal(t, original, string(content))
}

func TestApplyRollsBackFileRenameOnLaterFailure(t *testing.T) {
	files := map[string]string{
		"old.rs": "fn a() {}\n",
		"b.rs":   "fn b() {}\n",
	}
	fs := newMemFS(files)
	fs.failWriteOn = "b.rs"
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := &Plan{
		Metadata:    Metadata{PlanVersion: PlanVersion},
		FileRenames: []RenameFileEntry{{OldPath: "old.rs", NewPath: "new.rs"}},
		Edits: []Edit{
			{URI: "b.rs", Range: lsptypes.Range{Start: lsptypes.Position{Line: 0, Character: 3}, End: lsptypes.Position{Line: 0, Character: 4}}, NewText: "y"},
		},
		FileChecksums: map[string]string{
			"old.rs": checksumBytes([]byte(files["old.rs"])),
			"b.rs":   checksumBytes([]byte(files["b.rs"])),
		},
	}

	result, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, RollbackSucceeded, result.Rollback)

	after := fs.snapshot()
	_, newStillExists := after["new.rs"]
	assert.False(t, newStillExists, "renamed destination must be removed on rollback")
	assert.Equal(t, files["old.rs"], after["old.rs"], "original path must be restored on rollback")
}

func TestApplyRejectsIncompatiblePlanVersion(t *testing.T) {
	fs := newMemFS(map[string]string{"a.rs": "x"})
	applier := NewApplier(fs, noopSync{}, &noopCache{}, logging.Default())

	p := &Plan{Metadata: Metadata{PlanVersion: "2.0.0"}}
	_, err := applier.Apply(context.Background(), p, DefaultOptions())
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrVersionMismatch, pe.Code)
}
