package plan

import (
	"sort"

	"github.com/mcplsp/bridge/internal/lsptypes"
)

// OpKind tags one flat edit-plan operation, the apply engine's internal
// execution representation (spec §3's "Edit Plan (internal apply
// form)").
type OpKind int

const (
	OpReplace OpKind = iota
	OpCreateFile
	OpDeleteFile
	OpRenameFile
)

// priority fixes the apply order between op kinds within a file group,
// per spec §4.4.3 step 3: renames/creates/deletes happen last within a
// file's group, after in-place edits.
func (k OpKind) priority() int {
	switch k {
	case OpReplace:
		return 0
	case OpCreateFile:
		return 1
	case OpDeleteFile:
		return 2
	case OpRenameFile:
		return 3
	default:
		return 99
	}
}

// Op is one typed, ordered unit of the apply engine's flat edit plan.
type Op struct {
	Kind     OpKind
	Path     string
	NewPath  string // OpRenameFile only
	Content  string // OpCreateFile only
	Range    lsptypes.Range
	NewText  string
	Priority int
}

// flattenEdits groups p's Edits by file and sorts each file's edits by
// descending range start, so applying them in that order never
// invalidates a later edit's offsets — the reverse-start-position
// invariant from spec §3.
func flattenEdits(edits []Edit) map[string][]Op {
	byFile := make(map[string][]Op)
	for _, e := range edits {
		byFile[e.URI] = append(byFile[e.URI], Op{
			Kind: OpReplace, Path: e.URI, Range: e.Range, NewText: e.NewText,
			Priority: OpReplace.priority(),
		})
	}
	for uri, ops := range byFile {
		sorted := append([]Op(nil), ops...)
		sort.Slice(sorted, func(i, j int) bool {
			return !sorted[i].Range.Before(sorted[j].Range)
		})
		byFile[uri] = sorted
	}
	return byFile
}

// canonicalOrder sorts p's Edits into the plan's canonical serialized
// order — by file path ascending, then range start descending within a
// file — so that plan construction is byte-deterministic (spec §4.4.2).
func canonicalOrder(edits []Edit) []Edit {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].URI != sorted[j].URI {
			return sorted[i].URI < sorted[j].URI
		}
		return !sorted[i].Range.Before(sorted[j].Range)
	})
	return sorted
}

// checkNonOverlapping returns OverlappingEdits if any two edits
// touching the same file have overlapping ranges (spec §8's
// "edit non-overlap" invariant, enforced at construction time per
// §4.4.2).
func checkNonOverlapping(edits []Edit) error {
	byFile := make(map[string][]Edit)
	for _, e := range edits {
		byFile[e.URI] = append(byFile[e.URI], e)
	}
	for uri, fileEdits := range byFile {
		sorted := append([]Edit(nil), fileEdits...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Range.Before(sorted[j].Range)
		})
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].Range.Overlaps(sorted[i].Range) {
				return newError(ErrOverlappingEdits, "overlapping edit ranges", uri)
			}
		}
	}
	return nil
}

// applyOpsToContent computes a file's new content by applying ops
// (already sorted descending by range start) against original.
func applyOpsToContent(original string, ops []Op) (string, error) {
	lines := splitKeepLineStarts(original)
	result := original
	for _, op := range ops {
		startOffset, err := positionToOffset(lines, op.Range.Start)
		if err != nil {
			return "", newError(ErrEditOutOfBounds, "edit start out of bounds", op.Path)
		}
		endOffset, err := positionToOffset(lines, op.Range.End)
		if err != nil {
			return "", newError(ErrEditOutOfBounds, "edit end out of bounds", op.Path)
		}
		if startOffset > endOffset || endOffset > len(result) {
			return "", newError(ErrEditOutOfBounds, "edit range inverted or beyond EOF", op.Path)
		}
		result = result[:startOffset] + op.NewText + result[endOffset:]
	}
	return result, nil
}

// splitKeepLineStarts returns the byte offset each line starts at.
func splitKeepLineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func positionToOffset(lineStarts []int, pos lsptypes.Position) (int, error) {
	if pos.Line < 0 || pos.Line >= len(lineStarts) {
		return 0, newError(ErrEditOutOfBounds, "line out of range")
	}
	offset := lineStarts[pos.Line] + pos.Character
	if pos.Character < 0 {
		return 0, newError(ErrEditOutOfBounds, "negative character")
	}
	return offset, nil
}
