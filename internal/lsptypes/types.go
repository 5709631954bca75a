// Package lsptypes defines the LSP wire types this bridge needs: enough of
// textDocument/didOpen, textDocument/rename, and workspace/applyEdit's
// shapes to drive a child LSP process and translate its responses into the
// Plan/Apply Engine's flat edit form. All positions in this package are
// LSP-native: 0-indexed lines, 0-indexed UTF-16 code units, half-open
// ranges. The 1-indexed-line API boundary conversion lives in
// internal/tools, not here.
package lsptypes

import "encoding/json"

// Position is a zero-indexed line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open range: Start is inclusive, End is exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Overlaps reports whether r and other share any position. Ranges that
// only touch (one's End equals the other's Start) do not overlap, so a
// zero-width range (Start == End) overlaps another range only when it
// lies strictly inside it.
func (r Range) Overlaps(other Range) bool {
	if comparePosition(r.End, other.Start) <= 0 {
		return false
	}
	if comparePosition(other.End, r.Start) <= 0 {
		return false
	}
	return true
}

// Before reports whether r starts strictly before other.
func (r Range) Before(other Range) bool {
	return comparePosition(r.Start, other.Start) < 0
}

func comparePosition(a, b Position) int {
	if a.Line != b.Line {
		return a.Line - b.Line
	}
	return a.Character - b.Character
}

// TextEdit is a single (range, replacement text) pair.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentEdit groups edits against one versioned document, mirroring
// WorkspaceEdit.documentChanges.
type TextDocumentEdit struct {
	URI     string     `json:"uri"`
	Version int        `json:"version"`
	Edits   []TextEdit `json:"edits"`
}

// WorkspaceEdit is the LSP response shape for rename/codeAction/etc. Only
// one of Changes or DocumentChanges is populated by a given server; the
// bridge flattens either into the internal edit form.
type WorkspaceEdit struct {
	Changes        map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit   `json:"documentChanges,omitempty"`
}

// ServerCapabilities is the subset of the server's advertised capabilities
// this bridge inspects. Unknown fields from the server are preserved in
// Raw for dotted-path IsCapable queries that go deeper than these named
// fields.
type ServerCapabilities struct {
	RenameProvider     interface{}            `json:"renameProvider,omitempty"`
	CodeActionProvider interface{}            `json:"codeActionProvider,omitempty"`
	DefinitionProvider interface{}            `json:"definitionProvider,omitempty"`
	ReferencesProvider interface{}            `json:"referencesProvider,omitempty"`
	Raw                map[string]interface{} `json:"-"`
}

// UnmarshalJSON decodes the named fields and keeps the whole object in Raw.
func (s *ServerCapabilities) UnmarshalJSON(data []byte) error {
	type plain ServerCapabilities
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &p.Raw); err != nil {
		return err
	}
	*s = ServerCapabilities(p)
	return nil
}

// Diagnostic is one entry of a textDocument/publishDiagnostics payload.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Code     string `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

// PublishDiagnosticsParams is the server->client notification payload for
// textDocument/publishDiagnostics.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Version     int          `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// TextDocumentItem is the payload of textDocument/didOpen.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier identifies a document at a specific
// version, used by didChange/didClose.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentContentChangeEvent is a full-document replace change, the
// simplest legal didChange payload and the one this bridge always sends
// (it never attempts incremental sync against an LSP child).
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}
