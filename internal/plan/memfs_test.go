package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mcplsp/bridge/internal/lsptypes"
)

// memFS is an in-memory FileSystem fake used across plan package tests,
// so construction and apply can be exercised without touching disk.
type memFS struct {
	mu    sync.Mutex
	files map[string][]byte
	// failWriteOn causes WriteFileAtomic to fail for exactly this path,
	// used to test mid-apply rollback.
	failWriteOn string
}

func newMemFS(files map[string]string) *memFS {
	m := &memFS{files: make(map[string][]byte)}
	for k, v := range files {
		m.files[k] = []byte(v)
	}
	return m
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (m *memFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *memFS) Walk(root string, extensions []string, fn func(path string) error) error {
	m.mu.Lock()
	var matches []string
	for path := range m.files {
		if !strings.HasPrefix(path, root) {
			continue
		}
		ext := filepath.Ext(path)
		for _, want := range extensions {
			if ext == want {
				matches = append(matches, path)
			}
		}
	}
	m.mu.Unlock()
	for _, p := range matches {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (m *memFS) WriteFileAtomic(path string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == m.failWriteOn {
		return fmt.Errorf("injected write failure for %s", path)
	}
	out := make([]byte, len(content))
	copy(out, content)
	m.files[path] = out
	return nil
}

func (m *memFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("no such file: %s", path)
	}
	delete(m.files, path)
	return nil
}

func (m *memFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("no such file: %s", oldPath)
	}
	m.files[newPath] = content
	delete(m.files, oldPath)
	return nil
}

func (m *memFS) MkdirAll(dir string) error { return nil }

func (m *memFS) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = string(v)
	}
	return out
}

type noopSync struct{}

func (noopSync) NotifyFileChanged(ctx context.Context, uri, newContent string) error { return nil }
func (noopSync) NotifyFileRenamed(ctx context.Context, oldURI, newURI string) error  { return nil }
func (noopSync) NotifyFileDeleted(ctx context.Context, uri string) error             { return nil }

type noopCache struct{ invalidated []string }

func (c *noopCache) InvalidateFile(uri string) { c.invalidated = append(c.invalidated, uri) }

// fakeLSPEditor returns a scripted WorkspaceEdit for Rename regardless
// of arguments, enough to exercise plan construction's flattening and
// canonical-ordering logic without a real LSP child.
type fakeLSPEditor struct {
	renameEdits lsptypes.WorkspaceEdit
	codeActionEdits lsptypes.WorkspaceEdit
}

func (f fakeLSPEditor) Rename(ctx context.Context, uri string, pos lsptypes.Position, newName string) (lsptypes.WorkspaceEdit, error) {
	return f.renameEdits, nil
}

func (f fakeLSPEditor) CodeActions(ctx context.Context, uri string, r lsptypes.Range, kind string) (lsptypes.WorkspaceEdit, error) {
	return f.codeActionEdits, nil
}

type fakeSymbolSearcher struct {
	matches []SymbolMatch
}

func (f fakeSymbolSearcher) SearchWorkspaceSymbols(ctx context.Context, root, query string) ([]SymbolMatch, error) {
	return f.matches, nil
}
