// Package workspace implements the per-user workspace registry: a
// (user_id, workspace_id)-keyed store with the isolation guarantee that
// a lookup against another user's workspace_id returns NotFound rather
// than a permissions error, so it never confirms the other workspace's
// existence (spec §4.5, §8's workspace-isolation invariant).
package workspace

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for any lookup that doesn't resolve to a
// workspace owned by the requesting user — including one owned by a
// different user.
var ErrNotFound = errors.New("workspace: not found")

// State is a Workspace's lifecycle stage.
type State string

const (
	StateRegistered   State = "registered"
	StateActive       State = "active"
	StateDeregistered State = "deregistered"
)

// Workspace is a named registration of a project root, owned by
// exactly one user.
type Workspace struct {
	ID            string
	UserID        string
	Root          string
	LanguageHints []string
	State         State
	RegisteredAt  time.Time
}

type key struct {
	userID string
	wsID   string
}

// stripe is one shard of the concurrent map, giving fine-grained
// locking per the concurrency model's "concurrent map with fine-grained
// locking per key" requirement (spec §5).
type stripe struct {
	mu    sync.RWMutex
	items map[key]*Workspace
}

// Manager is the WorkspaceManager. It shards its backing map across
// GOMAXPROCS stripes keyed by a hash of (user_id, workspace_id), the
// same sizing heuristic Go concurrent-map idioms in this pack's
// dependency set use for sync.Map alternatives.
type Manager struct {
	stripes []*stripe
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	m := &Manager{stripes: make([]*stripe, n)}
	for i := range m.stripes {
		m.stripes[i] = &stripe{items: make(map[key]*Workspace)}
	}
	return m
}

func (m *Manager) stripeFor(k key) *stripe {
	h := fnv32(k.userID + "\x00" + k.wsID)
	return m.stripes[h%uint32(len(m.stripes))]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Register creates a new Workspace for userID, generating a fresh
// workspace id with google/uuid when id is empty.
func (m *Manager) Register(userID, id, root string, languageHints []string) (*Workspace, error) {
	if id == "" {
		id = uuid.NewString()
	}
	k := key{userID: userID, wsID: id}
	s := m.stripeFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	ws := &Workspace{
		ID: id, UserID: userID, Root: root, LanguageHints: languageHints,
		State: StateRegistered, RegisteredAt: timeNow(),
	}
	s.items[k] = ws
	return ws, nil
}

// timeNow is a var so tests can stub determinism if ever needed; wraps
// time.Now to keep that seam explicit at the single call site.
var timeNow = func() time.Time { return time.Now() }

// Get returns the workspace for (userID, id), or ErrNotFound if none
// exists for that user — including when id belongs to a different
// user, per the isolation invariant.
func (m *Manager) Get(userID, id string) (*Workspace, error) {
	k := key{userID: userID, wsID: id}
	s := m.stripeFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.items[k]
	if !ok || ws.State == StateDeregistered {
		return nil, ErrNotFound
	}
	return ws, nil
}

// List returns every non-deregistered workspace owned by userID.
func (m *Manager) List(userID string) []*Workspace {
	var out []*Workspace
	for _, s := range m.stripes {
		s.mu.RLock()
		for k, ws := range s.items {
			if k.userID == userID && ws.State != StateDeregistered {
				out = append(out, ws)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Deregister marks the workspace as deregistered; subsequent Get/List
// calls treat it as gone. Returns ErrNotFound under the same rules as Get.
func (m *Manager) Deregister(userID, id string) error {
	k := key{userID: userID, wsID: id}
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.items[k]
	if !ok || ws.State == StateDeregistered {
		return ErrNotFound
	}
	ws.State = StateDeregistered
	return nil
}

// FindRootForPath returns the registered, non-deregistered workspace
// belonging to userID whose root is an ancestor of (or equal to) path,
// preferring the longest matching root when more than one registered
// workspace contains path. Used by handlers that receive a bare file
// path and need the workspace root to scope an LSP pool acquisition.
func (m *Manager) FindRootForPath(userID, path string) (*Workspace, bool) {
	var best *Workspace
	for _, s := range m.stripes {
		s.mu.RLock()
		for k, ws := range s.items {
			if k.userID != userID || ws.State == StateDeregistered {
				continue
			}
			if !isWithin(path, ws.Root) {
				continue
			}
			if best == nil || len(ws.Root) > len(best.Root) {
				best = ws
			}
		}
		s.mu.RUnlock()
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func isWithin(path, root string) bool {
	if root == "" {
		return false
	}
	if path == root {
		return true
	}
	if len(path) > len(root) && path[:len(root)] == root {
		sep := path[len(root)]
		return sep == '/' || sep == '\\'
	}
	return false
}

// Activate transitions a registered workspace to active, e.g. once its
// LSP pool has a live client for it.
func (m *Manager) Activate(userID, id string) error {
	k := key{userID: userID, wsID: id}
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.items[k]
	if !ok || ws.State == StateDeregistered {
		return ErrNotFound
	}
	ws.State = StateActive
	return nil
}
