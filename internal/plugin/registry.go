package plugin

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maps file extensions to the single authoritative Plugin for
// that extension. Discovery happens once at process startup by calling
// Register for each compile-time-known plugin; find_by_extension is then
// the only path handlers use to reach language-specific behavior, per
// the dispatcher's plugin-selection contract.
type Registry struct {
	mu         sync.RWMutex
	byExt      map[string]Plugin
	byLanguage map[string]Plugin
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byExt:      make(map[string]Plugin),
		byLanguage: make(map[string]Plugin),
	}
}

// Register installs p for every extension it claims. Returns an error
// if any extension is already claimed by a different plugin, preserving
// the invariant that at most one plugin is authoritative per extension.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range p.Extensions() {
		ext = normalizeExt(ext)
		if existing, ok := r.byExt[ext]; ok {
			return fmt.Errorf("plugin: extension %q already claimed by %q, cannot register %q",
				ext, existing.Name(), p.Name())
		}
	}
	for _, ext := range p.Extensions() {
		r.byExt[normalizeExt(ext)] = p
	}
	r.byLanguage[p.Name()] = p
	return nil
}

// FindByExtension returns the plugin authoritative for path's
// extension, or ok=false if none is registered.
func (r *Registry) FindByExtension(path string) (Plugin, bool) {
	ext := normalizeExt(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[ext]
	return p, ok
}

// FindByLanguage returns the plugin registered under the given language
// name, or ok=false if none is registered.
func (r *Registry) FindByLanguage(language string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byLanguage[language]
	return p, ok
}

// Languages returns the sorted list of registered language names, used
// by pool preload to know which languages to spawn for.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
