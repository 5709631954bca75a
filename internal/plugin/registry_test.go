package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	name string
	exts []string
}

func (s stubPlugin) Name() string                                           { return s.name }
func (s stubPlugin) Extensions() []string                                   { return s.exts }
func (s stubPlugin) ManifestFilename() string                               { return "" }
func (s stubPlugin) ImportSupport() (ImportSupport, bool)                   { return nil, false }
func (s stubPlugin) WorkspaceSupport() (WorkspaceSupport, bool)             { return nil, false }
func (s stubPlugin) RefactoringProvider() (RefactoringProvider, bool)       { return nil, false }
func (s stubPlugin) ManifestUpdater() (ManifestUpdater, bool)               { return nil, false }
func (s stubPlugin) ModuleLocator() (ModuleLocator, bool)                   { return nil, false }

func TestRegisterAndFindByExtension(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubPlugin{name: "go", exts: []string{".go"}}))

	p, ok := r.FindByExtension("internal/plan/plan.go")
	require.True(t, ok)
	assert.Equal(t, "go", p.Name())

	_, ok = r.FindByExtension("main.rs")
	assert.False(t, ok)
}

func TestRegisterConflictingExtensionFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubPlugin{name: "go", exts: []string{".go"}}))

	err := r.Register(stubPlugin{name: "go2", exts: []string{".go"}})
	require.Error(t, err)
}

func TestLanguagesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubPlugin{name: "rust", exts: []string{".rs"}}))
	require.NoError(t, r.Register(stubPlugin{name: "go", exts: []string{".go"}}))

	assert.Equal(t, []string{"go", "rust"}, r.Languages())
}
