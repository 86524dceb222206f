package manager

import (
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitcher_SetBaseDir(t *testing.T) {
	first := t.TempDir()
	s, err := NewSwitcher(Config{BaseDir: first, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)

	old := s.Current()
	_, err = old.CreateProject("alpha", "")
	require.NoError(t, err)

	second := filepath.Join(t.TempDir(), "other")
	m, err := s.SetBaseDir(second)
	require.NoError(t, err)
	assert.Same(t, m, s.Current())
	assert.Equal(t, second, s.Current().BaseDir())
	assert.DirExists(t, second)

	names, err := s.Current().ListProjects()
	require.NoError(t, err)
	assert.Empty(t, names)

	// The previous manager keeps working against its own tree.
	names, err = old.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	_, err = s.SetBaseDir("  ")
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Same(t, m, s.Current())
}

func TestSwitcher_OnSwitch(t *testing.T) {
	s, err := NewSwitcher(Config{BaseDir: t.TempDir(), Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)

	var seen []string
	s.OnSwitch(func(m *Manager) { seen = append(seen, m.BaseDir()) })

	dir := t.TempDir()
	_, err = s.SetBaseDir(dir)
	require.NoError(t, err)
	_, err = s.SetBaseDir("")
	require.Error(t, err)

	assert.Equal(t, []string{dir}, seen)
}
