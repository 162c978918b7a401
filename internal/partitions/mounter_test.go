package partitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSystemLoopModeCreatesMissingRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "system")
	m := NewMounter(ModeLoop, &Table{Devices: map[string]string{}}, nil, nil, root, dir)

	// First command of a run on a fresh cache partition: the root does not
	// exist yet and formatting must not abort.
	require.NoError(t, m.FormatSystem(context.Background()))
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFormatSystemLoopModeClearsExistingRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "system")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "old.conf"), []byte("x"), 0644))

	m := NewMounter(ModeLoop, &Table{Devices: map[string]string{}}, nil, nil, root, dir)
	require.NoError(t, m.FormatSystem(context.Background()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
