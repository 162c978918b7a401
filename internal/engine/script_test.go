package engine

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScriptPreservesOrder(t *testing.T) {
	input := strings.Join([]string{
		"format system",
		"",
		"# staged by the download client",
		"load_keyring image-master.tar.xz image-master.tar.xz.asc",
		"update ubuntu-42.tar.xz ubuntu-42.tar.xz.asc",
		"update ubuntu-42.tar.xz ubuntu-42.tar.xz.asc",
		"unmount system",
	}, "\n")

	cmds, err := ParseScript(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, cmds, 5)

	assert.Equal(t, Command{Verb: "format", Args: []string{"system"}, Line: 1}, cmds[0])
	assert.Equal(t, "load_keyring", cmds[1].Verb)
	// Duplicates are preserved, never deduplicated.
	assert.Equal(t, cmds[2].String(), cmds[3].String())
	assert.Equal(t, "unmount system", cmds[4].String())
}

func TestParseScriptTokenizesWhitespace(t *testing.T) {
	cmds, err := ParseScript(strings.NewReader("update   a.tar.xz \t a.tar.xz.asc\n"))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, []string{"a.tar.xz", "a.tar.xz.asc"}, cmds[0].Args)
}

func TestLoadScriptMissingFile(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "ubuntu_command"))
	require.Error(t, err)
}
