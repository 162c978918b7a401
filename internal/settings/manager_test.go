package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(
		filepath.Join(dir, "usb-mode"),
		filepath.Join(dir, "adb_keys"),
		filepath.Join(dir, "factory_wipe"),
		filepath.Join(dir, "shadow"),
		nil,
	)
	m.SetHasher(func(ctx context.Context, password string) (string, error) {
		return "hashed:" + password, nil
	})
	return m, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestUSBModes(t *testing.T) {
	m, dir := newTestManager(t)

	require.NoError(t, m.EnableDeveloperMode())
	assert.Equal(t, "mtp,adb\n", readFile(t, filepath.Join(dir, "usb-mode")))

	require.NoError(t, m.DisableDeveloperMode())
	assert.Equal(t, "mtp\n", readFile(t, filepath.Join(dir, "usb-mode")))

	require.NoError(t, m.DisableMTP())
	assert.Equal(t, "none\n", readFile(t, filepath.Join(dir, "usb-mode")))
}

func TestDefaultPasswordGatedOnWipe(t *testing.T) {
	m, dir := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetDefaultPassword(ctx, "secret", false))
	_, err := os.Stat(filepath.Join(dir, "shadow"))
	assert.True(t, os.IsNotExist(err), "password must not change without a wipe")

	require.NoError(t, m.SetDefaultPassword(ctx, "secret", true))
	assert.Equal(t, "hashed:secret\n", readFile(t, filepath.Join(dir, "shadow")))
}

func TestADBKeysGatedOnWipe(t *testing.T) {
	m, dir := newTestManager(t)
	keysPath := filepath.Join(dir, "adb_keys")

	require.NoError(t, m.EnableADBKeys("ssh-rsa AAAA host", false))
	_, err := os.Stat(keysPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, m.EnableADBKeys("key-one", true))
	require.NoError(t, m.EnableADBKeys("key-two", true))
	assert.Equal(t, "key-one\nkey-two\n", readFile(t, keysPath))

	require.NoError(t, m.DisableADBKeys(false))
	assert.FileExists(t, keysPath, "removal is gated too")

	require.NoError(t, m.DisableADBKeys(true))
	_, err = os.Stat(keysPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFactoryWipeMarker(t *testing.T) {
	m, dir := newTestManager(t)
	marker := filepath.Join(dir, "factory_wipe")

	require.NoError(t, m.EnableFactoryWipe(false))
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "marker must not appear without a wipe")

	require.NoError(t, m.EnableFactoryWipe(true))
	assert.FileExists(t, marker)

	// Clearing the marker is safe regardless of wipe state.
	require.NoError(t, m.DisableFactoryWipe())
	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, m.DisableFactoryWipe(), "idempotent on absent marker")
}
