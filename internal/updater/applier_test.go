package updater

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recoveryworks/update-engine/internal/partitions"
	"github.com/recoveryworks/update-engine/internal/progress"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// acceptVerifier accepts signatures whose file content names the keyring base
// name, same scheme as the trust store tests.
type acceptVerifier struct{}

func (acceptVerifier) Verify(ctx context.Context, file, sig string, keyrings []string, progress system.ProgressFunc) error {
	data, err := os.ReadFile(sig)
	if err != nil {
		return err
	}
	for _, k := range keyrings {
		name := strings.TrimSuffix(filepath.Base(k), ".gpg")
		if strings.Contains(string(data), "signed-by:"+name) {
			if progress != nil {
				progress(0.5)
				progress(1)
			}
			return nil
		}
	}
	return errors.New("signature did not verify")
}

func writePayload(t *testing.T, path string, files map[string][]byte, removed []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	if removed != nil {
		manifest := []byte(strings.Join(removed, "\n") + "\n")
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "removed", Mode: 0644, Size: int64(len(manifest))}))
		_, err = tw.Write(manifest)
		require.NoError(t, err)
	}
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}))
		_, err = tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

type applierFixture struct {
	applier    *Applier
	store      *trust.Store
	table      *partitions.Table
	systemRoot string
	dir        string
	meter      *progress.Meter
	out        *bytes.Buffer
}

func newFixture(t *testing.T, loaded map[trust.Type]bool) *applierFixture {
	t.Helper()
	dir := t.TempDir()
	systemRoot := filepath.Join(dir, "system")
	require.NoError(t, os.MkdirAll(systemRoot, 0755))

	ex := system.NewTarExtractor()
	store, err := trust.NewStore(filepath.Join(dir, "trust"), acceptVerifier{}, ex)
	require.NoError(t, err)
	installChain(t, store, dir, loaded)

	out := &bytes.Buffer{}
	meter := progress.NewMeter(out)
	table := &partitions.Table{Devices: map[string]string{}}
	applier := NewApplier(systemRoot, table, store, acceptVerifier{}, ex, meter, system.NewFileBlockCopier())

	return &applierFixture{
		applier:    applier,
		store:      store,
		table:      table,
		systemRoot: systemRoot,
		dir:        dir,
		meter:      meter,
		out:        out,
	}
}

// installChain installs the trust chain down to the requested signing
// keyrings, using the same signed-by scheme the verifier fake understands.
func installChain(t *testing.T, store *trust.Store, dir string, loaded map[trust.Type]bool) {
	t.Helper()
	ctx := context.Background()

	chain := []struct {
		typ    trust.Type
		signer string
	}{
		{trust.ArchiveMaster, "nobody"},
		{trust.ImageMaster, "archive-master"},
		{trust.ImageSigning, "image-master"},
		{trust.DeviceSigning, "image-signing"},
	}
	for _, link := range chain {
		// Intermediate keyrings are always needed; the leaf signing
		// keyrings only when the test asks for them.
		if link.typ == trust.ImageSigning && !loaded[trust.ImageSigning] && !loaded[trust.DeviceSigning] {
			continue
		}
		if link.typ == trust.DeviceSigning && !loaded[trust.DeviceSigning] {
			continue
		}

		desc := []byte(`{"type": "` + string(link.typ) + `"}`)
		archive := filepath.Join(dir, string(link.typ)+".tar")
		writePayload(t, archive, map[string][]byte{
			"keyring.json": desc,
			"keyring.gpg":  []byte("material " + string(link.typ)),
		}, nil)
		sig := signedBy(t, dir, string(link.typ)+".tar.asc", link.signer)

		_, err := store.Install(ctx, archive, sig)
		require.NoError(t, err, string(link.typ))
	}
}

func signedBy(t *testing.T, dir, name, signer string) string {
	t.Helper()
	sig := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(sig, []byte("signed-by:"+signer+"\n"), 0644))
	return sig
}

func TestApplyDeltaRemovesBeforeExtracting(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.DeviceSigning: true, trust.ImageSigning: true})

	// Pre-existing file listed in the manifest must be gone; a path that is
	// both removed and shipped must end up with the new content, proving
	// removals ran first.
	require.NoError(t, os.MkdirAll(filepath.Join(fx.systemRoot, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(fx.systemRoot, "etc", "stale.conf"), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.systemRoot, "etc", "both.conf"), []byte("old"), 0644))

	payload := filepath.Join(fx.dir, "delta.tar")
	writePayload(t, payload, map[string][]byte{
		"etc/both.conf": []byte("new"),
		"etc/added":     []byte("added"),
	}, []string{"etc/stale.conf", "etc/both.conf"})
	sig := signedBy(t, fx.dir, "delta.tar.asc", "device-signing")

	require.NoError(t, fx.applier.Apply(context.Background(), payload, sig, false))

	_, err := os.Stat(filepath.Join(fx.systemRoot, "etc", "stale.conf"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(fx.systemRoot, "etc", "both.conf"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestApplyFallsBackToImageSigning(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.DeviceSigning: true, trust.ImageSigning: true})

	payload := filepath.Join(fx.dir, "upd.tar")
	writePayload(t, payload, map[string][]byte{"etc/a": []byte("a")}, nil)
	sig := signedBy(t, fx.dir, "upd.tar.asc", "image-signing")

	require.NoError(t, fx.applier.Apply(context.Background(), payload, sig, true))
	_, err := os.Stat(filepath.Join(fx.systemRoot, "etc", "a"))
	assert.NoError(t, err)
}

func TestApplyBothSignaturesFailingIsFatal(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.DeviceSigning: true, trust.ImageSigning: true})

	payload := filepath.Join(fx.dir, "upd.tar")
	writePayload(t, payload, map[string][]byte{"etc/a": []byte("a")}, nil)
	sig := signedBy(t, fx.dir, "upd.tar.asc", "somebody-else")

	err := fx.applier.Apply(context.Background(), payload, sig, true)
	require.ErrorIs(t, err, trust.ErrInvalidSignature)

	// Nothing may be extracted before verification passes.
	entries, readErr := os.ReadDir(fx.systemRoot)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestApplyFlashesMatchingPartitionImages(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.ImageSigning: true})

	// The "device" is a plain file here; the copier opens it without
	// O_CREATE, so it must exist up front like a real device node.
	bootDev := filepath.Join(fx.dir, "boot-device")
	require.NoError(t, os.WriteFile(bootDev, nil, 0600))
	fx.table.Devices["boot"] = bootDev

	payload := filepath.Join(fx.dir, "upd.tar")
	writePayload(t, payload, map[string][]byte{
		"partitions/boot.img":  []byte("boot image bytes"),
		"partitions/other.img": []byte("no device for this one"),
	}, nil)
	sig := signedBy(t, fx.dir, "upd.tar.asc", "image-signing")

	require.NoError(t, fx.applier.Apply(context.Background(), payload, sig, true))

	data, err := os.ReadFile(bootDev)
	require.NoError(t, err)
	assert.Equal(t, "boot image bytes", string(data))

	_, err = os.Stat(filepath.Join(fx.systemRoot, "partitions", "boot.img"))
	assert.True(t, os.IsNotExist(err), "flashed image must be discarded")
	_, err = os.Stat(filepath.Join(fx.systemRoot, "partitions", "other.img"))
	assert.NoError(t, err, "unmatched image stays in place")
}

func writeXzPayload(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	xw, err := xz.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}))
		_, err = tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
}

func TestApplyCompressedPayloadStaysWithinEstimate(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.ImageSigning: true})

	// Highly compressible content: the decompressed stream dwarfs the
	// archive, and emission sized from the archive must not follow it.
	payload := filepath.Join(fx.dir, "upd.tar.xz")
	writeXzPayload(t, payload, map[string][]byte{"zeros.bin": make([]byte, 2*1024*1024)})
	sig := signedBy(t, fx.dir, "upd.tar.xz.asc", "image-signing")

	info, err := os.Stat(payload)
	require.NoError(t, err)
	untar := progress.UntarUnits(info.Size())
	estimate := untar + progress.VerifyUnits(untar)

	require.NoError(t, fx.applier.Apply(context.Background(), payload, sig, true))

	assert.LessOrEqual(t, fx.meter.Count(), estimate+2)
	assert.Greater(t, fx.meter.Count(), int64(0))
}

func TestApplyProgressStaysNearEstimate(t *testing.T) {
	fx := newFixture(t, map[trust.Type]bool{trust.ImageSigning: true})

	blob := make([]byte, 3*progress.BlockSize+1234)
	payload := filepath.Join(fx.dir, "upd.tar")
	writePayload(t, payload, map[string][]byte{"blob.bin": blob}, []string{"a", "b", "c"})
	sig := signedBy(t, fx.dir, "upd.tar.asc", "image-signing")

	info, err := os.Stat(payload)
	require.NoError(t, err)
	untar := progress.UntarUnits(info.Size())
	estimate := untar + progress.VerifyUnits(untar) + 3

	require.NoError(t, fx.applier.Apply(context.Background(), payload, sig, false))

	// Rounding slack only: at most one extra unit per producer.
	assert.LessOrEqual(t, fx.meter.Count(), estimate+2)
	assert.Greater(t, fx.meter.Count(), int64(0))
}
