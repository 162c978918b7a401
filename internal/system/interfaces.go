package system

import (
	"context"
	"errors"
)

// ErrUnrepairable is returned by a FsChecker when the filesystem is damaged
// beyond what the checker can fix. It is always fatal to the run.
var ErrUnrepairable = errors.New("filesystem unrepairable")

// ProgressFunc receives cumulative completion fractions in [0,1] from a
// long-running collaborator. Implementations must tolerate a nil func.
type ProgressFunc func(frac float64)

// Verifier is the signature-verification oracle. The engine never implements
// crypto itself; it only decides which keyrings a file must verify against.
type Verifier interface {
	// Verify checks the detached signature sig of file against the given
	// keyring files. A nil return means the signature is valid under at
	// least one of the keyrings.
	Verify(ctx context.Context, file, sig string, keyrings []string, progress ProgressFunc) error
}

// Extractor unpacks payload and keyring archives.
type Extractor interface {
	// RemovalManifest returns the paths listed in the archive's embedded
	// removal manifest, in listed order. A payload without a manifest
	// yields an empty list, not an error.
	RemovalManifest(archive string) ([]string, error)
	// Extract unpacks the archive under dest, reporting consumed archive
	// bytes through onBytes as they flow. The counts are in the archive's
	// on-disk byte space so they stay comparable to its file size.
	Extract(ctx context.Context, archive, dest string, onBytes func(n int64)) error
}

// FsChecker runs a consistency check on a device or image file before it is
// mounted. Repaired filesystems pass; unrepairable ones must return
// ErrUnrepairable.
type FsChecker interface {
	Check(ctx context.Context, device string) error
}

// BlockCopier copies a raw image byte-for-byte onto a block device.
type BlockCopier interface {
	Copy(ctx context.Context, src, dst string) error
}
