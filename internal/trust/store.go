package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

const (
	descriptorName  = "keyring.json"
	keyMaterialName = "keyring.gpg"
)

// Store is the run-scoped keyring store. Its directory is wiped and recreated
// on construction: nothing survives between runs except the externally
// provisioned archive-master archive, which is re-installed at startup.
type Store struct {
	dir      string
	verifier system.Verifier
	ex       system.Extractor
	loaded   map[Type]*Keyring
	now      func() time.Time
	log      *logger.Logger
}

func NewStore(dir string, verifier system.Verifier, ex system.Extractor) (*Store, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("wiping trust dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating trust dir: %w", err)
	}

	return &Store{
		dir:      dir,
		verifier: verifier,
		ex:       ex,
		loaded:   make(map[Type]*Keyring),
		now:      time.Now,
		log:      logger.NewLogger("trust"),
	}, nil
}

// Loaded reports whether a keyring of the given type is installed.
func (s *Store) Loaded(t Type) bool {
	_, ok := s.loaded[t]
	return ok
}

// KeyringPath returns the persisted key-material path for an installed type.
func (s *Store) KeyringPath(t Type) (string, bool) {
	k, ok := s.loaded[t]
	if !ok {
		return "", false
	}
	return k.Path, true
}

// Install validates a keyring archive against the trust hierarchy and, on
// success, persists its key material into the store.
//
// Check order is load-bearing: existence, descriptor, expiry, type,
// duplicate, blacklist, signer presence, signature. The blacklist check is a
// negative authorization and runs before the positive one.
func (s *Store) Install(ctx context.Context, archive, sig string) (Type, error) {
	for _, p := range []string{archive, sig} {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrMissingFile, p)
		}
	}

	staging := filepath.Join(s.dir, "staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0700); err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := s.ex.Extract(ctx, archive, staging, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedKeyring, err)
	}

	desc, err := readDescriptor(filepath.Join(staging, descriptorName))
	if err != nil {
		return "", err
	}

	var expiry time.Time
	if desc.Expiry != 0 {
		expiry = time.Unix(desc.Expiry, 0)
		if expiry.Before(s.now()) {
			return "", fmt.Errorf("%w: %s expired %s", ErrKeyringExpired, archive, expiry)
		}
	}

	ktype, err := ParseType(desc.Type)
	if err != nil {
		return "", err
	}

	if s.Loaded(ktype) {
		return ktype, fmt.Errorf("%w: %s", ErrKeyringAlreadyLoaded, ktype)
	}

	if ktype != ArchiveMaster {
		if bl, ok := s.loaded[Blacklist]; ok {
			if s.verifier.Verify(ctx, archive, sig, []string{bl.Path}, nil) == nil {
				return "", fmt.Errorf("%w: %s", ErrKeyRevoked, archive)
			}
		}

		signer := signerOf[ktype]
		sk, ok := s.loaded[signer]
		if !ok {
			return "", fmt.Errorf("%w: %s requires %s", ErrSignerNotLoaded, ktype, signer)
		}
		if err := s.verifier.Verify(ctx, archive, sig, []string{sk.Path}, nil); err != nil {
			return "", fmt.Errorf("%w: %s against %s", ErrInvalidSignature, archive, signer)
		}
	}

	material := filepath.Join(staging, keyMaterialName)
	if _, err := os.Stat(material); err != nil {
		return "", fmt.Errorf("%w: no key material in %s", ErrMalformedKeyring, archive)
	}

	dest := filepath.Join(s.dir, string(ktype)+".gpg")
	if err := copyFile(material, dest, 0600); err != nil {
		return "", fmt.Errorf("persisting keyring: %w", err)
	}

	s.loaded[ktype] = &Keyring{
		Type:     ktype,
		Path:     dest,
		Origin:   archive,
		Expiry:   expiry,
		LoadedAt: s.now(),
	}

	s.log.WithFields(logger.Fields{"type": ktype, "origin": archive}).Info("keyring installed")
	return ktype, nil
}

// InstallRoot installs the pre-provisioned archive-master anchor. It shares
// the Install path (the anchor exception there skips signature checks) but
// tolerates the signature file being absent, since nothing ever verifies it.
func (s *Store) InstallRoot(ctx context.Context, archive, sig string) error {
	if _, err := os.Stat(sig); err != nil {
		sig = archive // Install only stats it; the anchor skips verification.
	}
	t, err := s.Install(ctx, archive, sig)
	if err != nil {
		return err
	}
	if t != ArchiveMaster {
		// Install already persisted the key material; take it back out so
		// the store and its directory stay in sync.
		if k, ok := s.loaded[t]; ok {
			if err := os.Remove(k.Path); err != nil && !os.IsNotExist(err) {
				s.log.Warnf("removing rejected keyring %s: %v", k.Path, err)
			}
		}
		delete(s.loaded, t)
		return fmt.Errorf("%w: root archive declares type %s", ErrMalformedKeyring, t)
	}
	return nil
}

// IsAlreadyLoaded distinguishes the idempotent duplicate-load case from real
// failures, per the caller-visible success/failure split.
func IsAlreadyLoaded(err error) bool {
	return errors.Is(err, ErrKeyringAlreadyLoaded)
}

func readDescriptor(path string) (*descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: missing descriptor", ErrMalformedKeyring)
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeyring, err)
	}
	if desc.Type == "" {
		return nil, fmt.Errorf("%w: descriptor has no type", ErrMalformedKeyring)
	}
	return &desc, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
