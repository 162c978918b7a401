// Package persistent preserves a whitelisted file set across the destructive
// data-partition wipe that `format data` performs.
package persistent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/recoveryworks/update-engine/internal/partitions"
	"github.com/recoveryworks/update-engine/pkg/logger"
	"github.com/recoveryworks/update-engine/pkg/models"
	"golang.org/x/sys/unix"
)

// PartitionWiper reformats the dedicated userdata partition. Nil on devices
// where the system lives in a loop image and the wipe is a file deletion.
type PartitionWiper interface {
	WipeUserdata(ctx context.Context) error
}

// Manager stages whitelisted files off the data partition, wipes it, and
// restores them.
type Manager struct {
	dataRoot string
	listPath string
	wiper    PartitionWiper
	log      *logger.Logger
}

func NewManager(dataRoot, listPath string, wiper PartitionWiper) *Manager {
	return &Manager{
		dataRoot: dataRoot,
		listPath: listPath,
		wiper:    wiper,
		log:      logger.NewLogger("persistent"),
	}
}

// FormatData performs the wipe round-trip: back up whitelisted paths into a
// staging directory off the data partition, flush, destroy, restore. The
// staging directory is discarded unconditionally.
func (m *Manager) FormatData(ctx context.Context) error {
	whitelist, err := m.loadWhitelist()
	if err != nil {
		// No whitelist just means nothing survives the wipe.
		m.log.Warnf("persistent file list unavailable: %v", err)
	}

	staging := filepath.Join(os.TempDir(), "persistent-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0700); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	var backed []string
	for _, rel := range whitelist {
		src := filepath.Join(m.dataRoot, rel)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := copyTree(src, filepath.Join(staging, rel)); err != nil {
			return fmt.Errorf("backing up %s: %w", rel, err)
		}
		backed = append(backed, rel)
	}
	m.log.Infof("backed up %d persistent path(s)", len(backed))

	// The backup has to hit stable storage before anything destructive runs.
	unix.Sync()

	if m.wiper != nil {
		if err := m.wiper.WipeUserdata(ctx); err != nil {
			return err
		}
	} else {
		if err := partitions.ClearDirectory(m.dataRoot, models.PreservedImages); err != nil {
			return fmt.Errorf("wiping %s: %w", m.dataRoot, err)
		}
	}

	for _, rel := range backed {
		if err := copyTree(filepath.Join(staging, rel), filepath.Join(m.dataRoot, rel)); err != nil {
			return fmt.Errorf("restoring %s: %w", rel, err)
		}
	}

	unix.Sync()
	m.log.Info("data partition wiped, persistent files restored")
	return nil
}

// loadWhitelist reads the ordered preserve list, skipping blank lines and
// comments.
func (m *Manager) loadWhitelist() ([]string, error) {
	f, err := os.Open(m.listPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, strings.TrimPrefix(line, "/"))
	}
	return paths, scanner.Err()
}

// copyTree copies a file, symlink or directory tree preserving relative
// structure and permissions.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(target, dst)

	case info.IsDir():
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil

	default:
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer out.Close()

		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		return out.Sync()
	}
}
