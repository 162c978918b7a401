package partitions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/pkg/logger"
	"golang.org/x/sys/unix"
)

// Mode says where the system lives: on a dedicated block-device partition or
// inside a loop-mounted disk image on the data partition. Decided once at
// startup and never revisited.
type Mode int

const (
	ModeLoop Mode = iota
	ModePartition
)

func (m Mode) String() string {
	if m == ModePartition {
		return "partition"
	}
	return "loop"
}

// DetectMode inspects the kernel command line for a systempart= parameter.
// Its presence means the device boots from a dedicated system partition.
func DetectMode(cmdlinePath string) Mode {
	data, err := os.ReadFile(cmdlinePath)
	if err != nil {
		return ModeLoop
	}
	for _, tok := range strings.Fields(string(data)) {
		if strings.HasPrefix(tok, "systempart=") {
			return ModePartition
		}
	}
	return ModeLoop
}

// Mounter mounts, unmounts and formats the system and data targets according
// to the detected mode. Every mount is preceded by a consistency check; an
// unrepairable filesystem aborts the run.
type Mounter struct {
	mode       Mode
	table      *Table
	checker    system.FsChecker
	runner     cmdrunner.CommandRunner
	systemRoot string
	dataRoot   string
	log        *logger.Logger
}

func NewMounter(mode Mode, table *Table, checker system.FsChecker, runner cmdrunner.CommandRunner, systemRoot, dataRoot string) *Mounter {
	return &Mounter{
		mode:       mode,
		table:      table,
		checker:    checker,
		runner:     runner,
		systemRoot: systemRoot,
		dataRoot:   dataRoot,
		log:        logger.NewLogger("partitions"),
	}
}

func (m *Mounter) Mode() Mode {
	return m.mode
}

// systemSource resolves what actually gets mounted at the system root.
func (m *Mounter) systemSource() (string, error) {
	if m.mode == ModePartition {
		dev, ok := m.table.Device("system")
		if !ok {
			return "", fmt.Errorf("%w: system", ErrUndeterminedPartition)
		}
		return dev, nil
	}
	if m.table.SystemImage != "" {
		return m.table.SystemImage, nil
	}
	return filepath.Join(m.dataRoot, "system.img"), nil
}

// MountSystem checks and mounts the system target. The check runs first so a
// damaged filesystem is repaired (or the run aborted) before anything writes.
func (m *Mounter) MountSystem(ctx context.Context) error {
	src, err := m.systemSource()
	if err != nil {
		return err
	}

	if err := m.checker.Check(ctx, src); err != nil {
		return err
	}

	if err := os.MkdirAll(m.systemRoot, 0755); err != nil {
		return err
	}

	if m.mode == ModePartition {
		if err := unix.Mount(src, m.systemRoot, "ext4", 0, ""); err != nil {
			return fmt.Errorf("mounting %s on %s: %w", src, m.systemRoot, err)
		}
	} else {
		if err := m.runner.Run(ctx, "mount", "-o", "loop", src, m.systemRoot); err != nil {
			return fmt.Errorf("loop-mounting %s on %s: %w", src, m.systemRoot, err)
		}
	}

	m.log.Infof("system mounted at %s from %s (%s mode)", m.systemRoot, src, m.mode)
	return nil
}

// UnmountSystem syncs and detaches the system root.
func (m *Mounter) UnmountSystem(ctx context.Context) error {
	unix.Sync()
	if err := unix.Unmount(m.systemRoot, 0); err != nil {
		return fmt.Errorf("unmounting %s: %w", m.systemRoot, err)
	}
	m.log.Infof("system unmounted from %s", m.systemRoot)
	return nil
}

// FormatSystem wipes the system target ahead of a full-image update. In
// partition mode the partition is reformatted; in loop mode the mounted image
// contents are cleared in place.
func (m *Mounter) FormatSystem(ctx context.Context) error {
	if m.mode == ModePartition {
		dev, ok := m.table.Device("system")
		if !ok {
			return fmt.Errorf("%w: system", ErrUndeterminedPartition)
		}
		unix.Unmount(m.systemRoot, 0) // ignore: may not be mounted
		if err := m.runner.Run(ctx, "mkfs.ext4", "-F", dev); err != nil {
			return fmt.Errorf("formatting %s: %w", dev, err)
		}
		return nil
	}

	// A fresh cache partition has no system root yet; formatting it just
	// means creating it empty.
	if err := ClearDirectory(m.systemRoot, nil); err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(m.systemRoot, 0755)
		}
		return err
	}
	return nil
}

// WipeUserdata reformats the dedicated userdata partition. Only valid in
// partition mode; loop-mode wipes are file deletions owned by the
// persistent-data manager.
func (m *Mounter) WipeUserdata(ctx context.Context) error {
	dev, ok := m.table.Device("userdata")
	if !ok {
		return fmt.Errorf("%w: userdata", ErrUndeterminedPartition)
	}

	unix.Sync()
	if err := unix.Unmount(m.dataRoot, 0); err != nil {
		m.log.Warnf("unmounting %s before wipe: %v", m.dataRoot, err)
	}
	if err := m.runner.Run(ctx, "mkfs.ext4", "-F", dev); err != nil {
		return fmt.Errorf("formatting %s: %w", dev, err)
	}
	if err := unix.Mount(dev, m.dataRoot, "ext4", 0, ""); err != nil {
		return fmt.Errorf("remounting %s on %s: %w", dev, m.dataRoot, err)
	}
	return nil
}

// ClearDirectory deletes every top-level entry under dir except names listed
// in keep. It is the loop-mode wipe primitive, shared with the
// persistent-data manager.
func ClearDirectory(dir string, keep []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		skip := false
		for _, k := range keep {
			if e.Name() == k {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

