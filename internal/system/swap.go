package system

import (
	"context"
	"os"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/pkg/logger"
	"golang.org/x/sys/unix"
)

// SwapFile is a run-scoped swap file that keeps large-payload extraction from
// exhausting memory on low-RAM devices. Release must run on every exit path,
// success or abort, so callers defer it immediately after provisioning.
type SwapFile struct {
	path   string
	runner cmdrunner.CommandRunner
	active bool
	log    *logger.Logger
}

// ProvisionSwap allocates, formats and enables a swap file of the given size.
// Enabling goes through the swapon/swapoff tools, same as mkswap. Failure to
// provision swap is not fatal to the run; the caller only loses the memory
// headroom. The returned SwapFile is nil in that case and Release on a nil
// receiver is a no-op.
func ProvisionSwap(ctx context.Context, runner cmdrunner.CommandRunner, path string, sizeMB int) (*SwapFile, error) {
	log := logger.NewLogger("swap")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(sizeMB)*1024*1024); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	if err := runner.Run(ctx, "mkswap", path); err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := runner.Run(ctx, "swapon", path); err != nil {
		os.Remove(path)
		return nil, err
	}

	log.Infof("swap enabled: %s (%d MB)", path, sizeMB)
	return &SwapFile{path: path, runner: runner, active: true, log: log}, nil
}

// Release disables and removes the swap file. Idempotent and nil-safe. Runs
// with a fresh context: teardown must happen even when the run's context is
// already cancelled.
func (s *SwapFile) Release() {
	if s == nil || !s.active {
		return
	}
	s.active = false

	if err := s.runner.Run(context.Background(), "swapoff", s.path); err != nil {
		s.log.Warnf("swapoff %s: %v", s.path, err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("removing %s: %v", s.path, err)
	}
}
