package system

import (
	"context"
	"fmt"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

// E2fsck checks ext filesystems before mount. Exit codes 0 (clean) and 1/2
// (errors corrected) pass; anything higher means the checker could not repair
// the filesystem and the run must not touch it.
type E2fsck struct {
	runner cmdrunner.CommandRunner
	log    *logger.Logger
}

func NewE2fsck(runner cmdrunner.CommandRunner) *E2fsck {
	return &E2fsck{
		runner: runner,
		log:    logger.NewLogger("fsck"),
	}
}

func (f *E2fsck) Check(ctx context.Context, device string) error {
	code, out, err := f.runner.RunExitCode(ctx, "e2fsck", "-y", device)
	if err != nil {
		return fmt.Errorf("e2fsck %s: %w", device, err)
	}

	switch {
	case code == 0:
		f.log.Debugf("%s clean", device)
	case code <= 2:
		f.log.Warnf("%s had errors, repaired (exit %d)", device, code)
	default:
		f.log.Errorf("e2fsck could not repair %s (exit %d): %s", device, code, string(out))
		return fmt.Errorf("%w: %s", ErrUnrepairable, device)
	}
	return nil
}
