// Package engine is the command interpreter: a single-pass, line-oriented
// state machine over the command file, executed twice. The first pass sizes
// the progress estimate and is read-only; the second applies the commands in
// order. Command-local failures are logged and skipped; conditions that leave
// the device unsafe abort the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/internal/config"
	"github.com/recoveryworks/update-engine/internal/partitions"
	"github.com/recoveryworks/update-engine/internal/persistent"
	"github.com/recoveryworks/update-engine/internal/progress"
	"github.com/recoveryworks/update-engine/internal/settings"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/internal/trust"
	"github.com/recoveryworks/update-engine/internal/updater"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

// Deps bundles the collaborators the engine dispatches into.
type Deps struct {
	Store     *trust.Store
	Meter     *progress.Meter
	Applier   *updater.Applier
	Persist   *persistent.Manager
	Settings  *settings.Manager
	Mounter   *partitions.Mounter
	Extractor system.Extractor
	Runner    cmdrunner.CommandRunner
}

type Engine struct {
	cfg   *config.Config
	deps  Deps
	state ApplyState
	log   *logger.Logger
}

func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  logger.NewLogger("engine"),
	}
}

// State exposes the run flags, mainly for tests.
func (e *Engine) State() ApplyState {
	return e.state
}

// Run executes a full update run: load the command file, provision swap,
// estimate, emit the total, apply, finish. Swap teardown is deferred so it
// happens on the abort path too.
func (e *Engine) Run(ctx context.Context) error {
	cmds, err := LoadScript(e.cfg.CommandFilePath())
	if err != nil {
		return err
	}

	if e.cfg.Update.SwapEnabled {
		swap, err := system.ProvisionSwap(ctx, e.deps.Runner, e.cfg.Paths.SwapFile, e.cfg.Update.SwapSizeMB)
		if err != nil {
			e.log.Warnf("running without swap: %v", err)
		}
		defer swap.Release()
	}

	e.deps.Meter.EmitTotal(e.Estimate(cmds))

	for _, c := range cmds {
		if err := e.dispatch(ctx, c); err != nil {
			return fmt.Errorf("line %d (%s): %w", c.Line, c, err)
		}
	}

	e.finish()
	return nil
}

// Estimate computes the unit total for a command file. Only format and update
// commands matter: format system flips the full-image flag, and each update
// contributes removal, untar and verify units.
func (e *Engine) Estimate(cmds []Command) int64 {
	var total int64
	fullImage := false

	for _, c := range cmds {
		switch c.Verb {
		case "format":
			if len(c.Args) > 0 && c.Args[0] == "system" {
				fullImage = true
			}
		case "update":
			if len(c.Args) < 2 {
				continue
			}
			payload := e.resolvePath(c.Args[0])
			info, err := os.Stat(payload)
			if err != nil {
				// Missing payloads are skipped during apply, so they
				// contribute nothing here either.
				continue
			}

			untar := progress.UntarUnits(info.Size())
			total += untar + progress.VerifyUnits(untar)

			if !fullImage {
				list, err := e.deps.Extractor.RemovalManifest(payload)
				if err != nil {
					e.log.Warnf("estimate: removal manifest of %s unreadable: %v", payload, err)
					continue
				}
				total += int64(len(list))
			}
		}
	}
	return total
}

// dispatch applies a single command. A nil return means the run proceeds; a
// non-nil return is fatal and aborts the run immediately.
func (e *Engine) dispatch(ctx context.Context, c Command) error {
	switch c.Verb {
	case "format":
		return e.cmdFormat(ctx, c)
	case "update":
		return e.cmdUpdate(ctx, c)
	case "enable", "disable":
		e.cmdToggle(ctx, c)
		return nil
	case "load_keyring":
		e.cmdLoadKeyring(ctx, c)
		return nil
	case "mount", "unmount":
		return e.cmdMount(ctx, c)
	case "cleanup":
		e.state.Cleanup = true
		return nil
	default:
		e.log.Warnf("unknown command %q, skipping", c.String())
		return nil
	}
}

func (e *Engine) cmdFormat(ctx context.Context, c Command) error {
	if len(c.Args) < 1 {
		e.log.Warnf("format: missing target, skipping")
		return nil
	}

	switch c.Args[0] {
	case "system":
		e.state.FullImage = true
		if err := e.deps.Mounter.FormatSystem(ctx); err != nil {
			return err
		}
		return nil
	case "data":
		if err := e.deps.Persist.FormatData(ctx); err != nil {
			return err
		}
		e.state.DataFormatted = true
		// Post-wipe USB baseline.
		if err := e.deps.Settings.EnableMTP(); err != nil {
			e.log.Warnf("could not set usb baseline: %v", err)
		}
		return nil
	default:
		e.log.Warnf("format: unknown target %q, skipping", c.Args[0])
		return nil
	}
}

func (e *Engine) cmdUpdate(ctx context.Context, c Command) error {
	if len(c.Args) < 2 {
		e.log.Warnf("update: missing arguments, skipping")
		return nil
	}

	payload := e.resolvePath(c.Args[0])
	sig := e.resolvePath(c.Args[1])
	for _, p := range []string{payload, sig} {
		if _, err := os.Stat(p); err != nil {
			// Already applied and cleaned up on a previous run.
			e.log.Infof("update: %s missing, skipping", p)
			return nil
		}
	}

	if err := e.deps.Applier.Apply(ctx, payload, sig, e.state.FullImage); err != nil {
		return err
	}
	e.state.UpdateApplied = true
	return nil
}

func (e *Engine) cmdToggle(ctx context.Context, c Command) {
	if len(c.Args) < 1 {
		e.log.Warnf("%s: missing feature, skipping", c.Verb)
		return
	}
	enable := c.Verb == "enable"
	feature := c.Args[0]
	arg := ""
	if len(c.Args) > 1 {
		arg = c.Args[1]
	}

	var err error
	switch feature {
	case "developer_mode":
		if enable {
			err = e.deps.Settings.EnableDeveloperMode()
		} else {
			err = e.deps.Settings.DisableDeveloperMode()
		}
	case "mtp":
		if enable {
			err = e.deps.Settings.EnableMTP()
		} else {
			err = e.deps.Settings.DisableMTP()
		}
	case "default_password":
		if !enable {
			e.log.Warnf("disable default_password is not a thing, skipping")
			return
		}
		err = e.deps.Settings.SetDefaultPassword(ctx, arg, e.state.DataFormatted)
	case "adb_keys":
		if enable {
			err = e.deps.Settings.EnableADBKeys(arg, e.state.DataFormatted)
		} else {
			err = e.deps.Settings.DisableADBKeys(e.state.DataFormatted)
		}
	case "factory_wipe":
		if enable {
			err = e.deps.Settings.EnableFactoryWipe(e.state.DataFormatted)
		} else {
			err = e.deps.Settings.DisableFactoryWipe()
		}
	default:
		e.log.Warnf("%s: unknown feature %q, skipping", c.Verb, feature)
		return
	}

	if err != nil {
		e.log.Errorf("%s %s failed: %v", c.Verb, feature, err)
	}
}

func (e *Engine) cmdLoadKeyring(ctx context.Context, c Command) {
	if len(c.Args) < 2 {
		e.log.Warnf("load_keyring: missing arguments, skipping")
		return
	}

	archive := e.resolvePath(c.Args[0])
	sig := e.resolvePath(c.Args[1])

	if _, err := e.deps.Store.Install(ctx, archive, sig); err != nil {
		if trust.IsAlreadyLoaded(err) {
			e.log.Infof("load_keyring: %v", err)
		} else {
			e.log.Errorf("load_keyring %s failed: %v", archive, err)
		}
		return
	}

	e.tryPendingBlacklist(ctx)
}

// tryPendingBlacklist opportunistically installs the staged blacklist keyring
// once its trust chain may have become satisfiable. Failures are expected
// while the chain is incomplete and stay quiet.
func (e *Engine) tryPendingBlacklist(ctx context.Context) {
	if e.deps.Store.Loaded(trust.Blacklist) {
		return
	}
	archive := e.cfg.Paths.BlacklistArchive
	if _, err := os.Stat(archive); err != nil {
		return
	}

	if _, err := e.deps.Store.Install(ctx, archive, e.cfg.Paths.BlacklistSig); err != nil {
		e.log.Debugf("pending blacklist not loadable yet: %v", err)
		return
	}
	e.log.Info("pending blacklist keyring loaded")
}

func (e *Engine) cmdMount(ctx context.Context, c Command) error {
	if len(c.Args) < 1 || c.Args[0] != "system" {
		e.log.Warnf("%s: unsupported target, skipping", c.Verb)
		return nil
	}

	if c.Verb == "mount" {
		if err := e.deps.Mounter.MountSystem(ctx); err != nil {
			if errors.Is(err, system.ErrUnrepairable) {
				return err
			}
			return fmt.Errorf("mount system: %w", err)
		}
		return nil
	}

	if err := e.deps.Mounter.UnmountSystem(ctx); err != nil {
		return fmt.Errorf("unmount system: %w", err)
	}
	return nil
}

// finish runs the post-apply housekeeping: touch the last-update stamp when
// an update landed (or the stamp never existed), and honor a cleanup request.
func (e *Engine) finish() {
	stamp := e.cfg.Paths.UpdateStamp
	_, statErr := os.Stat(stamp)
	if e.state.UpdateApplied || os.IsNotExist(statErr) {
		if err := os.MkdirAll(filepath.Dir(stamp), 0755); err == nil {
			if err := os.WriteFile(stamp, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
				e.log.Warnf("could not touch update stamp: %v", err)
			}
		}
	}

	if e.state.Cleanup {
		if err := os.Remove(e.cfg.CommandFilePath()); err != nil {
			e.log.Warnf("could not remove command file: %v", err)
		}
	}
}

// resolvePath anchors relative command-file arguments at the cache dir, where
// the payloads are dropped next to the command file.
func (e *Engine) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.cfg.Paths.CacheDir, p)
}
