package cmd

import (
	"context"
	"os"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/internal/engine"
	"github.com/recoveryworks/update-engine/internal/partitions"
	"github.com/recoveryworks/update-engine/internal/persistent"
	"github.com/recoveryworks/update-engine/internal/progress"
	"github.com/recoveryworks/update-engine/internal/settings"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/internal/trust"
	"github.com/recoveryworks/update-engine/internal/updater"
	"github.com/recoveryworks/update-engine/pkg/logger"
	"github.com/spf13/cobra"
)

var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the update command file",
	Long: `Apply the pending update command file: estimate progress, verify
every payload against the trust chain, and execute the commands in order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		return eng.Run(cmd.Context())
	},
}

// buildEngine wires the collaborators together from config. Everything behind
// an interface here is swappable in tests.
func buildEngine(ctx context.Context) (*engine.Engine, error) {
	log := logger.NewLogger("apply")
	cfg := Cfg

	runner := cmdrunner.NewCommandsRunner()
	ex := system.NewTarExtractor()

	var verifier system.Verifier = system.NewGPGVerifier(runner)
	if cfg.Update.SkipVerification {
		verifier = system.NewSkipVerifier()
	}

	store, err := trust.NewStore(cfg.Paths.TrustDir, verifier, ex)
	if err != nil {
		return nil, err
	}
	// The anchor is provisioned at image build time. Without it every
	// keyring load and update will fail verification, but the run itself
	// can still process commands that need no trust.
	if err := store.InstallRoot(ctx, cfg.Paths.ArchiveMaster, cfg.Paths.ArchiveMasterSig); err != nil {
		log.Warnf("archive-master anchor not installed: %v", err)
	}

	table, err := partitions.LoadTable(cfg.Paths.FilesystemTable)
	if err != nil {
		return nil, err
	}
	mode := partitions.DetectMode(cfg.Paths.Cmdline)
	checker := system.NewE2fsck(runner)
	mounter := partitions.NewMounter(mode, table, checker, runner, cfg.Paths.SystemRoot, cfg.Paths.DataRoot)

	var wiper persistent.PartitionWiper
	if mode == partitions.ModePartition {
		wiper = mounter
	}
	persist := persistent.NewManager(cfg.Paths.DataRoot, cfg.Paths.PersistentList, wiper)

	sets := settings.NewManager(cfg.Paths.UsbModeFile, cfg.Paths.AdbKeysFile, cfg.Paths.FactoryWipeMarker, cfg.Paths.PasswordFile, runner)

	meter := progress.NewMeter(os.Stdout)
	applier := updater.NewApplier(cfg.Paths.SystemRoot, table, store, verifier, ex, meter, system.NewFileBlockCopier())

	return engine.New(cfg, engine.Deps{
		Store:     store,
		Meter:     meter,
		Applier:   applier,
		Persist:   persist,
		Settings:  sets,
		Mounter:   mounter,
		Extractor: ex,
		Runner:    runner,
	}), nil
}

func init() {
	RootCmd.AddCommand(ApplyCmd)
}
