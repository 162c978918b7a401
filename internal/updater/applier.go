// Package updater applies a verified update payload to the system root:
// removals first, then extraction, then raw partition images flashed onto
// their block devices.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/recoveryworks/update-engine/internal/partitions"
	"github.com/recoveryworks/update-engine/internal/progress"
	"github.com/recoveryworks/update-engine/internal/system"
	"github.com/recoveryworks/update-engine/internal/trust"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

// PartitionsDir is the payload subdirectory holding raw partition images.
const PartitionsDir = "partitions"

type Applier struct {
	systemRoot string
	table      *partitions.Table
	store      *trust.Store
	verifier   system.Verifier
	ex         system.Extractor
	meter      *progress.Meter
	copier     system.BlockCopier
	log        *logger.Logger
}

func NewApplier(systemRoot string, table *partitions.Table, store *trust.Store, verifier system.Verifier, ex system.Extractor, meter *progress.Meter, copier system.BlockCopier) *Applier {
	return &Applier{
		systemRoot: systemRoot,
		table:      table,
		store:      store,
		verifier:   verifier,
		ex:         ex,
		meter:      meter,
		copier:     copier,
		log:        logger.NewLogger("updater"),
	}
}

// Apply executes one verified update command. Removals always precede
// extraction for the same payload: a file introduced by this update must
// never be deleted by this update's own manifest.
func (a *Applier) Apply(ctx context.Context, payload, sig string, fullImage bool) error {
	if err := a.verify(ctx, payload, sig); err != nil {
		return err
	}

	if !fullImage {
		if err := a.applyRemovals(payload); err != nil {
			return err
		}
	}

	bm := progress.NewByteMeter(a.meter)
	if err := a.ex.Extract(ctx, payload, a.systemRoot, bm.Add); err != nil {
		return fmt.Errorf("extracting %s: %w", payload, err)
	}
	bm.Finish()

	if err := a.flashPartitions(ctx); err != nil {
		return err
	}

	a.log.Infof("applied %s", payload)
	return nil
}

// verify checks the payload signature against the device-signing keyring and
// falls back to image-signing: updates may carry either a device-specific or
// the generic image signature. Both failing is fatal to the run. The two
// checks split the payload's verify-unit budget in half.
func (a *Applier) verify(ctx context.Context, payload, sig string) error {
	info, err := os.Stat(payload)
	if err != nil {
		return fmt.Errorf("stat %s: %w", payload, err)
	}
	budget := progress.VerifyUnits(progress.UntarUnits(info.Size()))
	sc := progress.NewScaler(a.meter, budget)

	if devKr, ok := a.store.KeyringPath(trust.DeviceSigning); ok {
		err := a.verifier.Verify(ctx, payload, sig, []string{devKr}, func(frac float64) {
			sc.Update(frac / 2)
		})
		if err == nil {
			sc.Update(1)
			sc.Finish()
			return nil
		}
		a.log.Debugf("%s not signed by device-signing key, trying image-signing", payload)
	}

	imgKr, ok := a.store.KeyringPath(trust.ImageSigning)
	if !ok {
		return fmt.Errorf("%w: no signing keyring loaded for %s", trust.ErrInvalidSignature, payload)
	}
	err = a.verifier.Verify(ctx, payload, sig, []string{imgKr}, func(frac float64) {
		sc.Update(0.5 + frac/2)
	})
	if err != nil {
		return fmt.Errorf("%w: %s", trust.ErrInvalidSignature, payload)
	}
	sc.Update(1)
	sc.Finish()
	return nil
}

// applyRemovals deletes every path in the payload's removal manifest, in
// listed order, reporting progress in batches.
func (a *Applier) applyRemovals(payload string) error {
	list, err := a.ex.RemovalManifest(payload)
	if err != nil {
		return fmt.Errorf("reading removal manifest of %s: %w", payload, err)
	}

	batcher := progress.NewBatcher(a.meter, progress.UnitsPerUpdate)
	for _, rel := range list {
		target := filepath.Join(a.systemRoot, strings.TrimPrefix(rel, "/"))
		if err := os.RemoveAll(target); err != nil {
			a.log.Warnf("could not remove %s: %v", target, err)
		}
		batcher.Tick()
	}
	batcher.Finish()

	a.log.Debugf("removed %d path(s) listed by %s", len(list), payload)
	return nil
}

// flashPartitions copies every extracted raw image that matches a block
// device in the filesystem table onto that device, then discards the image
// file so payload storage is consumed rather than retained.
func (a *Applier) flashPartitions(ctx context.Context) error {
	dir := filepath.Join(a.systemRoot, PartitionsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dev, ok := a.table.MatchImage(e.Name())
		if !ok {
			a.log.Debugf("no device for image %s, leaving in place", e.Name())
			continue
		}

		img := filepath.Join(dir, e.Name())
		if err := a.copier.Copy(ctx, img, dev); err != nil {
			return fmt.Errorf("flashing %s: %w", e.Name(), err)
		}
		if err := os.Remove(img); err != nil {
			a.log.Warnf("could not discard %s: %v", img, err)
		}
	}
	return nil
}
