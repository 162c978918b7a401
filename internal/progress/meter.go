// Package progress implements the two-phase completion signal for an update
// run: a pre-computed unit total emitted once, then a monotonically
// increasing counter fed by the verification and extraction producers.
package progress

import (
	"fmt"
	"io"

	"github.com/recoveryworks/update-engine/pkg/logger"
)

const (
	// BlockSize is the payload byte count behind one extraction unit,
	// sized so updates land roughly once per second of untar throughput.
	BlockSize = 150000

	// UnitsPerUpdate is the removal-progress batch size: deletions are
	// reported in batches of this many files.
	UnitsPerUpdate = 7

	// WindowsPerReport is how many extraction copy windows accumulate
	// before consumed bytes are converted into emitted units.
	WindowsPerReport = 100
)

// Meter owns the progress side channel. The total is written exactly once,
// before any delta; deltas only ever increase the counter.
type Meter struct {
	w     io.Writer
	log   *logger.Logger
	total int64
	count int64
}

func NewMeter(w io.Writer) *Meter {
	return &Meter{
		w:   w,
		log: logger.NewLogger("progress"),
	}
}

// EmitTotal publishes the pre-run unit estimate.
func (m *Meter) EmitTotal(total int64) {
	m.total = total
	fmt.Fprintf(m.w, "progress total: %d\n", total)
}

// Emit adds delta units and publishes the new counter value. Zero or negative
// deltas are no-ops, which keeps the counter monotonic by construction.
func (m *Meter) Emit(delta int64) {
	if delta <= 0 {
		return
	}
	m.count += delta
	if m.total > 0 && m.count > m.total {
		// Rounding slack from block-boundary remainders; log it but never
		// walk the counter back.
		m.log.Debugf("progress overshoot: %d of %d", m.count, m.total)
	}
	fmt.Fprintf(m.w, "progress: %d\n", m.count)
}

// Count reports the units emitted so far.
func (m *Meter) Count() int64 {
	return m.count
}

// Total reports the published estimate.
func (m *Meter) Total() int64 {
	return m.total
}

// UntarUnits converts a payload byte size into extraction units.
func UntarUnits(payloadSize int64) int64 {
	return (payloadSize + BlockSize - 1) / BlockSize
}

// VerifyUnits sizes the verification budget for a payload: roughly a fifth of
// the untar work, rounded up to an even count because verification runs as
// two sequential checks.
func VerifyUnits(untarUnits int64) int64 {
	units := (untarUnits + 4) / 5
	if units%2 != 0 {
		units++
	}
	return units
}
