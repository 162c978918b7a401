package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntarUnits(t *testing.T) {
	assert.Equal(t, int64(1), UntarUnits(1))
	assert.Equal(t, int64(1), UntarUnits(BlockSize))
	assert.Equal(t, int64(2), UntarUnits(BlockSize+1))
	assert.Equal(t, int64(10), UntarUnits(10*BlockSize))
}

func TestVerifyUnitsRoundsUpToEven(t *testing.T) {
	// ceil(untar/5), then bumped to even so two sequential checks divide it.
	cases := map[int64]int64{
		1:  2,
		5:  2,
		6:  2,
		10: 2,
		11: 4,
		15: 4,
		50: 10,
		51: 12,
	}
	for untar, want := range cases {
		assert.Equal(t, want, VerifyUnits(untar), "untar=%d", untar)
	}
}

func TestMeterEmitsTotalOnceAndCounts(t *testing.T) {
	var buf bytes.Buffer
	m := NewMeter(&buf)

	m.EmitTotal(42)
	m.Emit(5)
	m.Emit(0)
	m.Emit(-3)
	m.Emit(7)

	require.Equal(t, int64(12), m.Count())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"progress total: 42",
		"progress: 5",
		"progress: 12",
	}, lines)
}

func TestMeterMonotonic(t *testing.T) {
	var buf bytes.Buffer
	m := NewMeter(&buf)
	m.EmitTotal(10)

	last := int64(0)
	for _, d := range []int64{3, -100, 2, 0, 6} {
		m.Emit(d)
		require.GreaterOrEqual(t, m.Count(), last)
		last = m.Count()
	}
}
