package progress

// Scaler rescales a stream of cumulative completion fractions into whole
// units against a per-file budget, carrying the fractional remainder across
// events so no more than one unit is ever lost to rounding.
type Scaler struct {
	m        *Meter
	budget   int64
	lastFrac float64
	acc      float64
	emitted  int64
}

func NewScaler(m *Meter, budget int64) *Scaler {
	return &Scaler{m: m, budget: budget}
}

// Update consumes a cumulative fraction in [0,1]. Out-of-order or
// out-of-range fractions are clamped rather than rejected; the oracle is not
// trusted to be tidy.
func (s *Scaler) Update(frac float64) {
	if frac > 1 {
		frac = 1
	}
	if frac <= s.lastFrac {
		return
	}

	s.acc += (frac - s.lastFrac) * float64(s.budget)
	s.lastFrac = frac

	whole := int64(s.acc)
	if whole > 0 {
		s.acc -= float64(whole)
		s.emitted += whole
		s.m.Emit(whole)
	}
}

// Finish flushes any carried remainder as a final unit. Total emission stays
// within one unit of the budget.
func (s *Scaler) Finish() {
	if s.acc > 0 && s.emitted < s.budget {
		s.acc = 0
		s.emitted++
		s.m.Emit(1)
	}
}

// ByteMeter converts a stream of consumed byte counts into extraction units.
// Bytes arrive one copy window at a time; every WindowsPerReport windows the
// accumulated bytes are folded into whole BlockSize units, with the remainder
// carried to the next report.
type ByteMeter struct {
	m       *Meter
	windows int
	pending int64
}

func NewByteMeter(m *Meter) *ByteMeter {
	return &ByteMeter{m: m}
}

// Add records n consumed bytes (one extraction copy window).
func (b *ByteMeter) Add(n int64) {
	if n <= 0 {
		return
	}
	b.pending += n
	b.windows++
	if b.windows < WindowsPerReport {
		return
	}
	b.windows = 0

	units := b.pending / BlockSize
	if units > 0 {
		b.pending -= units * BlockSize
		b.m.Emit(units)
	}
}

// Finish flushes the trailing remainder, rounding the final partial block up
// to a unit so a finished stream reads as fully consumed.
func (b *ByteMeter) Finish() {
	if b.pending <= 0 {
		return
	}
	units := (b.pending + BlockSize - 1) / BlockSize
	b.pending = 0
	b.windows = 0
	b.m.Emit(units)
}

// Batcher reports one unit per deleted file, batched so a long removal
// manifest does not flood the side channel.
type Batcher struct {
	m     *Meter
	batch int64
	n     int64
}

func NewBatcher(m *Meter, batch int64) *Batcher {
	return &Batcher{m: m, batch: batch}
}

// Tick records one processed file.
func (r *Batcher) Tick() {
	r.n++
	if r.n >= r.batch {
		r.m.Emit(r.n)
		r.n = 0
	}
}

// Finish flushes a partial batch.
func (r *Batcher) Finish() {
	if r.n > 0 {
		r.m.Emit(r.n)
		r.n = 0
	}
}
