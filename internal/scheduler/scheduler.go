// Package scheduler drives the ring of frame slots: it pre-fills every
// slot (Phase 1), rotates wait-fence -> drain-output -> refill-input ->
// submit in steady state (Phase 2), then drains whatever is still in
// flight on end-of-stream (Phase 3). It is the only component with a
// control loop of its own; every other package exposes pure operations
// this loop calls.
package scheduler

import (
	"fmt"
	"time"

	"lookup3gpu/internal/candidate"
	"lookup3gpu/internal/frame"
	"lookup3gpu/internal/lookup3"
	"lookup3gpu/internal/metrics"
)

// Provider fills up to len(batch) candidate records and returns how
// many it wrote. Returning 0 signals end-of-stream.
type Provider interface {
	Fill(batch []candidate.Record) int
}

// Sink consumes a batch of completed records. Called once per
// completed frame submission, in submission order.
type Sink interface {
	Accept(batch []candidate.Record)
}

// fenceTimeout bounds every per-slot fence wait in Phase 2 and 3.
const fenceTimeout = 30 * time.Second

// MismatchReport describes one candidate whose GPU hash disagreed with
// the CPU reference under --validate.
type MismatchReport struct {
	Candidate string
	GPUHash   uint32
	CPUHash   uint32
}

// Scheduler owns the ring of N frame slots and drives them against a
// Provider and Sink supplied by the caller.
type Scheduler struct {
	slots    []*frame.Slot
	provider Provider
	sink     Sink
	metrics  *metrics.Metrics
	validate bool

	mismatches []MismatchReport
}

// New builds a scheduler over the given slots, in submission order.
// The caller (the wiring in cmd/lookup3gpu) constructs the slots via
// frame.New against a shared pipeline.
func New(slots []*frame.Slot, provider Provider, sink Sink, m *metrics.Metrics, validate bool) *Scheduler {
	return &Scheduler{slots: slots, provider: provider, sink: sink, metrics: m, validate: validate}
}

// Mismatches returns the ValidationMismatch reports collected during
// Run when validation is enabled. It does not abort the run.
func (s *Scheduler) Mismatches() []MismatchReport {
	return s.mismatches
}

// Run executes Phase 1 (prime), Phase 2 (steady state), and Phase 3
// (drain), in that order. It returns the first unrecovered error; a
// clean end-of-stream is not an error.
func (s *Scheduler) Run() error {
	s.metrics.Start()
	defer s.metrics.Stop()

	n := len(s.slots)
	batch := make([]candidate.Record, s.slots[0].Capacity)

	shortPipe := false
	primed := 0
	for c := 0; c < n; c++ {
		slot := s.slots[c]
		if err := slot.Wait(fenceTimeout); err != nil {
			return fmt.Errorf("scheduler: prime: wait slot %d: %w", c, err)
		}
		k := s.provider.Fill(batch)
		if k == 0 {
			shortPipe = true
			break
		}
		if err := slot.Fill(batch[:k]); err != nil {
			return fmt.Errorf("scheduler: prime: fill slot %d: %w", c, err)
		}
		s.metrics.Increment(uint64(k))
		if err := slot.Submit(); err != nil {
			return fmt.Errorf("scheduler: prime: submit slot %d: %w", c, err)
		}
		primed++
	}

	start := 0
	if !shortPipe {
		c, err := s.steadyState(batch, primed)
		if err != nil {
			return err
		}
		start = c
	}

	if err := s.drain(start, primed); err != nil {
		return err
	}
	return nil
}

// steadyState rotates through the primed slots: wait, drain the
// previous output on this slot, refill, and resubmit. It stops the
// first time the provider returns 0 and returns the cursor it stopped
// at: that slot has already been drained, and every other slot is left
// in flight for Phase 3 to drain.
func (s *Scheduler) steadyState(batch []candidate.Record, n int) (int, error) {
	c := 0
	for {
		slot := s.slots[c]
		if err := slot.Wait(fenceTimeout); err != nil {
			return 0, fmt.Errorf("scheduler: steady: wait slot %d: %w", c, err)
		}

		out, err := slot.ReadOutput()
		if err != nil {
			return 0, fmt.Errorf("scheduler: steady: read slot %d: %w", c, err)
		}
		if len(out) > 0 {
			s.deliver(out)
			// Mark drained so Phase 3 does not redeliver this same
			// output if steady state ends before this slot is refilled.
			slot.ItemCount = 0
		}

		k := s.provider.Fill(batch)
		if k == 0 {
			return c, nil
		}
		if err := slot.Fill(batch[:k]); err != nil {
			return 0, fmt.Errorf("scheduler: steady: fill slot %d: %w", c, err)
		}
		s.metrics.Increment(uint64(k))
		if err := slot.Submit(); err != nil {
			return 0, fmt.Errorf("scheduler: steady: submit slot %d: %w", c, err)
		}

		c = (c + 1) % n
	}
}

// drain waits on every slot that may still be in flight, in submission
// order starting at slot start, and hands each non-empty output to the
// sink. Slots beyond the number ever primed are untouched.
func (s *Scheduler) drain(start, primed int) error {
	for i := 0; i < primed; i++ {
		c := (start + i) % primed
		slot := s.slots[c]
		if err := slot.Wait(fenceTimeout); err != nil {
			return fmt.Errorf("scheduler: drain: wait slot %d: %w", c, err)
		}
		out, err := slot.ReadOutput()
		if err != nil {
			return fmt.Errorf("scheduler: drain: read slot %d: %w", c, err)
		}
		if len(out) > 0 {
			s.deliver(out)
		}
	}
	return nil
}

// deliver validates a batch against the CPU reference hash when
// enabled, then hands it to the sink. A ValidationMismatch is
// collected, not fatal.
func (s *Scheduler) deliver(batch []candidate.Record) {
	if s.validate {
		for i := range batch {
			rec := &batch[i]
			want := lookup3.Hash(rec.Bytes())
			if rec.Hash != want {
				s.mismatches = append(s.mismatches, MismatchReport{
					Candidate: string(rec.Bytes()),
					GPUHash:   rec.Hash,
					CPUHash:   want,
				})
			}
		}
	}
	s.sink.Accept(batch)
}
