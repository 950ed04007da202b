package meter

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TickInterval is the time one tick stands for. OnTick bills exactly one
// second per tick, so tickers driving a Runner must use it.
const TickInterval = time.Second

// RunnerConfig wires a Runner to its inputs.
type RunnerConfig struct {
	// Pricing is read on every tick and sample.
	Pricing PricingFunc
	// Multiplier is the initial dynamic multiplier; zero means 1.0.
	Multiplier decimal.Decimal
	// Source delivers position samples. Optional.
	Source PositionSource
	// Ticks drives the meter once per received value. When nil the caller
	// drives the meter with Tick.
	Ticks <-chan time.Time
	// Initial continues a previous meter instead of starting from Reset.
	Initial *State
	// OnTick is called with the new state after every applied tick, outside
	// the runner's lock.
	OnTick func(State)
}

// Runner owns the meter state of one active trip and serialises the two
// producers that mutate it: position samples and one-second ticks.
type Runner struct {
	mu         sync.Mutex
	state      State
	pricing    PricingFunc
	multiplier decimal.Decimal
	applied    decimal.Decimal
	paused     bool
	resumedAt  time.Time
	stopped    bool
	reading    Reading

	onTick      func(State)
	unsubscribe func()
	done        chan struct{}
}

// NewRunner resets the meter under the current pricing and starts listening
// to the configured source and ticker.
func NewRunner(cfg RunnerConfig) *Runner {
	multiplier := cfg.Multiplier
	if multiplier.IsZero() {
		multiplier = MinMultiplier
	}

	state := Reset(cfg.Pricing())
	if cfg.Initial != nil {
		state = *cfg.Initial
	}

	r := &Runner{
		state:      state,
		pricing:    cfg.Pricing,
		multiplier: multiplier,
		applied:    multiplier,
		onTick:     cfg.OnTick,
		done:       make(chan struct{}),
	}

	if cfg.Source != nil {
		r.unsubscribe = cfg.Source.Subscribe(r.HandleSample)
	}
	if cfg.Ticks != nil {
		go r.loop(cfg.Ticks)
	}
	return r
}

func (r *Runner) loop(ticks <-chan time.Time) {
	for {
		select {
		case <-r.done:
			return
		case at, ok := <-ticks:
			if !ok {
				return
			}
			r.TickAt(at)
		}
	}
}

// Tick applies one second to the meter. It reports false when the runner is
// paused or stopped and the tick was ignored.
func (r *Runner) Tick() bool {
	return r.TickAt(time.Time{})
}

// TickAt is Tick for a tick issued at the given time. A tick issued at or
// before the last resume belongs to the pause and is ignored, however late
// it is delivered.
func (r *Runner) TickAt(at time.Time) bool {
	r.mu.Lock()
	if r.stopped || r.paused || (!at.IsZero() && !at.After(r.resumedAt)) {
		r.mu.Unlock()
		return false
	}
	r.state = OnTick(r.state, r.pricing(), r.multiplier)
	r.applied = r.multiplier
	state := r.state
	onTick := r.onTick
	r.mu.Unlock()

	if onTick != nil {
		onTick(state)
	}
	return true
}

// HandleSample applies a position sample unless the runner is paused or stopped.
func (r *Runner) HandleSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.paused {
		return
	}
	r.state = OnPositionSample(r.state, s, r.pricing())
}

// SetMultiplier replaces the multiplier; the next tick uses it.
func (r *Runner) SetMultiplier(m decimal.Decimal) {
	r.mu.Lock()
	r.multiplier = m
	r.mu.Unlock()
}

// Multiplier returns the multiplier the next tick will apply.
func (r *Runner) Multiplier() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.multiplier
}

// AppliedMultiplier returns the multiplier behind the current total.
func (r *Runner) AppliedMultiplier() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

// Pause stops accrual of both time and distance.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

// Resume restarts accrual at the given time. The baseline is cleared so the
// distance covered while paused is not charged.
func (r *Runner) Resume(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return
	}
	r.paused = false
	r.resumedAt = at
	r.state = ClearBaseline(r.state)
}

// Paused reports whether the runner is paused.
func (r *Runner) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Snapshot returns a copy of the current state.
func (r *Runner) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop freezes the meter and detaches it from its producers. Once Stop
// returns no tick or sample changes the state. Repeated calls return the
// same reading.
func (r *Runner) Stop() Reading {
	r.mu.Lock()
	if r.stopped {
		defer r.mu.Unlock()
		return r.reading
	}
	r.stopped = true
	r.reading = Stop(r.state)
	reading := r.reading
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	close(r.done)
	if unsubscribe != nil {
		unsubscribe()
	}
	return reading
}

// Done is closed when the runner stops.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
