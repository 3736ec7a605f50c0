// Package phase drives the per-timeslot simulation cycle. Registered
// transaction-producing phases run in a fixed declared order, then the
// ledger closes the books as the terminal step. Phase execution is the
// barrier: nothing may produce transactions for a timeslot after its close.
package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridpilot/accounting-engine/internal/accounting"
	"github.com/gridpilot/accounting-engine/internal/metrics"
	"github.com/gridpilot/accounting-engine/internal/model"
)

// ErrAborted is returned for submissions and timeslot runs after the
// simulation has been aborted.
var ErrAborted = errors.New("phase: simulation aborted")

// Phase is one transaction-producing step in the timeslot cycle.
type Phase interface {
	Name() string
	Execute(ctx context.Context, ts model.Timeslot) error
}

type funcPhase struct {
	name string
	fn   func(context.Context, model.Timeslot) error
}

func (p funcPhase) Name() string { return p.name }

func (p funcPhase) Execute(ctx context.Context, ts model.Timeslot) error { return p.fn(ctx, ts) }

// NewFunc adapts a function to the Phase interface.
func NewFunc(name string, fn func(context.Context, model.Timeslot) error) Phase {
	return funcPhase{name: name, fn: fn}
}

// BrokerError marks a per-broker failure as recoverable: the coordinator
// logs it and continues the timeslot, so one broker's malformed transaction
// never blocks the others.
type BrokerError struct {
	BrokerID string
	Err      error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.BrokerID, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Coordinator runs the timeslot cycle. Phases execute in registration order;
// each has a bounded timeout, past which it is treated as failed-and-skipped
// for that timeslot rather than fatal. The ledger close always runs last.
type Coordinator struct {
	ledger  *accounting.Ledger
	phases  []Phase
	timeout time.Duration
	onClose func([]model.BrokerSummary)

	current  atomic.Int64
	aborted  atomic.Bool
	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator over the given ledger. timeout bounds
// each phase's execution per timeslot. onClose, if non-nil, receives the
// per-broker summaries after every successful close.
func NewCoordinator(ledger *accounting.Ledger, timeout time.Duration, onClose func([]model.BrokerSummary)) *Coordinator {
	return &Coordinator{
		ledger:  ledger,
		phases:  nil,
		timeout: timeout,
		onClose: onClose,
	}
}

// Register appends a transaction-producing phase. Phases run in the order
// they are registered, always before the ledger close.
func (c *Coordinator) Register(p Phase) {
	c.phases = append(c.phases, p)
}

// Current returns the timeslot submissions are booked to right now. It
// advances past a timeslot the moment its producing phases are done, so a
// submission can never be stamped with a slot that is closing or closed.
func (c *Coordinator) Current() model.Timeslot {
	return model.Timeslot(c.current.Load())
}

// Submit gates a collaborator submission on the simulation lifecycle: after
// Abort, new submissions are rejected while in-flight ones run to completion
// so no transaction is ever left half-applied.
func (c *Coordinator) Submit(fn func() error) error {
	if c.aborted.Load() {
		return ErrAborted
	}
	c.inflight.Add(1)
	defer c.inflight.Done()
	if c.aborted.Load() {
		return ErrAborted
	}
	return fn()
}

// Abort stops the simulation: new submissions are rejected immediately and
// Abort returns once every in-flight submission has drained.
func (c *Coordinator) Abort() {
	c.aborted.Store(true)
	c.inflight.Wait()
}

// RunTimeslot executes one full timeslot cycle: every registered phase in
// order, then the ledger close. A recoverable per-broker error is logged and
// skipped; a timed-out phase is skipped for this timeslot; any other phase
// error aborts the timeslot before the books close.
func (c *Coordinator) RunTimeslot(ctx context.Context, ts model.Timeslot) ([]model.BrokerSummary, error) {
	if c.aborted.Load() {
		return nil, ErrAborted
	}
	c.current.Store(int64(ts))

	for _, p := range c.phases {
		if err := c.runPhase(ctx, p, ts); err != nil {
			return nil, err
		}
	}

	c.ledger.ProducersDone(ts)
	// Move submissions to the next slot before closing this one; a request
	// racing the close lands in the next summary instead of vanishing into
	// an already-closed slot.
	c.current.Store(int64(ts) + 1)
	summaries, err := c.ledger.CloseTimeslot(ctx, ts)
	if err != nil {
		return nil, err
	}
	metrics.TimeslotsClosed.Inc()

	if c.onClose != nil {
		c.onClose(summaries)
	}
	return summaries, nil
}

func (c *Coordinator) runPhase(ctx context.Context, p Phase, ts model.Timeslot) error {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Execute(pctx, ts)
	}()

	select {
	case err := <-errCh:
		metrics.PhaseDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		var be *BrokerError
		if errors.As(err, &be) {
			slog.Warn("recoverable broker error in phase",
				"phase", p.Name(), "timeslot", int64(ts),
				"broker", be.BrokerID, "err", be.Err)
			return nil
		}
		return fmt.Errorf("phase %s failed for timeslot %d: %w", p.Name(), ts, err)

	case <-pctx.Done():
		if ctx.Err() != nil {
			// Simulation-level cancellation, not a slow phase.
			return ctx.Err()
		}
		metrics.PhaseTimeouts.WithLabelValues(p.Name()).Inc()
		slog.Warn("phase timed out, skipped for timeslot",
			"phase", p.Name(), "timeslot", int64(ts), "timeout", c.timeout)
		return nil
	}
}

// Run drives the simulation clock: one timeslot per interval, starting at
// start, until ctx is cancelled. A timeslot aborted by a phase failure is
// logged and the clock moves on; an ordering violation or ledger-integrity
// failure aborts the whole run.
func (c *Coordinator) Run(ctx context.Context, start model.Timeslot, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ts := start
	for {
		select {
		case <-ctx.Done():
			c.Abort()
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.RunTimeslot(ctx, ts); err != nil {
				if errors.Is(err, accounting.ErrPrematureClose) ||
					errors.Is(err, accounting.ErrLedgerDrift) {
					return err
				}
				if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
					return nil
				}
				slog.Error("timeslot aborted", "timeslot", int64(ts), "err", err)
			}
			ts++
		}
	}
}
