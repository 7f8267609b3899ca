package reconcile

import (
	"context"
	"log"
	"time"

	"libpresence/internal/metrics"
)

// Ledger is the slice of the presence ledger the closer needs.
type Ledger interface {
	CountStaleOpen(ctx context.Context, t time.Time) (int, error)
	ForceCloseOpen(ctx context.Context) (closed, failed int, err error)
	ForceCloseEnteredBefore(ctx context.Context, t time.Time) (closed, failed int, err error)
}

// Config holds the parameters for NewCloser.
type Config struct {
	// Cutoff in facility local time, e.g. 16:30.
	CutoffHour   int
	CutoffMinute int

	// Location is the facility timezone. Required.
	Location *time.Location

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Closer guarantees no presence log stays open indefinitely. It runs a
// startup reconciliation (closing logs left open across a restart), then
// force-closes everything open at the daily cutoff. It runs as a
// background goroutine and is safe to stop via its context or the Stop
// method. Every failure is logged and non-fatal: a broken closer degrades
// the service to manual closes, it never takes it down.
type Closer struct {
	ledger Ledger
	loc    *time.Location
	hour   int
	minute int
	logger *log.Logger
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCloser creates a closer but does not start it. Call Start to begin
// the background loop.
func NewCloser(l Ledger, cfg Config, logger *log.Logger) *Closer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Closer{
		ledger: l,
		loc:    cfg.Location,
		hour:   cfg.CutoffHour,
		minute: cfg.CutoffMinute,
		logger: logger,
		now:    cfg.Now,
		done:   make(chan struct{}),
	}
}

// Start runs the startup reconciliation, then begins the daily cutoff
// loop. The loop exits when ctx is cancelled or Stop is called.
func (c *Closer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
	c.logger.Printf("reconciler started (cutoff %02d:%02d %s)", c.hour, c.minute, c.loc)
}

// Stop signals the closer to exit and waits for it to finish. Closes are
// per-row atomic, so stopping mid-batch leaves resumable state for the
// next startup reconciliation.
func (c *Closer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *Closer) loop(ctx context.Context) {
	defer close(c.done)

	c.StartupPass(ctx)

	for {
		timer := time.NewTimer(c.untilNextCutoff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.forceClose(ctx, "daily cutoff")
		}
	}
}

// StartupPass closes stale open logs left over from before today. Open
// logs entered earlier today are legitimately still-present visitors and
// are left alone.
func (c *Closer) StartupPass(ctx context.Context) {
	now := c.now().In(c.loc)
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)

	n, err := c.ledger.CountStaleOpen(ctx, startOfToday)
	if err != nil {
		c.logger.Printf("startup reconciliation: stale check failed: %v", err)
		return
	}
	if n == 0 {
		c.logger.Printf("startup reconciliation: no stale open logs")
		return
	}
	c.logger.Printf("startup reconciliation: %d open log(s) from before today", n)

	closed, failed, err := c.ledger.ForceCloseEnteredBefore(ctx, startOfToday)
	metrics.ReconcileRuns.Inc()
	metrics.ForcedCloses.Add(float64(closed))
	if err != nil {
		c.logger.Printf("startup reconciliation: aborted after %d close(s): %v", closed, err)
		return
	}
	c.logger.Printf("startup reconciliation: closed %d stale log(s), %d failed", closed, failed)
}

func (c *Closer) forceClose(ctx context.Context, trigger string) {
	closed, failed, err := c.ledger.ForceCloseOpen(ctx)
	metrics.ReconcileRuns.Inc()
	metrics.ForcedCloses.Add(float64(closed))
	if err != nil {
		c.logger.Printf("%s: force-close aborted after %d close(s): %v", trigger, closed, err)
		return
	}
	if closed > 0 || failed > 0 {
		c.logger.Printf("%s: closed %d open log(s), %d failed", trigger, closed, failed)
	} else {
		c.logger.Printf("%s: no open logs", trigger)
	}
}

func (c *Closer) untilNextCutoff() time.Duration {
	now := c.now().In(c.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), c.hour, c.minute, 0, 0, c.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
