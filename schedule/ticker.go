package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/macrokit/macrokit/db"
	"github.com/macrokit/macrokit/errors"
)

// Executor plays back the recording a due schedule references. Execution
// mechanics are external to this layer; the executor reports how many
// actions ran and whether playback succeeded.
type Executor interface {
	Execute(ctx context.Context, sched *Schedule) (actionsExecuted int, err error)
}

// TickerConfig configures the polling loop.
type TickerConfig struct {
	Interval time.Duration
}

// DefaultTickerConfig returns the standard one-second poll.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: time.Second}
}

// TickerStats is a snapshot of the loop's progress.
type TickerStats struct {
	LastTickAt      time.Time
	TicksSinceStart int64
	Executions      int64
}

// Ticker polls for due schedules and drives their execution. The due query
// is side-effect-free, so overlapping tickers (or an interactive caller) are
// serialized per schedule by the Active→Running check-and-set: whoever loses
// that race skips the schedule without error.
type Ticker struct {
	store    *Store
	executor Executor
	interval time.Duration
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	executions      int64
}

// NewTicker creates a ticker. logger may be nil.
func NewTicker(store *Store, executor Executor, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, executor, cfg, logger)
}

// NewTickerWithContext creates a ticker bound to a parent context.
func NewTickerWithContext(ctx context.Context, store *Store, executor Executor, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:    store,
		executor: executor,
		interval: cfg.Interval,
		log:      logger,
		ctx:      tickerCtx,
		cancel:   cancel,
	}
}

// Start begins the polling loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	if t.log != nil {
		t.log.Infow("Schedule ticker started", "interval", t.interval)
	}
}

// Stop cancels the loop and waits for the current sweep to finish.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	if t.log != nil {
		t.log.Infow("Schedule ticker stopped")
	}
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			if err := t.Sweep(tickTime); err != nil {
				if db.IsDatabaseClosed(err) {
					// Shutdown closed the pool under us; every
					// further tick would repeat the error.
					if t.log != nil {
						t.log.Debugw("Schedule ticker exiting, database closed")
					}
					return
				}
				if t.log != nil {
					t.log.Warnw("Schedule tick error", "error", err)
				}
			}
		}
	}
}

// Sweep runs one due-schedule pass at the given time. Exposed so tests and
// callers can drive the loop deterministically without the ticker goroutine.
func (t *Ticker) Sweep(now time.Time) error {
	due, err := t.store.GetSchedulesDueForExecution(t.ctx, now)
	if err != nil {
		return err
	}

	for _, sched := range due {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.executeDue(sched); err != nil {
			if t.log != nil {
				t.log.Errorw("Scheduled execution failed",
					"schedule", sched.ID, "name", sched.Name, "error", err)
			}
			// One failure never stalls the rest of the sweep
			continue
		}
	}
	return nil
}

// executeDue claims one due schedule, runs it, and records the outcome.
func (t *Ticker) executeDue(sched *Schedule) error {
	err := t.store.MarkRunning(t.ctx, sched.ID)
	if errors.IsConflict(err) {
		// Another actor claimed it first; exactly-once is preserved.
		return nil
	}
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	actions, execErr := t.executor.Execute(t.ctx, sched)

	result := ExecutionResult{
		ExecutedAt:      started,
		Success:         execErr == nil,
		Duration:        time.Since(started),
		ActionsExecuted: actions,
	}
	if execErr != nil {
		result.ErrorMessage = execErr.Error()
	}

	// Record the attempt first so history and counters never miss a run,
	// then leave Running per the outcome.
	if err := t.store.AddExecutionResult(t.ctx, sched.ID, result); err != nil {
		return err
	}
	if err := t.store.CompleteRun(t.ctx, sched.ID, execErr == nil); err != nil {
		// A Once trigger already retired the schedule to Inactive.
		if !errors.IsConflict(err) {
			return err
		}
	}

	t.mu.Lock()
	t.executions++
	t.mu.Unlock()

	if t.log != nil {
		t.log.Infow("Scheduled execution recorded", "schedule", sched.ID,
			"success", result.Success, "actions", actions,
			"duration_ms", result.Duration.Milliseconds())
	}
	return nil
}

// Stats returns a snapshot of the loop's progress.
func (t *Ticker) Stats() TickerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TickerStats{
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		Executions:      t.executions,
	}
}
