package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mkdb "github.com/macrokit/macrokit/db"
	"github.com/macrokit/macrokit/errors"
)

// fakeExecutor records which schedules it ran and can fail on demand.
type fakeExecutor struct {
	mu   sync.Mutex
	runs map[string]int
	fail map[string]bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{runs: make(map[string]int), fail: make(map[string]bool)}
}

func (e *fakeExecutor) Execute(_ context.Context, sched *Schedule) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[sched.ID]++
	if e.fail[sched.ID] {
		return 0, errors.Wrap(errors.ErrStorage, "playback crashed")
	}
	return 5, nil
}

func (e *fakeExecutor) runCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

func TestSweepExecutesDueSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := sampleSchedule(t, "due", Once(time.Now().Add(-time.Minute)))
	notDue := sampleSchedule(t, "not-due", Once(time.Now().Add(time.Hour)))
	require.NoError(t, store.Save(ctx, due))
	require.NoError(t, store.Save(ctx, notDue))

	exec := newFakeExecutor()
	ticker := NewTicker(store, exec, DefaultTickerConfig(), nil)
	defer ticker.Stop()

	require.NoError(t, ticker.Sweep(time.Now()))

	assert.Equal(t, 1, exec.runCount(due.ID))
	assert.Zero(t, exec.runCount(notDue.ID))

	got, err := store.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalExecutions)
	assert.Equal(t, 1.0, got.SuccessRate())
	assert.Equal(t, StatusInactive, got.Status, "one-shot retired after its run")

	history, err := store.GetExecutionHistory(ctx, due.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 5, history[0].ActionsExecuted)
}

func TestSweepAdvancesIntervalSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sched := sampleSchedule(t, "repeating", mustInterval(t, time.Hour))
	require.NoError(t, store.Save(ctx, sched))

	// Force it due now
	_, err := store.db.ExecContext(ctx,
		"UPDATE schedules SET next_execution_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339), sched.ID)
	require.NoError(t, err)

	exec := newFakeExecutor()
	ticker := NewTicker(store, exec, DefaultTickerConfig(), nil)
	defer ticker.Stop()

	require.NoError(t, ticker.Sweep(time.Now()))

	got, err := store.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status, "back to active, ready for the next slot")
	require.NotNil(t, got.NextExecutionAt)
	assert.True(t, got.NextExecutionAt.After(time.Now()))

	// Next sweep sees nothing due
	require.NoError(t, ticker.Sweep(time.Now()))
	assert.Equal(t, 1, exec.runCount(sched.ID))
}

func TestSweepRecordsFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sched := sampleSchedule(t, "crashy", mustInterval(t, time.Hour))
	require.NoError(t, store.Save(ctx, sched))
	_, err := store.db.ExecContext(ctx,
		"UPDATE schedules SET next_execution_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Minute).Format(time.RFC3339), sched.ID)
	require.NoError(t, err)

	exec := newFakeExecutor()
	exec.fail[sched.ID] = true
	ticker := NewTicker(store, exec, DefaultTickerConfig(), nil)
	defer ticker.Stop()

	require.NoError(t, ticker.Sweep(time.Now()))

	got, err := store.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.TotalExecutions)
	assert.Zero(t, got.SuccessfulExecutions)

	history, err := store.GetExecutionHistory(ctx, sched.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Contains(t, history[0].ErrorMessage, "playback crashed")

	// Failed schedules stay parked until manually reset
	require.NoError(t, ticker.Sweep(time.Now()))
	assert.Equal(t, 1, exec.runCount(sched.ID))
}

func TestConcurrentSweepsRunEachScheduleOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sched := sampleSchedule(t, "contested", Once(time.Now().Add(-time.Minute)))
	require.NoError(t, store.Save(ctx, sched))

	exec := newFakeExecutor()
	ticker := NewTicker(store, exec, DefaultTickerConfig(), nil)
	defer ticker.Stop()

	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ticker.Sweep(now)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, exec.runCount(sched.ID), "check-and-set admits one runner")

	got, err := store.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalExecutions)
}

func TestSweepSurfacesClosedDatabase(t *testing.T) {
	store := newTestStore(t)
	ticker := NewTicker(store, newFakeExecutor(), DefaultTickerConfig(), nil)
	defer ticker.Stop()

	require.NoError(t, store.db.Close())

	err := ticker.Sweep(time.Now())
	require.Error(t, err)
	assert.True(t, mkdb.IsDatabaseClosed(err), "run loop keys its shutdown exit off this")
}

func TestTickerLoopLifecycle(t *testing.T) {
	store := newTestStore(t)

	sched := sampleSchedule(t, "looped", Once(time.Now().Add(-time.Minute)))
	require.NoError(t, store.Save(context.Background(), sched))

	exec := newFakeExecutor()
	ticker := NewTicker(store, exec, TickerConfig{Interval: 10 * time.Millisecond}, nil)
	ticker.Start()

	require.Eventually(t, func() bool {
		return exec.runCount(sched.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ticker.Stop()

	stats := ticker.Stats()
	assert.Positive(t, stats.TicksSinceStart)
	assert.Equal(t, int64(1), stats.Executions)
}
