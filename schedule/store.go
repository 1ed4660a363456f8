package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/macrokit/macrokit/errors"
)

const scheduleColumns = `id, name, recording_id, trigger_kind, trigger_spec,
	enabled, status, next_execution_at, total_executions, successful_executions,
	external_task_id, version, created_at, updated_at`

const (
	defaultHistoryMaxEntries = 100
	defaultDueBatchLimit     = 100
)

// Store persists Schedule aggregates and their append-only execution history.
// All methods are safe for concurrent use.
type Store struct {
	db    *sql.DB
	log   *zap.SugaredLogger
	hooks Hooks

	// historyMax bounds retained execution results per schedule; dueBatch
	// caps one due-query sweep.
	historyMax int
	dueBatch   int
}

// NewStore creates a schedule store. logger may be nil; historyMax and
// dueBatch <= 0 fall back to defaults.
func NewStore(database *sql.DB, historyMax, dueBatch int, logger *zap.SugaredLogger) *Store {
	if historyMax <= 0 {
		historyMax = defaultHistoryMaxEntries
	}
	if dueBatch <= 0 {
		dueBatch = defaultDueBatchLimit
	}
	return &Store{
		db:         database,
		log:        logger,
		hooks:      NopHooks{},
		historyMax: historyMax,
		dueBatch:   dueBatch,
	}
}

// SetHooks registers the event hooks fired after successful mutations.
func (s *Store) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	s.hooks = h
}

// Save persists a new schedule. The first due time is derived from the
// trigger; a back-dated Once trigger is immediately due.
func (s *Store) Save(ctx context.Context, sched *Schedule) error {
	if sched == nil {
		return errors.AssertionFailedf("nil schedule")
	}
	if err := sched.validate(); err != nil {
		return err
	}

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.Version = 1

	if next, ok := sched.Trigger.InitialNext(now); ok {
		sched.NextExecutionAt = &next
	} else {
		sched.NextExecutionAt = nil
	}

	spec, err := sched.Trigger.EncodeSpec()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sched.ID, sched.Name, sched.RecordingID, string(sched.Trigger.Kind()), spec,
		boolToInt(sched.Enabled), string(sched.Status), nullableTime(sched.NextExecutionAt),
		sched.TotalExecutions, sched.SuccessfulExecutions,
		nullableString(sched.ExternalTaskID), sched.Version,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "insert schedule: %v", err)
	}

	if s.log != nil {
		s.log.Infow("Schedule saved", "id", sched.ID, "name", sched.Name,
			"trigger", sched.Trigger.Kind(), "next", sched.NextExecutionAt)
	}
	s.hooks.OnScheduleSaved(sched)
	return nil
}

// GetByID returns one schedule.
func (s *Store) GetByID(ctx context.Context, id string) (*Schedule, error) {
	sched, err := s.fetchOne(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	if errors.IsNotFound(err) {
		return nil, errors.NewNotFoundf("schedule %s", id)
	}
	return sched, err
}

// GetByRecordingID returns every schedule referencing the recording.
func (s *Store) GetByRecordingID(ctx context.Context, recordingID string) ([]*Schedule, error) {
	return s.fetchMany(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE recording_id = ? ORDER BY created_at ASC, id ASC
	`, recordingID)
}

// GetAll returns every schedule ordered by creation time.
func (s *Store) GetAll(ctx context.Context) ([]*Schedule, error) {
	return s.fetchMany(ctx,
		"SELECT "+scheduleColumns+" FROM schedules ORDER BY created_at ASC, id ASC")
}

// GetActiveSchedules returns enabled schedules in the Active state.
func (s *Store) GetActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.fetchMany(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND status = ? ORDER BY created_at ASC, id ASC
	`, string(StatusActive))
}

// GetByTriggerType returns schedules carrying the given trigger kind.
func (s *Store) GetByTriggerType(ctx context.Context, kind TriggerKind) ([]*Schedule, error) {
	return s.fetchMany(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE trigger_kind = ? ORDER BY created_at ASC, id ASC
	`, string(kind))
}

// GetSchedulesDueForExecution reports enabled Active schedules whose next
// execution time has arrived, earliest first with id as tie-break. The query
// is side-effect-free: it never marks candidates as running or consumed, so
// overlapping pollers must race through MarkRunning instead.
func (s *Store) GetSchedulesDueForExecution(ctx context.Context, now time.Time) ([]*Schedule, error) {
	return s.fetchMany(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND status = ?
			AND next_execution_at IS NOT NULL AND next_execution_at <= ?
		ORDER BY next_execution_at ASC, id ASC
		LIMIT ?
	`, string(StatusActive), now.UTC().Format(time.RFC3339), s.dueBatch)
}

// Update replaces the whole aggregate. The caller's Version must match the
// stored one; a mismatch means a concurrent writer won and is a conflict.
// Counters and status are owned by the execution path and left untouched.
func (s *Store) Update(ctx context.Context, sched *Schedule) error {
	if sched == nil {
		return errors.AssertionFailedf("nil schedule")
	}
	if sched.ID == "" {
		return errors.NewValidationf("schedule id must not be empty")
	}
	if err := sched.validate(); err != nil {
		return err
	}

	spec, err := sched.Trigger.EncodeSpec()
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	// When the trigger itself changed, the caller's next time was computed
	// from the old rule and must not survive the swap.
	var oldKind, oldSpec string
	err = s.db.QueryRowContext(ctx,
		"SELECT trigger_kind, trigger_spec FROM schedules WHERE id = ?",
		sched.ID).Scan(&oldKind, &oldSpec)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundf("schedule %s", sched.ID)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "read schedule %s: %v", sched.ID, err)
	}
	if oldKind != string(sched.Trigger.Kind()) || oldSpec != spec {
		if next, ok := sched.Trigger.InitialNext(now); ok {
			sched.NextExecutionAt = &next
		} else {
			sched.NextExecutionAt = nil
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, recording_id = ?, trigger_kind = ?, trigger_spec = ?,
			enabled = ?, next_execution_at = ?, external_task_id = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, sched.Name, sched.RecordingID, string(sched.Trigger.Kind()), spec,
		boolToInt(sched.Enabled), nullableTime(sched.NextExecutionAt),
		nullableString(sched.ExternalTaskID), now.Format(time.RFC3339),
		sched.ID, sched.Version)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "update schedule: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		exists, err := s.Exists(ctx, sched.ID)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFoundf("schedule %s", sched.ID)
		}
		return errors.NewConflictf("schedule %s was modified concurrently", sched.ID)
	}

	sched.Version++
	sched.UpdatedAt = now
	s.hooks.OnScheduleUpdated(sched)
	return nil
}

// Delete removes one schedule and, by cascade, its execution history.
// Deletion is terminal from any state.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "delete schedule: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.NewNotFoundf("schedule %s", id)
	}

	if s.log != nil {
		s.log.Infow("Schedule deleted", "id", id)
	}
	s.hooks.OnScheduleDeleted(id)
	return nil
}

// Exists reports whether a schedule id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM schedules WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "check schedule %s: %v", id, err)
	}
	return true, nil
}

// CountByStatus returns schedule counts keyed by lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM schedules GROUP BY status")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "count by status: %v", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan count: %v", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// MarkRunning performs the Active→Running check-and-set. It succeeds for
// exactly one caller per due window; losers get a conflict. This is the sole
// guard against duplicate concurrent runs of one schedule.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND enabled = 1
	`, string(StatusRunning), time.Now().UTC().Format(time.RFC3339),
		id, string(StatusActive))
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "mark running: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFoundf("schedule %s", id)
		}
		return errors.NewConflictf("schedule %s is not idle-active", id)
	}
	return nil
}

// CompleteRun leaves the Running state: back to Active on success, Failed
// otherwise. Completing a schedule that is not Running is a conflict.
func (s *Store) CompleteRun(ctx context.Context, id string, success bool) error {
	target := StatusActive
	if !success {
		target = StatusFailed
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(target), time.Now().UTC().Format(time.RFC3339),
		id, string(StatusRunning))
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "complete run: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFoundf("schedule %s", id)
		}
		return errors.NewConflictf("schedule %s is not running", id)
	}
	return nil
}

// Activate transitions Inactive→Active and recomputes the next due time.
func (s *Store) Activate(ctx context.Context, id string) error {
	sched, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sched.Status != StatusInactive {
		return errors.NewConflictf("schedule %s is %s, not inactive", id, sched.Status)
	}
	return s.transition(ctx, id, StatusInactive, StatusActive, true)
}

// ResetFailed transitions Failed→Active after manual intervention.
func (s *Store) ResetFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusFailed, StatusActive, true)
}

// Disable transitions any state to Inactive and stops further executions.
func (s *Store) Disable(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, enabled = 0, version = version + 1, updated_at = ?
		WHERE id = ?
	`, string(StatusInactive), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "disable schedule: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.NewNotFoundf("schedule %s", id)
	}
	return nil
}

// transition is a check-and-set from one specific state to another,
// optionally recomputing the next due time from the trigger.
func (s *Store) transition(ctx context.Context, id string, from, to Status, recomputeNext bool) error {
	sched, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var next interface{}
	if recomputeNext {
		if n, ok := sched.Trigger.InitialNext(time.Now().UTC()); ok {
			next = n.Format(time.RFC3339)
		}
	} else {
		next = nullableTime(sched.NextExecutionAt)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = ?, enabled = 1, next_execution_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), next, time.Now().UTC().Format(time.RFC3339), id, string(from))
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "transition schedule: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.NewConflictf("schedule %s is not %s", id, from)
	}
	return nil
}

// AddExecutionResult appends one immutable result to the schedule's history,
// advances the counters, and recomputes the next due time from the trigger
// relative to the execution timestamp. Once triggers go Inactive afterwards.
// Must be applied at most once per logical execution attempt; history beyond
// the retention cap is pruned oldest-first.
func (s *Store) AddExecutionResult(ctx context.Context, scheduleID string, result ExecutionResult) error {
	if result.ExecutedAt.IsZero() {
		return errors.NewValidationf("execution result requires a timestamp")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	var kind, spec string
	err = tx.QueryRowContext(ctx,
		"SELECT trigger_kind, trigger_spec FROM schedules WHERE id = ?",
		scheduleID).Scan(&kind, &spec)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundf("schedule %s", scheduleID)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "read schedule %s: %v", scheduleID, err)
	}

	trigger, err := DecodeTrigger(TriggerKind(kind), spec)
	if err != nil {
		return err
	}

	result.ID = uuid.New().String()
	result.ScheduleID = scheduleID
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedule_executions
			(id, schedule_id, executed_at, success, duration_ms, error_message, actions_executed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.ID, scheduleID, result.ExecutedAt.UTC().Format(time.RFC3339),
		boolToInt(result.Success), result.Duration.Milliseconds(),
		nullableString(result.ErrorMessage), result.ActionsExecuted)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "append execution: %v", err)
	}

	successInc := 0
	if result.Success {
		successInc = 1
	}

	var nextSQL interface{}
	statusSQL := "status"
	if next, ok := trigger.NextAfter(result.ExecutedAt.UTC()); ok {
		nextSQL = next.Format(time.RFC3339)
	}
	if trigger.Kind() == TriggerOnce {
		// One-shot schedules retire after their single run.
		statusSQL = "'" + string(StatusInactive) + "'"
		nextSQL = nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE schedules
		SET total_executions = total_executions + 1,
			successful_executions = successful_executions + ?,
			next_execution_at = ?,
			status = `+statusSQL+`,
			version = version + 1,
			updated_at = ?
		WHERE id = ?
	`, successInc, nextSQL, time.Now().UTC().Format(time.RFC3339), scheduleID)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "advance schedule %s: %v", scheduleID, err)
	}

	// Retention cap: keep only the most recent entries
	_, err = tx.ExecContext(ctx, `
		DELETE FROM schedule_executions
		WHERE schedule_id = ? AND id NOT IN (
			SELECT id FROM schedule_executions
			WHERE schedule_id = ?
			ORDER BY executed_at DESC, id DESC
			LIMIT ?
		)
	`, scheduleID, scheduleID, s.historyMax)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "prune history for %s: %v", scheduleID, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit execution result: %v", err)
	}

	if s.log != nil {
		s.log.Infow("Execution recorded", "schedule", scheduleID,
			"success", result.Success, "duration_ms", result.Duration.Milliseconds())
	}
	s.hooks.OnScheduleExecuted(scheduleID, &result)
	return nil
}

// GetExecutionHistory returns the schedule's retained results, newest first.
// limit <= 0 returns everything retained.
func (s *Store) GetExecutionHistory(ctx context.Context, scheduleID string, limit int) ([]*ExecutionResult, error) {
	if limit <= 0 {
		limit = s.historyMax
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, executed_at, success, duration_ms, error_message, actions_executed
		FROM schedule_executions
		WHERE schedule_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, scheduleID, limit)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query history: %v", err)
	}
	defer rows.Close()

	var out []*ExecutionResult
	for rows.Next() {
		var r ExecutionResult
		var executedAt string
		var success int
		var durationMs int64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.ScheduleID, &executedAt, &success,
			&durationMs, &errMsg, &r.ActionsExecuted); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan execution: %v", err)
		}
		if r.ExecutedAt, err = time.Parse(time.RFC3339, executedAt); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "parse executed_at: %v", err)
		}
		r.Success = success != 0
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.ErrorMessage = errMsg.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CleanupOldExecutionHistory removes whole results older than the retention
// window. Remaining entries are never mutated. Returns entries removed.
func (s *Store) CleanupOldExecutionHistory(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		return 0, errors.NewValidationf("retention days must be positive, got %d", olderThanDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM schedule_executions WHERE executed_at < ?",
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "cleanup history: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}

	if s.log != nil && n > 0 {
		s.log.Infow("Execution history pruned", "removed", n, "older_than_days", olderThanDays)
	}
	return int(n), nil
}

// GetStatistics aggregates execution outcomes across all schedules.
func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? AND enabled = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_executions), 0),
			COALESCE(SUM(successful_executions), 0)
		FROM schedules
	`, string(StatusActive)).Scan(&stats.TotalSchedules, &stats.ActiveSchedules,
		&stats.TotalExecutions, &stats.SuccessfulExecutions)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "aggregate statistics: %v", err)
	}

	if stats.TotalExecutions > 0 {
		stats.OverallSuccessRate =
			float64(stats.SuccessfulExecutions) / float64(stats.TotalExecutions)
	}
	return stats, nil
}

func (s *Store) fetchOne(ctx context.Context, query string, args ...interface{}) (*Schedule, error) {
	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "schedule")
	}
	return sched, err
}

func (s *Store) fetchMany(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query schedules: %v", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate schedules: %v", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var kind, spec, status, createdAt, updatedAt string
	var enabled int
	var nextAt, externalID sql.NullString

	err := row.Scan(&sched.ID, &sched.Name, &sched.RecordingID, &kind, &spec,
		&enabled, &status, &nextAt, &sched.TotalExecutions,
		&sched.SuccessfulExecutions, &externalID, &sched.Version,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "scan schedule: %v", err)
	}

	sched.Enabled = enabled != 0
	sched.Status = Status(status)
	sched.ExternalTaskID = externalID.String

	if sched.Trigger, err = DecodeTrigger(TriggerKind(kind), spec); err != nil {
		return nil, err
	}
	if nextAt.Valid {
		next, err := time.Parse(time.RFC3339, nextAt.String)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "parse next_execution_at: %v", err)
		}
		sched.NextExecutionAt = &next
	}
	if sched.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse created_at: %v", err)
	}
	if sched.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse updated_at: %v", err)
	}
	return &sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
