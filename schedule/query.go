package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/macrokit/macrokit/errors"
)

// SortField names a schedule query sort key.
type SortField string

const (
	SortByName        SortField = "name"
	SortByCreatedAt   SortField = "created_at"
	SortByUpdatedAt   SortField = "updated_at"
	SortByNextRun     SortField = "next_execution_at"
	SortByExecutions  SortField = "total_executions"
	SortBySuccessRate SortField = "success_rate"
)

var scheduleSortColumns = map[SortField]string{
	SortByName:       "name",
	SortByCreatedAt:  "created_at",
	SortByUpdatedAt:  "updated_at",
	SortByNextRun:    "next_execution_at",
	SortByExecutions: "total_executions",
	// success_rate is derived, never stored
	SortBySuccessRate: "CASE WHEN total_executions = 0 THEN 0.0 " +
		"ELSE CAST(successful_executions AS REAL) / total_executions END",
}

// Query accumulates predicates, one sort key, and pagination over schedules.
// Predicates compose conjunctively. Execute and Count run independently;
// Count never materializes the result set.
type Query struct {
	store  *Store
	conds  []string
	args   []interface{}
	sort   SortField
	desc   bool
	limit  int
	offset int
	err    error
}

// Query starts a fluent query over the store.
func (s *Store) Query() *Query {
	return &Query{store: s, sort: SortByCreatedAt}
}

// NameContains filters to names containing the substring, case-insensitive.
func (q *Query) NameContains(substr string) *Query {
	q.conds = append(q.conds, "lower(name) LIKE ? ESCAPE '\\'")
	q.args = append(q.args, "%"+escapeLike(strings.ToLower(substr))+"%")
	return q
}

// StatusIn filters to schedules in any of the given lifecycle states.
func (q *Query) StatusIn(statuses ...Status) *Query {
	if len(statuses) == 0 {
		return q
	}
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		if !ValidStatus(st) {
			q.err = errors.NewValidationf("unknown schedule status %q", st)
			return q
		}
		marks[i] = "?"
		q.args = append(q.args, string(st))
	}
	q.conds = append(q.conds, "status IN ("+strings.Join(marks, ", ")+")")
	return q
}

// TriggerKindIn filters to schedules carrying any of the given trigger kinds.
func (q *Query) TriggerKindIn(kinds ...TriggerKind) *Query {
	if len(kinds) == 0 {
		return q
	}
	marks := make([]string, len(kinds))
	for i, k := range kinds {
		marks[i] = "?"
		q.args = append(q.args, string(k))
	}
	q.conds = append(q.conds, "trigger_kind IN ("+strings.Join(marks, ", ")+")")
	return q
}

// ForRecording filters to schedules referencing the recording.
func (q *Query) ForRecording(recordingID string) *Query {
	q.conds = append(q.conds, "recording_id = ?")
	q.args = append(q.args, recordingID)
	return q
}

// EnabledOnly filters to enabled schedules.
func (q *Query) EnabledOnly() *Query {
	q.conds = append(q.conds, "enabled = 1")
	return q
}

// NextRunBefore filters to schedules with a computed due time at or before t.
func (q *Query) NextRunBefore(t time.Time) *Query {
	q.conds = append(q.conds, "next_execution_at IS NOT NULL AND next_execution_at <= ?")
	q.args = append(q.args, t.UTC().Format(time.RFC3339))
	return q
}

// MinSuccessRate filters to schedules whose derived success rate is at least
// rate. Schedules that never executed have rate 0.
func (q *Query) MinSuccessRate(rate float64) *Query {
	q.conds = append(q.conds, scheduleSortColumns[SortBySuccessRate]+" >= ?")
	q.args = append(q.args, rate)
	return q
}

// CreatedBetween filters to schedules created within [from, to].
func (q *Query) CreatedBetween(from, to time.Time) *Query {
	if to.Before(from) {
		q.err = errors.NewValidationf("date range end precedes start")
		return q
	}
	q.conds = append(q.conds, "created_at >= ?", "created_at <= ?")
	q.args = append(q.args, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	return q
}

// SortBy sets the single active sort key. Ties always break by id ascending.
func (q *Query) SortBy(field SortField, descending bool) *Query {
	if _, ok := scheduleSortColumns[field]; !ok {
		q.err = errors.NewValidationf("unknown sort field %q", field)
		return q
	}
	q.sort = field
	q.desc = descending
	return q
}

// Limit caps the result size. n <= 0 means unbounded.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n results.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

func (q *Query) whereClause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

// Execute returns the matching schedules in query order.
func (q *Query) Execute(ctx context.Context) ([]*Schedule, error) {
	if q.err != nil {
		return nil, q.err
	}

	dir := "ASC"
	if q.desc {
		dir = "DESC"
	}
	query := "SELECT " + scheduleColumns + " FROM schedules" + q.whereClause() +
		" ORDER BY " + scheduleSortColumns[q.sort] + " " + dir + ", id ASC"

	args := append([]interface{}(nil), q.args...)
	if q.limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.limit, q.offset)
	} else if q.offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.offset)
	}

	return q.store.fetchMany(ctx, query, args...)
}

// Count returns the cardinality of the match set without materializing it.
// Pagination does not affect the count.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}

	var n int
	err := q.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules"+q.whereClause(), q.args...).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count schedules: %v", err)
	}
	return n, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
