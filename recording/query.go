package recording

import (
	"context"
	"strings"
	"time"

	"github.com/macrokit/macrokit/errors"
)

// SortField names a recording query sort key.
type SortField string

const (
	SortByName        SortField = "name"
	SortByCreatedAt   SortField = "created_at"
	SortByUpdatedAt   SortField = "updated_at"
	SortByActionCount SortField = "action_count"
	SortByExecutions  SortField = "total_executions"
)

var recordingSortColumns = map[SortField]string{
	SortByName:        "name",
	SortByCreatedAt:   "created_at",
	SortByUpdatedAt:   "updated_at",
	SortByActionCount: "action_count",
	SortByExecutions:  "total_executions",
}

// Query accumulates predicates, one sort key, and pagination over recordings.
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

// StatusIn filters to recordings in any of the given lifecycle states.
func (q *Query) StatusIn(statuses ...Status) *Query {
	if len(statuses) == 0 {
		return q
	}
	marks := make([]string, len(statuses))
	for i, st := range statuses {
		if !ValidStatus(st) {
			q.err = errors.NewValidationf("unknown recording status %q", st)
			return q
		}
		marks[i] = "?"
		q.args = append(q.args, string(st))
	}
	q.conds = append(q.conds, "status IN ("+strings.Join(marks, ", ")+")")
	return q
}

// TagContains filters to recordings carrying the exact tag.
func (q *Query) TagContains(tag string) *Query {
	// Tags are stored as a JSON string array; the quoted form matches the
	// whole tag, not substrings of other tags.
	q.conds = append(q.conds, "tags LIKE ? ESCAPE '\\'")
	q.args = append(q.args, `%"`+escapeLike(tag)+`"%`)
	return q
}

// CreatedBetween filters to recordings created within [from, to].
func (q *Query) CreatedBetween(from, to time.Time) *Query {
	if to.Before(from) {
		q.err = errors.NewValidationf("date range end precedes start")
		return q
	}
	q.conds = append(q.conds, "created_at >= ?", "created_at <= ?")
	q.args = append(q.args, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	return q
}

// MinActionCount filters to recordings with at least n actions.
func (q *Query) MinActionCount(n int) *Query {
	q.conds = append(q.conds, "action_count >= ?")
	q.args = append(q.args, n)
	return q
}

// MinExecutions filters to recordings played back at least n times.
func (q *Query) MinExecutions(n int) *Query {
	q.conds = append(q.conds, "total_executions >= ?")
	q.args = append(q.args, n)
	return q
}

// SortBy sets the single active sort key. Ties always break by id ascending.
func (q *Query) SortBy(field SortField, descending bool) *Query {
	if _, ok := recordingSortColumns[field]; !ok {
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

// Execute returns the matching recordings in query order.
func (q *Query) Execute(ctx context.Context) ([]*Recording, error) {
	if q.err != nil {
		return nil, q.err
	}

	dir := "ASC"
	if q.desc {
		dir = "DESC"
	}
	query := "SELECT " + recordingColumns + " FROM recordings" + q.whereClause() +
		" ORDER BY " + recordingSortColumns[q.sort] + " " + dir + ", id ASC"

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
		"SELECT COUNT(*) FROM recordings"+q.whereClause(), q.args...).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count recordings: %v", err)
	}
	return n, nil
}
