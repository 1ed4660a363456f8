package recording

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/macrokit/macrokit/db"
	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/secure"
)

const recordingColumns = `id, name, status, author, category, tags, actions,
	action_count, total_executions, version, created_at, updated_at`

// Store persists Recording aggregates. Action payloads are sealed with the
// configured cipher before they reach the database; a nil cipher stores them
// in the clear. All methods are safe for concurrent use.
type Store struct {
	db         *sql.DB
	cipher     *secure.Cipher
	log        *zap.SugaredLogger
	hooks      Hooks
	cache      *Cache
	loads      singleflight.Group
	maxActions int

	// Serializes backup/restore so a concurrent mutation cannot be
	// partially captured in a snapshot.
	bulkMu sync.Mutex
}

// NewStore creates a recording store. cipher and logger may be nil;
// maxActions <= 0 disables the capacity limit; cacheTTL <= 0 disables cache
// expiry.
func NewStore(database *sql.DB, cipher *secure.Cipher, maxActions int, cacheTTL time.Duration, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:         database,
		cipher:     cipher,
		log:        logger,
		hooks:      NopHooks{},
		cache:      NewCache(cacheTTL),
		maxActions: maxActions,
	}
}

// SetHooks registers the event hooks fired after successful mutations.
func (s *Store) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	s.hooks = h
}

// CacheInfo returns the read cache's occupancy and hit/miss counters.
func (s *Store) CacheInfo() CacheInfo { return s.cache.Info() }

// ClearCache evicts every cached aggregate.
func (s *Store) ClearCache() { s.cache.Clear() }

func (s *Store) sealActions(actions json.RawMessage) ([]byte, error) {
	if s.cipher == nil {
		return actions, nil
	}
	return s.cipher.Encrypt(actions)
}

func (s *Store) openActions(blob []byte) (json.RawMessage, error) {
	if s.cipher == nil {
		return blob, nil
	}
	return s.cipher.Decrypt(blob)
}

// Save persists a new recording. An empty id is assigned; a duplicate name
// is a conflict. The cache entry for the id is invalidated before returning.
func (s *Store) Save(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return errors.AssertionFailedf("nil recording")
	}
	if err := rec.normalize(s.maxActions); err != nil {
		return err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	sealed, err := s.sealActions(rec.Actions)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "encode tags: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, string(rec.Status), rec.Author, rec.Category, string(tags),
		sealed, rec.ActionCount, rec.TotalExecutions, rec.Version,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictf("recording name %q already exists", rec.Name)
		}
		return errors.Wrapf(errors.ErrStorage, "insert recording: %v", err)
	}

	s.cache.Delete(rec.ID)
	if s.log != nil {
		s.log.Infow("Recording saved", "id", rec.ID, "name", rec.Name, "actions", rec.ActionCount)
	}
	s.hooks.OnRecordingSaved(rec)
	return nil
}

// GetByID returns one recording. Reads go through the id-keyed cache;
// concurrent misses for the same id share a single database load.
func (s *Store) GetByID(ctx context.Context, id string) (*Recording, error) {
	if cached := s.cache.Get(id); cached != nil {
		return cached, nil
	}

	v, err, _ := s.loads.Do(id, func() (interface{}, error) {
		// The ticket lets the cache drop this fill if a writer
		// invalidates the id while the row is being read.
		ticket := s.cache.beginFill(id)
		rec, err := s.fetchOne(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE id = ?", id)
		if err != nil {
			return nil, err
		}
		s.cache.completeFill(ticket, rec)
		return rec, nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundf("recording %s", id)
		}
		return nil, err
	}
	return v.(*Recording).clone(), nil
}

// GetByName returns one recording by its unique name. Bypasses the cache.
func (s *Store) GetByName(ctx context.Context, name string) (*Recording, error) {
	rec, err := s.fetchOne(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE name = ?", name)
	if errors.IsNotFound(err) {
		return nil, errors.NewNotFoundf("recording named %q", name)
	}
	return rec, err
}

// GetAll returns every recording ordered by creation time.
func (s *Store) GetAll(ctx context.Context) ([]*Recording, error) {
	return s.fetchMany(ctx,
		"SELECT "+recordingColumns+" FROM recordings ORDER BY created_at ASC, id ASC")
}

// GetByStatus returns recordings in the given lifecycle state.
func (s *Store) GetByStatus(ctx context.Context, status Status) ([]*Recording, error) {
	if !ValidStatus(status) {
		return nil, errors.NewValidationf("unknown recording status %q", status)
	}
	return s.fetchMany(ctx,
		"SELECT "+recordingColumns+" FROM recordings WHERE status = ? ORDER BY created_at ASC, id ASC",
		string(status))
}

// GetByDateRange returns recordings created within [from, to].
func (s *Store) GetByDateRange(ctx context.Context, from, to time.Time) ([]*Recording, error) {
	if to.Before(from) {
		return nil, errors.NewValidationf("date range end precedes start")
	}
	return s.fetchMany(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC
	`, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

// searchableFields are the text fields Search may match against.
var searchableFields = map[string]string{
	"name":     "name",
	"author":   "author",
	"category": "category",
	"tags":     "tags",
}

// Search matches query as a case-insensitive substring across the given
// fields, or across all text fields when none are named. Ordering beyond
// id determinism belongs to the query builder.
func (s *Store) Search(ctx context.Context, query string, fields ...string) ([]*Recording, error) {
	if query == "" {
		return nil, errors.NewValidationf("search query must not be empty")
	}
	if len(fields) == 0 {
		fields = []string{"name", "author", "category", "tags"}
	}

	var clauses []string
	var args []interface{}
	needle := "%" + escapeLike(strings.ToLower(query)) + "%"
	for _, f := range fields {
		col, ok := searchableFields[f]
		if !ok {
			return nil, errors.NewValidationf("unsearchable field %q", f)
		}
		clauses = append(clauses, "lower("+col+") LIKE ? ESCAPE '\\'")
		args = append(args, needle)
	}

	return s.fetchMany(ctx, `
		SELECT `+recordingColumns+` FROM recordings
		WHERE `+strings.Join(clauses, " OR ")+`
		ORDER BY name ASC, id ASC
	`, args...)
}

// Update replaces the whole aggregate. The caller's Version must match the
// stored one; a mismatch means a concurrent writer won and is a conflict.
// On success the version increments and the cache entry is invalidated.
func (s *Store) Update(ctx context.Context, rec *Recording) error {
	if rec == nil {
		return errors.AssertionFailedf("nil recording")
	}
	if rec.ID == "" {
		return errors.NewValidationf("recording id must not be empty")
	}
	if err := rec.normalize(s.maxActions); err != nil {
		return err
	}

	sealed, err := s.sealActions(rec.Actions)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "encode tags: %v", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET name = ?, status = ?, author = ?, category = ?, tags = ?, actions = ?,
			action_count = ?, total_executions = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, rec.Name, string(rec.Status), rec.Author, rec.Category, string(tags), sealed,
		rec.ActionCount, rec.TotalExecutions, now.Format(time.RFC3339),
		rec.ID, rec.Version)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictf("recording name %q already exists", rec.Name)
		}
		return errors.Wrapf(errors.ErrStorage, "update recording: %v", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		exists, err := s.Exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !exists {
			return errors.NewNotFoundf("recording %s", rec.ID)
		}
		return errors.NewConflictf("recording %s was modified concurrently", rec.ID)
	}

	rec.Version++
	rec.UpdatedAt = now

	s.cache.Delete(rec.ID)
	if s.log != nil {
		s.log.Infow("Recording updated", "id", rec.ID, "version", rec.Version)
	}
	s.hooks.OnRecordingUpdated(rec)
	return nil
}

// Delete removes one recording. Deleting an absent id is a not-found failure.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "delete recording: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.NewNotFoundf("recording %s", id)
	}

	s.cache.Delete(id)
	if s.log != nil {
		s.log.Infow("Recording deleted", "id", id)
	}
	s.hooks.OnRecordingDeleted(id)
	return nil
}

// Exists reports whether a recording id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM recordings WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "check recording %s: %v", id, err)
	}
	return true, nil
}

// Count returns the number of stored recordings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recordings").Scan(&n); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "count recordings: %v", err)
	}
	return n, nil
}

// CountByStatus returns recording counts keyed by lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM recordings GROUP BY status")
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

// IncrementExecutions bumps the playback counter after a successful run.
func (s *Store) IncrementExecutions(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET total_executions = total_executions + 1, version = version + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "increment executions: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.NewNotFoundf("recording %s", id)
	}

	s.cache.Delete(id)
	return nil
}

func (s *Store) fetchOne(ctx context.Context, query string, args ...interface{}) (*Recording, error) {
	rec, err := s.scanRecording(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "recording")
	}
	return rec, err
}

func (s *Store) fetchMany(ctx context.Context, query string, args ...interface{}) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query recordings: %v", err)
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := s.scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate recordings: %v", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRecording(row rowScanner) (*Recording, error) {
	var rec Recording
	var status, tags, createdAt, updatedAt string
	var sealed []byte

	err := row.Scan(&rec.ID, &rec.Name, &status, &rec.Author, &rec.Category,
		&tags, &sealed, &rec.ActionCount, &rec.TotalExecutions, &rec.Version,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "scan recording: %v", err)
	}

	rec.Status = Status(status)
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "decode tags for %s: %v", rec.ID, err)
	}
	if rec.Actions, err = s.openActions(sealed); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse created_at for %s: %v", rec.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse updated_at for %s: %v", rec.ID, err)
	}
	return &rec, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
