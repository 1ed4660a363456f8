package settings

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/macrokit/macrokit/errors"
)

// defaultHistoryLimit bounds the change history kept per key.
const defaultHistoryLimit = 20

// Metadata describes one settings entry without its value.
type Metadata struct {
	Key       string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Change is one audit entry for a key. OldValue is null for the first write,
// NewValue is null for a delete.
type Change struct {
	Key       string
	OldValue  Value
	NewValue  Value
	ChangedAt time.Time
}

// Store persists settings entries with per-key change auditing.
// All methods are safe for concurrent use.
type Store struct {
	db           *sql.DB
	log          *zap.SugaredLogger
	hooks        Hooks
	historyLimit int

	// Serializes bulk operations (SetMultiple, ClearAll, backup/restore,
	// registry sync) so a concurrent mutation cannot be partially captured.
	bulkMu sync.Mutex
}

// NewStore creates a settings store. logger may be nil.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:           db,
		log:          logger,
		hooks:        NopHooks{},
		historyLimit: defaultHistoryLimit,
	}
}

// SetHooks registers the event hooks fired after successful mutations.
func (s *Store) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	s.hooks = h
}

// Get returns the value for key, or def when the key is absent.
func (s *Store) Get(ctx context.Context, key string, def Value) (Value, error) {
	if !ValidKey(key) {
		return Value{}, errors.NewValidationf("invalid setting key: %q", key)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return Value{}, errors.Wrapf(errors.ErrStorage, "get setting %s: %v", key, err)
	}

	return ParseValue(raw)
}

// Set validates and persists one entry, recording the change in the key's
// audit history. Invalid keys and values are rejected, never coerced.
func (s *Store) Set(ctx context.Context, key string, value Value) error {
	if !ValidKey(key) {
		return errors.NewValidationf("invalid setting key: %q", key)
	}
	if v := ValidateValue(key, value); !v.Valid {
		return errors.NewValidationf("invalid value for %s: %s", key, strings.Join(v.Errors, "; "))
	}

	old, existed, err := s.setInTx(ctx, nil, key, value, "local")
	if err != nil {
		return err
	}

	if s.log != nil {
		s.log.Debugw("Setting updated", "key", key, "existed", existed)
	}
	s.hooks.OnSettingChanged(key, old, value)
	return nil
}

// setInTx writes one entry and its audit row. When tx is nil a dedicated
// transaction is opened; otherwise the caller's transaction is used and the
// caller commits.
func (s *Store) setInTx(ctx context.Context, tx *sql.Tx, key string, value Value, source string) (old Value, existed bool, err error) {
	ownTx := tx == nil
	if ownTx {
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return Value{}, false, errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
		}
		defer tx.Rollback()
	}

	old = Null()
	var oldRaw string
	err = tx.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&oldRaw)
	switch err {
	case nil:
		existed = true
		if old, err = ParseValue(oldRaw); err != nil {
			return Value{}, false, err
		}
	case sql.ErrNoRows:
		// first write
	default:
		return Value{}, false, errors.Wrapf(errors.ErrStorage, "read old value for %s: %v", key, err)
	}

	newRaw := value.String()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (key, value, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			source = excluded.source, updated_at = excluded.updated_at
	`, key, newRaw, source, now, now)
	if err != nil {
		return Value{}, false, errors.Wrapf(errors.ErrStorage, "write setting %s: %v", key, err)
	}

	if err := s.appendChange(ctx, tx, key, old.String(), newRaw, now); err != nil {
		return Value{}, false, err
	}

	if ownTx {
		if err := tx.Commit(); err != nil {
			return Value{}, false, errors.Wrapf(errors.ErrStorage, "commit setting %s: %v", key, err)
		}
	}
	return old, existed, nil
}

// appendChange inserts one audit row and trims the key's history to the cap.
func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, key, oldRaw, newRaw, changedAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO setting_changes (key, old_value, new_value, changed_at)
		VALUES (?, ?, ?, ?)
	`, key, oldRaw, newRaw, changedAt)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "append change for %s: %v", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM setting_changes
		WHERE key = ? AND id NOT IN (
			SELECT id FROM setting_changes WHERE key = ? ORDER BY id DESC LIMIT ?
		)
	`, key, key, s.historyLimit)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "trim change history for %s: %v", key, err)
	}
	return nil
}

// Delete removes one entry. Deleting an absent key is a not-found failure.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return errors.NewValidationf("invalid setting key: %q", key)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	var oldRaw string
	err = tx.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&oldRaw)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundf("setting %s", key)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "read setting %s: %v", key, err)
	}

	old, err := ParseValue(oldRaw)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return errors.Wrapf(errors.ErrStorage, "delete setting %s: %v", key, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.appendChange(ctx, tx, key, oldRaw, Null().String(), now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit delete %s: %v", key, err)
	}

	s.hooks.OnSettingDeleted(key, old)
	return nil
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, errors.NewValidationf("invalid setting key: %q", key)
	}

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM settings WHERE key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(errors.ErrStorage, "check setting %s: %v", key, err)
	}
	return true, nil
}

// GetAll returns every entry.
func (s *Store) GetAll(ctx context.Context) (map[string]Value, error) {
	return s.collect(ctx, "SELECT key, value FROM settings")
}

// GetByPrefix returns all entries whose key starts with prefix.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) (map[string]Value, error) {
	return s.collect(ctx, "SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\\'", likePrefix(prefix))
}

func (s *Store) collect(ctx context.Context, query string, args ...interface{}) (map[string]Value, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query settings: %v", err)
	}
	defer rows.Close()

	out := make(map[string]Value)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan setting: %v", err)
		}
		v, err := ParseValue(raw)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate settings: %v", err)
	}
	return out, nil
}

// likePrefix escapes LIKE metacharacters so a prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// SetMultiple persists a batch atomically: either every key validates and
// persists, or none do.
func (s *Store) SetMultiple(ctx context.Context, entries map[string]Value) error {
	if len(entries) == 0 {
		return nil
	}

	if v := ValidateEntries(entries); !v.Valid {
		return errors.NewValidationf("batch rejected: %s", strings.Join(v.Errors, "; "))
	}

	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	type applied struct {
		key      string
		old, new Value
	}
	changes := make([]applied, 0, len(entries))

	// Deterministic write order
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		old, _, err := s.setInTx(ctx, tx, key, entries[key], "local")
		if err != nil {
			return err
		}
		changes = append(changes, applied{key: key, old: old, new: entries[key]})
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit batch: %v", err)
	}

	for _, c := range changes {
		s.hooks.OnSettingChanged(c.key, c.old, c.new)
	}
	return nil
}

// DeleteByPrefix removes every entry under prefix and returns how many. Each
// removed key gets its own audit row and deletion hook, same as Delete.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\\' ORDER BY key",
		likePrefix(prefix))
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "query by prefix %s: %v", prefix, err)
	}

	type removed struct {
		key string
		old Value
	}
	var victims []removed
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return 0, errors.Wrapf(errors.ErrStorage, "scan setting: %v", err)
		}
		old, err := ParseValue(raw)
		if err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, removed{key: key, old: old})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, errors.Wrapf(errors.ErrStorage, "iterate settings: %v", err)
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", v.key); err != nil {
			return 0, errors.Wrapf(errors.ErrStorage, "delete setting %s: %v", v.key, err)
		}
		if err := s.appendChange(ctx, tx, v.key, v.old.String(), Null().String(), now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "commit delete by prefix: %v", err)
	}

	for _, v := range victims {
		s.hooks.OnSettingDeleted(v.key, v.old)
	}
	return len(victims), nil
}

// ClearAll removes every entry and its change history.
func (s *Store) ClearAll(ctx context.Context) error {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return errors.Wrapf(errors.ErrStorage, "clear settings: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM setting_changes"); err != nil {
		return errors.Wrapf(errors.ErrStorage, "clear change history: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "commit clear: %v", err)
	}
	return nil
}

// GetMetadata returns the audit metadata for one entry.
func (s *Store) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	if !ValidKey(key) {
		return nil, errors.NewValidationf("invalid setting key: %q", key)
	}

	var meta Metadata
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT key, source, created_at, updated_at FROM settings WHERE key = ?", key,
	).Scan(&meta.Key, &meta.Source, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundf("setting %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "get metadata for %s: %v", key, err)
	}

	if meta.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse created_at for %s: %v", key, err)
	}
	if meta.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "parse updated_at for %s: %v", key, err)
	}
	return &meta, nil
}

// GetChangeHistory returns the most recent changes for a key, newest first.
// limit <= 0 returns the full retained history.
func (s *Store) GetChangeHistory(ctx context.Context, key string, limit int) ([]Change, error) {
	if !ValidKey(key) {
		return nil, errors.NewValidationf("invalid setting key: %q", key)
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, old_value, new_value, changed_at
		FROM setting_changes
		WHERE key = ?
		ORDER BY id DESC
		LIMIT ?
	`, key, limit)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query change history for %s: %v", key, err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var oldRaw, newRaw sql.NullString
		var changedAt string
		if err := rows.Scan(&c.Key, &oldRaw, &newRaw, &changedAt); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan change: %v", err)
		}

		c.OldValue = Null()
		if oldRaw.Valid {
			if c.OldValue, err = ParseValue(oldRaw.String); err != nil {
				return nil, err
			}
		}
		c.NewValue = Null()
		if newRaw.Valid {
			if c.NewValue, err = ParseValue(newRaw.String); err != nil {
				return nil, err
			}
		}
		if c.ChangedAt, err = time.Parse(time.RFC3339, changedAt); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "parse changed_at: %v", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// ValidateSettings scans every stored entry and returns the aggregated
// validation result with per-key errors and warnings.
func (s *Store) ValidateSettings(ctx context.Context) (ValidationResult, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateEntries(all), nil
}
