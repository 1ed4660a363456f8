package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/macrokit/macrokit/errors"
)

// snapshotFormatVersion identifies the backup container layout.
const snapshotFormatVersion = 1

type snapshotEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Source    string          `json:"source"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type snapshot struct {
	FormatVersion int             `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	Entries       []snapshotEntry `json:"entries"`
}

// BackupToFile writes a versioned snapshot of all entries. The snapshot is
// written to a temp file and renamed so a cancelled backup never leaves a
// file that parses as complete.
func (s *Store) BackupToFile(ctx context.Context, path string) error {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, source, created_at, updated_at FROM settings ORDER BY key")
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "snapshot settings: %v", err)
	}
	defer rows.Close()

	snap := snapshot{
		FormatVersion: snapshotFormatVersion,
		ExportedAt:    time.Now().UTC(),
	}
	for rows.Next() {
		var e snapshotEntry
		var raw string
		if err := rows.Scan(&e.Key, &raw, &e.Source, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return errors.Wrapf(errors.ErrStorage, "scan setting: %v", err)
		}
		e.Value = json.RawMessage(raw)
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "iterate settings: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "backup cancelled: %v", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrStorage, "encode snapshot: %v", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(errors.ErrStorage, "write snapshot: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(errors.ErrStorage, "finalize snapshot: %v", err)
	}

	if s.log != nil {
		s.log.Infow("Settings backup written", "path", filepath.Base(path), "entries", len(snap.Entries))
	}
	s.hooks.OnSettingsExported(len(snap.Entries), path)
	return nil
}

// RestoreFromFile loads a snapshot. Existing keys are replaced only when
// overwrite is true. Returns the number of entries applied.
func (s *Store) RestoreFromFile(ctx context.Context, path string, overwrite bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundf("snapshot file %s", path)
		}
		return 0, errors.Wrapf(errors.ErrStorage, "read snapshot: %v", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, errors.NewValidationf("malformed snapshot file: %v", err)
	}
	if snap.FormatVersion != snapshotFormatVersion {
		return 0, errors.NewValidationf("unsupported snapshot format version %d", snap.FormatVersion)
	}

	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, e := range snap.Entries {
		if err := ctx.Err(); err != nil {
			// Rolls back; a cancelled restore applies nothing.
			return 0, errors.Wrapf(errors.ErrStorage, "restore cancelled: %v", err)
		}

		if !ValidKey(e.Key) {
			return 0, errors.NewValidationf("snapshot contains invalid key %q", e.Key)
		}
		value, err := ParseValue(string(e.Value))
		if err != nil {
			return 0, err
		}
		if v := ValidateValue(e.Key, value); !v.Valid {
			return 0, errors.NewValidationf("snapshot value for %s invalid", e.Key)
		}

		if !overwrite {
			var one int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM settings WHERE key = ?", e.Key).Scan(&one)
			if err == nil {
				continue
			}
			if err != sql.ErrNoRows {
				return 0, errors.Wrapf(errors.ErrStorage, "check %s: %v", e.Key, err)
			}
		}

		if _, _, err := s.setInTx(ctx, tx, e.Key, value, "restore"); err != nil {
			return 0, err
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "commit restore: %v", err)
	}

	if s.log != nil {
		s.log.Infow("Settings restored", "path", filepath.Base(path), "applied", applied)
	}
	s.hooks.OnSettingsImported(applied, path)
	return applied, nil
}
