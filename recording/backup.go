package recording

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/macrokit/macrokit/db"
	"github.com/macrokit/macrokit/errors"
)

// snapshotFormatVersion identifies the backup container layout.
const snapshotFormatVersion = 1

type snapshot struct {
	FormatVersion int          `json:"format_version"`
	ExportedAt    time.Time    `json:"exported_at"`
	Recordings    []*Recording `json:"recordings"`
}

// BackupToFile writes a versioned snapshot of every recording. Action
// payloads are exported in the clear; the snapshot file is the caller's
// responsibility to protect. The snapshot is written to a temp file and
// renamed so a cancelled backup never leaves a file that parses as complete.
func (s *Store) BackupToFile(ctx context.Context, path string) error {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	recs, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(errors.ErrStorage, "backup cancelled: %v", err)
	}

	snap := snapshot{
		FormatVersion: snapshotFormatVersion,
		ExportedAt:    time.Now().UTC(),
		Recordings:    recs,
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
		s.log.Infow("Recording backup written",
			"path", filepath.Base(path), "recordings", len(recs))
	}
	return nil
}

// RestoreFromFile loads a snapshot, preserving ids, names, and timestamps.
// Existing ids are replaced only when overwrite is true. Returns the number
// of recordings applied.
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

	// Validate the whole batch before touching the store
	for _, rec := range snap.Recordings {
		if rec.ID == "" {
			return 0, errors.NewValidationf("snapshot recording %q has no id", rec.Name)
		}
		if err := rec.normalize(s.maxActions); err != nil {
			return 0, err
		}
	}

	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, rec := range snap.Recordings {
		if err := ctx.Err(); err != nil {
			// Rolls back; a cancelled restore applies nothing.
			return 0, errors.Wrapf(errors.ErrStorage, "restore cancelled: %v", err)
		}

		if !overwrite {
			var one int
			err := tx.QueryRowContext(ctx,
				"SELECT 1 FROM recordings WHERE id = ?", rec.ID).Scan(&one)
			if err == nil {
				continue
			}
			if err != sql.ErrNoRows {
				return 0, errors.Wrapf(errors.ErrStorage, "check %s: %v", rec.ID, err)
			}
		}

		sealed, err := s.sealActions(rec.Actions)
		if err != nil {
			return 0, err
		}
		tags, err := json.Marshal(rec.Tags)
		if err != nil {
			return 0, errors.Wrapf(errors.ErrStorage, "encode tags: %v", err)
		}

		// With overwrite, replace whole rows; without it, a name collision
		// against a different id must surface, not silently clobber.
		verb := "INSERT"
		if overwrite {
			verb = "INSERT OR REPLACE"
		}
		_, err = tx.ExecContext(ctx, verb+` INTO recordings (`+recordingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.Name, string(rec.Status), rec.Author, rec.Category,
			string(tags), sealed, rec.ActionCount, rec.TotalExecutions,
			rec.Version, rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UpdatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return 0, errors.NewConflictf("snapshot recording %q collides with an existing name", rec.Name)
			}
			return 0, errors.Wrapf(errors.ErrStorage, "restore recording %s: %v", rec.ID, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "commit restore: %v", err)
	}

	s.cache.Clear()
	if s.log != nil {
		s.log.Infow("Recordings restored", "path", filepath.Base(path), "applied", applied)
	}
	return applied, nil
}
