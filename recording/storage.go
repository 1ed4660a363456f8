package recording

import (
	"context"
	"fmt"
	"time"

	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/internal/extcall"
)

// StorageInfo summarizes the backing store.
type StorageInfo struct {
	RecordingCount    int
	TotalActions      int
	DatabaseSizeBytes int64
	EncryptionEnabled bool
}

// GetStorageInfo reports aggregate counts and the database footprint.
func (s *Store) GetStorageInfo(ctx context.Context) (*StorageInfo, error) {
	info := &StorageInfo{EncryptionEnabled: s.cipher != nil}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(action_count), 0) FROM recordings",
	).Scan(&info.RecordingCount, &info.TotalActions)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "storage counts: %v", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "page count: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "page size: %v", err)
	}
	info.DatabaseSizeBytes = pageCount * pageSize

	return info, nil
}

// OptimizeStorage reclaims free pages and verifies the database afterwards.
func (s *Store) OptimizeStorage(ctx context.Context) error {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return errors.Wrapf(errors.ErrStorage, "vacuum: %v", err)
	}

	var verdict string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&verdict); err != nil {
		return errors.Wrapf(errors.ErrStorage, "integrity check: %v", err)
	}
	if verdict != "ok" {
		return errors.Wrapf(errors.ErrStorage, "integrity check failed: %s", verdict)
	}

	if s.log != nil {
		s.log.Infow("Storage optimized")
	}
	return nil
}

// IntegrityReport lists recordings whose stored payloads are damaged.
type IntegrityReport struct {
	Checked  int
	Problems []string
}

// OK reports whether every checked recording was intact.
func (r *IntegrityReport) OK() bool { return len(r.Problems) == 0 }

// ValidateIntegrity decrypts and decodes every stored action payload and
// cross-checks the recorded action count. Damaged entries are reported, not
// repaired.
func (s *Store) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, actions, action_count FROM recordings ORDER BY id")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query recordings: %v", err)
	}
	defer rows.Close()

	report := &IntegrityReport{}
	for rows.Next() {
		var id, name string
		var sealed []byte
		var storedCount int
		if err := rows.Scan(&id, &name, &sealed, &storedCount); err != nil {
			return nil, errors.Wrapf(errors.ErrStorage, "scan recording: %v", err)
		}
		report.Checked++

		actions, err := s.openActions(sealed)
		if err != nil {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s (%s): payload cannot be decrypted", id, name))
			continue
		}
		count, err := countActions(actions)
		if err != nil {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s (%s): payload is not a valid action array", id, name))
			continue
		}
		if count != storedCount {
			report.Problems = append(report.Problems,
				fmt.Sprintf("%s (%s): stored action count %d, payload has %d",
					id, name, storedCount, count))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate recordings: %v", err)
	}

	if s.log != nil && !report.OK() {
		s.log.Warnw("Integrity problems found", "count", len(report.Problems))
	}
	return report, nil
}

// TaskRegistrar registers one-shot playback tasks with the OS scheduler.
type TaskRegistrar interface {
	RegisterOneShot(ctx context.Context, taskID, name string, runAt time.Time) error
}

// ExportToWindowsTask registers a one-off OS scheduler task that plays the
// recording at runAt, without creating a local schedule. Returns the external
// task id.
func (s *Store) ExportToWindowsTask(ctx context.Context, reg TaskRegistrar, id string, runAt time.Time) (string, error) {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	taskID := "macrokit-once-" + rec.ID
	caller := extcall.New(0, 3, 250*time.Millisecond)
	err = caller.Do(ctx, func(ctx context.Context) error {
		return reg.RegisterOneShot(ctx, taskID, rec.Name, runAt)
	})
	if err != nil {
		return "", err
	}

	if s.log != nil {
		s.log.Infow("Recording exported as one-shot task", "id", rec.ID, "task", taskID)
	}
	return taskID, nil
}
