package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/macrokit/errors"
	mktest "github.com/macrokit/macrokit/internal/testing"
	"github.com/macrokit/macrokit/secure"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(mktest.CreateTestDB(t), nil, 0, time.Minute, nil)
}

func newEncryptedStore(t *testing.T) *Store {
	t.Helper()
	key, err := secure.DeriveKey([]byte("correct horse"), []byte("macrokit-salt"))
	require.NoError(t, err)
	cipher, err := secure.NewCipher(key)
	require.NoError(t, err)
	return NewStore(mktest.CreateTestDB(t), cipher, 0, time.Minute, nil)
}

func sampleActions(n int) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"type":"click","x":10,"y":20}`)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func sampleRecording(name string) *Recording {
	return &Recording{
		Name:    name,
		Status:  StatusActive,
		Author:  "tester",
		Tags:    []string{"smoke"},
		Actions: sampleActions(3),
	}
}

func TestSaveAndGetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("login-flow")
	require.NoError(t, store.Save(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 3, rec.ActionCount)
	assert.Equal(t, 1, rec.Version)

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "login-flow", got.Name)
	assert.Equal(t, StatusActive, got.Status)
	assert.JSONEq(t, string(rec.Actions), string(got.Actions))
}

func TestSaveDuplicateNameIsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecording("dup")))

	err := store.Save(ctx, sampleRecording("dup"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestSaveRejectsBadActionPayloads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("bad")
	rec.Actions = json.RawMessage(`{"not":"an array"}`)
	err := store.Save(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestSaveEnforcesActionCapacity(t *testing.T) {
	store := NewStore(mktest.CreateTestDB(t), nil, 2, time.Minute, nil)
	ctx := context.Background()

	err := store.Save(ctx, sampleRecording("too-big"))
	require.Error(t, err)
	assert.True(t, errors.IsCapacity(err))
}

func TestGetByIDMissIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("by-name")
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.GetByName(ctx, "by-name")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = store.GetByName(ctx, "absent")
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateReplacesWholeAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("original")
	require.NoError(t, store.Save(ctx, rec))

	rec.Name = "renamed"
	rec.Status = StatusArchived
	rec.Actions = sampleActions(5)
	require.NoError(t, store.Update(ctx, rec))
	assert.Equal(t, 2, rec.Version)

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, StatusArchived, got.Status)
	assert.Equal(t, 5, got.ActionCount)
}

func TestUpdateStaleVersionIsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("contested")
	require.NoError(t, store.Save(ctx, rec))

	stale := rec.clone()
	require.NoError(t, store.Update(ctx, rec))

	stale.Author = "loser"
	err := store.Update(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestUpdateAbsentIsNotFound(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecording("ghost")
	rec.ID = "no-such-id"
	rec.Version = 1
	err := store.Update(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("doomed")
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.ID))

	_, err := store.GetByID(ctx, rec.ID)
	assert.True(t, errors.IsNotFound(err))

	err = store.Delete(ctx, rec.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestCacheCoherenceAfterWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("cached")
	require.NoError(t, store.Save(ctx, rec))

	// Prime the cache
	_, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)

	rec.Name = "cached-v2"
	require.NoError(t, store.Update(ctx, rec))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached-v2", got.Name, "stale read after update")

	info := store.CacheInfo()
	assert.NotZero(t, info.Misses)
}

func TestCacheDropsFillThatRacedInvalidation(t *testing.T) {
	// A read-through load that began before a write's invalidation must not
	// land its (now stale) row after the write returns.
	c := NewCache(time.Minute)
	rec := sampleRecording("raced")
	rec.ID = "raced-id"

	ticket := c.beginFill(rec.ID)
	c.Delete(rec.ID) // concurrent writer invalidates mid-load
	c.completeFill(ticket, rec)
	assert.Nil(t, c.Get(rec.ID), "stale fill must be dropped")

	// An undisturbed fill still lands
	ticket = c.beginFill(rec.ID)
	c.completeFill(ticket, rec)
	assert.NotNil(t, c.Get(rec.ID))

	// Clear invalidates in-flight fills the same way
	ticket = c.beginFill(rec.ID)
	c.Clear()
	c.completeFill(ticket, rec)
	assert.Nil(t, c.Get(rec.ID))

	// A direct Set is an authoritative write, not a racy fill
	c.Set(rec)
	assert.NotNil(t, c.Get(rec.ID))
}

func TestCacheReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("aliasing")
	require.NoError(t, store.Save(ctx, rec))

	first, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	first.Name = "mutated by caller"

	second, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "aliasing", second.Name)
}

func TestEncryptedAtRest(t *testing.T) {
	store := newEncryptedStore(t)
	ctx := context.Background()

	rec := sampleRecording("sealed")
	require.NoError(t, store.Save(ctx, rec))

	// Raw blob must not contain the plaintext payload
	var sealed []byte
	err := store.db.QueryRowContext(ctx,
		"SELECT actions FROM recordings WHERE id = ?", rec.ID).Scan(&sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "click")

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(sampleActions(3)), string(got.Actions))
}

func TestSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleRecording("daily report")
	a.Author = "alice"
	b := sampleRecording("invoice entry")
	b.Author = "bob"
	require.NoError(t, store.Save(ctx, a))
	require.NoError(t, store.Save(ctx, b))

	found, err := store.Search(ctx, "REPORT")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	found, err = store.Search(ctx, "bob", "author")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b.ID, found[0].ID)

	_, err = store.Search(ctx, "x", "actions")
	assert.True(t, errors.IsValidation(err))
}

func TestCountByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := sampleRecording("a")
	a.Status = StatusActive
	b := sampleRecording("b")
	b.Status = StatusArchived
	c := sampleRecording("c")
	c.Status = StatusActive
	for _, rec := range []*Recording{a, b, c} {
		require.NoError(t, store.Save(ctx, rec))
	}

	total, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	byStatus, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, byStatus[StatusActive])
	assert.Equal(t, 1, byStatus[StatusArchived])
}

func TestIncrementExecutions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("counted")
	require.NoError(t, store.Save(ctx, rec))

	require.NoError(t, store.IncrementExecutions(ctx, rec.ID))
	require.NoError(t, store.IncrementExecutions(ctx, rec.ID))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalExecutions)
}

type countingHooks struct {
	mu      sync.Mutex
	saved   int
	updated int
	deleted int
}

func (h *countingHooks) OnRecordingSaved(*Recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved++
}

func (h *countingHooks) OnRecordingUpdated(*Recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated++
}

func (h *countingHooks) OnRecordingDeleted(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted++
}

func TestHooksFireOnlyOnSuccess(t *testing.T) {
	store := newTestStore(t)
	hooks := &countingHooks{}
	store.SetHooks(hooks)
	ctx := context.Background()

	rec := sampleRecording("hooked")
	require.NoError(t, store.Save(ctx, rec))
	require.Error(t, store.Save(ctx, sampleRecording("hooked"))) // conflict
	require.NoError(t, store.Update(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.ID))
	require.Error(t, store.Delete(ctx, rec.ID)) // not found

	assert.Equal(t, 1, hooks.saved)
	assert.Equal(t, 1, hooks.updated)
	assert.Equal(t, 1, hooks.deleted)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := newEncryptedStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recordings.json")

	a := sampleRecording("alpha")
	b := sampleRecording("beta")
	b.Tags = []string{"nightly", "smoke"}
	require.NoError(t, src.Save(ctx, a))
	require.NoError(t, src.Save(ctx, b))
	require.NoError(t, src.BackupToFile(ctx, path))

	dst := newEncryptedStore(t)
	applied, err := dst.RestoreFromFile(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	got, err := dst.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Name)
	assert.Equal(t, []string{"nightly", "smoke"}, got.Tags)
	assert.JSONEq(t, string(sampleActions(3)), string(got.Actions))
}

func TestRestoreWithoutOverwriteSkipsExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recordings.json")

	rec := sampleRecording("keeper")
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.BackupToFile(ctx, path))

	rec.Author = "changed after backup"
	require.NoError(t, store.Update(ctx, rec))

	applied, err := store.RestoreFromFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed after backup", got.Author)
}

func TestValidateIntegrityFlagsCountMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("intact")
	require.NoError(t, store.Save(ctx, rec))

	report, err := store.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.True(t, report.OK())

	// Corrupt the stored count out-of-band
	_, err = store.db.ExecContext(ctx,
		"UPDATE recordings SET action_count = 99 WHERE id = ?", rec.ID)
	require.NoError(t, err)

	report, err = store.ValidateIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
}

func TestValidateIntegrityFlagsUndecryptablePayloads(t *testing.T) {
	store := newEncryptedStore(t)
	ctx := context.Background()

	rec := sampleRecording("damaged")
	require.NoError(t, store.Save(ctx, rec))

	_, err := store.db.ExecContext(ctx,
		"UPDATE recordings SET actions = X'DEADBEEF' WHERE id = ?", rec.ID)
	require.NoError(t, err)

	report, err := store.ValidateIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "decrypted")
}

func TestGetStorageInfo(t *testing.T) {
	store := newEncryptedStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecording("one")))
	require.NoError(t, store.Save(ctx, sampleRecording("two")))

	info, err := store.GetStorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.RecordingCount)
	assert.Equal(t, 6, info.TotalActions)
	assert.True(t, info.EncryptionEnabled)
	assert.Positive(t, info.DatabaseSizeBytes)
}

func TestOptimizeStorage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("vacuumed")
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.ID))

	require.NoError(t, store.OptimizeStorage(ctx))
}

type oneShotRecorder struct {
	mu    sync.Mutex
	tasks map[string]time.Time
	fail  int
}

func (r *oneShotRecorder) RegisterOneShot(_ context.Context, taskID, _ string, runAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.Wrap(errors.ErrExternalSync, "scheduler busy")
	}
	if r.tasks == nil {
		r.tasks = make(map[string]time.Time)
	}
	r.tasks[taskID] = runAt
	return nil
}

func TestExportToWindowsTaskRetriesTransientFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecording("exported")
	require.NoError(t, store.Save(ctx, rec))

	reg := &oneShotRecorder{fail: 1}
	runAt := time.Now().Add(time.Hour)
	taskID, err := store.ExportToWindowsTask(ctx, reg, rec.ID, runAt)
	require.NoError(t, err)
	assert.Equal(t, "macrokit-once-"+rec.ID, taskID)
	assert.Len(t, reg.tasks, 1)

	_, err = store.ExportToWindowsTask(ctx, reg, "no-such-id", runAt)
	assert.True(t, errors.IsNotFound(err))
}
