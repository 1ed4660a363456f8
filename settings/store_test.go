package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/macrokit/errors"
	mktest "github.com/macrokit/macrokit/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(mktest.CreateTestDB(t), nil)
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ui.window.width", Int(5000)))

	got, err := store.Get(ctx, "ui.window.width", Null())
	require.NoError(t, err)
	assert.True(t, Int(5000).Equal(got))
}

func TestGetReturnsDefaultWhenAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "playback.default_speed", Float(1.0))
	require.NoError(t, err)
	assert.True(t, Float(1.0).Equal(got))
}

func TestSetRejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Set(ctx, "INVALID KEY", Int(1))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	// Store unchanged
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSetRejectsInvalidValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Set(ctx, KeyUIWindowWidth, Int(50))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	exists, err := store.Exists(ctx, KeyUIWindowWidth)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetMultipleIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SetMultiple(ctx, map[string]Value{
		"a.b":     Int(1),
		"bad key": Int(2),
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	// Neither key persisted
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSetMultipleAppliesAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMultiple(ctx, map[string]Value{
		"ui.window.width":  Int(800),
		"ui.window.height": Int(600),
		"logging.level":    String("INFO"),
	}))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, Int(600).Equal(all["ui.window.height"]))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Bool(true)))
	require.NoError(t, store.Delete(ctx, "a.b"))

	exists, err := store.Exists(ctx, "a.b")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteAbsentKeyIsNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), "never.set")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMultiple(ctx, map[string]Value{
		"ui.window.width":  Int(800),
		"ui.window.height": Int(600),
		"ui.theme":         String("dark"),
		"logging.level":    String("INFO"),
	}))

	ui, err := store.GetByPrefix(ctx, "ui.window")
	require.NoError(t, err)
	assert.Len(t, ui, 2)

	// LIKE metacharacters in the prefix match literally, not as wildcards
	none, err := store.GetByPrefix(ctx, "ui%")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMultiple(ctx, map[string]Value{
		"ui.window.width": Int(800),
		"ui.theme":        String("dark"),
		"logging.level":   String("INFO"),
	}))

	n, err := store.DeleteByPrefix(ctx, "ui")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteByPrefixAuditsAndNotifiesEachKey(t *testing.T) {
	store := newTestStore(t)
	hooks := &recordingHooks{}
	store.SetHooks(hooks)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "ui.window.maximized", Bool(true)))
	require.NoError(t, store.Set(ctx, "ui.theme", String("dark")))
	require.NoError(t, store.Set(ctx, "logging.level", String("INFO")))

	n, err := store.DeleteByPrefix(ctx, "ui.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Each removed key carries a deletion audit row, newest first
	history, err := store.GetChangeHistory(ctx, "ui.window.maximized", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].NewValue.IsNull(), "deletion recorded as old→null")
	assert.True(t, history[0].OldValue.Equal(Bool(true)))

	hooks.mu.Lock()
	deleted := append([]string(nil), hooks.deleted...)
	hooks.mu.Unlock()
	assert.ElementsMatch(t, []string{"ui.window.maximized", "ui.theme"}, deleted)

	// Untouched key keeps its single set entry
	history, err = store.GetChangeHistory(ctx, "logging.level", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestChangeHistoryRecordsAndTrims(t *testing.T) {
	store := newTestStore(t)
	store.historyLimit = 3
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(ctx, "a.b", Int(int64(i))))
	}

	history, err := store.GetChangeHistory(ctx, "a.b", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Newest first
	assert.True(t, Int(4).Equal(history[0].NewValue))
	assert.True(t, Int(3).Equal(history[0].OldValue))
	assert.True(t, Int(2).Equal(history[2].NewValue))
}

func TestChangeHistoryFirstWriteHasNullOld(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))

	history, err := store.GetChangeHistory(ctx, "a.b", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].OldValue.IsNull())
	assert.True(t, Int(1).Equal(history[0].NewValue))
}

func TestDeleteRecordsNullNewValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))
	require.NoError(t, store.Delete(ctx, "a.b"))

	history, err := store.GetChangeHistory(ctx, "a.b", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].NewValue.IsNull())
	assert.True(t, Int(1).Equal(history[0].OldValue))
}

func TestGetMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))

	meta, err := store.GetMetadata(ctx, "a.b")
	require.NoError(t, err)
	assert.Equal(t, "a.b", meta.Key)
	assert.Equal(t, "local", meta.Source)
	assert.False(t, meta.CreatedAt.IsZero())

	_, err = store.GetMetadata(ctx, "never.set")
	assert.True(t, errors.IsNotFound(err))
}

func TestClearAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))
	require.NoError(t, store.ClearAll(ctx))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	history, err := store.GetChangeHistory(ctx, "a.b", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestValidateSettingsAggregates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMultiple(ctx, Defaults()))

	result, err := store.ValidateSettings(ctx)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

type recordingHooks struct {
	mu       sync.Mutex
	changed  []string
	deleted  []string
	imported int
	exported int
}

func (h *recordingHooks) OnSettingChanged(key string, _, _ Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changed = append(h.changed, key)
}

func (h *recordingHooks) OnSettingDeleted(key string, _ Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, key)
}

func (h *recordingHooks) OnSettingsImported(count int, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.imported += count
}

func (h *recordingHooks) OnSettingsExported(count int, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exported += count
}

func TestHooksFireOnlyOnSuccess(t *testing.T) {
	store := newTestStore(t)
	hooks := &recordingHooks{}
	store.SetHooks(hooks)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))
	require.Error(t, store.Set(ctx, "bad key", Int(2)))
	require.NoError(t, store.Delete(ctx, "a.b"))
	require.Error(t, store.Delete(ctx, "a.b"))

	assert.Equal(t, []string{"a.b"}, hooks.changed)
	assert.Equal(t, []string{"a.b"}, hooks.deleted)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")

	original := map[string]Value{
		"ui.window.width": Int(1024),
		"logging.level":   String("DEBUG"),
		"plugins.enabled": List(String("core"), String("extra")),
	}
	require.NoError(t, store.SetMultiple(ctx, original))
	require.NoError(t, store.BackupToFile(ctx, path))

	// Mutate, then restore with overwrite
	require.NoError(t, store.Set(ctx, "ui.window.width", Int(640)))
	require.NoError(t, store.Set(ctx, "extra.key", Bool(true)))

	applied, err := store.RestoreFromFile(ctx, path, true)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	for key, want := range original {
		got, err := store.Get(ctx, key, Null())
		require.NoError(t, err)
		assert.True(t, want.Equal(got), key)
	}

	// Restore does not remove keys absent from the snapshot
	extra, err := store.Get(ctx, "extra.key", Null())
	require.NoError(t, err)
	assert.True(t, Bool(true).Equal(extra))
}

func TestRestoreWithoutOverwriteSkipsExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")

	require.NoError(t, store.Set(ctx, "a.b", Int(1)))
	require.NoError(t, store.BackupToFile(ctx, path))

	require.NoError(t, store.Set(ctx, "a.b", Int(2)))

	applied, err := store.RestoreFromFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	got, err := store.Get(ctx, "a.b", Null())
	require.NoError(t, err)
	assert.True(t, Int(2).Equal(got))
}

func TestRestoreRejectsMissingAndMalformedFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := store.RestoreFromFile(ctx, filepath.Join(dir, "absent.json"), true)
	assert.True(t, errors.IsNotFound(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = store.RestoreFromFile(ctx, bad, true)
	assert.True(t, errors.IsValidation(err))

	wrongVersion := filepath.Join(dir, "v99.json")
	require.NoError(t, os.WriteFile(wrongVersion, []byte(`{"format_version":99,"entries":[]}`), 0o600))
	_, err = store.RestoreFromFile(ctx, wrongVersion, true)
	assert.True(t, errors.IsValidation(err))
}

func TestRegistryExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reg, err := NewFileRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, store.SetMultiple(ctx, map[string]Value{
		"ui.window.width": Int(1024),
		"logging.level":   String("INFO"),
	}))

	written, err := store.ExportToRegistry(ctx, reg, "macrokit", "", true)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// Fresh store sees the registry values
	other := newTestStore(t)
	applied, err := other.ImportFromRegistry(ctx, reg, "macrokit", true)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	got, err := other.Get(ctx, "ui.window.width", Null())
	require.NoError(t, err)
	assert.True(t, Int(1024).Equal(got))
}

func TestSyncWithRegistryLocalWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reg, err := NewFileRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer reg.Close()

	// Registry holds a stale value and a registry-only key
	require.NoError(t, reg.Put(ctx, "macrokit", "ui.window.width", "640"))
	require.NoError(t, reg.Put(ctx, "macrokit", "registry.only", "true"))

	require.NoError(t, store.Set(ctx, "ui.window.width", Int(1024)))
	require.NoError(t, store.SyncWithRegistry(ctx, reg, "macrokit", ""))

	// Local value pushed out
	remote, err := reg.List(ctx, "macrokit")
	require.NoError(t, err)
	assert.Equal(t, "1024", remote["ui.window.width"])

	// Registry-only key pulled in
	got, err := store.Get(ctx, "registry.only", Null())
	require.NoError(t, err)
	assert.True(t, Bool(true).Equal(got))

	// Sync is idempotent
	require.NoError(t, store.SyncWithRegistry(ctx, reg, "macrokit", ""))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestImportFromRegistryRejectsBadKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reg, err := NewFileRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.Put(ctx, "macrokit", "Bad Key", "1"))

	_, err = store.ImportFromRegistry(ctx, reg, "macrokit", true)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
