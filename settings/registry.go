package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/internal/extcall"
)

// Registry is an OS registry-like external key-value store, addressed by a
// path. Values cross the boundary as JSON strings.
type Registry interface {
	// List returns every key/value pair stored under path.
	List(ctx context.Context, path string) (map[string]string, error)

	// Put writes one value under path.
	Put(ctx context.Context, path, key, value string) error

	// Delete removes one key under path. Deleting an absent key is a no-op.
	Delete(ctx context.Context, path, key string) error
}

// ExportToRegistry pushes local entries (optionally filtered by key prefix)
// into the registry. Existing registry keys are replaced only when overwrite
// is true. Returns the number of keys written.
func (s *Store) ExportToRegistry(ctx context.Context, reg Registry, path, prefix string, overwrite bool) (int, error) {
	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	local, err := s.collectByOptionalPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}

	caller := extcall.New(0, 3, 250*time.Millisecond)

	var remote map[string]string
	if err := caller.Do(ctx, func(ctx context.Context) error {
		var err error
		remote, err = reg.List(ctx, path)
		return err
	}); err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(local))
	for k := range local {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, key := range keys {
		if _, exists := remote[key]; exists && !overwrite {
			continue
		}
		value := local[key].String()
		if err := caller.Do(ctx, func(ctx context.Context) error {
			return reg.Put(ctx, path, key, value)
		}); err != nil {
			return written, err
		}
		written++
	}

	if s.log != nil {
		s.log.Infow("Settings exported to registry", "path", path, "written", written)
	}
	s.hooks.OnSettingsExported(written, path)
	return written, nil
}

// ImportFromRegistry pulls registry entries into the local store. Existing
// local keys are replaced only when overwrite is true. Keys that fail
// validation are rejected and abort the import. Returns entries applied.
func (s *Store) ImportFromRegistry(ctx context.Context, reg Registry, path string, overwrite bool) (int, error) {
	caller := extcall.New(0, 3, 250*time.Millisecond)

	var remote map[string]string
	if err := caller.Do(ctx, func(ctx context.Context) error {
		var err error
		remote, err = reg.List(ctx, path)
		return err
	}); err != nil {
		return 0, err
	}

	// Validate the whole batch before touching the store
	entries := make(map[string]Value, len(remote))
	for key, raw := range remote {
		if !ValidKey(key) {
			return 0, errors.NewValidationf("registry key %q is not a valid setting key", key)
		}
		value, err := ParseValue(raw)
		if err != nil {
			return 0, errors.NewValidationf("registry value for %s is malformed", key)
		}
		entries[key] = value
	}

	s.bulkMu.Lock()
	defer s.bulkMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "begin tx: %v", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	applied := 0
	for _, key := range keys {
		if !overwrite {
			var one int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM settings WHERE key = ?", key).Scan(&one)
			if err == nil {
				continue
			}
			if err != sql.ErrNoRows {
				return 0, errors.Wrapf(errors.ErrStorage, "check setting %s: %v", key, err)
			}
		}
		if _, _, err := s.setInTx(ctx, tx, key, entries[key], "registry"); err != nil {
			return 0, err
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "commit import: %v", err)
	}

	if s.log != nil {
		s.log.Infow("Settings imported from registry", "path", path, "applied", applied)
	}
	s.hooks.OnSettingsImported(applied, path)
	return applied, nil
}

// SyncWithRegistry reconciles local entries against the registry: local
// values win and are pushed out; registry-only keys are pulled in.
func (s *Store) SyncWithRegistry(ctx context.Context, reg Registry, path, prefix string) error {
	if _, err := s.ExportToRegistry(ctx, reg, path, prefix, true); err != nil {
		return err
	}
	if _, err := s.ImportFromRegistry(ctx, reg, path, false); err != nil {
		return err
	}
	return nil
}

func (s *Store) collectByOptionalPrefix(ctx context.Context, prefix string) (map[string]Value, error) {
	if prefix == "" {
		return s.collect(ctx, "SELECT key, value FROM settings")
	}
	return s.collect(ctx, "SELECT key, value FROM settings WHERE key LIKE ? ESCAPE '\\'", likePrefix(prefix))
}

// FileRegistry is a file-backed Registry adapter: each registry path is a
// JSON object file under the root directory. It watches the root with
// fsnotify and records out-of-band edits, which callers surface as conflicts
// rather than silently merging.
type FileRegistry struct {
	root    string
	log     *zap.SugaredLogger
	watcher *fsnotify.Watcher

	mu            sync.Mutex
	dirty         map[string]bool // path -> externally modified since last access
	ownWriteUntil time.Time
}

// NewFileRegistry creates a file-backed registry rooted at dir. logger may
// be nil.
func NewFileRegistry(dir string, logger *zap.SugaredLogger) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(errors.ErrExternalSync, "create registry root: %v", err)
	}

	r := &FileRegistry{
		root:  dir,
		log:   logger,
		dirty: make(map[string]bool),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExternalSync, "create watcher: %v", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(errors.ErrExternalSync, "watch registry root: %v", err)
	}
	r.watcher = watcher

	go r.watch()
	return r, nil
}

// Close stops the out-of-band edit watcher.
func (r *FileRegistry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *FileRegistry) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			r.mu.Lock()
			// Writes we just performed ourselves are not out-of-band.
			if time.Now().After(r.ownWriteUntil) {
				name := strings.TrimSuffix(event.Name[strings.LastIndexByte(event.Name, '/')+1:], ".json")
				r.dirty[name] = true
				if r.log != nil {
					r.log.Warnw("Out-of-band registry edit detected", "path", name)
				}
			}
			r.mu.Unlock()
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// ExternallyModified reports and clears the out-of-band edit flag for path.
func (r *FileRegistry) ExternallyModified(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	modified := r.dirty[path]
	delete(r.dirty, path)
	return modified
}

func (r *FileRegistry) file(path string) string {
	return r.root + "/" + path + ".json"
}

func (r *FileRegistry) load(path string) (map[string]string, error) {
	data, err := os.ReadFile(r.file(path))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExternalSync, "read registry %s: %v", path, err)
	}

	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(errors.ErrExternalSync, "malformed registry %s: %v", path, err)
	}
	return entries, nil
}

func (r *FileRegistry) save(path string, entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrExternalSync, "encode registry %s: %v", path, err)
	}

	r.mu.Lock()
	r.ownWriteUntil = time.Now().Add(200 * time.Millisecond)
	r.mu.Unlock()

	if err := os.WriteFile(r.file(path), data, 0o600); err != nil {
		return errors.Wrapf(errors.ErrExternalSync, "write registry %s: %v", path, err)
	}
	return nil
}

// List implements Registry.
func (r *FileRegistry) List(ctx context.Context, path string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrExternalSync, "cancelled: %v", err)
	}
	return r.load(path)
}

// Put implements Registry.
func (r *FileRegistry) Put(ctx context.Context, path, key, value string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(errors.ErrExternalSync, "cancelled: %v", err)
	}
	entries, err := r.load(path)
	if err != nil {
		return err
	}
	entries[key] = value
	return r.save(path, entries)
}

// Delete implements Registry.
func (r *FileRegistry) Delete(ctx context.Context, path, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(errors.ErrExternalSync, "cancelled: %v", err)
	}
	entries, err := r.load(path)
	if err != nil {
		return err
	}
	delete(entries, key)
	return r.save(path, entries)
}
