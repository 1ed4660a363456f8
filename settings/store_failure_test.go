package settings

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macrokit/macrokit/errors"
)

// stubRegistry serves a fixed entry set and ignores writes.
type stubRegistry struct {
	entries map[string]string
}

func (r stubRegistry) List(context.Context, string) (map[string]string, error) {
	return r.entries, nil
}
func (r stubRegistry) Put(context.Context, string, string, string) error { return nil }
func (r stubRegistry) Delete(context.Context, string, string) error      { return nil }

func TestImportExistenceCheckFailureAbortsImport(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	store := NewStore(conn, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM settings").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	reg := stubRegistry{entries: map[string]string{"ui.theme": `"dark"`}}
	applied, err := store.ImportFromRegistry(context.Background(), reg, "profile", false)
	require.Error(t, err)
	assert.True(t, errors.IsStorage(err),
		"a failed existence check must abort, not fall through to the write")
	assert.Zero(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
