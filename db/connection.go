package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/macrokit/macrokit/errors"
	mklog "github.com/macrokit/macrokit/logger"
)

// Open opens the macrokit SQLite database. WAL keeps interactive reads and
// the scheduler's poll loop from blocking behind writers; the busy timeout
// covers the brief write contention between them. A nil logger falls back to
// the shared global.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger == nil {
		logger = mklog.Logger
	}
	logger.Debugw("Opening database", "path", path)
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "open database: %v", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(errors.ErrStorage, "%s: %v", pragma, err)
		}
	}

	logger.Infow("Database opened", "path", path, "wal_mode", true)
	return conn, nil
}
