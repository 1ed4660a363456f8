// Package macrokit wires the persistence core together from one Config:
// it opens the configured database, applies migrations, and constructs the
// settings, recording, and schedule stores.
package macrokit

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/macrokit/macrokit/config"
	"github.com/macrokit/macrokit/db"
	"github.com/macrokit/macrokit/errors"
	"github.com/macrokit/macrokit/recording"
	"github.com/macrokit/macrokit/schedule"
	"github.com/macrokit/macrokit/secure"
	"github.com/macrokit/macrokit/settings"
)

// Core bundles the opened database and the three stores.
type Core struct {
	DB         *sql.DB
	Settings   *settings.Store
	Recordings *recording.Store
	Schedules  *schedule.Store

	cfg *config.Config
}

// New opens the configured database, migrates it, and builds the stores.
// cipher is required when encryption is enabled and ignored otherwise;
// logger may be nil.
func New(cfg *config.Config, cipher *secure.Cipher, logger *zap.SugaredLogger) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Security.EncryptionEnabled && cipher == nil {
		return nil, errors.NewValidationf("encryption enabled but no cipher provided")
	}
	if !cfg.Security.EncryptionEnabled {
		cipher = nil
	}

	conn, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, err
	}

	return &Core{
		DB:         conn,
		Settings:   settings.NewStore(conn, logger),
		Recordings: recording.NewStore(conn, cipher, cfg.Recording.MaxActions, cfg.Recording.CacheTTL(), logger),
		Schedules:  schedule.NewStore(conn, cfg.Scheduler.HistoryMaxEntries, cfg.Scheduler.DueBatchLimit, logger),
		cfg:        cfg,
	}, nil
}

// NewTicker builds the poll loop over the core's schedule store at the
// configured interval.
func (c *Core) NewTicker(executor schedule.Executor, logger *zap.SugaredLogger) *schedule.Ticker {
	return schedule.NewTicker(c.Schedules, executor,
		schedule.TickerConfig{Interval: c.cfg.Scheduler.PollInterval()}, logger)
}

// Close releases the database.
func (c *Core) Close() error {
	return c.DB.Close()
}
