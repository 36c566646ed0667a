// Package store persists every MARTIN entity on modernc.org/sqlite (a
// pure-Go driver, no cgo), one repository per entity, hiding SQL from
// the rest of the codebase exactly as the teacher's TacticStore/
// StrategyStore do.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"martin/internal/apperr"
)

// DB wraps the shared *sql.DB handle and exposes one repository per
// entity. A single *DB is constructed at startup in cmd/martin and
// passed explicitly to every component that needs it — no package-level
// singleton.
type DB struct {
	conn *sql.DB

	MarketWindows *MarketWindowRepo
	Signals       *SignalRepo
	Trades        *TradeRepo
	CapChecks     *CapCheckRepo
	Stats         *StatsRepo
	Settings      *SettingsRepo
}

// Open opens (creating if absent) the sqlite database at path and runs
// every migration. Fatal at startup on failure, per ConfigError/
// StorageError conventions — this is the process's only persistent
// store.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Storage("open sqlite database", err)
	}
	conn.SetMaxOpenConns(1) // single-writer-per-cycle-per-entity; avoids SQLITE_BUSY under modernc's driver

	d := &DB{conn: conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	d.MarketWindows = &MarketWindowRepo{db: conn}
	d.Signals = &SignalRepo{db: conn}
	d.Trades = &TradeRepo{db: conn}
	d.CapChecks = &CapCheckRepo{db: conn}
	d.Stats = &StatsRepo{db: conn}
	d.Settings = &SettingsRepo{db: conn}

	if err := d.Stats.ensureSingleton(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.conn.Close() }

const schemaVersion = 1

func (d *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS market_windows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			asset TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			condition_id TEXT NOT NULL,
			up_token_id TEXT NOT NULL,
			down_token_id TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL CHECK (end_ts > start_ts),
			outcome TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_windows_slug ON market_windows(slug)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			window_id INTEGER NOT NULL REFERENCES market_windows(id),
			direction TEXT NOT NULL,
			signal_ts INTEGER NOT NULL,
			confirm_ts INTEGER NOT NULL,
			quality REAL NOT NULL,
			quality_breakdown TEXT NOT NULL,
			anchor_bar_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_window_id ON signals(window_id)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			window_id INTEGER NOT NULL REFERENCES market_windows(id),
			signal_id INTEGER REFERENCES signals(id),
			status TEXT NOT NULL,
			time_mode TEXT NOT NULL,
			policy_mode TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT 'PENDING',
			cancel_reason TEXT,
			token_id TEXT NOT NULL DEFAULT '',
			order_id TEXT,
			fill_status TEXT NOT NULL DEFAULT 'PENDING',
			fill_price REAL,
			stake_amount REAL NOT NULL DEFAULT 0,
			pnl REAL,
			is_win BOOLEAN,
			trade_level_streak INTEGER NOT NULL DEFAULT 0,
			night_streak INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_window_id_status ON trades(window_id, status)`,
		`CREATE TRIGGER IF NOT EXISTS update_trades_updated_at
			AFTER UPDATE ON trades
			BEGIN
				UPDATE trades SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,
		`CREATE TABLE IF NOT EXISTS cap_checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id INTEGER NOT NULL REFERENCES trades(id),
			token_id TEXT NOT NULL,
			confirm_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			status TEXT NOT NULL,
			consecutive_ticks INTEGER NOT NULL DEFAULT 0,
			first_pass_ts INTEGER,
			price_at_pass REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cap_checks_status ON cap_checks(status)`,
		`CREATE TABLE IF NOT EXISTS stats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			trade_level_streak INTEGER NOT NULL DEFAULT 0,
			night_streak INTEGER NOT NULL DEFAULT 0,
			policy_mode TEXT NOT NULL DEFAULT 'BASE',
			total_trades INTEGER NOT NULL DEFAULT 0,
			total_wins INTEGER NOT NULL DEFAULT 0,
			total_losses INTEGER NOT NULL DEFAULT 0,
			last_strict_day_threshold REAL NOT NULL DEFAULT 0,
			last_strict_night_threshold REAL NOT NULL DEFAULT 0,
			last_quantile_update_ts INTEGER NOT NULL DEFAULT 0,
			is_paused BOOLEAN NOT NULL DEFAULT 0,
			day_only BOOLEAN NOT NULL DEFAULT 0,
			night_only BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := d.conn.Exec(stmt); err != nil {
			return apperr.Storage(fmt.Sprintf("run migration statement: %s", stmt), err)
		}
	}
	_, err := d.conn.Exec(`INSERT OR IGNORE INTO migrations (version) VALUES (?)`, schemaVersion)
	if err != nil {
		return apperr.Storage("record schema version", err)
	}
	return nil
}
