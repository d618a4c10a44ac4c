package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection
type DB struct {
	Conn *sqlx.DB
}

// Config holds database configuration
type Config struct {
	Path string
}

// NewDB opens the SQLite store and runs migrations. SQLite allows a single
// writer, so the pool is capped to one open connection and kept for the
// life of the process.
func NewDB(cfg Config) (*DB, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	}

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Conn: conn}
	if err := db.RunMigrations(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// RunMigrations creates the schema idempotently
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			strategy_id TEXT,
			entry_price REAL NOT NULL,
			entry_reason TEXT,
			entry_indicators TEXT,
			entry_market_state TEXT,
			entry_time TIMESTAMP NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			exit_price REAL,
			exit_reason TEXT,
			exit_duration REAL,
			exit_pnl REAL,
			exit_time TIMESTAMP,
			context_trend TEXT,
			context_volatility TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id)`,

		`CREATE TABLE IF NOT EXISTS success_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_type TEXT NOT NULL,
			pattern_name TEXT NOT NULL,
			conditions TEXT NOT NULL,
			success_rate REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			confidence REAL NOT NULL,
			metadata TEXT,
			discovered_at TEXT DEFAULT CURRENT_TIMESTAMP,
			last_updated TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(pattern_type, pattern_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_success_rate ON success_patterns(success_rate)`,

		`CREATE TABLE IF NOT EXISTS failure_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_type TEXT NOT NULL,
			pattern_name TEXT NOT NULL,
			conditions TEXT NOT NULL,
			failure_rate REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			risk_level TEXT,
			metadata TEXT,
			discovered_at TEXT DEFAULT CURRENT_TIMESTAMP,
			last_updated TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(pattern_type, pattern_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failure_rate ON failure_patterns(failure_rate)`,

		`CREATE TABLE IF NOT EXISTS opportunity_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			opportunity_type TEXT NOT NULL UNIQUE,
			trigger_conditions TEXT NOT NULL,
			success_rate REAL NOT NULL,
			avg_return REAL,
			risk_reward_ratio REAL,
			optimal_position_size REAL,
			timing_window TEXT,
			sample_size INTEGER NOT NULL,
			metadata TEXT,
			discovered_at TEXT DEFAULT CURRENT_TIMESTAMP,
			last_updated TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunity_success ON opportunity_patterns(success_rate)`,

		`CREATE TABLE IF NOT EXISTS strategy_weights (
			strategy_id TEXT PRIMARY KEY,
			strategy_name TEXT NOT NULL,
			strategy_type TEXT,
			weight REAL NOT NULL,
			performance_score REAL,
			market_condition TEXT,
			last_updated TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS optimization_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			parameters TEXT NOT NULL,
			performance_metrics TEXT NOT NULL,
			optimization_method TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS ab_test_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			test_name TEXT NOT NULL,
			control_strategy TEXT NOT NULL,
			test_strategy TEXT NOT NULL,
			control_performance TEXT,
			test_performance TEXT,
			sample_size INTEGER,
			p_value REAL,
			is_significant BOOLEAN,
			winner TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS historical_events (
			event_name TEXT PRIMARY KEY,
			event_date TEXT NOT NULL,
			event_type TEXT NOT NULL,
			early_signals TEXT,
			missed_signals TEXT,
			cascade_speed TEXT,
			impact_duration TEXT,
			max_drawdown REAL,
			recovery_time TEXT,
			opportunity_type TEXT,
			potential_return REAL,
			lessons_learned TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS alert_records (
			alert_id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			alert_level INTEGER NOT NULL,
			alert_type TEXT NOT NULL,
			trigger_conditions TEXT,
			market_indicators TEXT,
			response_action TEXT,
			actual_outcome TEXT,
			was_correct BOOLEAN,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS crisis_patterns (
			pattern_id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern_name TEXT NOT NULL UNIQUE,
			pattern_type TEXT NOT NULL,
			indicators TEXT NOT NULL,
			confidence REAL,
			success_rate REAL,
			avg_warning_time TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			last_updated TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS response_strategies (
			strategy_id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			alert_level INTEGER NOT NULL,
			action_type TEXT NOT NULL,
			position_adjustment REAL,
			success_rate REAL,
			avg_loss_avoided REAL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(event_type, alert_level)
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Conn.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
