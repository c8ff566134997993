package telemetry

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store mirrors telemetry to SQLite so history survives restarts. The
// in-memory rings stay authoritative for reads; the store is write-through
// plus periodic purge.
type Store struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenStore opens (creating if needed) the telemetry database at path.
// Rows older than ttl are dropped by Purge.
func OpenStore(path string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	db.SetMaxIdleConns(1)

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS samples (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_id  TEXT NOT NULL,
			taken_at    DATETIME NOT NULL,
			cpu_percent REAL DEFAULT 0,
			mem_usage   INTEGER DEFAULT 0,
			mem_limit   INTEGER DEFAULT 0,
			net_rx      INTEGER DEFAULT 0,
			net_tx      INTEGER DEFAULT 0,
			block_read  INTEGER DEFAULT 0,
			block_write INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_subject ON samples(subject_id, taken_at)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id  TEXT NOT NULL,
			language      TEXT DEFAULT '',
			platform      TEXT DEFAULT '',
			started_at    DATETIME NOT NULL,
			ended_at      DATETIME NOT NULL,
			duration_ms   INTEGER DEFAULT 0,
			status        TEXT DEFAULT '',
			memory_peak   INTEGER DEFAULT 0,
			cpu_peak      REAL DEFAULT 0,
			error_message TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_ended ON executions(ended_at)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			raised_at  DATETIME NOT NULL,
			detail     TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_raised ON alerts(raised_at)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec schema: %w", err)
		}
	}

	log.Printf("Telemetry database initialized: %s", path)
	return &Store{db: db, ttl: ttl}, nil
}

func (s *Store) SaveSample(sm Sample) error {
	_, err := s.db.Exec(
		`INSERT INTO samples (subject_id, taken_at, cpu_percent, mem_usage, mem_limit, net_rx, net_tx, block_read, block_write)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.SubjectID, sm.Timestamp, sm.CPUPercent, sm.MemoryUsage, sm.MemoryLimit,
		sm.NetworkRx, sm.NetworkTx, sm.BlockRead, sm.BlockWrite)
	return err
}

func (s *Store) SaveExecution(em ExecutionMetrics) error {
	_, err := s.db.Exec(
		`INSERT INTO executions (execution_id, language, platform, started_at, ended_at, duration_ms, status, memory_peak, cpu_peak, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		em.ExecutionID, em.Language, em.Platform, em.StartTime, em.EndTime,
		em.Duration.Milliseconds(), em.Status, em.MemoryPeak, em.CPUPeak, em.ErrorMessage)
	return err
}

func (s *Store) SaveAlert(a Alert, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO alerts (type, severity, raised_at, detail) VALUES (?, ?, ?, ?)`,
		a.Type, string(a.Severity), a.Timestamp, detail)
	return err
}

// Purge drops rows older than the retention window.
func (s *Store) Purge() error {
	cutoff := time.Now().UTC().Add(-s.ttl)
	for _, q := range []string{
		`DELETE FROM samples WHERE taken_at < ?`,
		`DELETE FROM executions WHERE ended_at < ?`,
		`DELETE FROM alerts WHERE raised_at < ?`,
	} {
		if _, err := s.db.Exec(q, cutoff); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
