// Package cohortdb persists cohort runs: which FOVs were processed, which
// failed and with what error kind, and the per-cell per-epoch statistics.
package cohortdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migsqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pblab-data/caflow/internal/dffstats"
	"github.com/pblab-data/caflow/internal/metadata"
	"github.com/pblab-data/caflow/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the cohort sqlite database.
type DB struct {
	*sql.DB
	clock timeutil.Clock
}

// SetClock replaces the timestamp source. Tests pin it to a MockClock.
func (db *DB) SetClock(c timeutil.Clock) {
	db.clock = c
}

// Open opens (creating if needed) the cohort database and applies all
// pending migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cohort database %s: %w", path, err)
	}
	// sqlite rejects concurrent writers; the worker pool serializes through
	// the busy handler instead.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, clock: timeutil.RealClock{}}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := migsqlite.WithInstance(db, &migsqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// retryOnBusy retries a statement a few times when sqlite reports a locked
// database.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "locked") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	return err
}

// StartRun registers a new aggregation run and returns its id.
func (db *DB) StartRun(root, glob string) (string, error) {
	runID := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO runs (run_id, started_at, root, glob) VALUES (?, ?, ?, ?)`,
			runID, db.clock.Now().UnixNano(), root, glob)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return runID, nil
}

// FinishRun closes out a run with its final counts.
func (db *DB) FinishRun(runID string, total, failed int) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`UPDATE runs SET finished_at = ?, fovs_total = ?, fovs_failed = ? WHERE run_id = ?`,
			db.clock.Now().UnixNano(), total, failed, runID)
		return err
	})
}

// FovStatus is the terminal state of one FOV within a run.
type FovStatus string

const (
	FovStatusDone    FovStatus = "done"
	FovStatusSkipped FovStatus = "skipped" // already persisted, idempotent skip
	FovStatusNoData  FovStatus = "no_data" // segmentation found no cells
	FovStatusFailed  FovStatus = "failed"
)

// RecordFov stores one FOV's outcome. fov is the display name for the row;
// callers pass the results-file basename when the FOV failed before its
// identity could be resolved.
func (db *DB) RecordFov(runID, fov string, id metadata.FovID, cells, frames int, status FovStatus, arrayPath string) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO fovs (fov, run_id, mouse_id, fov_num, condition, day, cells, frames, status, array_path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fov, runID, id.Mouse, id.Fov, id.Condition, id.Day,
			cells, frames, string(status), arrayPath, db.clock.Now().UnixNano())
		return err
	})
}

// RecordError appends to the per-run error log. kind is the error family
// (malformed trace, missing input, timebase mismatch, ...), message the
// wrapped detail.
func (db *DB) RecordError(runID, fov, kind, message string) error {
	return retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO run_errors (run_id, fov, kind, message, created_at) VALUES (?, ?, ?, ?, ?)`,
			runID, fov, kind, message, db.clock.Now().UnixNano())
		return err
	})
}

// InsertEpochStats stores the per-cell summaries of one FOV epoch.
func (db *DB) InsertEpochStats(runID, fov, epoch string, rows []dffstats.CellSummary) error {
	return retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(
			`INSERT INTO epoch_stats (run_id, fov, epoch, cell, spikes, auc, rate_per_sec) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.Exec(runID, fov, epoch, r.Cell, r.Spikes, r.AUC, r.RatePerSec); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// RunError is one row of the per-run error log.
type RunError struct {
	Fov     string
	Kind    string
	Message string
}

// ListErrors returns the error log of a run in insertion order.
func (db *DB) ListErrors(runID string) ([]RunError, error) {
	rows, err := db.Query(
		`SELECT fov, kind, message FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run errors: %w", err)
	}
	defer rows.Close()

	var out []RunError
	for rows.Next() {
		var e RunError
		if err := rows.Scan(&e.Fov, &e.Kind, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EpochStatRow is one persisted per-cell epoch summary.
type EpochStatRow struct {
	Fov        string
	Epoch      string
	Cell       int
	Spikes     int
	AUC        float64
	RatePerSec float64
}

// ListEpochStats returns all statistics of a run, ordered by epoch then fov.
func (db *DB) ListEpochStats(runID string) ([]EpochStatRow, error) {
	rows, err := db.Query(
		`SELECT fov, epoch, cell, spikes, auc, rate_per_sec FROM epoch_stats WHERE run_id = ? ORDER BY epoch, fov, cell`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing epoch stats: %w", err)
	}
	defer rows.Close()

	var out []EpochStatRow
	for rows.Next() {
		var r EpochStatRow
		if err := rows.Scan(&r.Fov, &r.Epoch, &r.Cell, &r.Spikes, &r.AUC, &r.RatePerSec); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
