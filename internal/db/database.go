package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StatusRunning marks a run that has no verdict yet
const StatusRunning = "running"

// Database wraps SQLite connection
type Database struct {
	db *sql.DB
}

// RunRecord represents one playtest run in the database
type RunRecord struct {
	ID             string     `json:"id"`
	GameURL        string     `json:"gameUrl"`
	Status         string     `json:"status"`
	Score          int        `json:"score"`
	DurationMS     int64      `json:"durationMs"`
	ActionsRun     int        `json:"actionsRun"`
	LevelsAdvanced int        `json:"levelsAdvanced"`
	ReportID       string     `json:"reportId,omitempty"`
	ReportURL      string     `json:"reportUrl,omitempty"`
	ReportData     string     `json:"reportData,omitempty"` // JSON string
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// RunResult is what a finished run writes back
type RunResult struct {
	Status         string
	Score          int
	Duration       time.Duration
	ActionsRun     int
	LevelsAdvanced int
	ReportID       string
	ReportURL      string
	Report         any
}

// New creates a new database connection and initializes the schema. The
// parent directory of dbPath is created if needed.
func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Database{db: db}, nil
}

// initSchema creates the necessary tables
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		game_url TEXT NOT NULL,
		status TEXT NOT NULL,
		score INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		actions_run INTEGER DEFAULT 0,
		levels_advanced INTEGER DEFAULT 0,
		report_id TEXT,
		report_url TEXT,
		report_data TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_game_url ON runs(game_url);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateRun inserts a run in the running state
func (d *Database) CreateRun(ctx context.Context, id, gameURL string) error {
	query := `
		INSERT INTO runs (id, game_url, status, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query, id, gameURL, StatusRunning, time.Now().UTC())
	return err
}

// CompleteRun marks a run as complete with final data
func (d *Database) CompleteRun(ctx context.Context, id string, res RunResult) error {
	var reportJSON sql.NullString
	if res.Report != nil {
		data, err := json.Marshal(res.Report)
		if err != nil {
			return fmt.Errorf("failed to marshal report data: %w", err)
		}
		reportJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		UPDATE runs
		SET status = ?, score = ?, duration_ms = ?, actions_run = ?, levels_advanced = ?,
			report_id = ?, report_url = ?, report_data = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		res.Status, res.Score, res.Duration.Milliseconds(), res.ActionsRun, res.LevelsAdvanced,
		res.ReportID, res.ReportURL, reportJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const selectRun = `
	SELECT id, game_url, status, score, duration_ms, actions_run, levels_advanced,
		report_id, report_url, report_data, created_at, completed_at
	FROM runs
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var reportID, reportURL, reportData sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.GameURL,
		&run.Status,
		&run.Score,
		&run.DurationMS,
		&run.ActionsRun,
		&run.LevelsAdvanced,
		&reportID,
		&reportURL,
		&reportData,
		&run.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ReportID = reportID.String
	run.ReportURL = reportURL.String
	run.ReportData = reportData.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID. A missing run is (nil, nil).
func (d *Database) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run, err := scanRun(d.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// GetRunByReportID retrieves a run by report ID
func (d *Database) GetRunByReportID(ctx context.Context, reportID string) (*RunRecord, error) {
	run, err := scanRun(d.db.QueryRowContext(ctx, selectRun+` WHERE report_id = ?`, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns retrieves runs newest first, optionally filtered by status
func (d *Database) ListRuns(ctx context.Context, status string, limit, offset int) ([]RunRecord, error) {
	query := selectRun + ` WHERE 1=1`
	args := []any{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of runs, optionally filtered by status
func (d *Database) CountRuns(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM runs WHERE 1=1`
	args := []any{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	var count int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}
