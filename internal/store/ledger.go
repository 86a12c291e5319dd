// Package store keeps the attempt ledger: every run, every component outcome
// and every attempt record, in a local SQLite database. Accepted artifacts are
// stored as the audit copy only; writing them into a project is the caller's job.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"mapgen/internal/logging"
	"mapgen/internal/mapping/feedback"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Ledger is the SQLite-backed attempt ledger. It is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the ledger at path. ":memory:" opens a private
// in-memory ledger.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	logger = logging.For(logger, logging.CategoryStore)

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, path: path, logger: logger}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("ledger opened", zap.String("path", path))
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database location.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		profile TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		budget INTEGER NOT NULL DEFAULT 0,
		workers INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		component_id TEXT NOT NULL,
		component_name TEXT NOT NULL,
		state TEXT NOT NULL,
		accepted INTEGER NOT NULL,
		final_artifact TEXT NOT NULL DEFAULT '',
		errors TEXT NOT NULL DEFAULT '[]',
		fatal TEXT NOT NULL DEFAULT '',
		attempt_count INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_component ON outcomes(component_id);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		outcome_id INTEGER NOT NULL REFERENCES outcomes(id),
		number INTEGER NOT NULL,
		valid INTEGER NOT NULL,
		failure TEXT NOT NULL,
		tier INTEGER NOT NULL,
		errors TEXT NOT NULL DEFAULT '[]',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON attempts(outcome_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return runMigrations(l.db, l.logger)
}

// Run describes one invocation of the batch runner.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Profile    string     `json:"profile"`
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Budget     int        `json:"budget"`
	Workers    int        `json:"workers"`
	Note       string     `json:"note,omitempty"`

	// Filled by ListRuns.
	Components int `json:"components"`
	Accepted   int `json:"accepted"`
}

// BeginRun records a new run and returns it with a fresh ID.
func (l *Ledger) BeginRun(ctx context.Context, run Run) (Run, error) {
	run.ID = uuid.NewString()
	run.StartedAt = time.Now().UTC()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, profile, provider, model, budget, workers, note) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.Profile, run.Provider, run.Model, run.Budget, run.Workers, run.Note)
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin run: %w", err)
	}
	l.logger.Info("run started", zap.String("run_id", run.ID), zap.String("profile", run.Profile))
	return run, nil
}

// FinishRun stamps the run's finish time.
func (l *Ledger) FinishRun(ctx context.Context, runID string) error {
	res, err := l.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UTC().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordOutcome stores an outcome and all of its attempt records atomically.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, out feedback.Outcome) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	fatal := ""
	if out.Fatal != nil {
		fatal = out.Fatal.Error()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, component_id, component_name, state, accepted, final_artifact, errors, fatal, attempt_count, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, out.ComponentID, out.ComponentName, out.State.String(), boolInt(out.Accepted),
		out.FinalArtifact, encodeErrors(out.Errors), fatal, len(out.Attempts), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	outcomeID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read outcome id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attempts (outcome_id, number, valid, failure, tier, errors, input_tokens, output_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range out.Attempts {
		var in, outTok int
		if a.Usage != nil {
			in, outTok = a.Usage.InputTokens, a.Usage.OutputTokens
		}
		if _, err := stmt.ExecContext(ctx, outcomeID, a.Number, boolInt(a.Valid), a.Failure.String(), a.Tier,
			encodeErrors(a.Errors), in, outTok, a.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to insert attempt %d: %w", a.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	l.logger.Debug("outcome recorded",
		zap.String("run_id", runID),
		zap.String("component", out.ComponentName),
		zap.String("state", out.State.String()),
		zap.Int("attempts", len(out.Attempts)))
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT r.id, r.started_at, r.finished_at, r.profile, r.provider, r.model, r.budget, r.workers, r.note,
		(SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.id),
		(SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.id AND o.accepted = 1)
	FROM runs r ORDER BY r.started_at DESC, r.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Profile, &r.Provider, &r.Model, &r.Budget, &r.Workers, &r.Note,
			&r.Components, &r.Accepted); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// OutcomeRow is a stored outcome without its attempts.
type OutcomeRow struct {
	ID            int64    `json:"id"`
	RunID         string   `json:"run_id"`
	ComponentID   string   `json:"component_id"`
	ComponentName string   `json:"component_name"`
	State         string   `json:"state"`
	Accepted      bool     `json:"accepted"`
	FinalArtifact string   `json:"final_artifact"`
	Errors        []string `json:"errors,omitempty"`
	Fatal         string   `json:"fatal,omitempty"`
	AttemptCount  int      `json:"attempt_count"`
}

// Outcomes returns the outcomes of a run in recording order.
func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, component_id, component_name, state, accepted, final_artifact, errors, fatal, attempt_count
		 FROM outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var (
			o        OutcomeRow
			accepted int
			errsJSON string
		)
		if err := rows.Scan(&o.ID, &o.RunID, &o.ComponentID, &o.ComponentName, &o.State, &accepted,
			&o.FinalArtifact, &errsJSON, &o.Fatal, &o.AttemptCount); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Accepted = accepted == 1
		o.Errors = decodeErrors(errsJSON)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AttemptRow is a stored attempt record.
type AttemptRow struct {
	Number       int           `json:"number"`
	Valid        bool          `json:"valid"`
	Failure      string        `json:"failure"`
	Tier         int           `json:"tier"`
	Errors       []string      `json:"errors,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// Attempts returns the attempt history of a component within a run, in order.
// The component is matched by ID or, failing that, by name.
func (l *Ledger) Attempts(ctx context.Context, runID, component string) ([]AttemptRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT a.number, a.valid, a.failure, a.tier, a.errors, a.input_tokens, a.output_tokens, a.duration_ms
		FROM attempts a JOIN outcomes o ON o.id = a.outcome_id
		WHERE o.run_id = ? AND (o.component_id = ? OR o.component_name = ?)
		ORDER BY o.id, a.number`, runID, component, component)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var (
			a        AttemptRow
			valid    int
			errsJSON string
			ms       int64
		)
		if err := rows.Scan(&a.Number, &valid, &a.Failure, &a.Tier, &errsJSON, &a.InputTokens, &a.OutputTokens, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Valid = valid == 1
		a.Errors = decodeErrors(errsJSON)
		a.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// RunSummary aggregates a run.
type RunSummary struct {
	RunID                 string  `json:"run_id"`
	Components            int     `json:"components"`
	Accepted              int     `json:"accepted"`
	Exhausted             int     `json:"exhausted"`
	Failed                int     `json:"failed"`
	Cancelled             int     `json:"cancelled"`
	Attempts              int     `json:"attempts"`
	GeneratorFailures     int     `json:"generator_failures"`
	ContentFailures       int     `json:"content_failures"`
	MeanAttemptsToSuccess float64 `json:"mean_attempts_to_success"`
	InputTokens           int     `json:"input_tokens"`
	OutputTokens          int     `json:"output_tokens"`
}

// Summary computes aggregate quality signals for a run.
func (l *Ledger) Summary(ctx context.Context, runID string) (RunSummary, error) {
	s := RunSummary{RunID: runID}

	var exists int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return s, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return s, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	var meanAttempts sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(state = 'accepted'), 0),
			COALESCE(SUM(state = 'exhausted'), 0),
			COALESCE(SUM(state = 'failed'), 0),
			COALESCE(SUM(state = 'cancelled'), 0),
			COALESCE(SUM(attempt_count), 0),
			AVG(CASE WHEN accepted = 1 THEN attempt_count END)
		FROM outcomes WHERE run_id = ?`, runID).Scan(
		&s.Components, &s.Accepted, &s.Exhausted, &s.Failed, &s.Cancelled, &s.Attempts, &meanAttempts)
	if err != nil {
		return s, fmt.Errorf("failed to summarize outcomes: %w", err)
	}
	if meanAttempts.Valid {
		s.MeanAttemptsToSuccess = meanAttempts.Float64
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(a.failure = 'generator'), 0),
			COALESCE(SUM(a.failure = 'content'), 0),
			COALESCE(SUM(a.input_tokens), 0),
			COALESCE(SUM(a.output_tokens), 0)
		FROM attempts a JOIN outcomes o ON o.id = a.outcome_id
		WHERE o.run_id = ?`, runID).Scan(&s.GeneratorFailures, &s.ContentFailures, &s.InputTokens, &s.OutputTokens)
	if err != nil {
		return s, fmt.Errorf("failed to summarize attempts: %w", err)
	}
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeErrors(errs []string) string {
	if len(errs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeErrors(s string) []string {
	var errs []string
	if err := json.Unmarshal([]byte(s), &errs); err != nil || len(errs) == 0 {
		return nil
	}
	return errs
}
