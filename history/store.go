// Package history records transformation and job runs in sqlite.
//
// The Recorder listens to GraphStart, EntryAfterExecution, and GraphFinish
// and writes through a Store. Nested runs are stored like top-level runs and
// point at their parent with ParentRunID.
package history

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/weir/errors"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/result"
)

// Status is the stored state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// StatusOf maps a terminal result to a status.
func StatusOf(res *result.Result) Status {
	switch {
	case res == nil:
		return StatusFailed
	case res.Stopped:
		return StatusStopped
	case res.Success:
		return StatusFinished
	}
	return StatusFailed
}

// Run is one recorded transformation or job run.
type Run struct {
	ID          string
	ParentRunID string
	Kind        string
	Name        string
	Status      Status

	Success       bool
	NrErrors      int64
	ExitStatus    int
	LinesRead     int64
	LinesWritten  int64
	LinesRejected int64
	RSSBytes      uint64

	StartedAt  time.Time
	FinishedAt *time.Time
	Duration   time.Duration

	// Entries is filled by Get for job runs.
	Entries []EntryRecord
}

// EntryRecord is one executed job entry.
type EntryRecord struct {
	Seq        int
	Entry      string
	Nr         int
	Success    bool
	NrErrors   int64
	Duration   time.Duration
	FinishedAt time.Time
}

// ListOptions filter List.
type ListOptions struct {
	// Limit caps the number of runs. Zero means 50.
	Limit int
	// TopLevel hides nested runs.
	TopLevel bool
	// Name keeps only runs of this transformation or job.
	Name string
}

// Store reads and writes run history.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewStore returns a store on a migrated database.
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: logger.AddHistorySymbol(log).Named("history")}
}

// Start inserts a running run.
func (s *Store) Start(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, parent_run_id, kind, name, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, nullString(run.ParentRunID), run.Kind, run.Name, StatusRunning, run.StartedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}
	s.log.Debugw("Run recorded", logger.FieldRunID, run.ID, logger.FieldGraph, run.Name)
	return nil
}

// Finish stores the terminal result of a run.
func (s *Store) Finish(ctx context.Context, id string, res *result.Result, rssBytes uint64, finishedAt time.Time) error {
	if res == nil {
		res = result.Failed(1)
	}
	out, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, success = ?, nr_errors = ?, exit_status = ?,
			lines_read = ?, lines_written = ?, lines_rejected = ?,
			rss_bytes = ?, finished_at = ?, duration_ms = ?
		WHERE id = ?`,
		StatusOf(res), res.Success, res.NrErrors, res.ExitStatus,
		res.LinesRead, res.LinesWritten, res.LinesRejected,
		int64(rssBytes), finishedAt.UTC(), res.Elapsed.Milliseconds(),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "update run %s", id)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "update run %s", id)
	}
	if n == 0 {
		return errors.NewNotFoundError("run %s", id)
	}
	return nil
}

// AddEntry appends an entry result to a job run.
func (s *Store) AddEntry(ctx context.Context, runID string, e EntryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_entries (run_id, seq, entry, nr, success, nr_errors, duration_ms, finished_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
		FROM run_entries WHERE run_id = ?`,
		runID, e.Entry, e.Nr, e.Success, e.NrErrors, e.Duration.Milliseconds(), e.FinishedAt.UTC(),
		runID,
	)
	return errors.Wrapf(err, "insert entry %s of run %s", e.Entry, runID)
}

const runColumns = `id, COALESCE(parent_run_id, ''), kind, name, status, success, nr_errors, exit_status,
	lines_read, lines_written, lines_rejected, rss_bytes, started_at, finished_at, duration_ms`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		rss      int64
		finished sql.NullTime
		ms       int64
	)
	err := sc.Scan(&r.ID, &r.ParentRunID, &r.Kind, &r.Name, &r.Status, &r.Success, &r.NrErrors, &r.ExitStatus,
		&r.LinesRead, &r.LinesWritten, &r.LinesRejected, &rss, &r.StartedAt, &finished, &ms)
	if err != nil {
		return r, err
	}
	r.RSSBytes = uint64(rss)
	r.Duration = time.Duration(ms) * time.Millisecond
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// List returns runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any
	if opts.TopLevel {
		query += ` AND parent_run_id IS NULL`
	}
	if opts.Name != "" {
		query += ` AND name = ?`
		args = append(args, opts.Name)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "list runs")
}

// Get returns a run with its entry results.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, entry, nr, success, nr_errors, duration_ms, finished_at
		FROM run_entries WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "entries of run %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e  EntryRecord
			ms int64
		)
		if err := rows.Scan(&e.Seq, &e.Entry, &e.Nr, &e.Success, &e.NrErrors, &ms, &e.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		r.Entries = append(r.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "entries of run %s", id)
	}
	return &r, nil
}

// Children returns the nested runs started by a run, oldest first.
func (s *Store) Children(ctx context.Context, id string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE parent_run_id = ? ORDER BY started_at, id`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "children of run %s", id)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrapf(rows.Err(), "children of run %s", id)
}

// Prune deletes finished runs that started before cutoff, entries included.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	out, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`, cutoff.UTC(), StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "prune runs")
	}
	n, err := out.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "prune runs")
	}
	if n > 0 {
		s.log.Infow("Pruned run history", logger.FieldCount, n)
	}
	return n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
