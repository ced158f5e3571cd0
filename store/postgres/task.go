package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

const taskColumns = `id, name, queue, args, correlation_id, attempt, max_attempts,
	state, history, last_error, cancel_requested, run_at, timeout,
	created_at, updated_at, started_at, finished_at`

// Enqueue inserts r.
func (s *Store) Enqueue(ctx context.Context, r *task.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduit_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID.String(), r.Name, r.Queue, r.Args, r.CorrelationID.String(), r.Attempt, r.MaxAttempts,
		r.State.String(), r.History, r.LastError, r.CancelRequested, r.RunAt, r.Timeout.Nanoseconds(),
		r.CreatedAt, r.UpdatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conduit.ErrTaskExists
		}
		return fmt.Errorf("conduit/postgres: enqueue: %w", err)
	}
	return nil
}

// Dequeue claims ready rows inside one transaction. Rows locked by another
// worker are skipped rather than waited on.
func (s *Store) Dequeue(ctx context.Context, queues []string, limit int) ([]*task.Record, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []*task.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+taskColumns+` FROM conduit_tasks
			WHERE state IN ('RECEIVED', 'RETRYING')
			  AND queue = ANY($1)
			  AND run_at <= NOW()
			ORDER BY run_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`,
			queues, limit,
		)
		if err != nil {
			return err
		}
		claimed, err := collectRecords(rows)
		if err != nil {
			return err
		}
		for _, r := range claimed {
			if err := r.Claim(); err != nil {
				return err
			}
			if err := writeRecord(ctx, tx, r); err != nil {
				return err
			}
		}
		out = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conduit/postgres: dequeue: %w", err)
	}
	return out, nil
}

// Get returns the record.
func (s *Store) Get(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM conduit_tasks WHERE id = $1`, taskID.String())
	r, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduit.ErrTaskNotFound
		}
		return nil, fmt.Errorf("conduit/postgres: get: %w", err)
	}
	return r, nil
}

// Update writes r. cancel_requested is OR-ed so a pending request survives.
func (s *Store) Update(ctx context.Context, r *task.Record) error {
	if err := writeRecord(ctx, s.pool, r); err != nil {
		return err
	}
	return nil
}

// Requeue writes the RETRYING record; Dequeue picks it up at run_at.
func (s *Store) Requeue(ctx context.Context, r *task.Record) error {
	if r.State != status.Retrying {
		return status.Validate(r.State, status.Retrying)
	}
	return s.Update(ctx, r)
}

// Cancel locks the row, waiting for any claim in progress, and applies
// task.ApplyCancel.
func (s *Store) Cancel(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	var out *task.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM conduit_tasks WHERE id = $1 FOR UPDATE`, taskID.String())
		r, err := scanRecord(row)
		if err != nil {
			if isNoRows(err) {
				return conduit.ErrTaskNotFound
			}
			return err
		}
		if err := task.ApplyCancel(r); err != nil {
			return err
		}
		if err := writeRecord(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns records ordered by creation.
func (s *Store) List(ctx context.Context, opts task.ListOpts) ([]*task.Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		args = append(args, opts.State.String())
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	q := `SELECT ` + taskColumns + ` FROM conduit_tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conduit/postgres: list: %w", err)
	}
	return collectRecords(rows)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func writeRecord(ctx context.Context, db querier, r *task.Record) error {
	tag, err := db.Exec(ctx, `
		UPDATE conduit_tasks SET
			name = $2, queue = $3, args = $4, correlation_id = $5, attempt = $6,
			max_attempts = $7, state = $8, history = $9, last_error = $10,
			cancel_requested = cancel_requested OR $11, run_at = $12, timeout = $13,
			updated_at = $14, started_at = $15, finished_at = $16
		WHERE id = $1`,
		r.ID.String(), r.Name, r.Queue, r.Args, r.CorrelationID.String(), r.Attempt,
		r.MaxAttempts, r.State.String(), r.History, r.LastError,
		r.CancelRequested, r.RunAt, r.Timeout.Nanoseconds(),
		time.Now().UTC(), r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduit.ErrTaskNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*task.Record, error) {
	var (
		r       task.Record
		tid     string
		cid     string
		state   string
		timeout int64
	)
	err := row.Scan(
		&tid, &r.Name, &r.Queue, &r.Args, &cid, &r.Attempt, &r.MaxAttempts,
		&state, &r.History, &r.LastError, &r.CancelRequested, &r.RunAt, &timeout,
		&r.CreatedAt, &r.UpdatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.ID, err = id.ParseTaskID(tid); err != nil {
		return nil, err
	}
	if r.State, err = status.Parse(state); err != nil {
		return nil, err
	}
	r.CorrelationID = correlation.ID(cid)
	r.Timeout = time.Duration(timeout)
	return &r, nil
}

func collectRecords(rows pgx.Rows) ([]*task.Record, error) {
	defer rows.Close()
	var out []*task.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
