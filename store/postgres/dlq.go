package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/id"
)

const dlqColumns = `id, task_id, task_name, queue, args, correlation_id, error,
	attempts, max_attempts, failed_at, replayed_at`

// PushDLQ inserts entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	args := e.Args
	if args == nil {
		args = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduit_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID.String(), e.TaskID.String(), e.TaskName, e.Queue, args, e.CorrelationID.String(),
		e.Error, e.Attempts, e.MaxAttempts, e.FailedAt, e.ReplayedAt,
	)
	if err != nil {
		return fmt.Errorf("conduit/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := `SELECT ` + dlqColumns + ` FROM conduit_dlq WHERE ($1 = '' OR queue = $1) ORDER BY failed_at ASC, id ASC`
	args := []any{opts.Queue}
	if opts.Limit > 0 {
		q += " LIMIT $2"
		args = append(args, opts.Limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conduit/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var out []*dlq.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("conduit/postgres: scan dlq: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDLQ returns an entry.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM conduit_dlq WHERE id = $1`, entryID.String())
	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conduit.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conduit/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ stamps replayed_at.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conduit_dlq SET replayed_at = $2 WHERE id = $1`, entryID.String(), at)
	if err != nil {
		return fmt.Errorf("conduit/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduit.ErrDLQNotFound
	}
	return nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conduit_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("conduit/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		eid, tid string
		cid      string
	)
	err := row.Scan(&eid, &tid, &e.TaskName, &e.Queue, &e.Args, &cid, &e.Error,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseDLQID(eid); err != nil {
		return nil, err
	}
	if e.TaskID, err = id.ParseTaskID(tid); err != nil {
		return nil, err
	}
	e.CorrelationID = correlation.ID(cid)
	return &e, nil
}
