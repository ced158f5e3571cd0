package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

// maxTxRetries bounds optimistic retries of a cancel that keeps losing
// its WATCH.
const maxTxRetries = 8

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// Enqueue stores r and adds it to its queue.
func (s *Store) Enqueue(ctx context.Context, r *task.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("conduit/redis: encode task: %w", err)
	}
	tid := r.ID.String()
	created, err := s.client.HSetNX(ctx, taskKey(tid), fieldData, data).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: enqueue: %w", err)
	}
	if !created {
		return conduit.ErrTaskExists
	}
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAdd(ctx, taskIDsKey, goredis.Z{Score: score(r.CreatedAt), Member: tid})
		p.ZAdd(ctx, queueKey(r.Queue), goredis.Z{Score: score(r.RunAt), Member: tid})
		return nil
	})
	if err != nil {
		return fmt.Errorf("conduit/redis: enqueue index: %w", err)
	}
	return nil
}

// Dequeue claims ready ids queue by queue. Each claim is a WATCH on the
// task hash, so a concurrent claim or cancel of the same id makes one side
// lose and skip it.
func (s *Store) Dequeue(ctx context.Context, queues []string, limit int) ([]*task.Record, error) {
	if limit <= 0 {
		limit = 1
	}
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	var out []*task.Record

	for _, q := range queues {
		if len(out) >= limit {
			break
		}
		ids, err := s.client.ZRangeByScore(ctx, queueKey(q), &goredis.ZRangeBy{
			Min: "-inf", Max: now, Count: int64(limit - len(out)),
		}).Result()
		if err != nil {
			return out, fmt.Errorf("conduit/redis: dequeue scan: %w", err)
		}
		for _, tid := range ids {
			r, err := s.claim(ctx, q, tid)
			if errors.Is(err, conduit.ErrTaskNotFound) {
				s.logger.Warn("dropping queue member without record",
					slog.String("task_id", tid),
				)
				s.client.ZRem(ctx, queueKey(q), tid)
				continue
			}
			if err != nil {
				return out, err
			}
			if r != nil {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// claim moves tid to PROCESSING and out of queue q in one transaction. It
// returns nil, nil when the id was taken by someone else first.
func (s *Store) claim(ctx context.Context, q, tid string) (*task.Record, error) {
	var claimed *task.Record
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		r, err := readTask(ctx, tx, tid)
		if err != nil {
			return err
		}
		if r.State != status.Received && r.State != status.Retrying {
			// stale member
			return tx.ZRem(ctx, queueKey(q), tid).Err()
		}
		if err := r.Claim(); err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("conduit/redis: encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.ZRem(ctx, queueKey(q), tid)
			p.HSet(ctx, taskKey(tid), fieldData, data)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = r
		return nil
	}, taskKey(tid))
	if errors.Is(err, goredis.TxFailedErr) {
		return nil, nil
	}
	if err != nil && !errors.Is(err, conduit.ErrTaskNotFound) {
		return nil, fmt.Errorf("conduit/redis: dequeue claim: %w", err)
	}
	return claimed, err
}

// Get returns the record.
func (s *Store) Get(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	return s.get(ctx, taskID.String())
}

// Update overwrites the record's data. The cancel field is never touched,
// so a pending request survives.
func (s *Store) Update(ctx context.Context, r *task.Record) error {
	n, err := s.client.Exists(ctx, taskKey(r.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("conduit/redis: update exists: %w", err)
	}
	if n == 0 {
		return conduit.ErrTaskNotFound
	}
	return s.put(ctx, r)
}

// Requeue stores the RETRYING record and schedules it at RunAt.
func (s *Store) Requeue(ctx context.Context, r *task.Record) error {
	if r.State != status.Retrying {
		return status.Validate(r.State, status.Retrying)
	}
	if err := s.Update(ctx, r); err != nil {
		return err
	}
	err := s.client.ZAdd(ctx, queueKey(r.Queue), goredis.Z{Score: score(r.RunAt), Member: r.ID.String()}).Err()
	if err != nil {
		return fmt.Errorf("conduit/redis: requeue: %w", err)
	}
	return nil
}

// Cancel runs as a WATCH transaction on the task hash. A RECEIVED record
// is cancelled and taken out of its queue; a PROCESSING or RETRYING one only
// gets the request flag, the worker owns its data and cancels it on claim or
// after the handler returns.
func (s *Store) Cancel(ctx context.Context, taskID id.TaskID) (*task.Record, error) {
	tid := taskID.String()
	for range maxTxRetries {
		var out *task.Record
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			r, err := readTask(ctx, tx, tid)
			if err != nil {
				return err
			}
			if err := task.ApplyCancel(r); err != nil {
				return err
			}
			var data []byte
			if r.State == status.Cancelled {
				if data, err = json.Marshal(r); err != nil {
					return fmt.Errorf("conduit/redis: encode task: %w", err)
				}
			}
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				if r.State == status.Cancelled {
					p.ZRem(ctx, queueKey(r.Queue), tid)
					p.HSet(ctx, taskKey(tid), fieldData, data)
				} else {
					p.HSet(ctx, taskKey(tid), fieldCancel, "1")
				}
				return nil
			})
			if err != nil {
				return err
			}
			out = r
			return nil
		}, taskKey(tid))
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, conduit.ErrTaskNotFound), errors.Is(err, conduit.ErrInvalidTransition):
			return nil, err
		default:
			return nil, fmt.Errorf("conduit/redis: cancel: %w", err)
		}
	}
	return nil, fmt.Errorf("conduit/redis: cancel %s: %w", tid, goredis.TxFailedErr)
}

// List returns records ordered by creation.
func (s *Store) List(ctx context.Context, opts task.ListOpts) ([]*task.Record, error) {
	ids, err := s.client.ZRange(ctx, taskIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: list: %w", err)
	}
	var out []*task.Record
	for _, tid := range ids {
		r, err := s.get(ctx, tid)
		if err != nil {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Queue != "" && r.Queue != opts.Queue {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) get(ctx context.Context, tid string) (*task.Record, error) {
	return readTask(ctx, s.client, tid)
}

type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *goredis.SliceCmd
}

func readTask(ctx context.Context, c hashReader, tid string) (*task.Record, error) {
	vals, err := c.HMGet(ctx, taskKey(tid), fieldData, fieldCancel).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conduit.ErrTaskNotFound
		}
		return nil, fmt.Errorf("conduit/redis: get task: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, conduit.ErrTaskNotFound
	}
	var r task.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("conduit/redis: decode task %s: %w", tid, err)
	}
	if flag, _ := vals[1].(string); flag == "1" {
		r.CancelRequested = true
	}
	return &r, nil
}

func (s *Store) put(ctx context.Context, r *task.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("conduit/redis: encode task: %w", err)
	}
	if err := s.client.HSet(ctx, taskKey(r.ID.String()), fieldData, data).Err(); err != nil {
		return fmt.Errorf("conduit/redis: write task: %w", err)
	}
	return nil
}
