package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/id"
)

// PushDLQ stores the entry and indexes it by FailedAt.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conduit/redis: encode dlq entry: %w", err)
	}
	eid := entry.ID.String()
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, dlqKey(eid), data, 0)
		p.ZAdd(ctx, dlqIDsKey, goredis.Z{Score: score(entry.FailedAt), Member: eid})
		return nil
	})
	if err != nil {
		return fmt.Errorf("conduit/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conduit/redis: list dlq: %w", err)
	}
	var out []*dlq.Entry
	for _, eid := range ids {
		e, err := s.getDLQ(ctx, eid)
		if err != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetDLQ returns an entry.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, entryID.String())
}

// ReplayDLQ stamps ReplayedAt.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	e, err := s.getDLQ(ctx, entryID.String())
	if err != nil {
		return err
	}
	e.ReplayedAt = &at
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("conduit/redis: encode dlq entry: %w", err)
	}
	if err := s.client.Set(ctx, dlqKey(entryID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("conduit/redis: replay dlq: %w", err)
	}
	return nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conduit/redis: count dlq: %w", err)
	}
	return n, nil
}

func (s *Store) getDLQ(ctx context.Context, eid string) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, dlqKey(eid)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conduit.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conduit/redis: get dlq: %w", err)
	}
	var e dlq.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("conduit/redis: decode dlq entry %s: %w", eid, err)
	}
	return &e, nil
}
