package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/checkin/internal/checkin"
)

const redisMaxRetries = 5

// RedisStore keeps each group as a JSON string under prefix+id. Redemption
// runs as a WATCH/MULTI optimistic transaction on the group key.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, rawURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) ListGroups(ctx context.Context) ([]checkin.GuestGroup, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning group keys: %w", err)
	}
	sort.Strings(keys)

	groups := make([]checkin.GuestGroup, 0, len(keys))
	for start := 0; start < len(keys); start += 200 {
		end := min(start+200, len(keys))
		vals, err := s.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("loading groups: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				// Deleted between SCAN and MGET.
				continue
			}
			var g checkin.GuestGroup
			if err := json.Unmarshal([]byte(str), &g); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", keys[start+i], err)
			}
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (s *RedisStore) GetGroup(ctx context.Context, id string) (checkin.GuestGroup, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return checkin.GuestGroup{}, checkin.ErrNotFound
	}
	if err != nil {
		return checkin.GuestGroup{}, fmt.Errorf("getting group %q: %w", id, err)
	}
	var g checkin.GuestGroup
	if err := json.Unmarshal(data, &g); err != nil {
		return checkin.GuestGroup{}, fmt.Errorf("decoding group %q: %w", id, err)
	}
	return g, nil
}

func (s *RedisStore) RedeemTicket(ctx context.Context, groupID, code string, at time.Time, by string) (bool, error) {
	key := s.key(groupID)
	var applied bool

	txf := func(tx *redis.Tx) error {
		applied = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return checkin.ErrNotFound
		}
		if err != nil {
			return err
		}
		var g checkin.GuestGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return fmt.Errorf("decoding group %q: %w", groupID, err)
		}
		i := g.TicketByCode(code)
		if i < 0 {
			return checkin.ErrNotFound
		}
		if !g.Tickets[i].Redeem(at, by) {
			return nil
		}
		out, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for range redisMaxRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, checkin.ErrNotFound) {
				return false, err
			}
			return false, fmt.Errorf("redeeming %q in %q: %w", code, groupID, err)
		}
		return applied, nil
	}
	return false, ErrConflict
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) PutGroup(ctx context.Context, g checkin.GuestGroup) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(g.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("putting group %q: %w", g.ID, err)
	}
	return nil
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Seeder = (*RedisStore)(nil)
)
