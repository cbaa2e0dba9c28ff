// Package redisstore implements checkpoint.Store on Redis. Checkpoint bodies
// are written with SETNX so an existing id is never overwritten; each
// execution keeps a sorted set of its ids ordered by a global save counter.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentgraph/checkpoint"
)

const defaultKeyPrefix = "agentgraph"

// Options configures the store.
type Options struct {
	// KeyPrefix namespaces every key; defaults to "agentgraph".
	KeyPrefix string
	// TTL expires checkpoints and indexes; 0 keeps them forever.
	TTL time.Duration
}

// Store is a Redis-backed checkpoint.Store.
type Store struct {
	client redis.UniversalClient
	opts   Options
}

var _ checkpoint.Store = (*Store)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: defaultKeyPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, opts: opts}
}

func (s *Store) dataKey(id checkpoint.ID) string { return s.opts.KeyPrefix + ":checkpoint:" + string(id) }
func (s *Store) indexKey(executionID string) string {
	return s.opts.KeyPrefix + ":execution:" + executionID + ":checkpoints"
}
func (s *Store) seqKey() string { return s.opts.KeyPrefix + ":checkpoint:seq" }

// Put implements checkpoint.Store.
func (s *Store) Put(ctx context.Context, executionID string, id checkpoint.ID, data []byte) (bool, error) {
	created, err := s.client.SetNX(ctx, s.dataKey(id), data, s.opts.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore put %s: %w", id, err)
	}
	if !created {
		return false, nil
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore sequence: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.indexKey(executionID), redis.Z{Score: float64(seq), Member: string(id)})
		if s.opts.TTL > 0 {
			pipe.Expire(ctx, s.indexKey(executionID), s.opts.TTL)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redisstore index %s: %w", id, err)
	}
	return true, nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, id checkpoint.ID) ([]byte, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore get %s: %w", id, err)
	}
	return data, nil
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context, executionID string) ([]checkpoint.ID, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore list %s: %w", executionID, err)
	}
	ids := make([]checkpoint.ID, len(members))
	for i, m := range members {
		ids[i] = checkpoint.ID(m)
	}
	return ids, nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, executionID string, ids ...checkpoint.ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
		members[i] = string(id)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(executionID), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore delete: %w", err)
	}
	return nil
}
