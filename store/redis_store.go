package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const defaultRedisPrefix = "nexus"

// RedisStore はメタデータを JSON 文字列、アーカイブをバイナリ値として保存し、
// ID の集合で一覧を管理します。
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// DialRedis は接続を確認したうえでクライアントを返します。
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) indexKey() string           { return s.prefix + ":sessions" }
func (s *RedisStore) metaKey(id string) string   { return s.prefix + ":session:" + id + ":meta" }
func (s *RedisStore) bundleKey(id string) string { return s.prefix + ":session:" + id + ":bundle" }

func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	meta, err := json.Marshal(&r.Summary)
	if err != nil {
		return fmt.Errorf("store.RedisStore.Save: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.bundleKey(r.ID), r.Bundle, 0)
		p.Set(ctx, s.metaKey(r.ID), meta, 0)
		p.SAdd(ctx, s.indexKey(), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store.RedisStore.Save: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	sum, err := s.summary(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.bundleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store.RedisStore.Load: %w", err)
	}
	return &Record{Summary: *sum, Bundle: data}, nil
}

func (s *RedisStore) summary(ctx context.Context, id string) (*Summary, error) {
	raw, err := s.rdb.Get(ctx, s.metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store.RedisStore.Load: %w", err)
	}
	var sum Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, fmt.Errorf("store.RedisStore.Load: %w", err)
	}
	return &sum, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("store.RedisStore.List: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.summary(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.SRem(ctx, s.indexKey(), id).Result()
	if err != nil {
		return fmt.Errorf("store.RedisStore.Delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.rdb.Del(ctx, s.metaKey(id), s.bundleKey(id)).Err(); err != nil {
		return fmt.Errorf("store.RedisStore.Delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
