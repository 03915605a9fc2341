package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/cache"
	"github.com/prep-agent/backend/pkg/logger"
	"github.com/prep-agent/backend/pkg/utils"
)

const keyPrefix = "research:"

// Store is the redis-backed persistence option for the expiring cache.
// Entries are written with their TTL so redis expires them server-side;
// the in-memory layer still applies the same validity rule.
type Store struct {
	client *redis.Client
}

func NewStore(host string, port int, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache store initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Write(e cache.Entry) error {
	ctx := context.Background()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	ttl := time.Duration(e.TTLSeconds) * time.Second
	if err := s.client.Set(ctx, redisKey(e.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	return nil
}

func (s *Store) Read(key string) (cache.Entry, bool, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) Delete(key string) error {
	ctx := context.Background()
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *Store) LoadAll() ([]cache.Entry, error) {
	ctx := context.Background()

	var entries []cache.Entry
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var e cache.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return entries, nil
}

func redisKey(key string) string {
	return keyPrefix + utils.HashString(key)
}
