package jobs

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storysmith/pkg/config"
)

const (
	redisKeyPrefix = "storysmith:job:"
	redisIndexKey  = "storysmith:jobs"
)

// ConnectRedis opens a client and pings it.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	log.Info("connecting to redis", "addr", cfg.RedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each job as a JSON value with a TTL and indexes ids in a
// sorted set scored by creation time.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(id uuid.UUID) string {
	return redisKeyPrefix + id.String()
}

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, redisKey(job.ID), data, s.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	data, err := s.rdb.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Update(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	err = s.rdb.SetArgs(ctx, redisKey(job.ID), data, redis.SetArgs{Mode: "XX", TTL: s.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// List drops index entries whose job has expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*Job, error) {
	var (
		out   []*Job
		stale []any
		start int64
	)
	for limit <= 0 || len(out) < limit {
		stop := int64(-1)
		if limit > 0 {
			stop = start + int64(limit-len(out)) - 1
		}
		ids, err := s.rdb.ZRevRange(ctx, redisIndexKey, start, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		live, expired, err := s.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, live...)
		stale = append(stale, expired...)
		if limit <= 0 || int64(len(ids)) < stop-start+1 {
			break
		}
		start += int64(len(ids))
	}

	// Pruned after the scan so the ranks above stay stable.
	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			log.Warn("failed to prune job index", "error", err)
		}
	}
	return out, nil
}

// load fetches the jobs for ids and returns the ids whose keys have expired.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*Job, []any, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	out := make([]*Job, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(str), &job); err != nil {
			log.Warn("skipping unreadable job", "id", ids[i], "error", err)
			continue
		}
		out = append(out, &job)
	}
	return out, stale, nil
}
