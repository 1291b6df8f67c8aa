package cratestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cratebox/internal/domain/crate"
)

const (
	defaultKey  = "cratebox:crate"
	pingTimeout = 5 * time.Second
	// tombstone marks a list entry for removal by index.
	tombstone = "__cratebox_removed__"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis stores crate rows as JSON entries of a Redis list.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	return newRedisWithClient(client, cfg.Key), nil
}

func newRedisWithClient(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Add(ctx context.Context, row crate.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "failed to marshal crate row")
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return errors.Wrap(err, "failed to add crate row")
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, i int) error {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return errors.Wrap(err, "failed to read crate length")
	}
	if i < 0 || int64(i) >= n {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LSet(ctx, r.key, int64(i), tombstone)
		pipe.LRem(ctx, r.key, 1, tombstone)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to remove crate row")
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.Wrap(err, "failed to clear crate")
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]crate.Row, error) {
	values, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list crate")
	}

	rows := make([]crate.Row, 0, len(values))
	for _, v := range values {
		var row crate.Row
		if err := json.Unmarshal([]byte(v), &row); err != nil {
			zlog.Warn().Msgf("cratestore: skipping malformed entry: %v", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
