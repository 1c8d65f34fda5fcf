package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/gotrs-chat/internal/config"
)

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ordering_store_operations_total",
		Help: "Ordering store operations by command and result",
	}, []string{"op", "result"})
	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_ordering_store_operation_duration_seconds",
		Help:    "Ordering store operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// RedisOrderingStore implements OrderingStore on Redis sorted sets.
type RedisOrderingStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisClient builds a go-redis client from configuration without
// contacting the server.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// NewRedisOrderingStore wraps client. The store does not ping on construction;
// availability is probed per operation by the callers.
func NewRedisOrderingStore(client redis.UniversalClient, keyPrefix string) *RedisOrderingStore {
	return &RedisOrderingStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisOrderingStore) key(k string) string {
	return s.keyPrefix + k
}

func (s *RedisOrderingStore) observe(op string, start time.Time, err error) error {
	storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		result = "miss"
	default:
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	return err
}

func (s *RedisOrderingStore) Ping(ctx context.Context) error {
	start := time.Now()
	if err := s.observe("ping", start, s.client.Ping(ctx).Err()); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisOrderingStore) ZAdd(ctx context.Context, set, member string, score float64) error {
	start := time.Now()
	err := s.client.ZAdd(ctx, s.key(set), redis.Z{Score: score, Member: member}).Err()
	return s.observe("zadd", start, err)
}

func (s *RedisOrderingStore) ZRank(ctx context.Context, set, member string) (int64, error) {
	start := time.Now()
	rank, err := s.client.ZRank(ctx, s.key(set), member).Result()
	if err = s.observe("zrank", start, err); err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrMemberNotFound
		}
		return 0, err
	}
	return rank, nil
}

func (s *RedisOrderingStore) ZMove(ctx context.Context, from, to, member string, score float64) error {
	start := time.Now()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.key(from), member)
		pipe.ZAdd(ctx, s.key(to), redis.Z{Score: score, Member: member})
		return nil
	})
	return s.observe("zmove", start, err)
}

func (s *RedisOrderingStore) ZRem(ctx context.Context, set, member string) error {
	start := time.Now()
	return s.observe("zrem", start, s.client.ZRem(ctx, s.key(set), member).Err())
}

func (s *RedisOrderingStore) ZMembers(ctx context.Context, set string) ([]string, error) {
	start := time.Now()
	members, err := s.client.ZRange(ctx, s.key(set), 0, -1).Result()
	if err = s.observe("zrange", start, err); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *RedisOrderingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	return s.observe("set", start, s.client.Set(ctx, s.key(key), value, ttl).Err())
}

func (s *RedisOrderingStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err = s.observe("get", start, err); err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *RedisOrderingStore) Del(ctx context.Context, key string) error {
	start := time.Now()
	return s.observe("del", start, s.client.Del(ctx, s.key(key)).Err())
}

// Keys walks the keyspace with SCAN, which is safe on a production server.
func (s *RedisOrderingStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	var keys []string
	iter := s.client.Scan(ctx, 0, s.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := s.observe("scan", start, iter.Err()); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisOrderingStore) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err = s.observe("incr", start, err); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the connection pool.
func (s *RedisOrderingStore) Close() error {
	return s.client.Close()
}
