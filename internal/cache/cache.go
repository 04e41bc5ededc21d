package cache

import (
	"context"
	"time"

	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/storage"
	"github.com/rs/zerolog/log"
)

// Store caches serialized vehicle lookups by registration.
// Failures are logged and treated as misses.
type Store interface {
	Get(ctx context.Context, vrm string) ([]byte, bool)
	Set(ctx context.Context, vrm string, value []byte)
}

const keyPrefix = "lookup:"

type RedisStore struct {
	redis   *storage.RedisClient
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewRedisStore(redis *storage.RedisClient, ttl time.Duration, m *metrics.Metrics) *RedisStore {
	return &RedisStore{redis: redis, ttl: ttl, metrics: m}
}

func Key(vrm string) string {
	return keyPrefix + vrm
}

func (s *RedisStore) Get(ctx context.Context, vrm string) ([]byte, bool) {
	val, err := s.redis.Get(ctx, Key(vrm))
	if err != nil {
		if !storage.IsNil(err) {
			log.Warn().Err(err).Str("vrm", vrm).Msg("lookup cache read failed")
		}
		s.observe("miss")
		return nil, false
	}
	s.observe("hit")
	return []byte(val), true
}

func (s *RedisStore) Set(ctx context.Context, vrm string, value []byte) {
	if err := s.redis.Set(ctx, Key(vrm), string(value), s.ttl); err != nil {
		log.Warn().Err(err).Str("vrm", vrm).Msg("lookup cache write failed")
	}
}

func (s *RedisStore) observe(result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

// Noop is used when no cache backend is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (Noop) Set(context.Context, string, []byte) {}
