// Package discovery resolves bootstrap peer addresses from sources other
// than the static configuration list, so a node can join a cluster by
// address discovery instead of a hand-maintained peer set.
package discovery

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Source resolves a set of bootstrap peer names.
type Source interface {
	Peers(ctx context.Context) ([]string, error)
}

// RedisSource reads the bootstrap peer set from a Redis set, populated by
// SADD and read back with SMEMBERS. Nodes add themselves to the set on
// startup so later joiners can discover the existing membership.
type RedisSource struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisSource connects to addr and targets the given set key.
func NewRedisSource(addr, key string, logger *zap.Logger) *RedisSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		logger: logger,
	}
}

// Peers returns the current members of the discovery set.
func (s *RedisSource) Peers(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("discovery: reading %s: %w", s.key, err)
	}
	return members, nil
}

// Announce adds localName to the discovery set so it can be found by
// later joiners, then returns the peer set observed at the time of the
// call (which may or may not include localName, depending on timing).
func (s *RedisSource) Announce(ctx context.Context, localName string) ([]string, error) {
	if err := s.client.SAdd(ctx, s.key, localName).Err(); err != nil {
		return nil, fmt.Errorf("discovery: announcing %s: %w", localName, err)
	}
	s.logger.Info("announced to discovery set", zap.String("key", s.key), zap.String("name", localName))
	return s.Peers(ctx)
}

// Close releases the underlying Redis connection.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
