package trust

import (
	"context"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding domain → level entries.
const DefaultRedisKey = "dispatch:trust:domains"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps domain trust levels in a single Redis hash so that all
// dispatcher replicas share one policy. Values are Level names.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore returns a store using key, or DefaultRedisKey when key is
// empty.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Set records level for domain.
func (s *RedisStore) Set(ctx context.Context, domain string, level Level) error {
	return s.client.HSet(ctx, s.key, normalizeDomain(domain), level.String()).Err()
}

// Remove deletes any entry for domain.
func (s *RedisStore) Remove(ctx context.Context, domain string) error {
	return s.client.HDel(ctx, s.key, normalizeDomain(domain)).Err()
}

// RequestToTrust fetches every candidate suffix in one round trip and returns
// the most specific match.
func (s *RedisStore) RequestToTrust(ctx context.Context, u *url.URL) (Level, error) {
	candidates := domainCandidates(u.Hostname())
	if len(candidates) == 0 {
		return Unset, nil
	}

	values, err := s.client.HMGet(ctx, s.key, candidates...).Result()
	if err != nil {
		return Unset, fmt.Errorf("trust: redis hmget: %w", err)
	}

	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		level, err := ParseLevel(str)
		if err != nil {
			return Unset, fmt.Errorf("trust: entry %s: %w", candidates[i], err)
		}
		return level, nil
	}
	return Unset, nil
}
