package layout

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	redisutil "layout-studio-server/modules/common/redis"
)

// RedisStore - Redis 기반 자격증명/설정/중단 플래그 저장소
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore - ttl 은 세션 데이터 보존 기간
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (string, error) {
	return redisutil.GetCredential(ctx, s.rdb, sessionID)
}

func (s *RedisStore) Set(ctx context.Context, sessionID, apiKey string) error {
	return redisutil.SetCredential(ctx, s.rdb, sessionID, strings.TrimSpace(apiKey), s.ttl)
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return redisutil.DeleteCredential(ctx, s.rdb, sessionID)
}

func (s *RedisStore) LoadAssets(ctx context.Context, sessionID string) (GlobalAssets, bool, error) {
	var assets GlobalAssets
	ok, err := redisutil.LoadAssets(ctx, s.rdb, sessionID, &assets)
	if err != nil || !ok {
		return GlobalAssets{}, false, err
	}
	return assets, true, nil
}

func (s *RedisStore) SaveAssets(ctx context.Context, sessionID string, assets GlobalAssets) error {
	return redisutil.SaveAssets(ctx, s.rdb, sessionID, assets, s.ttl)
}

func (s *RedisStore) Request(ctx context.Context, sessionID string) error {
	return redisutil.SetStopRequested(ctx, s.rdb, sessionID)
}

func (s *RedisStore) Requested(ctx context.Context, sessionID string) bool {
	return redisutil.IsStopRequested(ctx, s.rdb, sessionID)
}

func (s *RedisStore) Reset(ctx context.Context, sessionID string) error {
	return redisutil.ClearStop(ctx, s.rdb, sessionID)
}
