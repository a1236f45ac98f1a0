package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/config"
)

const (
	stopKeyPrefix       = "layout:stop:"
	credentialKeyPrefix = "layout:credential:"
	assetsKeyPrefix     = "layout:assets:"

	stopFlagTTL = 1 * time.Hour
)

// Connect - Redis 연결 생성
func Connect(cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	logger.Info().Str("addr", cfg.GetRedisAddr()).Msg("🔌 [Redis] Connecting")

	// TLS 설정 (InsecureSkipVerify 추가)
	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // Render.com Redis용
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().Msg("✅ [Redis] Connected")
	return rdb, nil
}

// SetStopRequested - 세션 배치 중단 플래그 설정
func SetStopRequested(ctx context.Context, rdb *redis.Client, sessionID string) error {
	return rdb.Set(ctx, stopKeyPrefix+sessionID, "1", stopFlagTTL).Err()
}

// IsStopRequested - 중단 플래그 확인 (조회 실패 시 false)
func IsStopRequested(ctx context.Context, rdb *redis.Client, sessionID string) bool {
	n, err := rdb.Exists(ctx, stopKeyPrefix+sessionID).Result()
	return err == nil && n > 0
}

// ClearStop - 새 배치 시작 전 플래그 제거
func ClearStop(ctx context.Context, rdb *redis.Client, sessionID string) error {
	return rdb.Del(ctx, stopKeyPrefix+sessionID).Err()
}

// SetCredential - 세션 API 키 저장
func SetCredential(ctx context.Context, rdb *redis.Client, sessionID, apiKey string, ttl time.Duration) error {
	return rdb.Set(ctx, credentialKeyPrefix+sessionID, apiKey, ttl).Err()
}

// GetCredential - 세션 API 키 조회 (없으면 빈 문자열)
func GetCredential(ctx context.Context, rdb *redis.Client, sessionID string) (string, error) {
	v, err := rdb.Get(ctx, credentialKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// DeleteCredential - 세션 API 키 삭제
func DeleteCredential(ctx context.Context, rdb *redis.Client, sessionID string) error {
	return rdb.Del(ctx, credentialKeyPrefix+sessionID).Err()
}

// SaveAssets - 세션 설정을 JSON 으로 저장
func SaveAssets(ctx context.Context, rdb *redis.Client, sessionID string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal assets: %w", err)
	}
	return rdb.Set(ctx, assetsKeyPrefix+sessionID, payload, ttl).Err()
}

// LoadAssets - 저장된 세션 설정 조회 (없으면 false)
func LoadAssets(ctx context.Context, rdb *redis.Client, sessionID string, v any) (bool, error) {
	payload, err := rdb.Get(ctx, assetsKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return false, fmt.Errorf("failed to parse assets: %w", err)
	}
	return true, nil
}
