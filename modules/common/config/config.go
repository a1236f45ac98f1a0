package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"production"`
	Port   string `envconfig:"PORT" default:"8080"`

	// Redis (비어 있으면 메모리 저장소 사용)
	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisUseTLS   bool   `envconfig:"REDIS_USE_TLS" default:"true"`

	// Supabase (비어 있으면 내장 템플릿만 사용)
	SupabaseURL           string `envconfig:"SUPABASE_URL"`
	SupabaseServiceKey    string `envconfig:"SUPABASE_SERVICE_KEY"`
	SupabaseStorageBucket string `envconfig:"SUPABASE_STORAGE_BUCKET" default:"attachments"`

	// Gemini API
	GeminiAPIKey        string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel         string        `envconfig:"GEMINI_MODEL" default:"gemini-3-pro-image-preview"`
	GeminiMaxAttempts   int           `envconfig:"GEMINI_MAX_ATTEMPTS" default:"10"`
	GeminiBaseDelay     time.Duration `envconfig:"GEMINI_BASE_DELAY" default:"2s"`
	GeminiBackoffFactor float64       `envconfig:"GEMINI_BACKOFF_FACTOR" default:"1.5"`
	GeminiMaxJitter     time.Duration `envconfig:"GEMINI_MAX_JITTER" default:"1s"`

	// Queue
	QueueMaxSize   int           `envconfig:"QUEUE_MAX_SIZE" default:"10"`
	QueueItemDelay time.Duration `envconfig:"QUEUE_ITEM_DELAY" default:"500ms"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	// Export
	ExportDir string `envconfig:"EXPORT_DIR" default:"exports"`
}

// LoadConfig - 환경변수 로드
func LoadConfig(logger zerolog.Logger) (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("model", cfg.GeminiModel).
		Bool("fallback_key", cfg.GeminiAPIKey != "").
		Bool("redis", cfg.RedisEnabled()).
		Bool("supabase", cfg.SupabaseEnabled()).
		Int("queue_max", cfg.QueueMaxSize).
		Msg("✅ Configuration loaded successfully")

	return &cfg, nil
}

// Validate - 설정값 검증
func (c *Config) Validate() error {
	if c.GeminiMaxAttempts <= 0 {
		return fmt.Errorf("GEMINI_MAX_ATTEMPTS must be positive")
	}
	if c.GeminiBackoffFactor < 1 {
		return fmt.Errorf("GEMINI_BACKOFF_FACTOR must be >= 1")
	}
	if c.QueueMaxSize <= 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be positive")
	}
	if c.QueueItemDelay < 0 || c.GeminiBaseDelay < 0 || c.GeminiMaxJitter < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.SupabaseURL != "" && c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required when SUPABASE_URL is set")
	}
	return nil
}

// RedisEnabled - Redis 사용 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// SupabaseEnabled - Supabase 사용 여부
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
