package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/model"
)

const (
	DefaultMaxAttempts   = 10
	DefaultBaseDelay     = 2 * time.Second
	DefaultBackoffFactor = 1.5
	DefaultMaxJitter     = time.Second
	AspectRatioSquare    = "1:1"
)

// Request - 한 번의 논리적 생성 호출
type Request struct {
	Parts      []model.Part
	Resolution model.Resolution
	APIKey     string // 비어 있으면 fallback 키 사용
}

// Call - 트랜스포트로 전달되는 단일 시도 요청
type Call struct {
	Model       string
	APIKey      string
	Parts       []model.Part
	AspectRatio string
	ImageSize   string
}

// Response - 트랜스포트 응답 (반환된 파트 목록)
type Response struct {
	Parts []model.Part
}

// Transport - 원격 모델 호출 1회
type Transport interface {
	Send(ctx context.Context, call Call) (*Response, error)
}

// Options - Executor 설정
type Options struct {
	Model         string
	FallbackKey   string
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxJitter     time.Duration
	Logger        zerolog.Logger

	// 테스트용 주입 지점
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
}

// Executor - 재시도/백오프 + 실패 분류를 담당
type Executor struct {
	transport     Transport
	model         string
	fallbackKey   string
	maxAttempts   int
	baseDelay     time.Duration
	backoffFactor float64
	maxJitter     time.Duration
	logger        zerolog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
	jitter        func(max time.Duration) time.Duration
}

// NewExecutor - Executor 생성 (0 값은 기본값으로 대체)
func NewExecutor(transport Transport, opts Options) *Executor {
	e := &Executor{
		transport:     transport,
		model:         opts.Model,
		fallbackKey:   strings.TrimSpace(opts.FallbackKey),
		maxAttempts:   opts.MaxAttempts,
		baseDelay:     opts.BaseDelay,
		backoffFactor: opts.BackoffFactor,
		maxJitter:     opts.MaxJitter,
		logger:        opts.Logger,
		sleep:         opts.Sleep,
		jitter:        opts.Jitter,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.baseDelay <= 0 {
		e.baseDelay = DefaultBaseDelay
	}
	if e.backoffFactor < 1 {
		e.backoffFactor = DefaultBackoffFactor
	}
	if e.maxJitter < 0 {
		e.maxJitter = 0
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.jitter == nil {
		e.jitter = randomJitter
	}
	return e
}

// MaxAttempts - 설정된 시도 상한
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Generate - 생성 호출 실행 후 data:image/png;base64,... URL 반환
func (e *Executor) Generate(ctx context.Context, req Request) (string, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = e.fallbackKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("%w: connect or enter an API key first", ErrMissingCredential)
	}

	call := Call{
		Model:       e.model,
		APIKey:      apiKey,
		Parts:       req.Parts,
		AspectRatio: AspectRatioSquare,
		ImageSize:   string(req.Resolution),
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		resp, err := e.transport.Send(ctx, call)
		if err == nil {
			img := firstInlineImage(resp)
			if img == nil {
				e.logger.Warn().Int("attempt", attempt).Msg("⚠️  [Gemini] Response contained no image part")
				return "", ErrNoImageReturned
			}
			e.logger.Debug().
				Int("attempt", attempt).
				Int("bytes", len(img.Data)).
				Msg("✅ [Gemini] Image received")
			return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img.Data), nil
		}

		lastErr = err
		safeMsg := Sanitize(err.Error())

		switch Classify(err) {
		case FailureInvalidCredential:
			e.logger.Error().Int("attempt", attempt).Str("error", safeMsg).Msg("❌ [Gemini] Credential rejected")
			return "", fmt.Errorf("%w: %s", ErrInvalidCredential, safeMsg)
		case FailureTransient:
			if attempt == e.maxAttempts {
				break
			}
			delay := e.backoff(attempt)
			e.logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", e.maxAttempts).
				Dur("wait", delay).
				Str("error", safeMsg).
				Msg("⚠️  [Gemini] Backend busy, retrying")
			if err := e.sleep(ctx, delay); err != nil {
				return "", err
			}
			continue
		default:
			e.logger.Error().Int("attempt", attempt).Str("error", safeMsg).Msg("❌ [Gemini] Generation failed")
			return "", fmt.Errorf("%s", safeMsg)
		}
	}

	safeMsg := Sanitize(lastErr.Error())
	e.logger.Error().Int("attempts", e.maxAttempts).Str("error", safeMsg).Msg("❌ [Gemini] Retry ceiling reached")
	return "", fmt.Errorf("%w after %d attempts: %s", ErrRetriesExhausted, e.maxAttempts, safeMsg)
}

// backoff - base * factor^attempt + jitter
func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.baseDelay) * math.Pow(e.backoffFactor, float64(attempt))
	return time.Duration(delay) + e.jitter(e.maxJitter)
}

func firstInlineImage(resp *Response) *model.Image {
	if resp == nil {
		return nil
	}
	for _, part := range resp.Parts {
		if part.Image != nil && len(part.Image.Data) > 0 {
			return part.Image
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
