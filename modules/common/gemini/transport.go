package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"layout-studio-server/modules/common/model"
)

// GenaiTransport - Gemini API 백엔드로 GenerateContent 1회 호출
// 키별 클라이언트를 캐시해서 재사용한다
type GenaiTransport struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
	logger  zerolog.Logger
}

// NewGenaiTransport - 트랜스포트 생성
func NewGenaiTransport(logger zerolog.Logger) *GenaiTransport {
	return &GenaiTransport{
		clients: make(map[string]*genai.Client),
		logger:  logger,
	}
}

func (t *GenaiTransport) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[apiKey]; ok {
		return c, nil
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %s", Sanitize(err.Error()))
	}
	t.clients[apiKey] = c
	t.logger.Info().Int("cached_clients", len(t.clients)).Msg("✅ [Gemini] Client initialized")
	return c, nil
}

// evict - 거절된 키의 클라이언트 제거
func (t *GenaiTransport) evict(apiKey string) {
	t.mu.Lock()
	delete(t.clients, apiKey)
	t.mu.Unlock()
}

// Send - 파트 목록을 genai 콘텐츠로 변환해서 호출
func (t *GenaiTransport) Send(ctx context.Context, call Call) (*Response, error) {
	c, err := t.client(ctx, call.APIKey)
	if err != nil {
		return nil, err
	}

	parts := make([]*genai.Part, 0, len(call.Parts))
	for _, p := range call.Parts {
		if p.IsImage() {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: p.Image.MIMEType,
					Data:     p.Image.Data,
				},
			})
			continue
		}
		parts = append(parts, genai.NewPartFromText(p.Text))
	}

	imageConfig := &genai.ImageConfig{AspectRatio: call.AspectRatio}
	if call.ImageSize != "" {
		imageConfig.ImageSize = call.ImageSize
	}

	result, err := c.Models.GenerateContent(
		ctx,
		call.Model,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{
			ImageConfig: imageConfig,
		},
	)
	if err != nil {
		err = toBackendError(err)
		if Classify(err) == FailureInvalidCredential {
			t.evict(call.APIKey)
		}
		return nil, err
	}

	resp := &Response{}
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			switch {
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				resp.Parts = append(resp.Parts, model.ImagePart(&model.Image{MIMEType: mime, Data: part.InlineData.Data}))
			case part.Text != "":
				resp.Parts = append(resp.Parts, model.TextPart(part.Text))
			}
		}
	}
	return resp, nil
}

// toBackendError - genai.APIError 를 code/status/message 형태로 정규화
func toBackendError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &BackendError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
