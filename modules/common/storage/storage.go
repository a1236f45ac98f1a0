package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/config"
)

type Client struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.SupabaseURL, "/"),
		serviceKey: cfg.SupabaseServiceKey,
		bucket:     cfg.SupabaseStorageBucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Upload - Supabase Storage 에 파일 업로드 후 저장 경로 반환
func (c *Client) Upload(ctx context.Context, filePath, contentType string, data []byte) (string, error) {
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)
	// 같은 경로 재내보내기는 덮어쓴다
	req.Header.Set("x-upsert", "true")

	c.logger.Info().Str("path", filePath).Int("bytes", len(data)).Msg("📤 [Storage] Uploading")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info().Str("path", filePath).Msg("✅ [Storage] Uploaded")
	return filePath, nil
}

// PublicURL - 공개 버킷 기준 URL
func (c *Client) PublicURL(filePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, filePath)
}
