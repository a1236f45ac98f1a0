package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"

	"layout-studio-server/modules/common/config"
)

const (
	promptsTable = "layout_prompts"
	exportsTable = "layout_exports"
)

// PromptRow - layout_prompts 테이블 행
type PromptRow struct {
	PromptID   string `json:"prompt_id"`
	PromptName string `json:"prompt_name"`
	Content    string `json:"prompt_content"`
	IsActive   bool   `json:"is_active"`
}

// ExportRecord - layout_exports 테이블 행
type ExportRecord struct {
	SessionID  string    `json:"session_id"`
	ItemID     string    `json:"item_id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	FileType   string    `json:"file_type"`
	ExportedAt time.Time `json:"exported_at"`
}

type Client struct {
	supabase *supabase.Client
	logger   zerolog.Logger
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
		logger:   logger,
	}, nil
}

// FetchPrompts - 활성화된 지시문 템플릿 조회
func (c *Client) FetchPrompts(ctx context.Context) ([]PromptRow, error) {
	var rows []PromptRow

	data, _, err := c.supabase.From(promptsTable).
		Select("*", "exact", false).
		Eq("is_active", "true").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query Supabase: %w", err)
	}

	// JSON 파싱
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug().Int("count", len(rows)).Msg("🔍 [Supabase] Prompts fetched")
	return rows, nil
}

// InsertExport - 업로드된 결과물 기록
func (c *Client) InsertExport(ctx context.Context, rec ExportRecord) error {
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = time.Now().UTC()
	}

	insertData := map[string]interface{}{
		"session_id":  rec.SessionID,
		"item_id":     rec.ItemID,
		"file_name":   rec.FileName,
		"file_path":   rec.FilePath,
		"file_size":   rec.FileSize,
		"file_type":   rec.FileType,
		"exported_at": rec.ExportedAt.Format(time.RFC3339),
	}

	_, _, err := c.supabase.From(exportsTable).
		Insert(insertData, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert export record: %w", err)
	}

	c.logger.Info().Str("item", rec.ItemID).Str("path", rec.FilePath).Msg("💾 [Supabase] Export recorded")
	return nil
}
