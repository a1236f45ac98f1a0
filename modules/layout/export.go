package layout

import (
	"context"
	"errors"
)

var ErrNothingToExport = errors.New("no successful results to export")

// ExportRequest - 내보내기 대상 선택
type ExportRequest struct {
	Directory string `json:"directory,omitempty"`
	Upload    bool   `json:"upload"`
	Local     bool   `json:"local"`
}

// ExportedFile - 내보낸 파일 하나
type ExportedFile struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Bytes  int    `json:"bytes"`
}

// ExportResult - 내보내기 결과
type ExportResult struct {
	Directory string         `json:"directory,omitempty"`
	Files     []ExportedFile `json:"files"`
}

// Exporter - 성공 항목을 파일/스토리지로 내보냄
type Exporter interface {
	Export(ctx context.Context, sessionID string, items []WorkItem, assets GlobalAssets, req ExportRequest) (ExportResult, error)
}

// ExportWith - Exporting 상태에서 exporter 실행
func (c *Controller) ExportWith(ctx context.Context, exporter Exporter, req ExportRequest) (ExportResult, error) {
	var result ExportResult
	err := c.Export(ctx, func(ctx context.Context, items []WorkItem, assets GlobalAssets) error {
		if len(items) == 0 {
			return ErrNothingToExport
		}
		var err error
		result, err = exporter.Export(ctx, c.sessionID, items, assets, req)
		return err
	})
	if err != nil {
		return ExportResult{}, err
	}
	c.logger.Info().Int("files", len(result.Files)).Msg("📦 [Queue] Export finished")
	return result, nil
}
