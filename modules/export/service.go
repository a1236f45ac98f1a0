package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/database"
	"layout-studio-server/modules/common/utils"
	"layout-studio-server/modules/layout"
)

var (
	ErrNoTarget     = errors.New("no export target configured")
	ErrUnsafeTarget = errors.New("export target escapes base directory")
)

// Uploader - 스토리지 업로드 (storage.Client)
type Uploader interface {
	Upload(ctx context.Context, filePath, contentType string, data []byte) (string, error)
	PublicURL(filePath string) string
}

// Recorder - 업로드 기록 (database.Client)
type Recorder interface {
	InsertExport(ctx context.Context, rec database.ExportRecord) error
}

// Options - Service 의존성. Uploader/Recorder 는 nil 가능
type Options struct {
	BaseDir     string
	Uploader    Uploader
	Recorder    Recorder
	WebPQuality float32
	Logger      zerolog.Logger
}

// Service - layout.Exporter 구현
type Service struct {
	baseDir  string
	uploader Uploader
	recorder Recorder
	quality  float32
	logger   zerolog.Logger
}

func NewService(opts Options) *Service {
	quality := opts.WebPQuality
	if quality <= 0 {
		quality = utils.DefaultWebPQuality
	}
	return &Service{
		baseDir:  opts.BaseDir,
		uploader: opts.Uploader,
		recorder: opts.Recorder,
		quality:  quality,
		logger:   opts.Logger,
	}
}

// resolveDir - 요청 디렉토리는 BaseDir 하위로 제한
func (s *Service) resolveDir(requested string) string {
	if s.baseDir == "" {
		return ""
	}
	if requested == "" {
		return s.baseDir
	}
	return filepath.Join(s.baseDir, filepath.Clean("/"+requested))
}

// confine - dir 밖으로 나가는 대상 경로 거부
func confine(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeTarget, name)
	}
	return target, nil
}

// Export - 성공 항목을 PNG(로컬) 및/또는 WebP(스토리지)로 내보냄
func (s *Service) Export(ctx context.Context, sessionID string, items []layout.WorkItem, assets layout.GlobalAssets, req layout.ExportRequest) (layout.ExportResult, error) {
	local := req.Local || !req.Upload
	dir := ""
	if local {
		dir = s.resolveDir(req.Directory)
	}
	upload := req.Upload && s.uploader != nil

	if dir == "" && !upload {
		return layout.ExportResult{}, ErrNoTarget
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return layout.ExportResult{}, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	s.logger.Info().
		Str("session", sessionID).
		Int("items", len(items)).
		Str("dir", dir).
		Bool("upload", upload).
		Msg("📦 [Export] Starting export")

	prefix := SafeSegment(sessionID)
	if prefix == "" {
		return layout.ExportResult{}, fmt.Errorf("%w: session %q", ErrUnsafeTarget, sessionID)
	}

	names := NewNameAllocator()
	result := layout.ExportResult{Directory: dir, Files: make([]layout.ExportedFile, 0, len(items))}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if item.ResultImage.IsZero() {
			continue
		}

		base := names.FileBase(item.ID, item.Filename, assets.FilenamePattern)

		img, err := utils.DecodeImage(item.ResultImage.Data)
		if err != nil {
			return result, fmt.Errorf("item %s: %w", item.ID, err)
		}
		img = utils.ResizeForExport(img, assets.ExportWidth, assets.ExportHeight)

		file := layout.ExportedFile{ItemID: item.ID, Name: base + ".png"}

		if dir != "" {
			pngBytes, err := utils.EncodePNG(img)
			if err != nil {
				return result, fmt.Errorf("item %s: %w", item.ID, err)
			}
			target, err := confine(dir, file.Name)
			if err != nil {
				return result, fmt.Errorf("item %s: %w", item.ID, err)
			}
			if err := os.WriteFile(target, pngBytes, 0o644); err != nil {
				return result, fmt.Errorf("failed to write %s: %w", target, err)
			}
			file.Path = target
			file.Bytes = len(pngBytes)
		}

		if upload {
			webpBytes, err := utils.EncodeWebP(img, s.quality)
			if err != nil {
				return result, fmt.Errorf("item %s: %w", item.ID, err)
			}
			objectPath := path.Join("layout", prefix, base+".webp")
			stored, err := s.uploader.Upload(ctx, objectPath, "image/webp", webpBytes)
			if err != nil {
				return result, fmt.Errorf("item %s: %w", item.ID, err)
			}
			file.URL = s.uploader.PublicURL(stored)
			if file.Bytes == 0 {
				file.Bytes = len(webpBytes)
			}

			if s.recorder != nil {
				rec := database.ExportRecord{
					SessionID: sessionID,
					ItemID:    item.ID,
					FileName:  base + ".webp",
					FilePath:  stored,
					FileSize:  int64(len(webpBytes)),
					FileType:  "image/webp",
				}
				if err := s.recorder.InsertExport(ctx, rec); err != nil {
					// 업로드는 끝났으므로 기록 실패는 경고만
					s.logger.Warn().Err(err).Str("item", item.ID).Msg("⚠️  [Export] Failed to record export")
				}
			}
		}

		result.Files = append(result.Files, file)
		s.logger.Info().Str("item", item.ID).Str("name", file.Name).Msg("✅ [Export] File exported")
	}

	return result, nil
}
