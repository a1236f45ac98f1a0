package layout

import (
	"context"

	"layout-studio-server/modules/common/database"
)

// PromptFetcher - database.Client
type PromptFetcher interface {
	FetchPrompts(ctx context.Context) ([]database.PromptRow, error)
}

// SupabaseTemplateSource - layout_prompts 테이블을 TemplateSource 로 노출
type SupabaseTemplateSource struct {
	db PromptFetcher
}

func NewSupabaseTemplateSource(db PromptFetcher) *SupabaseTemplateSource {
	return &SupabaseTemplateSource{db: db}
}

func (s *SupabaseTemplateSource) FetchTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.FetchPrompts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(rows))
	for _, row := range rows {
		if row.Content == "" {
			continue
		}
		name := row.PromptName
		if name == "" {
			name = row.PromptID
		}
		out = append(out, Template{ID: row.PromptID, Name: name, Content: row.Content})
	}
	return out, nil
}
