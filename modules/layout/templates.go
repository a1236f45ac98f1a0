package layout

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/model"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Template - 지시문 템플릿
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// TemplateRegistry - ID 로 지시문 템플릿을 조회
type TemplateRegistry interface {
	Get(ctx context.Context, id string) (Template, error)
	List(ctx context.Context) ([]Template, error)
}

// TemplateSource - 외부 저장소에 등록된 템플릿 (Supabase 등)
type TemplateSource interface {
	FetchTemplates(ctx context.Context) ([]Template, error)
}

var builtinTemplates = []struct {
	id   string
	name string
}{
	{"default", "Editor: Layout 1 (Full Details)"},
	{"default_2", "Editor: Layout 2 (Alternative)"},
	{"layout_gen", "Layout Gen: Standard Render"},
	{"blueprint_gen", "Blueprint: Sketch to Real"},
	{"auto_design", "Auto Design: Create Layout"},
}

// DefaultTemplateFor - 모드 전환 시 선택되는 기본 템플릿 ID
func DefaultTemplateFor(mode model.Mode) string {
	switch mode {
	case model.ModeBlueprint:
		return "blueprint_gen"
	case model.ModeAutoDesign:
		return "auto_design"
	case model.ModeEdit:
		return "default"
	default:
		return "layout_gen"
	}
}

// DefaultTemplateCacheTTL - 외부 템플릿 재조회 간격
const DefaultTemplateCacheTTL = 30 * time.Second

// Registry - 내장 템플릿 위에 외부 소스를 덮어쓰는 레지스트리
type Registry struct {
	builtin []Template
	source  TemplateSource
	logger  zerolog.Logger

	// 외부 조회 결과 캐시 (실패는 캐시하지 않음)
	mu        sync.Mutex
	cacheTTL  time.Duration
	now       func() time.Time
	remote    []Template
	fetchedAt time.Time
}

// NewRegistry - 내장 템플릿 로드 (source 는 nil 가능)
func NewRegistry(source TemplateSource, logger zerolog.Logger) (*Registry, error) {
	builtin := make([]Template, 0, len(builtinTemplates))
	for _, t := range builtinTemplates {
		content, err := promptFS.ReadFile("prompts/" + t.id + ".txt")
		if err != nil {
			return nil, fmt.Errorf("failed to read builtin template %s: %w", t.id, err)
		}
		builtin = append(builtin, Template{ID: t.id, Name: t.name, Content: string(content)})
	}
	return &Registry{
		builtin:  builtin,
		source:   source,
		logger:   logger,
		cacheTTL: DefaultTemplateCacheTTL,
		now:      time.Now,
	}, nil
}

// SetCacheTTL - 0 이하면 매번 외부 소스 조회
func (r *Registry) SetCacheTTL(ttl time.Duration) {
	r.mu.Lock()
	r.cacheTTL = ttl
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Registry) fetchRemote(ctx context.Context) ([]Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheTTL > 0 && !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < r.cacheTTL {
		return r.remote, nil
	}
	remote, err := r.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}
	r.remote = remote
	r.fetchedAt = r.now()
	return remote, nil
}

// List - 내장 + 외부 템플릿 (같은 ID 는 외부가 우선)
func (r *Registry) List(ctx context.Context) ([]Template, error) {
	out := make([]Template, len(r.builtin))
	copy(out, r.builtin)

	if r.source == nil {
		return out, nil
	}

	remote, err := r.fetchRemote(ctx)
	if err != nil {
		// 외부 소스 장애 시 내장 템플릿만으로 계속 진행
		r.logger.Warn().Err(err).Msg("⚠️  [Templates] Remote templates unavailable, using builtin set")
		return out, nil
	}

	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.ID] = i
	}
	for _, t := range remote {
		if t.ID == "" {
			continue
		}
		if i, ok := index[t.ID]; ok {
			out[i] = t
			continue
		}
		index[t.ID] = len(out)
		out = append(out, t)
	}
	return out, nil
}

// Get - ID 로 템플릿 조회
func (r *Registry) Get(ctx context.Context, id string) (Template, error) {
	templates, err := r.List(ctx)
	if err != nil {
		return Template{}, err
	}
	for _, t := range templates {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}
