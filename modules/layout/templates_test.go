package layout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/database"
)

type countingSource struct {
	mu        sync.Mutex
	fetches   int
	templates []Template
	err       error
}

func (s *countingSource) FetchTemplates(ctx context.Context) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.templates, s.err
}

func newCachedRegistry(t *testing.T, source TemplateSource, clock *fakeClock) *Registry {
	t.Helper()
	r, err := NewRegistry(source, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	r.now = clock.Now
	return r
}

func TestRegistryRemoteOverridesBuiltin(t *testing.T) {
	src := &countingSource{templates: []Template{
		{ID: "layout_gen", Name: "Remote Layout", Content: "remote body"},
		{ID: "seasonal", Name: "Seasonal", Content: "winter"},
		{ID: "", Name: "ignored", Content: "x"},
	}}
	r := newCachedRegistry(t, src, &fakeClock{now: time.Unix(0, 0)})

	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != len(builtinTemplates)+1 {
		t.Fatalf("templates = %d, want %d", len(list), len(builtinTemplates)+1)
	}
	got, err := r.Get(context.Background(), "layout_gen")
	if err != nil || got.Content != "remote body" {
		t.Fatalf("Get(layout_gen) = %+v, %v", got, err)
	}
	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestRegistryCachesRemoteTemplates(t *testing.T) {
	src := &countingSource{templates: []Template{{ID: "seasonal", Name: "Seasonal", Content: "winter"}}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := newCachedRegistry(t, src, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := r.Get(ctx, "seasonal"); err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
	}
	if src.fetches != 1 {
		t.Fatalf("fetches = %d, want 1 within ttl", src.fetches)
	}

	clock.Advance(DefaultTemplateCacheTTL)
	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if src.fetches != 2 {
		t.Fatalf("fetches = %d, want refetch after ttl", src.fetches)
	}

	r.SetCacheTTL(0)
	r.List(ctx)
	r.List(ctx)
	if src.fetches != 4 {
		t.Fatalf("fetches = %d, want every call without cache", src.fetches)
	}
}

func TestRegistryFallsBackWithoutCachingFailure(t *testing.T) {
	src := &countingSource{err: errors.New("supabase down")}
	r := newCachedRegistry(t, src, &fakeClock{now: time.Unix(0, 0)})
	ctx := context.Background()

	list, err := r.List(ctx)
	if err != nil || len(list) != len(builtinTemplates) {
		t.Fatalf("List = %d templates, %v", len(list), err)
	}

	src.err = nil
	src.templates = []Template{{ID: "seasonal", Content: "winter"}}
	if _, err := r.Get(ctx, "seasonal"); err != nil {
		t.Fatalf("recovered source not consulted: %v", err)
	}
	if src.fetches != 2 {
		t.Fatalf("fetches = %d, want 2", src.fetches)
	}
}

type fakePrompts struct{ rows []database.PromptRow }

func (f fakePrompts) FetchPrompts(ctx context.Context) ([]database.PromptRow, error) {
	return f.rows, nil
}

func TestSupabaseTemplateSource(t *testing.T) {
	src := NewSupabaseTemplateSource(fakePrompts{rows: []database.PromptRow{
		{PromptID: "a", PromptName: "Alpha", Content: "body a"},
		{PromptID: "b", Content: "body b"},
		{PromptID: "c", PromptName: "Empty"},
	}})

	got, err := src.FetchTemplates(context.Background())
	if err != nil {
		t.Fatalf("FetchTemplates returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("templates = %+v", got)
	}
	if got[0].Name != "Alpha" || got[1].Name != "b" {
		t.Fatalf("names = %q, %q", got[0].Name, got[1].Name)
	}
}
