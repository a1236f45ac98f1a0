package layout

import (
	"context"
	"strings"
	"sync"
)

// CredentialStore - 세션별 사용자 API 키 저장소
type CredentialStore interface {
	Get(ctx context.Context, sessionID string) (string, error)
	Set(ctx context.Context, sessionID, apiKey string) error
	Delete(ctx context.Context, sessionID string) error
}

// AssetStore - GlobalAssets 영속화
type AssetStore interface {
	LoadAssets(ctx context.Context, sessionID string) (GlobalAssets, bool, error)
	SaveAssets(ctx context.Context, sessionID string, assets GlobalAssets) error
}

// StopSignal - 배치 중단 플래그 (루프 상단에서만 확인)
type StopSignal interface {
	Request(ctx context.Context, sessionID string) error
	Requested(ctx context.Context, sessionID string) bool
	Reset(ctx context.Context, sessionID string) error
}

// MemoryStore - Redis 가 없을 때 쓰는 프로세스 내 저장소
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]string
	assets      map[string]GlobalAssets
	stops       map[string]bool
}

// NewMemoryStore - 메모리 저장소 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]string),
		assets:      make(map[string]GlobalAssets),
		stops:       make(map[string]bool),
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials[sessionID], nil
}

func (m *MemoryStore) Set(_ context.Context, sessionID, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[sessionID] = strings.TrimSpace(apiKey)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, sessionID)
	return nil
}

func (m *MemoryStore) LoadAssets(_ context.Context, sessionID string) (GlobalAssets, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[sessionID]
	if !ok {
		return GlobalAssets{}, false, nil
	}
	return a.Clone(), true, nil
}

func (m *MemoryStore) SaveAssets(_ context.Context, sessionID string, assets GlobalAssets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[sessionID] = assets.Clone()
	return nil
}

func (m *MemoryStore) Request(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[sessionID] = true
	return nil
}

func (m *MemoryStore) Requested(_ context.Context, sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stops[sessionID]
}

func (m *MemoryStore) Reset(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, sessionID)
	return nil
}

// Forget - 세션 정리 시 관련 상태 삭제
func (m *MemoryStore) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, sessionID)
	delete(m.assets, sessionID)
	delete(m.stops, sessionID)
}
