package layout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session - 세션 하나 (큐 컨트롤러 + 웹소켓 허브)
type Session struct {
	ID         string
	Controller *Controller
	Hub        *Hub

	mutex        sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time
}

func (s *Session) touch() {
	s.mutex.Lock()
	s.lastActivity = time.Now()
	s.mutex.Unlock()
}

// ControllerFactory - 세션별 Controller 생성 (허브를 Notifier 로 받는다)
type ControllerFactory func(sessionID string, notifier Notifier) *Controller

// SessionInfo - 세션 상태 요약
type SessionInfo struct {
	SessionID    string       `json:"sessionId"`
	State        SessionState `json:"state"`
	Items        int          `json:"items"`
	Clients      int          `json:"clients"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

// SessionManager - 세션 ID → Session
type SessionManager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
	factory  ControllerFactory
	ttl      time.Duration
	onForget func(sessionID string)
	logger   zerolog.Logger
}

// NewSessionManager - onForget 은 세션 정리 시 호출 (nil 가능)
func NewSessionManager(factory ControllerFactory, ttl time.Duration, onForget func(string), logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		factory:  factory,
		ttl:      ttl,
		onForget: onForget,
		logger:   logger,
	}
}

// GetOrCreate - 세션 가져오기 또는 생성 (생성 시 저장된 설정 복원)
func (sm *SessionManager) GetOrCreate(ctx context.Context, sessionID string) *Session {
	sm.mutex.Lock()
	session, exists := sm.sessions[sessionID]
	if !exists {
		hub := NewHub(sessionID, sm.logger.With().Str("session", sessionID).Logger())
		now := time.Now()
		session = &Session{
			ID:           sessionID,
			Controller:   sm.factory(sessionID, hub),
			Hub:          hub,
			createdAt:    now,
			lastActivity: now,
		}
		sm.sessions[sessionID] = session
	}
	sm.mutex.Unlock()

	if !exists {
		if err := session.Controller.LoadAssets(ctx); err != nil {
			sm.logger.Warn().Err(err).Str("session", sessionID).Msg("⚠️  [Session] Using default assets")
		}
		sm.logger.Info().Str("session", sessionID).Int("active", sm.Count()).Msg("✅ [Session] Created")
	}

	session.touch()
	return session
}

// Get - 기존 세션 조회
func (sm *SessionManager) Get(sessionID string) (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	s, ok := sm.sessions[sessionID]
	return s, ok
}

// Count - 활성 세션 수
func (sm *SessionManager) Count() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.sessions)
}

// Info - 세션 요약
func (s *Session) Info() SessionInfo {
	s.mutex.RLock()
	created, last := s.createdAt, s.lastActivity
	s.mutex.RUnlock()
	return SessionInfo{
		SessionID:    s.ID,
		State:        s.Controller.State(),
		Items:        len(s.Controller.Items()),
		Clients:      s.Hub.ClientCount(),
		CreatedAt:    created,
		LastActivity: last,
	}
}

// CleanupExpired - TTL 동안 활동이 없고 Idle 이며 연결이 없는 세션 정리
func (sm *SessionManager) CleanupExpired(now time.Time) int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	cleaned := 0
	for id, session := range sm.sessions {
		session.mutex.RLock()
		inactive := now.Sub(session.lastActivity) > sm.ttl
		session.mutex.RUnlock()

		if !inactive || session.Controller.State() != StateIdle || session.Hub.ClientCount() > 0 {
			continue
		}
		session.Hub.Close()
		delete(sm.sessions, id)
		if sm.onForget != nil {
			sm.onForget(id)
		}
		cleaned++
		sm.logger.Info().Str("session", id).Msg("🧹 [Session] Cleaned up inactive session")
	}

	if cleaned > 0 {
		sm.logger.Info().Int("cleaned", cleaned).Int("active", len(sm.sessions)).Msg("🧼 [Session] Cleanup finished")
	}
	return cleaned
}

// StartCleanupRoutine - 주기적 정리 (ctx 종료 시 멈춤)
func (sm *SessionManager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sm.CleanupExpired(now)
			}
		}
	}()
	sm.logger.Info().Dur("interval", interval).Dur("ttl", sm.ttl).Msg("🔄 [Session] Started cleanup routine")
}
