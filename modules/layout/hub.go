package layout

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	EventItemUpdated       = "item_updated"
	EventItemFocused       = "item_focused"
	EventBatchFinished     = "batch_finished"
	EventCredentialInvalid = "credential_invalid"
	EventSnapshot          = "snapshot"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// Event - 웹소켓으로 나가는 진행 이벤트
type Event struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	ItemID    string        `json:"itemId,omitempty"`
	Item      *ItemView     `json:"item,omitempty"`
	Items     []ItemView    `json:"items,omitempty"`
	Summary   *BatchSummary `json:"summary,omitempty"`
}

// wsClient - 연결된 브라우저 탭 하나
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub - 세션 하나의 웹소켓 클라이언트 묶음. Notifier 구현
type Hub struct {
	sessionID string
	mutex     sync.RWMutex
	clients   map[string]*wsClient
	logger    zerolog.Logger
}

// NewHub - 허브 생성
func NewHub(sessionID string, logger zerolog.Logger) *Hub {
	return &Hub{
		sessionID: sessionID,
		clients:   make(map[string]*wsClient),
		logger:    logger,
	}
}

// ClientCount - 연결 수
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) ItemUpdated(item WorkItem) {
	v := newItemView(item)
	h.broadcast(Event{Type: EventItemUpdated, ItemID: item.ID, Item: &v})
}

func (h *Hub) ItemFocused(id string) {
	h.broadcast(Event{Type: EventItemFocused, ItemID: id})
}

func (h *Hub) BatchFinished(summary BatchSummary) {
	h.broadcast(Event{Type: EventBatchFinished, Summary: &summary})
}

func (h *Hub) CredentialInvalid() {
	h.broadcast(Event{Type: EventCredentialInvalid})
}

// QueueChanged - 구조 변경은 전체 스냅샷으로 다시 보냄
func (h *Hub) QueueChanged(items []WorkItem) {
	h.broadcast(Event{Type: EventSnapshot, Items: newItemViews(items)})
}

// broadcast - 모든 클라이언트에게 전송 (버퍼가 찬 클라이언트는 끊는다)
func (h *Hub) broadcast(event Event) {
	event.SessionID = h.sessionID
	messageBytes, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("Error marshaling event")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- messageBytes:
		default:
			close(client.send)
			delete(h.clients, id)
		}
	}
}

func (h *Hub) addClient(client *wsClient) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client.id] = client
	return len(h.clients)
}

func (h *Hub) removeClient(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if client, exists := h.clients[id]; exists {
		close(client.send)
		delete(h.clients, id)
		h.logger.Info().Str("client", id).Int("remaining", len(h.clients)).Msg("👋 [WS] Client left")
	}
}

// Close - 세션 정리 시 모든 연결 종료
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// Serve - 업그레이드 후 현재 큐 스냅샷을 먼저 보내고 펌프 시작
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, snapshot []WorkItem) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}

	first, err := json.Marshal(Event{Type: EventSnapshot, SessionID: h.sessionID, Items: newItemViews(snapshot)})
	if err == nil {
		client.send <- first
	}

	count := h.addClient(client)
	h.logger.Info().Str("client", client.id).Int("clients", count).Msg("👤 [WS] Client joined")

	go client.writePump(h.logger)
	go client.readPump(h)
}

// readPump - 클라이언트 메시지는 무시하고 연결 종료만 감지
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.removeClient(c.id)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writePump - send 채널을 소켓으로 흘려보냄
func (c *wsClient) writePump(logger zerolog.Logger) {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Warn().Err(err).Msg("WebSocket write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
