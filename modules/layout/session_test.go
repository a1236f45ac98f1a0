package layout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestSessions(t *testing.T, ttl time.Duration, forgotten *[]string) *SessionManager {
	t.Helper()
	registry, err := NewRegistry(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	store := NewMemoryStore()
	factory := func(sessionID string, notifier Notifier) *Controller {
		return NewController(ControllerOptions{
			SessionID:   sessionID,
			Generator:   &fakeGenerator{generate: alwaysSucceed},
			Templates:   registry,
			Credentials: store,
			Assets:      store,
			Stop:        store,
			Notifier:    notifier,
			Logger:      zerolog.Nop(),
		})
	}
	return NewSessionManager(factory, ttl, func(id string) {
		*forgotten = append(*forgotten, id)
	}, zerolog.Nop())
}

func TestSessionManagerReusesSession(t *testing.T) {
	var forgotten []string
	sm := newTestSessions(t, time.Hour, &forgotten)

	a := sm.GetOrCreate(context.Background(), "s1")
	b := sm.GetOrCreate(context.Background(), "s1")
	if a != b {
		t.Fatal("GetOrCreate returned a different session for the same id")
	}
	sm.GetOrCreate(context.Background(), "s2")
	if sm.Count() != 2 {
		t.Fatalf("count = %d, want 2", sm.Count())
	}

	info := a.Info()
	if info.SessionID != "s1" || info.State != StateIdle || info.Items != 0 {
		t.Fatalf("info = %+v", info)
	}
}

func TestSessionManagerCleanupExpired(t *testing.T) {
	var forgotten []string
	sm := newTestSessions(t, time.Minute, &forgotten)

	idle := sm.GetOrCreate(context.Background(), "idle")
	sm.GetOrCreate(context.Background(), "fresh")
	idle.mutex.Lock()
	idle.lastActivity = time.Now().Add(-2 * time.Minute)
	idle.mutex.Unlock()

	if n := sm.CleanupExpired(time.Now()); n != 1 {
		t.Fatalf("cleaned = %d, want 1", n)
	}
	if _, ok := sm.Get("idle"); ok {
		t.Fatal("expired session still present")
	}
	if _, ok := sm.Get("fresh"); !ok {
		t.Fatal("active session was removed")
	}
	if len(forgotten) != 1 || forgotten[0] != "idle" {
		t.Fatalf("forgotten = %v", forgotten)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestHubSendsSnapshotThenEvents(t *testing.T) {
	var forgotten []string
	sm := newTestSessions(t, time.Hour, &forgotten)
	session := sm.GetOrCreate(context.Background(), "s1")
	if _, err := session.Controller.Enqueue([]Upload{{Filename: "a.png", Image: img("a")}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session.Hub.Serve(w, r, session.Controller.Items())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	snapshot := readEvent(t, conn)
	if snapshot.Type != EventSnapshot || len(snapshot.Items) != 1 || snapshot.SessionID != "s1" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	deadline := time.Now().Add(5 * time.Second)
	for session.Hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	session.Hub.ItemFocused("id-x")
	ev := readEvent(t, conn)
	if ev.Type != EventItemFocused || ev.ItemID != "id-x" {
		t.Fatalf("event = %+v", ev)
	}

	session.Hub.CredentialInvalid()
	if ev := readEvent(t, conn); ev.Type != EventCredentialInvalid {
		t.Fatalf("event = %+v", ev)
	}

	items := session.Controller.Items()
	if err := session.Controller.Remove(items[0].ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventSnapshot || len(ev.Items) != 0 {
		t.Fatalf("event after remove = %+v", ev)
	}
}
