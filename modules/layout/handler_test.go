package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/gemini"
)

type fakeExporter struct {
	items []WorkItem
	req   ExportRequest
}

func (f *fakeExporter) Export(ctx context.Context, sessionID string, items []WorkItem, assets GlobalAssets, req ExportRequest) (ExportResult, error) {
	f.items = items
	f.req = req
	files := make([]ExportedFile, 0, len(items))
	for _, it := range items {
		files = append(files, ExportedFile{ItemID: it.ID, Name: it.ID + ".png"})
	}
	return ExportResult{Files: files}, nil
}

type handlerEnv struct {
	router   *mux.Router
	sessions *SessionManager
	store    *MemoryStore
	gen      *fakeGenerator
	exporter *fakeExporter
}

func newHandlerEnv(t *testing.T, generate func(n int, req gemini.Request) (string, error)) *handlerEnv {
	t.Helper()
	registry, err := NewRegistry(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	env := &handlerEnv{
		store:    NewMemoryStore(),
		gen:      &fakeGenerator{generate: generate},
		exporter: &fakeExporter{},
	}
	factory := func(sessionID string, notifier Notifier) *Controller {
		return NewController(ControllerOptions{
			SessionID:   sessionID,
			Generator:   env.gen,
			Templates:   registry,
			Credentials: env.store,
			Assets:      env.store,
			Stop:        env.store,
			Notifier:    notifier,
			Logger:      zerolog.Nop(),
		})
	}
	env.sessions = NewSessionManager(factory, time.Hour, env.store.Forget, zerolog.Nop())

	h := NewHandler(HandlerOptions{
		Sessions:    env.sessions,
		Templates:   registry,
		Credentials: env.store,
		Exporter:    env.exporter,
		Logger:      zerolog.Nop(),
	})
	env.router = mux.NewRouter()
	h.RegisterRoutes(env.router)
	return env
}

func (e *handlerEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func uploadBody(names ...string) map[string]interface{} {
	items := make([]map[string]string, 0, len(names))
	for _, n := range names {
		items = append(items, map[string]string{"filename": n, "image": img("src-" + n).DataURL()})
	}
	return map[string]interface{}{"items": items}
}

func decodeItems(t *testing.T, rec *httptest.ResponseRecorder) []ItemView {
	t.Helper()
	var views []ItemView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	return views
}

func TestHandlerEnqueueAndList(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	rec := env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("front_01.png", "back.png"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	added := decodeItems(t, rec)
	if len(added) != 2 || added[0].Title != "front 01" || added[0].Status != StatusPending {
		t.Fatalf("added = %+v", added)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/s1/items", nil)
	if got := decodeItems(t, rec); len(got) != 2 {
		t.Fatalf("listed %d items, want 2", len(got))
	}

	// 다른 세션은 분리
	rec = env.do(t, http.MethodGet, "/api/sessions/s2/items", nil)
	if got := decodeItems(t, rec); len(got) != 0 {
		t.Fatalf("session s2 has %d items", len(got))
	}
}

func TestHandlerEnqueueRejections(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	names := make([]string, 11)
	for i := range names {
		names[i] = fmt.Sprintf("%d.png", i)
	}
	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"over capacity", uploadBody(names...), http.StatusBadRequest},
		{"empty list", map[string]interface{}{"items": []interface{}{}}, http.StatusBadRequest},
		{"missing image", map[string]interface{}{"items": []map[string]string{{"filename": "a.png"}}}, http.StatusBadRequest},
		{"not an image", map[string]interface{}{"items": []map[string]string{{"filename": "a.txt", "image": "data:text/plain;base64,aGk="}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/sessions/s1/items", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	session, _ := env.sessions.Get("s1")
	if n := len(session.Controller.Items()); n != 0 {
		t.Fatalf("rejected uploads left %d items", n)
	}
}

func TestHandlerItemErrors(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	rec := env.do(t, http.MethodPatch, "/api/sessions/s1/items/missing", map[string]string{"title": "x"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("patch missing status = %d", rec.Code)
	}

	env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("a.png"))
	id := env.sessionItems(t, "s1")[0].ID

	rec = env.do(t, http.MethodPost, "/api/sessions/s1/items/"+id+"/refine", map[string]string{"instruction": "brighter"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("refine without result status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/sessions/s1/export", ExportRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("export without results status = %d", rec.Code)
	}
}

func (e *handlerEnv) sessionItems(t *testing.T, sid string) []WorkItem {
	t.Helper()
	session, ok := e.sessions.Get(sid)
	if !ok {
		t.Fatalf("session %s not created", sid)
	}
	return session.Controller.Items()
}

func (e *handlerEnv) waitIdle(t *testing.T, sid string) {
	t.Helper()
	session, _ := e.sessions.Get(sid)
	deadline := time.Now().Add(5 * time.Second)
	for session.Controller.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("session %s still %s", sid, session.Controller.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerProcessRefineExport(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	rec := env.do(t, http.MethodPut, "/api/sessions/s1/assets", map[string]string{"mode": "edit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assets status = %d (%s)", rec.Code, rec.Body.String())
	}
	var assets AssetsView
	json.NewDecoder(rec.Body).Decode(&assets)
	if assets.ActivePromptID != "default" {
		t.Fatalf("template after mode switch = %s", assets.ActivePromptID)
	}

	env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("a.png", "b.png"))

	rec = env.do(t, http.MethodPost, "/api/sessions/s1/process", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("process status = %d (%s)", rec.Code, rec.Body.String())
	}
	env.waitIdle(t, "s1")

	items := env.sessionItems(t, "s1")
	for _, it := range items {
		if it.Status != StatusSuccess {
			t.Fatalf("%s status = %s", it.ID, it.Status)
		}
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/s1/items/"+items[0].ID+"/refine", map[string]string{"instruction": "make it warmer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("refine status = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/s1/export", ExportRequest{Upload: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d (%s)", rec.Code, rec.Body.String())
	}
	if len(env.exporter.items) != 2 || !env.exporter.req.Upload {
		t.Fatalf("exporter got %d items, req %+v", len(env.exporter.items), env.exporter.req)
	}
}

func TestHandlerRefineFailureReturnsItem(t *testing.T) {
	env := newHandlerEnv(t, func(n int, _ gemini.Request) (string, error) {
		if n == 1 {
			return resultURL("first"), nil
		}
		return "", fmt.Errorf("%w after 10 attempts: overloaded", gemini.ErrRetriesExhausted)
	})
	env.do(t, http.MethodPut, "/api/sessions/s1/assets", map[string]string{"mode": "edit"})
	env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("a.png"))
	env.do(t, http.MethodPost, "/api/sessions/s1/process", nil)
	env.waitIdle(t, "s1")
	id := env.sessionItems(t, "s1")[0].ID

	rec := env.do(t, http.MethodPost, "/api/sessions/s1/items/"+id+"/refine", map[string]string{"instruction": "x"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp refineResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Item.Status != StatusSuccess || resp.Item.ResultImage == "" || resp.Error == "" {
		t.Fatalf("refine failure response = %+v", resp)
	}
}

func TestHandlerProcessBusy(t *testing.T) {
	release := make(chan struct{})
	env := newHandlerEnv(t, func(int, gemini.Request) (string, error) {
		<-release
		return resultURL("ok"), nil
	})
	env.do(t, http.MethodPut, "/api/sessions/s1/assets", map[string]string{"mode": "edit"})
	env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("a.png"))

	if rec := env.do(t, http.MethodPost, "/api/sessions/s1/process", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("first process status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/sessions/s1/process", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second process status = %d, want 409", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/sessions/s1/items", nil); rec.Code != http.StatusConflict {
		t.Fatalf("clear while batching status = %d, want 409", rec.Code)
	}
	close(release)
	env.waitIdle(t, "s1")
}

func TestHandlerProcessWithoutReference(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)
	env.do(t, http.MethodPost, "/api/sessions/s1/items", uploadBody("a.png"))

	rec := env.do(t, http.MethodPost, "/api/sessions/s1/process", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
	}
	session, _ := env.sessions.Get("s1")
	if session.Controller.State() != StateIdle {
		t.Fatalf("state = %s after rejected start", session.Controller.State())
	}
	if env.gen.calls() != 0 {
		t.Fatalf("generator called %d times", env.gen.calls())
	}
	if it := env.sessionItems(t, "s1")[0]; it.Status != StatusPending {
		t.Fatalf("status = %s, want pending", it.Status)
	}
}

func TestHandlerCredential(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	if rec := env.do(t, http.MethodPut, "/api/sessions/s1/credential", map[string]string{"apiKey": " "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank key status = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPut, "/api/sessions/s1/credential", map[string]string{"apiKey": "user-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("user-key")) {
		t.Fatal("response echoed the credential")
	}
	if key, _ := env.store.Get(context.Background(), "s1"); key != "user-key" {
		t.Fatalf("stored key = %q", key)
	}

	if rec := env.do(t, http.MethodDelete, "/api/sessions/s1/credential", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if key, _ := env.store.Get(context.Background(), "s1"); key != "" {
		t.Fatalf("key not deleted: %q", key)
	}
}

func TestHandlerRejectsUnsafeSessionID(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)
	long := strings.Repeat("a", 65)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"dots", http.MethodPost, "/api/sessions/a..b/export"},
		{"dot segment", http.MethodGet, "/api/sessions/x.y/items"},
		{"backslash", http.MethodGet, "/api/sessions/a%5Cb/assets"},
		{"too long", http.MethodGet, "/api/sessions/" + long},
		{"websocket", http.MethodGet, "/ws?session=../x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, tt.method, tt.path, nil); rec.Code != http.StatusBadRequest {
				t.Fatalf("%s %s status = %d, want 400", tt.method, tt.path, rec.Code)
			}
		})
	}
	if env.sessions.Count() != 0 {
		t.Fatalf("sessions created for invalid ids: %d", env.sessions.Count())
	}

	if rec := env.do(t, http.MethodGet, "/api/sessions/Shop_01-a/items", nil); rec.Code != http.StatusOK {
		t.Fatalf("valid id status = %d", rec.Code)
	}
}

func TestHandlerAssetsValidation(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"bad mode", map[string]interface{}{"mode": "collage"}, http.StatusBadRequest},
		{"bad resolution", map[string]interface{}{"resolution": "8K"}, http.StatusBadRequest},
		{"bad pattern", map[string]interface{}{"filenamePattern": "(\\d"}, http.StatusBadRequest},
		{"unknown template", map[string]interface{}{"activePromptId": "nope"}, http.StatusNotFound},
		{"negative width", map[string]interface{}{"exportWidth": -1}, http.StatusBadRequest},
		{"logo set", map[string]interface{}{"logo": img("logo").DataURL()}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPut, "/api/sessions/s1/assets", tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/sessions/s1/assets", nil)
	var assets AssetsView
	json.NewDecoder(rec.Body).Decode(&assets)
	if assets.Logo == "" || assets.Mode != "reference" {
		t.Fatalf("assets = %+v", assets)
	}
}

func TestHandlerListTemplatesOmitsContent(t *testing.T) {
	env := newHandlerEnv(t, alwaysSucceed)

	rec := env.do(t, http.MethodGet, "/api/templates", nil)
	var templates []Template
	if err := json.NewDecoder(rec.Body).Decode(&templates); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(templates) != 5 {
		t.Fatalf("templates = %d, want 5", len(templates))
	}
	for _, tmpl := range templates {
		if tmpl.Content != "" {
			t.Fatalf("template %s leaked content", tmpl.ID)
		}
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrItemNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", ErrBusy), http.StatusConflict},
		{ErrCapacityExceeded, http.StatusBadRequest},
		{gemini.ErrInvalidCredential, http.StatusUnauthorized},
		{gemini.ErrNoImageReturned, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
