package layout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/gemini"
	"layout-studio-server/modules/common/model"
)

// HandlerOptions - Handler 의존성
type HandlerOptions struct {
	Sessions    *SessionManager
	Templates   TemplateRegistry
	Credentials CredentialStore
	Exporter    Exporter
	// Background - 배치 실행용 컨텍스트 (요청 컨텍스트와 분리)
	Background context.Context
	Logger     zerolog.Logger
}

type Handler struct {
	sessions    *SessionManager
	templates   TemplateRegistry
	credentials CredentialStore
	exporter    Exporter
	background  context.Context
	logger      zerolog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	bg := opts.Background
	if bg == nil {
		bg = context.Background()
	}
	return &Handler{
		sessions:    opts.Sessions,
		templates:   opts.Templates,
		credentials: opts.Credentials,
		exporter:    opts.Exporter,
		background:  bg,
		logger:      opts.Logger,
	}
}

// RegisterRoutes - 라우터에 Layout 엔드포인트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/templates", h.ListTemplates).Methods("GET", "OPTIONS")

	s := r.PathPrefix("/api/sessions/{sid}").Subrouter()
	s.Use(h.requireSessionID)
	s.HandleFunc("", h.GetSession).Methods("GET", "OPTIONS")
	s.HandleFunc("/assets", h.GetAssets).Methods("GET", "OPTIONS")
	s.HandleFunc("/assets", h.UpdateAssets).Methods("PUT", "OPTIONS")
	s.HandleFunc("/credential", h.SetCredential).Methods("PUT", "OPTIONS")
	s.HandleFunc("/credential", h.DeleteCredential).Methods("DELETE", "OPTIONS")
	s.HandleFunc("/items", h.ListItems).Methods("GET", "OPTIONS")
	s.HandleFunc("/items", h.EnqueueItems).Methods("POST", "OPTIONS")
	s.HandleFunc("/items", h.ClearItems).Methods("DELETE", "OPTIONS")
	s.HandleFunc("/items/empty", h.AddEmptyItem).Methods("POST", "OPTIONS")
	s.HandleFunc("/items/{id}", h.UpdateItem).Methods("PATCH", "OPTIONS")
	s.HandleFunc("/items/{id}", h.RemoveItem).Methods("DELETE", "OPTIONS")
	s.HandleFunc("/items/{id}/image", h.SetItemImage).Methods("PUT", "OPTIONS")
	s.HandleFunc("/items/{id}/regenerate", h.RegenerateItem).Methods("POST", "OPTIONS")
	s.HandleFunc("/items/{id}/refine", h.RefineItem).Methods("POST", "OPTIONS")
	s.HandleFunc("/process", h.StartProcess).Methods("POST", "OPTIONS")
	s.HandleFunc("/stop", h.StopProcess).Methods("POST", "OPTIONS")
	s.HandleFunc("/export", h.ExportResults).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", h.ServeWebSocket)

	h.logger.Info().Msg("✅ [Layout] Routes registered: /api/templates, /api/sessions/{sid}/..., /ws")
}

// ============================================================
// 요청/응답 타입
// ============================================================

type uploadRequest struct {
	Filename string `json:"filename"`
	Image    string `json:"image"`
}

type enqueueRequest struct {
	Items []uploadRequest `json:"items"`
}

type itemPatchRequest struct {
	Title            *string          `json:"title"`
	Attributes       *[]AttributeView `json:"attributes"`
	UserInstructions *string          `json:"userInstructions"`
}

type assetsPatchRequest struct {
	Mode            *model.Mode       `json:"mode"`
	Logo            *string           `json:"logo"`
	Reference       *string           `json:"reference"`
	ActivePromptID  *string           `json:"activePromptId"`
	Resolution      *model.Resolution `json:"resolution"`
	FilenamePattern *string           `json:"filenamePattern"`
	ExportWidth     *int              `json:"exportWidth"`
	ExportHeight    *int              `json:"exportHeight"`
}

type credentialRequest struct {
	APIKey string `json:"apiKey"`
}

type refineRequest struct {
	Instruction string `json:"instruction"`
}

type refineResponse struct {
	Item  ItemView `json:"item"`
	Error string   `json:"error,omitempty"`
}

// ============================================================
// 공통 헬퍼
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor - 도메인 에러 → HTTP 상태 코드
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrNothingToExport), errors.Is(err, ErrNothingToRefine):
		return http.StatusConflict
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrMissingInput),
		errors.Is(err, ErrMissingReference), errors.Is(err, ErrUnsupportedMode),
		errors.Is(err, ErrUnsupportedResolution), errors.Is(err, ErrEmptyInstruction):
		return http.StatusBadRequest
	case errors.Is(err, gemini.ErrMissingCredential), errors.Is(err, gemini.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, gemini.ErrRetriesExhausted), errors.Is(err, gemini.ErrNoImageReturned):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := gemini.Sanitize(err.Error())
	if status == http.StatusInternalServerError {
		h.logger.Error().Str("error", msg).Msg("❌ [Layout] Request failed")
	}
	writeMessage(w, status, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

// sessionIDPattern - 세션 ID 는 저장소 키와 내보내기 경로에 그대로 쓰임
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidSessionID - 세션 ID 형식 검사
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func (h *Handler) requireSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ValidSessionID(mux.Vars(r)["sid"]) {
			writeMessage(w, http.StatusBadRequest, "Invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) session(r *http.Request) *Session {
	return h.sessions.GetOrCreate(r.Context(), mux.Vars(r)["sid"])
}

func toUpload(u uploadRequest) (Upload, error) {
	img, err := decodeOptionalImage(u.Image)
	if err != nil {
		return Upload{}, err
	}
	if img == nil {
		return Upload{}, ErrMissingInput
	}
	return Upload{Filename: u.Filename, Image: img}, nil
}

// ============================================================
// 템플릿 / 세션 / 설정
// ============================================================

// ListTemplates - 사용 가능한 지시문 템플릿 목록 (본문 제외)
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, Template{ID: t.ID, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session(r).Info())
}

func (h *Handler) GetAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newAssetsView(h.session(r).Controller.Assets()))
}

// UpdateAssets - 전달된 필드만 갱신. 로고/레퍼런스에 빈 문자열을 보내면 제거
func (h *Handler) UpdateAssets(w http.ResponseWriter, r *http.Request) {
	var req assetsPatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var logo, reference *model.Image
	var err error
	if req.Logo != nil {
		if logo, err = decodeOptionalImage(*req.Logo); err != nil {
			writeMessage(w, http.StatusBadRequest, "logo: "+err.Error())
			return
		}
	}
	if req.Reference != nil {
		if reference, err = decodeOptionalImage(*req.Reference); err != nil {
			writeMessage(w, http.StatusBadRequest, "reference: "+err.Error())
			return
		}
	}
	if req.FilenamePattern != nil && *req.FilenamePattern != "" {
		if _, err := regexp.Compile(*req.FilenamePattern); err != nil {
			writeMessage(w, http.StatusBadRequest, "filenamePattern: "+err.Error())
			return
		}
	}
	if req.ActivePromptID != nil {
		if _, err := h.templates.Get(r.Context(), *req.ActivePromptID); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if (req.ExportWidth != nil && *req.ExportWidth < 0) || (req.ExportHeight != nil && *req.ExportHeight < 0) {
		writeMessage(w, http.StatusBadRequest, "export dimensions must not be negative")
		return
	}

	session := h.session(r)
	assets, err := session.Controller.UpdateAssets(r.Context(), func(a *GlobalAssets) {
		if req.Mode != nil {
			a.Mode = *req.Mode
		}
		if req.Logo != nil {
			a.Logo = logo
		}
		if req.Reference != nil {
			a.Reference = reference
		}
		if req.Resolution != nil {
			a.Resolution = *req.Resolution
		}
		if req.FilenamePattern != nil {
			a.FilenamePattern = *req.FilenamePattern
		}
		if req.ExportWidth != nil {
			a.ExportWidth = *req.ExportWidth
		}
		if req.ExportHeight != nil {
			a.ExportHeight = *req.ExportHeight
		}
		if req.ActivePromptID != nil {
			a.ActivePromptID = *req.ActivePromptID
		}
	})
	if errors.Is(err, ErrAssetsNotPersisted) {
		h.logger.Warn().Err(err).Msg("⚠️  [Layout] Assets updated in memory only")
	} else if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetsView(assets))
}

// SetCredential - 세션별 사용자 API 키 저장 (응답에 키를 싣지 않음)
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeMessage(w, http.StatusBadRequest, "apiKey is required")
		return
	}
	sid := h.session(r).ID
	if err := h.credentials.Set(r.Context(), sid, key); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info().Str("session", sid).Msg("🔑 [Layout] Credential stored")
	writeJSON(w, http.StatusOK, map[string]bool{"stored": true})
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	sid := h.session(r).ID
	if err := h.credentials.Delete(r.Context(), sid); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================
// 큐 편집
// ============================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newItemViews(h.session(r).Controller.Items()))
}

// EnqueueItems - 업로드 묶음 추가 (하나라도 잘못되면 전체 거절)
func (h *Handler) EnqueueItems(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeMessage(w, http.StatusBadRequest, "items is required")
		return
	}

	uploads := make([]Upload, 0, len(req.Items))
	for _, u := range req.Items {
		upload, err := toUpload(u)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, u.Filename+": "+err.Error())
			return
		}
		uploads = append(uploads, upload)
	}

	added, err := h.session(r).Controller.Enqueue(uploads)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemViews(added))
}

func (h *Handler) ClearItems(w http.ResponseWriter, r *http.Request) {
	if err := h.session(r).Controller.Clear(); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddEmptyItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.session(r).Controller.AddEmpty()
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemView(item))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemPatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch := ModeDataPatch{Title: req.Title, UserInstructions: req.UserInstructions}
	if req.Attributes != nil {
		attrs, err := attributesFromViews(*req.Attributes)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Attributes = attrs
	}

	item, err := h.session(r).Controller.UpdateModeData(mux.Vars(r)["id"], patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.session(r).Controller.Remove(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetItemImage(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	upload, err := toUpload(req)
	if err != nil {
		if errors.Is(err, ErrMissingInput) {
			h.writeError(w, err)
			return
		}
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.session(r).Controller.SetSourceImage(mux.Vars(r)["id"], upload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) RegenerateItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.session(r).Controller.Regenerate(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(item))
}

// RefineItem - 동기 실행. 생성 실패 시 이전 결과를 유지한 항목과 에러를 함께 반환
func (h *Handler) RefineItem(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.session(r).Controller.Refine(r.Context(), mux.Vars(r)["id"], req.Instruction)
	if err != nil {
		if item.ID == "" {
			h.writeError(w, err)
			return
		}
		writeJSON(w, statusFor(err), refineResponse{Item: newItemView(item), Error: item.ErrorDetail})
		return
	}
	writeJSON(w, http.StatusOK, refineResponse{Item: newItemView(item)})
}

// ============================================================
// 배치 실행 / 중단 / 내보내기
// ============================================================

// StartProcess - 배치를 백그라운드로 시작하고 바로 202 응답. 진행 상황은 /ws 로 전달
func (h *Handler) StartProcess(w http.ResponseWriter, r *http.Request) {
	session := h.session(r)
	if err := session.Controller.Start(h.background, nil); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "started",
		"sessionId": session.ID,
	})
}

func (h *Handler) StopProcess(w http.ResponseWriter, r *http.Request) {
	if err := h.session(r).Controller.Stop(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	if h.exporter == nil {
		writeMessage(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	result, err := h.session(r).Controller.ExportWith(r.Context(), h.exporter, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ServeWebSocket - /ws?session={sid}
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("session")
	if sid == "" {
		http.Error(w, "session query parameter is required", http.StatusBadRequest)
		return
	}
	if !ValidSessionID(sid) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	session := h.sessions.GetOrCreate(r.Context(), sid)
	session.Hub.Serve(w, r, session.Controller.Items())
}
