package layout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/gemini"
	"layout-studio-server/modules/common/model"
)

// Generator - 생성 호출 1회 (재시도 포함)
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Notifier - 진행 상황 콜백
type Notifier interface {
	ItemUpdated(item WorkItem)
	ItemFocused(id string)
	BatchFinished(summary BatchSummary)
	CredentialInvalid()
	// QueueChanged - 항목 삭제/비우기 후 남은 큐 전체
	QueueChanged(items []WorkItem)
}

type nopNotifier struct{}

func (nopNotifier) ItemUpdated(WorkItem)       {}
func (nopNotifier) ItemFocused(string)         {}
func (nopNotifier) BatchFinished(BatchSummary) {}
func (nopNotifier) CredentialInvalid()         {}
func (nopNotifier) QueueChanged([]WorkItem)    {}

// ControllerOptions - Controller 의존성
type ControllerOptions struct {
	SessionID   string
	MaxSize     int
	ItemDelay   time.Duration
	Generator   Generator
	Templates   TemplateRegistry
	Credentials CredentialStore
	Assets      AssetStore
	Stop        StopSignal
	Notifier    Notifier
	Logger      zerolog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	NewID func() string
}

// Controller - 세션 하나의 작업 큐와 상태 머신
type Controller struct {
	mu        sync.Mutex
	sessionID string
	items     []*WorkItem
	assets    GlobalAssets
	state     SessionState
	focusedID string

	maxSize     int
	itemDelay   time.Duration
	generator   Generator
	templates   TemplateRegistry
	credentials CredentialStore
	assetStore  AssetStore
	stop        StopSignal
	notifier    Notifier
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewController - Controller 생성
func NewController(opts ControllerOptions) *Controller {
	c := &Controller{
		sessionID:   opts.SessionID,
		assets:      DefaultAssets(),
		state:       StateIdle,
		maxSize:     opts.MaxSize,
		itemDelay:   opts.ItemDelay,
		generator:   opts.Generator,
		templates:   opts.Templates,
		credentials: opts.Credentials,
		assetStore:  opts.Assets,
		stop:        opts.Stop,
		notifier:    opts.Notifier,
		logger:      opts.Logger.With().Str("session", opts.SessionID).Logger(),
		now:         opts.Now,
		sleep:       opts.Sleep,
		newID:       opts.NewID,
	}
	if c.maxSize <= 0 {
		c.maxSize = DefaultMaxQueueSize
	}
	if c.itemDelay < 0 {
		c.itemDelay = 0
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.credentials == nil || c.assetStore == nil || c.stop == nil {
		mem := NewMemoryStore()
		if c.credentials == nil {
			c.credentials = mem
		}
		if c.assetStore == nil {
			c.assetStore = mem
		}
		if c.stop == nil {
			c.stop = mem
		}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// SessionID - 세션 ID
func (c *Controller) SessionID() string {
	return c.sessionID
}

// ============================================================
// 조회
// ============================================================

// Items - 큐 스냅샷 (등록 순서)
func (c *Controller) Items() []WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []WorkItem {
	out := make([]WorkItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.Clone())
	}
	return out
}

// Item - 단일 항목 조회
func (c *Controller) Item(id string) (WorkItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, _ := c.find(id)
	if it == nil {
		return WorkItem{}, ErrItemNotFound
	}
	return it.Clone(), nil
}

// State - 현재 세션 상태
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Focused - 마지막으로 디스패치된 항목
func (c *Controller) Focused() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusedID
}

func (c *Controller) find(id string) (*WorkItem, int) {
	for i, it := range c.items {
		if it.ID == id {
			return it, i
		}
	}
	return nil, -1
}

// ============================================================
// 큐 편집
// ============================================================

// TitleFromFilename - 확장자 제거 후 -, _ 를 공백으로
func TitleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.NewReplacer("-", " ", "_", " ").Replace(base)
}

// Enqueue - 업로드 목록을 pending 항목으로 추가 (용량 초과 시 전체 거절)
func (c *Controller) Enqueue(uploads []Upload) ([]WorkItem, error) {
	for i, u := range uploads {
		if u.Image.IsZero() {
			return nil, fmt.Errorf("%w: upload %d", ErrMissingInput, i+1)
		}
	}

	c.mu.Lock()
	if len(c.items)+len(uploads) > c.maxSize {
		size := len(c.items)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d queued + %d new > %d", ErrCapacityExceeded, size, len(uploads), c.maxSize)
	}

	added := make([]WorkItem, 0, len(uploads))
	for _, u := range uploads {
		it := &WorkItem{
			ID:          c.newID(),
			Filename:    u.Filename,
			SourceImage: u.Image.Clone(),
			Status:      StatusPending,
			ModeData:    ModeData{Title: TitleFromFilename(u.Filename), Attributes: []Attribute{}},
		}
		c.items = append(c.items, it)
		added = append(added, it.Clone())
	}
	if c.focusedID == "" && len(added) > 0 {
		c.focusedID = added[0].ID
	}
	c.mu.Unlock()

	c.logger.Info().Int("added", len(added)).Msg("📥 [Queue] Items enqueued")
	for _, it := range added {
		c.notifier.ItemUpdated(it)
	}
	return added, nil
}

// AddEmpty - 이미지 없는 자리표시 항목 추가 ("Product N")
func (c *Controller) AddEmpty() (WorkItem, error) {
	c.mu.Lock()
	if len(c.items) >= c.maxSize {
		c.mu.Unlock()
		return WorkItem{}, fmt.Errorf("%w: max %d", ErrCapacityExceeded, c.maxSize)
	}
	it := &WorkItem{
		ID:       c.newID(),
		Status:   StatusPending,
		ModeData: ModeData{Title: fmt.Sprintf("Product %d", len(c.items)+1), Attributes: []Attribute{}},
	}
	c.items = append(c.items, it)
	c.focusedID = it.ID
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)
	return out, nil
}

// SetSourceImage - 항목에 원본 이미지 지정 (기본 제목이면 파일명으로 교체)
func (c *Controller) SetSourceImage(id string, upload Upload) (WorkItem, error) {
	if upload.Image.IsZero() {
		return WorkItem{}, ErrMissingInput
	}

	c.mu.Lock()
	it, idx := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return WorkItem{}, ErrItemNotFound
	}
	if it.Status == StatusProcessing {
		c.mu.Unlock()
		return WorkItem{}, ErrBusy
	}
	it.SourceImage = upload.Image.Clone()
	it.Filename = upload.Filename
	if it.ModeData.Title == fmt.Sprintf("Product %d", idx+1) && upload.Filename != "" {
		it.ModeData.Title = TitleFromFilename(upload.Filename)
	}
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)
	return out, nil
}

// UpdateModeData - 제목/속성/지시문 부분 갱신
func (c *Controller) UpdateModeData(id string, patch ModeDataPatch) (WorkItem, error) {
	c.mu.Lock()
	it, _ := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return WorkItem{}, ErrItemNotFound
	}
	if patch.Title != nil {
		it.ModeData.Title = *patch.Title
	}
	if patch.Attributes != nil {
		attrs := make([]Attribute, len(patch.Attributes))
		for i, a := range patch.Attributes {
			if a.ID == "" {
				a.ID = c.newID()
			}
			attrs[i] = Attribute{ID: a.ID, Text: a.Text, Icon: a.Icon.Clone()}
		}
		it.ModeData.Attributes = attrs
	}
	if patch.UserInstructions != nil {
		it.ModeData.UserInstructions = *patch.UserInstructions
	}
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)
	return out, nil
}

// Remove - 항목 삭제 (처리 중인 항목은 불가)
func (c *Controller) Remove(id string) error {
	c.mu.Lock()
	it, idx := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return ErrItemNotFound
	}
	if it.Status == StatusProcessing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	if c.focusedID == id {
		c.focusedID = ""
	}
	remaining := c.snapshotLocked()
	c.mu.Unlock()

	c.notifier.QueueChanged(remaining)
	return nil
}

// Clear - 큐 비우기 (Idle 상태에서만)
func (c *Controller) Clear() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.items = nil
	c.focusedID = ""
	c.mu.Unlock()

	c.notifier.QueueChanged(nil)
	return nil
}

// Regenerate - 항목을 pending 으로 되돌림 (결과/에러/소요시간 초기화)
func (c *Controller) Regenerate(id string) (WorkItem, error) {
	c.mu.Lock()
	it, _ := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return WorkItem{}, ErrItemNotFound
	}
	if it.Status == StatusProcessing {
		c.mu.Unlock()
		return WorkItem{}, ErrBusy
	}
	it.Status = StatusPending
	it.ResultImage = nil
	it.ErrorDetail = ""
	it.ElapsedSeconds = 0
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)
	return out, nil
}

// ============================================================
// GlobalAssets
// ============================================================

// Assets - 현재 세션 설정
func (c *Controller) Assets() GlobalAssets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assets.Clone()
}

// LoadAssets - 저장된 설정 복원 (세션 시작 시)
func (c *Controller) LoadAssets(ctx context.Context) error {
	assets, ok, err := c.assetStore.LoadAssets(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load assets: %w", err)
	}
	if !ok {
		return nil
	}
	normalizeAssets(&assets)
	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
	return nil
}

// UpdateAssets - 설정 변경 후 저장. 모드가 바뀌면 (템플릿을 직접 고르지 않은 경우) 기본 템플릿으로 전환하고 Idle 이면 큐를 비운다
// 저장 실패 시 메모리 상태는 이미 반영된 채 ErrAssetsNotPersisted 를 반환
func (c *Controller) UpdateAssets(ctx context.Context, mutate func(*GlobalAssets)) (GlobalAssets, error) {
	c.mu.Lock()
	next := c.assets.Clone()
	prevMode, prevPrompt := next.Mode, next.ActivePromptID
	mutate(&next)
	if !next.Mode.Valid() {
		c.mu.Unlock()
		return GlobalAssets{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, next.Mode)
	}
	if next.Resolution != "" && !next.Resolution.Valid() {
		c.mu.Unlock()
		return GlobalAssets{}, fmt.Errorf("%w: %q", ErrUnsupportedResolution, next.Resolution)
	}
	modeChanged := next.Mode != prevMode
	cleared := false
	if modeChanged {
		if next.ActivePromptID == prevPrompt {
			next.ActivePromptID = DefaultTemplateFor(next.Mode)
		}
		if c.state == StateIdle && len(c.items) > 0 {
			c.items = nil
			c.focusedID = ""
			cleared = true
		}
	}
	normalizeAssets(&next)
	c.assets = next
	out := next.Clone()
	c.mu.Unlock()

	if modeChanged {
		c.logger.Info().Str("mode", string(out.Mode)).Str("template", out.ActivePromptID).Msg("🔀 [Queue] Mode switched")
	}
	if cleared {
		c.notifier.QueueChanged(nil)
	}
	if err := c.assetStore.SaveAssets(ctx, c.sessionID, out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrAssetsNotPersisted, err)
	}
	return out, nil
}

// SetMode - 모드 전환
func (c *Controller) SetMode(ctx context.Context, mode model.Mode) (GlobalAssets, error) {
	return c.UpdateAssets(ctx, func(a *GlobalAssets) { a.Mode = mode })
}

func normalizeAssets(a *GlobalAssets) {
	if !a.Mode.Valid() {
		a.Mode = model.ModeReference
	}
	if !a.Resolution.Valid() {
		a.Resolution = model.Resolution1K
	}
	if a.ActivePromptID == "" {
		a.ActivePromptID = DefaultTemplateFor(a.Mode)
	}
	if a.FilenamePattern == "" {
		a.FilenamePattern = DefaultFilenamePattern
	}
}

// ============================================================
// 배치 처리
// ============================================================

// begin - Idle 에서만 다른 작업 시작
func (c *Controller) begin(state SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %s in progress", ErrBusy, c.state)
	}
	c.state = state
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// Stop - 다음 항목 디스패치 전에 배치를 멈추도록 요청 (진행 중 호출은 중단하지 않음)
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info().Msg("🛑 [Queue] Stop requested")
	return c.stop.Request(ctx, c.sessionID)
}

// batchPlan - 배치 시작 시점에 확정되는 입력
type batchPlan struct {
	pending  []string
	strategy Strategy
	template Template
	mode     model.Mode
}

// Process - pending 항목을 등록 순서대로 하나씩 처리
func (c *Controller) Process(ctx context.Context) (BatchSummary, error) {
	if err := c.begin(StateBatching); err != nil {
		return BatchSummary{}, err
	}
	defer c.end()

	plan, err := c.prepareBatch(ctx)
	if err != nil {
		return BatchSummary{}, err
	}
	return c.runBatch(ctx, plan)
}

// Start - 사전 조건까지 확인한 뒤 백그라운드에서 배치 실행. done 은 nil 가능
func (c *Controller) Start(ctx context.Context, done func(BatchSummary, error)) error {
	if err := c.begin(StateBatching); err != nil {
		return err
	}
	plan, err := c.prepareBatch(ctx)
	if err != nil {
		c.end()
		return err
	}
	go func() {
		summary, err := c.runBatch(ctx, plan)
		c.end()
		if err != nil {
			c.logger.Warn().Err(err).Msg("⚠️  [Queue] Batch ended with error")
		}
		if done != nil {
			done(summary, err)
		}
	}()
	return nil
}

// prepareBatch - 중단 플래그 초기화, pending 목록 확정, 모드별 사전 조건 확인
func (c *Controller) prepareBatch(ctx context.Context) (batchPlan, error) {
	if err := c.stop.Reset(ctx, c.sessionID); err != nil {
		c.logger.Warn().Err(err).Msg("⚠️  [Queue] Failed to reset stop flag")
	}

	c.mu.Lock()
	assets := c.assets.Clone()
	pending := make([]string, 0, len(c.items))
	for _, it := range c.items {
		if it.Status == StatusPending {
			pending = append(pending, it.ID)
		}
	}
	c.mu.Unlock()

	if assets.Mode == model.ModeReference && assets.Reference.IsZero() {
		return batchPlan{}, ErrMissingReference
	}
	strategy, err := StrategyFor(assets.Mode)
	if err != nil {
		return batchPlan{}, err
	}
	tmpl, err := c.templates.Get(ctx, assets.ActivePromptID)
	if err != nil {
		return batchPlan{}, err
	}
	return batchPlan{pending: pending, strategy: strategy, template: tmpl, mode: assets.Mode}, nil
}

func (c *Controller) runBatch(ctx context.Context, plan batchPlan) (BatchSummary, error) {
	var summary BatchSummary
	pending := plan.pending
	if len(pending) == 0 {
		return summary, nil
	}

	c.logger.Info().
		Int("pending", len(pending)).
		Str("mode", string(plan.mode)).
		Str("template", plan.template.ID).
		Msg("🚀 [Queue] Batch started")

	var batchErr error
	for i, id := range pending {
		if c.stop.Requested(ctx, c.sessionID) {
			summary.Stopped = true
			c.logger.Info().Int("remaining", len(pending)-i).Msg("🛑 [Queue] Batch stopped")
			break
		}
		if err := ctx.Err(); err != nil {
			batchErr = err
			break
		}

		dispatched, err := c.dispatch(ctx, id, plan.strategy, plan.template.Content)
		if !dispatched {
			if err != nil {
				summary.Failed++
			}
			continue
		}
		summary.Processed++
		if err != nil {
			summary.Failed++
			if errors.Is(err, gemini.ErrInvalidCredential) {
				summary.Aborted = true
				batchErr = err
				c.invalidateCredential(ctx)
				break
			}
		} else {
			summary.Succeeded++
		}

		if i < len(pending)-1 {
			if err := c.sleep(ctx, c.itemDelay); err != nil {
				batchErr = err
				break
			}
		}
	}

	c.logger.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Bool("stopped", summary.Stopped).
		Bool("aborted", summary.Aborted).
		Msg("🏁 [Queue] Batch finished")
	c.notifier.BatchFinished(summary)
	return summary, batchErr
}

// dispatch - 항목 하나 처리. 네트워크 호출을 했으면 dispatched=true
func (c *Controller) dispatch(ctx context.Context, id string, strategy Strategy, template string) (bool, error) {
	c.mu.Lock()
	it, _ := c.find(id)
	if it == nil || it.Status != StatusPending {
		c.mu.Unlock()
		return false, nil
	}
	if it.SourceImage.IsZero() {
		it.Status = StatusError
		it.ErrorDetail = "Missing Input Image"
		out := it.Clone()
		c.mu.Unlock()
		c.notifier.ItemUpdated(out)
		return false, ErrMissingInput
	}

	// 디스패치 시점의 설정과 입력을 캡처
	assets := c.assets.Clone()
	in := AssembleInput{
		Template:  template,
		Source:    it.SourceImage.Clone(),
		Logo:      assets.Logo,
		Reference: assets.Reference,
		ModeData:  it.ModeData.clone(),
	}
	c.focusedID = id
	it.Status = StatusProcessing
	processing := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemFocused(id)
	c.notifier.ItemUpdated(processing)

	parts, err := strategy.Assemble(in)
	if err != nil {
		c.finishItem(id, "", 0, err)
		return true, err
	}

	apiKey, err := c.credentials.Get(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("⚠️  [Queue] Credential lookup failed, using fallback")
		apiKey = ""
	}

	start := c.now()
	dataURL, err := c.generator.Generate(ctx, gemini.Request{
		Parts:      parts,
		Resolution: assets.Resolution,
		APIKey:     apiKey,
	})
	elapsed := c.now().Sub(start)

	c.finishItem(id, dataURL, elapsed, err)
	return true, err
}

func (c *Controller) finishItem(id, dataURL string, elapsed time.Duration, genErr error) {
	var result *model.Image
	if genErr == nil {
		img, err := model.ImageFromDataURL(dataURL, "image/png")
		if err != nil {
			genErr = err
		} else {
			result = img
		}
	}

	c.mu.Lock()
	it, _ := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return
	}
	if genErr != nil {
		it.Status = StatusError
		it.ResultImage = nil
		it.ElapsedSeconds = 0
		it.ErrorDetail = gemini.Sanitize(genErr.Error())
		c.logger.Error().Str("item", id).Str("error", it.ErrorDetail).Msg("❌ [Queue] Item failed")
	} else {
		it.Status = StatusSuccess
		it.ResultImage = result
		it.ErrorDetail = ""
		it.ElapsedSeconds = elapsed.Seconds()
		c.logger.Info().Str("item", id).Float64("elapsed", it.ElapsedSeconds).Msg("✅ [Queue] Item completed")
	}
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)
}

// Refine - 현재 결과 이미지를 원본으로 삼아 추가 지시문으로 재생성
// 실패해도 마지막 결과는 유지하고 에러 메시지만 붙인다
func (c *Controller) Refine(ctx context.Context, id, instruction string) (WorkItem, error) {
	if strings.TrimSpace(instruction) == "" {
		return WorkItem{}, ErrEmptyInstruction
	}
	if err := c.begin(StateRefining); err != nil {
		return WorkItem{}, err
	}
	defer c.end()

	c.mu.Lock()
	it, _ := c.find(id)
	if it == nil {
		c.mu.Unlock()
		return WorkItem{}, ErrItemNotFound
	}
	if it.ResultImage.IsZero() {
		c.mu.Unlock()
		return WorkItem{}, ErrNothingToRefine
	}
	source := &model.Image{MIMEType: "image/png", Data: it.ResultImage.Clone().Data}
	parts, err := editStrategy{}.Assemble(AssembleInput{Template: instruction, Source: source})
	if err != nil {
		c.mu.Unlock()
		return WorkItem{}, err
	}
	resolution := c.assets.Resolution
	it.Status = StatusProcessing
	c.focusedID = id
	processing := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemFocused(id)
	c.notifier.ItemUpdated(processing)

	apiKey, err := c.credentials.Get(ctx, c.sessionID)
	if err != nil {
		c.logger.Warn().Err(err).Str("item", id).Msg("⚠️  [Queue] Credential lookup failed, using fallback")
		apiKey = ""
	}

	start := c.now()
	dataURL, genErr := c.generator.Generate(ctx, gemini.Request{
		Parts:      parts,
		Resolution: resolution,
		APIKey:     apiKey,
	})
	elapsed := c.now().Sub(start)

	var result *model.Image
	if genErr == nil {
		result, genErr = model.ImageFromDataURL(dataURL, "image/png")
	}

	c.mu.Lock()
	it, _ = c.find(id)
	if it == nil {
		c.mu.Unlock()
		return WorkItem{}, ErrItemNotFound
	}
	it.Status = StatusSuccess
	if genErr != nil {
		it.ErrorDetail = gemini.Sanitize(genErr.Error())
	} else {
		it.ResultImage = result
		it.ErrorDetail = ""
		it.ElapsedSeconds = elapsed.Seconds()
	}
	out := it.Clone()
	c.mu.Unlock()

	c.notifier.ItemUpdated(out)

	if genErr != nil {
		c.logger.Error().Str("item", id).Str("error", out.ErrorDetail).Msg("❌ [Queue] Refine failed, keeping previous result")
		if errors.Is(genErr, gemini.ErrInvalidCredential) {
			c.invalidateCredential(ctx)
		}
		return out, genErr
	}
	c.logger.Info().Str("item", id).Float64("elapsed", out.ElapsedSeconds).Msg("✨ [Queue] Item refined")
	return out, nil
}

// Export - Exporting 상태를 유지한 채 성공 항목을 fn 에 전달
func (c *Controller) Export(ctx context.Context, fn func(ctx context.Context, items []WorkItem, assets GlobalAssets) error) error {
	if err := c.begin(StateExporting); err != nil {
		return err
	}
	defer c.end()

	c.mu.Lock()
	items := make([]WorkItem, 0, len(c.items))
	for _, it := range c.items {
		if it.Status == StatusSuccess && !it.ResultImage.IsZero() {
			items = append(items, it.Clone())
		}
	}
	assets := c.assets.Clone()
	c.mu.Unlock()

	return fn(ctx, items, assets)
}

func (c *Controller) invalidateCredential(ctx context.Context) {
	if err := c.credentials.Delete(ctx, c.sessionID); err != nil {
		c.logger.Warn().Err(err).Msg("⚠️  [Queue] Failed to delete rejected credential")
	}
	c.logger.Warn().Msg("🔑 [Queue] Credential rejected, cleared for session")
	c.notifier.CredentialInvalid()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
