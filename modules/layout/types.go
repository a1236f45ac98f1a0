package layout

import (
	"errors"

	"layout-studio-server/modules/common/model"
)

const (
	DefaultMaxQueueSize    = 10
	DefaultFilenamePattern = `(\d{8,14})`
)

var (
	ErrMissingInput     = errors.New("missing input image")
	ErrCapacityExceeded = errors.New("queue capacity exceeded")
	ErrBusy             = errors.New("session is busy")
	ErrItemNotFound     = errors.New("item not found")
	ErrMissingReference = errors.New("missing reference layout image")
	ErrNothingToRefine  = errors.New("item has no result to refine")
	ErrTemplateNotFound = errors.New("instruction template not found")
	ErrUnsupportedMode  = errors.New("unsupported generation mode")
	ErrEmptyInstruction = errors.New("refine instruction is empty")

	ErrUnsupportedResolution = errors.New("unsupported resolution")
	ErrAssetsNotPersisted    = errors.New("assets updated but not persisted")
)

// ItemStatus - 작업 항목 상태
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusSuccess    ItemStatus = "success"
	StatusError      ItemStatus = "error"
)

// SessionState - 세션 단위 활성 작업 (동시에 하나만)
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateBatching  SessionState = "batching"
	StateRefining  SessionState = "refining"
	StateExporting SessionState = "exporting"
)

// Attribute - 제품 속성 텍스트 + 선택 아이콘
type Attribute struct {
	ID   string       `json:"id"`
	Text string       `json:"text"`
	Icon *model.Image `json:"icon,omitempty"`
}

// ModeData - 레이아웃 생성 모드에서 쓰는 항목별 데이터
type ModeData struct {
	Title            string      `json:"title"`
	Attributes       []Attribute `json:"attributes"`
	UserInstructions string      `json:"userInstructions,omitempty"`
}

func (d ModeData) clone() ModeData {
	out := ModeData{Title: d.Title, UserInstructions: d.UserInstructions}
	if d.Attributes != nil {
		out.Attributes = make([]Attribute, len(d.Attributes))
		for i, a := range d.Attributes {
			out.Attributes[i] = Attribute{ID: a.ID, Text: a.Text, Icon: a.Icon.Clone()}
		}
	}
	return out
}

// WorkItem - 배치 작업 단위
type WorkItem struct {
	ID             string       `json:"id"`
	Filename       string       `json:"filename,omitempty"`
	SourceImage    *model.Image `json:"sourceImage,omitempty"`
	Status         ItemStatus   `json:"status"`
	ResultImage    *model.Image `json:"resultImage,omitempty"`
	ErrorDetail    string       `json:"errorDetail,omitempty"`
	ElapsedSeconds float64      `json:"elapsedSeconds,omitempty"`
	ModeData       ModeData     `json:"modeData"`
}

// Clone - 외부 노출용 복사본
func (it *WorkItem) Clone() WorkItem {
	out := *it
	out.SourceImage = it.SourceImage.Clone()
	out.ResultImage = it.ResultImage.Clone()
	out.ModeData = it.ModeData.clone()
	return out
}

// Upload - 업로드된 원본 이미지
type Upload struct {
	Filename string
	Image    *model.Image
}

// ModeDataPatch - UpdateModeData 부분 갱신 (nil 필드는 유지)
type ModeDataPatch struct {
	Title            *string
	Attributes       []Attribute
	UserInstructions *string
}

// GlobalAssets - 세션 전체에 공유되는 설정
type GlobalAssets struct {
	Mode            model.Mode       `json:"mode"`
	Logo            *model.Image     `json:"logo,omitempty"`
	Reference       *model.Image     `json:"reference,omitempty"`
	ActivePromptID  string           `json:"activePromptId"`
	Resolution      model.Resolution `json:"resolution"`
	FilenamePattern string           `json:"filenamePattern"`
	ExportWidth     int              `json:"exportWidth,omitempty"`
	ExportHeight    int              `json:"exportHeight,omitempty"`
}

// DefaultAssets - 새 세션 기본값 (reference 모드)
func DefaultAssets() GlobalAssets {
	return GlobalAssets{
		Mode:            model.ModeReference,
		ActivePromptID:  DefaultTemplateFor(model.ModeReference),
		Resolution:      model.Resolution1K,
		FilenamePattern: DefaultFilenamePattern,
	}
}

// Clone - 디스패치 시점 스냅샷
func (a GlobalAssets) Clone() GlobalAssets {
	a.Logo = a.Logo.Clone()
	a.Reference = a.Reference.Clone()
	return a
}

// BatchSummary - 배치 종료 요약
type BatchSummary struct {
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Stopped   bool `json:"stopped"`
	Aborted   bool `json:"aborted"`
}
