package model

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Mode - 생성 모드
type Mode string

const (
	ModeReference  Mode = "reference"   // 레퍼런스 레이아웃 복제
	ModeBlueprint  Mode = "blueprint"   // 스케치 → 실사 렌더
	ModeAutoDesign Mode = "auto_design" // 속성 기반 자동 디자인
	ModeEdit       Mode = "edit"        // 배치 편집 (원본 + 로고 + 지시문)
)

// Valid - 지원하는 모드인지 확인
func (m Mode) Valid() bool {
	switch m {
	case ModeReference, ModeBlueprint, ModeAutoDesign, ModeEdit:
		return true
	}
	return false
}

// Resolution - 해상도 티어
type Resolution string

const (
	Resolution1K Resolution = "1K"
	Resolution2K Resolution = "2K"
	Resolution4K Resolution = "4K"
)

// Valid - 지원하는 해상도인지 확인
func (r Resolution) Valid() bool {
	switch r {
	case Resolution1K, Resolution2K, Resolution4K:
		return true
	}
	return false
}

// Image - 바이너리 이미지 + MIME 타입
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// IsZero - 비어 있는 이미지인지 확인
func (img *Image) IsZero() bool {
	return img == nil || len(img.Data) == 0
}

// DataURL - data:<mime>;base64,<payload> 형태로 변환
func (img *Image) DataURL() string {
	if img.IsZero() {
		return ""
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

// ImageFromDataURL - data URL (또는 순수 base64) 를 Image로 변환
// prefix 는 제거하고 payload 와 MIME 타입만 남긴다
func ImageFromDataURL(raw, fallbackMIME string) (*Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty image payload")
	}

	mime := fallbackMIME
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		header, body, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		payload = body
		declared := strings.TrimPrefix(header, "data:")
		declared, _, _ = strings.Cut(declared, ";")
		if declared != "" {
			mime = declared
		}
	} else if _, body, ok := strings.Cut(raw, ","); ok {
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	if mime == "" {
		mime = "image/png"
	}
	return &Image{MIMEType: mime, Data: data}, nil
}

// Clone - 깊은 복사
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	data := make([]byte, len(img.Data))
	copy(data, img.Data)
	return &Image{MIMEType: img.MIMEType, Data: data}
}

// Part - 멀티모달 요청의 한 조각 (이미지 또는 텍스트)
type Part struct {
	Image *Image
	Text  string
}

// ImagePart - 이미지 파트 생성
func ImagePart(img *Image) Part {
	return Part{Image: img}
}

// TextPart - 텍스트 파트 생성
func TextPart(text string) Part {
	return Part{Text: text}
}

// IsImage - 이미지 파트인지 확인
func (p Part) IsImage() bool {
	return p.Image != nil
}
