package layout

import (
	"fmt"
	"strings"

	"layout-studio-server/modules/common/model"
)

// AttributeView - API 용 속성 (아이콘은 data URL)
type AttributeView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Icon string `json:"icon,omitempty"`
}

// ItemView - API/웹소켓 용 항목 표현
type ItemView struct {
	ID               string          `json:"id"`
	Filename         string          `json:"filename,omitempty"`
	Status           ItemStatus      `json:"status"`
	SourceImage      string          `json:"sourceImage,omitempty"`
	ResultImage      string          `json:"resultImage,omitempty"`
	ErrorDetail      string          `json:"errorDetail,omitempty"`
	ElapsedSeconds   float64         `json:"elapsedSeconds,omitempty"`
	Title            string          `json:"title"`
	Attributes       []AttributeView `json:"attributes"`
	UserInstructions string          `json:"userInstructions,omitempty"`
}

// AssetsView - API 용 GlobalAssets
type AssetsView struct {
	Mode            model.Mode       `json:"mode"`
	Logo            string           `json:"logo,omitempty"`
	Reference       string           `json:"reference,omitempty"`
	ActivePromptID  string           `json:"activePromptId"`
	Resolution      model.Resolution `json:"resolution"`
	FilenamePattern string           `json:"filenamePattern"`
	ExportWidth     int              `json:"exportWidth,omitempty"`
	ExportHeight    int              `json:"exportHeight,omitempty"`
}

func newItemView(it WorkItem) ItemView {
	v := ItemView{
		ID:               it.ID,
		Filename:         it.Filename,
		Status:           it.Status,
		SourceImage:      it.SourceImage.DataURL(),
		ResultImage:      it.ResultImage.DataURL(),
		ErrorDetail:      it.ErrorDetail,
		ElapsedSeconds:   it.ElapsedSeconds,
		Title:            it.ModeData.Title,
		Attributes:       make([]AttributeView, 0, len(it.ModeData.Attributes)),
		UserInstructions: it.ModeData.UserInstructions,
	}
	for _, a := range it.ModeData.Attributes {
		v.Attributes = append(v.Attributes, AttributeView{ID: a.ID, Text: a.Text, Icon: a.Icon.DataURL()})
	}
	return v
}

func newItemViews(items []WorkItem) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, newItemView(it))
	}
	return out
}

func newAssetsView(a GlobalAssets) AssetsView {
	return AssetsView{
		Mode:            a.Mode,
		Logo:            a.Logo.DataURL(),
		Reference:       a.Reference.DataURL(),
		ActivePromptID:  a.ActivePromptID,
		Resolution:      a.Resolution,
		FilenamePattern: a.FilenamePattern,
		ExportWidth:     a.ExportWidth,
		ExportHeight:    a.ExportHeight,
	}
}

// decodeOptionalImage - 빈 문자열은 nil (이미지 제거)
func decodeOptionalImage(raw string) (*model.Image, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	img, err := model.ImageFromDataURL(raw, "image/png")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return nil, fmt.Errorf("unsupported media type %q", img.MIMEType)
	}
	return img, nil
}

func attributesFromViews(views []AttributeView) ([]Attribute, error) {
	attrs := make([]Attribute, 0, len(views))
	for i, v := range views {
		icon, err := decodeOptionalImage(v.Icon)
		if err != nil {
			return nil, fmt.Errorf("attribute %d icon: %w", i+1, err)
		}
		attrs = append(attrs, Attribute{ID: v.ID, Text: v.Text, Icon: icon})
	}
	return attrs, nil
}
