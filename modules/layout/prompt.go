package layout

import (
	"fmt"
	"strings"

	"layout-studio-server/modules/common/model"
)

// AssembleInput - 모드별 조립기에 들어가는 입력 묶음
type AssembleInput struct {
	Template  string
	Source    *model.Image // 항목 원본 (blueprint 모드에서는 스케치)
	Logo      *model.Image
	Reference *model.Image
	ModeData  ModeData
}

// Strategy - 모드별 파트 순서 + 매핑 문구 생성
type Strategy interface {
	Mode() model.Mode
	Assemble(in AssembleInput) ([]model.Part, error)
}

// StrategyFor - 모드에 맞는 조립기 반환
func StrategyFor(mode model.Mode) (Strategy, error) {
	switch mode {
	case model.ModeReference:
		return referenceStrategy{}, nil
	case model.ModeBlueprint:
		return blueprintStrategy{}, nil
	case model.ModeAutoDesign:
		return autoDesignStrategy{}, nil
	case model.ModeEdit:
		return editStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
}

// partList - 이미지 파트를 쌓으면서 1-based 위치를 돌려준다
type partList struct {
	parts []model.Part
}

func (l *partList) addImage(img *model.Image) int {
	l.parts = append(l.parts, model.ImagePart(img))
	return len(l.parts)
}

func (l *partList) finish(text string) []model.Part {
	return append(l.parts, model.TextPart(text))
}

func hasImage(img *model.Image) bool {
	return !img.IsZero()
}

// ============================================================
// Reference: [레퍼런스, 로고?, 제품, 아이콘...]
// ============================================================

type referenceStrategy struct{}

func (referenceStrategy) Mode() model.Mode { return model.ModeReference }

func (referenceStrategy) Assemble(in AssembleInput) ([]model.Part, error) {
	if !hasImage(in.Reference) {
		return nil, ErrMissingReference
	}
	if !hasImage(in.Source) {
		return nil, ErrMissingInput
	}

	var l partList
	refIndex := l.addImage(in.Reference)
	logoIndex := 0
	if hasImage(in.Logo) {
		logoIndex = l.addImage(in.Logo)
	}
	productIndex := l.addImage(in.Source)

	var attrs strings.Builder
	attrs.WriteString("NEW ATTRIBUTES LIST & ICONS:\n")
	if len(in.ModeData.Attributes) == 0 {
		attrs.WriteString("(No specific attributes provided)\n")
	}
	for _, attr := range in.ModeData.Attributes {
		if hasImage(attr.Icon) {
			iconIndex := l.addImage(attr.Icon)
			fmt.Fprintf(&attrs, "- Text: \"%s\". Use IMAGE %d as the icon for this text.\n", attr.Text, iconIndex)
			continue
		}
		fmt.Fprintf(&attrs, "- Text: \"%s\". NO ICON PROVIDED. Please GENERATE a suitable minimalist outline icon for this attribute.\n", attr.Text)
	}

	var b strings.Builder
	b.WriteString(in.Template)
	b.WriteString("\n\n=== DATA MAPPING INSTRUCTIONS ===\n")
	fmt.Fprintf(&b, "IMAGE %d is the REFERENCE LAYOUT TEMPLATE (Must replicate structure 100%%).\n", refIndex)
	if logoIndex > 0 {
		fmt.Fprintf(&b, "IMAGE %d is the NEW LOGO (Replace logo in design).\n", logoIndex)
	}
	fmt.Fprintf(&b, "IMAGE %d is the NEW PRODUCT IMAGE (Replace product in design).\n", productIndex)
	b.WriteString("\nNEW TEXT CONTENT:\n")
	fmt.Fprintf(&b, "NEW TITLE: \"%s\"\n", in.ModeData.Title)
	b.WriteString(attrs.String())

	return l.finish(b.String()), nil
}

// ============================================================
// Blueprint: [스케치, 로고?]
// ============================================================

type blueprintStrategy struct{}

func (blueprintStrategy) Mode() model.Mode { return model.ModeBlueprint }

func (blueprintStrategy) Assemble(in AssembleInput) ([]model.Part, error) {
	if !hasImage(in.Source) {
		return nil, ErrMissingInput
	}

	var l partList
	blueprintIndex := l.addImage(in.Source)
	logoIndex := 0
	if hasImage(in.Logo) {
		logoIndex = l.addImage(in.Logo)
	}

	var b strings.Builder
	b.WriteString(in.Template)
	b.WriteString("\n\nIMAGE MAPPING:\n")
	fmt.Fprintf(&b, "- IMAGE %d is the BLUEPRINT/SKETCH/WIREFRAME. You must analyze this image to find the Header, Product Position, and Text Position.\n", blueprintIndex)
	if logoIndex > 0 {
		fmt.Fprintf(&b, "- IMAGE %d is the LOGO. Insert this logo into the Header area found in IMAGE %d.\n", logoIndex, blueprintIndex)
	}
	b.WriteString("\nNOTE: You MUST DETECT text placeholders in the Blueprint and render them realistically as described in the System Instruction.")
	if ui := in.ModeData.UserInstructions; strings.TrimSpace(ui) != "" {
		fmt.Fprintf(&b, "\n\nUSER SPECIFIC CONTEXT / INSTRUCTIONS:\n%s\n(Prioritize these details for product appearance, colors, or specific text contents).", ui)
	}

	return l.finish(b.String()), nil
}

// ============================================================
// Auto design: [제품, 로고?, 아이콘...]
// ============================================================

type autoDesignStrategy struct{}

func (autoDesignStrategy) Mode() model.Mode { return model.ModeAutoDesign }

func (autoDesignStrategy) Assemble(in AssembleInput) ([]model.Part, error) {
	if !hasImage(in.Source) {
		return nil, ErrMissingInput
	}

	var l partList
	productIndex := l.addImage(in.Source)
	logoIndex := 0
	if hasImage(in.Logo) {
		logoIndex = l.addImage(in.Logo)
	}

	var attrs strings.Builder
	attrs.WriteString("CONTENT TO BE DESIGNED:\n")
	if len(in.ModeData.Attributes) == 0 {
		attrs.WriteString("(No specific attributes provided)\n")
	}
	for _, attr := range in.ModeData.Attributes {
		if hasImage(attr.Icon) {
			iconIndex := l.addImage(attr.Icon)
			fmt.Fprintf(&attrs, "- Attribute: \"%s\". Use IMAGE %d as the icon.\n", attr.Text, iconIndex)
			continue
		}
		fmt.Fprintf(&attrs, "- Attribute: \"%s\". (No icon provided, generate one or just use text).\n", attr.Text)
	}

	var b strings.Builder
	b.WriteString(in.Template)
	b.WriteString("\n\n=== IMAGE MAPPING ===\n")
	fmt.Fprintf(&b, "IMAGE %d is the MAIN PRODUCT.\n", productIndex)
	if logoIndex > 0 {
		fmt.Fprintf(&b, "IMAGE %d is the LOGO (Must be in Header).\n", logoIndex)
	}
	fmt.Fprintf(&b, "\n%s\n", attrs.String())
	fmt.Fprintf(&b, "PRODUCT TITLE: \"%s\"\n", in.ModeData.Title)

	return l.finish(b.String()), nil
}

// ============================================================
// Edit: [원본, 로고?, 지시문] - refine 도 같은 형태 (로고 없음)
// ============================================================

type editStrategy struct{}

func (editStrategy) Mode() model.Mode { return model.ModeEdit }

func (editStrategy) Assemble(in AssembleInput) ([]model.Part, error) {
	if !hasImage(in.Source) {
		return nil, ErrMissingInput
	}

	var l partList
	l.addImage(in.Source)
	if hasImage(in.Logo) {
		l.addImage(in.Logo)
	}
	return l.finish(in.Template), nil
}
