package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	"image/png"

	"github.com/disintegration/imaging"
	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// DefaultWebPQuality - 스토리지 업로드 시 WebP 품질
const DefaultWebPQuality float32 = 90.0

// DecodeImage - PNG/JPEG/WebP 자동 감지 디코딩
func DecodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// ResizeForExport - 지정 크기로 리사이즈 (한쪽이 0이면 비율 유지). 둘 다 0이면 원본 그대로
func ResizeForExport(src image.Image, width, height int) image.Image {
	if width <= 0 && height <= 0 {
		return src
	}
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return imaging.Resize(src, width, height, imaging.Lanczos)
}

// EncodePNG - PNG 인코딩
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWebP - 손실 WebP 인코딩
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return webpBuffer.Bytes(), nil
}
