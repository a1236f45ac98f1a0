package export

import (
	"testing"

	"layout-studio-server/modules/layout"
)

func TestExtractBaseName(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		pattern  string
		want     string
	}{
		{"capture group", "IMG_20240131_product.jpg", `(\d{8,14})`, "20240131"},
		{"full match without group", "sku-12345.png", `\d+`, "12345"},
		{"no match falls back", "hero_shot.png", `(\d{8,14})`, "hero_shot"},
		{"invalid pattern falls back", "hero_shot.png", `(\d{8`, "hero_shot"},
		{"empty pattern", "a.b.webp", "", "a.b"},
		{"long digit run", "x_1234567890123.jpg", `(\d{8,14})`, "1234567890123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBaseName(tt.filename, tt.pattern); got != tt.want {
				t.Fatalf("ExtractBaseName(%q, %q) = %q, want %q", tt.filename, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestNameAllocatorCountsPerBase(t *testing.T) {
	a := NewNameAllocator()

	got := []string{
		a.FileBase("1", "20240101_a.jpg", layout.DefaultFilenamePattern),
		a.FileBase("2", "20240101_b.jpg", layout.DefaultFilenamePattern),
		a.FileBase("3", "20240202.jpg", layout.DefaultFilenamePattern),
		a.FileBase("4", "", layout.DefaultFilenamePattern),
		a.FileBase("5", "20240101_c.jpg", layout.DefaultFilenamePattern),
	}
	want := []string{
		"20240101 (1)",
		"20240101 (2)",
		"20240202 (1)",
		"item_4",
		"20240101 (3)",
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("name %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFileBaseStripsPathElements(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"parent traversal", "../../etc/cron.d/evil.jpg", "evil (1)"},
		{"absolute path", "/etc/passwd", "passwd (1)"},
		{"backslashes", `..\..\win.png`, "____win (1)"},
		{"dot dot only", "..", "item_x"},
		{"digits under traversal", "../20240101.jpg", "20240101 (1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNameAllocator().FileBase("x", tt.filename, layout.DefaultFilenamePattern)
			if got != tt.want {
				t.Fatalf("FileBase(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
