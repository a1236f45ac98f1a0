package export

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ExtractBaseName - 파일명에서 패턴으로 기본 이름 추출
// 첫 번째 캡처 그룹 → 전체 매치 → 확장자 제거한 파일명 순
func ExtractBaseName(filename, pattern string) string {
	fallback := strings.TrimSuffix(filename, filepath.Ext(filename))

	if pattern == "" {
		return fallback
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fallback
	}

	match := re.FindStringSubmatch(filename)
	if match == nil {
		return fallback
	}
	if len(match) > 1 && match[1] != "" {
		return match[1]
	}
	if match[0] != "" {
		return match[0]
	}
	return fallback
}

// NameAllocator - 기본 이름별 카운터로 "<base> (n).png" 생성
type NameAllocator struct {
	counters map[string]int
}

func NewNameAllocator() *NameAllocator {
	return &NameAllocator{counters: make(map[string]int)}
}

// Next - 같은 기본 이름이면 1, 2, 3 ... 순서로 증가
func (a *NameAllocator) Next(base string) string {
	a.counters[base]++
	return fmt.Sprintf("%s (%d)", base, a.counters[base])
}

// SafeSegment - 경로 구분자와 ".." 를 제거한 단일 경로 요소
// 남는 것이 없으면 빈 문자열
func SafeSegment(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return ""
	}
	return name
}

// FileBase - 항목의 확장자 없는 내보내기 이름
// 파일명이 없거나 정리 후 남는 것이 없는 항목은 item_<id>
func (a *NameAllocator) FileBase(itemID, filename, pattern string) string {
	fallback := "item_" + SafeSegment(itemID)
	if filename == "" {
		return fallback
	}
	base := SafeSegment(ExtractBaseName(filepath.Base(filename), pattern))
	if base == "" {
		return fallback
	}
	return a.Next(base)
}
