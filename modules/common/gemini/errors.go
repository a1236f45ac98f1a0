package gemini

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrNoImageReturned   = errors.New("no image returned")
)

// FailureClass - 백엔드 실패 분류
type FailureClass int

const (
	FailureFatal FailureClass = iota
	FailureTransient
	FailureInvalidCredential
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailureInvalidCredential:
		return "invalid_credential"
	default:
		return "fatal"
	}
}

// BackendError - 트랜스포트가 반환하는 원시 실패 신호
type BackendError struct {
	Code    int
	Status  string
	Message string
}

func (e *BackendError) Error() string {
	switch {
	case e.Code != 0 && e.Status != "":
		return fmt.Sprintf("gemini status %d %s: %s", e.Code, e.Status, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("gemini status %d: %s", e.Code, e.Message)
	default:
		return e.Message
	}
}

type signal struct {
	code    int
	status  string
	message string
}

// signalOf - 라이브러리별 에러 형태에서 code/status/message 추출
func signalOf(err error) signal {
	var s signal
	var backendErr *BackendError
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &backendErr):
		s = signal{code: backendErr.Code, status: backendErr.Status, message: backendErr.Message}
	case errors.As(err, &apiErr):
		s = signal{code: apiErr.Code, status: apiErr.Status, message: apiErr.Message}
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		s = signal{code: apiErrPtr.Code, status: apiErrPtr.Status, message: apiErrPtr.Message}
	}
	// 래핑된 문맥까지 포함해서 부분 문자열 검사
	s.message = s.message + " " + err.Error()
	return s
}

// Classify - 실패를 transient / invalid credential / fatal 로 분류
func Classify(err error) FailureClass {
	if err == nil {
		return FailureFatal
	}
	if errors.Is(err, ErrInvalidCredential) {
		return FailureInvalidCredential
	}
	if errors.Is(err, ErrNoImageReturned) || errors.Is(err, ErrMissingCredential) {
		return FailureFatal
	}

	s := signalOf(err)

	if s.code == 403 || s.code == 404 ||
		strings.Contains(s.message, "Requested entity was not found") {
		return FailureInvalidCredential
	}

	overloaded := s.code == 503 || s.status == "UNAVAILABLE" ||
		strings.Contains(s.message, "overloaded") ||
		strings.Contains(s.message, "503") ||
		strings.Contains(s.message, "UNAVAILABLE")
	internal := s.code == 500 || s.status == "INTERNAL" ||
		strings.Contains(s.message, "Internal error") ||
		strings.Contains(s.message, "500") ||
		strings.Contains(s.message, "INTERNAL")
	if overloaded || internal {
		return FailureTransient
	}

	return FailureFatal
}

var credentialPattern = regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)

const redactedCredential = "***HIDDEN_KEY***"

// Sanitize - 메시지에서 API 키 형태의 문자열 제거
func Sanitize(msg string) string {
	return credentialPattern.ReplaceAllString(msg, redactedCredential)
}
