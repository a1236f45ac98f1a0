package gemini

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"503 code", &BackendError{Code: 503, Message: "try later"}, FailureTransient},
		{"500 code", &BackendError{Code: 500, Message: "oops"}, FailureTransient},
		{"unavailable status", &BackendError{Status: "UNAVAILABLE"}, FailureTransient},
		{"internal status", &BackendError{Status: "INTERNAL"}, FailureTransient},
		{"overloaded message", errors.New("The model is overloaded. Please try again later."), FailureTransient},
		{"internal error message", errors.New("Internal error encountered."), FailureTransient},
		{"403 code", &BackendError{Code: 403, Message: "permission denied"}, FailureInvalidCredential},
		{"404 code", &BackendError{Code: 404, Message: "model missing"}, FailureInvalidCredential},
		{"entity not found", errors.New("Requested entity was not found."), FailureInvalidCredential},
		{"genai api error", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "busy"}, FailureTransient},
		{"wrapped backend error", fmt.Errorf("send: %w", &BackendError{Code: 404}), FailureInvalidCredential},
		{"bad request", &BackendError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad image"}, FailureFatal},
		{"no image", ErrNoImageReturned, FailureFatal},
		{"missing credential", ErrMissingCredential, FailureFatal},
		{"nil", nil, FailureFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	key := "AIza" + strings.Repeat("x", 35)
	msg := "request with key=" + key + " failed"

	got := Sanitize(msg)
	if strings.Contains(got, key) {
		t.Fatalf("Sanitize left the key in %q", got)
	}
	if !strings.Contains(got, redactedCredential) {
		t.Fatalf("Sanitize() = %q, want redaction marker", got)
	}
	if Sanitize("plain message") != "plain message" {
		t.Fatalf("Sanitize should not touch messages without keys")
	}
}
