package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/model"
)

type fakeTransport struct {
	calls []Call
	send  func(attempt int) (*Response, error)
}

func (f *fakeTransport) Send(_ context.Context, call Call) (*Response, error) {
	f.calls = append(f.calls, call)
	return f.send(len(f.calls))
}

func imageResponse() *Response {
	return &Response{Parts: []model.Part{
		model.TextPart("here you go"),
		model.ImagePart(&model.Image{MIMEType: "image/png", Data: []byte{0x89, 0x50}}),
	}}
}

func newTestExecutor(tr Transport, fallback string, delays *[]time.Duration) *Executor {
	return NewExecutor(tr, Options{
		Model:       "test-model",
		FallbackKey: fallback,
		Logger:      zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			*delays = append(*delays, d)
			return nil
		},
		Jitter: func(time.Duration) time.Duration { return 0 },
	})
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	const k = 3
	tr := &fakeTransport{send: func(attempt int) (*Response, error) {
		if attempt <= k {
			return nil, &BackendError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}
		}
		return imageResponse(), nil
	}}
	var delays []time.Duration
	exec := newTestExecutor(tr, "fallback-key", &delays)

	got, err := exec.Generate(context.Background(), Request{Resolution: model.Resolution2K})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("Generate() = %q, want png data URL", got)
	}
	if len(tr.calls) != k+1 {
		t.Fatalf("attempts = %d, want %d", len(tr.calls), k+1)
	}
	if len(delays) != k {
		t.Fatalf("sleeps = %d, want %d", len(delays), k)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("delays not monotonic: %v", delays)
		}
	}
	if delays[0] != 3*time.Second {
		t.Fatalf("first delay = %v, want 3s", delays[0])
	}
	call := tr.calls[0]
	if call.AspectRatio != "1:1" || call.ImageSize != "2K" || call.APIKey != "fallback-key" || call.Model != "test-model" {
		t.Fatalf("unexpected call shape: %+v", call)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	tr := &fakeTransport{send: func(int) (*Response, error) {
		return nil, errors.New("500 INTERNAL: Internal error encountered")
	}}
	var delays []time.Duration
	exec := newTestExecutor(tr, "k", &delays)

	_, err := exec.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if len(tr.calls) != DefaultMaxAttempts {
		t.Fatalf("attempts = %d, want %d", len(tr.calls), DefaultMaxAttempts)
	}
	if len(delays) != DefaultMaxAttempts-1 {
		t.Fatalf("sleeps = %d, want %d", len(delays), DefaultMaxAttempts-1)
	}
}

func TestGenerateInvalidCredentialIsImmediate(t *testing.T) {
	for _, failure := range []error{
		&BackendError{Code: 403, Message: "forbidden"},
		&BackendError{Code: 404, Message: "not here"},
		errors.New("Requested entity was not found."),
	} {
		tr := &fakeTransport{send: func(int) (*Response, error) { return nil, failure }}
		var delays []time.Duration
		exec := newTestExecutor(tr, "k", &delays)

		_, err := exec.Generate(context.Background(), Request{APIKey: "user-key"})
		if !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("err = %v, want ErrInvalidCredential", err)
		}
		if len(tr.calls) != 1 || len(delays) != 0 {
			t.Fatalf("attempts = %d sleeps = %d, want 1 and 0", len(tr.calls), len(delays))
		}
		if tr.calls[0].APIKey != "user-key" {
			t.Fatalf("explicit key not preferred: %q", tr.calls[0].APIKey)
		}
	}
}

func TestGenerateMissingCredentialMakesNoCall(t *testing.T) {
	tr := &fakeTransport{send: func(int) (*Response, error) { return imageResponse(), nil }}
	var delays []time.Duration
	exec := newTestExecutor(tr, "", &delays)

	_, err := exec.Generate(context.Background(), Request{APIKey: "   "})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("transport called %d times", len(tr.calls))
	}
}

func TestGenerateNoImageIsNotRetried(t *testing.T) {
	tr := &fakeTransport{send: func(int) (*Response, error) {
		return &Response{Parts: []model.Part{model.TextPart("sorry")}}, nil
	}}
	var delays []time.Duration
	exec := newTestExecutor(tr, "k", &delays)

	_, err := exec.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrNoImageReturned) {
		t.Fatalf("err = %v, want ErrNoImageReturned", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("attempts = %d, want 1", len(tr.calls))
	}
}

func TestGenerateRedactsCredentialInErrors(t *testing.T) {
	key := "AIza" + strings.Repeat("Q", 35)
	tr := &fakeTransport{send: func(int) (*Response, error) {
		return nil, errors.New("bad request for key " + key)
	}}
	var delays []time.Duration
	exec := newTestExecutor(tr, key, &delays)

	_, err := exec.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), key) {
		t.Fatalf("error leaks credential: %v", err)
	}
}

func TestGenerateStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	tr := &fakeTransport{send: func(int) (*Response, error) {
		return nil, &BackendError{Code: 503}
	}}
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(tr, Options{
		FallbackKey: "k",
		Logger:      zerolog.Nop(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	_, err := exec.Generate(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("attempts = %d, want 1", len(tr.calls))
	}
}
