package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/vitalcoach/pkg/models"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FailReason
	}{
		{401, FailAuth},
		{403, FailAuth},
		{402, FailBilling},
		{429, FailRateLimit},
		{400, FailBadRequest},
		{404, FailBadRequest},
		{500, FailServerError},
		{503, FailServerError},
		{418, FailUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		err  error
		want FailReason
	}{
		{errors.New("429 too many requests"), FailRateLimit},
		{errors.New("request timeout"), FailTimeout},
		{context.DeadlineExceeded, FailTimeout},
		{errors.New("invalid api key"), FailAuth},
		{errors.New("quota exceeded"), FailBilling},
		{errors.New("503 service unavailable"), FailServerError},
		{errors.New("connection reset by peer"), FailServerError},
		{errors.New("something odd"), FailUnknown},
	}
	for _, tt := range tests {
		if got := classifyMessage(tt.err); got != tt.want {
			t.Errorf("classifyMessage(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewProviderError("anthropic", "m", 429, errors.New("rate limited"))
	if !IsRetryable(retryable) {
		t.Error("429 should be retryable")
	}
	fatal := NewProviderError("anthropic", "m", 401, errors.New("bad key"))
	if IsRetryable(fatal) {
		t.Error("401 should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewProviderError("openai", "gpt-4o", 500, cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should reach the cause")
	}
	var pe *ProviderError
	if !errors.As(error(err), &pe) {
		t.Fatal("errors.As should find ProviderError")
	}
	if pe.Reason != FailServerError {
		t.Errorf("reason = %v, want server_error", pe.Reason)
	}
}

func TestCollect(t *testing.T) {
	ch := make(chan *models.ChatChunk, 4)
	ch <- &models.ChatChunk{Text: "Hello, "}
	ch <- &models.ChatChunk{Text: "world."}
	ch <- &models.ChatChunk{Done: true, Usage: &models.Usage{InputTokens: 10, OutputTokens: 5, Model: "m"}}
	close(ch)

	result, err := Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.Content != "Hello, world." {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestCollectError(t *testing.T) {
	ch := make(chan *models.ChatChunk, 2)
	ch <- &models.ChatChunk{Text: "partial"}
	ch <- &models.ChatChunk{Error: errors.New("stream broke")}
	close(ch)

	if _, err := Collect(ch); err == nil {
		t.Error("expected stream error")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("mystery", Config{APIKey: "k"}); err == nil {
		t.Error("expected error for unknown provider id")
	}
}

func TestNewRequiresKey(t *testing.T) {
	for _, id := range []string{"anthropic", "openai"} {
		if _, err := New(id, Config{}); err == nil {
			t.Errorf("%s: expected error for empty key", id)
		}
	}
}

func TestBackoffRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := backoff(ctx, time.Minute, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("backoff on cancelled context: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: "k"}
	cfg.applyDefaults()
	if cfg.MaxRetries != 3 || cfg.RetryDelay != time.Second || cfg.Timeout != 120*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}
