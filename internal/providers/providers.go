// Package providers implements the LLM vendor adapters used by the turn
// pipeline. Each adapter exposes the same Provider interface: a streaming
// chat call, a buffered chat call for utility work, optional vision input,
// and key validation. Adapters handle retries with exponential backoff and
// normalize vendor failures into ProviderError so the orchestrator can make
// tolerate-or-abort decisions uniformly.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// Model tiers. Utility runs classification and parsing, reasoning runs the
// specialist reply, deep runs longitudinal synthesis.
const (
	TierUtility   = "utility"
	TierReasoning = "reasoning"
	TierDeep      = "deep"
)

// Request is one chat call. Model is required; System may be empty.
type Request struct {
	Model       string
	System      string
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature float64

	// JSONMode asks the vendor for a JSON-object response where supported.
	// Callers must still validate the payload.
	JSONMode bool

	// ImageData and ImageMIME attach one image for vision-capable calls.
	ImageData []byte
	ImageMIME string
}

// Provider is a configured connection to one LLM vendor.
type Provider interface {
	// Name returns the stable vendor id used in settings and telemetry.
	Name() string

	// Chat runs a buffered completion and returns the full text.
	Chat(ctx context.Context, req *Request) (*models.ChatResult, error)

	// ChatStream runs a streaming completion. The channel is closed after
	// the terminal chunk (Done or Error).
	ChatStream(ctx context.Context, req *Request) (<-chan *models.ChatChunk, error)

	// ValidateKey makes a minimal authenticated call to verify the key.
	ValidateKey(ctx context.Context) error

	// SupportsVision reports whether ImageData requests are accepted.
	SupportsVision() bool

	// SupportsWebSearch reports whether the vendor offers a native search
	// tool. Informational; the health_search tool does its own retrieval.
	SupportsWebSearch() bool

	// DefaultModel returns the vendor's default model for a tier.
	DefaultModel(tier string) string
}

// Config holds per-provider connection settings.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
}

// New constructs the provider registered under the vendor id.
func New(providerID string, cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(providerID)) {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "google", "gemini":
		return NewGoogleProvider(cfg)
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", providerID)
	}
}

// Collect drains a chunk channel into a buffered result. Used by the
// adapters to implement Chat on top of ChatStream.
func Collect(chunks <-chan *models.ChatChunk) (*models.ChatResult, error) {
	var sb strings.Builder
	var usage models.Usage
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		sb.WriteString(chunk.Text)
		if chunk.Done && chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return &models.ChatResult{Content: sb.String(), Usage: usage}, nil
}

// backoff waits retryDelay * 2^attempt or until the context is done.
func backoff(ctx context.Context, retryDelay time.Duration, attempt int) error {
	delay := retryDelay * (1 << attempt)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
