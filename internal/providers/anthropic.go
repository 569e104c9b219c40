package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// AnthropicProvider implements Provider against Anthropic's Messages API.
//
// Each ChatStream call opens an independent SSE stream in its own goroutine;
// the provider is safe for concurrent use. Transient failures on stream
// creation are retried with exponential backoff (retryDelay * 2^attempt);
// failures mid-stream surface as a terminal error chunk because the partial
// text has already been delivered.
type AnthropicProvider struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

// Anthropic tier defaults.
const (
	anthropicUtilityModel   = "claude-3-5-haiku-latest"
	anthropicReasoningModel = "claude-sonnet-4-5"
	anthropicDeepModel      = "claude-opus-4-1"
)

// NewAnthropicProvider creates the adapter. The API key is required.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	cfg.applyDefaults()

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsVision() bool { return true }

func (p *AnthropicProvider) SupportsWebSearch() bool { return true }

func (p *AnthropicProvider) DefaultModel(tier string) string {
	switch tier {
	case TierReasoning:
		return anthropicReasoningModel
	case TierDeep:
		return anthropicDeepModel
	default:
		return anthropicUtilityModel
	}
}

// Chat runs a buffered completion.
func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*models.ChatResult, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(chunks)
}

// ChatStream opens a streaming completion. The returned channel is closed
// after the Done or Error chunk.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *Request) (<-chan *models.ChatChunk, error) {
	chunks := make(chan *models.ChatChunk)

	go func() {
		defer close(chunks)
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream = p.createStream(ctx, req)
			err = stream.Err()
			if err == nil {
				break
			}
			wrapped := p.wrapError(err, req.Model)
			if !IsRetryable(wrapped) {
				chunks <- &models.ChatChunk{Error: wrapped}
				return
			}
			if attempt < p.maxRetries {
				if berr := backoff(ctx, p.retryDelay, attempt); berr != nil {
					chunks <- &models.ChatChunk{Error: berr}
					return
				}
			}
		}
		if err != nil {
			chunks <- &models.ChatChunk{Error: p.wrapError(err, req.Model)}
			return
		}
		p.processStream(stream, chunks, req.Model)
	}()

	return chunks, nil
}

// ValidateKey makes a one-token request against the cheapest model.
func (p *AnthropicProvider) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(anthropicUtilityModel),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return p.wrapError(err, anthropicUtilityModel)
	}
	return nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *Request) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  p.convertMessages(req),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return p.client.Messages.NewStreaming(ctx, params)
}

func (p *AnthropicProvider) convertMessages(req *Request) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for i, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		// The image rides on the final user message.
		if len(req.ImageData) > 0 && i == len(req.Messages)-1 && msg.Role == models.RoleUser {
			content = append(content, anthropic.NewImageBlockBase64(
				req.ImageMIME, base64.StdEncoding.EncodeToString(req.ImageData)))
		}
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

// maxEmptyStreamEvents guards against malformed streams that flood with
// events carrying no content.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *models.ChatChunk, model string) {
	var inputTokens, outputTokens int
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				chunks <- &models.ChatChunk{Text: delta.Text}
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &models.ChatChunk{
				Done: true,
				Usage: &models.Usage{
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
					Model:        model,
				},
			}
			return

		case "error":
			chunks <- &models.ChatChunk{
				Error: p.wrapError(errors.New("anthropic stream error"), model),
			}
			return
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			chunks <- &models.ChatChunk{
				Error: p.wrapError(errors.New("stream appears malformed"), model),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &models.ChatChunk{Error: p.wrapError(err, model)}
		return
	}
	// Stream ended without message_stop; close out with what we have.
	chunks <- &models.ChatChunk{
		Done: true,
		Usage: &models.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			Model:        model,
		},
	}
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, apiErr.StatusCode, err)
	}
	return NewProviderError("anthropic", model, 0, err)
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}
