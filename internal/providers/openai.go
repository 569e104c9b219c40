package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// OpenAIProvider implements Provider against the OpenAI chat completions
// API. Usage totals arrive on the final stream chunk via StreamOptions.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

const (
	openaiUtilityModel   = "gpt-4o-mini"
	openaiReasoningModel = "gpt-4o"
	openaiDeepModel      = "o1"
)

// NewOpenAIProvider creates the adapter. The API key is required.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	cfg.applyDefaults()

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsVision() bool { return true }

func (p *OpenAIProvider) SupportsWebSearch() bool { return false }

func (p *OpenAIProvider) DefaultModel(tier string) string {
	switch tier {
	case TierReasoning:
		return openaiReasoningModel
	case TierDeep:
		return openaiDeepModel
	default:
		return openaiUtilityModel
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, req *Request) (*models.ChatResult, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(chunks)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req *Request) (<-chan *models.ChatChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: p.convertMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		wrapped := p.wrapError(lastErr, req.Model)
		if !IsRetryable(wrapped) {
			cancel()
			return nil, wrapped
		}
		if attempt < p.maxRetries {
			if err := backoff(ctx, p.retryDelay, attempt); err != nil {
				cancel()
				return nil, err
			}
		}
	}
	if lastErr != nil {
		cancel()
		return nil, fmt.Errorf("openai: max retries exceeded: %w", p.wrapError(lastErr, req.Model))
	}

	chunks := make(chan *models.ChatChunk)
	go func() {
		defer cancel()
		p.processStream(stream, chunks, req.Model)
	}()
	return chunks, nil
}

// ValidateKey lists models, the cheapest authenticated call.
func (p *OpenAIProvider) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := p.client.ListModels(ctx); err != nil {
		return p.wrapError(err, "")
	}
	return nil
}

func (p *OpenAIProvider) convertMessages(req *Request) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for i, msg := range req.Messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(req.ImageData) > 0 && i == len(req.Messages)-1 && msg.Role == models.RoleUser {
			m.Content = ""
			m.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: msg.Content},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s",
							req.ImageMIME, base64.StdEncoding.EncodeToString(req.ImageData)),
						Detail: openai.ImageURLDetailAuto,
					},
				},
			}
		}
		out = append(out, m)
	}
	return out
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- *models.ChatChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var usage models.Usage
	usage.Model = model

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chunks <- &models.ChatChunk{Done: true, Usage: &usage}
			return
		}
		if err != nil {
			chunks <- &models.ChatChunk{Error: p.wrapError(err, model)}
			return
		}
		// The usage-bearing final chunk has no choices.
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				chunks <- &models.ChatChunk{Text: choice.Delta.Content}
			}
		}
	}
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError("openai", model, apiErr.HTTPStatusCode, err)
	}
	return NewProviderError("openai", model, 0, err)
}
