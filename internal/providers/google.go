package providers

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/vitalcoach/pkg/models"
)

// GoogleProvider implements Provider against the Gemini API via the genai
// SDK. The SDK exposes streaming as a Go 1.23 iterator; the adapter bridges
// it onto the chunk channel.
type GoogleProvider struct {
	client     *genai.Client
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

const (
	googleUtilityModel   = "gemini-2.0-flash"
	googleReasoningModel = "gemini-2.5-pro"
	googleDeepModel      = "gemini-2.5-pro"
)

// NewGoogleProvider creates the adapter. The API key is required.
func NewGoogleProvider(cfg Config) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	cfg.applyDefaults()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewProviderError("google", "", 0, err)
	}
	return &GoogleProvider{
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) SupportsVision() bool { return true }

func (p *GoogleProvider) SupportsWebSearch() bool { return true }

func (p *GoogleProvider) DefaultModel(tier string) string {
	switch tier {
	case TierReasoning:
		return googleReasoningModel
	case TierDeep:
		return googleDeepModel
	default:
		return googleUtilityModel
	}
}

func (p *GoogleProvider) Chat(ctx context.Context, req *Request) (*models.ChatResult, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(chunks)
}

func (p *GoogleProvider) ChatStream(ctx context.Context, req *Request) (<-chan *models.ChatChunk, error) {
	chunks := make(chan *models.ChatChunk)

	go func() {
		defer close(chunks)
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		contents := p.convertMessages(req)
		config := p.buildConfig(req)

		// Retry only while nothing has been emitted; once text is on the
		// channel a retry would duplicate output.
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			emitted, err := p.runStream(ctx, req.Model, contents, config, chunks)
			if err == nil {
				return
			}
			wrapped := p.wrapError(err, req.Model)
			if emitted || !IsRetryable(wrapped) || attempt == p.maxRetries {
				chunks <- &models.ChatChunk{Error: wrapped}
				return
			}
			if berr := backoff(ctx, p.retryDelay, attempt); berr != nil {
				chunks <- &models.ChatChunk{Error: berr}
				return
			}
		}
	}()

	return chunks, nil
}

// ValidateKey makes a one-token request against the cheapest model.
func (p *GoogleProvider) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := p.client.Models.GenerateContent(ctx, googleUtilityModel,
		genai.Text("ping"), &genai.GenerateContentConfig{MaxOutputTokens: 1})
	if err != nil {
		return p.wrapError(err, googleUtilityModel)
	}
	return nil
}

func (p *GoogleProvider) runStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *models.ChatChunk) (bool, error) {
	usage := models.Usage{Model: model}
	emitted := false

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return emitted, err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			if resp.UsageMetadata.PromptTokenCount > 0 {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			}
			if resp.UsageMetadata.CandidatesTokenCount > 0 {
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					chunks <- &models.ChatChunk{Text: part.Text}
					emitted = true
				}
			}
		}
	}

	chunks <- &models.ChatChunk{Done: true, Usage: &usage}
	return true, nil
}

func (p *GoogleProvider) convertMessages(req *Request) []*genai.Content {
	var out []*genai.Content
	for i, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		} else {
			content.Role = genai.RoleUser
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		if len(req.ImageData) > 0 && i == len(req.Messages)-1 && msg.Role == models.RoleUser {
			content.Parts = append(content.Parts, &genai.Part{
				InlineData: &genai.Blob{
					MIMEType: req.ImageMIME,
					Data:     req.ImageData,
				},
			})
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func (p *GoogleProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 && req.MaxTokens <= 1<<31-1 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsProviderError(err); ok {
		return err
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError("google", model, apiErr.Code, err)
	}
	return NewProviderError("google", model, 0, err)
}
