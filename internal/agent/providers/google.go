// This file implements the Gemini provider using Google's Gen AI Go SDK, the
// second of the two fallback providers FailoverOrchestrator can swap to when
// Claude is unavailable.
package providers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/clmem/memoryd/internal/agent"
)

// GoogleProvider implements agent.LLMProvider for Google's Gemini API.
type GoogleProvider struct {
	client *genai.Client

	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewGoogleProvider creates a new Gemini provider instance.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name implements agent.LLMProvider.
func (p *GoogleProvider) Name() string { return "google" }

// Models implements agent.LLMProvider.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000},
	}
}

// SupportsTools implements agent.LLMProvider. Gemini can do function
// calling, but the memory daemon never hands it any tool definitions.
func (p *GoogleProvider) SupportsTools() bool { return false }

// Complete implements agent.LLMProvider, streaming Gemini's reply.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		contents := p.convertMessages(req.Messages)
		config := p.buildConfig(req)

		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			lastErr = p.processStreamResponse(ctx, streamIter, chunks, model)
			if lastErr == nil {
				return
			}

			wrapped := p.wrapError(lastErr, model)
			if !p.isRetryableError(wrapped) {
				chunks <- &agent.CompletionChunk{Error: wrapped, Done: true}
				return
			}

			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(backoff):
				}
			}
		}

		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("google: max retries exceeded: %w", p.wrapError(lastErr, model)), Done: true}
	}()

	return chunks, nil
}

func (p *GoogleProvider) processStreamResponse(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *agent.CompletionChunk, model string) error {
	var streamErr error

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					chunks <- &agent.CompletionChunk{Text: part.Text}
				}
			}
		}
	}

	if streamErr == nil {
		chunks <- &agent.CompletionChunk{Done: true}
	}
	return streamErr
}

func (p *GoogleProvider) convertMessages(messages []agent.CompletionMessage) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}

		if msg.Content == "" {
			continue
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return result
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		config.MaxOutputTokens = int32(maxTokens)
	}
	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GoogleProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}
