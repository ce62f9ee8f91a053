package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
)

// ContentRequest represents a provider-agnostic content generation request
type ContentRequest struct {
	Messages          []interfaces.Message
	Model             string
	Temperature       float32
	MaxTokens         int
	SystemInstruction string
}

// ContentResponse represents a provider-agnostic content generation response
type ContentResponse struct {
	Text     string
	Provider ProviderType
	Model    string
}

// ProviderFactory routes text generation to Gemini or Claude and owns the
// lazily created clients and the per-provider rate limiters.
type ProviderFactory struct {
	geminiConfig *common.GeminiConfig
	claudeConfig *common.ClaudeConfig
	llmConfig    *common.LLMConfig
	logger       arbor.ILogger

	mu            sync.Mutex
	geminiClient  *genai.Client
	claudeClient  *anthropic.Client
	geminiLimiter *rate.Limiter
	claudeLimiter *rate.Limiter
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(
	geminiConfig *common.GeminiConfig,
	claudeConfig *common.ClaudeConfig,
	llmConfig *common.LLMConfig,
	logger arbor.ILogger,
) *ProviderFactory {
	return &ProviderFactory{
		geminiConfig:  geminiConfig,
		claudeConfig:  claudeConfig,
		llmConfig:     llmConfig,
		logger:        logger,
		geminiLimiter: newLimiter(geminiConfig.RateLimit),
		claudeLimiter: newLimiter(claudeConfig.RateLimit),
	}
}

// newLimiter allows one call per interval. An empty or zero interval
// disables limiting.
func newLimiter(interval string) *rate.Limiter {
	every := common.ParseDuration(interval, 0)
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// DetectProvider determines the provider type from a model string.
// Model strings can be:
// - "claude-sonnet-4-20250514" -> Claude
// - "claude/claude-sonnet-4-20250514" -> Claude (with prefix)
// - "gemini-2.5-flash" -> Gemini
// - "gemini/gemini-2.5-flash" -> Gemini (with prefix)
// - Empty string -> uses default provider from config
func (f *ProviderFactory) DetectProvider(model string) ProviderType {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude/"), strings.HasPrefix(model, "anthropic/"), strings.HasPrefix(model, "claude-"):
		return ProviderClaude
	case strings.HasPrefix(model, "gemini/"), strings.HasPrefix(model, "google/"), strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	}

	if f.llmConfig.DefaultProvider == common.LLMProviderClaude {
		return ProviderClaude
	}
	return ProviderGemini
}

// NormalizeModel removes provider prefix from model name if present
func (f *ProviderFactory) NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// GetGeminiClient returns a Gemini client, creating one if necessary
func (f *ProviderFactory) GetGeminiClient(ctx context.Context) (*genai.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.geminiClient != nil {
		return f.geminiClient, nil
	}
	if f.geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  f.geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	f.geminiClient = client
	return client, nil
}

// GetClaudeClient returns a Claude client, creating one if necessary
func (f *ProviderFactory) GetClaudeClient() (*anthropic.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claudeClient != nil {
		return f.claudeClient, nil
	}
	if f.claudeConfig.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}

	client := anthropic.NewClient(option.WithAPIKey(f.claudeConfig.APIKey))
	f.claudeClient = &client
	return f.claudeClient, nil
}

// Generate returns the raw text the default model produces for messages
func (f *ProviderFactory) Generate(ctx context.Context, messages []interfaces.Message) (string, error) {
	resp, err := f.GenerateContent(ctx, &ContentRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateContent generates content using the appropriate provider based on model
func (f *ProviderFactory) GenerateContent(ctx context.Context, request *ContentRequest) (*ContentResponse, error) {
	provider := f.DetectProvider(request.Model)
	model := f.NormalizeModel(request.Model)

	f.logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Int("message_count", len(request.Messages)).
		Msg("Generating content with provider")

	if provider == ProviderClaude {
		return f.generateWithClaude(ctx, request, model)
	}
	return f.generateWithGemini(ctx, request, model)
}

// withRetry runs call, backing off on rate-limit errors only. Other errors
// return immediately so the job queue decides whether to retry.
func (f *ProviderFactory) withRetry(ctx context.Context, provider ProviderType, limiter *rate.Limiter, call func() error) error {
	retryConfig := NewRetryConfig(f.llmConfig.MaxRetries)

	var apiErr error
	for attempt := 0; attempt <= retryConfig.MaxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		apiErr = call()
		if apiErr == nil {
			return nil
		}
		if !IsRateLimitError(apiErr) || attempt == retryConfig.MaxRetries {
			break
		}

		backoff := retryConfig.CalculateBackoff(attempt, ExtractRetryDelay(apiErr))
		f.logger.Warn().
			Str("provider", string(provider)).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(apiErr).
			Msg("Rate limited, retrying API call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s API call failed: %w", provider, apiErr)
}

// generateWithClaude generates content using Claude API
func (f *ProviderFactory) generateWithClaude(ctx context.Context, request *ContentRequest, model string) (*ContentResponse, error) {
	client, err := f.GetClaudeClient()
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = f.claudeConfig.Model
	}

	claudeMessages, systemText, err := convertMessagesToClaude(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if request.SystemInstruction != "" {
		systemText = request.SystemInstruction
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = f.claudeConfig.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}

	temp := request.Temperature
	if temp <= 0 {
		temp = f.claudeConfig.Temperature
	}
	if temp > 0 {
		params.Temperature = anthropic.Float(float64(temp))
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}

	callCtx, cancel := context.WithTimeout(ctx, common.ParseDuration(f.claudeConfig.Timeout, 5*time.Minute))
	defer cancel()

	var resp *anthropic.Message
	err = f.withRetry(callCtx, ProviderClaude, f.claudeLimiter, func() error {
		var callErr error
		resp, callErr = client.Messages.New(callCtx, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from Claude API")
	}

	return &ContentResponse{
		Text:     text.String(),
		Provider: ProviderClaude,
		Model:    model,
	}, nil
}

// generateWithGemini generates content using Gemini API
func (f *ProviderFactory) generateWithGemini(ctx context.Context, request *ContentRequest, model string) (*ContentResponse, error) {
	client, err := f.GetGeminiClient(ctx)
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = f.geminiConfig.Model
	}

	geminiContents, systemText, err := convertMessagesToGemini(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if request.SystemInstruction != "" {
		systemText = request.SystemInstruction
	}

	temp := request.Temperature
	if temp <= 0 {
		temp = f.geminiConfig.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	callCtx, cancel := context.WithTimeout(ctx, common.ParseDuration(f.geminiConfig.Timeout, 5*time.Minute))
	defer cancel()

	var resp *genai.GenerateContentResponse
	err = f.withRetry(callCtx, ProviderGemini, f.geminiLimiter, func() error {
		var callErr error
		resp, callErr = client.Models.GenerateContent(callCtx, model, geminiContents, config)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}

	responseText := resp.Text()
	if responseText == "" {
		return nil, fmt.Errorf("empty text in Gemini response")
	}

	return &ContentResponse{
		Text:     responseText,
		Provider: ProviderGemini,
		Model:    model,
	}, nil
}

// Close drops the provider clients
func (f *ProviderFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geminiClient = nil
	f.claudeClient = nil
	return nil
}
