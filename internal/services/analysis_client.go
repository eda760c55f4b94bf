package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const pingTimeout = 10 * time.Second

var errEmptyResponse = errors.New("empty response")

// AnalysisClient sends one source file to the text-generation endpoint and
// returns its raw reply.
type AnalysisClient interface {
	Analyze(ctx context.Context, code, language, filename string) (string, error)
}

// LLMClient implements AnalysisClient over the provider SDKs. It never
// retries; a failed call is reported as a *TransportError.
type LLMClient struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &LLMClient{cfg: cfg, httpClient: &http.Client{}}
}

func (c *LLMClient) Provider() string { return c.cfg.Provider }

func (c *LLMClient) Analyze(ctx context.Context, code, language, filename string) (string, error) {
	prompt := BuildAnalysisPrompt(code, language, filename)
	return c.complete(ctx, prompt, c.cfg.MaxTokens, c.cfg.Timeout)
}

// Ping checks that the provider answers a trivial prompt.
func (c *LLMClient) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, pingPrompt, 50, pingTimeout)
	return err
}

func (c *LLMClient) complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logger.Component("llm")
	start := time.Now()

	var (
		text string
		err  error
	)
	switch c.cfg.Provider {
	case "anthropic":
		text, err = c.callAnthropic(ctx, prompt, maxTokens)
	case "ollama":
		text, err = c.callOllama(ctx, prompt, maxTokens)
	case "gemini":
		text, err = c.callGemini(ctx, prompt, maxTokens)
	case "azure":
		text, err = c.callOpenAI(ctx, openai.DefaultAzureConfig(c.cfg.APIKey, c.cfg.BaseURL), prompt, maxTokens)
	default:
		// openai and other OpenAI-compatible services
		cfg := openai.DefaultConfig(c.cfg.APIKey)
		if c.cfg.BaseURL != "" {
			cfg.BaseURL = c.cfg.BaseURL
		}
		text, err = c.callOpenAI(ctx, cfg, prompt, maxTokens)
	}

	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		terr := c.transportError(ctx, err)
		log.Warn().
			Str("provider", c.cfg.Provider).
			Str("model", c.cfg.Model).
			Int("status", terr.StatusCode).
			Bool("timeout", terr.Timeout).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("analysis request failed")
		return "", terr
	}

	log.Debug().
		Str("provider", c.cfg.Provider).
		Str("model", c.cfg.Model).
		Int("prompt_chars", len(prompt)).
		Int("response_chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("analysis response received")
	return text, nil
}

func (c *LLMClient) callAnthropic(ctx context.Context, prompt string, maxTokens int) (string, error) {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(c.httpClient),
	}
	if c.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.cfg.APIKey))
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := c.cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

// callOpenAI handles OpenAI, Azure OpenAI and OpenAI-compatible endpoints.
// For Azure the model is the deployment name.
func (c *LLMClient) callOpenAI(ctx context.Context, cfg openai.ClientConfig, prompt string, maxTokens int) (string, error) {
	cfg.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *LLMClient) callOllama(ctx context.Context, prompt string, maxTokens int) (string, error) {
	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, c.httpClient)

	model := c.cfg.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": 0.3,
			"num_predict": maxTokens,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content.String(), nil
}

func (c *LLMClient) callGemini(ctx context.Context, prompt string, maxTokens int) (string, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     c.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}

	model := c.cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// transportError classifies an SDK failure. ctx is the per-call context so an
// expired deadline is reported as a timeout whatever the SDK wrapped it in.
func (c *LLMClient) transportError(ctx context.Context, err error) *TransportError {
	terr := &TransportError{Provider: c.cfg.Provider, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		terr.Timeout = true
	}

	var (
		anthropicErr *anthropic.Error
		openaiErr    *openai.APIError
		openaiReqErr *openai.RequestError
		ollamaErr    api.StatusError
		geminiErr    genai.APIError
	)
	switch {
	case errors.As(err, &anthropicErr):
		terr.StatusCode = anthropicErr.StatusCode
	case errors.As(err, &openaiErr):
		terr.StatusCode = openaiErr.HTTPStatusCode
	case errors.As(err, &openaiReqErr):
		terr.StatusCode = openaiReqErr.HTTPStatusCode
	case errors.As(err, &ollamaErr):
		terr.StatusCode = ollamaErr.StatusCode
	case errors.As(err, &geminiErr):
		terr.StatusCode = geminiErr.Code
	}
	return terr
}
