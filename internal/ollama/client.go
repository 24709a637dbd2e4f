package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const defaultBaseURL = "http://localhost:11434/v1"

// Config configures the Ollama client.
type Config struct {
	BaseURL     string // OpenAI-compatible endpoint, defaults to local Ollama
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client talks to an Ollama server through its OpenAI-compatible interface.
type Client struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	model      string
	temp       float32
	maxTokens  int
	logger     zerolog.Logger
}

// New creates an Ollama client.
func New(cfg Config, logger zerolog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 160
	}

	// Ollama ignores the API key but the SDK requires one.
	config := openai.DefaultConfig("ollama")
	config.BaseURL = baseURL

	return &Client{
		client:     openai.NewClientWithConfig(config),
		httpClient: &http.Client{},
		baseURL:    baseURL,
		model:      cfg.Model,
		temp:       cfg.Temperature,
		maxTokens:  maxTokens,
		logger:     logger.With().Str("component", "ollama").Logger(),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Pull asks the server to download the configured model. The pull endpoint is
// Ollama-native, not part of the OpenAI surface, so it is called directly.
func (c *Client) Pull(ctx context.Context) error {
	apiRoot := strings.TrimSuffix(c.baseURL, "/v1")

	reqBody, err := json.Marshal(map[string]any{
		"model":  c.model,
		"stream": false,
	})
	if err != nil {
		return fmt.Errorf("encode pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiRoot+"/api/pull", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info().Str("model", c.model).Msg("pulling model")
	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pull model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull model: server returned %d", resp.StatusCode)
	}

	c.logger.Info().Str("model", c.model).Dur("took", time.Since(started)).Msg("model ready")
	return nil
}

// Complete sends one prompt and returns the completion text. An empty
// completion is returned as-is; the caller decides how to treat it.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temp,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
