package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAI-compatible provider defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultGroqModel     = "llama-3.3-70b-versatile"
)

// OpenAIConfig configures a chat-completions client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIClient implements Completer against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	name       string
	cfg        OpenAIConfig
	httpClient *http.Client
}

var _ Completer = (*OpenAIClient)(nil)

// NewOpenAI builds a client for api.openai.com.
func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client) *OpenAIClient {
	return newOpenAICompatible("openai", DefaultOpenAIBaseURL, DefaultOpenAIModel, cfg, httpClient)
}

// NewGroq builds a client for Groq's OpenAI-compatible API.
func NewGroq(cfg OpenAIConfig, httpClient *http.Client) *OpenAIClient {
	return newOpenAICompatible("groq", DefaultGroqBaseURL, DefaultGroqModel, cfg, httpClient)
}

func newOpenAICompatible(name, baseURL, model string, cfg OpenAIConfig, httpClient *http.Client) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = model
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIClient{name: name, cfg: cfg, httpClient: httpClient}
}

// Name implements Completer.
func (c *OpenAIClient) Name() string { return c.name }

type chatRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []map[string]string `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%s client misconfigured: missing api key", c.name)
	}
	body, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []map[string]string{{"role": "user", "content": prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &ServiceError{Provider: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.name, err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s response has no choices", c.name)
	}
	return decoded.Choices[0].Message.Content, nil
}
