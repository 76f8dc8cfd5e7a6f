package reflection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient is the minimal LLM surface the reflection engine needs.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// ClientConfig selects and configures the chat provider.
type ClientConfig struct {
	Provider string // openai or ollama
	Model    string
	APIBase  string
	APIKey   string
}

// NewClient builds a ChatClient from config.
func NewClient(cfg ClientConfig) (ChatClient, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("reflection: openai provider requires an API key")
		}
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.APIBase != "" {
			oc.BaseURL = cfg.APIBase
		}
		return &openAIClient{
			client: openai.NewClientWithConfig(oc),
			model:  cfg.Model,
		}, nil
	case "ollama":
		base := cfg.APIBase
		if base == "" {
			base = "http://localhost:11434"
		}
		return &ollamaClient{
			baseURL: strings.TrimRight(base, "/"),
			model:   cfg.Model,
			http:    &http.Client{Timeout: 120 * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("reflection: unknown LLM provider %q", cfg.Provider)
	}
}

type openAIClient struct {
	client *openai.Client
	model  string
}

func (c *openAIClient) Chat(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type ollamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (c *ollamaClient) Chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama chat returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama chat error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}
