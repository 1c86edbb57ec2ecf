package moonshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Wire types for the OpenAI-compatible chat/completions endpoint.

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function chatToolCallDetail `json:"function"`
}

type chatToolCallDetail struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatToolDef struct {
	Type     string          `json:"type"`
	Function chatToolDefFunc `json:"function"`
}

type chatToolDefFunc struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	Tools          []chatToolDef  `json:"tools,omitempty"`
	ToolChoice     string         `json:"tool_choice,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatChoiceMessage `json:"message"`
	} `json:"choices"`
	Error interface{} `json:"error"`
}

type chatChoiceMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls"`
}

func doChat(ctx context.Context, client *http.Client, cfg Config, req chatRequest) (*chatChoiceMessage, error) {
	jsonBody, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", cfg.BaseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode kimi response: %v", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("kimi api error: %v", result.Error)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("kimi api error: empty choices")
	}
	return &result.Choices[0].Message, nil
}

// ChatClient is a thin one-shot client for prompts that expect a plain or
// JSON text answer, without the ADK session machinery.
type ChatClient struct {
	config Config
	client *http.Client
}

// NewChatClient creates a chat client for the configured endpoint.
func NewChatClient(cfg Config) *ChatClient {
	cfg.applyDefaults()
	return &ChatClient{
		config: cfg,
		client: &http.Client{},
	}
}

// Complete sends a system+user prompt pair and returns the text answer.
func (c *ChatClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temperature,
	}
	choice, err := doChat(ctx, c.client, c.config, req)
	if err != nil {
		return "", err
	}
	return choice.Content, nil
}

// CompleteJSON is Complete with the response constrained to a JSON object.
func (c *ChatClient) CompleteJSON(ctx context.Context, system, user string, temperature float64) (string, error) {
	req := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    &temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	choice, err := doChat(ctx, c.client, c.config, req)
	if err != nil {
		return "", err
	}
	return choice.Content, nil
}
