// Package llm provides the chat completion client used by every pipeline agent.
// The pipeline depends only on the Client interface; the Ollama backend is the
// default local implementation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chorus/internal/logging"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client produces a completion for an ordered list of messages.
type Client interface {
	// Chat returns the assistant reply text for the given transcript.
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// ModelError wraps transport or service failures from the chat backend so
// callers can distinguish them from contract violations in the reply text.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s call failed: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// =============================================================================
// OLLAMA CHAT CLIENT
// =============================================================================

// OllamaClient talks to a local Ollama server's /api/chat endpoint.
type OllamaClient struct {
	endpoint string
	client   *http.Client
}

// NewOllamaClient creates a chat client for the given endpoint.
// An empty endpoint defaults to the standard local Ollama address.
func NewOllamaClient(endpoint string, timeout time.Duration) *OllamaClient {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &OllamaClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// Chat sends the transcript to Ollama and returns the reply content.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, fmt.Sprintf("chat %s", model))
	defer timer.Stop()

	logging.LLMDebug("Chat request: model=%s, messages=%d", model, len(messages))

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &ModelError{Model: model, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", &ModelError{Model: model, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		logging.Get(logging.CategoryLLM).Error("Chat request failed: model=%s: %v", model, err)
		return "", &ModelError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
		logging.Get(logging.CategoryLLM).Error("Chat request failed: model=%s: %v", model, err)
		return "", &ModelError{Model: model, Err: err}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ModelError{Model: model, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	logging.LLMDebug("Chat response: model=%s, content_len=%d", model, len(result.Message.Content))
	return result.Message.Content, nil
}
