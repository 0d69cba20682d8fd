// Package llm wraps the conversational AI backend behind a narrow
// session-aware interface: one message history per conversation context,
// primary model with a fallback on transient failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/discord-ai-bridge/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Config selects the backend endpoint and models.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	FallbackModel   string
	MaxHistoryTurns int // user+assistant pairs retained per context
}

// Client talks to an OpenAI-compatible chat completions endpoint and keeps
// a rolling message history per conversation context.
type Client struct {
	api             *openai.Client
	model           string
	fallback        string
	maxHistoryTurns int

	mu        sync.Mutex
	histories map[string][]openai.ChatCompletionMessage
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	turns := cfg.MaxHistoryTurns
	if turns <= 0 {
		turns = 20
	}
	return &Client{
		api:             openai.NewClientWithConfig(oc),
		model:           cfg.Model,
		fallback:        cfg.FallbackModel,
		maxHistoryTurns: turns,
		histories:       make(map[string][]openai.ChatCompletionMessage),
	}
}

// Respond sends text within the given conversation context and returns the
// assistant's reply. Transient failures (network, 429, 5xx) retry once on
// the fallback model when one is configured; the context history only
// records exchanges that succeeded.
func (c *Client) Respond(ctx context.Context, contextRef, text string) (string, error) {
	messages := c.snapshot(contextRef)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	reply, err := c.complete(ctx, c.model, messages)
	if err != nil && errors.Is(err, ErrTransient) && c.fallback != "" && c.fallback != c.model {
		logging.Warnw("llm: primary model failed, trying fallback", "model", c.model, "fallback", c.fallback, "err", err)
		reply, err = c.complete(ctx, c.fallback, messages)
	}
	if err != nil {
		return "", err
	}

	c.record(contextRef, text, reply)
	return reply, nil
}

func (c *Client) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrTransient)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: status %d", ErrTransient, apiErr.HTTPStatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrPermanent, apiErr.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func (c *Client) snapshot(contextRef string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.histories[contextRef]
	out := make([]openai.ChatCompletionMessage, len(h))
	copy(out, h)
	return out
}

func (c *Client) record(contextRef, userText, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := append(c.histories[contextRef],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	if max := c.maxHistoryTurns * 2; len(h) > max {
		h = h[len(h)-max:]
	}
	c.histories[contextRef] = h
}

// Forget drops the history for a conversation context.
func (c *Client) Forget(contextRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.histories, contextRef)
}
