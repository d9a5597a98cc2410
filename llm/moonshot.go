package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/config"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("chat model api key not configured")

const (
	requestTimeout = 60 * time.Second
	temperature    = 0.7
)

// Client wraps an OpenAI-compatible chat completion endpoint
type Client struct {
	client     openai.Client
	model      string
	configured bool
	log        *logrus.Entry
}

// NewClient creates a chat client for the configured endpoint
func NewClient(cfg config.MoonshotConfig, log *logrus.Entry, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithRequestTimeout(requestTimeout),
	}

	return &Client{
		client:     openai.NewClient(append(base, opts...)...),
		model:      cfg.Model,
		configured: cfg.APIKey != "",
		log:        log,
	}
}

// Configured reports whether an API key is present
func (c *Client) Configured() bool {
	return c.configured
}

// Complete sends one system and one user message and returns the trimmed reply
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	c.log.WithFields(logrus.Fields{
		"model":    c.model,
		"duration": time.Since(start).String(),
		"tokens":   completion.Usage.TotalTokens,
	}).Debug("chat completion finished")

	return reply, nil
}
