// Package gemini implements the llm.Client interface on top of the
// Google GenAI SDK (Gemini API backend).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/driverline/screener/internal/llm"
	applog "github.com/driverline/screener/internal/logger"
	"github.com/driverline/screener/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 2
	retryBaseDelay    = 500 * time.Millisecond
)

// Client wraps the Google GenAI client behind the llm.Client contract.
type Client struct {
	client     *genai.Client
	modelName  string
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a Client configured for the Gemini API backend.
func NewClient(ctx context.Context, apiKey, model string, maxRetries int, logger *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		client:     client,
		modelName:  model,
		maxRetries: maxRetries,
		logger:     applog.WithCommonFields(logger, "gemini", model),
	}, nil
}

// Complete sends the ordered messages to Gemini and returns the full
// textual response. Transient failures are retried with backoff and
// reported as llm.ErrUnavailable when retries are exhausted.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	contents, cfg, err := convert(messages)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying gemini request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := utils.WaitFor(ctx, delay); err != nil {
				return "", fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
			}
		}

		resp, err := c.client.Models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err != nil {
			lastErr = err
			continue
		}

		text := collectText(resp)
		if text == "" {
			lastErr = errors.New("gemini api returned empty response")
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: generate content: %w", llm.ErrUnavailable, lastErr)
}

// CompleteStreaming streams the response, invoking onChunk for every
// text fragment, and returns the assembled full text.
func (c *Client) CompleteStreaming(ctx context.Context, messages []llm.Message, onChunk llm.ChunkFunc) (string, error) {
	contents, cfg, err := convert(messages)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.modelName, contents, cfg) {
		if err != nil {
			return "", fmt.Errorf("%w: stream content: %w", llm.ErrUnavailable, err)
		}
		chunk := collectText(resp)
		if chunk == "" {
			continue
		}
		builder.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return "", fmt.Errorf("deliver chunk: %w", err)
			}
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("%w: gemini api returned empty stream", llm.ErrUnavailable)
	}
	return text, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.modelName
}

// convert maps llm messages onto genai contents. System messages become
// the system instruction; there is at most one per request.
func convert(messages []llm.Message) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(messages) == 0 {
		return nil, nil, errors.New("at least one message is required")
	}

	var cfg *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		if text == "" {
			continue
		}
		switch msg.Role {
		case llm.RoleSystem:
			if cfg == nil {
				cfg = &genai.GenerateContentConfig{}
			}
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: text}},
			}
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: text}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: text}},
			})
		}
	}

	if len(contents) == 0 {
		return nil, nil, errors.New("no user or assistant content to send")
	}

	return contents, cfg, nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
	}

	return strings.TrimSpace(builder.String())
}
