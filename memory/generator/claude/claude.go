// Package claude writes session prompts with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-recall/core"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultSystemPrompt frames the model as the session host.
const DefaultSystemPrompt = `You help a supportive wellbeing companion open its next conversation with a user.
Write short, warm, specific questions grounded in the previous sessions.
Never diagnose and never give medical advice.`

// ErrEmptyResponse is returned when the model answers without text.
var ErrEmptyResponse = errors.New("empty response")

// Config configures the generator.
type Config struct {
	// APIKey authenticates with Anthropic. Required.
	APIKey string

	// Model is the Claude model to use.
	Model string

	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
}

// Generator implements memory.Generator on top of a Claude client.
type Generator struct {
	client       *anthropic.Client
	model        string
	systemPrompt string
}

// New creates a Generator. Extra request options (base URL, retries, HTTP
// client) are passed to the Anthropic client.
func New(cfg Config, opts ...option.RequestOption) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)

	return &Generator{
		client:       &client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// Generate sends req as a single user message and returns the text blocks
// of the reply joined together.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: g.systemPrompt},
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		log.Printf("[CLAUDE] API error: %v", err)
		return "", fmt.Errorf("claude api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("[CLAUDE] Generated %d chars (%d input, %d output tokens)",
		text.Len(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return text.String(), nil
}
