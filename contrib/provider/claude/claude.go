// Package claude adapts the official Anthropic SDK to the llm client
// interfaces, including token streaming and thinking deltas.
package claude

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
)

// Config holds Claude provider configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration.
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Provider implements llm.Client and llm.StreamClient for Claude.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK.
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	resp, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("Claude API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &llm.GenerateResponse{
		Message:    message.NewMessage(message.RoleAssistant, sb.String()),
		ResponseID: resp.ID,
	}, nil
}

// GenerateStream implements llm.StreamClient.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.GenerateRequest) (llm.StreamReader, error) {
	if req == nil {
		return nil, fmt.Errorf("stream request cannot be nil")
	}
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
	return &streamReader{stream: stream}, nil
}

func (p *Provider) buildParams(req *llm.GenerateRequest) anthropic.MessageNewParams {
	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Text())
		case message.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case message.RoleAssistant:
			conversation = append(conversation,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text())))
		}
	}
	if req.JSONOnly {
		// Claude has no structured-output switch; instruct instead.
		systemPrompts = append(systemPrompts, "Respond with a single JSON object and nothing else.")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemPrompts, "\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	} else if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	return params
}

// streamReader adapts the SDK's SSE stream to llm.StreamReader.
type streamReader struct {
	stream    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	messageID string
}

func (r *streamReader) Next() (llm.Event, error) {
	for r.stream.Next() {
		event := r.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			r.messageID = ev.Message.ID
			return llm.Event{Kind: llm.EventResponseID, ResponseID: ev.Message.ID}, nil
		case anthropic.ContentBlockDeltaEvent:
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				return llm.Event{Kind: llm.EventDelta, Text: ev.Delta.Text}, nil
			case "thinking_delta":
				if ev.Delta.Thinking == "" {
					continue
				}
				return llm.Event{
					Kind: llm.EventReasoning,
					Reasoning: &llm.ReasoningFragment{
						ItemID:      r.messageID,
						OutputIndex: int(ev.Index),
						Text:        ev.Delta.Thinking,
					},
				}, nil
			}
		}
	}
	if err := r.stream.Err(); err != nil {
		return llm.Event{}, fmt.Errorf("Claude stream error: %w", err)
	}
	return llm.Event{}, io.EOF
}

func (r *streamReader) Cancel() {
	_ = r.stream.Close()
}

var (
	_ llm.Client       = (*Provider)(nil)
	_ llm.StreamClient = (*Provider)(nil)
)
