// Package openai adapts the official OpenAI SDK to the llm client
// interfaces, including token streaming.
package openai

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"

	"github.com/sweetpotato0/grounded/llm"
	"github.com/sweetpotato0/grounded/message"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

// Provider implements llm.Client and llm.StreamClient for OpenAI.
type Provider struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI provider using the official SDK.
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	params := p.buildParams(req)
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	return &llm.GenerateResponse{
		Message:    message.NewMessage(message.RoleAssistant, completion.Choices[0].Message.Content),
		ResponseID: completion.ID,
	}, nil
}

// GenerateStream implements llm.StreamClient.
func (p *Provider) GenerateStream(ctx context.Context, req *llm.GenerateRequest) (llm.StreamReader, error) {
	if req == nil {
		return nil, fmt.Errorf("stream request cannot be nil")
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))
	return &streamReader{stream: stream}, nil
}

func (p *Provider) buildParams(req *llm.GenerateRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			msgs = append(msgs, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Text()))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(p.config.Model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	} else if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
	} else if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	if req.JSONOnly {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// streamReader adapts the SDK's SSE stream to llm.StreamReader.
type streamReader struct {
	stream    *ssestream.Stream[openai.ChatCompletionChunk]
	announced bool
	pending   string // delta held back while the response id event goes first
}

func (r *streamReader) Next() (llm.Event, error) {
	if r.pending != "" {
		text := r.pending
		r.pending = ""
		return llm.Event{Kind: llm.EventDelta, Text: text}, nil
	}
	for r.stream.Next() {
		chunk := r.stream.Current()
		var text string
		if len(chunk.Choices) > 0 {
			text = chunk.Choices[0].Delta.Content
		}
		if !r.announced && chunk.ID != "" {
			r.announced = true
			r.pending = text
			return llm.Event{Kind: llm.EventResponseID, ResponseID: chunk.ID}, nil
		}
		if text == "" {
			continue
		}
		return llm.Event{Kind: llm.EventDelta, Text: text}, nil
	}
	if err := r.stream.Err(); err != nil {
		return llm.Event{}, fmt.Errorf("OpenAI stream error: %w", err)
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
