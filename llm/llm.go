// Package llm defines the contract the pipeline uses to talk to a completion
// service. Providers live under contrib/provider.
package llm

import (
	"context"

	"github.com/sweetpotato0/grounded/message"
)

// GenerateRequest bundles inputs for a non-streaming invocation.
type GenerateRequest struct {
	Messages    []*message.Message
	Temperature float64 // 0 keeps the provider default
	MaxTokens   int64   // 0 keeps the provider default
	JSONOnly    bool    // request a JSON object response when the provider supports it

	// PreviousResponseID continues a provider-side conversation when the
	// provider tracks response identifiers across turns.
	PreviousResponseID string
}

// GenerateResponse captures the reply for non-streaming calls.
type GenerateResponse struct {
	Message    *message.Message
	ResponseID string
}

// Client defines the interface for completion providers.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// StreamClient is implemented by providers that support token streaming.
type StreamClient interface {
	Client

	// GenerateStream starts a streamed generation. The returned reader is
	// consumed by exactly one goroutine and must release its underlying
	// connection synchronously when Cancel is called.
	GenerateStream(ctx context.Context, req *GenerateRequest) (StreamReader, error)
}

// StreamReader is a pull-based iterator over stream events.
// Next returns io.EOF after the final event.
type StreamReader interface {
	Next() (Event, error)
	Cancel()
}
