// Package rest is an HTTP client for a hosted hybrid search service. Auth is
// bearer-token based; tokens come from an authcache.Cache and a 401 from the
// service invalidates the cached token once before the request is retried.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	grounderr "github.com/sweetpotato0/grounded/errors"
	"github.com/sweetpotato0/grounded/pkg/authcache"
	"github.com/sweetpotato0/grounded/search"
)

// Config holds connection settings for the search service.
type Config struct {
	Endpoint     string // base URL, e.g. https://search.example.net
	Index        string // default index when the request names none
	Resource     string // auth resource handed to the token cache
	APIVersion   string
	Timeout      time.Duration
	MaxRetries   int
	SemanticName string // semantic ranking configuration name
}

// DefaultConfig returns settings suitable for most deployments.
func DefaultConfig(endpoint, index string) *Config {
	return &Config{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Index:      index,
		Resource:   endpoint,
		APIVersion: "2024-07-01",
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// Client implements search.Service and search.Upserter over HTTP.
type Client struct {
	cfg    *Config
	http   *http.Client
	tokens *authcache.Cache
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client. tokens must not be nil.
func New(cfg *Config, tokens *authcache.Cache, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Search       string    `json:"search"`
	Vector       []float32 `json:"vector,omitempty"`
	Filter       string    `json:"filter,omitempty"`
	Top          int       `json:"top,omitempty"`
	QueryType    string    `json:"queryType,omitempty"`
	SemanticName string    `json:"semanticConfiguration,omitempty"`
	Select       string    `json:"select,omitempty"`
}

type searchDocument struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	URL         string         `json:"url,omitempty"`
	PageNumber  int            `json:"pageNumber,omitempty"`
	SourceType  string         `json:"sourceType,omitempty"`
	Score       float32        `json:"@search.score,omitempty"`
	RerankScore float32        `json:"@search.rerankerScore,omitempty"`
	Highlights  []string       `json:"@search.highlights,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type searchResponse struct {
	Value  []searchDocument    `json:"value"`
	Count  int                 `json:"@odata.count"`
	Facets map[string][]string `json:"@search.facets,omitempty"`
}

// Search implements search.Service.
func (c *Client) Search(ctx context.Context, query string, opts search.Options) (*search.Results, error) {
	index := opts.Index
	if index == "" {
		index = c.cfg.Index
	}

	body := searchRequest{
		Search: query,
		Vector: opts.Vector,
		Filter: opts.Filter,
		Top:    opts.Top,
	}
	if opts.SemanticRank {
		body.QueryType = "semantic"
		body.SemanticName = c.cfg.SemanticName
	}
	if opts.SummaryOnly {
		body.Select = "id,title,summary,url,pageNumber,sourceType"
	}

	var decoded searchResponse
	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", c.cfg.Endpoint, index, c.cfg.APIVersion)
	if err := c.post(ctx, url, body, &decoded); err != nil {
		return nil, err
	}

	results := make([]search.Result, 0, len(decoded.Value))
	for _, doc := range decoded.Value {
		content := doc.Content
		if opts.SummaryOnly && doc.Summary != "" {
			content = doc.Summary
		}
		results = append(results, search.Result{
			ID:          doc.ID,
			Title:       doc.Title,
			Content:     content,
			URL:         doc.URL,
			PageNumber:  doc.PageNumber,
			Score:       doc.Score,
			RerankScore: doc.RerankScore,
			Highlights:  doc.Highlights,
			SourceType:  doc.SourceType,
			Metadata:    doc.Metadata,
		})
	}
	count := decoded.Count
	if count == 0 {
		count = len(results)
	}
	return &search.Results{Results: results, Count: count, Facets: decoded.Facets}, nil
}

// Upsert implements search.Upserter.
func (c *Client) Upsert(ctx context.Context, docs ...search.Result) error {
	if len(docs) == 0 {
		return nil
	}
	type indexAction struct {
		Action string `json:"@search.action"`
		searchDocument
	}
	actions := make([]indexAction, 0, len(docs))
	for _, doc := range docs {
		actions = append(actions, indexAction{
			Action: "mergeOrUpload",
			searchDocument: searchDocument{
				ID:         doc.ID,
				Title:      doc.Title,
				Content:    doc.Content,
				URL:        doc.URL,
				PageNumber: doc.PageNumber,
				SourceType: doc.SourceType,
				Metadata:   doc.Metadata,
			},
		})
	}
	url := fmt.Sprintf("%s/indexes/%s/docs/index?api-version=%s", c.cfg.Endpoint, c.cfg.Index, c.cfg.APIVersion)
	return c.post(ctx, url, map[string]any{"value": actions}, nil)
}

// post sends one authenticated request, retrying once with a fresh token on
// 401 and on transient 5xx up to MaxRetries.
func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		tok, err := c.tokens.Get(ctx, c.cfg.Resource)
		if err != nil {
			return fmt.Errorf("acquire search token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok.Value)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			c.tokens.Invalidate(c.cfg.Resource)
			lastErr = fmt.Errorf("search service rejected token")
			continue
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("search request: %w", grounderr.ErrNotFound)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("search service error: status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("search request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		if readErr != nil {
			return fmt.Errorf("read search response: %w", readErr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		return nil
	}
	return lastErr
}

var (
	_ search.Service  = (*Client)(nil)
	_ search.Upserter = (*Client)(nil)
)
