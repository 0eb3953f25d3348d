package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const duckduckgoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML search endpoint. No API key required, which
// makes it the default web collaborator for examples and tests.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
}

// DuckDuckGoOption customises the client.
type DuckDuckGoOption func(*DuckDuckGo)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if c != nil {
			d.client = c
		}
	}
}

// WithEndpoint overrides the search endpoint URL.
func WithEndpoint(endpoint string) DuckDuckGoOption {
	return func(d *DuckDuckGo) {
		if strings.TrimSpace(endpoint) != "" {
			d.endpoint = endpoint
		}
	}
}

// NewDuckDuckGo creates the scraping client.
func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: duckduckgoEndpoint,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if count <= 0 {
		count = 5
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "grounded/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse web search response: %w", err)
	}

	results := make([]Result, 0, count)
	doc.Find(".result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find(".result__title").Text())
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		href, _ := s.Find(".result__title a").Attr("href")
		if title == "" && snippet == "" {
			return true
		}
		results = append(results, Result{
			Title:   title,
			Snippet: snippet,
			URL:     cleanRedirect(href),
			Rank:    len(results) + 1,
		})
		return len(results) < count
	})
	return results, nil
}

// cleanRedirect unwraps the uddg redirect parameter DuckDuckGo wraps links in.
func cleanRedirect(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return href
}
