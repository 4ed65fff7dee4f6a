// Package websearch provides the live web search client used as the
// last retrieval fallback.
package websearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Client performs a live web search.
type Client interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

const tavilyURL = "https://api.tavily.com/search"

// TavilyClient implements Client against the Tavily search API.
type TavilyClient struct {
	apiKey string
	http   *http.Client
}

func NewTavilyClient(apiKey string) *TavilyClient {
	transport := &http.Transport{}
	if skipTLS, _ := strconv.ParseBool(os.Getenv("MAQALA_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &TavilyClient{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}
}

// Search issues the query and maps hits to Results.
func (c *TavilyClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if c.apiKey == "" {
		return nil, errors.New("WEB_SEARCH_API_KEY unset")
	}

	payload := map[string]any{
		"query":       query,
		"max_results": count,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyURL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("tavily search non-200: " + resp.Status)
	}

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{Title: r.Title, Link: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// StubClient returns canned results, for tests and local development.
type StubClient struct {
	Results []Result
	Fail    bool
}

func (s *StubClient) Search(_ context.Context, _ string, count int) ([]Result, error) {
	if s.Fail {
		return nil, errors.New("stub search failure")
	}
	if count < len(s.Results) {
		return s.Results[:count], nil
	}
	return s.Results, nil
}
