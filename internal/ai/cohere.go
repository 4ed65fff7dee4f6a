package ai

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maqala/chat/pkg/models"
)

const cohereBaseURL = "https://api.cohere.com"

// CohereClient implements Embedder, Reranker, and ChatModel against the
// Cohere v2 API. The embed endpoint's input_type field carries the
// asymmetric query/document distinction.
type CohereClient struct {
	config *ClientConfig
	http   *http.Client
	stream *http.Client
}

func NewCohereClient(config *ClientConfig) *CohereClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "embed-multilingual-v3.0"
	}
	if config.RerankModel == "" {
		config.RerankModel = "rerank-multilingual-v3.0"
	}
	if config.ChatModel == "" {
		config.ChatModel = "command-r-08-2024"
	}
	if config.Dim == 0 {
		config.Dim = 1024
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("MAQALA_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &CohereClient{
		config: config,
		http:   &http.Client{Timeout: 10 * time.Second, Transport: transport},
		// Streaming responses stay open for the whole generation; the
		// request context carries the deadline instead.
		stream: &http.Client{Transport: transport},
	}
}

// Embed implements the batched asymmetric embedding call.
func (c *CohereClient) Embed(ctx context.Context, texts []string, kind EmbeddingKind) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"model":           c.config.EmbedModel,
		"texts":           texts,
		"input_type":      string(kind),
		"embedding_types": []string{"float"},
	}

	var out struct {
		Embeddings struct {
			Float [][]float32 `json:"float"`
		} `json:"embeddings"`
	}
	if err := c.post(ctx, c.http, "/v2/embed", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings.Float) != len(texts) {
		return nil, errors.New("cohere embed: response not aligned with input")
	}
	return out.Embeddings.Float, nil
}

// Rerank implements second-stage relevance scoring.
func (c *CohereClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}
	if len(documents) == 0 {
		return nil, nil
	}
	if topN > len(documents) {
		topN = len(documents)
	}

	payload := map[string]any{
		"model":     c.config.RerankModel,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}

	var out struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := c.post(ctx, c.http, "/v2/rerank", payload, &out); err != nil {
		return nil, err
	}

	results := make([]RerankResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, RerankResult{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}
	return results, nil
}

// Chat returns the full grounded answer synchronously.
func (c *CohereClient) Chat(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.New("PROVIDER_API_KEY unset")
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	payload := c.chatPayload(system, turns, docs, false)

	var out struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := c.post(ctx, c.http, "/v2/chat", payload, &out); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, part := range out.Message.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no chat content")
	}
	return sb.String(), nil
}

// ChatStream streams the grounded answer as server-sent events,
// forwarded as text deltas in generation order.
func (c *CohereClient) ChatStream(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (<-chan TextDelta, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}

	payload := c.chatPayload(system, turns, docs, true)
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cohereBaseURL+"/v2/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.New("cohere chat non-200: " + resp.Status)
	}

	ch := make(chan TextDelta)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if line == "" || line == "[DONE]" {
				continue
			}

			var ev struct {
				Type  string `json:"type"`
				Delta struct {
					Message struct {
						Content struct {
							Text string `json:"text"`
						} `json:"content"`
					} `json:"message"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content-delta":
				select {
				case ch <- TextDelta{Text: ev.Delta.Message.Content.Text}:
				case <-ctx.Done():
					return
				}
			case "message-end":
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			ch <- TextDelta{Err: err}
		}
	}()
	return ch, nil
}

func (c *CohereClient) chatPayload(system string, turns []models.ChatTurn, docs []models.RetrievedDocument, stream bool) map[string]any {
	messages := make([]map[string]string, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	for _, t := range turns {
		messages = append(messages, map[string]string{"role": t.Role, "content": t.Content})
	}

	payload := map[string]any{
		"model":    c.config.ChatModel,
		"messages": messages,
		"stream":   stream,
	}
	if len(docs) > 0 {
		cd := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			cd = append(cd, map[string]any{
				"id":   d.ID,
				"data": map[string]string{"text": d.Text},
			})
		}
		payload["documents"] = cd
	}
	return payload
}

// post sends a JSON request and decodes the JSON response.
func (c *CohereClient) post(ctx context.Context, client *http.Client, path string, payload, out any) error {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cohereBaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message != "" {
			return errors.New(e.Message)
		}
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// setHeaders sets common headers for Cohere requests
func (c *CohereClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
}
