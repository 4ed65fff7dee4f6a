// Package ai provides the embedding, rerank, and chat-completion clients
// consumed by the retrieval pipeline.
package ai

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/maqala/chat/pkg/models"
)

// EmbeddingKind selects the asymmetric embedding mode. Queries and
// documents must be embedded with different kinds; this is part of the
// provider contract, not an optimization.
type EmbeddingKind string

const (
	EmbedQuery    EmbeddingKind = "search_query"
	EmbedDocument EmbeddingKind = "search_document"
)

// Embedder maps texts to dense vectors, aligned 1:1 with input order.
// Implementations must batch: one call per Embed invocation.
type Embedder interface {
	Embed(ctx context.Context, texts []string, kind EmbeddingKind) ([][]float32, error)
}

// RerankResult scores one candidate; Index references the input slice.
type RerankResult struct {
	Index          int
	RelevanceScore float64
}

// Reranker scores (query, candidate) pairs and returns the top candidates
// sorted by relevance descending.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)
}

// TextDelta is one fragment of a streamed chat completion. A delta with
// Err set terminates the stream; the channel is closed afterwards.
type TextDelta struct {
	Text string
	Err  error
}

// ChatModel generates grounded answers, synchronously or as a stream of
// text fragments in generation order.
type ChatModel interface {
	Chat(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (string, error)
	ChatStream(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (<-chan TextDelta, error)
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderCohere Provider = "cohere"
	ProviderGemini Provider = "gemini"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider     Provider
	APIKey       string
	EmbedModel   string
	RerankModel  string
	ChatModel    string
	Dim          int
	ProjectID    string
	Location     string
	RerankAPIKey string // Cohere key used for reranking when the main provider has no rerank API
}

// Clients bundles the three collaborator clients a request needs.
type Clients struct {
	Embedder Embedder
	Reranker Reranker
	Chat     ChatModel
}

// NewClients creates the provider clients based on configuration.
func NewClients(config *ClientConfig) (*Clients, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderCohere:
		c := NewCohereClient(config)
		return &Clients{Embedder: c, Reranker: c, Chat: c}, nil
	case ProviderGemini:
		g, err := NewGeminiClient(context.Background(), config)
		if err != nil {
			return nil, err
		}
		// Gemini has no rerank endpoint. Use Cohere's when a key is
		// configured, otherwise preserve embedding order.
		var rr Reranker = PassthroughReranker{}
		if strings.TrimSpace(config.RerankAPIKey) != "" {
			rc := *config
			rc.APIKey = config.RerankAPIKey
			rr = NewCohereClient(&rc)
		}
		return &Clients{Embedder: g, Reranker: rr, Chat: g}, nil
	case ProviderStub:
		s := NewStubClient(config.Dim)
		return &Clients{Embedder: s, Reranker: s, Chat: s}, nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// PassthroughReranker keeps candidates in their input order with neutral
// scores. Used when the configured provider cannot rerank.
type PassthroughReranker struct{}

func (PassthroughReranker) Rerank(_ context.Context, _ string, documents []string, topN int) ([]RerankResult, error) {
	n := min(topN, len(documents))
	out := make([]RerankResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RerankResult{Index: i, RelevanceScore: 0})
	}
	return out, nil
}

// StubClient is a deterministic implementation of all three client
// interfaces for testing and local development.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed returns deterministic pseudo-embeddings derived from the text.
func (s *StubClient) Embed(_ context.Context, texts []string, _ EmbeddingKind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, s.dim)
		h := fnv.New32a()
		_, _ = h.Write([]byte(t))
		seed := h.Sum32()
		for j := range v {
			seed = seed*1664525 + 1013904223
			v[j] = float32(seed%1000)/500 - 1
		}
		out[i] = v
	}
	return out, nil
}

// Rerank keeps input order with slowly decaying scores.
func (s *StubClient) Rerank(_ context.Context, _ string, documents []string, topN int) ([]RerankResult, error) {
	n := min(topN, len(documents))
	out := make([]RerankResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RerankResult{Index: i, RelevanceScore: 0.9 - float64(i)*0.1})
	}
	return out, nil
}

// Chat echoes the last user turn.
func (s *StubClient) Chat(_ context.Context, _ string, turns []models.ChatTurn, _ []models.RetrievedDocument) (string, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "user" {
			return "stub: " + turns[i].Content, nil
		}
	}
	return "stub", nil
}

// ChatStream streams the Chat answer word by word.
func (s *StubClient) ChatStream(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (<-chan TextDelta, error) {
	text, err := s.Chat(ctx, system, turns, docs)
	if err != nil {
		return nil, err
	}
	ch := make(chan TextDelta)
	go func() {
		defer close(ch)
		for _, w := range strings.SplitAfter(text, " ") {
			select {
			case ch <- TextDelta{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
