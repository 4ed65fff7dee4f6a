package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/maqala/chat/internal/ai"
)

// MockEmbedder implements the ai.Embedder interface for testing
type MockEmbedder struct {
	mu        sync.Mutex
	EmbedFunc func(ctx context.Context, texts []string, kind ai.EmbeddingKind) ([][]float32, error)
	Calls     int
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string, kind ai.EmbeddingKind) ([][]float32, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts, kind)
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// MockReranker implements the ai.Reranker interface for testing
type MockReranker struct {
	RerankFunc func(ctx context.Context, query string, documents []string, topN int) ([]ai.RerankResult, error)
	Calls      int
}

func (m *MockReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]ai.RerankResult, error) {
	m.Calls++
	if m.RerankFunc != nil {
		return m.RerankFunc(ctx, query, documents, topN)
	}
	out := make([]ai.RerankResult, 0, topN)
	for i := 0; i < topN && i < len(documents); i++ {
		out = append(out, ai.RerankResult{Index: i, RelevanceScore: 0.9})
	}
	return out, nil
}

// vectorsByText lets a test pin the embedding of each chunk, with the
// query always at (1, 0).
func vectorsByText(byText map[string][]float32) func(ctx context.Context, texts []string, kind ai.EmbeddingKind) ([][]float32, error) {
	return func(_ context.Context, texts []string, kind ai.EmbeddingKind) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			if kind == ai.EmbedQuery {
				out[i] = []float32{1, 0}
				continue
			}
			v, ok := byText[t]
			if !ok {
				return nil, errors.New("unexpected text: " + t)
			}
			out[i] = v
		}
		return out, nil
	}
}

func TestRetrieve_EmptyChunks_NoProviderCalls(t *testing.T) {
	embedder := &MockEmbedder{}
	reranker := &MockReranker{}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	res, err := r.Retrieve(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Documents) != 0 || res.TopSimilarity != 0 || res.TopRerank != 0 {
		t.Errorf("expected zero result, got %+v", res)
	}
	if embedder.Calls != 0 {
		t.Errorf("expected 0 embed calls, got %d", embedder.Calls)
	}
	if reranker.Calls != 0 {
		t.Errorf("expected 0 rerank calls, got %d", reranker.Calls)
	}
}

func TestRetrieve_BelowThreshold_SkipsRerank(t *testing.T) {
	// All chunks nearly orthogonal to the query: best similarity ~0.1.
	embedder := &MockEmbedder{EmbedFunc: vectorsByText(map[string][]float32{
		"c1": {0.1, 1},
		"c2": {0.05, 1},
	})}
	reranker := &MockReranker{}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	res, err := r.Retrieve(context.Background(), "query", []string{"c1", "c2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Documents) != 0 {
		t.Errorf("expected no documents below threshold, got %v", res.Documents)
	}
	if reranker.Calls != 0 {
		t.Errorf("rerank must be skipped below the relevance threshold, got %d calls", reranker.Calls)
	}
	if res.TopSimilarity >= DefaultRelevanceThreshold {
		t.Errorf("top similarity %v should be below threshold", res.TopSimilarity)
	}
}

func TestRetrieve_RerankOrderIsAuthoritative(t *testing.T) {
	embedder := &MockEmbedder{EmbedFunc: vectorsByText(map[string][]float32{
		"best":   {1, 0},
		"second": {0.9, 0.4},
		"third":  {0.8, 0.6},
	})}
	// Reverse the embedding order: the reranker prefers "third".
	reranker := &MockReranker{RerankFunc: func(_ context.Context, _ string, documents []string, topN int) ([]ai.RerankResult, error) {
		if len(documents) != 3 {
			t.Errorf("expected 3 candidates, got %d", len(documents))
		}
		if topN != DefaultRerankTopN {
			t.Errorf("expected topN=%d, got %d", DefaultRerankTopN, topN)
		}
		return []ai.RerankResult{
			{Index: 2, RelevanceScore: 0.95},
			{Index: 0, RelevanceScore: 0.60},
		}, nil
	}}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	res, err := r.Retrieve(context.Background(), "query", []string{"best", "second", "third"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(res.Documents))
	}
	if res.Documents[0].Text != "third" || res.Documents[0].ID != "doc-0" {
		t.Errorf("first document should be the reranker's pick: %+v", res.Documents[0])
	}
	if res.Documents[1].Text != "best" || res.Documents[1].ID != "doc-1" {
		t.Errorf("second document wrong: %+v", res.Documents[1])
	}
	if res.TopRerank != 0.95 {
		t.Errorf("TopRerank = %v, want first rerank score 0.95", res.TopRerank)
	}
	if res.TopSimilarity < 0.99 {
		t.Errorf("TopSimilarity = %v, want ~1 for the identical chunk", res.TopSimilarity)
	}
}

func TestRetrieve_EmptyRerank_FallsBackToSimilarityScore(t *testing.T) {
	embedder := &MockEmbedder{EmbedFunc: vectorsByText(map[string][]float32{
		"only": {1, 0},
	})}
	reranker := &MockReranker{RerankFunc: func(_ context.Context, _ string, _ []string, _ int) ([]ai.RerankResult, error) {
		return nil, nil
	}}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	res, err := r.Retrieve(context.Background(), "query", []string{"only"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TopRerank != res.TopSimilarity {
		t.Errorf("TopRerank should fall back to TopSimilarity: %v vs %v", res.TopRerank, res.TopSimilarity)
	}
}

func TestRetrieve_EmbedError_Propagates(t *testing.T) {
	embedder := &MockEmbedder{EmbedFunc: func(_ context.Context, _ []string, _ ai.EmbeddingKind) ([][]float32, error) {
		return nil, errors.New("provider down")
	}}
	reranker := &MockReranker{}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	_, err := r.Retrieve(context.Background(), "query", []string{"c1"})
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}
	if reranker.Calls != 0 {
		t.Errorf("rerank must not run after embed failure, got %d calls", reranker.Calls)
	}
}

func TestRetrieve_RerankError_DegradesToSimilarityOrder(t *testing.T) {
	embedder := &MockEmbedder{EmbedFunc: vectorsByText(map[string][]float32{
		"a": {1, 0},
		"b": {0.9, 0.4},
	})}
	reranker := &MockReranker{RerankFunc: func(_ context.Context, _ string, _ []string, _ int) ([]ai.RerankResult, error) {
		return nil, errors.New("rerank down")
	}}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	res, err := r.Retrieve(context.Background(), "query", []string{"b", "a"})
	if err != nil {
		t.Fatalf("rerank failure must not fail retrieval: %v", err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("expected similarity-ordered documents, got %d", len(res.Documents))
	}
	if res.Documents[0].Text != "a" {
		t.Errorf("expected highest-similarity chunk first, got %q", res.Documents[0].Text)
	}
}

func TestRetrieve_TopKLimit(t *testing.T) {
	byText := map[string][]float32{}
	chunks := make([]string, 0, 15)
	for i := 0; i < 15; i++ {
		name := string(rune('a' + i))
		byText[name] = []float32{1, float32(i) * 0.01}
		chunks = append(chunks, name)
	}
	embedder := &MockEmbedder{EmbedFunc: vectorsByText(byText)}
	var candidateCount int
	reranker := &MockReranker{RerankFunc: func(_ context.Context, _ string, documents []string, topN int) ([]ai.RerankResult, error) {
		candidateCount = len(documents)
		return []ai.RerankResult{{Index: 0, RelevanceScore: 0.8}}, nil
	}}
	r := NewRetriever(embedder, reranker, zerolog.Nop())

	if _, err := r.Retrieve(context.Background(), "query", chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candidateCount != DefaultTopK {
		t.Errorf("reranker received %d candidates, want top %d", candidateCount, DefaultTopK)
	}
}
