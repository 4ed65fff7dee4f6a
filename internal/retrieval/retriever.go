// Package retrieval ranks an article's chunks against a query using
// embeddings and a second-stage rerank.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/pkg/models"
)

// Defaults for the retrieval cutoffs. All are overridable via config.
const (
	DefaultTopK               = 10
	DefaultRerankTopN         = 3
	DefaultRelevanceThreshold = 0.25
)

// Result is the outcome of one retrieval pass.
type Result struct {
	Documents     []models.RetrievedDocument
	TopSimilarity float64
	TopRerank     float64
}

// Retriever ranks chunks by embedding similarity and reranks the head.
type Retriever struct {
	Embedder ai.Embedder
	Reranker ai.Reranker

	TopK               int
	RerankTopN         int
	RelevanceThreshold float64

	Logger zerolog.Logger
}

// NewRetriever creates a Retriever with the default cutoffs.
func NewRetriever(embedder ai.Embedder, reranker ai.Reranker, logger zerolog.Logger) *Retriever {
	return &Retriever{
		Embedder:           embedder,
		Reranker:           reranker,
		TopK:               DefaultTopK,
		RerankTopN:         DefaultRerankTopN,
		RelevanceThreshold: DefaultRelevanceThreshold,
		Logger:             logger,
	}
}

// Retrieve ranks chunks against the query. Empty chunks return a zero
// Result without any provider call. When the best similarity is below
// the relevance threshold the rerank stage is skipped entirely.
func (r *Retriever) Retrieve(ctx context.Context, query string, chunks []string) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, nil
	}

	// The query and chunk embeddings are independent; issue them in
	// parallel. Chunks go out as a single batched call.
	var queryVec []float32
	var chunkVecs [][]float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := r.Embedder.Embed(gctx, []string{query}, ai.EmbedQuery)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
		}
		queryVec = vecs[0]
		return nil
	})
	g.Go(func() error {
		vecs, err := r.Embedder.Embed(gctx, chunks, ai.EmbedDocument)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		chunkVecs = vecs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	type scored struct {
		index      int
		similarity float64
	}
	ranked := make([]scored, 0, len(chunkVecs))
	for i, vec := range chunkVecs {
		if len(vec) != len(queryVec) {
			r.Logger.Warn().Int("chunk", i).Int("chunk_dim", len(vec)).Int("query_dim", len(queryVec)).
				Msg("embedding dimension mismatch, scoring as zero")
		}
		ranked = append(ranked, scored{index: i, similarity: CosineSimilarity(queryVec, vec)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].similarity > ranked[j].similarity })

	if len(ranked) > r.TopK {
		ranked = ranked[:r.TopK]
	}
	topSimilarity := ranked[0].similarity

	if topSimilarity < r.RelevanceThreshold {
		r.Logger.Debug().Float64("top_similarity", topSimilarity).
			Float64("threshold", r.RelevanceThreshold).Msg("retrieval below relevance threshold, skipping rerank")
		return Result{TopSimilarity: topSimilarity, TopRerank: topSimilarity}, nil
	}

	candidates := make([]string, len(ranked))
	for i, s := range ranked {
		candidates[i] = chunks[s.index]
	}

	topN := min(r.RerankTopN, len(candidates))
	results, err := r.Reranker.Rerank(ctx, query, candidates, topN)
	if err != nil {
		// Degrade to similarity order rather than failing the turn.
		r.Logger.Warn().Err(err).Msg("rerank failed, falling back to similarity order")
		docs := make([]models.RetrievedDocument, 0, topN)
		for i := 0; i < topN; i++ {
			docs = append(docs, models.RetrievedDocument{ID: fmt.Sprintf("doc-%d", i), Text: candidates[i]})
		}
		return Result{Documents: docs, TopSimilarity: topSimilarity, TopRerank: topSimilarity}, nil
	}

	// Rerank order, not embedding order, is authoritative.
	docs := make([]models.RetrievedDocument, 0, len(results))
	for i, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		docs = append(docs, models.RetrievedDocument{ID: fmt.Sprintf("doc-%d", i), Text: candidates[res.Index]})
	}

	topRerank := topSimilarity
	if len(results) > 0 {
		topRerank = results[0].RelevanceScore
	}

	r.Logger.Debug().Float64("top_similarity", topSimilarity).Float64("top_rerank", topRerank).
		Int("documents", len(docs)).Msg("retrieval complete")
	return Result{Documents: docs, TopSimilarity: topSimilarity, TopRerank: topRerank}, nil
}
