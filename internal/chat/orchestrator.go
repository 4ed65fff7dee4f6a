// Package chat contains the per-turn decision tree and the answer
// streamer for article-scoped conversations.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/internal/retrieval"
	"github.com/maqala/chat/internal/store"
	"github.com/maqala/chat/internal/websearch"
	"github.com/maqala/chat/pkg/models"
)

// Defaults for the fallback stages. All are overridable via config.
const (
	DefaultSiblingPoolSize = 15
	DefaultRedirectTopN    = 5
	DefaultWebResultCount  = 8

	siblingContentLimit = 500
)

// ScopeClassifier decides whether a message is in scope for an article.
type ScopeClassifier interface {
	OutOfScope(ctx context.Context, message string, sc models.ScopeContext) (bool, error)
}

// ChunkRetriever ranks an article's chunks against a query.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, chunks []string) (retrieval.Result, error)
}

// Chunker splits article markup into retrieval-sized chunks.
type Chunker interface {
	Split(raw string) []string
}

// Outcome kinds. Each turn terminates in exactly one.
const (
	OutcomeRedirect = "redirect"
	OutcomeStream   = "stream"
)

// Outcome is the terminal result of the decision tree: either a redirect
// offer or a set of grounding documents to stream an answer from.
type Outcome struct {
	Kind string

	// Redirect fields.
	Candidates []models.RedirectCandidate
	Message    string

	// Stream fields. Provenance is homogeneous: Documents are either all
	// article chunks or all web results, never mixed.
	Documents  []models.RetrievedDocument
	WebSources []models.WebSource
	Source     string // "article" | "web" | ""
}

// Orchestrator evaluates the per-turn fallback chain in strict order:
// answer from the current article, redirect to a sibling, web search.
type Orchestrator struct {
	Scope     ScopeClassifier
	Retriever ChunkRetriever
	Chunker   Chunker
	Reranker  ai.Reranker
	Articles  store.ArticleStore
	Web       websearch.Client

	SiblingPoolSize int
	RedirectTopN    int
	WebResultCount  int

	Logger zerolog.Logger
}

// Resolve runs the decision tree for one turn. Provider failures degrade
// to the next stage instead of failing the turn.
func (o *Orchestrator) Resolve(ctx context.Context, article models.Article, query string) (Outcome, error) {
	sc := models.ScopeContext{
		CategoryName:   article.CategoryName,
		ArticleTitle:   article.Title,
		ArticleExcerpt: article.Excerpt,
	}

	outOfScope, err := o.Scope.OutOfScope(ctx, query, sc)
	if err != nil {
		o.Logger.Warn().Err(err).Msg("scope check failed, treating message as in scope")
		outOfScope = false
	}
	o.Logger.Debug().Bool("out_of_scope", outOfScope).Str("article", article.Slug).Msg("scope decision")

	if outOfScope {
		candidates := o.categoryCandidates(ctx, article, query)
		return Outcome{Kind: OutcomeRedirect, Candidates: candidates, Message: msgChooseArticle}, nil
	}

	chunks := o.Chunker.Split(article.Content)
	res, err := o.Retriever.Retrieve(ctx, query, chunks)
	if err != nil {
		o.Logger.Warn().Err(err).Msg("in-article retrieval failed, degrading to fallbacks")
		res = retrieval.Result{}
	}
	o.Logger.Debug().Int("chunks", len(chunks)).Int("documents", len(res.Documents)).
		Float64("top_similarity", res.TopSimilarity).Float64("top_rerank", res.TopRerank).
		Msg("in-article retrieval")

	if len(res.Documents) > 0 {
		return Outcome{Kind: OutcomeStream, Documents: res.Documents, Source: "article"}, nil
	}

	if candidates := o.categoryCandidates(ctx, article, query); len(candidates) > 0 {
		o.Logger.Debug().Int("candidates", len(candidates)).Msg("same-category fallback found related articles")
		return Outcome{Kind: OutcomeRedirect, Candidates: candidates, Message: msgRelatedArticles}, nil
	}

	return o.webFallback(ctx, query), nil
}

// categoryCandidates loads the recent published pool for the article's
// category and reranks it against the query. Failures return an empty
// slice so the caller can fall through.
func (o *Orchestrator) categoryCandidates(ctx context.Context, article models.Article, query string) []models.RedirectCandidate {
	pool, err := o.Articles.ListCategorySiblings(ctx, article.CategoryID, article.ID, o.SiblingPoolSize)
	if err != nil {
		o.Logger.Warn().Err(err).Str("category", article.CategoryID).Msg("sibling lookup failed")
		return nil
	}
	if len(pool) == 0 {
		return nil
	}

	// One pseudo-document per candidate: title plus excerpt, or the
	// head of the content when no excerpt exists.
	docs := make([]string, len(pool))
	for i, a := range pool {
		body := strings.TrimSpace(a.Excerpt)
		if body == "" {
			if runes := []rune(a.Content); len(runes) > siblingContentLimit {
				body = string(runes[:siblingContentLimit])
			} else {
				body = a.Content
			}
		}
		docs[i] = a.Title + "\n" + body
	}

	topN := min(o.RedirectTopN, len(docs))
	results, err := o.Reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		o.Logger.Warn().Err(err).Msg("sibling rerank failed, offering recent articles")
		results = results[:0]
		for i := 0; i < topN; i++ {
			results = append(results, ai.RerankResult{Index: i})
		}
	}

	candidates := make([]models.RedirectCandidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(pool) {
			continue
		}
		a := pool[r.Index]
		candidates = append(candidates, models.RedirectCandidate{
			ID:      a.ID,
			Title:   a.Title,
			Slug:    a.Slug,
			Excerpt: a.Excerpt,
		})
	}
	return candidates
}

// webFallback issues the live search and converts hits to tagged
// grounding documents. A failed search streams with zero documents.
func (o *Orchestrator) webFallback(ctx context.Context, query string) Outcome {
	results, err := o.Web.Search(ctx, query, o.WebResultCount)
	if err != nil {
		o.Logger.Warn().Err(err).Msg("web search failed, streaming without grounding")
		return Outcome{Kind: OutcomeStream}
	}

	docs := make([]models.RetrievedDocument, 0, len(results))
	sources := make([]models.WebSource, 0, len(results))
	for i, r := range results {
		docs = append(docs, models.RetrievedDocument{
			ID:   fmt.Sprintf("%s%d", models.WebDocPrefix, i),
			Text: r.Title + "\n" + r.Snippet + "\n" + r.Link,
		})
		sources = append(sources, models.WebSource{Title: r.Title, Link: r.Link})
	}
	if len(docs) == 0 {
		return Outcome{Kind: OutcomeStream}
	}

	o.Logger.Debug().Int("results", len(docs)).Msg("web search fallback")
	return Outcome{Kind: OutcomeStream, Documents: docs, WebSources: sources, Source: "web"}
}
