// Package scope decides whether a user message is in scope for the
// current article and category.
package scope

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/internal/retrieval"
	"github.com/maqala/chat/pkg/models"
)

// DefaultThreshold is the tuned similarity cutoff between "about this
// article's topic" and "unrelated topic".
const DefaultThreshold = 0.35

const excerptLimit = 300

// Conversational filler in Arabic and English: greetings, thanks,
// acknowledgements, farewells. Matched only against short messages.
var pleasantries = []*regexp.Regexp{
	regexp.MustCompile(`^(hi|hello|hey|yo|howdy)\b`),
	regexp.MustCompile(`^(thanks|thank you|thx|ty)\b`),
	regexp.MustCompile(`^(ok|okay|sure|yes|no|yep|nope|great|nice|cool|good)\b`),
	regexp.MustCompile(`^(bye|goodbye|good night|see you)\b`),
	regexp.MustCompile(`^(مرحبا|مرحباً|اهلا|أهلا|أهلاً|هلا|السلام عليكم|سلام|صباح الخير|مساء الخير)`),
	regexp.MustCompile(`^(شكرا|شكراً|مشكور|يعطيك العافية|جزاك الله)`),
	regexp.MustCompile(`^(تمام|طيب|ماشي|اوك|أوك|نعم|لا|اي|ايوه|أيوه)`),
	regexp.MustCompile(`^(مع السلامة|وداعا|وداعاً|الى اللقاء|إلى اللقاء|تصبح على خير)`),
}

// Classifier judges a message against the article's topical boundary.
type Classifier struct {
	Embedder  ai.Embedder
	Threshold float64
	Logger    zerolog.Logger
}

// NewClassifier creates a Classifier with the default threshold.
func NewClassifier(embedder ai.Embedder, logger zerolog.Logger) *Classifier {
	return &Classifier{
		Embedder:  embedder,
		Threshold: DefaultThreshold,
		Logger:    logger,
	}
}

// OutOfScope reports whether the message falls outside the article's
// topic. Empty, very short, and pleasantry messages are never flagged,
// and an empty scope context fails open. Embedding failures also fail
// open so a provider outage never blocks the conversation.
func (c *Classifier) OutOfScope(ctx context.Context, message string, sc models.ScopeContext) (bool, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return false, nil
	}
	if len([]rune(message)) < 3 {
		return false, nil
	}
	if isPleasantry(message) {
		return false, nil
	}

	scopeText := buildScopeText(sc)
	if scopeText == "" {
		return false, nil
	}

	// Asymmetric embedding is a provider contract requirement: the
	// message embeds as a query, the scope text as a document.
	var msgVec, scopeVec []float32
	msgVecs, err := c.Embedder.Embed(ctx, []string{message}, ai.EmbedQuery)
	if err == nil {
		var scopeVecs [][]float32
		scopeVecs, err = c.Embedder.Embed(ctx, []string{scopeText}, ai.EmbedDocument)
		if err == nil && len(msgVecs) == 1 && len(scopeVecs) == 1 {
			msgVec, scopeVec = msgVecs[0], scopeVecs[0]
		}
	}
	if msgVec == nil || scopeVec == nil {
		c.Logger.Warn().Err(err).Msg("scope embedding unavailable, treating message as in scope")
		return false, nil
	}

	similarity := retrieval.CosineSimilarity(msgVec, scopeVec)
	c.Logger.Debug().Float64("similarity", similarity).Float64("threshold", c.Threshold).
		Msg("scope similarity computed")

	// Strict less-than: a message exactly at the threshold is in scope.
	return similarity < c.Threshold, nil
}

// isPleasantry reports whether a short message is conversational filler.
func isPleasantry(message string) bool {
	if len([]rune(message)) >= 25 || len(strings.Fields(message)) > 2 {
		return false
	}
	normalized := strings.ToLower(strings.TrimRight(message, "!.؟?،,"))
	for _, re := range pleasantries {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// buildScopeText concatenates the article metadata the message is
// compared against. The excerpt is capped to keep the document short.
func buildScopeText(sc models.ScopeContext) string {
	excerpt := sc.ArticleExcerpt
	if runes := []rune(excerpt); len(runes) > excerptLimit {
		excerpt = string(runes[:excerptLimit])
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{sc.ArticleTitle, sc.CategoryName, excerpt} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
