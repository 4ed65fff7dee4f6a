package models

import "time"

// Article is the read-only view of a CMS article used by the chat service.
type Article struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Excerpt      string    `json:"excerpt"`
	Content      string    `json:"content"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Published    bool      `json:"published"`
	PublishedAt  time.Time `json:"published_at"`
}

// ScopeContext is the topical boundary a user message is judged against.
// Built once per request from the current article's metadata.
type ScopeContext struct {
	CategoryName   string
	ArticleTitle   string
	ArticleExcerpt string
}

// RetrievedDocument is a grounding document passed to the chat model.
// ID encodes provenance: "doc-<n>" for article chunks, "doc-web-<n>"
// for web search results.
type RetrievedDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// WebDocPrefix tags documents sourced from live web search.
const WebDocPrefix = "doc-web-"

// RedirectCandidate is a sibling article offered instead of an answer.
type RedirectCandidate struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Excerpt string `json:"excerpt"`
}

// ChatTurn is one unit of conversation. Ordering is insertion order.
type ChatTurn struct {
	Role    string `json:"role"` // "user" | "assistant" | "system"
	Content string `json:"content"`
}

// WebSource is a citation attached to a web-grounded answer.
type WebSource struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Interaction outcomes. A turn's outcome is exactly one of these.
const (
	OutcomeRedirect = "redirect"
	OutcomeStream   = "stream"
	OutcomeError    = "error"
)

// InteractionRecord is the write-once audit row for one chat turn.
// It is persisted best-effort and never read back by this service.
type InteractionRecord struct {
	UserID      string    `json:"user_id"`
	ArticleSlug string    `json:"article_slug"`
	Query       string    `json:"query"`
	Response    string    `json:"response"`
	Outcome     string    `json:"outcome"`
	Source      string    `json:"source"` // "article" | "web" | ""
	CreatedAt   time.Time `json:"created_at"`
}
