package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/internal/chat"
	"github.com/maqala/chat/internal/retrieval"
	"github.com/maqala/chat/internal/websearch"
	"github.com/maqala/chat/pkg/models"
)

func TestValidateMessages(t *testing.T) {
	long := strings.Repeat("ا", maxMessageLen+1)

	tests := []struct {
		name      string
		messages  []models.ChatTurn
		wantQuery string
		wantErr   string
	}{
		{
			name:    "no messages",
			wantErr: "messages is required",
		},
		{
			name:     "invalid role",
			messages: []models.ChatTurn{{Role: "tool", Content: "x"}},
			wantErr:  "invalid message role: tool",
		},
		{
			name:     "oversized content",
			messages: []models.ChatTurn{{Role: "user", Content: long}},
			wantErr:  "message content exceeds 2000 characters",
		},
		{
			name:     "no user content",
			messages: []models.ChatTurn{{Role: "assistant", Content: "مرحبا"}},
			wantErr:  "missing user message content",
		},
		{
			name:     "empty trailing user message",
			messages: []models.ChatTurn{{Role: "user", Content: ""}},
			wantErr:  "missing user message content",
		},
		{
			name: "takes the last user message",
			messages: []models.ChatTurn{
				{Role: "user", Content: "السؤال الأول"},
				{Role: "assistant", Content: "الجواب"},
				{Role: "user", Content: "السؤال الثاني"},
			},
			wantQuery: "السؤال الثاني",
		},
		{
			name: "system messages allowed",
			messages: []models.ChatTurn{
				{Role: "system", Content: "كن مفيدا"},
				{Role: "user", Content: "سؤال"},
			},
			wantQuery: "سؤال",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, errMsg := validateMessages(tt.messages)
			if errMsg != tt.wantErr {
				t.Errorf("error = %q, want %q", errMsg, tt.wantErr)
			}
			if query != tt.wantQuery {
				t.Errorf("query = %q, want %q", query, tt.wantQuery)
			}
		})
	}
}

// ---------- handler tests ----------

type mockArticles struct {
	Article  models.Article
	Found    bool
	Siblings []models.Article
}

func (m *mockArticles) GetArticleBySlug(_ context.Context, _ string) (models.Article, bool, error) {
	return m.Article, m.Found, nil
}

func (m *mockArticles) ListCategorySiblings(_ context.Context, _, _ string, _ int) ([]models.Article, error) {
	return m.Siblings, nil
}

type mockScope struct{ OutOfScopeResult bool }

func (m *mockScope) OutOfScope(_ context.Context, _ string, _ models.ScopeContext) (bool, error) {
	return m.OutOfScopeResult, nil
}

type mockRetriever struct{ Result retrieval.Result }

func (m *mockRetriever) Retrieve(_ context.Context, _ string, _ []string) (retrieval.Result, error) {
	return m.Result, nil
}

type wholeChunker struct{}

func (wholeChunker) Split(raw string) []string {
	if raw == "" {
		return nil
	}
	return []string{raw}
}

type mockReranker struct{}

func (mockReranker) Rerank(_ context.Context, _ string, docs []string, topN int) ([]ai.RerankResult, error) {
	results := make([]ai.RerankResult, 0, topN)
	for i := 0; i < topN && i < len(docs); i++ {
		results = append(results, ai.RerankResult{Index: i, RelevanceScore: 1 - float64(i)*0.1})
	}
	return results, nil
}

type mockChatModel struct{ Deltas []string }

func (m *mockChatModel) Chat(_ context.Context, _ string, _ []models.ChatTurn, _ []models.RetrievedDocument) (string, error) {
	return strings.Join(m.Deltas, ""), nil
}

func (m *mockChatModel) ChatStream(_ context.Context, _ string, _ []models.ChatTurn, _ []models.RetrievedDocument) (<-chan ai.TextDelta, error) {
	ch := make(chan ai.TextDelta, len(m.Deltas))
	for _, d := range m.Deltas {
		ch <- ai.TextDelta{Text: d}
	}
	close(ch)
	return ch, nil
}

func newTestHandler(articles *mockArticles, sc *mockScope, ret *mockRetriever) http.HandlerFunc {
	logger := zerolog.Nop()
	orchestrator := &chat.Orchestrator{
		Scope:           sc,
		Retriever:       ret,
		Chunker:         wholeChunker{},
		Reranker:        mockReranker{},
		Articles:        articles,
		Web:             &websearch.StubClient{},
		SiblingPoolSize: chat.DefaultSiblingPoolSize,
		RedirectTopN:    chat.DefaultRedirectTopN,
		WebResultCount:  chat.DefaultWebResultCount,
		Logger:          logger,
	}
	streamer := &chat.Streamer{
		Chat:   &mockChatModel{Deltas: []string{"الجواب ", "هنا"}},
		Logger: logger,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		handleChat(w, r, articles, orchestrator, streamer, logger)
	}
}

func chatPost(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", "/articles/seo-basics/chat", strings.NewReader(body))
	req.SetPathValue("slug", "seo-basics")
	return req
}

func publishedArticle() models.Article {
	return models.Article{
		ID:           "a1",
		Slug:         "seo-basics",
		Title:        "أساسيات تحسين محركات البحث",
		Excerpt:      "مقدمة في السيو",
		Content:      "تحسين محركات البحث هو عملية تحسين ظهور الموقع.",
		CategoryID:   "c1",
		CategoryName: "تسويق رقمي",
	}
}

func TestHandleChat_InvalidBody(t *testing.T) {
	handler := newTestHandler(&mockArticles{}, &mockScope{}, &mockRetriever{})

	w := httptest.NewRecorder()
	handler(w, chatPost(t, "{not json"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_MissingMessages(t *testing.T) {
	handler := newTestHandler(&mockArticles{}, &mockScope{}, &mockRetriever{})

	w := httptest.NewRecorder()
	handler(w, chatPost(t, `{"messages":[]}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "messages is required") {
		t.Errorf("expected validation message, got %s", w.Body.String())
	}
}

func TestHandleChat_ArticleNotFound(t *testing.T) {
	handler := newTestHandler(&mockArticles{Found: false}, &mockScope{}, &mockRetriever{})

	w := httptest.NewRecorder()
	handler(w, chatPost(t, `{"messages":[{"role":"user","content":"سؤال"}]}`))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleChat_RedirectResponse(t *testing.T) {
	// Out of scope with no siblings: a redirect with an empty, non-null
	// article list.
	articles := &mockArticles{Article: publishedArticle(), Found: true}
	handler := newTestHandler(articles, &mockScope{OutOfScopeResult: true}, &mockRetriever{})

	w := httptest.NewRecorder()
	handler(w, chatPost(t, `{"messages":[{"role":"user","content":"ما هي عاصمة فرنسا؟"}]}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp chat.RedirectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid redirect body: %v", err)
	}
	if resp.Type != "redirect" {
		t.Errorf("expected type redirect, got %q", resp.Type)
	}
	if resp.Articles == nil {
		t.Error("articles must be an empty list, not null")
	}
	if len(resp.Articles) != 0 {
		t.Errorf("expected no candidates, got %d", len(resp.Articles))
	}
	if resp.Message == "" {
		t.Error("redirect must carry a message")
	}
}

func TestHandleChat_NDJSONStream(t *testing.T) {
	articles := &mockArticles{Article: publishedArticle(), Found: true}
	ret := &mockRetriever{Result: retrieval.Result{
		Documents:     []models.RetrievedDocument{{ID: "doc-0", Text: "chunk"}},
		TopSimilarity: 0.8,
		TopRerank:     0.9,
	}}
	handler := newTestHandler(articles, &mockScope{}, ret)

	w := httptest.NewRecorder()
	handler(w, chatPost(t, `{"messages":[{"role":"user","content":"ما هو السيو؟"}]}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("expected NDJSON content type, got %q", ct)
	}

	var events []chat.Event
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var ev chat.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}

	if len(events) != 3 {
		t.Fatalf("expected 2 deltas + done, got %d events: %+v", len(events), events)
	}
	if events[0].Type != chat.EventDelta || events[1].Type != chat.EventDelta {
		t.Error("expected leading delta events")
	}
	if events[2].Type != chat.EventDone {
		t.Errorf("expected terminal done event, got %q", events[2].Type)
	}
	if events[2].Source != "" {
		t.Errorf("article-grounded done must not carry a source, got %q", events[2].Source)
	}
}

func TestHandleChat_NonStreaming(t *testing.T) {
	articles := &mockArticles{Article: publishedArticle(), Found: true}
	ret := &mockRetriever{Result: retrieval.Result{
		Documents: []models.RetrievedDocument{{ID: "doc-0", Text: "chunk"}},
	}}
	handler := newTestHandler(articles, &mockScope{}, ret)

	w := httptest.NewRecorder()
	handler(w, chatPost(t, `{"messages":[{"role":"user","content":"ما هو السيو؟"}],"stream":false}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp chat.MessageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid message body: %v", err)
	}
	if resp.Type != "message" {
		t.Errorf("expected type message, got %q", resp.Type)
	}
	if resp.Text != "الجواب هنا" {
		t.Errorf("unexpected answer: %q", resp.Text)
	}
}
