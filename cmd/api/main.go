package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/internal/auth"
	"github.com/maqala/chat/internal/chat"
	"github.com/maqala/chat/internal/chunker"
	"github.com/maqala/chat/internal/config"
	"github.com/maqala/chat/internal/retrieval"
	"github.com/maqala/chat/internal/scope"
	"github.com/maqala/chat/internal/store"
	"github.com/maqala/chat/internal/websearch"
	"github.com/maqala/chat/pkg/models"
)

const maxMessageLen = 2000

type chatRequest struct {
	Messages []models.ChatTurn `json:"messages"`
	Stream   *bool             `json:"stream"`
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("maqala-chat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).
		Str("environment", cfg.Environment).Msg("starting maqala chat api")

	clientConfig := &ai.ClientConfig{
		Provider:     ai.Provider(cfg.Provider),
		APIKey:       cfg.APIKey,
		EmbedModel:   cfg.EmbedModel,
		RerankModel:  cfg.RerankModel,
		ChatModel:    cfg.ChatModel,
		Dim:          cfg.Dim,
		ProjectID:    cfg.ProjectID,
		Location:     cfg.Location,
		RerankAPIKey: cfg.RerankAPIKey,
	}

	auth.InitializeAuth(cfg.Auth.JwtSecret)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	clients, err := ai.NewClients(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI clients: %v", err)
	}

	var web websearch.Client = &websearch.StubClient{}
	if cfg.WebSearchAPIKey != "" {
		web = websearch.NewTavilyClient(cfg.WebSearchAPIKey)
	}

	classifier := scope.NewClassifier(clients.Embedder, logger)
	classifier.Threshold = cfg.Retrieval.ScopeThreshold

	retriever := retrieval.NewRetriever(clients.Embedder, clients.Reranker, logger)
	retriever.TopK = cfg.Retrieval.TopK
	retriever.RerankTopN = cfg.Retrieval.RerankTopN
	retriever.RelevanceThreshold = cfg.Retrieval.RelevanceThreshold

	orchestrator := &chat.Orchestrator{
		Scope:           classifier,
		Retriever:       retriever,
		Chunker:         chunker.New(chunker.WithTargetSize(cfg.Retrieval.ChunkTargetSize)),
		Reranker:        clients.Reranker,
		Articles:        st,
		Web:             web,
		SiblingPoolSize: cfg.Retrieval.SiblingPoolSize,
		RedirectTopN:    cfg.Retrieval.RedirectTopN,
		WebResultCount:  cfg.Retrieval.WebResultCount,
		Logger:          logger,
	}

	streamer := &chat.Streamer{
		Chat:         clients.Chat,
		Interactions: st,
		Development:  cfg.IsDevelopment(),
		Logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /articles/{slug}/chat", auth.RequireAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		handleChat(w, r, st, orchestrator, streamer, logger)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func handleChat(
	w http.ResponseWriter,
	r *http.Request,
	articles store.ArticleStore,
	orchestrator *chat.Orchestrator,
	streamer *chat.Streamer,
	logger zerolog.Logger,
) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query, errMsg := validateMessages(req.Messages)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	slug := r.PathValue("slug")
	article, found, err := articles.GetArticleBySlug(r.Context(), slug)
	if err != nil {
		logger.Error().Err(err).Str("slug", slug).Msg("article lookup failed")
		writeError(w, http.StatusInternalServerError, chat.GenericErrorMessage)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}

	var userID string
	if u := auth.GetUserFromContext(r); u != nil {
		userID = u.ID
	}

	outcome, err := orchestrator.Resolve(r.Context(), article, query)
	if err != nil {
		logger.Error().Err(err).Str("slug", slug).Msg("turn resolution failed")
		writeError(w, http.StatusInternalServerError, chat.GenericErrorMessage)
		return
	}

	if outcome.Kind == chat.OutcomeRedirect {
		streamer.LogAsync(models.InteractionRecord{
			UserID:      userID,
			ArticleSlug: article.Slug,
			Query:       query,
			Outcome:     models.OutcomeRedirect,
			CreatedAt:   time.Now(),
		})
		candidates := outcome.Candidates
		if candidates == nil {
			candidates = []models.RedirectCandidate{}
		}
		writeJSON(w, http.StatusOK, chat.RedirectResponse{
			Type:     "redirect",
			Articles: candidates,
			Message:  outcome.Message,
		})
		return
	}

	sreq := chat.StreamRequest{
		UserID:      userID,
		ArticleSlug: article.Slug,
		Turns:       req.Messages,
		Documents:   outcome.Documents,
		WebSources:  outcome.WebSources,
		Source:      outcome.Source,
	}

	if req.Stream != nil && !*req.Stream {
		text, err := streamer.Answer(r.Context(), sreq)
		if err != nil {
			logger.Error().Err(err).Str("slug", slug).Msg("chat completion failed")
			writeError(w, http.StatusInternalServerError, chat.GenericErrorMessage)
			return
		}
		writeJSON(w, http.StatusOK, chat.MessageResponse{Type: "message", Text: text})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, chat.GenericErrorMessage)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for ev := range streamer.Stream(r.Context(), sreq) {
		if err := enc.Encode(ev); err != nil {
			// Client is gone; the request context cancellation stops
			// the provider stream.
			return
		}
		flusher.Flush()
	}
}

// validateMessages checks the request schema and returns the trailing
// user message, which drives retrieval.
func validateMessages(messages []models.ChatTurn) (string, string) {
	if len(messages) == 0 {
		return "", "messages is required"
	}
	for _, m := range messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return "", "invalid message role: " + m.Role
		}
		if len([]rune(m.Content)) > maxMessageLen {
			return "", fmt.Sprintf("message content exceeds %d characters", maxMessageLen)
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content, ""
		}
	}
	return "", "missing user message content"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
