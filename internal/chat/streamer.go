package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/maqala/chat/internal/ai"
	"github.com/maqala/chat/internal/store"
	"github.com/maqala/chat/pkg/models"
)

// StreamRequest carries everything the streamer needs for one turn.
type StreamRequest struct {
	UserID      string
	ArticleSlug string
	Turns       []models.ChatTurn
	Documents   []models.RetrievedDocument
	WebSources  []models.WebSource
	Source      string
}

// Streamer produces the final answer from the resolved grounding
// documents, as a single message or a stream of typed events.
type Streamer struct {
	Chat         ai.ChatModel
	Interactions store.InteractionStore
	Development  bool
	Logger       zerolog.Logger
}

// Answer returns the complete answer synchronously.
func (s *Streamer) Answer(ctx context.Context, req StreamRequest) (string, error) {
	text, err := s.Chat.Chat(ctx, selectPrompt(req.Documents), req.Turns, req.Documents)
	if err != nil {
		s.LogAsync(s.record(req, "", models.OutcomeError))
		return "", err
	}
	s.LogAsync(s.record(req, text, models.OutcomeStream))
	return text, nil
}

// Stream produces delta events in generation order followed by exactly
// one terminal done or error event. The channel is closed after the
// terminal event. Cancelling ctx stops forwarding and releases the
// provider stream.
func (s *Streamer) Stream(ctx context.Context, req StreamRequest) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		deltas, err := s.Chat.ChatStream(ctx, selectPrompt(req.Documents), req.Turns, req.Documents)
		if err != nil {
			s.Logger.Error().Err(err).Msg("chat stream failed to start")
			out <- Event{Type: EventError, Error: s.errorMessage(err)}
			s.LogAsync(s.record(req, "", models.OutcomeError))
			return
		}

		var answer strings.Builder
		for delta := range deltas {
			if delta.Err != nil {
				s.Logger.Error().Err(delta.Err).Msg("chat stream failed")
				out <- Event{Type: EventError, Error: s.errorMessage(delta.Err)}
				if answer.Len() > 0 {
					s.LogAsync(s.record(req, answer.String(), models.OutcomeError))
				}
				return
			}
			if delta.Text == "" {
				continue
			}
			answer.WriteString(delta.Text)
			select {
			case out <- Event{Type: EventDelta, Text: delta.Text}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		done := Event{Type: EventDone}
		if req.Source == "web" {
			done.Source = "web"
			done.Sources = req.WebSources
		}
		out <- done
		s.LogAsync(s.record(req, answer.String(), models.OutcomeStream))
	}()
	return out
}

// LogAsync hands the turn to the interaction logger as a best-effort
// side effect. Failures are intentionally unobservable to the caller.
func (s *Streamer) LogAsync(rec models.InteractionRecord) {
	if s.Interactions == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Interactions.LogInteraction(ctx, rec); err != nil {
			s.Logger.Debug().Err(err).Msg("interaction logging failed")
		}
	}()
}

func (s *Streamer) record(req StreamRequest, response, outcome string) models.InteractionRecord {
	var query string
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == "user" {
			query = req.Turns[i].Content
			break
		}
	}
	return models.InteractionRecord{
		UserID:      req.UserID,
		ArticleSlug: req.ArticleSlug,
		Query:       query,
		Response:    response,
		Outcome:     outcome,
		Source:      req.Source,
		CreatedAt:   time.Now(),
	}
}

// errorMessage gates provider error detail by environment.
func (s *Streamer) errorMessage(err error) string {
	if s.Development {
		return err.Error()
	}
	return GenericErrorMessage
}

// selectPrompt chooses the system prompt by grounding provenance.
func selectPrompt(docs []models.RetrievedDocument) string {
	if len(docs) == 0 {
		return systemPromptUngrounded
	}
	for _, d := range docs {
		if strings.HasPrefix(d.ID, models.WebDocPrefix) {
			return systemPromptWeb
		}
	}
	return systemPromptInternal
}
