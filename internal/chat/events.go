package chat

import "github.com/maqala/chat/pkg/models"

// Event types forming the streaming wire vocabulary. The transport
// serializes these as newline-delimited JSON.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Event is one streamed NDJSON object. Deltas carry Text; the terminal
// done event carries Source and Sources only when web fallback was used;
// an error event replaces done and carries Error.
type Event struct {
	Type    string             `json:"type"`
	Text    string             `json:"text,omitempty"`
	Error   string             `json:"error,omitempty"`
	Source  string             `json:"source,omitempty"`
	Sources []models.WebSource `json:"sources,omitempty"`
}

// RedirectResponse is the terminal non-answer outcome offering
// alternative articles.
type RedirectResponse struct {
	Type     string                     `json:"type"`
	Articles []models.RedirectCandidate `json:"articles"`
	Message  string                     `json:"message"`
}

// MessageResponse is the non-streaming answer shape.
type MessageResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
