package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/maqala/chat/pkg/models"
)

// GeminiClient implements Embedder and ChatModel against the Gemini API.
type GeminiClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGeminiClient creates a new client for the Google Gemini API.
func NewGeminiClient(ctx context.Context, config *ClientConfig) (*GeminiClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the batched asymmetric embedding call. The Gemini
// task types carry the query/document distinction.
func (c *GeminiClient) Embed(ctx context.Context, texts []string, kind EmbeddingKind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	taskType := "RETRIEVAL_DOCUMENT"
	if kind == EmbedQuery {
		taskType = "RETRIEVAL_QUERY"
	}
	cfg := genai.EmbedContentConfig{
		TaskType: taskType,
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("gemini embed: response not aligned with input")
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Chat generates the full grounded answer synchronously.
func (c *GeminiClient) Chat(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (string, error) {
	contents, cfg := c.chatRequest(system, turns, docs)

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("chat failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New("no chat content")
	}
	return text, nil
}

// ChatStream streams the answer as text deltas in generation order.
func (c *GeminiClient) ChatStream(ctx context.Context, system string, turns []models.ChatTurn, docs []models.RetrievedDocument) (<-chan TextDelta, error) {
	contents, cfg := c.chatRequest(system, turns, docs)

	ch := make(chan TextDelta)
	go func() {
		defer close(ch)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.config.ChatModel, contents, cfg) {
			if err != nil {
				if ctx.Err() == nil {
					ch <- TextDelta{Err: err}
				}
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			select {
			case ch <- TextDelta{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// chatRequest assembles the conversation and grounding documents. Gemini
// has no document parameter, so documents are rendered into the system
// instruction.
func (c *GeminiClient) chatRequest(system string, turns []models.ChatTurn, docs []models.RetrievedDocument) ([]*genai.Content, *genai.GenerateContentConfig) {
	var sb strings.Builder
	sb.WriteString(system)
	if len(docs) > 0 {
		sb.WriteString("\n\nDocuments:\n")
		for _, d := range docs {
			sb.WriteString("[" + d.ID + "] " + d.Text + "\n")
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if sys := genai.Text(sb.String()); len(sys) > 0 {
		cfg.SystemInstruction = sys[0]
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents, cfg
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
