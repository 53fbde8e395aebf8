// Package gemini implements asset enrichment against Google's Gemini
// API: content classification with attribute extraction, and embedding
// generation for similarity search.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/kwestin/docsmith-api/internal/config"
	"github.com/kwestin/docsmith-api/internal/task"
)

// Enrichment errors.
var (
	// ErrInvalidConfig indicates missing or invalid LLM configuration.
	ErrInvalidConfig = errors.New("invalid enricher configuration")

	// ErrEmptyResponse indicates the model returned no usable content.
	ErrEmptyResponse = errors.New("empty model response")
)

// maxClassifyChars bounds how much asset content is sent with a
// classification prompt. Contract documents can be very long and the
// opening sections carry the signal that matters for categorization.
const maxClassifyChars = 8000

const classifyPromptTemplate = `You are a contract intelligence analyst. Classify the following document
into exactly one category: agreement, amendment, policy, correspondence,
financial, technical, or other. Also extract any notable attributes
(party names, effective dates, monetary amounts, jurisdictions) you can
identify with confidence.

Respond with a single JSON object of the form:
{"category": "<category>", "attributes": {"<key>": "<value>", ...}}

Title: %s

Content:
%s`

// Enricher classifies asset content and produces embeddings using the
// Gemini API. It is safe for concurrent use.
type Enricher struct {
	logger         *slog.Logger
	client         *genai.Client
	model          string
	embeddingModel string
}

// Compile-time checks that Enricher satisfies the task-side contracts.
var (
	_ task.Categorizer = (*Enricher)(nil)
	_ task.Embedder    = (*Enricher)(nil)
)

// NewEnricher creates an Enricher from LLM configuration. The context is
// used only for client initialization.
func NewEnricher(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Enricher, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Enricher{
		logger:         logger.With(slog.String("component", "gemini_enricher")),
		client:         client,
		model:          cfg.ModelName,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Categorize classifies the asset and extracts attributes. The model is
// instructed to respond with a single JSON object; anything else is an
// error the caller treats as a soft failure.
func (e *Enricher) Categorize(ctx context.Context, title, content string) (*task.Classification, error) {
	if len(content) > maxClassifyChars {
		content = content[:maxClassifyChars]
	}

	prompt := fmt.Sprintf(classifyPromptTemplate, title, content)

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var parsed struct {
		Category   string         `json:"category"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		e.logger.Warn("model returned unparseable classification",
			"error", err,
			"response_length", len(text))
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	if parsed.Category == "" {
		return nil, fmt.Errorf("%w: classification missing category", ErrEmptyResponse)
	}

	return &task.Classification{
		Category:   strings.ToLower(parsed.Category),
		Attributes: parsed.Attributes,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (e *Enricher) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("cannot embed empty text")
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, ErrEmptyResponse
	}

	return resp.Embeddings[0].Values, nil
}

// extractJSON trims surrounding prose and markdown fences that models
// occasionally wrap around a JSON answer despite the response MIME type.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
