package embedder

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Known embedding model dimensions.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIOptions configures the OpenAI embedder.
type OpenAIOptions struct {
	// Model is the embedding model name.
	Model string

	// RequestsPerSecond limits API calls during bulk ingestion.
	// Zero or negative disables limiting.
	RequestsPerSecond float64

	// Dimension overrides the model's default dimension. Required for
	// models not in the built-in table.
	Dimension int
}

// DefaultOpenAIOptions are the defaults for NewOpenAI.
var DefaultOpenAIOptions = OpenAIOptions{
	Model:             "text-embedding-3-small",
	RequestsPerSecond: 10,
}

// OpenAI embeds text via the OpenAI embeddings API.
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI-backed embedder.
func NewOpenAI(apiKey string, optFns ...func(o *OpenAIOptions)) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("embedder: missing OpenAI API key")
	}

	opts := DefaultOpenAIOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	dim := opts.Dimension
	if dim == 0 {
		dim = modelDimensions[opts.Model]
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: unknown dimension for model %q", opts.Model)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &OpenAI{
		client:    openai.NewClient(apiKey),
		model:     opts.Model,
		dimension: dim,
		limiter:   limiter,
	}, nil
}

// Embed returns the embedding for text. Calls are rate limited when a
// request budget is configured.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("embedder: cannot embed empty text")
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: embeddings request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedder: no embedding data returned")
	}

	v := resp.Data[0].Embedding
	if len(v) != e.dimension {
		return nil, fmt.Errorf("embedder: model returned dimension %d, expected %d", len(v), e.dimension)
	}

	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Dimension returns the embedding dimension for the configured model.
func (e *OpenAI) Dimension() int { return e.dimension }

// Model returns the configured model name.
func (e *OpenAI) Model() string { return e.model }
