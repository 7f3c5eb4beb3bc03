package outcome

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// Embedder turns an outcome summary into a vector for similarity retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultEmbeddingModel is the embeddings model used when none is
// configured. Its output dimension is 1536.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// OpenAIEmbedder implements Embedder against the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client oai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder. An empty model selects
// [DefaultEmbeddingModel].
func NewOpenAIEmbedder(apiKey, model string, timeout time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("outcome: openai embedder: api key must not be empty")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &OpenAIEmbedder{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Embed returns the embedding vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("outcome: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("outcome: embed: empty response")
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
