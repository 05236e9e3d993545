package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/RobertJohnDavidson/rag-style-check/llm"

	"github.com/google/generative-ai-go/genai"
)

// batchLimit is the most contents one batchEmbedContents call accepts
const batchLimit = 100

var ErrEmbeddingFailed = errors.New("failed to generate embedding")

// Embedder produces normalised embeddings for retrieval queries and rule documents
type Embedder struct {
	genai *genai.Client
	model string
	dim   int
}

// NewEmbedder creates an embedder for the named model. Vectors of a size other
// than dim are rejected so they never reach a vector(dim) column.
func NewEmbedder(gc *genai.Client, model string, dim int) *Embedder {
	return &Embedder{genai: gc, model: model, dim: dim}
}

// Dimensions returns the expected vector size
func (e *Embedder) Dimensions() int {
	return e.dim
}

// Embed embeds a single retrieval query
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.genai.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, llm.Classify(err))
	}
	if res.Embedding == nil {
		return nil, ErrEmbeddingFailed
	}
	return e.check(res.Embedding.Values)
}

// EmbedDocuments embeds rule documents in batches
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.genai.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchLimit {
		end := min(i+batchLimit, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[i:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, llm.Classify(err))
		}
		if len(res.Embeddings) != end-i {
			return nil, fmt.Errorf("mismatch: got %d embeddings for %d documents", len(res.Embeddings), end-i)
		}
		for _, emb := range res.Embeddings {
			v, err := e.check(emb.Values)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (e *Embedder) check(values []float32) ([]float32, error) {
	if len(values) == 0 {
		return nil, ErrEmbeddingFailed
	}
	if e.dim > 0 && len(values) != e.dim {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", e.dim, len(values))
	}
	return Normalize(values), nil
}

// Normalize scales v to unit length in place and returns it
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}
