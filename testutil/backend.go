package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// HashEmbedder is a deterministic bag-of-words embedder. Texts sharing words
// get similar vectors, which is enough to exercise ranking logic.
type HashEmbedder struct {
	Dim int
	// FailOn makes Embed fail when the text contains the substring
	FailOn string
	Err    error
}

// Embed implements retrieval.Embedder
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.FailOn != "" && strings.Contains(text, e.FailOn) {
		return nil, e.Err
	}
	dim := e.Dim
	if dim == 0 {
		dim = 512
	}
	v := make([]float32, dim)
	for _, w := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)] += 1
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x * x)
	}
	if sumSq > 0 {
		n := float32(math.Sqrt(sumSq))
		for i := range v {
			v[i] /= n
		}
	}
	return v, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// MemoryBackend is an in-memory retrieval.Backend over a fixed rule set
type MemoryBackend struct {
	Embedder *HashEmbedder

	// VectorErr and KeywordErr are returned by the matching call when set
	VectorErr  error
	KeywordErr error

	// KeywordFailOn makes KeywordSearch fail with KeywordErr only for texts containing it
	KeywordFailOn string

	mu       sync.Mutex
	rules    []models.Rule
	vectors  [][]float32
	vecCalls int
	kwCalls  int
}

// NewMemoryBackend indexes rules with embedder
func NewMemoryBackend(embedder *HashEmbedder, rules ...models.Rule) *MemoryBackend {
	b := &MemoryBackend{Embedder: embedder, rules: rules}
	for _, r := range rules {
		v, _ := embedder.Embed(context.Background(), r.Name+" "+r.Guideline)
		b.vectors = append(b.vectors, v)
	}
	return b
}

// VectorSearch returns the k rules with highest cosine similarity
func (b *MemoryBackend) VectorSearch(ctx context.Context, embedding []float32, k int) ([]models.ScoredRule, error) {
	b.mu.Lock()
	b.vecCalls++
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.VectorErr != nil {
		return nil, b.VectorErr
	}

	out := make([]models.ScoredRule, 0, len(b.rules))
	for i, r := range b.rules {
		var dot float64
		for j := range embedding {
			if j < len(b.vectors[i]) {
				dot += float64(embedding[j] * b.vectors[i][j])
			}
		}
		if dot <= 0 {
			continue
		}
		out = append(out, models.ScoredRule{Rule: r, Score: dot})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// KeywordSearch returns rules with a trigger present in text or in terms
func (b *MemoryBackend) KeywordSearch(ctx context.Context, text string, terms []string) ([]models.Rule, error) {
	b.mu.Lock()
	b.kwCalls++
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.KeywordErr != nil && (b.KeywordFailOn == "" || strings.Contains(text, b.KeywordFailOn)) {
		return nil, b.KeywordErr
	}

	lower := strings.ToLower(text)
	wanted := make(map[string]bool, len(terms))
	for _, t := range terms {
		wanted[strings.ToLower(t)] = true
	}

	var out []models.Rule
	for _, r := range b.rules {
		for _, trig := range r.Triggers {
			t := strings.ToLower(trig)
			if strings.Contains(lower, t) || wanted[t] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// Calls returns the number of vector and keyword searches served
func (b *MemoryBackend) Calls() (vector, keyword int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vecCalls, b.kwCalls
}
