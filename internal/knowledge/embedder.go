package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder converts text to a fixed-dimension dense vector. The output
// dimension is fixed for the lifetime of the embedder; the index enforces it
// at build and load time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// DefaultEmbeddingDim matches the all-MiniLM-L6-v2 family the corpus was
// originally embedded with.
const DefaultEmbeddingDim = 384

// TokenHashEmbedder is a deterministic, dependency-free embedder: each token
// is hashed into a pseudo-random unit direction and the directions are
// summed and normalized. Texts sharing informative tokens land close in
// cosine space, and identical text always embeds identically, which keeps
// index persistence round-trips exact.
type TokenHashEmbedder struct {
	dims int
}

func NewTokenHashEmbedder(dims int) *TokenHashEmbedder {
	if dims <= 0 {
		dims = DefaultEmbeddingDim
	}
	return &TokenHashEmbedder{dims: dims}
}

func (e *TokenHashEmbedder) Dimensions() int { return e.dims }

func (e *TokenHashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		if stopwords[token] {
			continue
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		seed := h.Sum64()
		for i := 0; i < e.dims; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
		}
	}
	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Small closed-class set; keeping it short biases similarity toward content
// words without pretending to be a real tokenizer.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true,
	"in": true, "is": true, "it": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "who": true, "will": true,
	"with": true,
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
