package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/xhad/becabot/internal/types"
)

// Normalize wraps an embedder so every vector has unit length, making a dot
// product equal to cosine similarity.
func Normalize(inner types.Embedder) types.Embedder {
	if n, ok := inner.(normalized); ok {
		return n
	}
	return normalized{inner: inner}
}

type normalized struct {
	inner types.Embedder
}

func (n normalized) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := n.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = L2Normalize(vecs[i])
	}
	return vecs, nil
}

func (n normalized) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := n.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return L2Normalize(vec), nil
}

// L2Normalize scales v in place to unit length. A zero vector is returned as is.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// HashEmbedder is a deterministic offline embedder: word unigrams and
// bigrams are hashed into a fixed number of signed buckets. It needs no
// model server and gives stable rankings for tests and air-gapped runs.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int { return h.dimension }

func (h *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dimension)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return vec
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
