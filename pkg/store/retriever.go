package store

import (
	"context"
	"fmt"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
)

const DefaultTopK = 15

// Retriever runs a fixed top-K similarity search over one index generation.
type Retriever struct {
	embedder types.Embedder
	searcher types.Searcher
	topK     int
}

// NewRetriever accepts a nil searcher, which behaves as an empty index.
func NewRetriever(embedder types.Embedder, searcher types.Searcher, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, searcher: searcher, topK: topK}
}

func (r *Retriever) TopK() int {
	return r.topK
}

// Len is the number of passages behind this retriever.
func (r *Retriever) Len() int {
	if r.searcher == nil {
		return 0
	}
	return r.searcher.Len()
}

// Generation is the stamp of the index generation searched, "" for an
// absent index.
func (r *Retriever) Generation() string {
	if r.searcher == nil {
		return ""
	}
	return r.searcher.Generation()
}

// Retrieve returns the best matches first. An empty index yields no results
// and no error, without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.RetrievalResult, error) {
	if r.Len() == 0 {
		return nil, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.searcher.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return results, nil
}

// Passages strips the ranking from results, keeping order.
func Passages(results []models.RetrievalResult) []models.Passage {
	if len(results) == 0 {
		return nil
	}
	out := make([]models.Passage, len(results))
	for i, r := range results {
		out[i] = r.Passage
	}
	return out
}
