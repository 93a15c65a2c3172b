package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/config"
	"github.com/xhad/becabot/pkg/logger"
)

// ErrIndexUnavailable means no index generation is persisted, or the
// persisted one was built with a different embedding model.
var ErrIndexUnavailable = errors.New("index unavailable")

func isUnavailable(err error) bool {
	return errors.Is(err, ErrIndexUnavailable)
}

// New opens the configured index backend. model identifies the embedding
// model; a generation built with another model is treated as absent.
func New(ctx context.Context, cfg config.IndexConfig, model string, log *logger.Logger) (types.Index, error) {
	switch cfg.Backend {
	case "disk", "":
		return NewDiskIndex(cfg.Dir, model, log), nil
	case "pgvector":
		return NewWithConfig(ctx, VectorStoreConfig{
			ConnString: cfg.DatabaseURL,
			TableName:  cfg.TableName,
			VectorDim:  cfg.VectorDim,
			Model:      model,
		}, log)
	}
	return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
}

// Snapshot is an immutable in-memory generation searched by brute force.
type Snapshot struct {
	entries []models.EmbeddingEntry
	norms   []float64
	gen     string
}

func NewSnapshot(entries []models.EmbeddingEntry) *Snapshot {
	return newSnapshot(entries, "")
}

func newSnapshot(entries []models.EmbeddingEntry, gen string) *Snapshot {
	s := &Snapshot{
		entries: make([]models.EmbeddingEntry, len(entries)),
		norms:   make([]float64, len(entries)),
		gen:     gen,
	}
	copy(s.entries, entries)
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Passage.Seq < s.entries[j].Passage.Seq
	})
	for i, e := range s.entries {
		s.norms[i] = norm(e.Embedding)
	}
	return s
}

func (s *Snapshot) Len() int {
	return len(s.entries)
}

func (s *Snapshot) Generation() string {
	return s.gen
}

// Search ranks entries by cosine similarity. Equal scores keep insertion
// order.
func (s *Snapshot) Search(ctx context.Context, query []float32, k int) ([]models.RetrievalResult, error) {
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(query)
	results := make([]models.RetrievalResult, 0, len(s.entries))
	for i, e := range s.entries {
		if len(e.Embedding) != len(query) {
			return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), len(e.Embedding))
		}
		var score float64
		if qn > 0 && s.norms[i] > 0 {
			score = dot(query, e.Embedding) / (qn * s.norms[i])
		}
		results = append(results, models.RetrievalResult{Passage: e.Passage, Score: float32(score)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
