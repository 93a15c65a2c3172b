package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
)

type EmbedOptions struct {
	BatchSize int
	Workers   int
	// Progress, when set, is called with the number of passages embedded so
	// far. It may be called from several goroutines.
	Progress func(done int)
}

// EmbedPassages computes an embedding for every passage. Batches run in
// parallel but the result keeps passage order.
func EmbedPassages(ctx context.Context, embedder types.Embedder, passages []models.Passage, opts EmbedOptions) ([]models.EmbeddingEntry, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	entries := make([]models.EmbeddingEntry, len(passages))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for start := 0; start < len(passages); start += opts.BatchSize {
		start := start
		end := min(start+opts.BatchSize, len(passages))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, p := range passages[start:end] {
				texts = append(texts, p.Text)
			}
			vecs, err := embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding passages %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedding passages %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			for i, vec := range vecs {
				entries[start+i] = models.EmbeddingEntry{Passage: passages[start+i], Embedding: vec}
			}
			n := done.Add(int64(len(vecs)))
			if opts.Progress != nil {
				opts.Progress(int(n))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
