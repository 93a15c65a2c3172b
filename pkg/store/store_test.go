package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/llm"
	"github.com/xhad/becabot/pkg/store"
)

func entry(seq int, text string, vec ...float32) models.EmbeddingEntry {
	return models.EmbeddingEntry{
		Passage: models.Passage{
			ID:   text,
			Seq:  seq,
			Text: text,
			Meta: models.PassageMeta{Kind: models.SourcePDF, Source: "manual.pdf", Page: seq + 1},
		},
		Embedding: llm.L2Normalize(vec),
	}
}

func sampleEntries() []models.EmbeddingEntry {
	return []models.EmbeddingEntry{
		entry(0, "a", 1, 0, 0),
		entry(1, "b", 0, 1, 0),
		entry(2, "c", 1, 1, 0),
		entry(3, "d", 1, 0, 0),
	}
}

func texts(results []models.RetrievalResult) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Passage.Text)
	}
	return out
}

func TestSnapshot_Search(t *testing.T) {
	snap := store.NewSnapshot(sampleEntries())
	assert.Equal(t, 4, snap.Len())

	results, err := snap.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)

	// a and d tie; insertion order decides.
	assert.Equal(t, []string{"a", "d", "c"}, texts(results))
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
	}
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	results, err = snap.Search(context.Background(), []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = snap.Search(context.Background(), []float32{1, 0}, 3)
	assert.Error(t, err)
}

func TestDiskIndex_RebuildAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "Vector_DB")
	idx := store.NewDiskIndex(dir, "hash-3", nil)

	exists, err := idx.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = idx.Load(ctx)
	assert.ErrorIs(t, err, store.ErrIndexUnavailable)

	built, err := idx.Rebuild(ctx, sampleEntries())
	require.NoError(t, err)
	require.NotNil(t, built)

	exists, err = idx.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := idx.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())

	query := llm.L2Normalize([]float32{1, 0.2, 0})
	fromBuild, err := built.Search(ctx, query, 4)
	require.NoError(t, err)
	fromLoad, err := loaded.Search(ctx, query, 4)
	require.NoError(t, err)
	assert.Equal(t, fromBuild, fromLoad)
	assert.Equal(t, models.PassageMeta{Kind: models.SourcePDF, Source: "manual.pdf", Page: 1}, fromLoad[0].Passage.Meta)
}

func TestDiskIndex_RebuildReplaces(t *testing.T) {
	ctx := context.Background()
	idx := store.NewDiskIndex(t.TempDir(), "m", nil)

	_, err := idx.Rebuild(ctx, sampleEntries())
	require.NoError(t, err)
	_, err = idx.Rebuild(ctx, []models.EmbeddingEntry{entry(0, "only", 0, 0, 1)})
	require.NoError(t, err)

	loaded, err := idx.Load(ctx)
	require.NoError(t, err)
	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, texts(results))
}

func TestDiskIndex_EmptyRebuild(t *testing.T) {
	ctx := context.Background()
	idx := store.NewDiskIndex(t.TempDir(), "m", nil)

	_, err := idx.Rebuild(ctx, sampleEntries())
	require.NoError(t, err)

	searcher, err := idx.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, searcher)

	exists, err := idx.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	// rebuilding an absent index to empty is fine too
	_, err = idx.Rebuild(ctx, nil)
	assert.NoError(t, err)
}

func TestDiskIndex_ModelMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := store.NewDiskIndex(dir, "nomic-embed-text", nil).Rebuild(ctx, sampleEntries())
	require.NoError(t, err)

	other := store.NewDiskIndex(dir, "text-embedding-004", nil)
	exists, err := other.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = other.Load(ctx)
	assert.True(t, errors.Is(err, store.ErrIndexUnavailable))
}

func TestDiskIndex_Generation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := store.NewDiskIndex(dir, "m", nil)

	stamp, err := idx.Generation(ctx)
	require.NoError(t, err)
	assert.Empty(t, stamp)

	built, err := idx.Rebuild(ctx, sampleEntries())
	require.NoError(t, err)
	require.NotEmpty(t, built.Generation())

	stamp, err = idx.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, built.Generation(), stamp)

	loaded, err := idx.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, stamp, loaded.Generation())

	// another handle, as a second process would hold, rebuilds
	other := store.NewDiskIndex(dir, "m", nil)
	rebuilt, err := other.Rebuild(ctx, []models.EmbeddingEntry{entry(0, "only", 0, 0, 1)})
	require.NoError(t, err)
	assert.NotEqual(t, stamp, rebuilt.Generation())

	stamp, err = idx.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Generation(), stamp)

	stamp, err = store.NewDiskIndex(dir, "other-model", nil).Generation(ctx)
	require.NoError(t, err)
	assert.Empty(t, stamp)

	_, err = other.Rebuild(ctx, nil)
	require.NoError(t, err)
	stamp, err = idx.Generation(ctx)
	require.NoError(t, err)
	assert.Empty(t, stamp)
}

func TestDiskIndex_DimensionMismatch(t *testing.T) {
	idx := store.NewDiskIndex(t.TempDir(), "m", nil)
	_, err := idx.Rebuild(context.Background(), []models.EmbeddingEntry{
		entry(0, "a", 1, 0),
		entry(1, "b", 1, 0, 0),
	})
	assert.Error(t, err)
}

func TestRetriever(t *testing.T) {
	ctx := context.Background()
	embedder := llm.Normalize(llm.NewHashEmbedder(256))

	t.Run("absent index", func(t *testing.T) {
		r := store.NewRetriever(embedder, nil, 0)
		assert.Equal(t, store.DefaultTopK, r.TopK())
		assert.Empty(t, r.Generation())

		results, err := r.Retrieve(ctx, "becas")
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty snapshot", func(t *testing.T) {
		r := store.NewRetriever(embedder, store.NewSnapshot(nil), 5)
		results, err := r.Retrieve(ctx, "becas")
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("deterministic ranking", func(t *testing.T) {
		passages := []models.Passage{
			{Seq: 0, Text: "Beca de excelencia académica para grado"},
			{Seq: 1, Text: "Horario de la biblioteca central"},
			{Seq: 2, Text: "Requisitos de la beca de excelencia: promedio de nueve"},
			{Seq: 3, Text: "Convenios institucionales con empresas"},
		}

		build := func() []models.RetrievalResult {
			entries, err := store.EmbedPassages(ctx, embedder, passages, store.EmbedOptions{BatchSize: 1, Workers: 3})
			require.NoError(t, err)
			idx := store.NewDiskIndex(t.TempDir(), "hash", nil)
			searcher, err := idx.Rebuild(ctx, entries)
			require.NoError(t, err)
			results, err := store.NewRetriever(embedder, searcher, 2).Retrieve(ctx, "beca de excelencia")
			require.NoError(t, err)
			return results
		}

		first, second := build(), build()
		require.Len(t, first, 2)
		assert.Equal(t, first, second)
		assert.ElementsMatch(t, []int{0, 2}, []int{first[0].Passage.Seq, first[1].Passage.Seq})
		assert.Equal(t, store.Passages(first)[0], first[0].Passage)
	})
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func TestEmbedPassages(t *testing.T) {
	ctx := context.Background()
	passages := make([]models.Passage, 10)
	for i := range passages {
		passages[i] = models.Passage{Seq: i, Text: string(rune('a' + i))}
	}

	var (
		mu   sync.Mutex
		seen []int
	)
	entries, err := store.EmbedPassages(ctx, llm.NewHashEmbedder(8), passages, store.EmbedOptions{
		BatchSize: 3,
		Workers:   2,
		Progress: func(done int) {
			mu.Lock()
			seen = append(seen, done)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, i, e.Passage.Seq)
		assert.Len(t, e.Embedding, 8)
	}
	assert.Len(t, seen, 4)
	assert.Contains(t, seen, 10)

	_, err = store.EmbedPassages(ctx, failingEmbedder{}, passages, store.EmbedOptions{})
	assert.ErrorContains(t, err, "connection refused")

	empty, err := store.EmbedPassages(ctx, failingEmbedder{}, nil, store.EmbedOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
