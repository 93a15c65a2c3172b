package llm_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/becabot/pkg/llm"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	emb, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{Provider: llm.ProviderHash, Dimension: 128})
	require.NoError(t, err)

	docs, err := emb.EmbedDocuments(ctx, []string{
		"Beca de excelencia académica para estudiantes de grado",
		"Horario de atención de la biblioteca",
		"",
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	for _, v := range docs[:2] {
		assert.Len(t, v, 128)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.Zero(t, norm(docs[2]))

	q, err := emb.EmbedQuery(ctx, "beca de excelencia")
	require.NoError(t, err)
	again, err := emb.EmbedQuery(ctx, "beca de excelencia")
	require.NoError(t, err)
	assert.Equal(t, q, again)

	assert.Greater(t, dot(q, docs[0]), dot(q, docs[1]))
}

func TestL2Normalize(t *testing.T) {
	v := llm.L2Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.Equal(t, []float32{0, 0}, llm.L2Normalize([]float32{0, 0}))
}

func TestNewEmbedderWithConfig_Errors(t *testing.T) {
	_, err := llm.NewEmbedderWithConfig(context.Background(), llm.EmbedderConfig{Provider: "bogus"})
	assert.Error(t, err)

	_, err = llm.NewEmbedderWithConfig(context.Background(), llm.EmbedderConfig{Provider: llm.ProviderGoogleAI})
	assert.Error(t, err)
}
