package types

import (
	"context"
	"time"

	"github.com/xhad/becabot/internal/models"
)

// Core interfaces

// Embedder matches langchaingo's embeddings.Embedder so its implementations
// plug in directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher is one immutable, queryable generation of the embedding index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]models.RetrievalResult, error)
	Len() int
	// Generation is the stamp the index assigned when this generation was built.
	Generation() string
}

// Index persists embedding entries. Rebuild is the only mutation.
type Index interface {
	Exists(ctx context.Context) (bool, error)
	// Generation returns the stamp of the persisted generation, or "" when
	// none is usable. It is cheap enough to call on every question.
	Generation(ctx context.Context) (string, error)
	// Load reattaches the persisted generation without recomputing anything.
	Load(ctx context.Context) (Searcher, error)
	// Rebuild replaces all content. Zero entries leaves the index absent and
	// returns a nil Searcher.
	Rebuild(ctx context.Context, entries []models.EmbeddingEntry) (Searcher, error)
	Close() error
}

// Generator answers one question from retrieved passages and prior turns.
// Collaborator failures come back as a degraded Generation, never an error.
type Generator interface {
	Generate(ctx context.Context, question string, history []models.ConversationTurn, passages []models.Passage, onChunk func(string)) models.Generation
}

type TurnStore interface {
	AppendTurn(ctx context.Context, session string, role models.Role, text string) (models.ConversationTurn, error)
	AppendExchange(ctx context.Context, session, question, answer string) error
	History(ctx context.Context, session string) ([]models.ConversationTurn, error)
	Clear(ctx context.Context, session string) (int64, error)
	SweepInactive(ctx context.Context, cutoff time.Time, dryRun bool) (models.SweepResult, error)
}

// CorpusBuilder produces the scraped corpus file on demand.
type CorpusBuilder interface {
	Build(ctx context.Context) (int, error)
}

// BuildLock gives at-most-one index build in flight.
type BuildLock interface {
	Lock(ctx context.Context) (unlock func(), err error)
}
