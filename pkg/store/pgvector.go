package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/logger"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	Model      string
}

// VectorStore is the pgvector index backend. Rebuild swaps the table
// contents in one transaction, so concurrent searches see either the old or
// the new generation.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *logger.Logger
}

var _ types.Index = (*VectorStore)(nil)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewWithConfig(ctx context.Context, config VectorStoreConfig, log *logger.Logger) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "passages"
	}
	if !identPattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name: %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if log == nil {
		log = logger.Nop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		log:    log.With("component", "index", "backend", "pgvector"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Exact scan only: corpora are small and ranking must be reproducible.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			overlap INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createMeta := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createMeta)
	if err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	return nil
}

// generation returns the passage count and stamp of the current
// generation, or ErrIndexUnavailable.
func (vs *VectorStore) generation(ctx context.Context) (int, string, error) {
	var model, count, stamp string
	query := fmt.Sprintf(`
		SELECT
			COALESCE((SELECT value FROM %[1]s_meta WHERE key = 'model'), ''),
			COALESCE((SELECT value FROM %[1]s_meta WHERE key = 'count'), '0'),
			COALESCE((SELECT value FROM %[1]s_meta WHERE key = 'generation'), '')`,
		vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, query).Scan(&model, &count, &stamp); err != nil {
		return 0, "", fmt.Errorf("failed to read index metadata: %w", err)
	}
	n, _ := strconv.Atoi(count)
	if n == 0 {
		return 0, "", ErrIndexUnavailable
	}
	if vs.config.Model != "" && model != vs.config.Model {
		return 0, "", fmt.Errorf("%w: built with model %q, configured %q", ErrIndexUnavailable, model, vs.config.Model)
	}
	return n, stamp, nil
}

func (vs *VectorStore) Generation(ctx context.Context) (string, error) {
	_, stamp, err := vs.generation(ctx)
	if isUnavailable(err) {
		return "", nil
	}
	return stamp, err
}

func (vs *VectorStore) Exists(ctx context.Context) (bool, error) {
	_, _, err := vs.generation(ctx)
	if err == nil {
		return true, nil
	}
	if isUnavailable(err) {
		return false, nil
	}
	return false, err
}

func (vs *VectorStore) Load(ctx context.Context) (types.Searcher, error) {
	n, stamp, err := vs.generation(ctx)
	if err != nil {
		return nil, err
	}
	return &pgSearcher{store: vs, count: n, gen: stamp}, nil
}

func (vs *VectorStore) Rebuild(ctx context.Context, entries []models.EmbeddingEntry) (types.Searcher, error) {
	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.config.TableName)); err != nil {
		return nil, fmt.Errorf("failed to clear index: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (seq, id, chunk_index, overlap, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	for _, e := range entries {
		if len(e.Embedding) != vs.config.VectorDim {
			return nil, fmt.Errorf("passage %d has dimension %d, table expects %d", e.Passage.Seq, len(e.Embedding), vs.config.VectorDim)
		}
		meta, err := json.Marshal(e.Passage.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		batch.Queue(stmt,
			e.Passage.Seq,
			e.Passage.ID,
			e.Passage.ChunkIndex,
			e.Passage.Overlap,
			e.Passage.Text,
			meta,
			pgvector.NewVector(e.Embedding),
		)
	}

	upsertMeta := fmt.Sprintf(`
		INSERT INTO %s_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		vs.config.TableName)
	batch.Queue(upsertMeta, "model", vs.config.Model)
	batch.Queue(upsertMeta, "count", strconv.Itoa(len(entries)))
	gen := uuid.NewString()
	batch.Queue(upsertMeta, "generation", gen)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to insert passages: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(entries) == 0 {
		vs.log.Info("index cleared")
		return nil, nil
	}
	vs.log.Info("index rebuilt", "passages", len(entries), "generation", gen)
	return &pgSearcher{store: vs, count: len(entries), gen: gen}, nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

type pgSearcher struct {
	store *VectorStore
	count int
	gen   string
}

func (s *pgSearcher) Len() int {
	return s.count
}

func (s *pgSearcher) Generation() string {
	return s.gen
}

func (s *pgSearcher) Search(ctx context.Context, query []float32, k int) ([]models.RetrievalResult, error) {
	if k <= 0 || s.count == 0 {
		return nil, nil
	}

	// Query similar passages
	sql := fmt.Sprintf(`
		SELECT seq, id, chunk_index, overlap, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`,
		s.store.config.TableName)

	rows, err := s.store.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievalResult
	for rows.Next() {
		var (
			r     models.RetrievalResult
			meta  []byte
			score float64
		)
		err := rows.Scan(
			&r.Passage.Seq,
			&r.Passage.ID,
			&r.Passage.ChunkIndex,
			&r.Passage.Overlap,
			&r.Passage.Text,
			&meta,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(meta, &r.Passage.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		r.Score = float32(score)
		r.Rank = len(results) + 1
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}
