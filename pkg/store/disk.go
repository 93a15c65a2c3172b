package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/logger"
)

const indexFile = "index.db"

const diskSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE passages (
	seq         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	overlap     INTEGER NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL,
	embedding   BLOB NOT NULL
);`

// DiskIndex keeps one generation as a SQLite file under dir. A rebuild
// writes a new file and renames it into place, so readers always see a
// complete generation.
type DiskIndex struct {
	dir   string
	model string
	log   *logger.Logger

	// stamp memoizes the generation of the file last seen by Generation.
	mu    sync.Mutex
	seen  fs.FileInfo
	stamp string
}

var _ types.Index = (*DiskIndex)(nil)

func NewDiskIndex(dir, model string, log *logger.Logger) *DiskIndex {
	if log == nil {
		log = logger.Nop()
	}
	return &DiskIndex{dir: dir, model: model, log: log.With("component", "index", "backend", "disk")}
}

func (d *DiskIndex) Path() string {
	return filepath.Join(d.dir, indexFile)
}

func (d *DiskIndex) Exists(ctx context.Context) (bool, error) {
	db, err := d.open(ctx)
	if errors.Is(err, ErrIndexUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer db.Close()
	return true, nil
}

// Generation only reopens the file when it was replaced since the last call.
func (d *DiskIndex) Generation(ctx context.Context) (string, error) {
	info, err := os.Stat(d.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat index: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen != nil && os.SameFile(d.seen, info) && d.seen.ModTime().Equal(info.ModTime()) {
		return d.stamp, nil
	}

	db, err := d.open(ctx)
	if errors.Is(err, ErrIndexUnavailable) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer db.Close()

	stamp, err := readGeneration(ctx, db)
	if err != nil {
		return "", err
	}
	d.seen, d.stamp = info, stamp
	return stamp, nil
}

func readGeneration(ctx context.Context, db *sql.DB) (string, error) {
	var stamp string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'generation'`).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading index generation: %w", err)
	}
	return stamp, nil
}

func (d *DiskIndex) Load(ctx context.Context) (types.Searcher, error) {
	db, err := d.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	gen, err := readGeneration(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT seq, id, chunk_index, overlap, content, metadata, embedding FROM passages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	var entries []models.EmbeddingEntry
	for rows.Next() {
		var (
			e    models.EmbeddingEntry
			meta string
			blob []byte
		)
		if err := rows.Scan(&e.Passage.Seq, &e.Passage.ID, &e.Passage.ChunkIndex, &e.Passage.Overlap,
			&e.Passage.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Passage.Meta); err != nil {
			return nil, fmt.Errorf("decoding passage metadata: %w", err)
		}
		e.Embedding = bytesToFloat32Slice(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrIndexUnavailable
	}

	d.log.Debug("index loaded", "passages", len(entries), "generation", gen, "path", d.Path())
	return newSnapshot(entries, gen), nil
}

// open returns a handle on the current generation after checking that it
// was built with the configured model.
func (d *DiskIndex) open(ctx context.Context) (*sql.DB, error) {
	path := d.Path()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrIndexUnavailable
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	var model string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'model'`).Scan(&model)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIndexUnavailable
		}
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}
	if d.model != "" && model != d.model {
		db.Close()
		return nil, fmt.Errorf("%w: built with model %q, configured %q", ErrIndexUnavailable, model, d.model)
	}
	return db, nil
}

// Rebuild replaces the persisted generation with entries. Zero entries
// removes the index.
func (d *DiskIndex) Rebuild(ctx context.Context, entries []models.EmbeddingEntry) (types.Searcher, error) {
	if len(entries) == 0 {
		if err := os.Remove(d.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing index: %w", err)
		}
		d.log.Info("index cleared", "path", d.Path())
		return nil, nil
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".index-*.db")
	if err != nil {
		return nil, fmt.Errorf("creating temp index: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	gen := uuid.NewString()
	if err := d.write(ctx, tmpPath, gen, entries); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, d.Path()); err != nil {
		return nil, fmt.Errorf("installing index: %w", err)
	}

	d.log.Info("index rebuilt", "passages", len(entries), "generation", gen, "path", d.Path())
	return newSnapshot(entries, gen), nil
}

func (d *DiskIndex) write(ctx context.Context, path, gen string, entries []models.EmbeddingEntry) error {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return fmt.Errorf("opening temp index: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, diskSchema); err != nil {
		return fmt.Errorf("creating index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	dim := len(entries[0].Embedding)
	for key, value := range map[string]string{
		"model":      d.model,
		"generation": gen,
		"dimension":  strconv.Itoa(dim),
		"count":      strconv.Itoa(len(entries)),
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("writing index metadata: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (seq, id, chunk_index, overlap, content, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("passage %d has dimension %d, expected %d", e.Passage.Seq, len(e.Embedding), dim)
		}
		meta, err := json.Marshal(e.Passage.Meta)
		if err != nil {
			return fmt.Errorf("encoding passage metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.Passage.Seq, e.Passage.ID, e.Passage.ChunkIndex, e.Passage.Overlap,
			e.Passage.Text, string(meta), float32SliceToBytes(e.Embedding)); err != nil {
			return fmt.Errorf("inserting passage %d: %w", e.Passage.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return nil
}

func (d *DiskIndex) Close() error {
	return nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
