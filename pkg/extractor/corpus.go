package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xhad/becabot/internal/models"
)

// ErrCorpusShape is returned when the corpus top level is neither an array
// of records nor an object wrapping one under "data".
var ErrCorpusShape = errors.New("corpus must be a JSON array of records")

func LoadCorpus(path string) ([]models.ScrapedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCorpus(data)
}

func ParseCorpus(data []byte) ([]models.ScrapedEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrCorpusShape)
	}

	switch trimmed[0] {
	case '[':
		var entries []models.ScrapedEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("parse corpus: %w", err)
		}
		return entries, nil
	case '{':
		var wrapper struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("parse corpus: %w", err)
		}
		inner := bytes.TrimSpace(wrapper.Data)
		if len(inner) == 0 || inner[0] != '[' {
			return nil, fmt.Errorf("%w: object without a data array", ErrCorpusShape)
		}
		return ParseCorpus(inner)
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrCorpusShape, trimmed[0])
}

// WriteCorpus replaces the corpus file atomically.
func WriteCorpus(path string, entries []models.ScrapedEntry) error {
	if entries == nil {
		entries = []models.ScrapedEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".corpus-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp corpus: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync corpus: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close corpus: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

type CorpusInfo struct {
	Path     string    `json:"path"`
	Exists   bool      `json:"exists"`
	Records  int       `json:"records"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Error    string    `json:"error,omitempty"`
}

// Inspect reports on the corpus file without failing on a bad one.
func Inspect(path string) CorpusInfo {
	info := CorpusInfo{Path: path}

	st, err := os.Stat(path)
	if err != nil {
		return info
	}
	info.Exists = true
	info.Size = st.Size()
	info.Modified = st.ModTime().UTC()

	entries, err := LoadCorpus(path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Records = len(entries)
	return info
}
