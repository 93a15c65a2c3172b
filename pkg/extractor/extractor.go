package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/logger"
)

// PageLoader returns one document per PDF page with a 1-based "page" metadata key.
type PageLoader func(ctx context.Context, r io.ReaderAt, size int64) ([]schema.Document, error)

func langchainPDFLoader(ctx context.Context, r io.ReaderAt, size int64) ([]schema.Document, error) {
	return documentloaders.NewPDF(r, size).Load(ctx)
}

type Extractor struct {
	docsDir string
	loader  PageLoader
	log     *logger.Logger
}

type Option func(*Extractor)

func WithPageLoader(loader PageLoader) Option {
	return func(e *Extractor) {
		if loader != nil {
			e.loader = loader
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

func New(docsDir string, opts ...Option) *Extractor {
	e := &Extractor{
		docsDir: docsDir,
		loader:  langchainPDFLoader,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the uniform output of one extraction run. Warnings name every
// source that was skipped.
type Result struct {
	Records  []models.SourceRecord
	Pages    int
	Entries  int
	Warnings []string
}

func (r Result) Empty() bool {
	return len(r.Records) == 0
}

// Extract reads the named PDFs from the documents directory and the scraped
// corpus. Unreadable sources are skipped; only context cancellation fails
// the whole run.
func (e *Extractor) Extract(ctx context.Context, pdfs []string, corpusPath string) (Result, error) {
	var res Result

	for _, name := range pdfs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		pages, err := e.ExtractPDF(ctx, name)
		if err != nil {
			res.warn(e.log, fmt.Sprintf("skipping pdf %s: %v", name, err))
			continue
		}
		res.Records = append(res.Records, pages...)
		res.Pages += len(pages)
	}

	if corpusPath != "" {
		entries, err := e.ExtractCorpus(corpusPath)
		if err != nil {
			res.warn(e.log, fmt.Sprintf("skipping corpus %s: %v", corpusPath, err))
		} else {
			res.Records = append(res.Records, entries...)
			res.Entries = len(entries)
		}
	}

	e.log.Info("extraction finished", "pages", res.Pages, "entries", res.Entries, "warnings", len(res.Warnings))
	return res, nil
}

func (r *Result) warn(log *logger.Logger, msg string) {
	log.Warn(msg)
	r.Warnings = append(r.Warnings, msg)
}

// ExtractPDF returns one record per page. Only the base name is used, so a
// name cannot escape the documents directory.
func (e *Extractor) ExtractPDF(ctx context.Context, name string) ([]models.SourceRecord, error) {
	filename := filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("not a pdf: %s", filename)
	}

	f, err := os.Open(filepath.Join(e.docsDir, filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	docs, err := e.loader(ctx, f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	records := make([]models.SourceRecord, 0, len(docs))
	for i, doc := range docs {
		page := pageNumber(doc.Metadata, i+1)
		records = append(records, models.NewPdfRecord(models.PdfPage{
			Filename: filename,
			Page:     page,
			Text:     strings.ToValidUTF8(doc.PageContent, ""),
		}))
	}
	return records, nil
}

func pageNumber(meta map[string]any, fallback int) int {
	switch v := meta["page"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// ExtractCorpus loads the scraped corpus. A missing file is an empty corpus.
func (e *Extractor) ExtractCorpus(path string) ([]models.SourceRecord, error) {
	entries, err := LoadCorpus(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	source := filepath.Base(path)
	records := make([]models.SourceRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, models.NewScrapedRecord(source, entry))
	}
	return records, nil
}
