package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/conversation"
	"github.com/xhad/becabot/pkg/extractor"
	"github.com/xhad/becabot/pkg/llm"
	"github.com/xhad/becabot/pkg/lock"
	"github.com/xhad/becabot/pkg/logger"
	"github.com/xhad/becabot/pkg/processor"
	"github.com/xhad/becabot/pkg/store"
)

var (
	ErrEmptyQuestion = errors.New("empty question")
	// ErrNothingToIndex means there are neither PDFs nor a corpus to build from.
	ErrNothingToIndex = errors.New("no documents or corpus to index")
	ErrNoScraper      = errors.New("no corpus builder configured")
)

// Reply is the answer to one question.
type Reply struct {
	Text      string           `json:"response"`
	Citations models.Citations `json:"sources"`
	Degraded  bool             `json:"degraded,omitempty"`
}

// BuildReport summarizes one index rebuild.
type BuildReport struct {
	Pages    int      `json:"pages"`
	Records  int      `json:"records"`
	Passages int      `json:"passages"`
	Warnings []string `json:"warnings,omitempty"`
	// Empty is set when nothing was indexed and the index is now absent.
	Empty    bool          `json:"empty"`
	Duration time.Duration `json:"duration"`
}

// RefreshReport is a scrape followed by a rebuild.
type RefreshReport struct {
	Scraped int         `json:"scraped"`
	Build   BuildReport `json:"build"`
}

type Status struct {
	IndexReady    bool                 `json:"index_ready"`
	Passages      int                  `json:"passages"`
	Generation    string               `json:"generation,omitempty"`
	Documents     int                  `json:"documents"`
	Corpus        extractor.CorpusInfo `json:"corpus"`
	ModelReady    bool                 `json:"model_ready"`
	Conversations conversation.Stats   `json:"conversations"`
	Sessions      int                  `json:"cached_sessions"`
}

type Options struct {
	CorpusPath       string
	DocsDir          string
	TopK             int
	EmbedBatchSize   int
	EmbedWorkers     int
	Bootstrap        bool
	BootstrapTimeout time.Duration
	PersistDegraded  bool
	// BuildRetryAfter is how long a failed automatic build is remembered
	// before a question may trigger another one.
	BuildRetryAfter time.Duration
	// EmbedProgress reports passages embedded out of total during a rebuild.
	EmbedProgress func(done, total int)
}

// Deps are the collaborators the service drives. Corpus may be nil; Lock
// and Cache default to in-process implementations.
type Deps struct {
	Extractor *extractor.Extractor
	Processor processor.Processor
	Embedder  types.Embedder
	Index     types.Index
	Generator types.Generator
	Turns     types.TurnStore
	Corpus    types.CorpusBuilder
	Lock      types.BuildLock
	Cache     Cache
	Log       *logger.Logger
}

// Service answers questions and keeps the index built.
type Service struct {
	deps Deps
	opts Options
	log  *logger.Logger

	// current is the last generation this process attached or built.
	current atomic.Pointer[store.Retriever]
	failed  atomic.Pointer[buildFailure]

	bootOnce sync.Once
	closers  []func() error
}

func New(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("rag: extractor is required")
	case deps.Embedder == nil:
		return nil, errors.New("rag: embedder is required")
	case deps.Index == nil:
		return nil, errors.New("rag: index is required")
	case deps.Generator == nil:
		return nil, errors.New("rag: generator is required")
	case deps.Turns == nil:
		return nil, errors.New("rag: turn store is required")
	}
	if deps.Lock == nil {
		deps.Lock = lock.NewLocal()
	}
	if deps.Cache == nil {
		deps.Cache = NewMemoryCache()
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if opts.TopK <= 0 {
		opts.TopK = store.DefaultTopK
	}
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = 5 * time.Minute
	}
	if opts.BuildRetryAfter <= 0 {
		opts.BuildRetryAfter = time.Minute
	}
	return &Service{deps: deps, opts: opts, log: deps.Log.With("component", "rag")}, nil
}

func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Answer responds to question within session and records the exchange.
func (s *Service) Answer(ctx context.Context, question, session string) (Reply, error) {
	return s.AnswerStream(ctx, question, session, nil)
}

// AnswerStream is Answer with the reply forwarded to onChunk as the model
// produces it. Degraded replies are not streamed.
func (s *Service) AnswerStream(ctx context.Context, question, session string, onChunk func(string)) (Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Reply{}, ErrEmptyQuestion
	}
	if strings.TrimSpace(session) == "" {
		return Reply{}, conversation.ErrEmptySession
	}
	log := s.log.With("session_id", session)

	s.bootstrap(ctx)

	history, err := s.deps.Turns.History(ctx, session)
	if err != nil {
		return Reply{}, err
	}

	gen := s.generate(ctx, log, question, session, history, onChunk)
	reply := Reply{
		Text:      gen.Text,
		Citations: Cite(gen.Context),
		Degraded:  gen.Degraded,
	}

	if gen.Degraded && !s.opts.PersistDegraded {
		log.Warn("degraded reply not saved")
		return reply, nil
	}
	if err := s.deps.Turns.AppendExchange(ctx, session, question, gen.Text); err != nil {
		return reply, fmt.Errorf("saving exchange: %w", err)
	}

	log.Info("question answered",
		"history", len(history),
		"context", len(gen.Context),
		"degraded", gen.Degraded)
	return reply, nil
}

func (s *Service) generate(ctx context.Context, log *logger.Logger, question, session string, history []models.ConversationTurn, onChunk func(string)) models.Generation {
	retriever, err := s.pipeline(ctx, session)
	if err != nil {
		log.Error("index not attached", "error", err)
		return models.Generation{Text: llm.FailureMessage(err), Degraded: true}
	}

	results, err := retriever.Retrieve(ctx, question)
	if err != nil {
		log.Error("retrieval failed", "error", err)
		return models.Generation{Text: llm.FailureMessage(err), Degraded: true}
	}

	return s.deps.Generator.Generate(ctx, question, history, store.Passages(results), onChunk)
}

// pipeline returns the session's retriever. A cached or attached generation
// is reused only while it is still the persisted one; otherwise the index is
// reattached, and built when none exists.
func (s *Service) pipeline(ctx context.Context, session string) (*store.Retriever, error) {
	stamp, err := s.deps.Index.Generation(ctx)
	if err != nil {
		return nil, err
	}
	if r, ok := s.deps.Cache.Get(session); ok && r.Generation() == stamp {
		return r, nil
	}
	r := s.current.Load()
	if r == nil || r.Generation() != stamp {
		if r, err = s.attach(ctx); err != nil {
			return nil, err
		}
	}
	s.deps.Cache.Put(session, r)
	return r, nil
}

type buildFailure struct {
	err error
	at  time.Time
}

// recentFailure returns the last automatic build error while it is younger
// than BuildRetryAfter.
func (s *Service) recentFailure() error {
	f := s.failed.Load()
	if f == nil {
		return nil
	}
	age := time.Since(f.at)
	if age >= s.opts.BuildRetryAfter {
		return nil
	}
	return fmt.Errorf("index build failed %s ago: %w", age.Round(time.Second), f.err)
}

func (s *Service) attach(ctx context.Context) (*store.Retriever, error) {
	if r, err := s.load(ctx); err == nil || !errors.Is(err, store.ErrIndexUnavailable) {
		return r, err
	}
	if err := s.recentFailure(); err != nil {
		return nil, err
	}

	unlock, err := s.deps.Lock.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another request or process may have finished a build meanwhile.
	stamp, err := s.deps.Index.Generation(ctx)
	if err != nil {
		return nil, err
	}
	if r := s.current.Load(); r != nil && r.Generation() == stamp {
		return r, nil
	}
	if r, err := s.load(ctx); err == nil || !errors.Is(err, store.ErrIndexUnavailable) {
		return r, err
	}
	if err := s.recentFailure(); err != nil {
		return nil, err
	}

	s.log.Info("no index found, building")
	pdfs, err := ListDocuments(s.opts.DocsDir)
	if err != nil {
		return nil, err
	}
	if _, err := s.rebuildLocked(ctx, pdfs, s.opts.CorpusPath); err != nil {
		if ctx.Err() == nil {
			s.failed.Store(&buildFailure{err: err, at: time.Now()})
		}
		return nil, err
	}
	return s.current.Load(), nil
}

func (s *Service) load(ctx context.Context) (*store.Retriever, error) {
	searcher, err := s.deps.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	r := s.retriever(searcher)
	s.current.Store(r)
	s.deps.Cache.Purge()
	s.log.Info("index attached", "passages", r.Len(), "generation", r.Generation())
	return r, nil
}

func (s *Service) retriever(searcher types.Searcher) *store.Retriever {
	return store.NewRetriever(s.deps.Embedder, searcher, s.opts.TopK)
}

// RebuildIndex replaces the index with passages from the given PDFs and
// corpus. Only one build runs at a time; questions keep using the previous
// generation until it finishes.
func (s *Service) RebuildIndex(ctx context.Context, pdfs []string, corpusPath string) (BuildReport, error) {
	unlock, err := s.deps.Lock.Lock(ctx)
	if err != nil {
		return BuildReport{}, err
	}
	defer unlock()
	return s.rebuildLocked(ctx, pdfs, corpusPath)
}

func (s *Service) rebuildLocked(ctx context.Context, pdfs []string, corpusPath string) (BuildReport, error) {
	start := time.Now()

	res, err := s.deps.Extractor.Extract(ctx, pdfs, corpusPath)
	if err != nil {
		return BuildReport{}, err
	}
	passages := s.deps.Processor.Process(res.Records)

	report := BuildReport{
		Pages:    res.Pages,
		Records:  res.Entries,
		Passages: len(passages),
		Warnings: res.Warnings,
	}

	var entries []models.EmbeddingEntry
	if len(passages) > 0 {
		var progress func(int)
		if s.opts.EmbedProgress != nil {
			total := len(passages)
			progress = func(done int) { s.opts.EmbedProgress(done, total) }
		}
		entries, err = store.EmbedPassages(ctx, s.deps.Embedder, passages, store.EmbedOptions{
			BatchSize: s.opts.EmbedBatchSize,
			Workers:   s.opts.EmbedWorkers,
			Progress:  progress,
		})
		if err != nil {
			return BuildReport{}, err
		}
	}

	searcher, err := s.deps.Index.Rebuild(ctx, entries)
	if err != nil {
		return BuildReport{}, err
	}
	report.Empty = searcher == nil
	report.Duration = time.Since(start)

	s.current.Store(s.retriever(searcher))
	s.failed.Store(nil)
	s.deps.Cache.Purge()

	s.log.Info("index rebuilt",
		"pages", report.Pages,
		"records", report.Records,
		"passages", report.Passages,
		"empty", report.Empty,
		"duration", report.Duration)
	return report, nil
}

// Regenerate rebuilds from every PDF in the documents directory plus the
// corpus.
func (s *Service) Regenerate(ctx context.Context) (BuildReport, error) {
	pdfs, err := ListDocuments(s.opts.DocsDir)
	if err != nil {
		return BuildReport{}, err
	}
	if len(pdfs) == 0 && !s.HasCorpus() {
		return BuildReport{}, ErrNothingToIndex
	}
	return s.RebuildIndex(ctx, pdfs, s.opts.CorpusPath)
}

// RefreshCorpus scrapes a fresh corpus, then rebuilds the index.
func (s *Service) RefreshCorpus(ctx context.Context) (RefreshReport, error) {
	if s.deps.Corpus == nil {
		return RefreshReport{}, ErrNoScraper
	}
	n, err := s.deps.Corpus.Build(ctx)
	if err != nil {
		return RefreshReport{}, fmt.Errorf("building corpus: %w", err)
	}
	report, err := s.Regenerate(ctx)
	if err != nil {
		return RefreshReport{Scraped: n}, err
	}
	return RefreshReport{Scraped: n, Build: report}, nil
}

// HasCorpus reports whether a corpus with at least one record is on disk.
func (s *Service) HasCorpus() bool {
	info := extractor.Inspect(s.opts.CorpusPath)
	return info.Exists && info.Error == "" && info.Records > 0
}

// EnsureCorpus builds the corpus when none exists, bounded by the bootstrap
// timeout. It reports whether a corpus is available afterwards; a failed
// build leaves the service running on PDFs alone.
func (s *Service) EnsureCorpus(ctx context.Context) bool {
	if s.HasCorpus() {
		return true
	}
	if s.deps.Corpus == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.BootstrapTimeout)
	defer cancel()

	s.log.Info("no corpus found, building")
	n, err := s.deps.Corpus.Build(ctx)
	if err != nil {
		s.log.Warn("corpus build failed", "error", err)
		return false
	}
	s.log.Info("corpus built", "records", n)
	return s.HasCorpus()
}

// bootstrap runs once per process, before the first question is answered.
func (s *Service) bootstrap(ctx context.Context) {
	if !s.opts.Bootstrap {
		return
	}
	s.bootOnce.Do(func() {
		if s.HasCorpus() {
			return
		}
		ctx := context.WithoutCancel(ctx)
		if !s.EnsureCorpus(ctx) {
			return
		}
		if _, err := s.Regenerate(ctx); err != nil {
			s.log.Warn("rebuild after corpus bootstrap failed", "error", err)
		}
	})
}

func (s *Service) History(ctx context.Context, session string) ([]models.ConversationTurn, error) {
	return s.deps.Turns.History(ctx, session)
}

// ClearSession deletes the session's turns and drops its cached pipeline.
func (s *Service) ClearSession(ctx context.Context, session string) (int64, error) {
	s.deps.Cache.Invalidate(session)
	return s.deps.Turns.Clear(ctx, session)
}

func (s *Service) SweepInactive(ctx context.Context, cutoff time.Time, dryRun bool) (models.SweepResult, error) {
	res, err := s.deps.Turns.SweepInactive(ctx, cutoff, dryRun)
	if err != nil {
		return res, err
	}
	if !dryRun {
		for _, a := range res.Sessions {
			s.deps.Cache.Invalidate(a.SessionKey)
		}
	}
	return res, nil
}

func (s *Service) Status(ctx context.Context) Status {
	st := Status{Corpus: extractor.Inspect(s.opts.CorpusPath)}
	if pdfs, err := ListDocuments(s.opts.DocsDir); err == nil {
		st.Documents = len(pdfs)
	}
	if stamp, err := s.deps.Index.Generation(ctx); err == nil {
		st.Generation = stamp
	}
	if r := s.current.Load(); r != nil && r.Generation() == st.Generation {
		st.IndexReady = r.Len() > 0
		st.Passages = r.Len()
	} else if ok, err := s.deps.Index.Exists(ctx); err == nil {
		st.IndexReady = ok
	}
	if g, ok := s.deps.Generator.(interface{ Available() bool }); ok {
		st.ModelReady = g.Available()
	} else {
		st.ModelReady = true
	}
	if t, ok := s.deps.Turns.(interface {
		Stats(context.Context) (conversation.Stats, error)
	}); ok {
		if cs, err := t.Stats(ctx); err == nil {
			st.Conversations = cs
		} else {
			s.log.Warn("conversation stats unavailable", "error", err)
		}
	}
	if c, ok := s.deps.Cache.(*MemoryCache); ok {
		st.Sessions = c.Len()
	}
	return st
}
