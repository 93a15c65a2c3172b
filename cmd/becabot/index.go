package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/becabot/pkg/rag"
	"github.com/xhad/becabot/pkg/scraper"
)

var (
	rebuildPDFs   []string
	scrapeRebuild bool
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the embedding index",
	Long: `Rebuild the embedding index from the scraped corpus and PDF documents.
Without --pdf every PDF in the documents directory is used.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the scholarship site into the corpus file",
	Args:  cobra.NoArgs,
	RunE:  runScrape,
}

func init() {
	rebuildCmd.Flags().StringSliceVar(&rebuildPDFs, "pdf", nil, "PDF file in the documents directory (repeatable)")
	scrapeCmd.Flags().BoolVar(&scrapeRebuild, "rebuild", false, "Rebuild the index after scraping")
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(scrapeCmd)
}

// embedProgress draws a progress bar sized on the first report.
func embedProgress() (func(done, total int), func()) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	report := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = getProgressBar(total, "Embedding passages...")
		}
		_ = bar.Set(done)
	}
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			_ = bar.Finish()
		}
	}
	return report, finish
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	progress, finish := embedProgress()

	svc, cfg, log, err := openService(ctx, rag.Options{EmbedProgress: progress})
	if err != nil {
		return err
	}
	defer log.Sync()
	defer svc.Close()

	color.Blue("\nRebuilding index in %s\n", cfg.Index.Backend)

	var report rag.BuildReport
	if len(rebuildPDFs) == 0 {
		report, err = svc.Regenerate(ctx)
	} else {
		report, err = svc.RebuildIndex(ctx, rebuildPDFs, cfg.Corpus.Path)
	}
	finish()
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(report rag.BuildReport) {
	for _, w := range report.Warnings {
		color.Yellow("! %s", w)
	}
	if report.Empty {
		color.Yellow("\nNothing to index: the index is now empty\n")
		return
	}
	color.Green("\n✓ Indexed %d passages from %d PDF pages and %d scholarship records in %s\n",
		report.Passages, report.Pages, report.Records, report.Duration.Round(time.Millisecond))
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	var bar *progressbar.ProgressBar
	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:    cfg.Scraper.BaseURL,
		OutputPath: cfg.Corpus.Path,
		RateLimit:  cfg.Scraper.RateLimit,
		Timeout:    cfg.Scraper.Timeout,
		UserAgent:  cfg.Scraper.UserAgent,
		OnProgress: func(done, total int, title string) {
			if bar == nil {
				bar = getProgressBar(total, "Scraping scholarships...")
			}
			_ = bar.Set(done)
		},
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	color.Blue("\nScraping %s\n", cfg.Scraper.BaseURL)
	n, err := s.Build(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	color.Green("\n✓ Saved %d scholarships to %s\n", n, cfg.Corpus.Path)

	if !scrapeRebuild {
		return nil
	}

	progress, finish := embedProgress()
	svc, err := rag.Open(ctx, cfg, log, rag.Options{EmbedProgress: progress})
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.Regenerate(ctx)
	finish()
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
