package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/extractor"
	"github.com/xhad/becabot/pkg/logger"
)

const (
	detailErrorKey   = "Error"
	detailErrorValue = "No se pudo extraer contenido."
	noRegionKey      = "Nota"
	noRegionValue    = "No se detectó el contenedor principal de contenido."
	generalInfoKey   = "Información General"
)

// Listing sections in page order, with the academic level each one holds.
var sections = []struct {
	class string
	level string
}{
	{"grado", "Grado"},
	{"posgrado", "Posgrado"},
	{"tecnologia", "Tecnologías"},
}

var typeClasses = []struct{ class, label string }{
	{"Excelencia", "Beca de Excelencia"},
	{"Inclusión", "Beca de Inclusión"},
	{"Estratégica", "Beca Estratégica"},
	{"Apoyo", "Beca de Apoyo Económico"},
	{"Meritos", "Méritos Universitarios"},
	{"Convenios", "Convenios Institucionales"},
}

var modalityClasses = []struct{ class, label string }{
	{"Presencial", "Presencial"},
	{"Distancia", "Abierta y a Distancia"},
	{"Linea", "En Línea"},
}

type ScraperConfig struct {
	BaseURL    string
	OutputPath string
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	UserAgent  string
	OnProgress func(done, total int, title string)
}

// Scraper turns the scholarship site into corpus records.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	base    *url.URL
	log     *logger.Logger
}

var _ types.CorpusBuilder = (*Scraper)(nil)

func NewWithConfig(config ScraperConfig, log *logger.Logger) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "becabot/1.0"
	}
	if log == nil {
		log = logger.Nop()
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		base:    base,
		log:     log.With("component", "scraper"),
	}, nil
}

// Build scrapes the site and replaces the corpus file. It returns the number
// of records written.
func (s *Scraper) Build(ctx context.Context) (int, error) {
	if s.config.OutputPath == "" {
		return 0, fmt.Errorf("scraper output path is not set")
	}
	entries, err := s.Scrape(ctx)
	if err != nil {
		return 0, err
	}
	if err := extractor.WriteCorpus(s.config.OutputPath, entries); err != nil {
		return 0, err
	}
	s.log.Info("corpus written", "records", len(entries), "path", s.config.OutputPath)
	return len(entries), nil
}

// Scrape reads the listing page, then every detail page. A failed detail
// page is recorded in the entry and does not stop the run.
func (s *Scraper) Scrape(ctx context.Context) ([]models.ScrapedEntry, error) {
	s.log.Info("scraping started", "url", s.base.String())

	listing, err := s.fetch(ctx, s.base.String())
	if err != nil {
		return nil, fmt.Errorf("fetching listing: %w", err)
	}
	entries := s.parseListing(listing)

	details := make(map[string]models.DetailMap)
	for i := range entries {
		entry := &entries[i]
		if s.config.OnProgress != nil {
			s.config.OnProgress(i+1, len(entries), entry.Title)
		}

		if cached, ok := details[entry.URL]; ok {
			entry.Details = cached
			continue
		}

		doc, err := s.fetch(ctx, entry.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("detail page failed", "url", entry.URL, "error", err)
			entry.Details = models.DetailMap{Fields: []models.DetailField{{Key: detailErrorKey, Value: detailErrorValue}}}
			continue
		}
		entry.Details = parseDetail(doc)
		details[entry.URL] = entry.Details
	}

	s.log.Info("scraping finished", "records", len(entries))
	return entries, nil
}

func (s *Scraper) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

func (s *Scraper) parseListing(doc *goquery.Document) []models.ScrapedEntry {
	var entries []models.ScrapedEntry

	for _, sec := range sections {
		container := doc.Find("div." + sec.class).First()
		if container.Length() == 0 {
			continue
		}

		items := container.Find("div.item")
		s.log.Debug("listing section", "level", sec.level, "items", items.Length())

		items.Each(func(_ int, item *goquery.Selection) {
			link := item.Find("a").First()
			if link.Length() == 0 {
				return
			}
			href, _ := link.Attr("href")

			classes := strings.Fields(item.AttrOr("class", ""))
			entries = append(entries, models.ScrapedEntry{
				Title:      textOf(link, ""),
				URL:        s.resolve(href),
				Level:      sec.level,
				Types:      labels(classes, typeClasses),
				Modalities: labels(classes, modalityClasses),
			})
		})
	}

	return entries
}

func (s *Scraper) resolve(href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return s.base.ResolveReference(ref).String()
}

// labels maps CSS classes to display labels in table order.
func labels(classes []string, table []struct{ class, label string }) []string {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	out := []string{}
	for _, t := range table {
		if set[t.class] {
			out = append(out, t.label)
		}
	}
	return out
}

// parseDetail reads label/value pairs from a detail page. It tries field
// blocks, then table rows, then falls back to the region's plain text.
func parseDetail(doc *goquery.Document) models.DetailMap {
	region := doc.Find("div.region-content").First()
	if region.Length() == 0 {
		region = doc.Find("div.content").First()
	}
	if region.Length() == 0 {
		return models.DetailMap{Fields: []models.DetailField{{Key: noRegionKey, Value: noRegionValue}}}
	}

	var details models.DetailMap

	region.Find("div.field").Each(func(_ int, field *goquery.Selection) {
		label := field.Find("div.field-label").First()
		items := field.Find("div.field-items").First()
		if label.Length() == 0 || items.Length() == 0 {
			return
		}
		key := strings.TrimRight(textOf(label, ""), ":")
		details.Set(key, textOf(items, "\n"))
	})
	if len(details.Fields) > 0 {
		return details
	}

	region.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td, th")
		if cols.Length() < 2 {
			return
		}
		key := strings.TrimRight(textOf(cols.Eq(0), ""), ":")
		details.Set(key, textOf(cols.Eq(1), "\n"))
	})
	if len(details.Fields) > 0 {
		return details
	}

	return models.DetailMap{Fields: []models.DetailField{{Key: generalInfoKey, Value: textOf(region, "\n")}}}
}

// textOf joins the trimmed, non-empty text nodes under sel with sep.
func textOf(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}
