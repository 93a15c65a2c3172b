package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xhad/becabot/internal/models"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 300
)

// DefaultSeparators are tried in order; the empty string means a hard cut.
var DefaultSeparators = []string{"\n\n", "\n" + models.RecordMarker, "\n", " ", ""}

// passageNamespace seeds deterministic passage ids.
var passageNamespace = uuid.MustParse("6f1c2a8e-4b1d-5c3e-9a77-0b5e2d9c4f10")

// ProcessorConfig sizes are in runes.
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	return Processor{
		config: config,
	}
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Process chunks every record in order. Seq numbers run across the whole
// batch and define index insertion order.
func (p *Processor) Process(records []models.SourceRecord) []models.Passage {
	var passages []models.Passage

	for r, record := range records {
		meta := record.Meta()
		for i, c := range p.Split(record.Text()) {
			passages = append(passages, models.Passage{
				ID:         passageID(r, i, meta, c.Text),
				Seq:        len(passages),
				ChunkIndex: i,
				Overlap:    c.Overlap,
				Text:       c.Text,
				Meta:       meta,
			})
		}
	}

	return passages
}

// Chunk is one window over a text. Text[:Overlap] repeats the end of the
// previous chunk.
type Chunk struct {
	Text    string
	Overlap int
}

// Split partitions text into chunks of at most ChunkSize runes. Joining
// every Text[Overlap:] gives back the input exactly.
func (p *Processor) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return p.merge(p.splitRecursive(text, p.config.Separators))
}

// splitRecursive breaks text into pieces no longer than ChunkSize, trying
// coarser separators first. A separator stays at the head of the piece that
// follows it.
func (p *Processor) splitRecursive(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= p.config.ChunkSize {
		return []string{text}
	}

	for len(separators) > 0 && separators[0] != "" && !strings.Contains(text, separators[0]) {
		separators = separators[1:]
	}
	if len(separators) == 0 || separators[0] == "" {
		return hardCut(text, p.config.ChunkSize)
	}

	sep, rest := separators[0], separators[1:]
	var out []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) <= p.config.ChunkSize {
			out = append(out, piece)
			continue
		}
		out = append(out, p.splitRecursive(piece, rest)...)
	}
	return out
}

// merge packs pieces greedily into windows. After each window the trailing
// pieces that fit in ChunkOverlap are carried into the next one.
func (p *Processor) merge(pieces []string) []Chunk {
	var (
		chunks  []Chunk
		window  []string
		runes   []int
		total   int
		carried int
	)

	emit := func() {
		overlapBytes := 0
		for _, s := range window[:carried] {
			overlapBytes += len(s)
		}
		chunks = append(chunks, Chunk{Text: strings.Join(window, ""), Overlap: overlapBytes})
	}

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > p.config.ChunkSize && len(window) > carried {
			emit()
			for len(window) > 0 && (total > p.config.ChunkOverlap || total+n > p.config.ChunkSize) {
				total -= runes[0]
				window, runes = window[1:], runes[1:]
			}
			carried = len(window)
		}
		window = append(window, piece)
		runes = append(runes, n)
		total += n
	}
	if len(window) > carried {
		emit()
	}

	return chunks
}

func splitKeep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hardCut(text string, size int) []string {
	var out []string
	for text != "" {
		end, count := 0, 0
		for end < len(text) && count < size {
			_, w := utf8.DecodeRuneInString(text[end:])
			end += w
			count++
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}

func passageID(record, chunk int, meta models.PassageMeta, text string) string {
	key := fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%d\x00%s", meta.Kind, meta.Source, meta.Page, record, chunk, text)
	return uuid.NewSHA1(passageNamespace, []byte(key)).String()
}
