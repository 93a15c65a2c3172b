package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type SourceKind string

const (
	SourceScraped SourceKind = "scraped"
	SourcePDF     SourceKind = "pdf"
)

const (
	DefaultTitle = "Beca sin título"
	DefaultLevel = "General"

	// RecordMarker opens every scraped record's composite text.
	RecordMarker = "TÍTULO DE LA BECA:"
)

// DetailField is one label/value pair scraped from a scholarship page.
type DetailField struct {
	Key   string
	Value string
}

// DetailMap keeps the scraped key order, which a Go map would lose.
// Raw holds the content when the corpus stored plain text instead of an object.
type DetailMap struct {
	Fields []DetailField
	Raw    string
}

func (d DetailMap) Get(key string) (string, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (d *DetailMap) Set(key, value string) {
	for i := range d.Fields {
		if d.Fields[i].Key == key {
			d.Fields[i].Value = value
			return
		}
	}
	d.Fields = append(d.Fields, DetailField{Key: key, Value: value})
}

func (d DetailMap) MarshalJSON() ([]byte, error) {
	if len(d.Fields) == 0 && d.Raw != "" {
		return json.Marshal(d.Raw)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *DetailMap) UnmarshalJSON(data []byte) error {
	*d = DetailMap{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		d.Raw = stringify(v)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("detail key must be a string, got %T", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("detail %q: %w", key, err)
		}
		d.Fields = append(d.Fields, DetailField{Key: key, Value: stringify(v)})
	}
	_, err := dec.Token()
	return err
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool, float64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// ScrapedEntry is one scholarship record of the scraped corpus.
type ScrapedEntry struct {
	Title      string    `json:"titulo"`
	URL        string    `json:"url"`
	Level      string    `json:"nivel"`
	Types      []string  `json:"tipos"`
	Modalities []string  `json:"modalidades"`
	Details    DetailMap `json:"contenido"`
}

func (e ScrapedEntry) DisplayTitle() string {
	if e.Title == "" {
		return DefaultTitle
	}
	return e.Title
}

func (e ScrapedEntry) DisplayLevel() string {
	if e.Level == "" {
		return DefaultLevel
	}
	return e.Level
}

// Text renders the composite block that gets chunked and embedded.
func (e ScrapedEntry) Text() string {
	var details strings.Builder
	if len(e.Details.Fields) > 0 {
		for _, f := range e.Details.Fields {
			value := strings.TrimSpace(strings.ReplaceAll(f.Value, "\n", " "))
			fmt.Fprintf(&details, "- %s: %s\n", f.Key, value)
		}
	} else {
		details.WriteString(e.Details.Raw)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", RecordMarker, e.DisplayTitle())
	fmt.Fprintf(&b, "NIVEL ACADÉMICO: %s\n", e.DisplayLevel())
	fmt.Fprintf(&b, "TIPO: %s\n", strings.Join(e.Types, ", "))
	fmt.Fprintf(&b, "MODALIDAD: %s\n", strings.Join(e.Modalities, ", "))
	fmt.Fprintf(&b, "ENLACE: %s\n", e.URL)
	b.WriteString("\nDETALLES, REQUISITOS Y BENEFICIOS:\n")
	b.WriteString(details.String())
	return b.String()
}

// PdfPage is the text of one page of a PDF in the documents directory.
// Page numbers start at 1.
type PdfPage struct {
	Filename string
	Page     int
	Text     string
}

// SourceRecord is a tagged variant: exactly one of Scraped or PDF is set.
type SourceRecord struct {
	Kind    SourceKind
	Source  string
	Scraped *ScrapedEntry
	PDF     *PdfPage
}

func NewScrapedRecord(source string, e ScrapedEntry) SourceRecord {
	return SourceRecord{Kind: SourceScraped, Source: source, Scraped: &e}
}

func NewPdfRecord(p PdfPage) SourceRecord {
	return SourceRecord{Kind: SourcePDF, Source: p.Filename, PDF: &p}
}

func (r SourceRecord) Text() string {
	switch r.Kind {
	case SourceScraped:
		return r.Scraped.Text()
	case SourcePDF:
		return r.PDF.Text
	}
	return ""
}

// Meta returns the passage metadata every chunk of this record inherits.
func (r SourceRecord) Meta() PassageMeta {
	m := PassageMeta{Kind: r.Kind, Source: r.Source}
	switch r.Kind {
	case SourceScraped:
		m.Title = r.Scraped.DisplayTitle()
		m.URL = r.Scraped.URL
		m.Level = r.Scraped.DisplayLevel()
		m.Tags = append([]string(nil), r.Scraped.Types...)
		m.Modalities = append([]string(nil), r.Scraped.Modalities...)
	case SourcePDF:
		m.Page = r.PDF.Page
	}
	return m
}
