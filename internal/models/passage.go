package models

// PassageMeta is the metadata a passage inherits from its source record.
type PassageMeta struct {
	Kind       SourceKind `json:"kind"`
	Source     string     `json:"source"`
	Page       int        `json:"page,omitempty"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url,omitempty"`
	Level      string     `json:"level,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Modalities []string   `json:"modalities,omitempty"`
}

// Passage is a bounded slice of one record's text.
//
// Overlap is the byte length of the prefix of Text that repeats the tail of
// the previous passage of the same record; Text[Overlap:] is new content.
type Passage struct {
	ID         string      `json:"id"`
	Seq        int         `json:"seq"`
	ChunkIndex int         `json:"chunk_index"`
	Overlap    int         `json:"overlap"`
	Text       string      `json:"text"`
	Meta       PassageMeta `json:"meta"`
}

// EmbeddingEntry is a passage plus its normalized embedding.
type EmbeddingEntry struct {
	Passage   Passage
	Embedding []float32
}

// RetrievalResult is a passage ranked for one query. Rank 1 is the best match.
type RetrievalResult struct {
	Passage Passage `json:"passage"`
	Rank    int     `json:"rank"`
	Score   float32 `json:"score"`
}
