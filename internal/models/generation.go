package models

// Generation is one answer from the language model. Context is the passage
// set that was stuffed into the prompt, not a subset reported by the model.
type Generation struct {
	Text     string
	Context  []Passage
	Degraded bool
}
