package models

// Citations groups the sources behind one answer: PDF filename to sorted page
// numbers, and web source to sorted titles.
type Citations struct {
	PDFSources map[string][]int    `json:"pdf_sources"`
	WebSources map[string][]string `json:"web_sources"`
}

func (c Citations) Empty() bool {
	return len(c.PDFSources) == 0 && len(c.WebSources) == 0
}
