package rag

import (
	"sort"

	"github.com/xhad/becabot/internal/models"
)

// Cite groups the context passages of one answer by source. PDF pages and
// web titles come back sorted and deduplicated. No passages, no citations.
func Cite(passages []models.Passage) models.Citations {
	pages := map[string]map[int]struct{}{}
	titles := map[string]map[string]struct{}{}

	for _, p := range passages {
		switch p.Meta.Kind {
		case models.SourcePDF:
			set, ok := pages[p.Meta.Source]
			if !ok {
				set = map[int]struct{}{}
				pages[p.Meta.Source] = set
			}
			if p.Meta.Page > 0 {
				set[p.Meta.Page] = struct{}{}
			}
		case models.SourceScraped:
			set, ok := titles[p.Meta.Source]
			if !ok {
				set = map[string]struct{}{}
				titles[p.Meta.Source] = set
			}
			if p.Meta.Title != "" {
				set[p.Meta.Title] = struct{}{}
			}
		}
	}

	c := models.Citations{
		PDFSources: make(map[string][]int, len(pages)),
		WebSources: make(map[string][]string, len(titles)),
	}
	for file, set := range pages {
		list := make([]int, 0, len(set))
		for page := range set {
			list = append(list, page)
		}
		sort.Ints(list)
		c.PDFSources[file] = list
	}
	for source, set := range titles {
		list := make([]string, 0, len(set))
		for title := range set {
			list = append(list, title)
		}
		sort.Strings(list)
		c.WebSources[source] = list
	}
	return c
}
