package rag

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ListDocuments returns the PDF file names in dir, sorted. A missing
// directory has no documents.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
