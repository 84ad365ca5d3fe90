// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor turns a file into indexable text.
type Extractor interface {
	// Extract reads the file and returns its text content.
	Extract(path string) (string, error)

	// Extensions lists the file extensions this extractor handles,
	// lowercase with the leading dot (".md").
	Extensions() []string
}

// Registry routes files to extractors by extension.
//
// Thread Safety: read-only after construction, safe for concurrent use.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds a registry from the given extractors. Later
// extractors win extension conflicts.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ext := range e.Extensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// DefaultRegistry returns a registry for plain-text vault content.
func DefaultRegistry() *Registry {
	return NewRegistry(PlainText{})
}

// For returns the extractor for a path, if any.
func (r *Registry) For(path string) (Extractor, bool) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return e, ok
}

// Supported reports whether any extractor handles the path.
func (r *Registry) Supported(path string) bool {
	_, ok := r.For(path)
	return ok
}

// PlainText extracts Markdown and plain text files verbatim.
type PlainText struct{}

// Extensions implements Extractor.
func (PlainText) Extensions() []string {
	return []string{".md", ".txt", ".text", ".markdown"}
}

// Extract implements Extractor.
func (PlainText) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
