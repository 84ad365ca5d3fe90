// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent classifies user queries to steer retrieval.
//
// A query is either a specific question (answerable from a handful of
// fragments) or a comprehensive request (summaries, "all documents
// mentioning X", follow-ups about a named document). Classification is
// an ordered scan of regular expressions over the lowercased query;
// the first match wins. Search terms are only extracted for
// comprehensive queries, each extraction pattern naming the capture
// group that carries the term.
//
// The pattern set covers English and Portuguese phrasings.
package intent

import (
	"regexp"
	"strings"
)

// Type describes the detected query intent.
type Type string

const (
	// TypeSpecificQuestion is a focused question.
	TypeSpecificQuestion Type = "specific_question"

	// TypeTermSearch is a comprehensive search anchored on extracted
	// terms (quoted strings, identifiers, "containing X" phrases).
	TypeTermSearch Type = "comprehensive_term_search"

	// TypeDocumentSearch is a comprehensive request with no usable
	// anchor terms, such as "give me a complete summary".
	TypeDocumentSearch Type = "comprehensive_document_search"
)

// Result is the classification outcome.
type Result struct {
	// IsComprehensive is true when the query matched a comprehensive
	// pattern.
	IsComprehensive bool

	// Type is the derived intent type.
	Type Type

	// SearchTerms are anchor terms in extraction order, deduplicated.
	// Empty unless the query is comprehensive.
	SearchTerms []string

	// Normalized is the lowercased query the patterns ran against.
	Normalized string
}

// TermPattern extracts a search term from a query.
type TermPattern struct {
	Pattern *regexp.Regexp

	// CaptureGroup is the 1-based submatch index holding the term.
	CaptureGroup int
}

// Classifier holds the ordered pattern sets.
//
// Thread Safety: Classify is safe for concurrent use. The Add methods
// are not; configure the classifier before sharing it.
type Classifier struct {
	comprehensive []*regexp.Regexp
	terms         []TermPattern
}

// identifierPattern matches CNPJ/CPF-style numeric identifiers. It runs
// against the original query so punctuation survives.
var identifierPattern = regexp.MustCompile(`[\d\./\-]{14,18}`)

// quotedPattern captures explicitly quoted search terms.
var quotedPattern = regexp.MustCompile(`"([^"]+)"`)

// NewClassifier returns a classifier with the default pattern sets.
func NewClassifier() *Classifier {
	return &Classifier{
		comprehensive: compileAll(defaultComprehensivePatterns),
		terms:         compileTerms(defaultTermPatterns),
	}
}

// AddComprehensivePattern registers an extra comprehensive pattern.
// A negative priority appends; otherwise the pattern is inserted at
// that position (0 = checked first).
func (c *Classifier) AddComprehensivePattern(pattern string, priority int) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	if priority < 0 || priority >= len(c.comprehensive) {
		c.comprehensive = append(c.comprehensive, re)
		return nil
	}
	c.comprehensive = append(c.comprehensive[:priority],
		append([]*regexp.Regexp{re}, c.comprehensive[priority:]...)...)
	return nil
}

// AddTermPattern registers an extra extraction pattern. captureGroup is
// the 1-based submatch index holding the term.
func (c *Classifier) AddTermPattern(pattern string, captureGroup int) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	if captureGroup < 1 {
		captureGroup = 1
	}
	c.terms = append(c.terms, TermPattern{Pattern: re, CaptureGroup: captureGroup})
	return nil
}

// Classify analyzes a query.
func (c *Classifier) Classify(query string) Result {
	normalized := strings.ToLower(query)

	result := Result{Normalized: normalized, Type: TypeSpecificQuestion}
	for _, re := range c.comprehensive {
		if re.MatchString(normalized) {
			result.IsComprehensive = true
			break
		}
	}
	if !result.IsComprehensive {
		return result
	}

	var terms []string
	// Numeric identifiers come from the original query so separators
	// like "/" and "." are preserved.
	terms = append(terms, identifierPattern.FindAllString(query, -1)...)
	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		terms = append(terms, m[1])
	}
	for _, tp := range c.terms {
		for _, m := range tp.Pattern.FindAllStringSubmatch(normalized, -1) {
			if tp.CaptureGroup < len(m) && m[tp.CaptureGroup] != "" {
				terms = append(terms, m[tp.CaptureGroup])
			}
		}
	}
	result.SearchTerms = dedupe(terms)

	if len(result.SearchTerms) > 0 {
		result.Type = TypeTermSearch
	} else {
		result.Type = TypeDocumentSearch
	}
	return result
}

var defaultClassifier = NewClassifier()

// Classify analyzes a query with the default classifier.
func Classify(query string) Result {
	return defaultClassifier.Classify(query)
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	var unique []string
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		unique = append(unique, term)
	}
	return unique
}

func compileAll(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

func compileTerms(patterns []rawTermPattern) []TermPattern {
	res := make([]TermPattern, len(patterns))
	for i, p := range patterns {
		res[i] = TermPattern{
			Pattern:      regexp.MustCompile(p.pattern),
			CaptureGroup: p.group,
		}
	}
	return res
}
