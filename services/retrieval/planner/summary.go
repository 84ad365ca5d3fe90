// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"regexp"
	"sort"
	"strings"
)

// Keyword groups that raise a sentence's importance score.
var (
	emphasisWords   = []string{"important", "key", "critical", "essential", "main", "primary"}
	exampleWords    = []string{"example", "instance", "case", "scenario"}
	definitionWords = []string{"definition", "concept", "principle", "rule"}
	contrastWords   = []string{"however", "but", "although", "nevertheless"}
)

var digitPattern = regexp.MustCompile(`\d+`)

// Summarize produces an extractive summary of text within maxLength
// characters.
//
// Description:
//
//	Text already within the limit is returned untouched. Otherwise the
//	text is split into sentences, each scored by importance markers
//	(emphasis and definition keywords, contrasting statements, numeric
//	content), and the highest scoring sentences are packed into the
//	limit. Equal scores keep document order. When not even one sentence
//	fits, the head of the text is returned with a truncation marker.
func Summarize(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}

	sentences := strings.Split(strings.ReplaceAll(text, "\n", " "), ". ")

	type scored struct {
		sentence string
		score    int
	}
	scoredSentences := make([]scored, 0, len(sentences))
	for _, sentence := range sentences {
		scoredSentences = append(scoredSentences, scored{
			sentence: sentence,
			score:    scoreSentence(sentence),
		})
	}

	sort.SliceStable(scoredSentences, func(i, j int) bool {
		return scoredSentences[i].score > scoredSentences[j].score
	})

	var b strings.Builder
	for _, s := range scoredSentences {
		if b.Len()+len(s.sentence)+2 > maxLength {
			break
		}
		b.WriteString(s.sentence)
		b.WriteString(". ")
	}

	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return text[:maxLength] + "..."
	}
	if !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return summary
}

func scoreSentence(sentence string) int {
	lower := strings.ToLower(sentence)
	score := 0
	if containsAny(lower, emphasisWords) {
		score += 3
	}
	if containsAny(lower, exampleWords) {
		score += 2
	}
	if containsAny(lower, definitionWords) {
		score += 2
	}
	// Contrasting statements often carry the point.
	if containsAny(lower, contrastWords) {
		score++
	}
	if digitPattern.MatchString(sentence) {
		score++
	}
	return score
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
