// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner decides how much context a query deserves and
// assembles it.
//
// Query length picks a retrieval band (short queries get few, highly
// relevant fragments; long analytical queries get more). A
// comprehensive intent widens both the candidate count and the context
// budget. Assembly is greedy in score order: fragments that fit the
// budget go in whole, oversized ones are replaced by an extractive
// summary, and a per-source cap keeps one document from crowding out
// the rest.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/kodiak/services/retrieval/embed"
	"github.com/AleutianAI/kodiak/services/retrieval/intent"
	"github.com/AleutianAI/kodiak/services/retrieval/memory"
	"github.com/AleutianAI/kodiak/services/retrieval/observability"
	"github.com/AleutianAI/kodiak/services/retrieval/repository"
	"github.com/AleutianAI/kodiak/services/retrieval/vectorindex"
)

// Band is a query-length class.
type Band string

const (
	BandShort  Band = "short"
	BandMedium Band = "medium"
	BandLong   Band = "long"
)

// Band length thresholds in runes.
const (
	shortMax  = 60
	mediumMax = 200
)

// searchHeadroom over-fetches index candidates relative to K so the
// relevance filter and per-source cap can backfill from other sources
// before the result is trimmed back to K.
const searchHeadroom = 4

// Strategy is the retrieval shape for one band.
type Strategy struct {
	// K is the number of fragments admitted to the context. The index
	// is searched with headroom over K so a capped source does not
	// shrink the result set.
	K int

	// ContextBudget is the assembled context size limit in bytes.
	ContextBudget int
}

// Config tunes the planner.
type Config struct {
	// Bands maps each query band to its base strategy.
	Bands map[Band]Strategy

	// ComprehensiveKFactor multiplies K for comprehensive queries.
	ComprehensiveKFactor int

	// ComprehensiveBudgetFactor multiplies the budget for
	// comprehensive queries.
	ComprehensiveBudgetFactor int

	// MaxK caps K after widening.
	MaxK int

	// MaxContextBudget caps the budget after widening.
	MaxContextBudget int

	// PerSourceCap limits fragments admitted per source document.
	// Zero means unlimited.
	PerSourceCap int

	// SummaryMaxLength is the size of summaries substituted for
	// oversized fragments.
	SummaryMaxLength int

	// MinScore drops candidates below this similarity.
	MinScore float32
}

// DefaultConfig returns the production strategy table.
func DefaultConfig() Config {
	return Config{
		Bands: map[Band]Strategy{
			BandShort:  {K: 3, ContextBudget: 4000},
			BandMedium: {K: 5, ContextBudget: 8000},
			BandLong:   {K: 8, ContextBudget: 12000},
		},
		ComprehensiveKFactor:      3,
		ComprehensiveBudgetFactor: 2,
		MaxK:                      30,
		MaxContextBudget:          24000,
		PerSourceCap:              4,
		SummaryMaxLength:          1500,
		MinScore:                  0.2,
	}
}

// searcher is the index surface the planner needs.
type searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]vectorindex.Result, error)
}

// fragmentGetter resolves index hits to fragments.
type fragmentGetter interface {
	GetMany(ctx context.Context, family repository.Family, ids []string) ([]*repository.Fragment, error)
}

// memoryRecaller supplies past-exchange context for a conversation.
type memoryRecaller interface {
	SearchLongTerm(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Hit, error)
}

// Context is assembled retrieval context ready for a prompt.
type Context struct {
	// Text is the assembled context.
	Text string

	// FragmentCount is how many fragments contributed.
	FragmentCount int

	// ContextSize is len(Text) in bytes.
	ContextSize int

	// Band is the query band that drove the strategy.
	Band Band

	// Intent is the query classification.
	Intent intent.Result

	// Warnings notes fragments that were summarized or dropped.
	Warnings []string
}

// Options modifies a single retrieval.
type Options struct {
	// Family selects the fragment family to search. Defaults to
	// documents.
	Family repository.Family

	// ConversationID merges relevant memory from this conversation
	// ahead of document results, under the same budget. Requires
	// SetMemory; ignored otherwise.
	ConversationID string
}

// Planner turns queries into assembled context.
//
// Thread Safety: safe for concurrent use.
type Planner struct {
	cfg        Config
	index      searcher
	fragments  fragmentGetter
	embedder   embed.Embedder
	classifier *intent.Classifier
	memories   memoryRecaller
	metrics    *observability.Metrics
}

// New creates a Planner.
func New(cfg Config, index searcher, fragments fragmentGetter, embedder embed.Embedder, classifier *intent.Classifier) *Planner {
	if classifier == nil {
		classifier = intent.NewClassifier()
	}
	return &Planner{
		cfg:        cfg,
		index:      index,
		fragments:  fragments,
		embedder:   embedder,
		classifier: classifier,
	}
}

// SetMemory attaches a conversational memory source for retrievals
// that carry a conversation id.
func (p *Planner) SetMemory(memories memoryRecaller) {
	p.memories = memories
}

// SetMetrics attaches search latency instrumentation.
func (p *Planner) SetMetrics(metrics *observability.Metrics) {
	p.metrics = metrics
}

// BandFor classifies a query by rune length.
func BandFor(query string) Band {
	n := utf8.RuneCountInString(query)
	switch {
	case n <= shortMax:
		return BandShort
	case n <= mediumMax:
		return BandMedium
	default:
		return BandLong
	}
}

// Plan is the resolved retrieval shape for one query.
type Plan struct {
	Strategy      Strategy
	Band          Band
	Comprehensive bool
}

// PlanFor resolves the strategy a query would get, without retrieving.
func (p *Planner) PlanFor(query string) Plan {
	res := p.classifier.Classify(query)
	band := BandFor(query)
	return Plan{
		Strategy:      p.plan(band, res.IsComprehensive),
		Band:          band,
		Comprehensive: res.IsComprehensive,
	}
}

// plan resolves the effective strategy for a query.
func (p *Planner) plan(band Band, comprehensive bool) Strategy {
	s := p.cfg.Bands[band]
	if comprehensive {
		if p.cfg.ComprehensiveKFactor > 1 {
			s.K *= p.cfg.ComprehensiveKFactor
		}
		if p.cfg.ComprehensiveBudgetFactor > 1 {
			s.ContextBudget *= p.cfg.ComprehensiveBudgetFactor
		}
	}
	if p.cfg.MaxK > 0 && s.K > p.cfg.MaxK {
		s.K = p.cfg.MaxK
	}
	if p.cfg.MaxContextBudget > 0 && s.ContextBudget > p.cfg.MaxContextBudget {
		s.ContextBudget = p.cfg.MaxContextBudget
	}
	return s
}

// Retrieve assembles context for a query.
//
// Description:
//
//	Classifies the query, picks the band strategy, embeds the query,
//	searches the index, and packs the resulting fragments into the
//	context budget. For comprehensive term searches, fragments that
//	mention an extracted term are admitted ahead of equally scored
//	ones that do not.
//
// Outputs:
//
//	Context - Assembled context. Never empty on nil error.
//	error - ErrNoRelevantContext when nothing clears the relevance
//	bar; otherwise the underlying embed/search failure.
func (p *Planner) Retrieve(ctx context.Context, query string, opts Options) (Context, error) {
	family := opts.Family
	if family == "" {
		family = repository.FamilyDocuments
	}
	if p.metrics != nil {
		start := time.Now()
		defer func() {
			p.metrics.ObserveSearch(string(family), time.Since(start).Seconds())
		}()
	}

	result := Context{
		Band:   BandFor(query),
		Intent: p.classifier.Classify(query),
	}
	strategy := p.plan(result.Band, result.Intent.IsComprehensive)

	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return Context{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := p.index.Search(ctx, vector, strategy.K*searchHeadroom)
	if err != nil {
		return Context{}, fmt.Errorf("search index: %w", err)
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < p.cfg.MinScore {
			continue
		}
		ids = append(ids, h.FragmentID)
	}
	if len(ids) == 0 {
		return Context{}, ErrNoRelevantContext
	}

	fragments, err := p.fragments.GetMany(ctx, family, ids)
	if err != nil {
		return Context{}, fmt.Errorf("load fragments: %w", err)
	}
	if len(fragments) == 0 {
		return Context{}, ErrNoRelevantContext
	}

	if result.Intent.Type == intent.TypeTermSearch {
		fragments = promoteTermMatches(fragments, result.Intent.SearchTerms)
	}

	// Memory merges ahead of documents under the same budget. A memory
	// failure degrades to document-only context rather than failing the
	// whole retrieval.
	if opts.ConversationID != "" && p.memories != nil {
		recalled, err := p.memories.SearchLongTerm(ctx, query, memory.SearchOptions{
			ConversationID: opts.ConversationID,
		})
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("memory recall failed: %v", err))
		} else if len(recalled) > 0 {
			fragments = append(memoryFragments(recalled), fragments...)
		}
	}

	p.assemble(&result, fragments, strategy)
	if result.FragmentCount == 0 {
		return Context{}, ErrNoRelevantContext
	}
	return result, nil
}

// memoryFragments adapts memory hits for assembly alongside documents.
func memoryFragments(hits []memory.Hit) []*repository.Fragment {
	fragments := make([]*repository.Fragment, len(hits))
	for i, h := range hits {
		fragments[i] = &repository.Fragment{
			Family:        repository.FamilyMemory,
			SourceKey:     "memory:" + h.ConversationID,
			Text:          h.Text,
			SequenceIndex: h.SequenceIndex,
		}
	}
	return fragments
}

// promoteTermMatches stably moves fragments mentioning any search term
// ahead of those that do not.
func promoteTermMatches(fragments []*repository.Fragment, terms []string) []*repository.Fragment {
	if len(terms) == 0 {
		return fragments
	}
	matching := make([]*repository.Fragment, 0, len(fragments))
	var rest []*repository.Fragment
	for _, f := range fragments {
		lower := strings.ToLower(f.Text)
		matched := false
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				matched = true
				break
			}
		}
		if matched {
			matching = append(matching, f)
		} else {
			rest = append(rest, f)
		}
	}
	return append(matching, rest...)
}

// assemble packs fragments into the context budget in order.
func (p *Planner) assemble(out *Context, fragments []*repository.Fragment, strategy Strategy) {
	var b strings.Builder
	remaining := strategy.ContextBudget
	perSource := make(map[string]int)

	for _, f := range fragments {
		if strategy.K > 0 && out.FragmentCount >= strategy.K {
			break
		}
		if p.cfg.PerSourceCap > 0 && perSource[f.SourceKey] >= p.cfg.PerSourceCap {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("per-source cap reached for %s", f.SourceKey))
			continue
		}

		header := fmt.Sprintf("### %s (part %d)\n", f.SourceKey, f.SequenceIndex+1)
		body := f.Text
		summarized := false

		if len(header)+len(body)+2 > remaining {
			body = Summarize(f.Text, p.cfg.SummaryMaxLength)
			summarized = true
			if len(header)+len(body)+2 > remaining {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("dropped fragment from %s: over budget even summarized", f.SourceKey))
				continue
			}
		}

		b.WriteString(header)
		b.WriteString(body)
		b.WriteString("\n\n")
		remaining -= len(header) + len(body) + 2
		perSource[f.SourceKey]++
		out.FragmentCount++
		if summarized {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("summarized oversized fragment from %s", f.SourceKey))
		}
	}

	out.Text = strings.TrimSpace(b.String())
	out.ContextSize = len(out.Text)
}
