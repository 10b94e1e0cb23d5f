// Package retrieval queries the knowledge-base search service and decides
// which passages are strong enough to ground the generation prompt.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Passage is one retrieved chunk with its native relevance score.
type Passage struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// Result is the outcome of one retrieval step. Ephemeral: never persisted
// beyond the current turn.
//
// TopScore reports the best raw score even when every passage fell below the
// threshold; an empty Passages list with a low TopScore tells the guardrail
// engine the answer lacks grounding.
type Result struct {
	Query    string    `json:"query"`
	Passages []Passage `json:"passages"`
	TopScore float64   `json:"top_score"`
}

// Searcher is the external search-service contract.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Orchestrator runs the retrieval step with threshold gating and soft failure.
type Orchestrator struct {
	searcher  Searcher
	topK      int
	threshold float64
	timeout   time.Duration
}

// NewOrchestrator builds an orchestrator. A nil searcher means no knowledge
// source is configured and Retrieve is a no-op returning an empty Result.
func NewOrchestrator(searcher Searcher, topK int, threshold float64, timeout time.Duration) *Orchestrator {
	return &Orchestrator{searcher: searcher, topK: topK, threshold: threshold, timeout: timeout}
}

// Enabled reports whether a knowledge source is configured.
func (o *Orchestrator) Enabled() bool { return o.searcher != nil }

// Retrieve queries the knowledge source. Errors and timeouts fail soft: the
// turn proceeds with an empty Result and the guardrail engine treats the
// missing context as a lower-confidence input, not a fatal error.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) Result {
	res := Result{Query: query, Passages: []Passage{}}
	if o.searcher == nil {
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	passages, err := o.searcher.Search(ctx, query, o.topK)
	if err != nil {
		slog.Warn("retrieval unavailable, proceeding without context", "error", err)
		return res
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })

	for i, p := range passages {
		if i == 0 {
			res.TopScore = p.Score
		}
		if p.Score >= o.threshold {
			res.Passages = append(res.Passages, p)
		}
	}
	return res
}
