package types

import "time"

// RankedRef is one entry of a retriever's ranked list: a document id and
// its 1-based rank (1 = best).
type RankedRef struct {
	ID   string
	Rank int
}

// SearchResult is one scored entry of a final result list.
type SearchResult struct {
	Document *Document
	Insight  *Insight // populated when Document.Type is insight
	Score    float64
}

// SearchResponse carries the ranked results plus enough provenance for
// the caller to calibrate trust in the ordering.
type SearchResponse struct {
	Results []SearchResult

	// Degraded is true when fewer than all intended signal sources
	// contributed to the ordering.
	Degraded bool
	// Reranked is true when the cross-encoder stage actually ran.
	Reranked bool

	LexicalUsed bool
	VectorUsed  bool

	Duration time.Duration
	CacheHit bool
}
