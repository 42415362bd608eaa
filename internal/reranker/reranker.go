package reranker

import (
	"context"
	"errors"

	"github.com/recallkit/recall-mcp/pkg/types"
)

// Default candidate window sizes for the rerank stage
const (
	DefaultTopN = 20 // candidates handed to the cross-encoder
	DefaultTopM = 5  // candidates returned
)

// ErrUnavailable signals the relevance scorer is unreachable. The search
// pipeline skips the stage and tells the caller reranking did not occur.
var ErrUnavailable = errors.New("reranker unavailable")

// Candidate pairs a document id with the text the cross-encoder scores
type Candidate struct {
	ID   string
	Text string
}

// Scored is a reranked candidate with its pairwise relevance score in [0,1]
type Scored struct {
	ID    string
	Rank  int
	Score float64
}

// Reranker is the consumed cross-encoder capability: reorder a small
// candidate set by pairwise relevance to the query. Implementations return
// ErrUnavailable rather than panicking when the backend is unreachable.
type Reranker interface {
	// Rerank returns up to topM candidates reordered by relevance,
	// best first with ranks starting at 1.
	Rerank(ctx context.Context, query string, candidates []Candidate, topM int) ([]Scored, error)

	Close() error
}

// Refs converts scored candidates to ranked references
func Refs(scored []Scored) []types.RankedRef {
	refs := make([]types.RankedRef, len(scored))
	for i, s := range scored {
		refs[i] = types.RankedRef{ID: s.ID, Rank: s.Rank}
	}
	return refs
}
