package searcher

import (
	"sort"

	"github.com/recallkit/recall-mcp/pkg/types"
)

// RRFConstant is the k in the reciprocal rank fusion formula. 60 is the
// standard value from the literature; it keeps the top ranks dominant
// without letting rank 1 drown everything below it.
const RRFConstant = 60.0

// fused is a candidate after rank fusion, carrying which sources ranked it
type fused struct {
	id        string
	score     float64
	inLexical bool
	inVector  bool
}

// fuseRRF merges two ranked lists with reciprocal rank fusion:
//
//	score(d) = sum over lists containing d of 1 / (k + rank(d))
//
// A document absent from a list contributes nothing for that list; there
// is no penalty term. Output is ordered by descending fused score, ties
// broken by id so the ordering is deterministic. Either list may be nil,
// in which case fusion degenerates to a rescale of the other list with
// the ordering preserved.
func fuseRRF(lexical, vector []types.RankedRef) []fused {
	byID := make(map[string]*fused, len(lexical)+len(vector))

	for _, ref := range lexical {
		f, ok := byID[ref.ID]
		if !ok {
			f = &fused{id: ref.ID}
			byID[ref.ID] = f
		}
		f.score += 1.0 / (RRFConstant + float64(ref.Rank))
		f.inLexical = true
	}
	for _, ref := range vector {
		f, ok := byID[ref.ID]
		if !ok {
			f = &fused{id: ref.ID}
			byID[ref.ID] = f
		}
		f.score += 1.0 / (RRFConstant + float64(ref.Rank))
		f.inVector = true
	}

	out := make([]fused, 0, len(byID))
	for _, f := range byID {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

// normalizeFused rescales fused scores so the best candidate sits at 1.0.
// Raw RRF magnitudes depend only on list length and rank, never on actual
// relevance, so they are meaningless against an absolute threshold; the
// normalized score preserves the ordering while giving downstream filters
// a [0,1] value to work with.
func normalizeFused(cands []fused) {
	if len(cands) == 0 {
		return
	}
	max := cands[0].score
	for _, c := range cands[1:] {
		if c.score > max {
			max = c.score
		}
	}
	if max <= 0 {
		return
	}
	for i := range cands {
		cands[i].score /= max
	}
}
