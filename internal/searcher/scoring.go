package searcher

import (
	"math"
	"sort"
	"time"

	"github.com/recallkit/recall-mcp/pkg/types"
)

// Scoring pipeline constants
const (
	// DefaultScoreThreshold drops candidates whose adjusted score falls
	// below it. Applied after all boosts and penalties.
	DefaultScoreThreshold = 0.5

	// Recency decay: boost = max(floor, e^(-age_days/divisor)), applied
	// only to types whose value decays with age.
	recencyDivisorDays = 30.0
	recencyFloor       = 0.5

	// focusBoost promotes documents tied to the focused initiative.
	focusBoost = 1.3

	// stalenessPenalty discounts insights awaiting verification. They
	// stay findable; they just stop outranking verified knowledge.
	stalenessPenalty = 0.7
)

// candidate is a fused result joined with its stored document, ready for
// the scoring pipeline. ins is non-nil only for insight documents.
type candidate struct {
	doc  *types.Document
	ins  *types.Insight
	base float64
}

// scoreCandidates runs the fixed scoring pipeline over fused candidates
// and returns the final ranked results. The stage order is part of the
// contract: multiplicative boosts are commutative with each other but not
// with filtering, and the threshold must see fully adjusted scores.
//
//	1. type weight
//	2. recency boost (decaying types only)
//	3. focused-initiative boost
//	4. staleness penalty / deprecated exclusion
//	5. type filter
//	6. repository and branch filter
//	7. score threshold, then truncate to top k
func scoreCandidates(cands []candidate, q *types.Query, focusedInitiative string, now time.Time, threshold float64, topK int) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(cands))

	for _, c := range cands {
		if c.doc == nil {
			continue
		}
		score := c.base

		// 1. Type weight: understanding over structure.
		score *= c.doc.Type.Weight()

		// 2. Recency: notes and summaries fade, code structure does not.
		if c.doc.Type.RecencyBoosted() {
			score *= recencyBoost(c.doc.CreatedAt, now)
		}

		// 3. Focused initiative.
		if focusedInitiative != "" && c.doc.InitiativeID == focusedInitiative {
			score *= focusBoost
		}

		// 4. Insight lifecycle.
		if c.ins != nil {
			switch c.ins.Status {
			case types.StatusDeprecated:
				if !q.IncludeDeprecated {
					continue
				}
			case types.StatusNeedsVerification:
				score *= stalenessPenalty
			}
		}

		// 5. Type filter.
		if !q.TypeAllowed(c.doc.Type) {
			continue
		}

		// 6. Scope.
		if !scopeAllowed(c.doc, q) {
			continue
		}

		// 7. Threshold.
		if score < threshold {
			continue
		}

		results = append(results, types.SearchResult{
			Document: c.doc,
			Insight:  c.ins,
			Score:    score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// recencyBoost computes the age decay multiplier with a floor so old
// memories are discounted, never buried.
func recencyBoost(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	boost := math.Exp(-ageDays / recencyDivisorDays)
	if boost < recencyFloor {
		return recencyFloor
	}
	return boost
}

// scopeAllowed applies repository and branch scoping. Memory types are
// visible from any branch of the same repository. Structural types
// describe code on a specific branch, so they require an exact branch
// match, widened to the default branch so feature branches still see the
// shared baseline that was indexed there.
func scopeAllowed(doc *types.Document, q *types.Query) bool {
	if q.Repository != "" && doc.Repository != q.Repository {
		return false
	}
	if !doc.Type.BranchScoped() || q.Branch == "" {
		return true
	}
	if doc.Branch == q.Branch {
		return true
	}
	return doc.Branch == "main" || doc.Branch == "master"
}
