package lexical

import (
	"math"
	"sort"

	"github.com/recallkit/recall-mcp/pkg/types"
)

// BM25 parameters, standard values
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// indexedDoc is one document's term statistics
type indexedDoc struct {
	id     string
	terms  map[string]int
	length int
}

// index is an immutable BM25 index over a document snapshot. Built aside,
// then swapped into the Retriever under its write lock; never mutated after
// construction, so concurrent readers need no further synchronization.
type index struct {
	docs     []indexedDoc
	docFreq  map[string]int
	avgLen   float64
	total    int
}

// buildIndex constructs a BM25 index from documents
func buildIndex(docs []*types.Document) *index {
	idx := &index{
		docs:    make([]indexedDoc, 0, len(docs)),
		docFreq: make(map[string]int),
	}

	totalLen := 0
	for _, doc := range docs {
		tokens := Tokenize(doc.Text)
		counts := termCounts(tokens)
		idx.docs = append(idx.docs, indexedDoc{
			id:     doc.ID,
			terms:  counts,
			length: len(tokens),
		})
		totalLen += len(tokens)
		for term := range counts {
			idx.docFreq[term]++
		}
	}

	idx.total = len(idx.docs)
	if idx.total > 0 {
		idx.avgLen = float64(totalLen) / float64(idx.total)
	}
	return idx
}

// scored pairs a document id with its BM25 score
type scored struct {
	id    string
	score float64
}

// search returns up to k documents ranked by BM25 score, best first.
// Ranks start at 1; ties are broken by document id for determinism.
func (idx *index) search(query string, k int) []types.RankedRef {
	if idx.total == 0 {
		return nil
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	// Precompute IDF per query term
	idf := make(map[string]float64, len(queryTerms))
	for _, term := range queryTerms {
		df := idx.docFreq[term]
		if df == 0 {
			continue
		}
		// BM25+ style idf, floored at a small positive value so very
		// common terms don't score negatively
		val := math.Log(1 + (float64(idx.total)-float64(df)+0.5)/(float64(df)+0.5))
		idf[term] = val
	}
	if len(idf) == 0 {
		return nil
	}

	candidates := make([]scored, 0, 64)
	for _, doc := range idx.docs {
		var score float64
		for term, termIDF := range idf {
			tf := float64(doc.terms[term])
			if tf == 0 {
				continue
			}
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/idx.avgLen))
			score += termIDF * norm
		}
		if score > 0 {
			candidates = append(candidates, scored{id: doc.id, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	refs := make([]types.RankedRef, len(candidates))
	for i, c := range candidates {
		refs[i] = types.RankedRef{ID: c.id, Rank: i + 1}
	}
	return refs
}
