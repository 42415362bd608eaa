// Package searcher implements hybrid memory retrieval: lexical BM25 and
// vector similarity run concurrently, their ranked lists are merged with
// reciprocal rank fusion, an optional cross-encoder reranks the top
// candidates, and a fixed scoring pipeline applies type weights, recency
// decay, initiative focus, staleness penalties, and scope filters before
// truncating to the requested result count.
//
// Degradation is first-class: one retrieval source failing marks the
// response degraded but still answers; both failing returns
// ErrAllRetrieversUnavailable. The rerank stage is always skippable and
// its absence is reported, never hidden.
//
//	s, _ := searcher.New(store, lex, emb, rr, val, searcher.DefaultConfig())
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query: types.Query{
//	        Text:       "why did we move session state to sqlite",
//	        Repository: "payments",
//	        TopK:       5,
//	    },
//	})
//
// Fusion uses the standard RRF constant k=60:
//
//	score(d) = sum over lists ranking d of 1 / (60 + rank(d))
//
// Repeated queries are served from an LRU cache (1000 entries, 1 hour
// TTL); any document write should invalidate it via InvalidateCache.
// Responses carrying file-anchored insights are never cached, so the
// read-time drift check runs on every repeat of such a query.
package searcher
