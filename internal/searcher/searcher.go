package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/recallkit/recall-mcp/internal/embedder"
	"github.com/recallkit/recall-mcp/internal/lexical"
	"github.com/recallkit/recall-mcp/internal/reranker"
	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/internal/validator"
	"github.com/recallkit/recall-mcp/pkg/types"
)

// Config tunes the search pipeline. Zero values fall back to defaults.
type Config struct {
	// CandidateK is the per-retriever candidate depth before fusion.
	CandidateK int
	// RerankN is how many fused candidates reach the cross-encoder.
	RerankN int
	// Deadline bounds one whole search.
	Deadline time.Duration
	// RetrieverShare bounds each retrieval source within the deadline,
	// so one slow source cannot consume the whole budget.
	RetrieverShare time.Duration
	// ScoreThreshold drops low-scoring results after all adjustments.
	ScoreThreshold float64
	CacheSize      int
	CacheTTL       time.Duration
}

// DefaultConfig returns the standard pipeline tuning
func DefaultConfig() Config {
	return Config{
		CandidateK:     lexical.DefaultK,
		RerankN:        reranker.DefaultTopN,
		Deadline:       10 * time.Second,
		RetrieverShare: 5 * time.Second,
		ScoreThreshold: DefaultScoreThreshold,
		CacheSize:      1000,
		CacheTTL:       time.Hour,
	}
}

// DefaultTopK is the result count when the query does not specify one
const DefaultTopK = 5

// Request wraps a query with per-call pipeline switches.
type Request struct {
	types.Query

	// SkipRerank bypasses the cross-encoder stage even when one is
	// configured; the fused ordering passes through.
	SkipRerank bool
	// NoCache bypasses the query cache for both lookup and store.
	NoCache bool
}

// cacheEntry pairs a cached response with its expiry
type cacheEntry struct {
	response  *types.SearchResponse
	expiresAt time.Time
}

// Searcher orchestrates the retrieval pipeline: concurrent lexical and
// vector retrieval, reciprocal rank fusion, optional cross-encoder
// reranking, then the scoring and filter pipeline. One source failing
// degrades the search; both failing fails it.
type Searcher struct {
	store     storage.Store
	lexical   *lexical.Retriever
	embedder  embedder.Embedder
	reranker  reranker.Reranker // nil = stage not configured
	validator *validator.Validator

	cfg   Config
	cache *lru.Cache[[32]byte, cacheEntry]
}

// New creates a searcher. The reranker may be nil; every other
// collaborator is required.
func New(store storage.Store, lex *lexical.Retriever, emb embedder.Embedder, rr reranker.Reranker, val *validator.Validator, cfg Config) (*Searcher, error) {
	def := DefaultConfig()
	if cfg.CandidateK <= 0 {
		cfg.CandidateK = def.CandidateK
	}
	if cfg.RerankN <= 0 {
		cfg.RerankN = def.RerankN
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.RetrieverShare <= 0 {
		cfg.RetrieverShare = def.RetrieverShare
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	cache, err := lru.New[[32]byte, cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &Searcher{
		store:     store,
		lexical:   lex,
		embedder:  emb,
		reranker:  rr,
		validator: val,
		cfg:       cfg,
		cache:     cache,
	}, nil
}

// Search runs the full pipeline for one query.
func (s *Searcher) Search(ctx context.Context, req Request) (*types.SearchResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}

	key := s.cacheKey(req)
	if !req.NoCache {
		if resp, ok := s.fromCache(key); ok {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	lexRefs, vecRefs, lexErr, vecErr := s.retrieve(ctx, &req.Query)

	if lexErr != nil && vecErr != nil {
		return nil, fmt.Errorf("%w: lexical: %v; vector: %v",
			types.ErrAllRetrieversUnavailable, lexErr, vecErr)
	}
	if lexErr != nil {
		log.Printf("search degraded, lexical retrieval failed: %v", lexErr)
	}
	if vecErr != nil {
		log.Printf("search degraded, vector retrieval failed: %v", vecErr)
	}

	cands := fuseRRF(lexRefs, vecRefs)

	joined, err := s.join(ctx, cands)
	if err != nil {
		return nil, err
	}

	reranked := s.rerank(ctx, req, cands, joined)

	focused := s.focusedInitiativeID(ctx, req.Repository)
	results := scoreCandidates(joined, &req.Query, focused, time.Now(), s.cfg.ScoreThreshold, req.TopK)

	resp := &types.SearchResponse{
		Results:     results,
		Degraded:    lexErr != nil || vecErr != nil,
		Reranked:    reranked,
		LexicalUsed: lexErr == nil,
		VectorUsed:  vecErr == nil,
		Duration:    time.Since(start),
	}

	if !req.NoCache && len(results) > 0 && cacheable(results) {
		s.toCache(key, resp)
	}
	return resp, nil
}

// cacheable reports whether a result set may be served from cache.
// Insights anchored to files get a drift check on every read; a cached
// response would keep reporting them active after the files changed.
func cacheable(results []types.SearchResult) bool {
	for _, r := range results {
		if r.Insight != nil && len(r.Insight.Files) > 0 {
			return false
		}
	}
	return true
}

// retrieve fans out to both retrieval sources concurrently. Each source
// gets its own timeout share so one stalling cannot starve the other.
func (s *Searcher) retrieve(ctx context.Context, q *types.Query) (lexRefs, vecRefs []types.RankedRef, lexErr, vecErr error) {
	var g errgroup.Group

	g.Go(func() error {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieverShare)
		defer cancel()
		lexRefs, lexErr = s.lexical.Retrieve(lctx, q.Text, q.Repository, s.cfg.CandidateK)
		return nil
	})

	g.Go(func() error {
		vctx, cancel := context.WithTimeout(ctx, s.cfg.RetrieverShare)
		defer cancel()
		vecRefs, vecErr = s.retrieveVector(vctx, q)
		return nil
	})

	// Goroutines report through the named returns, never through the
	// group error; Wait is only a join point.
	_ = g.Wait()
	return lexRefs, vecRefs, lexErr, vecErr
}

// retrieveVector embeds the query and runs similarity search over stored
// vectors. Any failure maps to ErrRetrieverUnavailable so the caller can
// degrade uniformly.
func (s *Searcher) retrieveVector(ctx context.Context, q *types.Query) ([]types.RankedRef, error) {
	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", types.ErrRetrieverUnavailable, err)
	}
	hits, err := s.store.SearchVector(ctx, q.Repository, vec, s.cfg.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", types.ErrRetrieverUnavailable, err)
	}
	refs := make([]types.RankedRef, len(hits))
	for i, h := range hits {
		refs[i] = types.RankedRef{ID: h.ID, Rank: i + 1}
	}
	return refs, nil
}

// join loads the stored documents behind fused candidates and, for
// insights, their validation state with a lazy drift check. Candidates
// whose documents vanished since retrieval are dropped.
func (s *Searcher) join(ctx context.Context, cands []fused) ([]candidate, error) {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	docs, err := s.store.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	byID := make(map[string]*types.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	joined := make([]candidate, 0, len(cands))
	for _, c := range cands {
		doc, ok := byID[c.id]
		if !ok {
			continue
		}
		cand := candidate{doc: doc, base: c.score}
		if doc.Type == types.TypeInsight {
			ins, err := s.store.GetInsight(ctx, doc.ID)
			if err != nil {
				log.Printf("skip insight %s: %v", doc.ID, err)
				continue
			}
			// Read-time drift detection. Best effort: an unreadable
			// working tree must not fail the search.
			checked, err := s.validator.CheckDrift(ctx, ins)
			if err != nil {
				log.Printf("drift check for %s: %v", doc.ID, err)
			} else {
				ins = checked
			}
			cand.ins = ins
		}
		joined = append(joined, cand)
	}
	return joined, nil
}

// rerank runs the cross-encoder over the top fused candidates and
// replaces their base scores with pairwise relevance. When the stage is
// skipped or unavailable, the full fused ordering passes through with
// scores normalized instead, so the threshold sees comparable magnitudes
// either way. Returns whether reranking ran.
func (s *Searcher) rerank(ctx context.Context, req Request, cands []fused, joined []candidate) bool {
	if s.reranker == nil || req.SkipRerank || len(joined) == 0 {
		s.normalizeBase(cands, joined)
		return false
	}

	// Only the cross-encoder sees a depth cut; candidates past it keep a
	// zero base and fall to the score threshold.
	top := joined
	if len(top) > s.cfg.RerankN {
		top = top[:s.cfg.RerankN]
	}
	input := make([]reranker.Candidate, len(top))
	for i, c := range top {
		input[i] = reranker.Candidate{ID: c.doc.ID, Text: c.doc.Text}
	}
	scored, err := s.reranker.Rerank(ctx, req.Text, input, req.TopK)
	if err != nil {
		log.Printf("rerank skipped: %v", err)
		s.normalizeBase(cands, joined)
		return false
	}

	relevance := make(map[string]float64, len(scored))
	for _, sc := range scored {
		relevance[sc.ID] = sc.Score
	}
	for i := range joined {
		joined[i].base = relevance[joined[i].doc.ID]
	}
	return true
}

// normalizeBase rescales fused scores to [0,1] and copies them onto the
// joined candidates.
func (s *Searcher) normalizeBase(cands []fused, joined []candidate) {
	normalizeFused(cands)
	norm := make(map[string]float64, len(cands))
	for _, c := range cands {
		norm[c.id] = c.score
	}
	for i := range joined {
		joined[i].base = norm[joined[i].doc.ID]
	}
}

// focusedInitiativeID resolves the focused initiative for boost purposes.
// No focus, or a lookup failure, simply means no boost.
func (s *Searcher) focusedInitiativeID(ctx context.Context, repository string) string {
	if repository == "" {
		return ""
	}
	init, err := s.store.FocusedInitiative(ctx, repository)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			log.Printf("resolve focused initiative: %v", err)
		}
		return ""
	}
	return init.ID
}

// cacheKey builds a deterministic hash over everything that changes the
// response.
func (s *Searcher) cacheKey(req Request) [32]byte {
	var b strings.Builder
	b.WriteString(req.Text)
	b.WriteString("|")
	b.WriteString(req.Repository)
	b.WriteString("|")
	b.WriteString(req.Branch)
	b.WriteString("|")
	for _, t := range req.TypeFilter {
		b.WriteString(string(t))
		b.WriteString(",")
	}
	fmt.Fprintf(&b, "|%d|%t|%t", req.TopK, req.IncludeDeprecated, req.SkipRerank)
	return sha256.Sum256([]byte(b.String()))
}

func (s *Searcher) fromCache(key [32]byte) (*types.SearchResponse, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	return copyResponse(entry.response), true
}

func (s *Searcher) toCache(key [32]byte, resp *types.SearchResponse) {
	s.cache.Add(key, cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	})
}

// InvalidateCache purges all cached queries. Called after writes that
// change what a repeated query should return.
func (s *Searcher) InvalidateCache() {
	s.cache.Purge()
}

// copyResponse clones a response so cache entries and callers never share
// the results slice.
func copyResponse(src *types.SearchResponse) *types.SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}
