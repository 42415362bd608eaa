package lexical

import (
	"context"
	"fmt"
	"sync"

	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/pkg/types"
)

// DefaultK is the default number of candidates returned per query
const DefaultK = 50

// Retriever maintains an in-memory BM25 index over the document store.
//
// Lock discipline: mu guards only the index pointer and the version it was
// built at. Rebuilds construct a fresh index aside while holding buildMu
// (so at most one builder runs and latecomers wait for its result), then
// swap the pointer under mu. Readers stall only for the swap, never for
// construction.
type Retriever struct {
	store storage.Store

	mu           sync.RWMutex
	idx          *index
	builtVersion int64

	buildMu sync.Mutex
}

// New creates a lexical retriever backed by the given store
func New(store storage.Store) *Retriever {
	return &Retriever{store: store}
}

// Retrieve returns up to k documents ranked by BM25 relevance to the query
// text, scoped to a repository (empty = all). The index is rebuilt first if
// the store has changed since the last build. A rebuild failure yields
// ErrRetrieverUnavailable, which callers must distinguish from an empty list.
func (r *Retriever) Retrieve(ctx context.Context, query, repository string, k int) ([]types.RankedRef, error) {
	if k <= 0 {
		k = DefaultK
	}

	idx, err := r.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRetrieverUnavailable, err)
	}

	refs := idx.search(query, 0)

	// The index spans all repositories; scope after scoring so ranks
	// stay contiguous within the filtered list.
	if repository != "" {
		refs = r.filterByRepository(ctx, refs, repository)
	}
	if len(refs) > k {
		refs = refs[:k]
	}
	return refs, nil
}

// current returns an index no older than the store's version, rebuilding
// synchronously when needed.
func (r *Retriever) current(ctx context.Context) (*index, error) {
	version, err := r.store.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("read store version: %w", err)
	}

	r.mu.RLock()
	idx := r.idx
	built := r.builtVersion
	r.mu.RUnlock()

	if idx != nil && built == version {
		return idx, nil
	}

	// One builder at a time; waiters pick up its result.
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	// Another goroutine may have rebuilt while we waited.
	r.mu.RLock()
	idx = r.idx
	built = r.builtVersion
	r.mu.RUnlock()
	if idx != nil && built == version {
		return idx, nil
	}

	return r.rebuild(ctx, version)
}

// rebuild constructs a fresh index and swaps it in. Caller holds buildMu.
func (r *Retriever) rebuild(ctx context.Context, version int64) (*index, error) {
	docs, err := r.store.ListDocuments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", types.ErrIndexCorrupt, err)
	}

	fresh := buildIndex(docs)

	r.mu.Lock()
	r.idx = fresh
	r.builtVersion = version
	r.mu.Unlock()

	return fresh, nil
}

// Invalidate drops the current index, forcing a full rebuild on the next
// query. Used when the index is suspected corrupt.
func (r *Retriever) Invalidate() {
	r.mu.Lock()
	r.idx = nil
	r.builtVersion = 0
	r.mu.Unlock()
}

// BuiltVersion returns the store version the current index was built at,
// or 0 when no index exists. Exposed for status reporting.
func (r *Retriever) BuiltVersion() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.idx == nil {
		return 0
	}
	return r.builtVersion
}

// filterByRepository drops refs whose documents belong to other
// repositories, re-ranking the survivors contiguously.
func (r *Retriever) filterByRepository(ctx context.Context, refs []types.RankedRef, repository string) []types.RankedRef {
	if len(refs) == 0 {
		return refs
	}
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	docs, err := r.store.GetDocuments(ctx, ids)
	if err != nil {
		// Scoping is best-effort; the searcher applies repository
		// filters again during scoring.
		return refs
	}
	inRepo := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if doc.Repository == repository {
			inRepo[doc.ID] = true
		}
	}

	filtered := refs[:0]
	rank := 1
	for _, ref := range refs {
		if inRepo[ref.ID] {
			filtered = append(filtered, types.RankedRef{ID: ref.ID, Rank: rank})
			rank++
		}
	}
	return filtered
}
