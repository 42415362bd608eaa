package lexical

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/pkg/types"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func putNote(t *testing.T, store *storage.SQLiteStore, id, repo, text string) {
	t.Helper()
	require.NoError(t, store.PutDocument(context.Background(), &types.Document{
		ID: id, Type: types.TypeNote, Text: text, Repository: repo,
	}))
}

func TestIndexSearchRanking(t *testing.T) {
	docs := []*types.Document{
		{ID: "note:1", Text: "the payment worker retries failed charges"},
		{ID: "note:2", Text: "payment payment payment gateway configuration"},
		{ID: "note:3", Text: "unrelated deployment checklist"},
	}
	idx := buildIndex(docs)

	t.Run("matching docs ranked with contiguous ranks", func(t *testing.T) {
		refs := idx.search("payment", 0)
		require.Len(t, refs, 2)
		for i, ref := range refs {
			assert.Equal(t, i+1, ref.Rank)
		}
		// Higher term frequency wins for a single-term query.
		assert.Equal(t, "note:2", refs[0].ID)
	})

	t.Run("no hits yields empty", func(t *testing.T) {
		assert.Empty(t, idx.search("kubernetes", 0))
	})

	t.Run("k truncates", func(t *testing.T) {
		refs := idx.search("payment", 1)
		require.Len(t, refs, 1)
	})

	t.Run("empty query yields empty", func(t *testing.T) {
		assert.Empty(t, idx.search("", 0))
	})
}

func TestIndexEmptyCorpus(t *testing.T) {
	idx := buildIndex(nil)
	assert.Empty(t, idx.search("anything", 10))
}

func TestRetrieverRebuildGating(t *testing.T) {
	store := newTestStore(t)
	r := New(store)
	ctx := context.Background()

	putNote(t, store, "note:1", "repo", "configure the retry backoff")

	refs, err := r.Retrieve(ctx, "retry backoff", "", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	firstBuild := r.BuiltVersion()
	require.NotZero(t, firstBuild)

	// No writes since the build; the version gate must skip the rebuild.
	_, err = r.Retrieve(ctx, "retry", "", 10)
	require.NoError(t, err)
	assert.Equal(t, firstBuild, r.BuiltVersion())

	// A write bumps the store version; the next query rebuilds.
	putNote(t, store, "note:2", "repo", "retry budget for the embedding client")

	refs, err = r.Retrieve(ctx, "retry", "", 10)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Greater(t, r.BuiltVersion(), firstBuild)
}

func TestRetrieverRepositoryScoping(t *testing.T) {
	store := newTestStore(t)
	r := New(store)
	ctx := context.Background()

	putNote(t, store, "note:a", "repo-a", "shared retry helper notes")
	putNote(t, store, "note:b", "repo-b", "retry semantics differ here")

	refs, err := r.Retrieve(ctx, "retry", "repo-a", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "note:a", refs[0].ID)
	assert.Equal(t, 1, refs[0].Rank)
}

func TestRetrieverUnavailableOnStoreFailure(t *testing.T) {
	store := newTestStore(t)
	r := New(store)
	ctx := context.Background()

	putNote(t, store, "note:1", "repo", "something searchable")

	// Closing the store makes the version read fail; the retriever must
	// surface unavailability, not an empty result list.
	require.NoError(t, store.Close())

	_, err := r.Retrieve(ctx, "searchable", "", 10)
	assert.ErrorIs(t, err, types.ErrRetrieverUnavailable)
}

func TestRetrieverInvalidate(t *testing.T) {
	store := newTestStore(t)
	r := New(store)
	ctx := context.Background()

	putNote(t, store, "note:1", "repo", "first document")
	_, err := r.Retrieve(ctx, "first", "", 10)
	require.NoError(t, err)
	require.NotZero(t, r.BuiltVersion())

	r.Invalidate()
	assert.Zero(t, r.BuiltVersion())

	// Still answers after invalidation via a fresh build.
	refs, err := r.Retrieve(ctx, "first", "", 10)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}
