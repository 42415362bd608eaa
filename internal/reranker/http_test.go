package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRerankerRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "retry semantics", req.Query)
		assert.Len(t, req.Documents, 3)

		// Score the second document highest, the first lowest.
		resp := map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 0, "relevance_score": 0.2},
				{"index": 1, "relevance_score": 0.9},
				{"index": 2, "relevance_score": 0.5},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL)
	require.NoError(t, err)

	candidates := []Candidate{
		{ID: "doc:a", Text: "alpha"},
		{ID: "doc:b", Text: "beta"},
		{ID: "doc:c", Text: "gamma"},
	}
	scored, err := r.Rerank(context.Background(), "retry semantics", candidates, 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)

	assert.Equal(t, "doc:b", scored[0].ID)
	assert.Equal(t, 1, scored[0].Rank)
	assert.InDelta(t, 0.9, scored[0].Score, 1e-9)
	assert.Equal(t, "doc:c", scored[1].ID)
	assert.Equal(t, 2, scored[1].Rank)
}

func TestHTTPRerankerEmptyCandidates(t *testing.T) {
	r, err := NewHTTPReranker("http://localhost:1")
	require.NoError(t, err)

	scored, err := r.Rerank(context.Background(), "q", nil, 5)
	assert.NoError(t, err)
	assert.Empty(t, scored)
}

func TestHTTPRerankerUnavailable(t *testing.T) {
	t.Run("unreachable host", func(t *testing.T) {
		r, err := NewHTTPReranker("http://127.0.0.1:1")
		require.NoError(t, err)

		_, err = r.Rerank(context.Background(), "q", []Candidate{{ID: "x", Text: "x"}}, 5)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("server error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		r, err := NewHTTPReranker(srv.URL)
		require.NoError(t, err)

		_, err = r.Rerank(context.Background(), "q", []Candidate{{ID: "x", Text: "x"}}, 5)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("malformed response body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		r, err := NewHTTPReranker(srv.URL)
		require.NoError(t, err)

		_, err = r.Rerank(context.Background(), "q", []Candidate{{ID: "x", Text: "x"}}, 5)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestHTTPRerankerIgnoresOutOfRangeIndexes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 0, "relevance_score": 0.7},
				{"index": 9, "relevance_score": 0.99},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r, err := NewHTTPReranker(srv.URL)
	require.NoError(t, err)

	scored, err := r.Rerank(context.Background(), "q", []Candidate{{ID: "only", Text: "t"}}, 5)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "only", scored[0].ID)
}

func TestNewFromEnvUnset(t *testing.T) {
	t.Setenv("RECALL_RERANKER_URL", "")
	r, err := NewFromEnv()
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestRefs(t *testing.T) {
	refs := Refs([]Scored{{ID: "a", Rank: 1, Score: 0.9}, {ID: "b", Rank: 2, Score: 0.4}})
	require.Len(t, refs, 2)
	assert.Equal(t, "a", refs[0].ID)
	assert.Equal(t, 1, refs[0].Rank)
}
