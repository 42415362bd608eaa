package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"
)

// HTTPReranker calls an external cross-encoder scoring service. The
// service contract mirrors common rerank APIs (Cohere/Jina style): a query
// plus a document list in, per-index relevance scores out.
type HTTPReranker struct {
	url        string
	httpClient *http.Client
}

// NewHTTPReranker creates a reranker backed by a scoring service
func NewHTTPReranker(url string) (*HTTPReranker, error) {
	if url == "" {
		return nil, fmt.Errorf("reranker url is required")
	}
	return &HTTPReranker{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// NewFromEnv creates a reranker from RECALL_RERANKER_URL, or returns nil
// when no service is configured. A nil reranker means the stage is skipped.
func NewFromEnv() (Reranker, error) {
	url := os.Getenv("RECALL_RERANKER_URL")
	if url == "" {
		return nil, nil
	}
	return NewHTTPReranker(url)
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores candidates against the query and returns the top M.
// Any transport or protocol failure maps to ErrUnavailable.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topM int) ([]Scored, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topM <= 0 {
		topM = DefaultTopM
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: docs, TopN: topM})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: service returned %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	scored := make([]Scored, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		scored = append(scored, Scored{
			ID:    candidates[res.Index].ID,
			Score: res.RelevanceScore,
		})
	}

	// Services generally return results ordered, but the contract here
	// is explicit: descending score, ties by id.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > topM {
		scored = scored[:topM]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}

// Close releases resources held by the reranker
func (r *HTTPReranker) Close() error { return nil }
