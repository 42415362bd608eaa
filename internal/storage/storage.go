package storage

import (
	"context"

	"github.com/recallkit/recall-mcp/pkg/types"
)

// Store defines the interface for persisting and querying memory documents.
// The store exclusively owns document identity; lifecycle transitions on
// insights are driven by the validator but persisted here.
type Store interface {
	// Document operations
	PutDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	ListDocuments(ctx context.Context, repository string) ([]*types.Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]*types.Document, error)

	// Insight operations. PutInsight writes the document row and the
	// validation-state row atomically.
	PutInsight(ctx context.Context, ins *types.Insight) error
	GetInsight(ctx context.Context, id string) (*types.Insight, error)
	UpdateInsightState(ctx context.Context, ins *types.Insight) error

	// Initiative operations
	CreateInitiative(ctx context.Context, init *types.Initiative) error
	ListInitiatives(ctx context.Context, repository string) ([]*types.Initiative, error)
	FocusInitiative(ctx context.Context, repository, id string) error
	FocusedInitiative(ctx context.Context, repository string) (*types.Initiative, error)

	// SearchVector returns up to limit documents ranked by descending
	// cosine similarity to the query vector, scoped to a repository
	// (empty repository = all).
	SearchVector(ctx context.Context, repository string, vector []float32, limit int) ([]VectorResult, error)

	// Version returns the monotonic store version, bumped on every
	// document write. The lexical index compares it against the
	// version it was built at.
	Version(ctx context.Context) (int64, error)

	// Status operations
	CountsByType(ctx context.Context) (map[types.DocumentType]int, error)

	Close() error
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	ID         string
	Similarity float64
}
