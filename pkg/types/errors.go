package types

import "errors"

// Domain errors. Retrieval-source failures degrade locally; lifecycle
// errors reflect caller misuse and are never retried.
var (
	// ErrRetrieverUnavailable signals one retrieval source is down.
	// Distinct from an empty result list so callers can degrade.
	ErrRetrieverUnavailable = errors.New("retriever unavailable")

	// ErrAllRetrieversUnavailable is fatal for a query: no signal
	// source could answer.
	ErrAllRetrieversUnavailable = errors.New("all retrievers unavailable")

	// ErrRerankUnavailable means the cross-encoder could not score;
	// the fused ordering passes through unchanged.
	ErrRerankUnavailable = errors.New("reranker unavailable")

	// ErrIndexCorrupt means the lexical index is unusable and a
	// rebuild is required.
	ErrIndexCorrupt = errors.New("lexical index corrupt")

	// ErrInvalidTransition is returned for verify/deprecate calls on
	// an insight whose state does not permit them.
	ErrInvalidTransition = errors.New("invalid insight transition")

	// ErrInvalidReference is returned when superseded_by does not
	// resolve to a usable insight.
	ErrInvalidReference = errors.New("invalid insight reference")

	// ErrInconsistentInsight flags a file_hashes/files key mismatch.
	// Surfaced as a data-integrity fault, never silently repaired.
	ErrInconsistentInsight = errors.New("insight file hashes inconsistent with files")

	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
)
