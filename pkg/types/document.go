package types

import "time"

// DocumentType identifies the kind of knowledge a document carries.
// The set is closed; new types require a schema migration.
type DocumentType string

const (
	// Memory types - decisions and understanding captured across sessions
	TypeInsight        DocumentType = "insight"
	TypeNote           DocumentType = "note"
	TypeSessionSummary DocumentType = "session_summary"
	TypeInitiative     DocumentType = "initiative"

	// Structural types - produced by the extraction pipeline, consumed here
	TypeFileMetadata DocumentType = "file_metadata"
	TypeDataContract DocumentType = "data_contract"
	TypeEntryPoint   DocumentType = "entry_point"
	TypeDependency   DocumentType = "dependency"
	TypeSkeleton     DocumentType = "skeleton"
	TypeTechStack    DocumentType = "tech_stack"
)

// AllDocumentTypes lists every valid document type.
var AllDocumentTypes = []DocumentType{
	TypeInsight, TypeNote, TypeSessionSummary, TypeInitiative,
	TypeFileMetadata, TypeDataContract, TypeEntryPoint,
	TypeDependency, TypeSkeleton, TypeTechStack,
}

// IsValidDocumentType reports whether s names a known document type.
func IsValidDocumentType(s string) bool {
	for _, t := range AllDocumentTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// BranchScoped reports whether a type requires an exact branch match at
// search time. Memory types are visible across branches; structural types
// describe code on a specific branch.
func (t DocumentType) BranchScoped() bool {
	switch t {
	case TypeFileMetadata, TypeDataContract, TypeEntryPoint, TypeDependency, TypeSkeleton:
		return true
	}
	return false
}

// RecencyBoosted reports whether a type's score decays with age.
// Understanding decays; code structure does not.
func (t DocumentType) RecencyBoosted() bool {
	return t == TypeNote || t == TypeSessionSummary
}

// Weight returns the search score multiplier for a type.
// Philosophy: code can be grepped, understanding cannot.
func (t DocumentType) Weight() float64 {
	switch t {
	case TypeInsight:
		return 2.0
	case TypeNote, TypeSessionSummary:
		return 1.5
	case TypeEntryPoint:
		return 1.4
	case TypeFileMetadata, TypeDataContract:
		return 1.3
	case TypeTechStack:
		return 1.2
	default:
		return 1.0
	}
}

// SearchPresets maps preset names to type filter bundles for common
// query patterns.
var SearchPresets = map[string][]DocumentType{
	// "Why did we...?" / "What was decided...?"
	"understanding": {TypeInsight, TypeNote, TypeSessionSummary},
	// "How do I...?" / "Where is...?"
	"navigation": {TypeFileMetadata, TypeEntryPoint, TypeDataContract},
	// "What's the architecture...?"
	"structure": {TypeFileMetadata, TypeDependency, TypeSkeleton},
	// "What calls...?" / "What breaks if...?"
	"trace": {TypeEntryPoint, TypeDependency, TypeDataContract},
	// Combined understanding + navigation
	"memory": {TypeInsight, TypeNote, TypeSessionSummary, TypeFileMetadata},
}

// Document is the unit of retrieval. ID and Type are immutable once the
// document is stored.
type Document struct {
	ID         string
	Type       DocumentType
	Text       string
	Embedding  []float32
	Repository string
	Branch     string
	CreatedAt  time.Time

	// InitiativeID links the document to the workstream it was created
	// under; empty when no initiative was focused at creation time.
	InitiativeID string

	// Metadata holds optional type-specific attributes (tags, titles,
	// file paths). Required fields live in typed columns, never here.
	Metadata map[string]string
}

// InsightStatus is the lifecycle state of an insight document.
type InsightStatus string

const (
	StatusActive            InsightStatus = "active"
	StatusNeedsVerification InsightStatus = "needs_verification"
	StatusDeprecated        InsightStatus = "deprecated"
)

// ValidationResult is the outcome of an explicit insight verification.
type ValidationResult string

const (
	StillValid     ValidationResult = "still_valid"
	PartiallyValid ValidationResult = "partially_valid"
	NoLongerValid  ValidationResult = "no_longer_valid"
)

// IsValidValidationResult reports whether s names a known verification outcome.
func IsValidValidationResult(s string) bool {
	switch ValidationResult(s) {
	case StillValid, PartiallyValid, NoLongerValid:
		return true
	}
	return false
}

// Insight is a Document specialization carrying validation state. Files
// and FileHashes must cover exactly the same paths at all times.
type Insight struct {
	Document

	Files           []string
	FileHashes      map[string]string
	Status          InsightStatus
	LastValidation  ValidationResult // empty until first verification
	ValidationNotes string

	// Set only once Status is StatusDeprecated.
	DeprecatedAt      time.Time
	DeprecationReason string
	SupersededBy      string
}

// ConsistencyCheck verifies the file_hashes-keys-equal-files invariant.
// A mismatch is a data-integrity fault, never silently repaired.
func (i *Insight) ConsistencyCheck() error {
	if len(i.Files) != len(i.FileHashes) {
		return ErrInconsistentInsight
	}
	for _, f := range i.Files {
		if _, ok := i.FileHashes[f]; !ok {
			return ErrInconsistentInsight
		}
	}
	return nil
}

// Initiative is a named unit of ongoing work. At most one initiative is
// focused per repository at a time.
type Initiative struct {
	ID         string
	Name       string
	Repository string
	IsFocused  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Query describes one search request.
type Query struct {
	Text       string
	TypeFilter []DocumentType // nil = all types
	Repository string
	Branch     string
	TopK       int

	// IncludeDeprecated opts deprecated insights back into results;
	// they are excluded by default.
	IncludeDeprecated bool
}

// HasTypeFilter reports whether the query restricts result types.
func (q *Query) HasTypeFilter() bool {
	return len(q.TypeFilter) > 0
}

// TypeAllowed reports whether a document type passes the query's filter.
func (q *Query) TypeAllowed(t DocumentType) bool {
	if !q.HasTypeFilter() {
		return true
	}
	for _, ft := range q.TypeFilter {
		if ft == t {
			return true
		}
	}
	return false
}
