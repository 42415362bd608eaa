package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recallkit/recall-mcp/pkg/types"
)

var (
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewDocumentID generates a stable unique identifier for a document,
// prefixed with its type for readability in tool output.
func NewDocumentID(t types.DocumentType) string {
	return fmt.Sprintf("%s:%s", t, uuid.NewString())
}

// bumpVersion increments the monotonic store version within a transaction
func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "UPDATE store_version SET version = version + 1 WHERE id = 1")
	if err != nil {
		return fmt.Errorf("failed to bump store version: %w", err)
	}
	return nil
}

// Version returns the monotonic store version
func (s *SQLiteStore) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT version FROM store_version WHERE id = 1").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read store version: %w", err)
	}
	return v, nil
}

// Document operations

// PutDocument inserts a new document and bumps the store version.
// Document ids are immutable; inserting an existing id fails.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = NewDocumentID(doc.Type)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDocument(ctx, tx, doc); err != nil {
		return err
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc *types.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	var embedding []byte
	dimension := 0
	if len(doc.Embedding) > 0 {
		embedding = serializeVector(doc.Embedding)
		dimension = len(doc.Embedding)
	}

	query := `
		INSERT INTO documents (id, type, text, embedding, dimension, repository, branch, initiative_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		doc.ID, string(doc.Type), doc.Text, embedding, dimension,
		doc.Repository, doc.Branch, doc.InitiativeID, string(metaJSON), doc.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("document %s: %w", doc.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

const documentColumns = "id, type, text, embedding, dimension, repository, branch, initiative_id, metadata, created_at"

func scanDocument(row interface{ Scan(...interface{}) error }) (*types.Document, error) {
	var doc types.Document
	var typ, metaJSON string
	var embedding []byte
	var dimension int
	err := row.Scan(&doc.ID, &typ, &doc.Text, &embedding, &dimension,
		&doc.Repository, &doc.Branch, &doc.InitiativeID, &metaJSON, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	doc.Type = types.DocumentType(typ)
	if len(embedding) > 0 {
		doc.Embedding = deserializeVector(embedding)
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

// GetDocument retrieves a document by id
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents, optionally scoped to a repository.
// Used by the lexical index to (re)build itself.
func (s *SQLiteStore) ListDocuments(ctx context.Context, repository string) ([]*types.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	var args []interface{}
	if repository != "" {
		query += " WHERE repository = ?"
		args = append(args, repository)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocuments retrieves documents by id, preserving the requested order.
// Missing ids are skipped rather than failing the batch.
func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []string) ([]*types.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*types.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	docs := make([]*types.Document, 0, len(byID))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Insight operations

// PutInsight writes the document row and the validation-state row in one
// transaction. New insights start active with hashes covering their files.
func (s *SQLiteStore) PutInsight(ctx context.Context, ins *types.Insight) error {
	if err := ins.ConsistencyCheck(); err != nil {
		return err
	}
	if ins.ID == "" {
		ins.ID = NewDocumentID(types.TypeInsight)
	}
	ins.Type = types.TypeInsight
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}
	if ins.Status == "" {
		ins.Status = types.StatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDocument(ctx, tx, &ins.Document); err != nil {
		return err
	}

	filesJSON, err := json.Marshal(ins.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}
	hashesJSON, err := json.Marshal(ins.FileHashes)
	if err != nil {
		return fmt.Errorf("failed to encode file hashes: %w", err)
	}

	query := `
		INSERT INTO insights (document_id, files, file_hashes, status, last_validation_result, validation_notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		ins.ID, string(filesJSON), string(hashesJSON),
		string(ins.Status), string(ins.LastValidation), ins.ValidationNotes)
	if err != nil {
		return fmt.Errorf("failed to insert insight state: %w", err)
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetInsight retrieves an insight with its validation state
func (s *SQLiteStore) GetInsight(ctx context.Context, id string) (*types.Insight, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Type != types.TypeInsight {
		return nil, fmt.Errorf("document %s is not an insight (type=%s): %w", id, doc.Type, types.ErrNotFound)
	}

	query := `
		SELECT files, file_hashes, status, last_validation_result, validation_notes,
		       deprecated_at, deprecation_reason, superseded_by
		FROM insights WHERE document_id = ?
	`
	var ins types.Insight
	ins.Document = *doc

	var filesJSON, hashesJSON, status, lastValidation string
	var deprecatedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&filesJSON, &hashesJSON, &status, &lastValidation,
		&ins.ValidationNotes, &deprecatedAt, &ins.DeprecationReason, &ins.SupersededBy)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filesJSON), &ins.Files); err != nil {
		return nil, fmt.Errorf("failed to decode files for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(hashesJSON), &ins.FileHashes); err != nil {
		return nil, fmt.Errorf("failed to decode file hashes for %s: %w", id, err)
	}
	ins.Status = types.InsightStatus(status)
	ins.LastValidation = types.ValidationResult(lastValidation)
	if deprecatedAt.Valid {
		ins.DeprecatedAt = deprecatedAt.Time
	}
	return &ins, nil
}

// UpdateInsightState persists a lifecycle transition. Only the validation
// state changes; the document row is immutable apart from the version bump.
func (s *SQLiteStore) UpdateInsightState(ctx context.Context, ins *types.Insight) error {
	if err := ins.ConsistencyCheck(); err != nil {
		return err
	}

	filesJSON, err := json.Marshal(ins.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}
	hashesJSON, err := json.Marshal(ins.FileHashes)
	if err != nil {
		return fmt.Errorf("failed to encode file hashes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var deprecatedAt interface{}
	if !ins.DeprecatedAt.IsZero() {
		deprecatedAt = ins.DeprecatedAt
	}

	query := `
		UPDATE insights
		SET files = ?, file_hashes = ?, status = ?, last_validation_result = ?,
		    validation_notes = ?, deprecated_at = ?, deprecation_reason = ?, superseded_by = ?
		WHERE document_id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		string(filesJSON), string(hashesJSON), string(ins.Status), string(ins.LastValidation),
		ins.ValidationNotes, deprecatedAt, ins.DeprecationReason, ins.SupersededBy, ins.ID)
	if err != nil {
		return fmt.Errorf("failed to update insight state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}

	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Initiative operations

// CreateInitiative inserts a new initiative
func (s *SQLiteStore) CreateInitiative(ctx context.Context, init *types.Initiative) error {
	if init.ID == "" {
		init.ID = fmt.Sprintf("initiative:%s", uuid.NewString())
	}
	now := time.Now().UTC()
	if init.CreatedAt.IsZero() {
		init.CreatedAt = now
	}
	init.UpdatedAt = now

	query := `
		INSERT INTO initiatives (id, name, repository, is_focused, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		init.ID, init.Name, init.Repository, boolToInt(init.IsFocused), init.CreatedAt, init.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("initiative %s: %w", init.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create initiative: %w", err)
	}
	return nil
}

// ListInitiatives returns initiatives for a repository (empty = all)
func (s *SQLiteStore) ListInitiatives(ctx context.Context, repository string) ([]*types.Initiative, error) {
	query := "SELECT id, name, repository, is_focused, created_at, updated_at FROM initiatives"
	var args []interface{}
	if repository != "" {
		query += " WHERE repository = ?"
		args = append(args, repository)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list initiatives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var inits []*types.Initiative
	for rows.Next() {
		var init types.Initiative
		var focused int
		if err := rows.Scan(&init.ID, &init.Name, &init.Repository, &focused, &init.CreatedAt, &init.UpdatedAt); err != nil {
			return nil, err
		}
		init.IsFocused = focused != 0
		inits = append(inits, &init)
	}
	return inits, rows.Err()
}

// FocusInitiative marks one initiative focused and clears any sibling
// focus in the same repository, atomically.
func (s *SQLiteStore) FocusInitiative(ctx context.Context, repository, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE initiatives SET is_focused = 0, updated_at = ? WHERE repository = ? AND is_focused = 1",
		now, repository); err != nil {
		return fmt.Errorf("failed to clear focus: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE initiatives SET is_focused = 1, updated_at = ? WHERE id = ? AND repository = ?",
		now, id, repository)
	if err != nil {
		return fmt.Errorf("failed to focus initiative: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrNotFound
	}
	return tx.Commit()
}

// FocusedInitiative returns the focused initiative for a repository,
// or ErrNotFound when none is focused.
func (s *SQLiteStore) FocusedInitiative(ctx context.Context, repository string) (*types.Initiative, error) {
	query := `
		SELECT id, name, repository, is_focused, created_at, updated_at
		FROM initiatives WHERE repository = ? AND is_focused = 1
	`
	var init types.Initiative
	var focused int
	err := s.db.QueryRowContext(ctx, query, repository).Scan(
		&init.ID, &init.Name, &init.Repository, &focused, &init.CreatedAt, &init.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	init.IsFocused = focused != 0
	return &init, nil
}

// Status operations

// CountsByType returns the number of documents per type
func (s *SQLiteStore) CountsByType(ctx context.Context) (map[types.DocumentType]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM documents GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.DocumentType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[types.DocumentType(typ)] = n
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
