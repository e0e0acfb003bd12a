package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested document or revision does not exist.
var ErrNotFound = errors.New("store: not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// UpsertDocument writes the document's current metadata row.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, status, version, paragraph_count, issue_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			paragraph_count = EXCLUDED.paragraph_count,
			issue_count = EXCLUDED.issue_count,
			updated_at = NOW()
	`, doc.ID, doc.Title, doc.Status, doc.Version, doc.ParagraphCount, doc.IssueCount)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (DocumentRecord, error) {
	const query = `
		SELECT id, title, status, version, paragraph_count, issue_count, created_at, updated_at
		FROM documents WHERE id = $1
	`
	var doc DocumentRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Title, &doc.Status, &doc.Version,
		&doc.ParagraphCount, &doc.IssueCount, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]DocumentRecord, error) {
	const query = `
		SELECT id, title, status, version, paragraph_count, issue_count, created_at, updated_at
		FROM documents ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		if err := rows.Scan(
			&doc.ID, &doc.Title, &doc.Status, &doc.Version,
			&doc.ParagraphCount, &doc.IssueCount, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// InsertRevision appends a snapshot row. Revisions are immutable; conflicts
// on (document_id, version) mean the caller is replaying a save and the
// existing row wins.
func (s *PostgresStore) InsertRevision(ctx context.Context, rev Revision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_revisions (id, document_id, version, description, content, issue_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, version) DO NOTHING
	`, rev.ID, rev.DocumentID, rev.Version, rev.Description, rev.Content, rev.IssueCount)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestRevision(ctx context.Context, documentID string) (Revision, error) {
	const query = `
		SELECT id, document_id, version, description, content, issue_count, saved_at
		FROM document_revisions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	var rev Revision
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&rev.ID, &rev.DocumentID, &rev.Version, &rev.Description,
		&rev.Content, &rev.IssueCount, &rev.SavedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("%w: no revisions for %s", ErrNotFound, documentID)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("latest revision: %w", err)
	}
	return rev, nil
}

// ListRevisions returns revision metadata newest first, without content.
func (s *PostgresStore) ListRevisions(ctx context.Context, documentID string, limit int) ([]Revision, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `
		SELECT id, document_id, version, description, issue_count, saved_at
		FROM document_revisions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	var revs []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(
			&rev.ID, &rev.DocumentID, &rev.Version, &rev.Description,
			&rev.IssueCount, &rev.SavedAt,
		); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// RevisionByVersion fetches one revision including its content.
func (s *PostgresStore) RevisionByVersion(ctx context.Context, documentID string, version int) (Revision, error) {
	const query = `
		SELECT id, document_id, version, description, content, issue_count, saved_at
		FROM document_revisions
		WHERE document_id = $1 AND version = $2
	`
	var rev Revision
	err := s.db.QueryRowContext(ctx, query, documentID, version).Scan(
		&rev.ID, &rev.DocumentID, &rev.Version, &rev.Description,
		&rev.Content, &rev.IssueCount, &rev.SavedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("%w: revision %d of %s", ErrNotFound, version, documentID)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("revision by version: %w", err)
	}
	return rev, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
