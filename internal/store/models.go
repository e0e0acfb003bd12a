// Package store is the Postgres persistence layer: document metadata plus an
// append-only revision table holding full snapshots.
package store

import "time"

type DocumentRecord struct {
	ID             string
	Title          string
	Status         string
	Version        int
	ParagraphCount int
	IssueCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Revision is one persisted snapshot of a document. Content is the JSON
// encoding of the snapshot's paragraphs; revisions are never updated or
// deleted.
type Revision struct {
	ID          string
	DocumentID  string
	Version     int
	Description string
	Content     []byte
	IssueCount  int
	SavedAt     time.Time
}
