// Package search indexes issues and paragraph text so reviewers can find
// findings across open documents. Meilisearch is the primary engine; when it
// is unavailable the service falls back to a simple in-memory index so
// search never hard-fails during an editing session.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultIssue     ResultType = "issue"
	ResultParagraph ResultType = "paragraph"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	DocumentID  string     `json:"documentId"`
	ParagraphID string     `json:"paragraphId,omitempty"`
	Severity    string     `json:"severity,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	FilterSeverity   string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexIssue(rec IssueRecord) error
	IndexParagraph(rec ParagraphRecord) error
	DeleteIssue(id string) error
	DeleteParagraph(id string) error
	DropDocument(documentID string) error
}

// IssueRecord is the data we index for an issue.
type IssueRecord struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	DocumentID  string `json:"documentId"`
	ParagraphID string `json:"paragraphId"`
}

// ParagraphRecord is the data we index for a paragraph.
type ParagraphRecord struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	DocumentID string `json:"documentId"`
	Index      int    `json:"index"`
}
