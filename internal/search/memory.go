package search

import (
	"sort"
	"strings"
	"sync"
)

// Memory is the fallback engine used when Meilisearch is unreachable. It
// holds the same records in process memory and matches on case-insensitive
// substrings. Good enough to keep the search box working during an outage.
type Memory struct {
	mu         sync.RWMutex
	issues     map[string]IssueRecord
	paragraphs map[string]ParagraphRecord
}

func NewMemory() *Memory {
	return &Memory{
		issues:     make(map[string]IssueRecord),
		paragraphs: make(map[string]ParagraphRecord),
	}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) IndexIssue(rec IssueRecord) error {
	m.mu.Lock()
	m.issues[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) IndexParagraph(rec ParagraphRecord) error {
	m.mu.Lock()
	m.paragraphs[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteIssue(id string) error {
	m.mu.Lock()
	delete(m.issues, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteParagraph(id string) error {
	m.mu.Lock()
	delete(m.paragraphs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DropDocument(documentID string) error {
	m.mu.Lock()
	for id, rec := range m.issues {
		if rec.DocumentID == documentID {
			delete(m.issues, id)
		}
	}
	for id, rec := range m.paragraphs {
		if rec.DocumentID == documentID {
			delete(m.paragraphs, id)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	var results []Result
	if q.FilterType == "" || q.FilterType == ResultIssue {
		for _, rec := range m.issues {
			if q.FilterDocumentID != "" && rec.DocumentID != q.FilterDocumentID {
				continue
			}
			if q.FilterSeverity != "" && rec.Severity != q.FilterSeverity {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(rec.Message), needle) &&
				!strings.Contains(strings.ToLower(rec.Category), needle) {
				continue
			}
			results = append(results, Result{
				Type:        ResultIssue,
				ID:          rec.ID,
				Title:       rec.Category,
				Snippet:     rec.Message,
				DocumentID:  rec.DocumentID,
				ParagraphID: rec.ParagraphID,
				Severity:    rec.Severity,
			})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultParagraph {
		for _, rec := range m.paragraphs {
			if q.FilterDocumentID != "" && rec.DocumentID != q.FilterDocumentID {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(rec.Text), needle) {
				continue
			}
			results = append(results, Result{
				Type:        ResultParagraph,
				ID:          rec.ID,
				Snippet:     rec.Text,
				DocumentID:  rec.DocumentID,
				ParagraphID: rec.ID,
			})
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type < results[j].Type
		}
		return results[i].ID < results[j].ID
	})

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}
