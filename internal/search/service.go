package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index. Every record is written to both, so the fallback is warm
// when Meilisearch drops out mid-session.
type Service struct {
	meili  *Meili
	memory *Memory
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, memory: NewMemory()}
}

// Search tries Meilisearch if healthy, otherwise the in-memory index.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory: %v", err)
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		log.Printf("search: memory search error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIssue indexes an issue in both engines; the Meilisearch write is
// fire-and-forget.
func (s *Service) IndexIssue(rec IssueRecord) {
	_ = s.memory.IndexIssue(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIssue(rec); err != nil {
			log.Printf("search: index issue %s: %v", rec.ID, err)
		}
	}()
}

// IndexParagraph indexes a paragraph in both engines.
func (s *Service) IndexParagraph(rec ParagraphRecord) {
	_ = s.memory.IndexParagraph(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexParagraph(rec); err != nil {
			log.Printf("search: index paragraph %s: %v", rec.ID, err)
		}
	}()
}

// DeleteIssue removes an issue from both engines.
func (s *Service) DeleteIssue(id string) {
	_ = s.memory.DeleteIssue(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIssue(id); err != nil {
			log.Printf("search: delete issue %s: %v", id, err)
		}
	}()
}

// DeleteParagraph removes a paragraph from both engines.
func (s *Service) DeleteParagraph(id string) {
	_ = s.memory.DeleteParagraph(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteParagraph(id); err != nil {
			log.Printf("search: delete paragraph %s: %v", id, err)
		}
	}()
}

// DropDocument removes everything indexed for a closed document.
func (s *Service) DropDocument(documentID string) {
	_ = s.memory.DropDocument(documentID)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DropDocument(documentID); err != nil {
			log.Printf("search: drop document %s: %v", documentID, err)
		}
	}()
}

// ReindexDocument pushes a document's full issue and paragraph sets, used
// after a full analysis replaces the issue list.
func (s *Service) ReindexDocument(documentID string, issues []IssueRecord, paragraphs []ParagraphRecord) {
	_ = s.memory.DropDocument(documentID)
	for _, rec := range issues {
		_ = s.memory.IndexIssue(rec)
	}
	for _, rec := range paragraphs {
		_ = s.memory.IndexParagraph(rec)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DropDocument(documentID); err != nil {
			log.Printf("search: reindex drop %s: %v", documentID, err)
		}
		if err := s.meili.IndexIssues(issues); err != nil {
			log.Printf("search: reindex issues %s: %v", documentID, err)
		}
		if err := s.meili.IndexParagraphs(paragraphs); err != nil {
			log.Printf("search: reindex paragraphs %s: %v", documentID, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
