package search

import "testing"

func seedService() *Service {
	svc := NewService(nil)
	svc.IndexIssue(IssueRecord{
		ID: "iss-1", Message: "Passive voice in opening sentence",
		Category: "style", Severity: "MINOR", DocumentID: "doc-1", ParagraphID: "p1",
	})
	svc.IndexIssue(IssueRecord{
		ID: "iss-2", Message: "Missing citation for claim",
		Category: "citation", Severity: "MAJOR", DocumentID: "doc-1", ParagraphID: "p2",
	})
	svc.IndexIssue(IssueRecord{
		ID: "iss-3", Message: "Passive voice again",
		Category: "style", Severity: "MINOR", DocumentID: "doc-2", ParagraphID: "p9",
	})
	svc.IndexParagraph(ParagraphRecord{
		ID: "p1", Text: "The report was written in passive voice.", DocumentID: "doc-1", Index: 0,
	})
	svc.IndexParagraph(ParagraphRecord{
		ID: "p2", Text: "Results improved by forty percent.", DocumentID: "doc-1", Index: 1,
	})
	return svc
}

func TestFallbackSearchMatches(t *testing.T) {
	svc := seedService()

	resp := svc.Search(Query{Text: "passive"})
	if resp.Total != 3 {
		t.Fatalf("expected 3 hits for %q, got %d", "passive", resp.Total)
	}
	var issues, paragraphs int
	for _, r := range resp.Results {
		switch r.Type {
		case ResultIssue:
			issues++
		case ResultParagraph:
			paragraphs++
		}
	}
	if issues != 2 || paragraphs != 1 {
		t.Errorf("expected 2 issues + 1 paragraph, got %d + %d", issues, paragraphs)
	}
}

func TestFallbackSearchFilters(t *testing.T) {
	svc := seedService()

	resp := svc.Search(Query{Text: "passive", FilterDocumentID: "doc-1", FilterType: ResultIssue})
	if len(resp.Results) != 1 || resp.Results[0].ID != "iss-1" {
		t.Fatalf("expected only iss-1, got %+v", resp.Results)
	}

	resp = svc.Search(Query{FilterSeverity: "MAJOR", FilterType: ResultIssue})
	if len(resp.Results) != 1 || resp.Results[0].ID != "iss-2" {
		t.Fatalf("severity filter failed: %+v", resp.Results)
	}
}

func TestFallbackSearchNoMatch(t *testing.T) {
	svc := seedService()
	resp := svc.Search(Query{Text: "zebra"})
	if resp.Total != 0 || resp.Results == nil {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestDeleteAndDrop(t *testing.T) {
	svc := seedService()

	svc.DeleteIssue("iss-1")
	resp := svc.Search(Query{Text: "passive", FilterType: ResultIssue})
	if len(resp.Results) != 1 || resp.Results[0].ID != "iss-3" {
		t.Fatalf("expected iss-3 only after delete, got %+v", resp.Results)
	}

	svc.DropDocument("doc-1")
	resp = svc.Search(Query{FilterDocumentID: "doc-1"})
	if resp.Total != 0 {
		t.Fatalf("expected doc-1 fully dropped, got %d hits", resp.Total)
	}
	resp = svc.Search(Query{FilterDocumentID: "doc-2"})
	if resp.Total != 1 {
		t.Fatalf("doc-2 should survive drop, got %d hits", resp.Total)
	}
}

func TestReindexReplacesIssues(t *testing.T) {
	svc := seedService()

	svc.ReindexDocument("doc-1",
		[]IssueRecord{{ID: "iss-9", Message: "New finding", Category: "structure", Severity: "CRITICAL", DocumentID: "doc-1", ParagraphID: "p1"}},
		[]ParagraphRecord{{ID: "p1", Text: "Rewritten text.", DocumentID: "doc-1"}},
	)

	resp := svc.Search(Query{FilterDocumentID: "doc-1"})
	if resp.Total != 2 {
		t.Fatalf("expected replaced index with 2 records, got %d", resp.Total)
	}
	resp = svc.Search(Query{Text: "citation"})
	if resp.Total != 0 {
		t.Fatalf("old issues should be gone after reindex, got %d", resp.Total)
	}
}

func TestMemoryPagination(t *testing.T) {
	m := NewMemory()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = m.IndexParagraph(ParagraphRecord{ID: id, Text: "shared term", DocumentID: "doc-1"})
	}

	results, total, err := m.Search(Query{Text: "shared", Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 4 || len(results) != 2 {
		t.Fatalf("expected total 4 page 2, got total %d page %d", total, len(results))
	}

	results, _, _ = m.Search(Query{Text: "shared", Limit: 2, Offset: 3})
	if len(results) != 1 {
		t.Fatalf("expected final page of 1, got %d", len(results))
	}
}
