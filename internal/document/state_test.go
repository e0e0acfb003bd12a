package document

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"redline/api/internal/issue"
)

func seeded(t *testing.T) *State {
	t.Helper()
	s := NewState("doc-1", "Test Document")
	s.Seed([]Paragraph{
		{ID: "p1", Text: "Hello"},
		{ID: "p2", Text: "World"},
	}, nil, nil, nil)
	return s
}

func text(v string) *string { return &v }

func TestUpdateParagraph(t *testing.T) {
	s := seeded(t)
	s.AddIssue(issue.Issue{ID: "i1", ParagraphID: "p1", Severity: issue.SeverityMinor})

	changed, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("Hi")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true")
	}

	p, err := s.Paragraph("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Text != "Hi" {
		t.Errorf("expected text Hi, got %q", p.Text)
	}
	if p.ChangeSeq != 1 {
		t.Errorf("expected changeSeq 1, got %d", p.ChangeSeq)
	}
	if len(s.IssuesForParagraph("p1")) != 0 {
		t.Error("text edit should invalidate paragraph issues")
	}
	if s.Version() != 1 {
		t.Errorf("direct mutation must not bump version, got %d", s.Version())
	}
}

func TestUpdateParagraphNoOp(t *testing.T) {
	s := seeded(t)
	s.AddIssue(issue.Issue{ID: "i1", ParagraphID: "p1", Severity: issue.SeverityMinor})

	changed, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("Hello")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed {
		t.Error("identical text should report changed=false")
	}
	p, _ := s.Paragraph("p1")
	if p.ChangeSeq != 0 {
		t.Errorf("no-op edit must not bump changeSeq, got %d", p.ChangeSeq)
	}
	if len(s.IssuesForParagraph("p1")) != 1 {
		t.Error("no-op edit must not invalidate issues")
	}
}

func TestUpdateParagraphNotFound(t *testing.T) {
	s := seeded(t)
	_, err := s.UpdateParagraph("missing", ParagraphUpdate{Text: text("x")})
	if !errors.Is(err, ErrParagraphNotFound) {
		t.Fatalf("expected ErrParagraphNotFound, got %v", err)
	}
}

func TestFormattingOnlyEditKeepsIssues(t *testing.T) {
	s := seeded(t)
	s.AddIssue(issue.Issue{ID: "i1", ParagraphID: "p1", Severity: issue.SeverityMinor})

	changed, err := s.UpdateParagraph("p1", ParagraphUpdate{Formatting: &Formatting{Alignment: "center"}})
	if err != nil || !changed {
		t.Fatalf("formatting update: changed=%v err=%v", changed, err)
	}
	if len(s.IssuesForParagraph("p1")) != 1 {
		t.Error("formatting-only edit must not invalidate issues")
	}
}

func TestChangedParagraphs(t *testing.T) {
	s := seeded(t)
	mark := time.Now()
	time.Sleep(2 * time.Millisecond)

	if _, err := s.UpdateParagraph("p2", ParagraphUpdate{Text: text("Earth")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	changed := s.ChangedParagraphs(mark)
	if len(changed) != 1 || changed[0].ID != "p2" {
		t.Fatalf("expected only p2 changed, got %v", changed)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := seeded(t)
	s.AddIssue(issue.Issue{ID: "i1", ParagraphID: "p2", Severity: issue.SeverityMajor})

	before := s.SnapshotView()
	id := s.CreateSnapshot("checkpoint")
	if id == "" {
		t.Fatal("expected snapshot id")
	}

	if _, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("Changed")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	s.AddIssue(issue.Issue{ID: "i2", ParagraphID: "p1", Severity: issue.SeverityMinor})

	snap, err := s.SnapshotByID(id)
	if err != nil {
		t.Fatalf("snapshot lookup: %v", err)
	}
	s.RestoreFromSnapshot(snap)

	after := s.SnapshotView()
	if !reflect.DeepEqual(before.Paragraphs, after.Paragraphs) {
		t.Error("restored paragraphs differ from original")
	}
	if !reflect.DeepEqual(before.Issues, after.Issues) {
		t.Error("restored issues differ from original")
	}
	if before.Version != after.Version {
		t.Errorf("restored version %d, want %d", after.Version, before.Version)
	}
}

// The scenario from the engine contract: an edit made before a snapshot is
// preserved by undo, an edit made after it is reverted.
func TestUndoRevertsOnlyPostSnapshotEdits(t *testing.T) {
	s := seeded(t)

	if _, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("Hi")}); err != nil {
		t.Fatalf("update p1: %v", err)
	}
	s.CreateSnapshot("edit1")
	if _, err := s.UpdateParagraph("p2", ParagraphUpdate{Text: text("Earth")}); err != nil {
		t.Fatalf("update p2: %v", err)
	}

	if err := s.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}

	p1, _ := s.Paragraph("p1")
	p2, _ := s.Paragraph("p2")
	if p1.Text != "Hi" {
		t.Errorf("p1 edit predates snapshot and must survive undo, got %q", p1.Text)
	}
	if p2.Text != "World" {
		t.Errorf("p2 edit postdates snapshot and must be reverted, got %q", p2.Text)
	}
}

func TestUndoRedo(t *testing.T) {
	s := seeded(t)
	s.CreateSnapshot("initial")

	if _, err := s.UpdateParagraph("p2", ParagraphUpdate{Text: text("Earth")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	p2, _ := s.Paragraph("p2")
	if p2.Text != "World" {
		t.Fatalf("undo should restore World, got %q", p2.Text)
	}

	if err := s.Redo(); err != nil {
		t.Fatalf("redo: %v", err)
	}
	p2, _ = s.Paragraph("p2")
	if p2.Text != "Earth" {
		t.Fatalf("redo should restore Earth, got %q", p2.Text)
	}

	if err := s.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("expected ErrNothingToRedo, got %v", err)
	}
}

func TestEditAfterUndoDiscardsRedo(t *testing.T) {
	s := seeded(t)
	s.CreateSnapshot("first")

	if _, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("branch A")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Undo(); err != nil {
		t.Fatalf("undo: %v", err)
	}

	// New snapshot while not at the end of history discards the redo tail.
	if _, err := s.UpdateParagraph("p1", ParagraphUpdate{Text: text("branch B")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	s.CreateSnapshot("second")

	if err := s.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("redo history should be discarded, got %v", err)
	}
	p1, _ := s.Paragraph("p1")
	if p1.Text != "branch B" {
		t.Errorf("expected branch B, got %q", p1.Text)
	}
}

func TestUndoEmptyHistory(t *testing.T) {
	s := seeded(t)
	if err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestSnapshotHistoryBounded(t *testing.T) {
	s := seeded(t)
	for i := 0; i < maxSnapshots+10; i++ {
		s.CreateSnapshot("checkpoint")
	}
	if s.HistoryLen() != maxSnapshots {
		t.Errorf("history should be trimmed to %d, got %d", maxSnapshots, s.HistoryLen())
	}
}

func TestMergeAnalysisStaleDiscard(t *testing.T) {
	s := seeded(t)
	captured := s.Version()

	// The document advances while the analysis is running.
	tx := s.NewTransaction("concurrent edit")
	if err := tx.UpdateParagraph("p1", ParagraphUpdate{Text: text("moved on")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err := s.MergeAnalysis(captured, []string{"p1"}, []issue.Issue{{ID: "late", ParagraphID: "p1", Severity: issue.SeverityMinor}}, false)
	if !errors.Is(err, ErrStaleAnalysis) {
		t.Fatalf("expected ErrStaleAnalysis, got %v", err)
	}
	if _, getErr := s.Issue("late"); getErr == nil {
		t.Error("stale analysis results must not be merged")
	}
}

func TestMergeAnalysisIncremental(t *testing.T) {
	s := seeded(t)
	s.AddIssue(issue.Issue{ID: "old-p1", ParagraphID: "p1", Severity: issue.SeverityMinor})
	s.AddIssue(issue.Issue{ID: "old-p2", ParagraphID: "p2", Severity: issue.SeverityMinor})

	err := s.MergeAnalysis(s.Version(), []string{"p1"}, []issue.Issue{
		{ID: "new-p1", ParagraphID: "p1", Severity: issue.SeverityCritical},
	}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := s.Issue("old-p1"); err == nil {
		t.Error("issues for changed paragraphs should be dropped")
	}
	if _, err := s.Issue("new-p1"); err != nil {
		t.Error("fresh issues should be added")
	}
	if _, err := s.Issue("old-p2"); err != nil {
		t.Error("issues for unchanged paragraphs should be preserved")
	}
}
