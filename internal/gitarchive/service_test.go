package gitarchive

import (
	"os"
	"path/filepath"
	"testing"

	"redline/api/internal/document"
)

func sampleContent(version int) ArchiveContent {
	return ArchiveContent{
		DocumentID: "doc-1",
		Title:      "Draft Report",
		Version:    version,
		Paragraphs: []document.Paragraph{
			{ID: "p1", Text: "Hello", Index: 0},
			{ID: "p2", Text: "World", Index: 1},
		},
		IssueCount: 2,
	}
}

func TestArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureArchive("doc-1", sampleContent(1), "Avery"); err != nil {
		t.Fatalf("EnsureArchive() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Second ensure is a no-op.
	if err := svc.EnsureArchive("doc-1", sampleContent(99), "Avery"); err != nil {
		t.Fatalf("second EnsureArchive() error = %v", err)
	}

	updated := sampleContent(2)
	updated.Paragraphs[0].Text = "Greetings"
	commit, err := svc.CommitRevision("doc-1", updated, "Avery", "Save version 2")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	head, headCommit, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Version != 2 || head.Paragraphs[0].Text != "Greetings" {
		t.Errorf("head content stale: %+v", head)
	}
	if headCommit.Hash != commit.Hash {
		t.Errorf("head commit %s, want %s", headCommit.Hash, commit.Hash)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected baseline + save, got %d entries", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Errorf("newest commit first, got %s", history[0].Hash)
	}
}

func TestContentByHashAndTag(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureArchive("doc-1", sampleContent(1), "Avery"); err != nil {
		t.Fatalf("EnsureArchive() error = %v", err)
	}
	c2, err := svc.CommitRevision("doc-1", sampleContent(2), "Avery", "Save version 2")
	if err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}
	if _, err := svc.CommitRevision("doc-1", sampleContent(3), "Avery", "Save version 3"); err != nil {
		t.Fatalf("CommitRevision() error = %v", err)
	}

	// Abbreviated hashes resolve.
	content, err := svc.ContentByHash("doc-1", c2.Hash)
	if err != nil {
		t.Fatalf("ContentByHash() error = %v", err)
	}
	if content.Version != 2 {
		t.Errorf("expected version 2 at %s, got %d", c2.Hash, content.Version)
	}

	if err := svc.TagVersion("doc-1", c2.Hash, "v2"); err != nil {
		t.Fatalf("TagVersion() error = %v", err)
	}
	// Tagging twice is fine.
	if err := svc.TagVersion("doc-1", c2.Hash, "v2"); err != nil {
		t.Fatalf("repeat TagVersion() error = %v", err)
	}

	tagged, err := svc.ContentByHash("doc-1", "v2")
	if err != nil {
		t.Fatalf("ContentByHash(tag) error = %v", err)
	}
	if tagged.Version != 2 {
		t.Errorf("expected tag v2 to resolve to version 2, got %d", tagged.Version)
	}
}

func TestHistoryUnknownDocument(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("ghost", 5); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
