package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"redline/api/internal/change"
	"redline/api/internal/config"
	"redline/api/internal/document"
	"redline/api/internal/export"
	"redline/api/internal/gitarchive"
	"redline/api/internal/issue"
	"redline/api/internal/schedule"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string]store.DocumentRecord
	revs map[string][]store.Revision
}

func newMemStore() *memStore {
	return &memStore{
		docs: make(map[string]store.DocumentRecord),
		revs: make(map[string][]store.Revision),
	}
}

func (m *memStore) UpsertDocument(_ context.Context, doc store.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (store.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return store.DocumentRecord{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) ListDocuments(_ context.Context) ([]store.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.DocumentRecord, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	return out, nil
}

func (m *memStore) InsertRevision(_ context.Context, rev store.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.revs[rev.DocumentID] {
		if existing.Version == rev.Version {
			// Matches the unique constraint: a persisted version is immutable.
			return nil
		}
	}
	m.revs[rev.DocumentID] = append(m.revs[rev.DocumentID], rev)
	return nil
}

func (m *memStore) LatestRevision(_ context.Context, documentID string) (store.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.revs[documentID]
	if len(revs) == 0 {
		return store.Revision{}, store.ErrNotFound
	}
	latest := revs[0]
	for _, rev := range revs[1:] {
		if rev.Version > latest.Version {
			latest = rev
		}
	}
	return latest, nil
}

func (m *memStore) ListRevisions(_ context.Context, documentID string, limit int) ([]store.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.revs[documentID]
	out := make([]store.Revision, len(revs))
	copy(out, revs)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) RevisionByVersion(_ context.Context, documentID string, version int) (store.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rev := range m.revs[documentID] {
		if rev.Version == version {
			return rev, nil
		}
	}
	return store.Revision{}, store.ErrNotFound
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) revisionCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revs[documentID])
}

type fakeCache struct {
	mu     sync.Mutex
	copies map[string]session.WorkingCopy
}

func newFakeCache() *fakeCache {
	return &fakeCache{copies: make(map[string]session.WorkingCopy)}
}

func (c *fakeCache) SaveWorkingCopy(_ context.Context, wc session.WorkingCopy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copies[wc.DocumentID] = wc
	return nil
}

func (c *fakeCache) LoadWorkingCopy(_ context.Context, documentID string) (session.WorkingCopy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wc, ok := c.copies[documentID]
	if !ok {
		return session.WorkingCopy{}, session.ErrNoWorkingCopy
	}
	return wc, nil
}

func (c *fakeCache) ClearWorkingCopy(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.copies, documentID)
	return nil
}

type fakeArchive struct {
	mu      sync.Mutex
	commits map[string][]gitarchive.CommitInfo
	tags    map[string]string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		commits: make(map[string][]gitarchive.CommitInfo),
		tags:    make(map[string]string),
	}
}

func (a *fakeArchive) EnsureArchive(documentID string, _ gitarchive.ArchiveContent, author string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.commits[documentID]) == 0 {
		a.commits[documentID] = []gitarchive.CommitInfo{{Hash: "0000000", Message: "Initial import", Author: author, CreatedAt: time.Now()}}
	}
	return nil
}

func (a *fakeArchive) CommitRevision(documentID string, content gitarchive.ArchiveContent, author, message string) (gitarchive.CommitInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := gitarchive.CommitInfo{
		Hash:      fmt.Sprintf("%07d", len(a.commits[documentID])),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	a.commits[documentID] = append([]gitarchive.CommitInfo{info}, a.commits[documentID]...)
	return info, nil
}

func (a *fakeArchive) History(documentID string, limit int) ([]gitarchive.CommitInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]gitarchive.CommitInfo, len(a.commits[documentID]))
	copy(out, a.commits[documentID])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *fakeArchive) ContentByHash(string, string) (gitarchive.ArchiveContent, error) {
	return gitarchive.ArchiveContent{}, errors.New("not implemented")
}

func (a *fakeArchive) TagVersion(documentID, hash, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags[documentID+"/"+name] = hash
	return nil
}

// testConverter splits the upload into one paragraph per line.
func testConverter(_ context.Context, filename string, data []byte) (UploadResult, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	paragraphs := make([]document.Paragraph, 0, len(lines))
	for i, line := range lines {
		paragraphs = append(paragraphs, document.Paragraph{
			ID:   fmt.Sprintf("p%d", i+1),
			Text: line,
		})
	}
	return UploadResult{
		Title:      strings.TrimSuffix(filename, ".docx"),
		Paragraphs: paragraphs,
	}, nil
}

// testAnalyzer flags every paragraph containing "TODO" with a fixable issue.
func testAnalyzer(_ context.Context, snap document.Snapshot, opts schedule.AnalyzeOptions) ([]issue.Issue, error) {
	changed := make(map[string]struct{}, len(opts.ChangedParagraphs))
	for _, id := range opts.ChangedParagraphs {
		changed[id] = struct{}{}
	}
	var out []issue.Issue
	for _, p := range snap.Paragraphs {
		if !opts.Force && len(changed) > 0 {
			if _, ok := changed[p.ID]; !ok {
				continue
			}
		}
		if strings.Contains(p.Text, "TODO") {
			out = append(out, issue.Issue{
				Severity:    issue.SeverityMajor,
				Category:    "style",
				Message:     "unresolved TODO marker",
				ParagraphID: p.ID,
				HasFix:      true,
				FixAction:   "remove-todo",
			})
		}
	}
	return out, nil
}

func testFixer(_ context.Context, snap document.Snapshot, is issue.Issue) (FixResult, error) {
	for _, p := range snap.Paragraphs {
		if p.ID == is.ParagraphID {
			return FixResult{NewText: strings.TrimSpace(strings.ReplaceAll(p.Text, "TODO", ""))}, nil
		}
	}
	return FixResult{}, errors.New("paragraph gone")
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeCache, *fakeArchive) {
	t.Helper()
	cfg := config.Config{
		// Long debounces so only explicit saves and analyses run in tests.
		SaveDebounce:     time.Minute,
		AnalysisDebounce: time.Minute,
	}
	st := newMemStore()
	cache := newFakeCache()
	archive := newFakeArchive()
	svc := NewService(cfg, st, cache, archive, nil, search.NewService(nil), export.NewService(), testAnalyzer, testConverter, testFixer)
	return svc, st, cache, archive
}

// settleAnalysis waits out the background analysis started by an upload by
// forcing a run of our own; success means no other run is in flight and any
// later AddIssue will not be clobbered by a trailing merge.
func settleAnalysis(t *testing.T, svc *Service, documentID string) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		res, err := svc.Analyze(context.Background(), documentID, true)
		return err == nil && res.Mode == schedule.ModeFull
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestUploadEditFixSaveLifecycle(t *testing.T) {
	svc, st, _, archive := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "contract.docx", "application/octet-stream", []byte("First clause.\nTODO revisit liability cap."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if view.Version != 1 {
		t.Fatalf("initial version = %d, want 1", view.Version)
	}
	if len(view.Paragraphs) != 2 {
		t.Fatalf("paragraphs = %d, want 2", len(view.Paragraphs))
	}
	if view.Title != "contract" {
		t.Fatalf("title = %q", view.Title)
	}
	if st.revisionCount(view.ID) != 1 {
		t.Fatalf("revisions after upload = %d, want 1", st.revisionCount(view.ID))
	}

	// The upload kicks off a full analysis in the background.
	waitFor(t, 2*time.Second, func() bool {
		issues, err := svc.Issues(view.ID, "", "")
		return err == nil && len(issues) == 1
	})

	issues, err := svc.Issues(view.ID, "", "")
	if err != nil {
		t.Fatalf("Issues: %v", err)
	}
	if issues[0].ParagraphID != "p2" || !issues[0].HasFix {
		t.Fatalf("unexpected issue %+v", issues[0])
	}

	fixed, err := svc.ApplyFix(ctx, view.ID, issues[0].ID)
	if err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	if strings.Contains(fixed.Paragraphs[1].Text, "TODO") {
		t.Fatalf("fix did not rewrite text: %q", fixed.Paragraphs[1].Text)
	}
	if len(fixed.Issues) != 0 {
		t.Fatalf("issues after fix = %d, want 0", len(fixed.Issues))
	}
	if fixed.Version != view.Version+1 {
		t.Fatalf("version after fix = %d, want %d", fixed.Version, view.Version+1)
	}

	state, err := svc.SaveNow(ctx, view.ID)
	if err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if state.Status != string(schedule.StatusSaved) {
		t.Fatalf("save status = %s, want saved", state.Status)
	}
	if st.revisionCount(view.ID) != 2 {
		t.Fatalf("revisions after save = %d, want 2", st.revisionCount(view.ID))
	}

	// The persister archives the commit asynchronously.
	waitFor(t, 2*time.Second, func() bool {
		commits, err := archive.History(view.ID, 10)
		return err == nil && len(commits) == 2
	})

	history, err := svc.History(ctx, view.ID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history.Revisions) != 2 {
		t.Fatalf("history revisions = %d, want 2", len(history.Revisions))
	}
	if len(history.ChangeLog) != 1 {
		t.Fatalf("change log entries = %d, want 1", len(history.ChangeLog))
	}
}

func TestSyncWithEditorAppliesDelta(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "memo.docx", "", []byte("Alpha.\nBravo.\nCharlie."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	// Modify the first paragraph, drop the second, append a new one.
	incoming := []change.Node{
		{ID: "p1", Text: "Alpha, amended.", Index: 0},
		{ID: "p3", Text: "Charlie.", Index: 1},
		{ID: "p4", Text: "Delta.", Index: 2},
	}
	cs, err := svc.SyncWithEditor(ctx, view.ID, incoming)
	if err != nil {
		t.Fatalf("SyncWithEditor: %v", err)
	}
	if !cs.HasChanges {
		t.Fatal("expected changes")
	}

	after, err := svc.Document(view.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if len(after.Paragraphs) != 3 {
		t.Fatalf("paragraphs = %d, want 3", len(after.Paragraphs))
	}
	if after.Paragraphs[0].Text != "Alpha, amended." {
		t.Fatalf("p1 text = %q", after.Paragraphs[0].Text)
	}
	if after.Paragraphs[1].ID != "p3" || after.Paragraphs[2].ID != "p4" {
		t.Fatalf("order = %s, %s", after.Paragraphs[1].ID, after.Paragraphs[2].ID)
	}
	if after.Version != view.Version+1 {
		t.Fatalf("version = %d, want one commit", after.Version)
	}
	if after.SaveStatus != string(schedule.StatusUnsaved) {
		t.Fatalf("save status = %s, want unsaved", after.SaveStatus)
	}

	// No-op sync is not a version bump.
	cs, err = svc.SyncWithEditor(ctx, view.ID, nodesOf(after.Paragraphs))
	if err != nil {
		t.Fatalf("no-op sync: %v", err)
	}
	if cs.HasChanges {
		t.Fatal("no-op sync reported changes")
	}
	unchanged, _ := svc.Document(view.ID)
	if unchanged.Version != after.Version {
		t.Fatalf("no-op sync bumped version to %d", unchanged.Version)
	}
}

func TestSyncWithEditorPreservesEditorOrder(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "plan.docx", "", []byte("A.\nB.\nC.\nD."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	// Edits, moves, a removal, and an insertion interleaved in one sync: the
	// authoritative order must come out exactly as the editor sent it.
	incoming := []change.Node{
		{ID: "p4", Text: "D, edited.", Index: 0},
		{ID: "p9", Text: "Fresh.", Index: 1},
		{ID: "p2", Text: "B.", Index: 2},
		{ID: "p1", Text: "A, edited.", Index: 3},
	}
	if _, err := svc.SyncWithEditor(ctx, view.ID, incoming); err != nil {
		t.Fatalf("SyncWithEditor: %v", err)
	}

	after, err := svc.Document(view.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if len(after.Paragraphs) != len(incoming) {
		t.Fatalf("paragraphs = %d, want %d", len(after.Paragraphs), len(incoming))
	}
	for i, want := range incoming {
		got := after.Paragraphs[i]
		if got.ID != want.ID || got.Text != want.Text {
			t.Fatalf("position %d = %s %q, want %s %q", i, got.ID, got.Text, want.ID, want.Text)
		}
	}
}

func TestUndoRedoThroughService(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "note.docx", "", []byte("Original."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	pid := view.Paragraphs[0].ID

	edited := "Edited."
	if _, err := svc.UpdateParagraph(ctx, view.ID, pid, document.ParagraphUpdate{Text: &edited}); err != nil {
		t.Fatalf("UpdateParagraph: %v", err)
	}

	undone, err := svc.Undo(view.ID)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if undone.Paragraphs[0].Text != "Original." {
		t.Fatalf("after undo text = %q", undone.Paragraphs[0].Text)
	}

	redone, err := svc.Redo(view.ID)
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if redone.Paragraphs[0].Text != "Edited." {
		t.Fatalf("after redo text = %q", redone.Paragraphs[0].Text)
	}

	if _, err := svc.Redo(view.ID); err == nil {
		t.Fatal("redo at head should fail")
	}
}

func TestOpenDocumentRecoversWorkingCopy(t *testing.T) {
	svc, st, cache, _ := newTestService(t)
	ctx := context.Background()

	_ = st.UpsertDocument(ctx, store.DocumentRecord{ID: "doc-9", Title: "Draft", Version: 3})
	_ = st.InsertRevision(ctx, store.Revision{
		ID: "rev-1", DocumentID: "doc-9", Version: 3,
		Content: []byte(`[{"id":"p1","text":"Persisted."}]`),
	})
	_ = cache.SaveWorkingCopy(ctx, session.WorkingCopy{
		DocumentID: "doc-9",
		Title:      "Draft",
		Paragraphs: []document.Paragraph{{ID: "p1", Text: "Newer unsaved edit."}},
		Version:    4,
	})

	view, recovered, err := svc.OpenDocument(ctx, "doc-9")
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if !recovered {
		t.Fatal("expected working copy recovery")
	}
	if view.Paragraphs[0].Text != "Newer unsaved edit." {
		t.Fatalf("recovered text = %q", view.Paragraphs[0].Text)
	}
	if view.Version != 4 {
		t.Fatalf("recovered version = %d, want 4", view.Version)
	}
	if view.SaveStatus != string(schedule.StatusUnsaved) {
		t.Fatalf("recovered save status = %s, want unsaved", view.SaveStatus)
	}
}

func TestOpenDocumentWithoutWorkingCopy(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	_ = st.UpsertDocument(ctx, store.DocumentRecord{ID: "doc-5", Title: "Clean", Version: 2})
	_ = st.InsertRevision(ctx, store.Revision{
		ID: "rev-1", DocumentID: "doc-5", Version: 2,
		Content: []byte(`[{"id":"p1","text":"Persisted."}]`),
	})

	view, recovered, err := svc.OpenDocument(ctx, "doc-5")
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if recovered {
		t.Fatal("unexpected recovery")
	}
	if view.Version != 2 || view.Paragraphs[0].Text != "Persisted." {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.SaveStatus != string(schedule.StatusSaved) {
		t.Fatalf("save status = %s, want saved", view.SaveStatus)
	}

	if _, _, err := svc.OpenDocument(ctx, "missing"); err == nil {
		t.Fatal("open of unknown document should fail")
	}
}

func TestApplyFixRejections(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "doc.docx", "", []byte("Plain text."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	settleAnalysis(t, svc, view.ID)

	if _, err := svc.ApplyFix(ctx, view.ID, "iss-missing"); err == nil {
		t.Fatal("fix of unknown issue should fail")
	}

	id := svc.mustSession(t, view.ID).state.AddIssue(issue.Issue{
		Severity:    issue.SeverityMinor,
		Category:    "style",
		Message:     "informational only",
		ParagraphID: view.Paragraphs[0].ID,
		HasFix:      false,
	})
	_, err = svc.ApplyFix(ctx, view.ID, id)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FIXABLE" {
		t.Fatalf("expected NOT_FIXABLE, got %v", err)
	}

	// A document-level issue has no paragraph to rewrite, fixable or not.
	docLevel := svc.mustSession(t, view.ID).state.AddIssue(issue.Issue{
		Severity: issue.SeverityMajor,
		Category: "structure",
		Message:  "document missing a signature block",
		HasFix:   true,
	})
	_, err = svc.ApplyFix(ctx, view.ID, docLevel)
	if !errors.As(err, &domainErr) || domainErr.Code != "DOCUMENT_LEVEL_FIX" {
		t.Fatalf("expected DOCUMENT_LEVEL_FIX, got %v", err)
	}
}

func (s *Service) mustSession(t *testing.T, documentID string) *documentSession {
	t.Helper()
	ds, err := s.sessionFor(documentID)
	if err != nil {
		t.Fatalf("sessionFor(%s): %v", documentID, err)
	}
	return ds
}

func TestCloseDocumentFlushesAndDropsSession(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "doc.docx", "", []byte("One."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	edited := "One, edited."
	if _, err := svc.UpdateParagraph(ctx, view.ID, view.Paragraphs[0].ID, document.ParagraphUpdate{Text: &edited}); err != nil {
		t.Fatalf("UpdateParagraph: %v", err)
	}

	if err := svc.CloseDocument(ctx, view.ID); err != nil {
		t.Fatalf("CloseDocument: %v", err)
	}
	if st.revisionCount(view.ID) != 2 {
		t.Fatalf("revisions after close = %d, want flushed save", st.revisionCount(view.ID))
	}
	if _, err := svc.Document(view.ID); err == nil {
		t.Fatal("document should not be open after close")
	}

	// Closing twice reports not open.
	if err := svc.CloseDocument(ctx, view.ID); err == nil {
		t.Fatal("double close should fail")
	}
}

func TestAnalyzeModesThroughService(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "doc.docx", "", []byte("Alpha.\nBravo."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	// Wait out the background upload analysis so modes are deterministic.
	waitFor(t, 2*time.Second, func() bool {
		res, err := svc.Analyze(ctx, view.ID, true)
		return err == nil && res.Mode == schedule.ModeFull
	})

	// Nothing changed since the forced run: incremental pass skips.
	res, err := svc.Analyze(ctx, view.ID, false)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Mode != schedule.ModeSkipped {
		t.Fatalf("mode = %s, want skipped", res.Mode)
	}

	edited := "Bravo TODO check."
	if _, err := svc.UpdateParagraph(ctx, view.ID, "p2", document.ParagraphUpdate{Text: &edited}); err != nil {
		t.Fatalf("UpdateParagraph: %v", err)
	}
	res, err = svc.Analyze(ctx, view.ID, false)
	if err != nil {
		t.Fatalf("Analyze after edit: %v", err)
	}
	if res.Mode != schedule.ModeIncremental {
		t.Fatalf("mode = %s, want incremental", res.Mode)
	}
	if res.Issues != 1 {
		t.Fatalf("issue count = %d, want 1", res.Issues)
	}
	issues, err := svc.Issues(view.ID, "", "")
	if err != nil {
		t.Fatalf("Issues: %v", err)
	}
	if len(issues) != 1 || issues[0].ParagraphID != "p2" {
		t.Fatalf("unexpected issues %+v", issues)
	}
}

func TestIssueFiltering(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "doc.docx", "", []byte("One.\nTwo."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	settleAnalysis(t, svc, view.ID)
	ds := svc.mustSession(t, view.ID)
	ds.state.AddIssue(issue.Issue{Severity: issue.SeverityCritical, Category: "legal", Message: "a", ParagraphID: "p1"})
	ds.state.AddIssue(issue.Issue{Severity: issue.SeverityMinor, Category: "style", Message: "b", ParagraphID: "p2"})

	critical, err := svc.Issues(view.ID, string(issue.SeverityCritical), "")
	if err != nil {
		t.Fatalf("Issues: %v", err)
	}
	if len(critical) != 1 || critical[0].ParagraphID != "p1" {
		t.Fatalf("severity filter returned %+v", critical)
	}

	forP2, err := svc.Issues(view.ID, "", "p2")
	if err != nil {
		t.Fatalf("Issues: %v", err)
	}
	if len(forP2) != 1 || forP2[0].Message != "b" {
		t.Fatalf("paragraph filter returned %+v", forP2)
	}
}

func TestReportExport(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	view, err := svc.UploadDocument(ctx, "policy.docx", "", []byte("Clause one."))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	result, err := svc.Report(view.ID, "html", true)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("mime = %s", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Clause one.") {
		t.Fatal("report missing paragraph text")
	}

	if _, err := svc.Report(view.ID, "csv", true); err == nil {
		t.Fatal("unsupported format should fail")
	}
}

func TestDomainErrorForUnopenedDocument(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Document("nope")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusNotFound || domainErr.Code != "NOT_OPEN" {
		t.Fatalf("unexpected error %+v", domainErr)
	}
}
