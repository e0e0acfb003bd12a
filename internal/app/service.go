package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"redline/api/internal/change"
	"redline/api/internal/config"
	"redline/api/internal/document"
	"redline/api/internal/event"
	"redline/api/internal/export"
	"redline/api/internal/gitarchive"
	"redline/api/internal/issue"
	"redline/api/internal/schedule"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
	"redline/api/internal/util"
)

// UploadResult is what the conversion collaborator returns for a raw file.
type UploadResult struct {
	Title      string
	Paragraphs []document.Paragraph
	Formatting map[string]any
	Structure  map[string]any
	Styles     map[string]any
}

// Converter turns an uploaded file into the initial document content.
type Converter func(ctx context.Context, filename string, data []byte) (UploadResult, error)

// FixResult is the outcome of an automated fix for one issue.
type FixResult struct {
	NewText string
}

// Fixer applies an issue's FixAction and returns the corrected text.
type Fixer func(ctx context.Context, snap document.Snapshot, is issue.Issue) (FixResult, error)

type persistenceStore interface {
	UpsertDocument(ctx context.Context, doc store.DocumentRecord) error
	GetDocument(ctx context.Context, id string) (store.DocumentRecord, error)
	ListDocuments(ctx context.Context) ([]store.DocumentRecord, error)
	InsertRevision(ctx context.Context, rev store.Revision) error
	LatestRevision(ctx context.Context, documentID string) (store.Revision, error)
	ListRevisions(ctx context.Context, documentID string, limit int) ([]store.Revision, error)
	RevisionByVersion(ctx context.Context, documentID string, version int) (store.Revision, error)
	Ping(ctx context.Context) error
}

// WorkingCopyCache is the optional crash-recovery cache for unsaved edits.
type WorkingCopyCache interface {
	SaveWorkingCopy(ctx context.Context, wc session.WorkingCopy) error
	LoadWorkingCopy(ctx context.Context, documentID string) (session.WorkingCopy, error)
	ClearWorkingCopy(ctx context.Context, documentID string) error
}

// RevisionArchive is the optional per-document git archive of saved revisions.
type RevisionArchive interface {
	EnsureArchive(documentID string, initial gitarchive.ArchiveContent, author string) error
	CommitRevision(documentID string, content gitarchive.ArchiveContent, author, message string) (gitarchive.CommitInfo, error)
	History(documentID string, limit int) ([]gitarchive.CommitInfo, error)
	ContentByHash(documentID, hash string) (gitarchive.ArchiveContent, error)
	TagVersion(documentID, hash, name string) error
}

// UploadArchive is the optional object store holding raw uploaded files.
type UploadArchive interface {
	ArchiveUpload(ctx context.Context, documentID, filename, contentType string, data []byte) error
}

// documentSession is one open document: its state plus the schedulers and
// emitter scoped to it. Sessions never share state or events.
type documentSession struct {
	state    *document.State
	events   *event.Emitter
	analysis *schedule.AnalysisScheduler
	saver    *schedule.SaveScheduler
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	isApplyingFix bool
}

// Service orchestrates open editing sessions and their collaborators.
type Service struct {
	cfg       config.Config
	store     persistenceStore
	cache     WorkingCopyCache
	archive   RevisionArchive
	blob      UploadArchive
	search    *search.Service
	exporter  *export.Service
	analyzer  schedule.Analyzer
	converter Converter
	fixer     Fixer
	tracker   *change.Tracker

	mu       sync.Mutex
	sessions map[string]*documentSession
}

// NewService wires the orchestrator. cache, archive, blob, searchSvc, and
// exporter may be nil; the corresponding features degrade gracefully.
func NewService(cfg config.Config, st persistenceStore, cache WorkingCopyCache, archive RevisionArchive, blob UploadArchive, searchSvc *search.Service, exporter *export.Service, analyzer schedule.Analyzer, converter Converter, fixer Fixer) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		cache:     cache,
		archive:   archive,
		blob:      blob,
		search:    searchSvc,
		exporter:  exporter,
		analyzer:  analyzer,
		converter: converter,
		fixer:     fixer,
		tracker:   change.NewTracker(),
		sessions:  make(map[string]*documentSession),
	}
}

// DocumentView is the read model returned to the editor surface.
type DocumentView struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Version      int                  `json:"version"`
	SaveStatus   string               `json:"saveStatus"`
	LastModified time.Time            `json:"lastModified"`
	Paragraphs   []document.Paragraph `json:"paragraphs"`
	Issues       []issue.Issue        `json:"issues"`
}

func (s *Service) sessionFor(documentID string) (*documentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.sessions[documentID]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_OPEN", "Document is not open", map[string]any{"documentId": documentID})
	}
	return ds, nil
}

func (s *Service) newSession(state *document.State) *documentSession {
	ctx, cancel := context.WithCancel(context.Background())
	events := event.NewEmitter()
	analysis := schedule.NewAnalysisScheduler(state, s.analyzer, events, s.cfg.AnalysisDebounce)
	saver := schedule.NewSaveScheduler(state, s.persister(state.ID()), events, analysis, s.cfg.SaveDebounce)

	ds := &documentSession{
		state:    state,
		events:   events,
		analysis: analysis,
		saver:    saver,
		ctx:      ctx,
		cancel:   cancel,
	}

	// The baseline snapshot anchors undo history for the session.
	if state.HistoryLen() == 0 {
		state.CreateSnapshot("initial content")
	}

	// Fresh analysis results flow straight into the search index, and any
	// transition away from saved refreshes the recovery cache.
	events.On(event.TopicAnalysisDone, func(any) {
		go s.reindexSearch(ds)
	})
	events.On(event.TopicSaveStateChange, func(payload any) {
		if status, ok := payload.(string); ok && status == string(schedule.StatusUnsaved) {
			go s.cacheWorkingCopy(ds)
		}
	})

	s.mu.Lock()
	s.sessions[state.ID()] = ds
	s.mu.Unlock()
	return ds
}

// persister builds the Persister closure handed to the save scheduler: a
// revision row plus metadata upsert, then best-effort archive commit, tag,
// and recovery-cache clear.
func (s *Service) persister(documentID string) schedule.Persister {
	return func(ctx context.Context, snap document.Snapshot) (time.Time, error) {
		content, err := json.Marshal(snap.Paragraphs)
		if err != nil {
			return time.Time{}, fmt.Errorf("marshal snapshot: %w", err)
		}
		rev := store.Revision{
			ID:          util.NewID("rev"),
			DocumentID:  snap.DocumentID,
			Version:     snap.Version,
			Description: "autosave",
			Content:     content,
			IssueCount:  len(snap.Issues),
		}
		if err := s.store.InsertRevision(ctx, rev); err != nil {
			return time.Time{}, err
		}
		if err := s.store.UpsertDocument(ctx, store.DocumentRecord{
			ID:             snap.DocumentID,
			Title:          snap.Title,
			Status:         "active",
			Version:        snap.Version,
			ParagraphCount: len(snap.Paragraphs),
			IssueCount:     len(snap.Issues),
		}); err != nil {
			return time.Time{}, err
		}
		savedAt := time.Now()

		if s.archive != nil {
			go func() {
				commit, err := s.archive.CommitRevision(snap.DocumentID, archiveContent(snap), "redline", fmt.Sprintf("Save version %d", snap.Version))
				if err != nil {
					log.Printf("app: archive revision %s v%d: %v", snap.DocumentID, snap.Version, err)
					return
				}
				if err := s.archive.TagVersion(snap.DocumentID, commit.Hash, fmt.Sprintf("v%d", snap.Version)); err != nil {
					log.Printf("app: tag revision %s v%d: %v", snap.DocumentID, snap.Version, err)
				}
			}()
		}
		if s.cache != nil {
			go func() {
				cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer ccancel()
				if err := s.cache.ClearWorkingCopy(cctx, snap.DocumentID); err != nil {
					log.Printf("app: clear working copy %s: %v", snap.DocumentID, err)
				}
			}()
		}
		return savedAt, nil
	}
}

func archiveContent(snap document.Snapshot) gitarchive.ArchiveContent {
	return gitarchive.ArchiveContent{
		DocumentID: snap.DocumentID,
		Title:      snap.Title,
		Version:    snap.Version,
		Paragraphs: snap.Paragraphs,
		IssueCount: len(snap.Issues),
	}
}

// noteMutation is called after every successful edit: flips save state,
// restarts both debounce timers, and refreshes the recovery cache.
func (s *Service) noteMutation(ds *documentSession) {
	ds.saver.MarkDirty()
	ds.saver.ScheduleSave(ds.ctx, false)
	ds.analysis.Schedule(ds.ctx)
	ds.events.Emit(event.TopicDocumentChanged, ds.state.ID())
}

// checkpoint records the post-edit state in the undo history.
func (s *Service) checkpoint(ds *documentSession, description string) {
	ds.state.CreateSnapshot(description)
	ds.events.Emit(event.TopicSnapshotCreated, description)
}

func (s *Service) cacheWorkingCopy(ds *documentSession) {
	if s.cache == nil {
		return
	}
	snap := ds.state.SnapshotView()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cache.SaveWorkingCopy(ctx, session.WorkingCopy{
		DocumentID: snap.DocumentID,
		Title:      snap.Title,
		Paragraphs: snap.Paragraphs,
		Version:    snap.Version,
		SaveStatus: string(ds.saver.Status()),
	})
	if err != nil {
		log.Printf("app: cache working copy %s: %v", snap.DocumentID, err)
	}
}

func (s *Service) reindexSearch(ds *documentSession) {
	if s.search == nil {
		return
	}
	snap := ds.state.SnapshotView()
	issues := make([]search.IssueRecord, 0, len(snap.Issues))
	for _, is := range snap.Issues {
		issues = append(issues, search.IssueRecord{
			ID:          is.ID,
			Message:     is.Message,
			Category:    is.Category,
			Severity:    string(is.Severity),
			DocumentID:  snap.DocumentID,
			ParagraphID: is.ParagraphID,
		})
	}
	paragraphs := make([]search.ParagraphRecord, 0, len(snap.Paragraphs))
	for _, p := range snap.Paragraphs {
		paragraphs = append(paragraphs, search.ParagraphRecord{
			ID:         p.ID,
			Text:       p.Text,
			DocumentID: snap.DocumentID,
			Index:      p.Index,
		})
	}
	s.search.ReindexDocument(snap.DocumentID, issues, paragraphs)
}

// UploadDocument converts a raw file into a new document session.
func (s *Service) UploadDocument(ctx context.Context, filename, contentType string, data []byte) (DocumentView, error) {
	if s.converter == nil {
		return DocumentView{}, domainError(http.StatusServiceUnavailable, "CONVERTER_UNAVAILABLE", "Document conversion is not configured", nil)
	}
	if len(data) == 0 {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "EMPTY_UPLOAD", "Uploaded file is empty", nil)
	}

	result, err := s.converter(ctx, filename, data)
	if err != nil {
		return DocumentView{}, fmt.Errorf("convert upload: %w", err)
	}
	title := result.Title
	if title == "" {
		title = filename
	}

	id := util.NewID("doc")
	state := document.NewState(id, title)
	state.Seed(result.Paragraphs, result.Formatting, result.Structure, result.Styles)
	ds := s.newSession(state)

	snap := state.SnapshotView()
	content, err := json.Marshal(snap.Paragraphs)
	if err != nil {
		return DocumentView{}, fmt.Errorf("marshal initial content: %w", err)
	}
	if err := s.store.UpsertDocument(ctx, store.DocumentRecord{
		ID:             id,
		Title:          title,
		Status:         "active",
		Version:        snap.Version,
		ParagraphCount: len(snap.Paragraphs),
	}); err != nil {
		return DocumentView{}, err
	}
	if err := s.store.InsertRevision(ctx, store.Revision{
		ID:          util.NewID("rev"),
		DocumentID:  id,
		Version:     snap.Version,
		Description: "initial import",
		Content:     content,
	}); err != nil {
		return DocumentView{}, err
	}

	if s.archive != nil {
		if err := s.archive.EnsureArchive(id, archiveContent(snap), "redline"); err != nil {
			log.Printf("app: ensure archive %s: %v", id, err)
		}
	}
	if s.blob != nil {
		uploadData := make([]byte, len(data))
		copy(uploadData, data)
		go func() {
			bctx, bcancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer bcancel()
			if err := s.blob.ArchiveUpload(bctx, id, filename, contentType, uploadData); err != nil {
				log.Printf("app: archive upload %s: %v", id, err)
			}
		}()
	}

	// First analysis is always full.
	go func() {
		if _, err := ds.analysis.Run(ds.ctx, true); err != nil && !errors.Is(err, schedule.ErrAnalysisInProgress) {
			log.Printf("app: initial analysis %s: %v", id, err)
		}
	}()

	return s.viewOf(ds), nil
}

// OpenDocument loads the latest persisted revision into a session. A newer
// working copy in the recovery cache wins over the persisted revision.
func (s *Service) OpenDocument(ctx context.Context, documentID string) (DocumentView, bool, error) {
	s.mu.Lock()
	if ds, ok := s.sessions[documentID]; ok {
		s.mu.Unlock()
		return s.viewOf(ds), false, nil
	}
	s.mu.Unlock()

	rec, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DocumentView{}, false, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
		}
		return DocumentView{}, false, err
	}
	rev, err := s.store.LatestRevision(ctx, documentID)
	if err != nil {
		return DocumentView{}, false, err
	}

	var paragraphs []document.Paragraph
	if err := json.Unmarshal(rev.Content, &paragraphs); err != nil {
		return DocumentView{}, false, fmt.Errorf("decode revision content: %w", err)
	}
	version := rev.Version
	recovered := false

	if s.cache != nil {
		wc, err := s.cache.LoadWorkingCopy(ctx, documentID)
		if err == nil && wc.Version >= rev.Version && len(wc.Paragraphs) > 0 {
			paragraphs = wc.Paragraphs
			version = wc.Version
			recovered = true
		} else if err != nil && !errors.Is(err, session.ErrNoWorkingCopy) {
			log.Printf("app: load working copy %s: %v", documentID, err)
		}
	}

	state := document.NewState(documentID, rec.Title)
	state.Seed(paragraphs, nil, nil, nil)
	state.SetVersion(version)
	ds := s.newSession(state)
	if recovered {
		ds.saver.MarkDirty()
	}

	return s.viewOf(ds), recovered, nil
}

// CloseDocument flushes pending work and tears the session down.
func (s *Service) CloseDocument(ctx context.Context, documentID string) error {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return err
	}

	ds.analysis.Cancel()
	ds.saver.Flush(ctx)
	ds.cancel()

	s.mu.Lock()
	delete(s.sessions, documentID)
	s.mu.Unlock()

	if s.search != nil {
		s.search.DropDocument(documentID)
	}
	return nil
}

func (s *Service) viewOf(ds *documentSession) DocumentView {
	snap := ds.state.SnapshotView()
	return DocumentView{
		ID:           snap.DocumentID,
		Title:        snap.Title,
		Version:      snap.Version,
		SaveStatus:   string(ds.saver.Status()),
		LastModified: ds.state.LastModified(),
		Paragraphs:   snap.Paragraphs,
		Issues:       snap.Issues,
	}
}

// Document returns the current view of an open document.
func (s *Service) Document(documentID string) (DocumentView, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return s.viewOf(ds), nil
}

// ListDocuments lists persisted document metadata.
func (s *Service) ListDocuments(ctx context.Context) ([]store.DocumentRecord, error) {
	return s.store.ListDocuments(ctx)
}

// EditorContent exports the document as the structured tree the editor
// consumes.
func (s *Service) EditorContent(documentID string) ([]change.Node, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return nil, err
	}
	return nodesOf(ds.state.Paragraphs()), nil
}

func nodesOf(paragraphs []document.Paragraph) []change.Node {
	nodes := make([]change.Node, 0, len(paragraphs))
	for _, p := range paragraphs {
		nodes = append(nodes, change.Node{
			ID:         p.ID,
			Text:       p.Text,
			Formatting: formattingToMap(p.Formatting),
			Index:      p.Index,
		})
	}
	return nodes
}

func formattingToMap(f document.Formatting) map[string]any {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func formattingFromMap(m map[string]any) *document.Formatting {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var f document.Formatting
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// SyncWithEditor diffs the incoming editor tree against the current state,
// applies the delta in one transaction, and returns the change set.
func (s *Service) SyncWithEditor(ctx context.Context, documentID string, incoming []change.Node) (change.ChangeSet, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return change.ChangeSet{}, err
	}

	current := nodesOf(ds.state.Paragraphs())
	cs := s.tracker.DetectParagraphs(current, incoming)
	if !cs.HasChanges {
		return cs, nil
	}

	tx := ds.state.NewTransaction("editor sync")
	for _, op := range cs.Operations {
		switch op.Kind {
		case change.KindParagraphModify:
			// Content only; the change set carries position changes as
			// separate move operations valid at their point in the sequence.
			upd := document.ParagraphUpdate{Text: &op.Node.Text}
			if f := formattingFromMap(op.Node.Formatting); f != nil {
				upd.Formatting = f
			}
			err = tx.UpdateParagraph(op.ParagraphID, upd)
		case change.KindParagraphMove:
			err = tx.MoveParagraph(op.ParagraphID, op.NewIndex)
		case change.KindParagraphRemove:
			err = tx.RemoveParagraph(op.ParagraphID)
		case change.KindParagraphAdd:
			p := document.Paragraph{ID: op.Node.ID, Text: op.Node.Text}
			if f := formattingFromMap(op.Node.Formatting); f != nil {
				p.Formatting = *f
			}
			err = tx.AddParagraph(p, op.NewIndex)
		case change.KindReplaceAll:
			for _, old := range op.OldNodes {
				if err = tx.RemoveParagraph(old.ID); err != nil {
					break
				}
			}
			if err == nil {
				for i, n := range op.NewNodes {
					p := document.Paragraph{ID: n.ID, Text: n.Text}
					if f := formattingFromMap(n.Formatting); f != nil {
						p.Formatting = *f
					}
					if err = tx.AddParagraph(p, i); err != nil {
						break
					}
				}
			}
		default:
			err = fmt.Errorf("unexpected operation %s in paragraph sync", op.Kind)
		}
		if err != nil {
			tx.Rollback()
			return change.ChangeSet{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return change.ChangeSet{}, err
	}

	s.checkpoint(ds, "editor sync")
	s.noteMutation(ds)
	return cs, nil
}

// UpdateParagraph applies one paragraph edit as its own transaction.
func (s *Service) UpdateParagraph(ctx context.Context, documentID, paragraphID string, upd document.ParagraphUpdate) (DocumentView, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}

	tx := ds.state.NewTransaction("update paragraph " + paragraphID)
	if err := tx.UpdateParagraph(paragraphID, upd); err != nil {
		tx.Rollback()
		return DocumentView{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentView{}, err
	}

	s.checkpoint(ds, "update paragraph "+paragraphID)
	s.noteMutation(ds)
	return s.viewOf(ds), nil
}

// Undo steps the document back one snapshot.
func (s *Service) Undo(documentID string) (DocumentView, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	if err := ds.state.Undo(); err != nil {
		return DocumentView{}, err
	}
	s.noteMutation(ds)
	return s.viewOf(ds), nil
}

// Redo steps the document forward one snapshot.
func (s *Service) Redo(documentID string) (DocumentView, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	if err := ds.state.Redo(); err != nil {
		return DocumentView{}, err
	}
	s.noteMutation(ds)
	return s.viewOf(ds), nil
}

// CreateNamedVersion snapshots the document and saves immediately; the
// persister tags the archived commit with the version.
func (s *Service) CreateNamedVersion(ctx context.Context, documentID, name string) (DocumentView, error) {
	if name == "" {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Version name is required", nil)
	}
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	ds.state.CreateSnapshot(name)
	ds.saver.ScheduleSave(ctx, true)
	return s.viewOf(ds), nil
}

// Analyze runs the analysis policy now.
func (s *Service) Analyze(ctx context.Context, documentID string, force bool) (schedule.AnalysisResult, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return schedule.AnalysisResult{}, err
	}
	res, err := ds.analysis.Run(ctx, force)
	if errors.Is(err, schedule.ErrAnalysisInProgress) {
		return schedule.AnalysisResult{}, domainError(http.StatusConflict, "ANALYSIS_IN_PROGRESS", "An analysis is already running", nil)
	}
	return res, err
}

// Issues lists the open document's issues, optionally filtered.
func (s *Service) Issues(documentID, severity, paragraphID string) ([]issue.Issue, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return nil, err
	}

	var issues []issue.Issue
	if paragraphID != "" {
		issues = ds.state.IssuesForParagraph(paragraphID)
	} else {
		issues = ds.state.AllIssues()
	}
	if severity == "" {
		return issues, nil
	}
	filtered := issues[:0]
	for _, is := range issues {
		if string(is.Severity) == severity {
			filtered = append(filtered, is)
		}
	}
	return filtered, nil
}

// ApplyFix runs the automated fix for one issue inside a transaction and
// removes the issue on success. Re-entrant calls are rejected while a fix
// is in flight.
func (s *Service) ApplyFix(ctx context.Context, documentID, issueID string) (DocumentView, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	if s.fixer == nil {
		return DocumentView{}, domainError(http.StatusServiceUnavailable, "FIXER_UNAVAILABLE", "Automated fixes are not configured", nil)
	}

	ds.mu.Lock()
	if ds.isApplyingFix {
		ds.mu.Unlock()
		return DocumentView{}, domainError(http.StatusConflict, "FIX_IN_PROGRESS", "Another fix is being applied", nil)
	}
	ds.isApplyingFix = true
	ds.mu.Unlock()
	defer func() {
		ds.mu.Lock()
		ds.isApplyingFix = false
		ds.mu.Unlock()
	}()

	is, err := ds.state.Issue(issueID)
	if err != nil {
		return DocumentView{}, err
	}
	if !is.HasFix {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "NOT_FIXABLE", "Issue has no automated fix", map[string]any{"issueId": issueID})
	}
	if is.ParagraphID == "" {
		// Document-level issues have no target paragraph to rewrite.
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "DOCUMENT_LEVEL_FIX", "Document-level issues cannot be fixed automatically", map[string]any{"issueId": issueID})
	}

	result, err := s.fixer(ctx, ds.state.SnapshotView(), is)
	if err != nil {
		return DocumentView{}, fmt.Errorf("apply fix %s: %w", issueID, err)
	}

	tx := ds.state.NewTransaction("fix " + is.Category)
	if err := tx.UpdateParagraph(is.ParagraphID, document.ParagraphUpdate{Text: &result.NewText}); err != nil {
		tx.Rollback()
		return DocumentView{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentView{}, err
	}

	// The text change already invalidated the paragraph's issues; drop the
	// fixed issue from search too.
	if s.search != nil {
		s.search.DeleteIssue(issueID)
	}
	ds.events.Emit(event.TopicIssueResolved, issueID)

	s.checkpoint(ds, "fix "+is.Category)
	s.noteMutation(ds)
	return s.viewOf(ds), nil
}

// SaveNow persists immediately, bypassing the debounce timer.
func (s *Service) SaveNow(ctx context.Context, documentID string) (SaveState, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return SaveState{}, err
	}
	ds.saver.ScheduleSave(ctx, true)
	return s.saveState(ds), nil
}

// SaveState is the persistence status surfaced to the editor.
type SaveState struct {
	Status    string     `json:"status"`
	LastSaved *time.Time `json:"lastSaved,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func (s *Service) saveState(ds *documentSession) SaveState {
	st := SaveState{Status: string(ds.saver.Status())}
	if t := ds.saver.LastSaved(); !t.IsZero() {
		st.LastSaved = &t
	}
	if err := ds.saver.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// SaveStatus reports the current persistence state.
func (s *Service) SaveStatus(documentID string) (SaveState, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return SaveState{}, err
	}
	return s.saveState(ds), nil
}

// History aggregates persisted revisions, the in-memory change log, and the
// git archive history.
type History struct {
	Revisions []store.Revision          `json:"revisions"`
	ChangeLog []document.ChangeLogEntry `json:"changeLog"`
	Archive   []gitarchive.CommitInfo   `json:"archive,omitempty"`
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (History, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return History{}, err
	}

	revs, err := s.store.ListRevisions(ctx, documentID, limit)
	if err != nil {
		return History{}, err
	}
	h := History{
		Revisions: revs,
		ChangeLog: ds.state.ChangeLog(),
	}
	if s.archive != nil {
		commits, err := s.archive.History(documentID, limit)
		if err != nil {
			log.Printf("app: archive history %s: %v", documentID, err)
		} else {
			h.Archive = commits
		}
	}
	return h, nil
}

// Report renders the compliance report for an open document.
func (s *Service) Report(documentID, format string, includeIssues bool) (*export.Result, error) {
	ds, err := s.sessionFor(documentID)
	if err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Report export is not configured", nil)
	}
	res, err := s.exporter.Export(ds.state.SnapshotView(), string(ds.saver.Status()), export.Request{
		DocumentID:    documentID,
		Format:        export.Format(format),
		IncludeIssues: includeIssues,
	})
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION", "Unsupported report format", map[string]any{"format": format})
	}
	return res, err
}

// SearchIssues queries the search facade.
func (s *Service) SearchIssues(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Ping verifies the persistence backend is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Shutdown flushes every open session. Called on process exit.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*documentSession, 0, len(s.sessions))
	for _, ds := range s.sessions {
		sessions = append(sessions, ds)
	}
	s.mu.Unlock()

	for _, ds := range sessions {
		ds.analysis.Cancel()
		ds.saver.Flush(ctx)
		ds.cancel()
	}
}
