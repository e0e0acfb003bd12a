package document

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"redline/api/internal/issue"
	"redline/api/internal/util"
)

var (
	// ErrParagraphNotFound indicates a referenced paragraph id does not exist.
	ErrParagraphNotFound = errors.New("document: paragraph not found")
	// ErrSnapshotNotFound indicates a referenced snapshot id does not exist.
	ErrSnapshotNotFound = errors.New("document: snapshot not found")
	// ErrIssueNotFound indicates a referenced issue id does not exist.
	ErrIssueNotFound = errors.New("document: issue not found")
	// ErrValidation indicates malformed input to a mutation.
	ErrValidation = errors.New("document: validation failed")
	// ErrNothingToUndo indicates the history holds no earlier state.
	ErrNothingToUndo = errors.New("document: nothing to undo")
	// ErrNothingToRedo indicates the history holds no later state.
	ErrNothingToRedo = errors.New("document: nothing to redo")
	// ErrStaleAnalysis indicates analysis results were computed against an
	// older document version and were discarded.
	ErrStaleAnalysis = errors.New("document: analysis results stale")
)

const (
	maxSnapshots = 50
	maxChangeLog = 200
)

// Snapshot is an immutable deep copy of document content at a point in time.
// Restoring it reproduces paragraphs, order, issues, and version exactly.
type Snapshot struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	DocumentID  string        `json:"documentId"`
	Title       string        `json:"title"`
	Paragraphs  []Paragraph   `json:"paragraphs"`
	Issues      []issue.Issue `json:"issues"`
	Version     int           `json:"version"`
	TakenAt     time.Time     `json:"takenAt"`
}

// ChangeLogEntry summarizes one committed transaction.
type ChangeLogEntry struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Operations  int       `json:"operations"`
	Version     int       `json:"version"`
	LoggedAt    time.Time `json:"loggedAt"`
}

// State is the owned arena for one document. It is the single writer for
// paragraph and issue data; every other component works with ids and calls
// back through this API.
type State struct {
	mu sync.Mutex

	id    string
	title string

	paragraphs map[string]*Paragraph
	order      []string
	issues     *issue.Tracker

	// Opaque metadata passed through to the analyzer, never interpreted.
	formatting map[string]any
	structure  map[string]any
	styles     map[string]any

	version      int
	lastModified time.Time

	history    []Snapshot
	historyPos int

	changeLog []ChangeLogEntry
}

func NewState(id, title string) *State {
	return &State{
		id:         id,
		title:      title,
		paragraphs: make(map[string]*Paragraph),
		issues:     issue.NewTracker(),
		historyPos: -1,
	}
}

// Seed loads the converted upload result as the initial content and sets
// version 1.
func (s *State) Seed(paragraphs []Paragraph, formatting, structure, styles map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paragraphs = make(map[string]*Paragraph, len(paragraphs))
	s.order = make([]string, 0, len(paragraphs))
	now := time.Now()
	for i := range paragraphs {
		p := paragraphs[i]
		if p.ID == "" {
			p.ID = util.NewID("par")
		}
		p.Index = i
		if p.LastModified.IsZero() {
			p.LastModified = now
		}
		s.paragraphs[p.ID] = cloneParagraph(&p)
		s.order = append(s.order, p.ID)
	}
	s.formatting = formatting
	s.structure = structure
	s.styles = styles
	s.version = 1
	s.lastModified = now
}

func (s *State) ID() string {
	return s.id
}

func (s *State) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *State) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// SetVersion overrides the version counter. Used when loading a persisted
// revision so subsequent commits continue the stored sequence.
func (s *State) SetVersion(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > 0 {
		s.version = v
	}
}

func (s *State) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

// Metadata returns the opaque formatting/structure/styles blobs for the
// analyzer boundary.
func (s *State) Metadata() (formatting, structure, styles map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formatting, s.structure, s.styles
}

// Paragraph returns a copy of one paragraph.
func (s *State) Paragraph(id string) (Paragraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paragraphs[id]
	if !ok {
		return Paragraph{}, fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	return *cloneParagraph(p), nil
}

// Paragraphs returns copies of all paragraphs in document order.
func (s *State) Paragraphs() []Paragraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paragraphsLocked()
}

func (s *State) paragraphsLocked() []Paragraph {
	out := make([]Paragraph, 0, len(s.order))
	for i, id := range s.order {
		p := cloneParagraph(s.paragraphs[id])
		p.Index = i
		out = append(out, *p)
	}
	return out
}

func (s *State) ParagraphCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// UpdateParagraph applies a partial edit outside any transaction. It reports
// whether anything actually changed; no-op edits do not bump the change
// sequence or timestamps. A text change invalidates the paragraph's issues.
// Direct mutation does not advance the document version.
func (s *State) UpdateParagraph(id string, upd ParagraphUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, _, err := s.updateParagraphLocked(id, upd)
	return changed, err
}

// updateParagraphLocked returns the pre-edit copy for rollback recording.
func (s *State) updateParagraphLocked(id string, upd ParagraphUpdate) (bool, *Paragraph, error) {
	p, ok := s.paragraphs[id]
	if !ok {
		return false, nil, fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	prior := cloneParagraph(p)

	changed := false
	textChanged := false
	if upd.Text != nil && *upd.Text != p.Text {
		p.Text = *upd.Text
		changed = true
		textChanged = true
	}
	if upd.Runs != nil && !runsEqual(upd.Runs, p.Runs) {
		p.Runs = make([]Run, len(upd.Runs))
		copy(p.Runs, upd.Runs)
		changed = true
	}
	if upd.Formatting != nil && *upd.Formatting != p.Formatting {
		p.Formatting = *upd.Formatting
		changed = true
	}
	if !changed {
		return false, prior, nil
	}

	now := time.Now()
	p.ChangeSeq++
	p.LastModified = now
	s.lastModified = now
	if textChanged {
		s.issues.InvalidateParagraph(id)
	}
	return true, prior, nil
}

func (s *State) addParagraphLocked(p Paragraph, at int) error {
	if p.ID == "" {
		return fmt.Errorf("%w: paragraph id required", ErrValidation)
	}
	if _, exists := s.paragraphs[p.ID]; exists {
		return fmt.Errorf("%w: duplicate paragraph id %s", ErrValidation, p.ID)
	}
	if at < 0 || at > len(s.order) {
		at = len(s.order)
	}
	now := time.Now()
	p.LastModified = now
	s.paragraphs[p.ID] = cloneParagraph(&p)
	s.order = append(s.order, "")
	copy(s.order[at+1:], s.order[at:])
	s.order[at] = p.ID
	s.reindexLocked()
	s.lastModified = now
	return nil
}

func (s *State) removeParagraphLocked(id string) (*Paragraph, int, error) {
	p, ok := s.paragraphs[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	at := -1
	for i, oid := range s.order {
		if oid == id {
			at = i
			break
		}
	}
	removed := cloneParagraph(p)
	delete(s.paragraphs, id)
	s.order = append(s.order[:at], s.order[at+1:]...)
	s.reindexLocked()
	s.issues.InvalidateParagraph(id)
	s.lastModified = time.Now()
	return removed, at, nil
}

// moveParagraphLocked repositions a paragraph within the order. Moving does
// not invalidate issues; the text is unchanged.
func (s *State) moveParagraphLocked(id string, to int) error {
	p, ok := s.paragraphs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	from := -1
	for i, oid := range s.order {
		if oid == id {
			from = i
			break
		}
	}
	if to < 0 {
		to = 0
	}
	if to >= len(s.order) {
		to = len(s.order) - 1
	}
	if from == to {
		return nil
	}
	s.order = append(s.order[:from], s.order[from+1:]...)
	s.order = append(s.order, "")
	copy(s.order[to+1:], s.order[to:])
	s.order[to] = id
	s.reindexLocked()
	now := time.Now()
	p.ChangeSeq++
	p.LastModified = now
	s.lastModified = now
	return nil
}

func (s *State) restoreParagraphLocked(p *Paragraph) {
	s.paragraphs[p.ID] = cloneParagraph(p)
}

func (s *State) reindexLocked() {
	for i, id := range s.order {
		s.paragraphs[id].Index = i
	}
}

// ChangedParagraphs returns copies of every paragraph modified after the
// given instant, in document order. This drives incremental analysis.
func (s *State) ChangedParagraphs(since time.Time) []Paragraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Paragraph, 0)
	for i, id := range s.order {
		p := s.paragraphs[id]
		if p.LastModified.After(since) {
			c := cloneParagraph(p)
			c.Index = i
			out = append(out, *c)
		}
	}
	return out
}

// --- issues ---

func (s *State) AddIssue(is issue.Issue) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.Add(is)
}

func (s *State) RemoveIssue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.issues.Remove(id) {
		return fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	return nil
}

func (s *State) Issue(id string) (issue.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues.Get(id)
	if !ok {
		return issue.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	return is, nil
}

func (s *State) IssuesForParagraph(id string) []issue.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.ForParagraph(id)
}

func (s *State) AllIssues() []issue.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.All()
}

func (s *State) IssueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.Len()
}

// MergeAnalysis folds analyzer results into the tracker, but only if the
// document still sits at the version the analysis was computed against. A
// slow analysis finishing after newer edits must not clobber their issue
// state; stale results are discarded with ErrStaleAnalysis.
func (s *State) MergeAnalysis(capturedVersion int, changed []string, fresh []issue.Issue, full bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != capturedVersion {
		return fmt.Errorf("%w: computed at v%d, document at v%d", ErrStaleAnalysis, capturedVersion, s.version)
	}
	if full {
		s.issues.ReplaceAll(fresh)
		return nil
	}
	changedSet := make(map[string]struct{}, len(changed))
	for _, id := range changed {
		changedSet[id] = struct{}{}
	}
	s.issues.Merge(changedSet, fresh, false)
	return nil
}

// --- snapshots and history ---

// SnapshotView returns a deep copy of the current state without touching the
// history. Used for analysis and persistence.
func (s *State) SnapshotView() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

func (s *State) snapshotLocked(description string) Snapshot {
	return Snapshot{
		ID:          util.NewID("snap"),
		Description: description,
		DocumentID:  s.id,
		Title:       s.title,
		Paragraphs:  s.paragraphsLocked(),
		Issues:      s.issues.Export(),
		Version:     s.version,
		TakenAt:     time.Now(),
	}
}

// CreateSnapshot appends a deep copy of the current state to the bounded
// history and returns the snapshot id. Creating a snapshot while the history
// position is not at the end discards the redo tail, matching standard
// editor undo semantics.
func (s *State) CreateSnapshot(description string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.historyPos < len(s.history)-1 {
		s.history = s.history[:s.historyPos+1]
	}
	snap := s.snapshotLocked(description)
	s.history = append(s.history, snap)
	if len(s.history) > maxSnapshots {
		trim := len(s.history) - maxSnapshots
		s.history = s.history[trim:]
	}
	s.historyPos = len(s.history) - 1
	return snap.ID
}

// SnapshotByID looks a snapshot up in the history.
func (s *State) SnapshotByID(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.history {
		if snap.ID == id {
			return snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
}

// RestoreFromSnapshot replaces paragraphs, order, issues, and version with
// the snapshot's copies. It does not advance the version; the caller decides
// whether a restore counts as a new version.
func (s *State) RestoreFromSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(snap)
}

func (s *State) restoreLocked(snap Snapshot) {
	s.paragraphs = make(map[string]*Paragraph, len(snap.Paragraphs))
	s.order = make([]string, 0, len(snap.Paragraphs))
	for i := range snap.Paragraphs {
		p := cloneParagraph(&snap.Paragraphs[i])
		p.Index = i
		s.paragraphs[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.issues.Restore(snap.Issues)
	s.version = snap.Version
	s.lastModified = time.Now()
}

// Undo steps back one snapshot. If the live state has drifted past the
// newest snapshot, it is first captured as a redo checkpoint so the undo can
// itself be undone.
func (s *State) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 || s.historyPos < 0 {
		return ErrNothingToUndo
	}
	if s.historyPos == len(s.history)-1 && !s.matchesSnapshotLocked(s.history[s.historyPos]) {
		s.history = append(s.history, s.snapshotLocked("unsaved edits"))
		s.restoreLocked(s.history[s.historyPos])
		return nil
	}
	if s.historyPos == 0 {
		return ErrNothingToUndo
	}
	s.historyPos--
	s.restoreLocked(s.history[s.historyPos])
	return nil
}

// Redo steps forward one snapshot.
func (s *State) Redo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.historyPos >= len(s.history)-1 {
		return ErrNothingToRedo
	}
	s.historyPos++
	s.restoreLocked(s.history[s.historyPos])
	return nil
}

func (s *State) matchesSnapshotLocked(snap Snapshot) bool {
	if s.version != snap.Version || len(s.order) != len(snap.Paragraphs) {
		return false
	}
	current := s.paragraphsLocked()
	if !reflect.DeepEqual(current, snap.Paragraphs) {
		return false
	}
	return reflect.DeepEqual(s.issues.Export(), snap.Issues)
}

// HistoryLen reports how many snapshots the history holds.
func (s *State) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// --- change log ---

func (s *State) bumpVersionLocked(description string, operations int) {
	s.version++
	s.lastModified = time.Now()
	s.changeLog = append(s.changeLog, ChangeLogEntry{
		ID:          util.NewID("chg"),
		Description: description,
		Operations:  operations,
		Version:     s.version,
		LoggedAt:    s.lastModified,
	})
	if len(s.changeLog) > maxChangeLog {
		s.changeLog = s.changeLog[len(s.changeLog)-maxChangeLog:]
	}
}

// ChangeLog returns committed-transaction summaries, newest first.
func (s *State) ChangeLog() []ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChangeLogEntry, len(s.changeLog))
	for i, entry := range s.changeLog {
		out[len(s.changeLog)-1-i] = entry
	}
	return out
}
