// Package issue stores detected style-compliance issues keyed by id, with an
// index from paragraph id to the issues attached to it. The tracker is owned
// by the document state and must only be touched through it; it carries no
// locking of its own.
package issue

import (
	"sort"
	"time"

	"redline/api/internal/util"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityMajor:    1,
	SeverityMinor:    2,
}

// Location pins an issue to a character range for precise highlighting.
type Location struct {
	ParagraphIndex int `json:"paragraphIndex"`
	Offset         int `json:"offset"`
	Length         int `json:"length"`
}

// Issue is one detected rule violation. ParagraphID is empty for
// document-level issues. FixAction names the automated fix consumed by the
// fix-application collaborator; it is opaque to the tracker.
type Issue struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Category    string    `json:"category"`
	Message     string    `json:"message"`
	ParagraphID string    `json:"paragraphId,omitempty"`
	HasFix      bool      `json:"hasFix"`
	FixAction   string    `json:"fixAction,omitempty"`
	Location    *Location `json:"location,omitempty"`
	DetectedAt  time.Time `json:"detectedAt"`
}

func cloneIssue(is Issue) Issue {
	out := is
	if is.Location != nil {
		loc := *is.Location
		out.Location = &loc
	}
	return out
}

// Tracker holds the current issue set for one document.
type Tracker struct {
	issues      map[string]Issue
	byParagraph map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		issues:      make(map[string]Issue),
		byParagraph: make(map[string]map[string]struct{}),
	}
}

// Add stores an issue, generating an id when the analyzer did not supply
// one, and returns the stored id.
func (t *Tracker) Add(is Issue) string {
	if is.ID == "" {
		is.ID = util.NewID("iss")
	}
	if is.DetectedAt.IsZero() {
		is.DetectedAt = time.Now()
	}
	if prior, ok := t.issues[is.ID]; ok && prior.ParagraphID != is.ParagraphID {
		t.unindex(prior)
	}
	t.issues[is.ID] = cloneIssue(is)
	if is.ParagraphID != "" {
		set, ok := t.byParagraph[is.ParagraphID]
		if !ok {
			set = make(map[string]struct{})
			t.byParagraph[is.ParagraphID] = set
		}
		set[is.ID] = struct{}{}
	}
	return is.ID
}

// Remove deletes a single issue, reporting whether it existed.
func (t *Tracker) Remove(id string) bool {
	is, ok := t.issues[id]
	if !ok {
		return false
	}
	delete(t.issues, id)
	t.unindex(is)
	return true
}

func (t *Tracker) unindex(is Issue) {
	if is.ParagraphID == "" {
		return
	}
	if set, ok := t.byParagraph[is.ParagraphID]; ok {
		delete(set, is.ID)
		if len(set) == 0 {
			delete(t.byParagraph, is.ParagraphID)
		}
	}
}

// InvalidateParagraph removes every issue attached to the paragraph and
// returns how many were dropped. Called whenever a paragraph's text changes,
// so stale issues never survive an edit to their source paragraph.
func (t *Tracker) InvalidateParagraph(paragraphID string) int {
	set, ok := t.byParagraph[paragraphID]
	if !ok {
		return 0
	}
	dropped := len(set)
	for id := range set {
		delete(t.issues, id)
	}
	delete(t.byParagraph, paragraphID)
	return dropped
}

// Get returns one issue by id.
func (t *Tracker) Get(id string) (Issue, bool) {
	is, ok := t.issues[id]
	if !ok {
		return Issue{}, false
	}
	return cloneIssue(is), true
}

// ForParagraph returns the issues attached to one paragraph, most severe
// first.
func (t *Tracker) ForParagraph(paragraphID string) []Issue {
	set, ok := t.byParagraph[paragraphID]
	if !ok {
		return []Issue{}
	}
	out := make([]Issue, 0, len(set))
	for id := range set {
		out = append(out, cloneIssue(t.issues[id]))
	}
	sortIssues(out)
	return out
}

// All returns every issue, most severe first.
func (t *Tracker) All() []Issue {
	out := make([]Issue, 0, len(t.issues))
	for _, is := range t.issues {
		out = append(out, cloneIssue(is))
	}
	sortIssues(out)
	return out
}

// Len reports the number of stored issues.
func (t *Tracker) Len() int {
	return len(t.issues)
}

// Merge applies the incremental-analysis policy: issues attached to changed
// paragraphs are dropped, the analyzer's fresh issues are added, and issues
// for unchanged paragraphs survive untouched. Document-level issues are
// refreshed only when refreshDocLevel is set (full analysis).
func (t *Tracker) Merge(changed map[string]struct{}, fresh []Issue, refreshDocLevel bool) {
	for pid := range changed {
		t.InvalidateParagraph(pid)
	}
	if refreshDocLevel {
		for id, is := range t.issues {
			if is.ParagraphID == "" {
				delete(t.issues, id)
			}
		}
	}
	for _, is := range fresh {
		t.Add(is)
	}
}

// ReplaceAll swaps the entire issue set, used after a full analysis.
func (t *Tracker) ReplaceAll(fresh []Issue) {
	t.issues = make(map[string]Issue, len(fresh))
	t.byParagraph = make(map[string]map[string]struct{})
	for _, is := range fresh {
		t.Add(is)
	}
}

// Export returns a deep copy of the issue set for snapshotting.
func (t *Tracker) Export() []Issue {
	out := make([]Issue, 0, len(t.issues))
	for _, is := range t.issues {
		out = append(out, cloneIssue(is))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the issue set from a snapshot export.
func (t *Tracker) Restore(issues []Issue) {
	t.ReplaceAll(issues)
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := severityRank[issues[i].Severity], severityRank[issues[j].Severity]
		if ri != rj {
			return ri < rj
		}
		if issues[i].ParagraphID != issues[j].ParagraphID {
			return issues[i].ParagraphID < issues[j].ParagraphID
		}
		return issues[i].ID < issues[j].ID
	})
}
