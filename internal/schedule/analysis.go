package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"redline/api/internal/document"
	"redline/api/internal/event"
	"redline/api/internal/issue"
)

// ErrAnalysisInProgress is returned when an analysis run is requested while
// another is still executing. Callers retry via the debounce slot rather than
// running two analyses in parallel.
var ErrAnalysisInProgress = errors.New("schedule: analysis already running")

// AnalyzeOptions tells the analyzer how much of the document to inspect. The
// full snapshot is always passed; ChangedParagraphs narrows which paragraphs
// need fresh issues when PreserveUnchanged is set.
type AnalyzeOptions struct {
	Force             bool
	ChangedParagraphs []string
	PreserveUnchanged bool
}

// Analyzer is the rule-validation collaborator. It receives a consistent
// snapshot and returns the issues it found; it never mutates document state.
type Analyzer func(ctx context.Context, snap document.Snapshot, opts AnalyzeOptions) ([]issue.Issue, error)

// AnalysisMode reports which policy branch a run took.
type AnalysisMode string

const (
	ModeFull        AnalysisMode = "full"
	ModeIncremental AnalysisMode = "incremental"
	ModeSkipped     AnalysisMode = "skipped"
	ModeStale       AnalysisMode = "stale"
)

// AnalysisResult summarizes one run.
type AnalysisResult struct {
	Mode   AnalysisMode `json:"mode"`
	Issues int          `json:"issues"`
}

// AnalysisScheduler decides between full and incremental analysis based on
// what changed since the last run, debounces repeated triggers, and merges
// results back into the document guarded by the version captured when the
// run started.
type AnalysisScheduler struct {
	state    *document.State
	analyze  Analyzer
	events   *event.Emitter
	debounce time.Duration
	slot     Slot

	mu          sync.Mutex
	lastRun     time.Time
	isAnalyzing bool
}

func NewAnalysisScheduler(state *document.State, analyze Analyzer, events *event.Emitter, debounce time.Duration) *AnalysisScheduler {
	return &AnalysisScheduler{
		state:    state,
		analyze:  analyze,
		events:   events,
		debounce: debounce,
	}
}

// Schedule queues a debounced incremental run. A schedule call while a timer
// is pending restarts the timer; only one ever waits at a time.
func (a *AnalysisScheduler) Schedule(ctx context.Context) {
	a.ScheduleAfter(ctx, a.debounce)
}

// ScheduleAfter is Schedule with an explicit delay, used for the short
// post-save follow-up run.
func (a *AnalysisScheduler) ScheduleAfter(ctx context.Context, d time.Duration) {
	a.slot.Schedule(d, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.Run(ctx, false); err != nil && !errors.Is(err, ErrAnalysisInProgress) {
			log.Printf("schedule: debounced analysis: %v", err)
		}
	})
}

// Cancel drops any pending debounced run.
func (a *AnalysisScheduler) Cancel() {
	a.slot.Cancel()
}

// Run executes the analysis policy now. First run or force=true means full;
// otherwise the changed-paragraph set since the last run decides between
// incremental and skipped. Analyzer failures degrade to a synthetic issue
// instead of propagating, and results computed against a version the
// document has since moved past are discarded.
func (a *AnalysisScheduler) Run(ctx context.Context, force bool) (AnalysisResult, error) {
	a.mu.Lock()
	if a.isAnalyzing {
		a.mu.Unlock()
		return AnalysisResult{}, ErrAnalysisInProgress
	}
	a.isAnalyzing = true
	last := a.lastRun
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.isAnalyzing = false
		a.mu.Unlock()
	}()

	full := force || last.IsZero()
	var changedIDs []string
	if !full {
		for _, p := range a.state.ChangedParagraphs(last) {
			changedIDs = append(changedIDs, p.ID)
		}
		if len(changedIDs) == 0 {
			return AnalysisResult{Mode: ModeSkipped}, nil
		}
	}

	started := time.Now()
	snap := a.state.SnapshotView()
	capturedVersion := snap.Version

	mode := ModeIncremental
	if full {
		mode = ModeFull
	}
	a.events.Emit(event.TopicAnalysisStarted, string(mode))

	fresh, err := a.analyze(ctx, snap, AnalyzeOptions{
		Force:             force,
		ChangedParagraphs: changedIDs,
		PreserveUnchanged: !full,
	})
	if err != nil {
		log.Printf("schedule: analysis failed for %s: %v", snap.DocumentID, err)
		fresh = []issue.Issue{syntheticFailure(err)}
	}

	mergeErr := a.state.MergeAnalysis(capturedVersion, changedIDs, fresh, full)
	if errors.Is(mergeErr, document.ErrStaleAnalysis) {
		return AnalysisResult{Mode: ModeStale}, nil
	}
	if mergeErr != nil {
		return AnalysisResult{}, fmt.Errorf("merge analysis: %w", mergeErr)
	}

	a.mu.Lock()
	a.lastRun = started
	a.mu.Unlock()

	res := AnalysisResult{Mode: mode, Issues: len(fresh)}
	a.events.Emit(event.TopicAnalysisDone, res)
	return res, nil
}

// LastRun reports when the most recent successful run started.
func (a *AnalysisScheduler) LastRun() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun
}

func syntheticFailure(err error) issue.Issue {
	return issue.Issue{
		Severity:   issue.SeverityMajor,
		Category:   "analysis",
		Message:    "analysis failed: " + err.Error(),
		DetectedAt: time.Now(),
	}
}
