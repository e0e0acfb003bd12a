package schedule

import (
	"context"
	"log"
	"sync"
	"time"

	"redline/api/internal/document"
	"redline/api/internal/event"
)

// SaveStatus is the persistence state machine.
type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusSaving  SaveStatus = "saving"
	StatusUnsaved SaveStatus = "unsaved"
	StatusError   SaveStatus = "error"
)

// Persister writes a snapshot to durable storage and reports when it was
// saved. It is the only collaborator the save scheduler talks to.
type Persister func(ctx context.Context, snap document.Snapshot) (time.Time, error)

// followUpDelay is the short gap between a successful save and the
// incremental analysis it triggers.
const followUpDelay = 500 * time.Millisecond

// SaveScheduler debounces persistence. Mutations flip the status to unsaved
// synchronously; the actual save runs behind a single replaceable timer. A
// save requested while one is in flight is coalesced into one trailing
// re-run. A failed save records the error as state, never as a panic or an
// unhandled propagation, and the in-memory content is untouched.
type SaveScheduler struct {
	state    *document.State
	persist  Persister
	events   *event.Emitter
	analysis *AnalysisScheduler
	debounce time.Duration
	slot     Slot

	mu        sync.Mutex
	status    SaveStatus
	lastSaved time.Time
	lastErr   error
	isSaving  bool
	pending   bool
}

func NewSaveScheduler(state *document.State, persist Persister, events *event.Emitter, analysis *AnalysisScheduler, debounce time.Duration) *SaveScheduler {
	return &SaveScheduler{
		state:    state,
		persist:  persist,
		events:   events,
		analysis: analysis,
		debounce: debounce,
		status:   StatusSaved,
	}
}

// MarkDirty records that the document has unsaved edits. Called on every
// mutation before any save is scheduled.
func (s *SaveScheduler) MarkDirty() {
	s.mu.Lock()
	if s.status != StatusSaving {
		s.setStatusLocked(StatusUnsaved)
	} else {
		// A save is mid-flight; remember that its result is already out
		// of date.
		s.pending = true
	}
	s.mu.Unlock()
}

// ScheduleSave requests persistence. immediate bypasses the debounce timer
// (explicit user saves); otherwise the pending timer, if any, is replaced.
func (s *SaveScheduler) ScheduleSave(ctx context.Context, immediate bool) {
	if immediate {
		s.slot.Cancel()
		s.runSave(ctx)
		return
	}
	s.slot.Schedule(s.debounce, func() {
		s.runSave(ctx)
	})
}

// Flush cancels any pending timer and saves now if there is anything
// unsaved. Used on shutdown.
func (s *SaveScheduler) Flush(ctx context.Context) {
	s.slot.Cancel()
	s.mu.Lock()
	dirty := s.status == StatusUnsaved || s.status == StatusError
	s.mu.Unlock()
	if dirty {
		s.runSave(ctx)
	}
}

func (s *SaveScheduler) runSave(ctx context.Context) {
	s.mu.Lock()
	if s.isSaving {
		// Coalesce: the in-flight save re-runs once when it finishes.
		s.pending = true
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.isSaving = true
	s.setStatusLocked(StatusSaving)
	s.mu.Unlock()

	snap := s.state.SnapshotView()

	var savedAt time.Time
	err := ctx.Err()
	if err == nil {
		savedAt, err = s.persist(ctx, snap)
	}

	s.mu.Lock()
	s.isSaving = false
	rerun := s.pending
	s.pending = false
	switch {
	case err != nil && ctx.Err() != nil:
		// Cancelled: not saved, but not an error worth surfacing either.
		s.setStatusLocked(StatusUnsaved)
	case err != nil:
		log.Printf("schedule: save failed for %s: %v", snap.DocumentID, err)
		s.lastErr = err
		s.setStatusLocked(StatusError)
	case rerun:
		// Edits landed while saving; what we persisted is already stale.
		s.setStatusLocked(StatusUnsaved)
		s.lastSaved = savedAt
		s.lastErr = nil
	default:
		s.lastSaved = savedAt
		s.lastErr = nil
		s.setStatusLocked(StatusSaved)
	}
	s.mu.Unlock()

	if err == nil && s.analysis != nil {
		// A persisted edit must be reflected in issue state shortly after.
		s.analysis.ScheduleAfter(ctx, followUpDelay)
	}
	if rerun {
		s.slot.Schedule(s.debounce, func() {
			s.runSave(ctx)
		})
	}
}

func (s *SaveScheduler) setStatusLocked(st SaveStatus) {
	if s.status == st {
		return
	}
	s.status = st
	if s.events != nil {
		s.events.Emit(event.TopicSaveStateChange, string(st))
	}
}

// Status returns the current persistence state.
func (s *SaveScheduler) Status() SaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastSaved reports the timestamp of the most recent successful save.
func (s *SaveScheduler) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// LastError reports the error from the most recent failed save, if the
// scheduler is in the error state.
func (s *SaveScheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
