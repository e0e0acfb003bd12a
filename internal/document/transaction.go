package document

import (
	"errors"
	"fmt"

	"redline/api/internal/util"
)

var (
	// ErrTransactionClosed indicates a commit or staging call on a
	// transaction that already committed or rolled back.
	ErrTransactionClosed = errors.New("document: transaction closed")
)

// TransactionError wraps a failure during commit. Commit automatically rolls
// back before returning one of these, so the document is never observed in a
// partially-applied state.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

type txStatus int

const (
	txOpen txStatus = iota
	txCommitted
	txRolledBack
)

// stagedOp pairs an operation with the rollback closure recorded when it was
// staged. Rollback data is captured at stage time so each operation can undo
// itself in isolation.
type stagedOp struct {
	name     string
	apply    func() error
	rollback func()
}

// Transaction stages multiple mutations against a State and commits them
// atomically. Transactions are terminal: once committed or rolled back they
// reject further use.
type Transaction struct {
	id          string
	state       *State
	description string
	status      txStatus
	ops         []stagedOp
}

// NewTransaction opens a transaction against the state.
func (s *State) NewTransaction(description string) *Transaction {
	return &Transaction{
		id:          util.NewID("txn"),
		state:       s,
		description: description,
	}
}

func (t *Transaction) ID() string {
	return t.id
}

// UpdateParagraph stages a partial edit. The pre-edit paragraph is recorded
// now so rollback restores text, formatting, sequence, and timestamp.
func (t *Transaction) UpdateParagraph(id string, upd ParagraphUpdate) error {
	if t.status != txOpen {
		return ErrTransactionClosed
	}
	s := t.state

	s.mu.Lock()
	p, ok := s.paragraphs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	prior := cloneParagraph(p)
	s.mu.Unlock()

	t.ops = append(t.ops, stagedOp{
		name: "update " + id,
		apply: func() error {
			_, _, err := s.updateParagraphLocked(id, upd)
			return err
		},
		rollback: func() {
			if current, ok := s.paragraphs[id]; ok {
				*current = *cloneParagraph(prior)
			}
		},
	})
	return nil
}

// AddParagraph stages an insertion at the given position (append when out of
// range). Rollback removes the paragraph again.
func (t *Transaction) AddParagraph(p Paragraph, at int) error {
	if t.status != txOpen {
		return ErrTransactionClosed
	}
	if p.ID == "" {
		p.ID = util.NewID("par")
	}
	s := t.state
	id := p.ID

	t.ops = append(t.ops, stagedOp{
		name: "add " + id,
		apply: func() error {
			return s.addParagraphLocked(p, at)
		},
		rollback: func() {
			_, _, _ = s.removeParagraphLocked(id)
		},
	})
	return nil
}

// RemoveParagraph stages a removal. The paragraph's content and position are
// recorded at stage time so rollback can reinsert it where it was.
func (t *Transaction) RemoveParagraph(id string) error {
	if t.status != txOpen {
		return ErrTransactionClosed
	}
	s := t.state

	s.mu.Lock()
	p, ok := s.paragraphs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}
	prior := cloneParagraph(p)
	priorAt := -1
	for i, oid := range s.order {
		if oid == id {
			priorAt = i
			break
		}
	}
	s.mu.Unlock()

	t.ops = append(t.ops, stagedOp{
		name: "remove " + id,
		apply: func() error {
			_, _, err := s.removeParagraphLocked(id)
			return err
		},
		rollback: func() {
			_ = s.addParagraphLocked(*prior, priorAt)
			if restored, ok := s.paragraphs[id]; ok {
				restored.ChangeSeq = prior.ChangeSeq
				restored.LastModified = prior.LastModified
			}
		},
	})
	return nil
}

// MoveParagraph stages a reposition. The prior position is recorded at
// stage time so rollback moves the paragraph back.
func (t *Transaction) MoveParagraph(id string, to int) error {
	if t.status != txOpen {
		return ErrTransactionClosed
	}
	s := t.state

	s.mu.Lock()
	priorAt := -1
	for i, oid := range s.order {
		if oid == id {
			priorAt = i
			break
		}
	}
	s.mu.Unlock()
	if priorAt < 0 {
		return fmt.Errorf("%w: %s", ErrParagraphNotFound, id)
	}

	t.ops = append(t.ops, stagedOp{
		name: "move " + id,
		apply: func() error {
			return s.moveParagraphLocked(id, to)
		},
		rollback: func() {
			_ = s.moveParagraphLocked(id, priorAt)
		},
	})
	return nil
}

// Len reports the number of staged operations.
func (t *Transaction) Len() int {
	return len(t.ops)
}

// Commit executes the staged operations in insertion order under the
// document lock. Any error rolls back the already-executed operations in
// reverse order and the error is re-raised wrapped in a TransactionError.
// On success the version advances exactly once and a single change-log entry
// summarizes the whole transaction.
func (t *Transaction) Commit() error {
	if t.status != txOpen {
		return ErrTransactionClosed
	}
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	// Issue state can be invalidated by staged edits; keep a copy so a
	// failed commit restores it along with the paragraphs.
	issuesBefore := s.issues.Export()
	modifiedBefore := s.lastModified

	for i, op := range t.ops {
		if err := op.apply(); err != nil {
			for j := i - 1; j >= 0; j-- {
				t.ops[j].rollback()
			}
			s.reindexLocked()
			s.issues.Restore(issuesBefore)
			s.lastModified = modifiedBefore
			t.status = txRolledBack
			return &TransactionError{Op: op.name, Err: err}
		}
	}

	t.status = txCommitted
	s.bumpVersionLocked(t.description, len(t.ops))
	return nil
}

// Rollback closes an open transaction without executing anything; staged
// operations only run at commit, so the state is untouched. Mid-commit
// failures roll back automatically inside Commit. Rollback is idempotent,
// and a committed transaction stays committed (reverting committed work is
// what undo is for).
func (t *Transaction) Rollback() {
	if t.status == txOpen {
		t.status = txRolledBack
	}
}

// Committed reports whether the transaction reached the committed state.
func (t *Transaction) Committed() bool {
	return t.status == txCommitted
}
