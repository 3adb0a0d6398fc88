package store

import (
	"errors"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// ErrTxClosed indicates a write through an already committed or rolled back
// transaction.
var ErrTxClosed = errors.New("transaction already closed")

// undoLog records inverse operations at write time. On rollback the log is
// replayed in reverse: inserted rows removed, updated rows restored to their
// prior values, deleted rows reinserted. Inverse operations identify rows by
// primary key rather than frame position, so replay touches only the
// transaction's own writes even when other runs committed to the same frame
// while the transaction was open.
type undoLog struct {
	ops []func()
}

func (u *undoLog) record(op func()) {
	u.ops = append(u.ops, op)
}

func (u *undoLog) replay() {
	for i := len(u.ops) - 1; i >= 0; i-- {
		u.ops[i]()
	}
	u.ops = nil
}

// Tx tracks every write made through it so the whole set can be reverted.
//
// Tx is not a concurrency mechanism: each individual write still serializes
// on the store mutex, and rollback replays the undo log under one lock
// acquisition. One transaction belongs to one flow run.
type Tx struct {
	store  *Store
	undo   undoLog
	closed bool
}

// Begin starts a transaction over the store.
func (s *Store) Begin() *Tx {
	return &Tx{store: s}
}

// Create writes one row through the transaction.
func (t *Tx) Create(record string, values Row) (Row, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rows, err := t.store.createLocked(record, []Row{values}, &t.undo)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// CreateMany writes a batch through the transaction, all-or-nothing.
func (t *Tx) CreateMany(record string, rows []Row) ([]Row, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.createLocked(record, rows, &t.undo)
}

// Update patches matching rows through the transaction.
func (t *Tx) Update(record string, where *ir.Condition, patch Row) ([]Row, error) {
	if t.closed {
		return nil, ErrTxClosed
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.updateLocked(record, where, patch, &t.undo)
}

// Delete removes matching rows through the transaction.
func (t *Tx) Delete(record string, where *ir.Condition) (int, error) {
	if t.closed {
		return 0, ErrTxClosed
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	removed, err := t.store.deleteLocked(record, where, &t.undo)
	return len(removed), err
}

// Commit discards the undo log, making the writes permanent.
func (t *Tx) Commit() {
	t.closed = true
	t.undo.ops = nil
}

// Rollback reverts every tracked write in reverse order.
func (t *Tx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.undo.replay()
}
