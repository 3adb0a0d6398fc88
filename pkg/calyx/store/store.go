// Package store implements the in-memory, insertion-order-preserving record
// store backing Calyx frames.
//
// A Store owns every frame for the lifetime of a runtime instance. Writes are
// schema-checked against the declaring record: defaults are filled, required
// fields enforced, values coerced to the declared type, then primary-key,
// unique (global and scoped), and foreign-key constraints verified before
// anything is committed. A violation anywhere in a multi-row write aborts the
// entire operation.
//
// All operations serialize on a store-wide mutex, so a bulk batch or a
// transaction's rollback can never interleave with writes from a concurrent
// run.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/calyxlang/calyx/pkg/calyx/expr"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// Row is one frame row. The alias keeps rows interchangeable with the plain
// maps flowing through FlowState.
type Row = map[string]any

// Writer is the mutation surface shared by the Store and a Tx, letting the
// step interpreter write through either without caring which.
type Writer interface {
	Create(record string, values Row) (Row, error)
	CreateMany(record string, rows []Row) ([]Row, error)
	Update(record string, where *ir.Condition, patch Row) ([]Row, error)
	Delete(record string, where *ir.Condition) (int, error)
}

// Store is the process-wide frame owner.
type Store struct {
	mu      sync.Mutex
	records map[string]*ir.Record
	frames  map[string][]Row

	// now is swappable for deterministic default-timestamp tests.
	now func() time.Time
}

// New creates a Store for the given record declarations.
//
// Record configuration problems - a missing primary key, a scoped-unique
// field naming a nonexistent scope field - are load-time errors here, never
// deferred to write time.
func New(records ...*ir.Record) (*Store, error) {
	s := &Store{
		records: make(map[string]*ir.Record, len(records)),
		frames:  make(map[string][]Row, len(records)),
		now:     time.Now,
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.records[r.Name]; dup {
			return nil, fmt.Errorf("record %q declared twice", r.Name)
		}
		s.records[r.Name] = r
		s.frames[r.FrameName()] = nil
	}
	return s, nil
}

// Record returns the declaration for a record name.
func (s *Store) Record(name string) (*ir.Record, error) {
	r, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", name)
	}
	return r, nil
}

// Rows returns a copy of the frame's row slice in insertion order. The rows
// themselves are shared; callers must not mutate them.
func (s *Store) Rows(frame string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.frames[frame]
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

// Count returns the number of rows in a record's frame.
func (s *Store) Count(record string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[record]
	if !ok {
		return 0
	}
	return len(s.frames[r.FrameName()])
}

// Create validates and appends a single row.
func (s *Store) Create(record string, values Row) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.createLocked(record, []Row{values}, nil)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// CreateMany validates and appends a batch of rows all-or-nothing: a
// constraint violation on any row leaves the frame untouched.
func (s *Store) CreateMany(record string, rows []Row) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(record, rows, nil)
}

// Update applies a patch to every row matching the predicate. Constraints
// are verified against the patched result set before anything is replaced,
// so a violation reverts the entire operation.
func (s *Store) Update(record string, where *ir.Condition, patch Row) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(record, where, patch, nil)
}

// Delete removes every row matching the predicate and returns the count.
func (s *Store) Delete(record string, where *ir.Condition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.deleteLocked(record, where, nil)
	return len(removed), err
}

// Find filters, sorts, and paginates a record's rows.
//
// Output ordering is the underlying insertion order filtered in place; Sort
// keys reorder stably on top of that. Limit and offset must be non-negative.
func (s *Store) Find(record string, spec *ir.FindSpec) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[record]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", record)
	}
	if spec == nil {
		spec = &ir.FindSpec{}
	}
	if spec.Limit != nil && *spec.Limit < 0 {
		return nil, fmt.Errorf("limit must be non-negative, got %d", *spec.Limit)
	}
	if spec.Offset != nil && *spec.Offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative, got %d", *spec.Offset)
	}

	var matched []Row
	for _, row := range s.frames[r.FrameName()] {
		ok, err := Matches(spec.Where, row)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	if len(spec.Sort) > 0 {
		sortRows(matched, spec.Sort)
	}

	offset := 0
	if spec.Offset != nil {
		offset = *spec.Offset
	}
	if offset >= len(matched) {
		return []Row{}, nil
	}
	matched = matched[offset:]
	if spec.Limit != nil && *spec.Limit < len(matched) {
		matched = matched[:*spec.Limit]
	}

	out := make([]Row, len(matched))
	copy(out, matched)
	return out, nil
}

// Join attaches the related row for each input row's foreign-key field.
//
// The related row (or nil when the reference is absent or unmatched) is
// attached under the relationship name on a copy of each row; Join never
// fails on a dangling reference.
func (s *Store) Join(rows []Row, fkField string, related string, as string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.records[related]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", related)
	}
	if as == "" {
		as = related
	}

	byPK := make(map[any]Row)
	for _, row := range s.frames[rel.FrameName()] {
		byPK[normalizeKey(row[rel.PrimaryKey])] = row
	}

	out := make([]Row, len(rows))
	for i, row := range rows {
		joined := make(Row, len(row)+1)
		for k, v := range row {
			joined[k] = v
		}
		fk := row[fkField]
		if fk == nil {
			joined[as] = nil
		} else if match, ok := byPK[normalizeKey(fk)]; ok {
			joined[as] = match
		} else {
			joined[as] = nil
		}
		out[i] = joined
	}
	return out, nil
}

// Matches evaluates a predicate tree against one row. A nil condition
// matches everything. Groups evaluate deterministically left to right.
func Matches(c *ir.Condition, row Row) (bool, error) {
	if c == nil {
		return true, nil
	}
	if len(c.All) > 0 {
		for i := range c.All {
			ok, err := Matches(&c.All[i], row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			ok, err := Matches(&c.Any[i], row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return expr.Compare(c.Op, row[c.Field], c.Value)
}

// sortRows stable-sorts rows by the given keys, earlier keys dominant.
func sortRows(rows []Row, keys []ir.SortKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareValues(rows[i][k.Field], rows[j][k.Field])
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareValues orders two field values: numerically when both convert,
// otherwise by string form. nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if af, aok := expr.ToFloat64(a); aok {
		if bf, bok := expr.ToFloat64(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// normalizeKey folds numeric key representations together so an int64 FK
// value matches a float64 primary key decoded from JSON.
func normalizeKey(v any) any {
	if f, ok := expr.ToFloat64(v); ok {
		return f
	}
	return fmt.Sprintf("%v", v)
}
