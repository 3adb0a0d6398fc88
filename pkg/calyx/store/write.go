package store

import (
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/expr"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// createLocked validates and appends rows under the store lock. When undo is
// non-nil the inverse operation is recorded for transactional rollback.
// The batch is all-or-nothing: validation of every row, including uniqueness
// between rows of the same batch, happens before the first append.
func (s *Store) createLocked(record string, rows []Row, undo *undoLog) ([]Row, error) {
	r, ok := s.records[record]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", record)
	}
	frame := r.FrameName()

	staged := make([]Row, 0, len(rows))
	for _, values := range rows {
		row, err := s.prepareRow(r, values)
		if err != nil {
			return nil, err
		}
		if err := s.checkConstraints(r, row, nil, staged); err != nil {
			return nil, err
		}
		staged = append(staged, row)
	}

	s.frames[frame] = append(s.frames[frame], staged...)
	if undo != nil {
		pk := r.PrimaryKey
		keys := make([]any, len(staged))
		for i, row := range staged {
			keys[i] = row[pk]
		}
		undo.record(func() {
			s.frames[frame] = removeByKey(s.frames[frame], pk, keys)
		})
	}
	return staged, nil
}

// removeByKey drops rows whose primary key is in keys, preserving the order
// of the survivors. Undo entries identify rows by key, not frame position,
// so rolling back never disturbs rows committed by other runs while the
// transaction was open.
func removeByKey(rows []Row, pk string, keys []any) []Row {
	drop := make(map[any]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := rows[:0:0]
	for _, row := range rows {
		if !drop[row[pk]] {
			kept = append(kept, row)
		}
	}
	return kept
}

// updateLocked patches matching rows under the store lock. Every patched row
// is validated before any row is replaced, so a violation reverts the whole
// operation by never applying it.
func (s *Store) updateLocked(record string, where *ir.Condition, patch Row, undo *undoLog) ([]Row, error) {
	r, ok := s.records[record]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", record)
	}
	frame := r.FrameName()
	rows := s.frames[frame]

	type pending struct {
		index int
		prior Row
		next  Row
	}
	var updates []pending
	for i, row := range rows {
		match, err := Matches(where, row)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		next := make(Row, len(row)+len(patch))
		for k, v := range row {
			next[k] = v
		}
		for k, v := range patch {
			coerced, err := s.coerceField(r, k, v)
			if err != nil {
				return nil, err
			}
			next[k] = coerced
		}
		updates = append(updates, pending{index: i, prior: row, next: next})
	}

	// Validate the full patched set before committing any replacement. All
	// prior values are excluded up front so rows may exchange unique values
	// within one operation.
	replaced := make(map[int]Row, len(updates))
	for _, u := range updates {
		replaced[u.index] = u.prior
	}
	var otherNext []Row
	for _, u := range updates {
		if err := s.checkConstraints(r, u.next, replaced, otherNext); err != nil {
			return nil, err
		}
		otherNext = append(otherNext, u.next)
	}

	affected := make([]Row, 0, len(updates))
	for _, u := range updates {
		rows[u.index] = u.next
		affected = append(affected, u.next)
		if undo != nil {
			// Locate by the patched row's key at rollback time: concurrent
			// runs may have shifted frame positions, and the patch itself
			// may have changed the primary key.
			key, prior := u.next[r.PrimaryKey], u.prior
			pk := r.PrimaryKey
			undo.record(func() {
				for i, row := range s.frames[frame] {
					if row[pk] == key {
						s.frames[frame][i] = prior
						return
					}
				}
			})
		}
	}
	return affected, nil
}

// deleteLocked removes matching rows under the store lock, preserving the
// relative order of survivors. Rollback reinserts each row at its original
// index.
func (s *Store) deleteLocked(record string, where *ir.Condition, undo *undoLog) ([]Row, error) {
	r, ok := s.records[record]
	if !ok {
		return nil, fmt.Errorf("unknown record %q", record)
	}
	frame := r.FrameName()
	rows := s.frames[frame]

	var removed []Row
	var removedAt []int
	kept := rows[:0:0]
	for i, row := range rows {
		match, err := Matches(where, row)
		if err != nil {
			return nil, err
		}
		if match {
			removed = append(removed, row)
			removedAt = append(removedAt, i)
		} else {
			kept = append(kept, row)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	s.frames[frame] = kept
	if undo != nil {
		pk := r.PrimaryKey
		undo.record(func() {
			restored := s.frames[frame]
			for i, row := range removed {
				// A concurrent run may have re-created the key; its row wins.
				if hasKey(restored, pk, row[pk]) {
					continue
				}
				at := removedAt[i]
				if at > len(restored) {
					at = len(restored)
				}
				restored = append(restored[:at], append([]Row{row}, restored[at:]...)...)
			}
			s.frames[frame] = restored
		})
	}
	return removed, nil
}

func hasKey(rows []Row, pk string, key any) bool {
	for _, row := range rows {
		if row[pk] == key {
			return true
		}
	}
	return false
}

// prepareRow copies the input values, fills defaults, and coerces every
// field to its declared type.
func (s *Store) prepareRow(r *ir.Record, values Row) (Row, error) {
	row := make(Row, len(values))
	for k, v := range values {
		coerced, err := s.coerceField(r, k, v)
		if err != nil {
			return nil, err
		}
		row[k] = coerced
	}

	// Defaults first, so a required field with a default passes.
	for _, f := range r.Fields {
		if _, present := row[f.Name]; present {
			continue
		}
		switch {
		case f.Default == ir.DefaultNow:
			row[f.Name] = s.now()
		case f.Default != nil:
			coerced, err := s.coerceField(r, f.Name, f.Default)
			if err != nil {
				return nil, err
			}
			row[f.Name] = coerced
		}
	}
	for _, f := range r.Fields {
		if !f.Required {
			continue
		}
		if v, present := row[f.Name]; !present || v == nil {
			return nil, &ConstraintError{
				Code:    CodeRequired,
				Record:  r.Name,
				Field:   f.Name,
				Message: fmt.Sprintf("required field %q is missing", f.Name),
			}
		}
	}
	return row, nil
}

// coerceField converts a value to the field's declared type. Unknown fields
// pass through untyped; incompatible values are constraint errors.
func (s *Store) coerceField(r *ir.Record, name string, v any) (any, error) {
	f := r.FieldByName(name)
	if f == nil || v == nil {
		return v, nil
	}
	switch f.Type {
	case ir.TypeAny, "":
		return v, nil
	case ir.TypeString:
		if sv, ok := v.(string); ok {
			return sv, nil
		}
	case ir.TypeInt:
		if fv, ok := expr.ToFloat64(v); ok && fv == float64(int64(fv)) {
			if _, isString := v.(string); !isString {
				return int64(fv), nil
			}
		}
	case ir.TypeFloat:
		if _, isString := v.(string); !isString {
			if fv, ok := expr.ToFloat64(v); ok {
				return fv, nil
			}
		}
	case ir.TypeBool:
		if bv, ok := v.(bool); ok {
			return bv, nil
		}
	case ir.TypeTime:
		return v, nil
	}
	return nil, &ConstraintError{
		Code:    CodeType,
		Record:  r.Name,
		Field:   name,
		Message: fmt.Sprintf("field %q expects %s, got %T", name, f.Type, v),
	}
}

// checkConstraints verifies primary-key, unique, and foreign-key invariants
// for one candidate row.
//
// ignore maps frame indexes whose current rows are being replaced (updates
// exclude their own prior values). staged holds not-yet-committed rows from
// the same batch, so uniqueness also holds within a bulk write.
func (s *Store) checkConstraints(r *ir.Record, row Row, ignore map[int]Row, staged []Row) error {
	frame := s.frames[r.FrameName()]

	committed := make([]Row, 0, len(frame))
	for i, existing := range frame {
		if _, skip := ignore[i]; skip {
			continue
		}
		committed = append(committed, existing)
	}
	against := append(committed, staged...)

	pk := row[r.PrimaryKey]
	if pk == nil {
		return &ConstraintError{
			Code:    CodeRequired,
			Record:  r.Name,
			Field:   r.PrimaryKey,
			Message: fmt.Sprintf("primary key %q is missing", r.PrimaryKey),
		}
	}
	for _, other := range against {
		if expr.Equal(pk, other[r.PrimaryKey]) {
			return &ConstraintError{
				Code:    CodePrimaryKey,
				Record:  r.Name,
				Field:   r.PrimaryKey,
				Message: fmt.Sprintf("duplicate primary key %v", pk),
			}
		}
	}

	for _, f := range r.Fields {
		if !f.Unique {
			continue
		}
		v := row[f.Name]
		if v == nil {
			continue
		}
		for _, other := range against {
			if !expr.Equal(v, other[f.Name]) {
				continue
			}
			if f.UniqueScope != "" && !expr.Equal(row[f.UniqueScope], other[f.UniqueScope]) {
				continue
			}
			return &ConstraintError{
				Code:    CodeUnique,
				Record:  r.Name,
				Field:   f.Name,
				Message: uniqueMessage(&f, v),
			}
		}
	}

	for _, f := range r.Fields {
		if f.References == nil {
			continue
		}
		v := row[f.Name]
		if v == nil {
			continue
		}
		related, ok := s.records[f.References.Record]
		if !ok {
			return fmt.Errorf("record %s: field %q references unknown record %q",
				r.Name, f.Name, f.References.Record)
		}
		if !s.rowExistsLocked(related, v) {
			return &ConstraintError{
				Code:   CodeForeignKey,
				Record: r.Name,
				Field:  f.Name,
				Message: fmt.Sprintf("field %q references %s %v which does not exist",
					f.Name, related.Name, v),
			}
		}
	}
	return nil
}

func uniqueMessage(f *ir.Field, v any) string {
	if f.UniqueScope != "" {
		return fmt.Sprintf("duplicate value %v for field %q within scope %q", v, f.Name, f.UniqueScope)
	}
	return fmt.Sprintf("duplicate value %v for unique field %q", v, f.Name)
}

func (s *Store) rowExistsLocked(r *ir.Record, pk any) bool {
	for _, row := range s.frames[r.FrameName()] {
		if expr.Equal(pk, row[r.PrimaryKey]) {
			return true
		}
	}
	return false
}
