package store

import "fmt"

// Stable constraint error codes.
const (
	CodeRequired   = "constraint/required"
	CodeType       = "constraint/type"
	CodePrimaryKey = "constraint/primary_key"
	CodeUnique     = "constraint/unique"
	CodeForeignKey = "constraint/foreign_key"
)

// ConstraintError is a rejected write. The write it describes was never
// applied: validation happens before commit, and a violation anywhere in a
// multi-row operation aborts the entire operation.
type ConstraintError struct {
	// Code is the stable error code.
	Code string

	// Record is the record type being written.
	Record string

	// Field is the violating field.
	Field string

	// Message is the human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: record %s: %s", e.Code, e.Record, e.Message)
}
