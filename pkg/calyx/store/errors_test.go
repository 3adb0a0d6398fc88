package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestConstraintError_Error tests ConstraintError formatting.
func TestConstraintError_Error(t *testing.T) {
	err := &ConstraintError{
		Code:    CodeUnique,
		Record:  "User",
		Field:   "email",
		Message: `field "email" must be unique`,
	}
	assert.Equal(t, `constraint/unique: record User: field "email" must be unique`, err.Error())
}
