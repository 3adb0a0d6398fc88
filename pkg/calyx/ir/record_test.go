package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

func TestRecord_Validate(t *testing.T) {
	valid := func() *ir.Record {
		return &ir.Record{
			Name:       "User",
			PrimaryKey: "id",
			Fields: []ir.Field{
				{Name: "id", Type: ir.TypeInt, Required: true},
				{Name: "team", Type: ir.TypeString},
				{Name: "handle", Type: ir.TypeString, Unique: true, UniqueScope: "team"},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing name", func(t *testing.T) {
		r := valid()
		r.Name = ""
		assert.Error(t, r.Validate())
	})

	t.Run("missing primary key", func(t *testing.T) {
		r := valid()
		r.PrimaryKey = ""
		assert.ErrorIs(t, r.Validate(), ir.ErrNoPrimaryKey)
	})

	t.Run("primary key not declared", func(t *testing.T) {
		r := valid()
		r.PrimaryKey = "uuid"
		assert.Error(t, r.Validate())
	})

	t.Run("unknown scope field", func(t *testing.T) {
		r := valid()
		r.Fields[2].UniqueScope = "nope"
		assert.ErrorIs(t, r.Validate(), ir.ErrUnknownScopeField)
	})

	t.Run("scope without uniqueness", func(t *testing.T) {
		r := valid()
		r.Fields[2].Unique = false
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scope without uniqueness")
	})
}

func TestRecord_FrameName(t *testing.T) {
	r := &ir.Record{Name: "User"}
	assert.Equal(t, "User", r.FrameName())
	r.Frame = "users"
	assert.Equal(t, "users", r.FrameName())
}

func TestRecord_FieldByName(t *testing.T) {
	r := &ir.Record{Fields: []ir.Field{{Name: "id"}, {Name: "name"}}}
	require.NotNil(t, r.FieldByName("name"))
	assert.Nil(t, r.FieldByName("missing"))
}
