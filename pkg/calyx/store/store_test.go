package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/store"
)

func userRecord() *ir.Record {
	return &ir.Record{
		Name:       "User",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "name", Type: ir.TypeString, Required: true},
			{Name: "email", Type: ir.TypeString, Required: true, Unique: true},
			{Name: "age", Type: ir.TypeInt},
			{Name: "created_at", Type: ir.TypeTime, Default: ir.DefaultNow},
		},
	}
}

func memberRecord() *ir.Record {
	return &ir.Record{
		Name:       "Member",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "team", Type: ir.TypeString, Required: true},
			// Handle must be unique per team, not globally.
			{Name: "handle", Type: ir.TypeString, Required: true, Unique: true, UniqueScope: "team"},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	t.Run("valid records", func(t *testing.T) {
		s, err := store.New(userRecord(), memberRecord())
		require.NoError(t, err)
		require.NotNil(t, s)
	})

	t.Run("missing primary key", func(t *testing.T) {
		_, err := store.New(&ir.Record{
			Name:   "Bad",
			Fields: []ir.Field{{Name: "id", Type: ir.TypeInt}},
		})
		assert.ErrorIs(t, err, ir.ErrNoPrimaryKey)
	})

	t.Run("scoped unique over unknown scope field", func(t *testing.T) {
		_, err := store.New(&ir.Record{
			Name:       "Bad",
			PrimaryKey: "id",
			Fields: []ir.Field{
				{Name: "id", Type: ir.TypeInt, Required: true},
				{Name: "handle", Type: ir.TypeString, Unique: true, UniqueScope: "team"},
			},
		})
		assert.ErrorIs(t, err, ir.ErrUnknownScopeField)
	})

	t.Run("duplicate record name", func(t *testing.T) {
		_, err := store.New(userRecord(), userRecord())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "declared twice")
	})
}

func TestStore_Create(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		row, err := s.Create("User", store.Row{"id": 1, "name": "Ada", "email": "ada@example.com"})
		require.NoError(t, err)
		assert.IsType(t, time.Time{}, row["created_at"])
	})

	t.Run("required field missing", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		_, err = s.Create("User", store.Row{"id": 1, "email": "ada@example.com"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeRequired, cerr.Code)
		assert.Equal(t, "name", cerr.Field)
	})

	t.Run("type mismatch", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		_, err = s.Create("User", store.Row{"id": 1, "name": "Ada", "email": "a@b.c", "age": "young"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeType, cerr.Code)
	})

	t.Run("duplicate primary key", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		_, err = s.Create("User", store.Row{"id": 1, "name": "Ada", "email": "ada@example.com"})
		require.NoError(t, err)
		_, err = s.Create("User", store.Row{"id": 1, "name": "Eve", "email": "eve@example.com"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodePrimaryKey, cerr.Code)
	})

	t.Run("global unique violation", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		_, err = s.Create("User", store.Row{"id": 1, "name": "Ada", "email": "ada@example.com"})
		require.NoError(t, err)
		_, err = s.Create("User", store.Row{"id": 2, "name": "Eve", "email": "ada@example.com"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeUnique, cerr.Code)
		assert.Contains(t, cerr.Error(), "email")
	})
}

func TestStore_ScopedUnique(t *testing.T) {
	s, err := store.New(memberRecord())
	require.NoError(t, err)

	_, err = s.Create("Member", store.Row{"id": 1, "team": "red", "handle": "ada"})
	require.NoError(t, err)

	t.Run("same handle in a different scope succeeds", func(t *testing.T) {
		_, err := s.Create("Member", store.Row{"id": 2, "team": "blue", "handle": "ada"})
		assert.NoError(t, err)
	})

	t.Run("same handle in the same scope is rejected", func(t *testing.T) {
		_, err := s.Create("Member", store.Row{"id": 3, "team": "red", "handle": "ada"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeUnique, cerr.Code)
	})

	t.Run("update into a colliding scope is rejected", func(t *testing.T) {
		_, err := s.Update("Member",
			&ir.Condition{Field: "id", Op: ir.OpEq, Value: 2},
			store.Row{"team": "red"})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeUnique, cerr.Code)
		// The rejected update left the row untouched.
		rows, ferr := s.Find("Member", &ir.FindSpec{
			Where: &ir.Condition{Field: "id", Op: ir.OpEq, Value: 2},
		})
		require.NoError(t, ferr)
		require.Len(t, rows, 1)
		assert.Equal(t, "blue", rows[0]["team"])
	})
}

func TestStore_ForeignKey(t *testing.T) {
	team := &ir.Record{
		Name:       "Team",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "name", Type: ir.TypeString, Required: true},
		},
	}
	player := &ir.Record{
		Name:       "Player",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "team_id", Type: ir.TypeInt, References: &ir.Reference{Record: "Team"}},
		},
	}
	s, err := store.New(team, player)
	require.NoError(t, err)

	_, err = s.Create("Team", store.Row{"id": 1, "name": "red"})
	require.NoError(t, err)

	t.Run("existing reference succeeds", func(t *testing.T) {
		_, err := s.Create("Player", store.Row{"id": 1, "team_id": 1})
		assert.NoError(t, err)
	})

	t.Run("dangling reference is rejected, not nulled", func(t *testing.T) {
		_, err := s.Create("Player", store.Row{"id": 2, "team_id": 99})
		var cerr *store.ConstraintError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, store.CodeForeignKey, cerr.Code)
		assert.Equal(t, 1, s.Count("Player"))
	})
}

func TestStore_CreateMany_AllOrNothing(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		t.Run("batch with one violation adds zero rows", func(t *testing.T) {
			s, err := store.New(userRecord())
			require.NoError(t, err)

			_, err = s.Create("User", store.Row{"id": 100, "name": "Seed", "email": "seed@example.com"})
			require.NoError(t, err)
			before := s.Count("User")

			batch := make([]store.Row, n)
			for i := 0; i < n-1; i++ {
				batch[i] = store.Row{"id": i + 1, "name": "ok", "email": "u" + string(rune('a'+i)) + "@example.com"}
			}
			// Last row collides with the seed email.
			batch[n-1] = store.Row{"id": n, "name": "dup", "email": "seed@example.com"}

			_, err = s.CreateMany("User", batch)
			require.Error(t, err)
			assert.Equal(t, before, s.Count("User"))
		})
	}

	t.Run("intra-batch duplicate is rejected", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		_, err = s.CreateMany("User", []store.Row{
			{"id": 1, "name": "a", "email": "same@example.com"},
			{"id": 2, "name": "b", "email": "same@example.com"},
		})
		require.Error(t, err)
		assert.Equal(t, 0, s.Count("User"))
	})

	t.Run("clean batch commits in order", func(t *testing.T) {
		s, err := store.New(userRecord())
		require.NoError(t, err)

		rows, err := s.CreateMany("User", []store.Row{
			{"id": 1, "name": "a", "email": "a@example.com"},
			{"id": 2, "name": "b", "email": "b@example.com"},
		})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		assert.Equal(t, 2, s.Count("User"))
	})
}

func TestStore_Find(t *testing.T) {
	s, err := store.New(userRecord())
	require.NoError(t, err)
	seed := []store.Row{
		{"id": 1, "name": "Carol", "email": "c@example.com", "age": 35},
		{"id": 2, "name": "Ada", "email": "a@example.com", "age": 28},
		{"id": 3, "name": "Bob", "email": "b@example.com", "age": 42},
		{"id": 4, "name": "Dan", "email": "d@example.com", "age": 28},
	}
	_, err = s.CreateMany("User", seed)
	require.NoError(t, err)

	t.Run("no predicate preserves insertion order", func(t *testing.T) {
		rows, err := s.Find("User", nil)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, "Carol", rows[0]["name"])
		assert.Equal(t, "Dan", rows[3]["name"])
	})

	t.Run("order by ascending with limit returns the k smallest", func(t *testing.T) {
		for k := 0; k <= 4; k++ {
			limit := k
			rows, err := s.Find("User", &ir.FindSpec{
				Sort:  []ir.SortKey{{Field: "age"}},
				Limit: &limit,
			})
			require.NoError(t, err)
			require.Len(t, rows, k)
			for i := 1; i < len(rows); i++ {
				assert.LessOrEqual(t, rows[i-1]["age"], rows[i]["age"])
			}
		}
	})

	t.Run("offset then limit windows the ordered match set", func(t *testing.T) {
		offset, limit := 1, 2
		rows, err := s.Find("User", &ir.FindSpec{
			Sort:   []ir.SortKey{{Field: "age"}, {Field: "name"}},
			Offset: &offset,
			Limit:  &limit,
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		// Ordered ages: 28 (Ada), 28 (Dan), 35 (Carol), 42 (Bob).
		assert.Equal(t, "Dan", rows[0]["name"])
		assert.Equal(t, "Carol", rows[1]["name"])
	})

	t.Run("offset past the match set returns empty", func(t *testing.T) {
		offset := 10
		rows, err := s.Find("User", &ir.FindSpec{Offset: &offset})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("negative limit is an error", func(t *testing.T) {
		limit := -1
		_, err := s.Find("User", &ir.FindSpec{Limit: &limit})
		assert.Error(t, err)
	})

	t.Run("descending sort", func(t *testing.T) {
		rows, err := s.Find("User", &ir.FindSpec{
			Sort: []ir.SortKey{{Field: "age", Desc: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), rows[0]["age"])
	})

	t.Run("predicate operators", func(t *testing.T) {
		tests := []struct {
			name string
			cond *ir.Condition
			want int
		}{
			{"eq", &ir.Condition{Field: "age", Op: ir.OpEq, Value: 28}, 2},
			{"neq", &ir.Condition{Field: "age", Op: ir.OpNeq, Value: 28}, 2},
			{"gt", &ir.Condition{Field: "age", Op: ir.OpGt, Value: 30}, 2},
			{"lte", &ir.Condition{Field: "age", Op: ir.OpLte, Value: 35}, 3},
			{"in", &ir.Condition{Field: "name", Op: ir.OpIn, Value: []any{"Ada", "Bob"}}, 2},
			{"contains", &ir.Condition{Field: "email", Op: ir.OpContains, Value: "a@"}, 1},
			{"not null", &ir.Condition{Field: "age", Op: ir.OpNotNull}, 4},
			{"all group", &ir.Condition{All: []ir.Condition{
				{Field: "age", Op: ir.OpEq, Value: 28},
				{Field: "name", Op: ir.OpEq, Value: "Ada"},
			}}, 1},
			{"any group", &ir.Condition{Any: []ir.Condition{
				{Field: "name", Op: ir.OpEq, Value: "Ada"},
				{Field: "name", Op: ir.OpEq, Value: "Bob"},
			}}, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rows, err := s.Find("User", &ir.FindSpec{Where: tt.cond})
				require.NoError(t, err)
				assert.Len(t, rows, tt.want)
			})
		}
	})
}

func TestStore_Join(t *testing.T) {
	team := &ir.Record{
		Name:       "Team",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "name", Type: ir.TypeString, Required: true},
		},
	}
	player := &ir.Record{
		Name:       "Player",
		PrimaryKey: "id",
		Fields: []ir.Field{
			{Name: "id", Type: ir.TypeInt, Required: true},
			{Name: "team_id", Type: ir.TypeInt},
		},
	}
	s, err := store.New(team, player)
	require.NoError(t, err)

	_, err = s.Create("Team", store.Row{"id": 1, "name": "red"})
	require.NoError(t, err)
	_, err = s.CreateMany("Player", []store.Row{
		{"id": 1, "team_id": 1},
		{"id": 2, "team_id": nil},
	})
	require.NoError(t, err)

	rows, err := s.Find("Player", nil)
	require.NoError(t, err)
	joined, err := s.Join(rows, "team_id", "Team", "team")
	require.NoError(t, err)

	require.Len(t, joined, 2)
	related, ok := joined[0]["team"].(store.Row)
	require.True(t, ok)
	assert.Equal(t, "red", related["name"])
	// Absent reference attaches an explicit nil, never an error.
	assert.Nil(t, joined[1]["team"])
}

func TestStore_Update(t *testing.T) {
	s, err := store.New(userRecord())
	require.NoError(t, err)
	_, err = s.CreateMany("User", []store.Row{
		{"id": 1, "name": "Ada", "email": "a@example.com", "age": 28},
		{"id": 2, "name": "Bob", "email": "b@example.com", "age": 42},
	})
	require.NoError(t, err)

	t.Run("patch applies to matching rows", func(t *testing.T) {
		rows, err := s.Update("User",
			&ir.Condition{Field: "name", Op: ir.OpEq, Value: "Ada"},
			store.Row{"age": 29})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(29), rows[0]["age"])
	})

	t.Run("unique value swap within one update succeeds", func(t *testing.T) {
		// Both rows patched in the same operation; prior values are
		// excluded before validation, so swapping is legal.
		rows, err := s.Update("User",
			&ir.Condition{Field: "age", Op: ir.OpNotNull},
			store.Row{"age": 30})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("violating patch reverts the whole operation", func(t *testing.T) {
		_, err := s.Update("User",
			&ir.Condition{Field: "name", Op: ir.OpEq, Value: "Bob"},
			store.Row{"email": "a@example.com"})
		require.Error(t, err)
		rows, ferr := s.Find("User", &ir.FindSpec{
			Where: &ir.Condition{Field: "name", Op: ir.OpEq, Value: "Bob"},
		})
		require.NoError(t, ferr)
		assert.Equal(t, "b@example.com", rows[0]["email"])
	})
}

func TestStore_Delete(t *testing.T) {
	s, err := store.New(userRecord())
	require.NoError(t, err)
	_, err = s.CreateMany("User", []store.Row{
		{"id": 1, "name": "Ada", "email": "a@example.com"},
		{"id": 2, "name": "Bob", "email": "b@example.com"},
	})
	require.NoError(t, err)

	n, err := s.Delete("User", &ir.Condition{Field: "name", Op: ir.OpEq, Value: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Count("User"))
}
