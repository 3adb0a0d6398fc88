package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/state"
)

func TestFlowState_Resolve(t *testing.T) {
	t.Run("initial input is visible", func(t *testing.T) {
		st := state.New(map[string]any{"user_id": 42})
		v, err := st.Resolve("user_id")
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		st := state.New(nil)
		_, err := st.Resolve("nope")
		var serr *state.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, state.CodeUnresolved, serr.Code)
	})

	t.Run("alias output and field projection", func(t *testing.T) {
		st := state.New(nil)
		st.DeclareAliases("fetch")
		st.SetOutput("fetch", map[string]any{"name": "Ada", "age": 30})

		v, err := st.Resolve("fetch.output")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Ada", "age": 30}, v)

		v, err = st.Resolve("fetch.output.name")
		require.NoError(t, err)
		assert.Equal(t, "Ada", v)
	})

	t.Run("alias declared but not yet run", func(t *testing.T) {
		st := state.New(nil)
		st.DeclareAliases("later")
		_, err := st.Resolve("later.output")
		var serr *state.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, state.CodeAliasNotRun, serr.Code)
	})

	t.Run("alias never declared", func(t *testing.T) {
		st := state.New(nil)
		_, err := st.Resolve("ghost.output")
		var serr *state.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, state.CodeUnknownAlias, serr.Code)
	})

	t.Run("last output and projection", func(t *testing.T) {
		st := state.New(nil)
		st.SetLast(map[string]any{"ok": true})
		v, err := st.Resolve("last_output")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ok": true}, v)
		v, err = st.Resolve("last_output.ok")
		require.NoError(t, err)
		assert.Equal(t, true, v)
	})
}

func TestFlowState_Scopes(t *testing.T) {
	t.Run("inner binding shadows outer", func(t *testing.T) {
		st := state.New(nil)
		st.Define("x", 1)
		st.Push(state.ScopeLoop)
		st.Define("x", 2)
		v, err := st.Resolve("x")
		require.NoError(t, err)
		assert.Equal(t, 2, v)

		st.Pop()
		v, err = st.Resolve("x")
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	})

	t.Run("assign updates the defining scope", func(t *testing.T) {
		st := state.New(nil)
		st.Define("x", 1)
		st.Push(state.ScopeLoop)
		require.NoError(t, st.Assign("x", 9))
		st.Pop()
		v, err := st.Resolve("x")
		require.NoError(t, err)
		assert.Equal(t, 9, v)
	})

	t.Run("assign to unbound name fails", func(t *testing.T) {
		st := state.New(nil)
		err := st.Assign("missing", 1)
		var serr *state.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, state.CodeUnresolved, serr.Code)
	})

	t.Run("loop variable out of scope after pop", func(t *testing.T) {
		st := state.New(nil)
		st.Push(state.ScopeLoop)
		st.Define("item", "a")
		st.Pop()

		_, err := st.Resolve("item")
		var serr *state.Error
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, state.CodeLoopVarOutOfScope, serr.Code)
	})
}

func TestFlowState_Snapshot(t *testing.T) {
	st := state.New(map[string]any{"input": "x"})
	st.DeclareAliases("a")
	st.SetOutput("a", 1)
	st.SetLast(2)

	snap := st.Snapshot()
	assert.Equal(t, "x", snap["input"])
	assert.Equal(t, 1, snap["a.output"])
	assert.Equal(t, 2, snap["last_output"])
}

// TestError_Error tests scope Error formatting.
func TestError_Error(t *testing.T) {
	err := &state.Error{
		Code: state.CodeUnknownAlias,
		Name: "fetch",
		Hint: "no step in this flow declares that alias",
	}
	assert.Equal(t, `scope/unknown_alias: "fetch" (no step in this flow declares that alias)`, err.Error())
}
