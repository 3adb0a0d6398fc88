package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/event"
)

func TestEmitter_Emit(t *testing.T) {
	var got []event.Event
	em := event.NewEmitter("run-1", func(e event.Event) { got = append(got, e) })

	em.Emit(event.KindStepStarted, "fetch", nil)
	em.Emit(event.KindAIChunk, "fetch", "Hel")
	em.Emit(event.KindAIChunk, "fetch", "lo")

	require.Len(t, got, 3)
	assert.Equal(t, event.KindStepStarted, got[0].Kind)
	assert.Equal(t, "Hel", got[1].Data)
	assert.Equal(t, "lo", got[2].Data)
	for _, e := range got {
		assert.Equal(t, "run-1", e.RunID)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEmitter_TerminalOnce(t *testing.T) {
	t.Run("second terminal for the same step is dropped", func(t *testing.T) {
		var got []event.Event
		em := event.NewEmitter("run-1", func(e event.Event) { got = append(got, e) })

		em.EmitTerminal(event.KindAIDone, "ask", "Hello", "")
		em.EmitTerminal(event.KindFlowError, "ask", nil, "late failure")

		require.Len(t, got, 1)
		assert.Equal(t, event.KindAIDone, got[0].Kind)
		assert.Equal(t, "Hello", got[0].Data)
	})

	t.Run("distinct steps each get a terminal", func(t *testing.T) {
		var got []event.Event
		em := event.NewEmitter("run-1", func(e event.Event) { got = append(got, e) })

		em.EmitTerminal(event.KindAIDone, "first", "a", "")
		em.EmitTerminal(event.KindFlowError, "second", nil, "boom")

		require.Len(t, got, 2)
		assert.Equal(t, "boom", got[1].Error)
	})
}

func TestEmitter_NilSafe(t *testing.T) {
	// No callback and a nil receiver both drop events silently.
	em := event.NewEmitter("run-1", nil)
	em.Emit(event.KindStepStarted, "s", nil)
	em.EmitTerminal(event.KindAIDone, "s", nil, "")

	var nilEm *event.Emitter
	nilEm.Emit(event.KindStepStarted, "s", nil)
}
