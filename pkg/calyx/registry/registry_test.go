package registry_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/registry"
)

func TestRegistry_Basics(t *testing.T) {
	r := registry.New[string, int]()

	r.Register("a", 1)
	r.RegisterMany(map[string]int{"b": 2, "c": 3})

	v, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.True(t, r.Has("a"))
	assert.Equal(t, 3, r.Len())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.Keys())

	r.Delete("a")
	assert.False(t, r.Has("a"))
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := registry.New[string, string]()
	r.Register("k", "old")
	r.Register("k", "new")
	v, _ := r.Get("k")
	assert.Equal(t, "new", v)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := registry.New[string, *sync.Once]()
	created := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("shared", func() *sync.Once {
				created++
				return &sync.Once{}
			})
		}()
	}
	wg.Wait()

	// Construction holds the write lock, so exactly one value exists.
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, r.Len())
}
