package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxlang/calyx/pkg/calyx/config"
)

func TestConfig_Accessors(t *testing.T) {
	c := config.New(map[string]any{
		"name":    "calyx",
		"count":   3,
		"ratio":   0.5,
		"enabled": true,
		"wait":    "45s",
		"seconds": 10,
		"section": map[string]any{"inner": "x"},
	})

	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "calyx", c.String("name", "d"))
		assert.Equal(t, "d", c.String("missing", "d"))
		assert.Equal(t, "d", c.String("count", "d"))
	})

	t.Run("int", func(t *testing.T) {
		assert.Equal(t, 3, c.Int("count", 0))
		assert.Equal(t, 7, c.Int("missing", 7))
		assert.Equal(t, 7, c.Int("ratio", 7))
	})

	t.Run("float", func(t *testing.T) {
		assert.Equal(t, 0.5, c.Float("ratio", 0))
		assert.Equal(t, 3.0, c.Float("count", 0))
	})

	t.Run("bool", func(t *testing.T) {
		assert.True(t, c.Bool("enabled", false))
		assert.True(t, c.Bool("missing", true))
	})

	t.Run("duration", func(t *testing.T) {
		assert.Equal(t, 45*time.Second, c.Duration("wait", 0))
		assert.Equal(t, 10*time.Second, c.Duration("seconds", 0))
		assert.Equal(t, time.Minute, c.Duration("missing", time.Minute))
	})

	t.Run("section", func(t *testing.T) {
		assert.Equal(t, "x", c.Section("section").String("inner", ""))
		assert.Equal(t, "d", c.Section("missing").String("inner", "d"))
	})
}

func TestFromYAML(t *testing.T) {
	c, err := config.FromYAML([]byte(`
engine:
  max_steps_per_run: 50
  default_timeout: 5s
breaker:
  failure_threshold: 2
journal_path: ./runs.db
`))
	require.NoError(t, err)

	rt := config.RuntimeFrom(c)
	assert.Equal(t, 50, rt.MaxStepsPerRun)
	assert.Equal(t, 5*time.Second, rt.DefaultTimeout)
	assert.Equal(t, 2, rt.BreakerThreshold)
	assert.Equal(t, "./runs.db", rt.JournalPath)
	// Unset values fall back to defaults.
	assert.Equal(t, config.DefaultRuntime().MaxToolIterations, rt.MaxToolIterations)
	assert.Equal(t, config.DefaultRuntime().BreakerReset, rt.BreakerReset)
}

func TestFromJSON(t *testing.T) {
	c, err := config.FromJSON([]byte(`{"engine": {"max_steps_per_run": 25}}`))
	require.NoError(t, err)
	assert.Equal(t, 25, config.RuntimeFrom(c).MaxStepsPerRun)

	_, err = config.FromJSON([]byte("{"))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	t.Run("yaml extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calyx.yaml")
		require.NoError(t, os.WriteFile(path, []byte("journal_path: db.sqlite\n"), 0o644))

		c, err := config.FromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "db.sqlite", c.String("journal_path", ""))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "calyx.toml")
		require.NoError(t, os.WriteFile(path, []byte(""), 0o644))
		_, err := config.FromFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
