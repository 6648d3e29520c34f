package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/gckit/gc/heap"
)

func Test_Config_DefaultMatchesHeapDefaults(t *testing.T) {
	opts, err := Default().HeapOptions()
	require.NoError(t, err)
	assert.Equal(t, heap.DefaultOptions(), opts)
}

func Test_Config_ParseYAML(t *testing.T) {
	data := []byte(`
max_heap: 64MB
initial_commit: 1MB
interval: 250ms
root_buffer_words: 32
verify_heap: true
stack_words: 128
log:
  enabled: true
  level: debug
`)
	cfg, err := Parse(data, "yaml")
	require.NoError(t, err)

	opts, err := cfg.HeapOptions()
	require.NoError(t, err)
	assert.Equal(t, 64<<20, opts.Region.MaxBytes)
	assert.Equal(t, 1<<20, opts.Region.InitialCommit)
	assert.Equal(t, 250*time.Millisecond, opts.Collector.Interval)
	assert.Equal(t, 32, opts.Collector.RootBufferWords)
	assert.True(t, opts.Collector.VerifyHeap)
	assert.Equal(t, 128, opts.StackWords)
	assert.Equal(t, 1, opts.Alloc.InitialPages, "unset fields keep defaults")

	lo := cfg.LogOptions()
	assert.True(t, lo.Enabled)
	assert.Equal(t, slog.LevelDebug, lo.Level)
}

func Test_Config_ParseJSON(t *testing.T) {
	data := []byte(`{"max_heap": "16MB", "interval": "off", "initial_pages": 4, "log": {"json": true}}`)
	cfg, err := Parse(data, "json")
	require.NoError(t, err)

	opts, err := cfg.HeapOptions()
	require.NoError(t, err)
	assert.Equal(t, 16<<20, opts.Region.MaxBytes)
	assert.Equal(t, time.Duration(-1), opts.Collector.Interval)
	assert.Equal(t, 4, opts.Alloc.InitialPages)
	assert.True(t, cfg.Log.JSON)

	empty, err := Parse([]byte("  "), "json")
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)

	_, err = Parse([]byte("{nope"), "json")
	require.Error(t, err)

	_, err = Parse(data, "toml")
	require.ErrorIs(t, err, ErrFormat)
}

func Test_Config_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad size", Config{MaxHeap: "lots"}},
		{"zero size", Config{InitialCommit: "0B"}},
		{"bad interval", Config{Interval: "soon"}},
		{"negative interval", Config{Interval: "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.HeapOptions()
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func Test_Config_EnvOverrides(t *testing.T) {
	env := map[string]string{EnvMaxHeap: "8MB", EnvInterval: "5s"}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	opts, err := cfg.HeapOptions()
	require.NoError(t, err)
	assert.Equal(t, 8<<20, opts.Region.MaxBytes)
	assert.Equal(t, 5*time.Second, opts.Collector.Interval)
}

func Test_Config_Load(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvMaxHeap, "")
	t.Setenv(EnvInterval, "")

	yml := filepath.Join(dir, "gc.yml")
	require.NoError(t, os.WriteFile(yml, []byte("max_heap: 4MB\n"), 0o644))
	cfg, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, "4MB", cfg.MaxHeap)

	js := filepath.Join(dir, "gc.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"stack_words": 64}`), 0o644))
	cfg, err = Load(js)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.StackWords)

	_, err = Load(filepath.Join(dir, "gc.ini"))
	require.Error(t, err)

	txt := filepath.Join(dir, "gc.txt")
	require.NoError(t, os.WriteFile(txt, nil, 0o644))
	_, err = Load(txt)
	require.ErrorIs(t, err, ErrFormat)

	t.Setenv(EnvInterval, "9s")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "9s", cfg.Interval)
}
