package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "console json", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "console text", config: &Config{Level: DebugLevel, Format: ConsoleFormat, Console: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := NewWithOptions(WithFileOutput(path), WithLevel(DebugLevel))
	require.NoError(t, err)

	log.Debug("debug message", zap.String("k", "v"))
	log.Info("info message")
	require.NoError(t, log.Sync())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "debug message", lines[0]["msg"])
	assert.Equal(t, "v", lines[0]["k"])
	assert.Equal(t, "info", lines[1]["level"])
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "level.log")
	log, err := NewWithOptions(WithFileOutput(path), WithLevel(InfoLevel))
	require.NoError(t, err)
	child := log.Named("child")

	log.Debug("dropped")
	log.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, log.Level())
	child.Debug("kept")
	require.NoError(t, log.Sync())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "child", lines[0]["logger"])
}

func TestContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	log, err := NewWithOptions(WithFileOutput(path))
	require.NoError(t, err)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUID(ctx, 42)
	ctx = WithConnID(ctx, "c-1")

	log.InfoContext(ctx, "hello")
	log.WithContext(ctx).Warn("child")
	require.NoError(t, log.Sync())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, "trace-1", line["trace_id"])
		assert.EqualValues(t, 42, line["uid"])
		assert.Equal(t, "c-1", line["conn_id"])
	}
}

func TestRotateOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")
	log, err := NewWithOptions(WithRotateOutput(&RotateConfig{Filename: path}))
	require.NoError(t, err)

	log.Info("rotated")
	require.NoError(t, log.Sync())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSampling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.log")
	log, err := NewWithOptions(
		WithFileOutput(path),
		WithSampling(&SamplingConfig{Initial: 2, Thereafter: 1000}),
	)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		log.Info("same")
	}
	require.NoError(t, log.Sync())
	assert.Len(t, readLines(t, path), 2)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.Info("nothing")
	log.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, log.Level())
}
