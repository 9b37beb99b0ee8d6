package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	log := New(Config{Service: "test", Level: "debug", Format: "json", Output: "stdout"})
	assert.Equal(t, "debug", log.GetLevel().String())
}

func TestNewParseLevelFallback(t *testing.T) {
	log := New(Config{Service: "test", Level: "not-a-level", Output: "stdout"})
	assert.Equal(t, "info", log.GetLevel().String())
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	require.NoError(t, os.Chdir(temp))

	log := New(Config{Service: "test", Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	data, err := os.ReadFile(filepath.Join("logs", "test.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithJobID(ctx, "job-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))
	assert.Empty(t, GetRole(ctx))
}

func TestWithContextCarriesFields(t *testing.T) {
	log := New(Config{Service: "test", Level: "debug", Output: "stdout"})
	ctx := WithTraceID(context.Background(), "trace-2")
	entry := log.WithContext(ctx)
	assert.Equal(t, "trace-2", entry.Data["trace_id"])
	assert.Equal(t, "test", entry.Data["service"])
}
