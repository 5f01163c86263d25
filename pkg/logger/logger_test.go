package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")

	l, err := New("info", "json", path)
	require.NoError(t, err)
	l.Info("run finished")
	l.Debug("hidden")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run finished"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "json", "stdout")
	assert.Error(t, err)

	_, err = New("info", "xml", "stdout")
	assert.Error(t, err)
}
