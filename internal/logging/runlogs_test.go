package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunLogsLevels(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	logs, err := NewRunLogs(dir)
	require.NoError(t, err)

	logs.Success.Info("Successfully scraped https://x.test/dr-a-1/", zap.String("provider_id", "1"))
	logs.Success.Debug("not written")
	logs.Fail.Warn("not written either")
	logs.Fail.Error("Failed to scrape https://x.test/dr-b-2/ after 2 attempts")
	require.NoError(t, logs.Close())
	require.NoError(t, logs.Close())

	success, err := os.ReadFile(filepath.Join(dir, SuccessLogFile))
	require.NoError(t, err)
	fail, err := os.ReadFile(filepath.Join(dir, FailLogFile))
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(string(success), "\n"))
	assert.Contains(t, string(success), "\tINFO\tSuccessfully scraped https://x.test/dr-a-1/")
	assert.Contains(t, string(success), `{"provider_id": "1"}`)
	assert.Equal(t, 1, strings.Count(string(fail), "\n"))
	assert.Contains(t, string(fail), "\tERROR\tFailed to scrape")
}

func TestRunLogsAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		logs, err := NewRunLogs(dir)
		require.NoError(t, err)
		logs.Success.Info("run finished")
		require.NoError(t, logs.Close())
	}
	raw, err := os.ReadFile(filepath.Join(dir, SuccessLogFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "run finished"))
}

func TestNewRunLogsBadDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err := NewRunLogs(file)
	require.Error(t, err)

	nop := NopRunLogs()
	nop.Success.Info("ignored")
	require.NoError(t, nop.Close())
}
