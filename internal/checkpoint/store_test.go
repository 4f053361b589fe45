package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "nested", FileName))
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordSuccessAppendsAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess(ctx, "https://x.test/dr-a-1/"))
	require.NoError(t, store.RecordSuccess(ctx, "https://x.test/dr-b-2/"))
	require.NoError(t, store.RecordSuccess(ctx, "https://x.test/dr-a-1/"))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.Equal(t, []string{"https://x.test/dr-a-1/", "https://x.test/dr-b-2/"}, readLines(t, path))

	reopened, err := Open(path, WithSync(true))
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "https://x.test/dr-b-2/")
}

func TestRecordSuccessRejectsBadInput(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.RecordSuccess(context.Background(), "   "))
	assert.Error(t, store.RecordSuccess(context.Background(), "https://x.test/a-1/\nhttps://x.test/b-2/"))
}

func TestLoadSkipsCorruptTrailingLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	content := "https://x.test/dr-a-1/\n\nhttps://x.test/dr-b-2/\n\xff\xfe\nhttps://x.test/dr-c-"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"https://x.test/dr-a-1/": {},
		"https://x.test/dr-b-2/": {},
	}, got)
}

func TestAppendAfterTornLineTruncatesFragment(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("https://x.test/dr-a-1/\nhttps://x.test/dr-"), 0o600))
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess(ctx, "https://x.test/dr-c-3/"))
	require.NoError(t, store.Close())

	assert.Equal(t, []string{"https://x.test/dr-a-1/", "https://x.test/dr-c-3/"}, readLines(t, path))
}

func TestAppendToFileWithoutNewlines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("torn"), 0o600))

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordSuccess(context.Background(), "https://x.test/dr-a-1/"))
	require.NoError(t, store.Close())

	assert.Equal(t, []string{"https://x.test/dr-a-1/"}, readLines(t, path))
}

func TestConcurrentSuccessesProduceDistinctLines(t *testing.T) {
	t.Parallel()

	const n = 200
	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()
	store, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.RecordSuccess(ctx, fmt.Sprintf("https://x.test/dentists/dr-%d-%d/", i, i)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, store.Close())

	lines := readLines(t, path)
	require.Len(t, lines, n)

	reloaded, err := Open(path)
	require.NoError(t, err)
	defer reloaded.Close()
	got, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, n)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "https://x.test/dentists/dr-"), "corrupt line %q", line)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	assert.Error(t, err)

	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	assert.Error(t, err, "a directory is not a readable checkpoint log")
	assert.Error(t, store.RecordSuccess(context.Background(), "https://x.test/dr-a-1/"))
}
