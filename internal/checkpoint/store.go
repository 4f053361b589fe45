// Package checkpoint implements the append-only progress log that records
// which resource URLs a harvest has completed. Membership in the log is the
// only predicate for "already done"; failures are never recorded.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// FileName is the conventional name of the progress log inside the output directory.
const FileName = "progress.txt"

// Store is a file-backed checkpoint log, one URL per line. Appends are
// serialized by a mutex so concurrent completions never interleave.
type Store struct {
	path   string
	sync   bool
	logger *zap.Logger

	mu        sync.Mutex
	file      *os.File
	completed map[string]struct{}
}

// Option customizes a Store.
type Option func(*Store)

// WithSync fsyncs the log after every append.
func WithSync(enabled bool) Option {
	return func(s *Store) {
		s.sync = enabled
	}
}

// WithLogger attaches a logger used for skipped-line warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open prepares a store at path, creating parent directories as needed. The
// log itself is created lazily on the first append.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	s := &Store{
		path:      path,
		logger:    zap.NewNop(),
		completed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the location of the progress log.
func (s *Store) Path() string {
	return s.path
}

// Load rebuilds the completed set from the log. Blank lines are ignored and
// a torn final line (no terminating newline) or a line that is not valid
// UTF-8 is skipped rather than failing the load.
func (s *Store) Load(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- the checkpoint path comes from operator configuration.
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.completed = make(map[string]struct{})
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	completed, skipped, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("skipped corrupt checkpoint lines", zap.String("path", s.path), zap.Int("skipped", skipped))
	}
	s.completed = completed

	out := make(map[string]struct{}, len(completed))
	for url := range completed {
		out[url] = struct{}{}
	}
	return out, nil
}

func parse(r io.Reader) (map[string]struct{}, int, error) {
	completed := make(map[string]struct{})
	skipped := 0
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				skipped++
			}
			return completed, skipped, nil
		}
		if err != nil {
			return nil, 0, err
		}
		entry := bytes.TrimSpace(line)
		if len(entry) == 0 {
			continue
		}
		if !utf8.Valid(entry) || bytes.IndexByte(entry, 0) >= 0 {
			skipped++
			continue
		}
		completed[string(entry)] = struct{}{}
	}
}

// RecordSuccess appends url to the log. Recording a URL already in the
// completed set is a no-op, keeping one line per completion.
func (s *Store) RecordSuccess(_ context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("url is required")
	}
	if strings.ContainsAny(url, "\r\n") {
		return fmt.Errorf("url %q contains a line break", url)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.completed[url]; done {
		return nil
	}
	if err := s.openLocked(); err != nil {
		return err
	}
	if _, err := s.file.WriteString(url + "\n"); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync checkpoint: %w", err)
		}
	}
	s.completed[url] = struct{}{}
	return nil
}

// openLocked opens the log for appending. A torn final line left by an
// interrupted writer is cut off first so the next entry starts cleanly; it
// was never a complete entry, so no recorded URL is lost.
func (s *Store) openLocked() error {
	if s.file != nil {
		return nil
	}
	// #nosec G304 -- the checkpoint path comes from operator configuration.
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint for append: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat checkpoint: %w", err)
	}
	end, err := lastCompleteLine(f, info.Size())
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("inspect checkpoint tail: %w", err)
	}
	if end < info.Size() {
		s.logger.Warn("truncating torn checkpoint line", zap.String("path", s.path), zap.Int64("bytes", info.Size()-end))
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return fmt.Errorf("repair checkpoint tail: %w", err)
		}
	}
	s.file = f
	return nil
}

// lastCompleteLine returns the offset just past the final newline in f.
func lastCompleteLine(f io.ReaderAt, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// Close flushes and closes the log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return nil
}
