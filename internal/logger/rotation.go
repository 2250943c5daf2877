package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter is an io.WriteCloser that rotates its file by size or age.
type RotatingWriter struct {
	path       string
	maxSize    int64
	maxAge     time.Duration
	maxBackups int
	compress   bool

	mu       sync.Mutex
	file     *os.File
	size     int64
	openedAt time.Time
	now      func() time.Time
}

// NewRotatingWriter opens path for appending.
func NewRotatingWriter(path string, maxSize int64, maxAge time.Duration, maxBackups int, compress bool) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		maxSize:    maxSize,
		maxAge:     maxAge,
		maxBackups: maxBackups,
		compress:   compress,
		now:        time.Now,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// NewRotatingWriterFromConfig parses rc and opens path.
func NewRotatingWriterFromConfig(path string, rc *RotationConfig) (*RotatingWriter, error) {
	size, err := parseSize(rc.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("parse max size: %w", err)
	}
	age, err := parseDuration(rc.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parse max age: %w", err)
	}
	return NewRotatingWriter(path, size, age, rc.MaxBackups, rc.Compress)
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = st.Size()
	rw.openedAt = rw.now()
	return nil
}

// Write implements io.Writer.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.due(int64(len(p))) {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Close closes the current file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) due(incoming int64) bool {
	if rw.size == 0 {
		return false
	}
	if rw.maxSize > 0 && rw.size+incoming > rw.maxSize {
		return true
	}
	return rw.maxAge > 0 && rw.now().Sub(rw.openedAt) >= rw.maxAge
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}
	rw.file = nil

	backup := rw.backupName(rw.now())
	if err := os.Rename(rw.path, backup); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}
	if rw.compress {
		if err := gzipFile(backup); err != nil {
			fmt.Fprintf(os.Stderr, "logger: compress %s: %v\n", backup, err)
		}
	}
	rw.prune()
	return rw.open()
}

// backupName returns "<path>.<timestamp>", adding a counter if taken.
func (rw *RotatingWriter) backupName(t time.Time) string {
	base := fmt.Sprintf("%s.%s", rw.path, t.Format("20060102-150405"))
	name := base
	for i := 1; exists(name) || exists(name+".gz"); i++ {
		name = fmt.Sprintf("%s.%d", base, i)
	}
	return name
}

func (rw *RotatingWriter) prune() {
	if rw.maxBackups <= 0 {
		return
	}
	backups := rw.backups()
	if len(backups) <= rw.maxBackups {
		return
	}
	for _, b := range backups[:len(backups)-rw.maxBackups] {
		if err := os.Remove(b); err != nil {
			fmt.Fprintf(os.Stderr, "logger: remove old backup %s: %v\n", b, err)
		}
	}
}

// backups lists rotated files of rw.path, oldest first.
func (rw *RotatingWriter) backups() []string {
	dir, base := filepath.Dir(rw.path), filepath.Base(rw.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type item struct {
		path string
		mod  time.Time
	}
	var items []item
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod.Equal(items[j].mod) {
			return items[i].path < items[j].path
		}
		return items[i].mod.Before(items[j].mod)
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	src.Close()
	return os.Remove(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
