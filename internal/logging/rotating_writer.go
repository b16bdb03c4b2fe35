package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingWriter writes to files that rotate on UTC day boundaries and
// when the current file would exceed MaxBytes.
//
// Output files are named <prefix>-YYYYMMDD[-N].log next to the configured
// base path; N is a 1-based index for same-day size rollovers. The base
// path itself is maintained as a symlink to the current file. When
// MaxAgeDays is positive, rotated files older than that are removed on
// rollover.
type RotatingWriter struct {
	basePath   string
	maxBytes   int64
	maxAgeDays int

	mu    sync.Mutex
	day   string
	index int
	file  *os.File
	size  int64
}

// NewRotatingWriter creates a rotating writer using basePath as the
// logical log file. A basePath of "-" discards all output.
func NewRotatingWriter(basePath string, maxBytes int64, maxAgeDays int) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" || strings.TrimSpace(basePath) == "" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	w := &RotatingWriter{basePath: basePath, maxBytes: maxBytes, maxAgeDays: maxAgeDays}
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

// NewLogger builds a prefixed logger on top of the given writer, in the
// daemon's standard format.
func NewLogger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, "["+prefix+"] ", log.LstdFlags|log.Lmicroseconds)
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// rotate opens a fresh file when the UTC day changed or the pending write
// would cross the size threshold. Callers must hold w.mu.
func (w *RotatingWriter) rotate(incoming int64) error {
	today := time.Now().UTC().Format("20060102")
	switch {
	case w.file == nil || w.day != today:
		w.day = today
		w.index = 1
	case w.size+incoming > w.maxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, prefix, ext := w.split()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s%s", prefix, w.day, ext)
	if w.index > 1 {
		name = fmt.Sprintf("%s-%s-%d%s", prefix, w.day, w.index, ext)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	w.link(path)
	w.prune(dir, prefix, ext)
	return nil
}

// link keeps the base path pointing at the current file so tail -F on the
// configured path keeps working across rotations.
func (w *RotatingWriter) link(target string) {
	if info, err := os.Lstat(w.basePath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(w.basePath); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(w.basePath)
	}
	_ = os.Symlink(target, w.basePath)
}

// prune removes rotated files older than the retention window.
func (w *RotatingWriter) prune(dir, prefix, ext string) {
	if w.maxAgeDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -w.maxAgeDays).Format("20060102")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ext)
		if i := strings.IndexByte(stamp, '-'); i >= 0 {
			stamp = stamp[:i]
		}
		if len(stamp) == 8 && stamp < cutoff {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}

func (w *RotatingWriter) split() (dir, prefix, ext string) {
	dir, name := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	ext = filepath.Ext(name)
	prefix = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	return dir, prefix, ext
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
