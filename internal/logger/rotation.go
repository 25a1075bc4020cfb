package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotationOptions bounds the size and age of a log file and its backups.
type RotationOptions struct {
	MaxBytes int64         // rotate before a write would exceed this; 0 rotates every write
	MaxAge   time.Duration // backups older than this are removed on rotation; 0 keeps all
	Compress bool          // gzip backups after rotation
}

// RotatingWriter is a size-rotated log file. The sync manager, watcher and
// worker goroutines share one logger, so writes are serialized.
type RotatingWriter struct {
	mu    sync.Mutex
	path  string
	opts  RotationOptions
	file  *os.File
	size  int64
	seq   int
	bgJob sync.WaitGroup
}

// NewRotatingWriter opens path for appending, creating its directory, and
// removes expired backups.
func NewRotatingWriter(path string, opts RotationOptions) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{path: path, opts: opts}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune(time.Now())
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when the file would grow past MaxBytes.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size+int64(len(p)) > w.opts.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the file and waits for pending backup compression.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	w.mu.Unlock()

	w.bgJob.Wait()
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	now := time.Now()
	w.seq++
	backup := fmt.Sprintf("%s.%s-%d", w.path, now.Format("20060102-150405"), w.seq)
	if err := os.Rename(w.path, backup); err != nil {
		return err
	}

	if w.opts.Compress {
		w.bgJob.Add(1)
		go func() {
			defer w.bgJob.Done()
			_ = gzipFile(backup)
		}()
	}

	if err := w.open(); err != nil {
		return err
	}
	w.prune(now)
	return nil
}

// prune removes backups last modified before now-MaxAge.
func (w *RotatingWriter) prune(now time.Time) {
	if w.opts.MaxAge <= 0 {
		return
	}
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	cutoff := now.Add(-w.opts.MaxAge)
	for _, b := range backups {
		info, err := os.Stat(b)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(b)
		if !strings.HasSuffix(b, ".gz") {
			os.Remove(b + ".gz")
		}
	}
}

// gzipFile replaces path with path.gz.
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

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
