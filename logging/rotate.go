package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is a size-bounded, count-bounded rotating log sink
// implementing zapcore.WriteSyncer. No log-rotation library appears
// anywhere in this codebase's dependency lineage, so this stays on
// the standard library: os.Rename plus simple numeric suffixes cover
// the rotation policy the server needs (maxSizeBytes, maxBackups)
// without pulling in an external rotation package.
type RotatingFile struct {
	mu          sync.Mutex
	path        string
	maxSize     int64
	maxBackups  int
	file        *os.File
	currentSize int64
}

// NewRotatingFile opens (creating if necessary) path for appending,
// rotating once its size would exceed maxSize bytes and retaining up
// to maxBackups rotated copies.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	r := &RotatingFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.currentSize = info.Size()
	return nil
}

// Write implements io.Writer, rotating first if p would push the
// current file past maxSize.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSize+int64(len(p)) > r.maxSize && r.currentSize > 0 {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

// Sync implements zapcore.WriteSyncer.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Sync()
}

// Close closes the underlying file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// rotate must be called with r.mu held. It shifts
// path.N -> path.N+1 (dropping anything beyond maxBackups), moves the
// live file to path.1, then reopens path fresh.
func (r *RotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close log file before rotation: %w", err)
	}

	if r.maxBackups > 0 {
		oldest := fmt.Sprintf("%s.%d", r.path, r.maxBackups)
		os.Remove(oldest)

		for n := r.maxBackups - 1; n >= 1; n-- {
			src := fmt.Sprintf("%s.%d", r.path, n)
			dst := fmt.Sprintf("%s.%d", r.path, n+1)
			if _, err := os.Stat(src); err == nil {
				os.Rename(src, dst)
			}
		}
		if err := os.Rename(r.path, fmt.Sprintf("%s.1", r.path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rotate log file: %w", err)
		}
	} else {
		os.Remove(r.path)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("ensure log directory: %w", err)
	}
	return r.open()
}
