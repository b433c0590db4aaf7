package slogutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
)

// LogFile is an append-only log file that rolls over to path.1 ... path.N
// once it would exceed its size limit. A zero limit never rolls.
type LogFile struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	f       *os.File
	written int64
	rollErr error
}

// OpenLogFile opens path for appending, creating parent directories.
func OpenLogFile(path string, limit int64, backups int) (*LogFile, error) {
	lf := &LogFile{path: path, limit: limit, backups: backups}
	f, size, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	lf.f, lf.written = f, size
	return lf, nil
}

func openAppend(path string) (*os.File, int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, 0, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Write rolls the file first when p would push it past the limit. A failed
// roll keeps writing to the current file and is returned by the first Write
// that hits it; later failures stay quiet until a roll succeeds.
func (l *LogFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rollErr error
	if l.limit > 0 && l.written > 0 && l.written+int64(len(p)) > l.limit {
		if err := l.roll(); err != nil {
			if l.rollErr == nil {
				rollErr = fmt.Errorf("roll %s: %w", l.path, err)
			}
			l.rollErr = err
		} else {
			l.rollErr = nil
		}
	}
	n, err := l.f.Write(p)
	l.written += int64(n)
	if err != nil {
		return n, err
	}
	return n, rollErr
}

// Close closes the current file.
func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// roll leaves l.f open and usable when it fails.
func (l *LogFile) roll() error {
	if l.backups <= 0 {
		if err := l.f.Truncate(0); err != nil {
			return err
		}
		l.written = 0
		return nil
	}

	_ = os.Remove(l.backup(l.backups))
	for i := l.backups - 1; i >= 1; i-- {
		_ = os.Rename(l.backup(i), l.backup(i+1))
	}
	if err := os.Rename(l.path, l.backup(1)); err != nil {
		return err
	}
	f, size, err := openAppend(l.path)
	if err != nil {
		_ = os.Rename(l.backup(1), l.path)
		return err
	}
	old := l.f
	l.f, l.written = f, size
	return old.Close()
}

func (l *LogFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", l.path, n)
}

// NewFileLoggerWithLimit creates a line-format logger writing to a LogFile.
// maxSize is a human size such as "10MB" or "512KiB"; empty disables rolling.
func NewFileLoggerWithLimit(path string, level slog.Level, maxSize string, backups int) (*slog.Logger, io.Closer, error) {
	var limit int64
	if maxSize != "" {
		n, err := humanize.ParseBytes(maxSize)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log size %q: %w", maxSize, err)
		}
		limit = int64(n)
	}
	lf, err := OpenLogFile(path, limit, backups)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(lf, level), lf, nil
}
