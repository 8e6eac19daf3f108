package backend

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// defaultMaxLogSize is the default maximum log file size before rotation.
	defaultMaxLogSize = 10 * 1024 * 1024 // 10 MB

	// defaultMaxLogFiles is the default number of rotated log files to keep.
	defaultMaxLogFiles = 5
)

// rotatingWriter is an io.Writer that rotates a track's ffmpeg stderr log
// when it exceeds a size limit, keeping a bounded number of gzip-compressed
// rotations. A long recording session can otherwise accumulate an
// unbounded stderr log from a chatty or looping ffmpeg invocation.
type rotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu   sync.Mutex
	file *os.File
	size int64
}

func newRotatingWriter(path string) (*rotatingWriter, error) {
	w := &rotatingWriter{path: path, maxSize: defaultMaxLogSize, maxFiles: defaultMaxLogFiles}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			// Better to risk exceeding the size cap than to lose the log
			// entirely; fall through and write anyway.
			_ = err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.file = nil
	}

	if err := w.shiftFiles(); err != nil {
		return err
	}

	rotated := w.rotatedPath(1)
	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log file: %w", err)
	}
	go w.compressFile(rotated)

	w.cleanup()
	return w.openFile()
}

func (w *rotatingWriter) openFile() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) shiftFiles() error {
	for i := w.maxFiles - 1; i >= 1; i-- {
		oldPath := w.rotatedPath(i)
		newPath := w.rotatedPath(i + 1)
		for _, ext := range []string{"", ".gz"} {
			old, new := oldPath+ext, newPath+ext
			if _, err := os.Stat(old); err == nil {
				if err := os.Rename(old, new); err != nil {
					return fmt.Errorf("shift log file %s -> %s: %w", old, new, err)
				}
			}
		}
	}
	return nil
}

func (w *rotatingWriter) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *rotatingWriter) compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	gzFile, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer gzFile.Close()

	gzWriter := gzip.NewWriter(gzFile)
	if _, err := gzWriter.Write(data); err != nil {
		os.Remove(path + ".gz")
		return
	}
	if err := gzWriter.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

func (w *rotatingWriter) cleanup() {
	for i := w.maxFiles + 1; i <= w.maxFiles+10; i++ {
		os.Remove(w.rotatedPath(i))
		os.Remove(w.rotatedPath(i) + ".gz")
	}
}
