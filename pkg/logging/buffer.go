package logging

import (
	"strings"
	"sync"
)

// recentLines is how many lines LogCaptureWriter keeps.
const recentLines = 100

// LogCaptureWriter is a thread-safe writer that stores the most recent lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

// GlobalLogCapture is the singleton instance for capturing logs.
var GlobalLogCapture = &LogCaptureWriter{}

// Write implements io.Writer. Each call is stored as one line.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lines == nil {
		w.lines = make([]string, recentLines)
	}
	w.lines[w.next] = line
	w.next = (w.next + 1) % recentLines
	if w.next == 0 {
		w.full = true
	}
	return len(p), nil
}

// GetLastLine returns the most recent log line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lines == nil || (!w.full && w.next == 0) {
		return ""
	}
	return w.lines[(w.next-1+recentLines)%recentLines]
}

// Recent returns up to n lines, oldest first.
func (w *LogCaptureWriter) Recent(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	count := w.next
	if w.full {
		count = recentLines
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]string, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, w.lines[(w.next-i+recentLines)%recentLines])
	}
	return out
}
