package core

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrorKind classifies recoverable failures collected during a run.
type ErrorKind string

const (
	// ErrorKindDecode is a single record that could not be decoded.
	ErrorKindDecode ErrorKind = "decode"
	// ErrorKindContainer is a container that could not be opened or read.
	ErrorKindContainer ErrorKind = "container"
	// ErrorKindRule is a rule file that failed to load.
	ErrorKindRule ErrorKind = "rule"
	// ErrorKindTimestamp is a record whose time field could not be parsed.
	ErrorKindTimestamp ErrorKind = "timestamp"
)

// ErrorEntry is one recoverable failure.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Kind    ErrorKind `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

func (e ErrorEntry) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", e.Time.Format(time.RFC3339), e.Kind, e.Source, e.Message)
}

// ErrorLog accumulates recoverable failures for one run. It is safe for
// concurrent use.
type ErrorLog struct {
	mu      sync.Mutex
	entries []ErrorEntry
	now     func() time.Time
}

// NewErrorLog creates an empty error log.
func NewErrorLog() *ErrorLog {
	return &ErrorLog{now: time.Now}
}

// Add records a failure of the given kind.
func (l *ErrorLog) Add(kind ErrorKind, source string, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ErrorEntry{
		Time:    l.now(),
		Kind:    kind,
		Source:  source,
		Message: err.Error(),
	})
}

// Len returns the number of recorded failures.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded failures in insertion order.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// CountByKind returns how many failures of each kind were recorded.
func (l *ErrorLog) CountByKind() map[ErrorKind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[ErrorKind]int)
	for _, e := range l.entries {
		counts[e.Kind]++
	}
	return counts
}

// WriteTo writes one line per failure to w.
func (l *ErrorLog) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range l.Entries() {
		n, err := fmt.Fprintln(w, e.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
