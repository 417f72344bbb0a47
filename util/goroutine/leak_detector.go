package goroutine

import (
	"runtime"
	"testing"
	"time"
)

const (
	pollInterval = 10 * time.Millisecond
	drainTimeout = 5 * time.Second
)

// Baseline is the goroutine count observed before work that fans out.
type Baseline int

// TakeBaseline records the current goroutine count.
func TakeBaseline() Baseline {
	return Baseline(runtime.NumGoroutine())
}

// Extra returns how many goroutines run above the baseline right now.
func (b Baseline) Extra() int {
	return runtime.NumGoroutine() - int(b)
}

// Drained polls until the goroutine count is back at the baseline or timeout
// elapses, and returns how many goroutines are still above it.
func (b Baseline) Drained(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for {
		extra := b.Extra()
		if extra <= 0 {
			return 0
		}
		if !time.Now().Before(deadline) {
			return extra
		}
		time.Sleep(pollInterval)
	}
}

// AssertDrained fails t when goroutines started after b are still running.
func AssertDrained(t testing.TB, b Baseline) {
	t.Helper()
	if extra := b.Drained(drainTimeout); extra > 0 {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("%d goroutines still running above baseline %d\n%s", extra, int(b), buf[:n])
	}
}

// AssertNoLeaks checks at cleanup that the test left no goroutines behind.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	b := TakeBaseline()
	t.Cleanup(func() {
		AssertDrained(t, b)
	})
}
