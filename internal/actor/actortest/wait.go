package actortest

import (
	"testing"
	"time"
)

// Eventually polls cond every 5ms until it returns true or the timeout
// elapses, failing the test in the latter case.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf(format, args...)
	}
}
