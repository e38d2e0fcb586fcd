package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond until it returns true or timeout expires, failing t
// with msg on expiry. The poll interval is a small fraction of the timeout.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	interval := timeout / 100
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(interval)
	}

	if cond() {
		return
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
