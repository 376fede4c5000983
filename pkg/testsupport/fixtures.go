// Package testsupport holds small helpers shared by tests across packages:
// fixture loading and polling for work that completes on another goroutine.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// LoadFixture reads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(tb testing.TB, path string) []byte {
	tb.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON reads a JSON fixture file and unmarshals it into dest.
// The path is relative to the test package directory.
func LoadFixtureJSON(tb testing.TB, path string, dest any) {
	tb.Helper()

	data := LoadFixture(tb, path)
	if err := json.Unmarshal(data, dest); err != nil {
		tb.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata
// directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// Eventually polls cond until it returns true or the timeout elapses, then
// fails the test. Use it to assert on work that finishes asynchronously,
// such as debounced refetches.
func Eventually(tb testing.TB, timeout time.Duration, cond func() bool) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("condition not met within %v", timeout)
}
