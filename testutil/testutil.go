// Package testutil provides shared test fixtures: a temp-dir backed
// store.Store and a deterministic clock, mirroring the teacher's
// testutil.TestEnv idiom of bundling throwaway on-disk state per test.
package testutil

import (
	"testing"
	"time"

	"github.com/disconnec/FeiSync/internal/store"
)

// NewStore creates a store.Store rooted at a fresh t.TempDir(), cleaned up
// automatically when the test completes.
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}

	return st
}

// FakeClock is a settable time.Time source satisfying the Clock interfaces
// in internal/transfer and internal/cronsched.
type FakeClock struct {
	now time.Time
}

// NewFakeClock creates a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the clock's current time.
func (c *FakeClock) Now() time.Time { return c.now }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Set pins the clock to t.
func (c *FakeClock) Set(t time.Time) { c.now = t }
