// File: timeout/timeout_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timeout

import (
	"testing"
	"time"
)

// fakeClock drives the manager's time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(timeoutSeconds int, cb func(int)) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	m := NewManager(timeoutSeconds, cb)
	m.now = clock.now
	return m, clock
}

func TestSweepBeforeExpiryDoesNotFire(t *testing.T) {
	var fired []int
	m, clock := newTestManager(2, func(fd int) { fired = append(fired, fd) })

	m.Add(7)
	clock.advance(1 * time.Second)
	m.Sweep()
	if len(fired) != 0 {
		t.Fatalf("fired %v before expiry", fired)
	}
}

func TestSweepAfterExpiryFiresOnce(t *testing.T) {
	var fired []int
	m, clock := newTestManager(2, func(fd int) { fired = append(fired, fd) })

	m.Add(7)
	clock.advance(3 * time.Second)
	m.Sweep()
	m.Sweep()
	if len(fired) != 1 || fired[0] != 7 {
		t.Fatalf("fired = %v, want exactly [7]", fired)
	}
	if m.Tracked(7) {
		t.Fatal("fd still tracked after firing")
	}
}

func TestUpdateDefersExpiry(t *testing.T) {
	var fired []int
	m, clock := newTestManager(2, func(fd int) { fired = append(fired, fd) })

	m.Add(7)
	clock.advance(1 * time.Second)
	m.Update(7)
	clock.advance(1500 * time.Millisecond) // 2.5s after add, 1.5s after update
	m.Sweep()
	if len(fired) != 0 {
		t.Fatalf("fired %v despite refresh", fired)
	}
	clock.advance(1 * time.Second) // 2.5s after update
	m.Sweep()
	if len(fired) != 1 {
		t.Fatalf("fired = %v, want one firing after refreshed deadline", fired)
	}
}

func TestRemoveSuppressesFiring(t *testing.T) {
	var fired []int
	m, clock := newTestManager(1, func(fd int) { fired = append(fired, fd) })

	m.Add(7)
	m.Remove(7)
	clock.advance(5 * time.Second)
	m.Sweep()
	if len(fired) != 0 {
		t.Fatalf("fired %v after removal", fired)
	}
}

func TestUpdateOnUntrackedFdIsNoop(t *testing.T) {
	m, _ := newTestManager(1, nil)
	m.Update(42)
	if m.Tracked(42) {
		t.Fatal("update resurrected an untracked fd")
	}
}

func TestSweepOrdersManyDescriptors(t *testing.T) {
	var fired []int
	m, clock := newTestManager(1, func(fd int) { fired = append(fired, fd) })

	for fd := 0; fd < 10; fd++ {
		m.Add(fd)
		clock.advance(100 * time.Millisecond)
	}
	// The earliest descriptors are now past deadline, the rest are not.
	clock.advance(100 * time.Millisecond)
	m.Sweep()
	if len(fired) == 0 || len(fired) == 10 {
		t.Fatalf("fired = %v, want a strict subset in expiry order", fired)
	}
	for i := 1; i < len(fired); i++ {
		if fired[i-1] > fired[i] {
			t.Fatalf("fired out of expiry order: %v", fired)
		}
	}
}

func TestCallbackMayReenterManager(t *testing.T) {
	var m *Manager
	var clock *fakeClock
	m, clock = newTestManager(1, func(fd int) {
		// Re-adding from the callback must not deadlock.
		m.Add(fd + 100)
	})
	m.Add(1)
	clock.advance(2 * time.Second)
	m.Sweep()
	if !m.Tracked(101) {
		t.Fatal("re-entrant Add from callback lost")
	}
}
