// File: internal/gid/gid_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package gid

import (
	"sync"
	"testing"
)

func TestGetStableWithinGoroutine(t *testing.T) {
	if Get() == 0 {
		t.Fatal("goroutine id not resolved")
	}
	if Get() != Get() {
		t.Fatal("id changed between calls on one goroutine")
	}
}

func TestGetDiffersAcrossGoroutines(t *testing.T) {
	mine := Get()
	var other int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		other = Get()
	}()
	wg.Wait()
	if other == 0 || other == mine {
		t.Fatalf("ids = %d / %d, want distinct nonzero", mine, other)
	}
}
