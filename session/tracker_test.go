package session

import (
	"errors"
	"sync"
	"testing"
)

func TestTrackerExclusive(t *testing.T) {
	tr := NewTracker()

	release, err := tr.Acquire("s1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := tr.Acquire("s1"); !errors.Is(err, ErrConcurrentMutation) {
		t.Fatalf("second acquire should conflict, got %v", err)
	}

	release()

	release2, err := tr.Acquire("s1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestTrackerSessionsIndependent(t *testing.T) {
	tr := NewTracker()

	r1, err := tr.Acquire("s1")
	if err != nil {
		t.Fatal(err)
	}
	defer r1()

	r2, err := tr.Acquire("s2")
	if err != nil {
		t.Fatalf("different sessions must not conflict: %v", err)
	}
	defer r2()
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker()

	// Main goroutine holds the slot; every concurrent acquire must be
	// rejected rather than queued.
	release, err := tr.Acquire("shared")
	if err != nil {
		t.Fatal(err)
	}

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	conflicts := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.Acquire("shared"); errors.Is(err, ErrConcurrentMutation) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	release()

	if conflicts != goroutines {
		t.Errorf("expected %d conflicts, got %d", goroutines, conflicts)
	}
}
