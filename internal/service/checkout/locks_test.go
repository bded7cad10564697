package checkout

import (
	"context"
	"sync"
	"testing"
)

func TestUserLocker_EvictsReleasedEntries(t *testing.T) {
	var l userLocker

	unlock := l.lock("user-1")
	if got := l.held(); got != 1 {
		t.Fatalf("expected 1 held entry, got %d", got)
	}
	unlock()
	if got := l.held(); got != 0 {
		t.Fatalf("expected empty lock table after release, got %d entries", got)
	}
}

func TestUserLocker_SerializesContendedHolders(t *testing.T) {
	var l userLocker
	var wg sync.WaitGroup

	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
	if got := l.held(); got != 0 {
		t.Fatalf("expected empty lock table after all holders released, got %d entries", got)
	}
}

func TestCheckoutMutations_DoNotRetainUserLocks(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Begin(context.Background(), "user-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := f.svc.userLocks.held(); got != 0 {
		t.Fatalf("expected no retained user locks, got %d", got)
	}
}
