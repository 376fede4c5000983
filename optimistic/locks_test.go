package optimistic

import (
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

func TestKeyLocks_SerializesSameKey(t *testing.T) {
	locks := NewKeyLocks()
	key := querycache.NewKey("orders")

	// Unsynchronized except for the lock under test; the race detector
	// flags any overlap.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestKeyLocks_EquivalentKeysShareOneLock(t *testing.T) {
	locks := NewKeyLocks()
	unlock := locks.Lock(querycache.NewKey("orders", "open"))

	acquired := make(chan struct{})
	go func() {
		u := locks.Lock(querycache.NewKey("orders", "open"))
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the first still held the key")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired after release")
	}
}

func TestKeyLocks_DistinctKeysDoNotContend(t *testing.T) {
	locks := NewKeyLocks()
	unlock := locks.Lock(querycache.NewKey("orders"))
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := locks.Lock(querycache.NewKey("customers"))
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated key blocked by a held lock")
	}
}
