package optimistic

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

// KeyLocks serializes mutations per partition key. Mutations on distinct
// keys never contend; mutations on the same key run one at a time, so a
// later mutation's snapshot can never capture an earlier mutation's
// tentative state.
type KeyLocks struct {
	locks *xsync.MapOf[string, *sync.Mutex]
}

// NewKeyLocks returns an empty lock registry.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: xsync.NewMapOf[string, *sync.Mutex]()}
}

// Lock acquires the mutex for key, creating it on first use, and returns
// the unlock function.
func (l *KeyLocks) Lock(key querycache.Key) func() {
	mu, _ := l.locks.LoadOrStore(key.String(), &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// defaultLocks serializes mutations whose config does not supply its own
// registry. Two stores that reuse a key string share a mutex here.
var defaultLocks = NewKeyLocks()
