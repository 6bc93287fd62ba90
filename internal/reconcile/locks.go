package reconcile

import (
	"slices"
	"sync"
)

// keyedLocks hands out one mutex per key. Entries are dropped once nobody
// holds or waits for them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyLock)}
}

func (k *keyedLocks) get(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedLocks) release(key string, l *keyLock) {
	l.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// lock acquires every key in sorted order, so two callers locking the same
// pair can never deadlock, and returns the function releasing them.
func (k *keyedLocks) lock(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyLock, len(keys))
	for i, key := range keys {
		held[i] = k.get(key)
		held[i].Lock()
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			k.release(keys[i], held[i])
		}
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func chargeKey(id string) string { return "chg:" + id }
func txnKey(id string) string    { return "txn:" + id }
