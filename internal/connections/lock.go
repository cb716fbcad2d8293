package connections

import (
	"sync"

	"cabinmap/core-go/internal/meta"
)

type lockKey struct {
	kind meta.Kind
	id   int64
}

type refLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes read-modify-write cycles per (kind, id). Entries are
// dropped once no goroutine holds or waits for them. A nil keyedMutex never
// blocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[lockKey]*refLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[lockKey]*refLock{}}
}

func (k *keyedMutex) lock(kind meta.Kind, id int64) func() {
	if k == nil {
		return func() {}
	}
	key := lockKey{kind: kind, id: id}

	k.mu.Lock()
	l := k.locks[key]
	if l == nil {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
