package thread

import "sync"

// Locks serializes work on individual threads. Entries are dropped once no
// goroutine holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	locks map[int64]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[int64]*threadLock)}
}

// Lock blocks until the caller holds the lock for threadID and returns the
// function that releases it.
func (l *Locks) Lock(threadID int64) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of threads currently locked or waited on.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
