package checkout

import "sync"

// lockTable is an arena of per-session mutexes. Entries are reference
// counted and removed when the last holder releases, so the table stays
// proportional to in-flight sessions rather than all sessions ever seen.
// Distinct sessions never contend; there is no global mutation lock.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session's exclusive lock is held and returns the
// release function. Release is safe on every exit path exactly once.
func (t *lockTable) acquire(id string) (release func()) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sessionLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			t.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(t.locks, id)
			}
			t.mu.Unlock()
		})
	}
}
