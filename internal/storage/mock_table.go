package storage

// MockTable wraps a MemTable, adding two independently-togglable FIFO
// queues: a work queue (defers the operation itself) and a callback queue
// (defers the completion), giving tests deterministic control over async
// ordering (spec.md §4.3, §8 scenario 3).
type MockTable struct {
	inner *MemTable

	deferWork      bool
	deferCallbacks bool

	workQueue     []func()
	callbackQueue []func()
}

// NewMockTable wraps inner, a MemTable backing the mock's actual state.
func NewMockTable(inner *MemTable) *MockTable {
	return &MockTable{inner: inner}
}

// SetDeferWork toggles whether operations are queued instead of executed
// immediately.
func (t *MockTable) SetDeferWork(defer_ bool) { t.deferWork = defer_ }

// SetDeferCallbacks toggles whether completions are queued instead of
// invoked immediately.
func (t *MockTable) SetDeferCallbacks(defer_ bool) { t.deferCallbacks = defer_ }

func (t *MockTable) Name() string { return t.inner.Name() }

func (t *MockTable) Count(keyID int, keyPrefix []byte) (uint64, error) {
	return t.inner.Count(keyID, keyPrefix)
}

func (t *MockTable) Find(primaryKey []byte) (*Row, bool, error) {
	return t.inner.Find(primaryKey)
}

func (t *MockTable) Select(keyID int, dir Direction, inclusive bool, key []byte, mode KeyMode, limit int) ([]SelectEntry, error) {
	return t.inner.Select(keyID, dir, inclusive, key, mode, limit)
}

func (t *MockTable) Recover(un uint64) (*Row, bool, error) {
	return t.inner.Recover(un)
}

// Write enqueues (or immediately performs) the write, and enqueues (or
// immediately invokes) its commit callback, according to the current
// deferWork/deferCallbacks settings.
func (t *MockTable) Write(primaryKey, body []byte, tombstone bool, commit CommitFunc) error {
	perform := func() error {
		return t.inner.Write(primaryKey, body, tombstone, func(outcome CommitOutcome) {
			fire := func() {
				if commit != nil {
					commit(outcome)
				}
			}
			if t.deferCallbacks {
				t.callbackQueue = append(t.callbackQueue, fire)
			} else {
				fire()
			}
		})
	}

	if t.deferWork {
		var workErr error
		t.workQueue = append(t.workQueue, func() { workErr = perform(); _ = workErr })
		return nil
	}
	return perform()
}

// PerformWork drains the work queue in FIFO order, executing each deferred
// operation (and, per current deferCallbacks setting, either firing or
// queuing its completion).
func (t *MockTable) PerformWork() int {
	n := len(t.workQueue)
	queue := t.workQueue
	t.workQueue = nil
	for _, work := range queue {
		work()
	}
	return n
}

// PerformCallbacks drains the callback queue in FIFO order.
func (t *MockTable) PerformCallbacks() int {
	n := len(t.callbackQueue)
	queue := t.callbackQueue
	t.callbackQueue = nil
	for _, cb := range queue {
		cb()
	}
	return n
}

// PendingWork reports how many operations are queued but not yet performed.
func (t *MockTable) PendingWork() int { return len(t.workQueue) }

// PendingCallbacks reports how many completions are queued but not yet fired.
func (t *MockTable) PendingCallbacks() int { return len(t.callbackQueue) }
