package store

import "sync"

// WriteSerializer gates metadata-mutating transactions so that only one runs
// at a time. SQLite rejects concurrent write transactions from multiple
// connections, so every mutation entry point used under concurrent request
// handling must run inside With. Read-only queries don't need it.
type WriteSerializer struct {
	mu sync.Mutex
}

func NewWriteSerializer() *WriteSerializer {
	return &WriteSerializer{}
}

// With runs fn while holding the exclusive write lock. Acquisition blocks
// until the lock is free; the lock is released on every exit path.
func (ws *WriteSerializer) With(fn func() error) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return fn()
}
