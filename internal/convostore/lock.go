// Package convostore implements the Conversation Store (C9): one JSON file
// per ticket mapping conversation id to its persisted snapshot, guarded by a
// lazily-created per-ticket lock. There is no in-memory cache — every call
// reads and writes the file fresh, so a human editing the file between calls
// is always seen on the next read.
package convostore

import "sync"

// lockTable hands out one *sync.Mutex per ticket id, created lazily via
// sync.Map.LoadOrStore so concurrent first-touches of the same ticket don't
// race to create two different locks.
type lockTable struct {
	locks sync.Map // map[string]*sync.Mutex
}

func (t *lockTable) forTicket(ticketID string) *sync.Mutex {
	if m, ok := t.locks.Load(ticketID); ok {
		return m.(*sync.Mutex)
	}
	actual, _ := t.locks.LoadOrStore(ticketID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
