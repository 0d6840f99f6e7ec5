package board

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// watchdogTick is the fixed sweep interval. It is not cron-expression
// driven, so a plain time.Ticker is used
// instead of robfig/cron/v3 (that package is reserved for the calendar-style
// maintenance sweeps in internal/maintenance).
const watchdogTick = 60 * time.Second

// staleAfter is the heartbeat staleness threshold that triggers reclaim.
const staleAfter = 5 * time.Minute

// HeartbeatStore tracks the last heartbeat seen per ticket. A worker calls
// Touch on every driver iteration (via the hub); the watchdog calls Last
// and Clear during its sweep.
type HeartbeatStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewHeartbeatStore returns an empty store.
func NewHeartbeatStore() *HeartbeatStore {
	return &HeartbeatStore{last: make(map[string]time.Time)}
}

// Touch records now as the last heartbeat for ticketID.
func (h *HeartbeatStore) Touch(ticketID string) {
	h.mu.Lock()
	h.last[ticketID] = time.Now()
	h.mu.Unlock()
}

// Last returns the last heartbeat for ticketID, and whether one exists at
// all. Absent heartbeats must not trigger failure: a newly-assigned
// worker may not have sent one yet.
func (h *HeartbeatStore) Last(ticketID string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.last[ticketID]
	return t, ok
}

// Clear removes ticketID's heartbeat entry, used after a reclaim so a
// re-activated ticket starts with a clean slate.
func (h *HeartbeatStore) Clear(ticketID string) {
	h.mu.Lock()
	delete(h.last, ticketID)
	h.mu.Unlock()
}

// Watchdog sweeps every watchdogTick, failing any Active ticket whose
// worker has gone silent for longer than staleAfter.
type Watchdog struct {
	svc        *Service
	heartbeats *HeartbeatStore
	log        *slog.Logger

	now func() time.Time // overridable for tests
}

// NewWatchdog builds a Watchdog over svc, tracking liveness in heartbeats.
func NewWatchdog(svc *Service, heartbeats *HeartbeatStore, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{svc: svc, heartbeats: heartbeats, log: logger, now: time.Now}
}

// Run blocks, sweeping every watchdogTick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep performs one pass over every Active ticket. Exported directly so
// tests (and a manual "sweep now" admin hook) don't have to wait a tick.
func (w *Watchdog) Sweep() {
	for _, t := range w.svc.List() {
		if t.Status != StatusActive {
			// Also the idempotent guard: a ticket reclaimed by a prior
			// sweep is no longer Active, so a double-fired tick is a no-op.
			continue
		}
		last, ok := w.heartbeats.Last(t.ID)
		if !ok {
			// A newly-assigned worker may not have sent a heartbeat yet.
			continue
		}
		staleness := w.now().Sub(last)
		if staleness <= staleAfter {
			continue
		}
		if err := t.TransitionStatus(StatusFailed); err != nil {
			continue
		}
		t.LogActivity("Watchdog: Worker unresponsive for %ds, marking as Failed", int(staleness.Seconds()))
		w.svc.persist(t)
		w.svc.bus.TicketUpdated(t)
		w.heartbeats.Clear(t.ID)
		w.log.Warn("board: reclaimed stale ticket", "ticket", t.ID, "staleness", staleness)
	}
}
