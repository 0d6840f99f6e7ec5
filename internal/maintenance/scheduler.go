// Package maintenance runs the calendar-scheduled upkeep jobs referenced
// by watchdog.go: conversation snapshot GC and orphaned clone sweep. Unlike
// the watchdog's fixed 60s tick, these run on cron expressions, so they are
// built on robfig/cron/v3's full scheduler instead of a plain time.Ticker.
package maintenance

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convostore"
)

// Scheduler owns the cron runtime and the jobs registered on it.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// NewScheduler builds a Scheduler with the default jobs registered:
// finished-conversation GC (daily) and orphaned clone sweep (hourly). Call
// Start to begin running them; call Stop to drain in-flight runs.
func NewScheduler(boardSvc *board.Service, store *convostore.Store, clonesDir string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron: cron.New(),
		log:  log,
	}
	if _, err := s.cron.AddFunc("@daily", s.gcFinishedConversationsJob(boardSvc, store)); err != nil {
		log.Error("maintenance: failed to register conversation GC job", "error", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.sweepOrphanedClonesJob(boardSvc, clonesDir)); err != nil {
		log.Error("maintenance: failed to register clone sweep job", "error", err)
	}
	return s
}

// Start begins running registered jobs on their schedules. Non-blocking:
// robfig/cron runs its own goroutine internally.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for any job in progress to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
