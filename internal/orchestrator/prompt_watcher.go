package orchestrator

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchPrompts logs every write/create/remove under dir until ctx is
// cancelled. FilePromptLoader already re-reads its file on every
// conversation reconstitution, so nothing here needs to invalidate a
// cache; this exists purely so a prompt edit mid-ticket shows up in
// the worker's log as an auditable event rather than silently
// changing what the next LLM call sees.
func WatchPrompts(ctx context.Context, dir string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
					log.Info("orchestrator: prompt file changed", "path", event.Name, "op", event.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("orchestrator: prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}
