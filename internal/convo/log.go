package convo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxTranscriptFiles caps the number of per-compaction transcript log files
// kept per ticket; the oldest files beyond the cap are removed whenever a
// compaction rotates to a new file.
const MaxTranscriptFiles = 50

// TranscriptLog appends a human-readable transcript of one conversation to
// disk, under a new file each time a compaction runs. The naming follows
// <ticket>-<timestamp>-NNN.log for the initial file and
// <ticket>-<timestamp>-cN.log for the file opened after the Nth compaction,
// so a reviewer can tell how many compactions a conversation has been
// through by its directory listing alone.
type TranscriptLog struct {
	dir      string
	ticketID string
	seq      int

	mu   sync.Mutex
	file *os.File
	path string
}

// NewTranscriptLog opens (creating if necessary) the initial transcript file
// for ticketID under dir.
func NewTranscriptLog(dir, ticketID string) *TranscriptLog {
	l := &TranscriptLog{dir: dir, ticketID: ticketID}
	l.open(fmt.Sprintf("%s-%s-001.log", ticketID, time.Now().UTC().Format("20060102T150405")))
	return l
}

func (l *TranscriptLog) open(name string) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return
	}
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	l.mu.Lock()
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file = f
	l.path = path
	l.mu.Unlock()
}

// Write appends a single transcript line.
func (l *TranscriptLog) Write(line string) {
	l.mu.Lock()
	f := l.file
	l.mu.Unlock()
	if f == nil {
		return
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, _ = f.WriteString(fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), line))
}

// RotateAfterCompaction closes the current file and opens a fresh one
// suffixed -cN.log, where N is the chapter count just produced. It then
// prunes the ticket's transcript directory down to MaxTranscriptFiles,
// removing the oldest files first.
func (l *TranscriptLog) RotateAfterCompaction(chapterCount int) {
	l.seq++
	l.open(fmt.Sprintf("%s-%s-c%d.log", l.ticketID, time.Now().UTC().Format("20060102T150405"), chapterCount))
	l.prune()
}

func (l *TranscriptLog) prune() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	prefix := l.ticketID + "-"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= MaxTranscriptFiles {
		return
	}
	sort.Strings(names)
	excess := len(names) - MaxTranscriptFiles
	for _, name := range names[:excess] {
		_ = os.Remove(filepath.Join(l.dir, name))
	}
}

// Close releases the underlying file handle.
func (l *TranscriptLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
