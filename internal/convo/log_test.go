package convo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTranscriptLogWriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	log := NewTranscriptLog(dir, "ticket-7")
	defer log.Close()

	log.Write("turn one")
	log.RotateAfterCompaction(1)
	log.Write("turn two")
	log.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript files after one rotation, got %d", len(entries))
	}
	foundRotated := false
	for _, e := range entries {
		if strings.Contains(e.Name(), "-c1.log") {
			foundRotated = true
		}
	}
	if !foundRotated {
		t.Fatalf("expected a -c1.log file among %v", entries)
	}
}

func TestTranscriptLogPrunesOldestBeyondCap(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < MaxTranscriptFiles+5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "ticket-9-"+padded(i)+".log"), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}
	log := NewTranscriptLog(dir, "ticket-9")
	defer log.Close()
	log.prune()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) > MaxTranscriptFiles {
		t.Fatalf("expected at most %d files after prune, got %d", MaxTranscriptFiles, len(entries))
	}
}

func padded(i int) string {
	s := "000000" + itoa(i)
	return s[len(s)-6:]
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
