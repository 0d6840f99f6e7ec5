package convo

import "testing"

func TestMemoryStoreAddDedup(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryDecision, "use postgres")
	s.Add(MemoryDecision, "use postgres")
	snap := s.Snapshot()
	if len(snap[MemoryDecision]) != 1 {
		t.Fatalf("expected 1 entry after duplicate add, got %d", len(snap[MemoryDecision]))
	}
}

func TestMemoryStoreAddIgnoresEmpty(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryDecision, "   ")
	snap := s.Snapshot()
	if len(snap[MemoryDecision]) != 0 {
		t.Fatalf("expected empty-text add to be ignored")
	}
}

func TestMemoryStoreRemoveTolerantPrefix(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryConstraint, "never delete the audit log without approval")
	if !s.Remove(MemoryConstraint, "never delete the audit") {
		t.Fatalf("expected prefix match removal to succeed")
	}
	snap := s.Snapshot()
	if len(snap[MemoryConstraint]) != 0 {
		t.Fatalf("expected entry removed")
	}
}

func TestMemoryStoreRemoveRequiresMinPrefix(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryConstraint, "xyz123")
	if s.Remove(MemoryConstraint, "xy") {
		t.Fatalf("expected removal with < 6 shared chars to fail")
	}
}

func TestMemoryStoreSnapshotIsIndependent(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryReference, "doc link")
	snap := s.Snapshot()
	snap[MemoryReference][0] = "mutated"
	if s.Snapshot()[MemoryReference][0] != "doc link" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestMemoryStoreRestore(t *testing.T) {
	s := NewMemoryStore()
	s.Restore(map[MemoryLabel][]string{MemoryInvariant: {"a", "b"}})
	snap := s.Snapshot()
	if len(snap[MemoryInvariant]) != 2 {
		t.Fatalf("expected restored entries, got %v", snap)
	}
}

func TestMemoryStoreRenderBlockEmpty(t *testing.T) {
	s := NewMemoryStore()
	block := s.RenderBlock()
	if block != "[Memories]\n(none yet)\n" {
		t.Fatalf("unexpected empty render: %q", block)
	}
}

func TestMemoryStoreRenderBlockSorted(t *testing.T) {
	s := NewMemoryStore()
	s.Add(MemoryOpenItem, "pending question")
	s.Add(MemoryDecision, "chose option A")
	block := s.RenderBlock()
	want := "[Memories]\n- DECISION: chose option A\n- OPEN_ITEM: pending question\n"
	if block != want {
		t.Fatalf("unexpected render order:\n%q\nwant:\n%q", block, want)
	}
}

func TestValidMemoryLabel(t *testing.T) {
	if !ValidMemoryLabel(MemoryInvariant) {
		t.Fatalf("expected INVARIANT to be valid")
	}
	if ValidMemoryLabel(MemoryLabel("NOT_A_LABEL")) {
		t.Fatalf("expected unknown label to be invalid")
	}
}
