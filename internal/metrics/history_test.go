package metrics

import "testing"

func TestHistoryRecentOrdersNewestFirst(t *testing.T) {
	h := NewHistory(3)
	h.Add(ExecutionRecord{WorkspaceID: "ws-1"})
	h.Add(ExecutionRecord{WorkspaceID: "ws-2"})
	h.Add(ExecutionRecord{WorkspaceID: "ws-3"})

	recent := h.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	want := []string{"ws-3", "ws-2", "ws-1"}
	for i, w := range want {
		if recent[i].WorkspaceID != w {
			t.Errorf("recent[%d] = %q, want %q", i, recent[i].WorkspaceID, w)
		}
	}
}

func TestHistoryWrapsAtCapacity(t *testing.T) {
	h := NewHistory(2)
	h.Add(ExecutionRecord{WorkspaceID: "ws-1"})
	h.Add(ExecutionRecord{WorkspaceID: "ws-2"})
	h.Add(ExecutionRecord{WorkspaceID: "ws-3"})

	recent := h.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2 (capacity-bounded)", len(recent))
	}
	if recent[0].WorkspaceID != "ws-3" || recent[1].WorkspaceID != "ws-2" {
		t.Errorf("recent = %+v, want [ws-3 ws-2]", recent)
	}
}

func TestHistoryRecentLimit(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 5; i++ {
		h.Add(ExecutionRecord{WorkspaceID: "ws"})
	}
	if got := len(h.Recent(2)); got != 2 {
		t.Errorf("Recent(2) returned %d records, want 2", got)
	}
}
