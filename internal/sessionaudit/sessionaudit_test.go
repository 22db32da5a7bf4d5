package sessionaudit

import (
	"testing"
	"time"
)

func TestRecordRunCreatesThenIncrements(t *testing.T) {
	s := New(t.TempDir())

	now := time.Now().UTC()
	s.RecordRun("sess-1", "thread-1", "ws-1", now)

	rec, err := s.Get("sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.RunCount != 1 {
		t.Fatalf("expected RunCount 1, got %+v", rec)
	}

	later := now.Add(time.Minute)
	s.RecordRun("sess-1", "thread-1", "ws-1", later)

	rec, err = s.Get("sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.RunCount != 2 {
		t.Fatalf("expected RunCount 2, got %d", rec.RunCount)
	}
	if !rec.LastRun.Equal(later) {
		t.Fatalf("expected LastRun %v, got %v", later, rec.LastRun)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := New(t.TempDir())
	rec, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestDeleteOlderThanRemovesStaleRecords(t *testing.T) {
	s := New(t.TempDir())

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	s.Write(Record{SessionID: "stale", Created: old, LastRun: old})
	s.Write(Record{SessionID: "fresh", Created: recent, LastRun: recent})

	deleted, err := s.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "stale" {
		t.Fatalf("expected only 'stale' deleted, got %v", deleted)
	}

	if rec, _ := s.Get("stale"); rec != nil {
		t.Fatal("expected stale record to be removed")
	}
	if rec, _ := s.Get("fresh"); rec == nil {
		t.Fatal("expected fresh record to remain")
	}
}

func TestListReturnsAllRecords(t *testing.T) {
	s := New(t.TempDir())
	s.Write(Record{SessionID: "a", Created: time.Now().UTC()})
	s.Write(Record{SessionID: "b", Created: time.Now().UTC()})

	recs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}
