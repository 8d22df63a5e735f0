package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"streamhost/internal/journal"
	"streamhost/internal/stream"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(context.Background(), filepath.Join(t.TempDir(), "state", journal.FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []stream.Event{
		{Type: stream.EventStarted, SessionID: "s1", CorrelationID: "playlist-7", PID: 100, Time: base},
		{Type: stream.EventCrashed, SessionID: "s1", ExitCode: 1, Error: "Connection refused", Time: base.Add(time.Second)},
		{Type: stream.EventRestartScheduled, SessionID: "s1", Attempt: 1, Delay: 5 * time.Second, Time: base.Add(2 * time.Second)},
		{Type: stream.EventStarted, SessionID: "s2", Time: base.Add(time.Hour)},
	}
	for _, ev := range events {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := store.Recent(ctx, 10, "")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 4 || all[0].SessionID != "s2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	s1, err := store.Recent(ctx, 2, "s1")
	if err != nil {
		t.Fatalf("Recent s1: %v", err)
	}
	if len(s1) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(s1))
	}
	scheduled := s1[0]
	if scheduled.Type != stream.EventRestartScheduled || scheduled.Delay != 5*time.Second || scheduled.Attempt != 1 {
		t.Fatalf("unexpected entry %+v", scheduled)
	}
	if !scheduled.Time.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("time = %v", scheduled.Time)
	}
	if s1[1].Error != "Connection refused" || s1[1].ExitCode != 1 {
		t.Fatalf("crash entry lost fields: %+v", s1[1])
	}
}

func TestPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()
	_ = store.Record(ctx, stream.Event{Type: stream.EventStarted, SessionID: "old", Time: now.Add(-48 * time.Hour)})
	_ = store.Record(ctx, stream.Event{Type: stream.EventStarted, SessionID: "new", Time: now})

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	left, _ := store.Recent(ctx, 10, "")
	if len(left) != 1 || left[0].SessionID != "new" {
		t.Fatalf("unexpected remaining %+v", left)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), journal.FileName)
	ctx := context.Background()
	store, err := journal.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(ctx, stream.Event{Type: stream.EventGivenUp, SessionID: "s1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	store, err = journal.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	entries, err := store.Recent(ctx, 0, "")
	if err != nil || len(entries) != 1 || entries[0].Type != stream.EventGivenUp {
		t.Fatalf("entries = %+v, err = %v", entries, err)
	}
	if entries[0].Time.IsZero() {
		t.Fatalf("zero event time should be stamped on write")
	}
}

func TestObserverRecords(t *testing.T) {
	store := openStore(t)
	obs := store.Observer(nil)
	obs.OnEvent(context.Background(), stream.Event{Type: stream.EventStopped, SessionID: "s9"})

	entries, err := store.Recent(context.Background(), 1, "s9")
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %+v, err = %v", entries, err)
	}
}

func TestObserverSurvivesClosedStore(t *testing.T) {
	store := openStore(t)
	_ = store.Close()
	store.Observer(nil).OnEvent(context.Background(), stream.Event{Type: stream.EventStopped, SessionID: "s9"})
	if _, err := store.Recent(context.Background(), 1, ""); err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected closed database error, got %v", err)
	}
}
