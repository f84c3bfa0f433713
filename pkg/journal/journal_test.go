package journal

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"berryplc/pkg/log"
)

func quiet() *log.Logger {
	l := log.New("journal-test")
	l.SetWriter(io.Discard)
	return l
}

func TestRecordAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, quiet())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	j.Record(Event{At: base, Type: EventStartup})
	j.Record(Event{At: base.Add(time.Second), Type: EventStepChange, Source: "fill", Detail: "active"})
	j.Record(Event{At: base.Add(2 * time.Second), Type: EventMoveDone, Source: "x", Detail: "steps=800"})
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen to prove the events hit disk.
	j2, err := Open(path, quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	events, err := j2.Query(context.Background(), base.Add(-time.Minute), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventStartup {
		t.Errorf("first event = %s, want startup", events[0].Type)
	}
	if events[1].Source != "fill" || events[1].Detail != "active" {
		t.Errorf("step event = %+v", events[1])
	}
	if !events[2].At.Equal(base.Add(2 * time.Second)) {
		t.Errorf("timestamp not preserved: %v", events[2].At)
	}
}

func TestQueryFilters(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		j.Record(Event{At: base.Add(time.Duration(i) * time.Second), Type: EventOverrun, Source: "scan"})
	}
	j.Record(Event{At: base, Type: EventEstop})

	// Wait for the async writer to drain.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := j.Query(context.Background(), base.Add(-time.Minute), 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) == 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("writer drained %d of 6 events", len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}

	overruns, err := j.Query(context.Background(), base.Add(-time.Minute), 0, EventOverrun)
	if err != nil {
		t.Fatal(err)
	}
	if len(overruns) != 5 {
		t.Errorf("type filter returned %d events, want 5", len(overruns))
	}

	limited, err := j.Query(context.Background(), base.Add(-time.Minute), 2, EventOverrun)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit returned %d events, want 2", len(limited))
	}

	since, err := j.Query(context.Background(), base.Add(2500*time.Millisecond), 0, EventOverrun)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("since filter returned %d events, want 2", len(since))
	}
}

func TestZeroTimeIsStamped(t *testing.T) {
	j, err := Open(":memory:", quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	before := time.Now().Add(-time.Second)
	j.Record(Event{Type: EventFault, Detail: "test"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := j.Query(context.Background(), before, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) == 1 {
			if events[0].At.Before(before) {
				t.Error("zero At not stamped with current time")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("event never written")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNothingDroppedUnderNormalLoad(t *testing.T) {
	j, err := Open(":memory:", quiet())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	for i := 0; i < 100; i++ {
		j.Record(Event{Type: EventStepChange, Source: "s"})
	}
	if j.Dropped() != 0 {
		t.Errorf("dropped %d events with a near-idle writer", j.Dropped())
	}
}
