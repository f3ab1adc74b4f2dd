package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestProgressEventLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	r := New[string, string](Options{
		Workers: 1,
		Retry:   fastRetry,
		BatchID: "observed",
		OnProgress: func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	_, err := r.Run(context.Background(), makeItems("a", "bad", "c"), func(_ context.Context, p string) (string, error) {
		if p == "bad" {
			return "", AsPermanent(errors.New("rejected"))
		}
		return p, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if events[0].Kind != EventBatchStarted {
		t.Fatalf("first event = %v; want batch_started", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != EventBatchCompleted {
		t.Fatalf("last event = %v; want batch_completed", last.Kind)
	}
	if last.Progress.Total != 3 || last.Progress.Completed != 3 ||
		last.Progress.Successful != 2 || last.Progress.Failed != 1 {
		t.Fatalf("final snapshot = %+v", last.Progress)
	}
	if len(last.Progress.InFlight) != 0 {
		t.Fatalf("in-flight after completion = %v; want empty", last.Progress.InFlight)
	}

	// per-item ordering: started before terminal
	started := make(map[string]bool)
	for _, ev := range events {
		if ev.BatchID != "observed" {
			t.Fatalf("event carries batch id %q; want observed", ev.BatchID)
		}
		switch ev.Kind {
		case EventItemStarted:
			started[ev.ItemID] = true
		case EventItemCompleted, EventItemFailed:
			if !started[ev.ItemID] {
				t.Fatalf("item %q terminal event before start", ev.ItemID)
			}
		}
	}

	var failed *Event
	for i := range events {
		if events[i].Kind == EventItemFailed {
			failed = &events[i]
		}
	}
	if failed == nil || failed.ItemID != "bad" || failed.Err == nil || failed.Attempts != 1 {
		t.Fatalf("failed event = %+v; want item bad with error and 1 attempt", failed)
	}
}

func TestProgressInFlightBounded(t *testing.T) {
	const workers = 3
	var mu sync.Mutex
	maxInFlight := 0

	r := New[string, string](Options{
		Workers: workers,
		Retry:   fastRetry,
		OnProgress: func(ev Event) {
			mu.Lock()
			if n := len(ev.Progress.InFlight); n > maxInFlight {
				maxInFlight = n
			}
			mu.Unlock()
		},
	})
	items := makeItems("a", "b", "c", "d", "e", "f", "g", "h")
	if _, err := r.Run(context.Background(), items, func(_ context.Context, p string) (string, error) {
		return p, nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight > workers {
		t.Fatalf("in-flight reached %d; want <= %d", maxInFlight, workers)
	}
	if maxInFlight == 0 {
		t.Fatal("no in-flight items ever observed")
	}
}

func TestProgressCallbackOptional(t *testing.T) {
	// nil OnProgress must not change outcomes
	r := New[string, string](Options{Workers: 2, Retry: fastRetry})
	results, err := r.Run(context.Background(), makeItems("a", "b"), func(_ context.Context, p string) (string, error) {
		return p, nil
	})
	if err != nil || len(results) != 2 || !results[0].OK() || !results[1].OK() {
		t.Fatalf("results = %+v, err = %v", results, err)
	}
}

func TestEventKindStrings(t *testing.T) {
	kinds := map[EventKind]string{
		EventBatchStarted:   "batch_started",
		EventItemStarted:    "item_started",
		EventItemCompleted:  "item_completed",
		EventItemFailed:     "item_failed",
		EventItemCanceled:   "item_canceled",
		EventBatchCompleted: "batch_completed",
	}
	for k, want := range kinds {
		if got := k.String(); got != want {
			t.Fatalf("kind %d String() = %q; want %q", int(k), got, want)
		}
	}
	if got := Status(99).String(); got != "unknown" {
		t.Fatalf("out-of-range status String() = %q", got)
	}
}
