package batch

import (
	"sync"
)

// EventKind identifies a point in a batch's lifecycle.
type EventKind int

const (
	EventBatchStarted EventKind = iota
	EventItemStarted
	EventItemCompleted
	EventItemFailed
	EventItemCanceled
	EventBatchCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventBatchStarted:
		return "batch_started"
	case EventItemStarted:
		return "item_started"
	case EventItemCompleted:
		return "item_completed"
	case EventItemFailed:
		return "item_failed"
	case EventItemCanceled:
		return "item_canceled"
	case EventBatchCompleted:
		return "batch_completed"
	default:
		return "unknown"
	}
}

// Progress is a snapshot of batch state at the moment an event fired.
// Completed counts every terminal outcome, including canceled items.
type Progress struct {
	Total      int
	Completed  int
	Successful int
	Failed     int
	Canceled   int
	InFlight   []string
}

// Event is the single structured progress notification emitted to
// Options.OnProgress. ItemID, Attempts and Err are set only on
// item-level kinds.
type Event struct {
	Kind     EventKind
	BatchID  string
	ItemID   string
	Attempts int
	Err      error
	Progress Progress
}

// tracker turns worker activity into Events. It holds no authority over
// scheduling; a nil callback reduces every method to counter upkeep.
//
// Emission is serialized under one mutex so each event carries a
// consistent snapshot. Per-item ordering (started before terminal)
// holds because both fire from the item's own worker goroutine;
// cross-item ordering is unspecified.
type tracker struct {
	mu         sync.Mutex
	batchID    string
	total      int
	completed  int
	successful int
	failed     int
	canceled   int
	inFlight   map[string]struct{}
	fn         func(Event)
}

func newTracker(batchID string, total, alreadyCompleted int, fn func(Event)) *tracker {
	return &tracker{
		batchID:   batchID,
		total:     total,
		completed: alreadyCompleted,
		inFlight:  make(map[string]struct{}),
		fn:        fn,
	}
}

func (t *tracker) snapshotLocked() Progress {
	ids := make([]string, 0, len(t.inFlight))
	for id := range t.inFlight {
		ids = append(ids, id)
	}
	return Progress{
		Total:      t.total,
		Completed:  t.completed,
		Successful: t.successful,
		Failed:     t.failed,
		Canceled:   t.canceled,
		InFlight:   ids,
	}
}

func (t *tracker) emitLocked(ev Event) {
	if t.fn == nil {
		return
	}
	ev.BatchID = t.batchID
	ev.Progress = t.snapshotLocked()
	t.fn(ev)
}

func (t *tracker) batchStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(Event{Kind: EventBatchStarted})
}

func (t *tracker) itemStarted(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[id] = struct{}{}
	t.emitLocked(Event{Kind: EventItemStarted, ItemID: id})
}

func (t *tracker) itemDone(id string, status Status, attempts int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
	t.completed++
	kind := EventItemCompleted
	switch status {
	case StatusOK:
		t.successful++
	case StatusFailed:
		t.failed++
		kind = EventItemFailed
	case StatusCanceled:
		t.canceled++
		kind = EventItemCanceled
	}
	t.emitLocked(Event{Kind: kind, ItemID: id, Attempts: attempts, Err: err})
}

// itemSkipped records a canceled item that was never dispatched.
func (t *tracker) itemSkipped(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.canceled++
	t.emitLocked(Event{Kind: EventItemCanceled, ItemID: id})
}

func (t *tracker) batchCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(Event{Kind: EventBatchCompleted})
}
