package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/google/uuid"
)

// ErrNoStore is returned by Resume when the Runner has no Store.
var ErrNoStore = errors.New("batch: no store configured")

// Runner executes batches of independent items against an unreliable
// remote service under bounded parallelism, with retry, throttling,
// checkpointing, and progress reporting wired per its Options.
//
// A Runner is safe for reuse across batches; every call to Run or
// Resume is an independent execution sharing only the rate limiter.
type Runner[T, R any] struct {
	opts    Options
	limiter *Limiter
	active  atomic.Int32
}

// New builds a Runner. Zero Options fields are filled with defaults.
func New[T, R any](opts Options) *Runner[T, R] {
	opts.FillDefaults()
	return &Runner[T, R]{
		opts:    opts,
		limiter: NewLimiter(opts.RateLimit),
	}
}

// ActiveWorkers reports how many items are executing right now.
func (r *Runner[T, R]) ActiveWorkers() int32 { return r.active.Load() }

// Run executes items and returns one Result per item, index-aligned
// with the input regardless of completion order. Item-level failures
// are isolated into their Results; the returned error is reserved for
// batch-fatal conditions (bad input, checkpoint creation failure).
//
// With StopOnError set, the slice is truncated to the dispatched
// prefix. On cancellation the slice keeps full length and undispatched
// items carry StatusCanceled.
func (r *Runner[T, R]) Run(ctx context.Context, items []Item[T], fn ExecFunc[T, R]) ([]Result[R], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	batchID := r.opts.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	if r.opts.Store != nil {
		recs, err := encodeItems(items)
		if err != nil {
			return nil, err
		}
		rec := BatchRecord{
			BatchID:    batchID,
			CreatedAt:  time.Now().UTC(),
			TotalItems: len(items),
			Items:      recs,
		}
		if err := r.opts.Store.CreateBatch(ctx, rec); err != nil {
			return nil, fmt.Errorf("batch: create checkpoint: %w", err)
		}
	}

	return r.execute(ctx, batchID, items, 0, fn)
}

// Resume loads the batch's unprocessed items from the Store and runs
// exactly those. Items with a persisted result are never re-submitted.
// The returned slice covers only the resumed items; progress totals
// include previously completed counts.
func (r *Runner[T, R]) Resume(ctx context.Context, batchID string, fn ExecFunc[T, R]) ([]Result[R], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if r.opts.Store == nil {
		return nil, ErrNoStore
	}
	_, done, err := r.opts.Store.LoadBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch: load checkpoint: %w", err)
	}
	recs, err := r.opts.Store.UnprocessedItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch: load unprocessed: %w", err)
	}
	items, err := decodeItems[T](recs)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []Result[R]{}, nil
	}
	return r.execute(ctx, batchID, items, len(done), fn)
}

// execute fans items out over min(Workers, len(items)) workers. The
// pending queue is the input slice itself: workers claim the next index
// with an atomic counter, so dispatch order is strictly FIFO and the
// dispatched set is always a prefix of the input.
func (r *Runner[T, R]) execute(ctx context.Context, batchID string, items []Item[T], alreadyDone int, fn ExecFunc[T, R]) ([]Result[R], error) {
	logger := lg.FromContext(ctx).With(lg.String("batch", batchID))
	trk := newTracker(batchID, alreadyDone+len(items), alreadyDone, r.opts.OnProgress)
	trk.batchStarted()

	workers := r.opts.Workers
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]Result[R], len(items))
	var next atomic.Int64
	var stop atomic.Bool

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil || stop.Load() {
					return
				}
				idx := int(next.Add(1)) - 1
				if idx >= len(items) {
					return
				}
				it := items[idx]
				r.active.Add(1)
				trk.itemStarted(it.ID)
				logger.Info("item started",
					lg.String("item", it.ID),
					lg.Int32("active", r.active.Load()),
				)
				res := r.runItem(ctx, it, fn)
				results[idx] = res
				r.active.Add(-1)
				if res.Status != StatusCanceled {
					r.persist(ctx, batchID, res)
				}
				if res.Status == StatusFailed && r.opts.StopOnError {
					stop.Store(true)
				}
				trk.itemDone(it.ID, res.Status, res.Attempts, res.Err)
			}
		}()
	}
	wg.Wait()

	dispatched := int(next.Load())
	if dispatched > len(items) {
		dispatched = len(items)
	}

	if ctx.Err() != nil {
		// queued-but-undispatched items become canceled results
		for i := dispatched; i < len(items); i++ {
			results[i] = Result[R]{ID: items[i].ID, Status: StatusCanceled, Err: ctx.Err()}
			trk.itemSkipped(items[i].ID)
		}
		trk.batchCompleted()
		return results, nil
	}

	if stop.Load() && dispatched < len(items) {
		logger.Warn("stopping on permanent failure",
			lg.Int("dispatched", dispatched),
			lg.Int("total", len(items)),
		)
		results = results[:dispatched]
	}

	trk.batchCompleted()
	return results, nil
}

// runItem drives one item through the retry controller and folds the
// outcome into a terminal Result.
func (r *Runner[T, R]) runItem(ctx context.Context, it Item[T], fn ExecFunc[T, R]) Result[R] {
	logger := lg.FromContext(ctx)
	value, attempts, err := Retry(ctx, r.opts.Retry, r.opts.Classify, r.limiter, func(c context.Context) (R, error) {
		return fn(c, it.Payload)
	})
	switch {
	case err == nil:
		logger.Info("item finished",
			lg.String("item", it.ID),
			lg.Int("attempts", attempts),
		)
		return Result[R]{ID: it.ID, Status: StatusOK, Value: value, Attempts: attempts}
	case ctx.Err() != nil:
		logger.Info("item canceled",
			lg.String("item", it.ID),
			lg.Any("reason", ctx.Err()),
		)
		return Result[R]{ID: it.ID, Status: StatusCanceled, Err: err, Attempts: attempts}
	default:
		logger.Error("item failed",
			lg.String("item", it.ID),
			lg.Int("attempts", attempts),
			lg.Any("error", err),
		)
		return Result[R]{ID: it.ID, Status: StatusFailed, Err: err, Attempts: attempts}
	}
}

// persist writes one terminal result to the Store. The write is
// detached from ctx cancellation: an in-flight item that finished
// during a cancel still gets its result on disk. A result is only ever
// observable through the Store after this write returns.
func (r *Runner[T, R]) persist(ctx context.Context, batchID string, res Result[R]) {
	if r.opts.Store == nil {
		return
	}
	logger := lg.FromContext(ctx)
	rec, err := encodeResult(res)
	if err == nil {
		err = r.opts.Store.SaveResult(context.WithoutCancel(ctx), batchID, rec)
	}
	if err != nil {
		logger.Error("checkpoint write failed",
			lg.String("item", res.ID),
			lg.Any("error", err),
		)
	}
}

func encodeItems[T any](items []Item[T]) ([]ItemRecord, error) {
	recs := make([]ItemRecord, len(items))
	for i, it := range items {
		b, err := json.Marshal(it.Payload)
		if err != nil {
			return nil, fmt.Errorf("batch: marshal payload %q: %w", it.ID, err)
		}
		recs[i] = ItemRecord{ID: it.ID, Payload: b}
	}
	return recs, nil
}

func decodeItems[T any](recs []ItemRecord) ([]Item[T], error) {
	items := make([]Item[T], len(recs))
	for i, rec := range recs {
		items[i].ID = rec.ID
		if len(rec.Payload) > 0 {
			if err := json.Unmarshal(rec.Payload, &items[i].Payload); err != nil {
				return nil, fmt.Errorf("batch: unmarshal payload %q: %w", rec.ID, err)
			}
		}
	}
	return items, nil
}

func encodeResult[R any](res Result[R]) (ResultRecord, error) {
	rec := ResultRecord{
		ItemID:     res.ID,
		Status:     res.Status,
		Attempts:   res.Attempts,
		FinishedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.Status == StatusOK {
		b, err := json.Marshal(res.Value)
		if err != nil {
			return ResultRecord{}, fmt.Errorf("batch: marshal result %q: %w", res.ID, err)
		}
		rec.Value = b
	}
	return rec, nil
}
