// Package batch executes large collections of independent work items
// against unreliable remote services, with bounded parallelism,
// retry with backoff, rate limiting, durable checkpointing, and
// structured progress reporting.
//
// Architecture overview
//
// The engine is composed of five loosely coupled pieces:
//
//   1. Runner (worker pool / scheduler)
//      Fans a batch out over a fixed number of workers pulling items
//      FIFO. Outcomes land in a results slice index-aligned with the
//      input, no matter which item finishes first.
//
//   2. Retry controller
//      Wraps every execution with failure classification (transient
//      vs. permanent) and exponential backoff with jitter. Permanent
//      failures stop immediately; backoff sleeps are pre-empted by
//      context cancellation.
//
//   3. Rate limiter
//      A shared token bucket bounding calls per second across all
//      workers drawing on one external quota. Tokens refill
//      continuously; Acquire suspends the caller until one is free.
//
//   4. Checkpoint store
//      An injectable persistence interface recording the item set and
//      every terminal result, one write per item. An interrupted batch
//      can be discovered, its unprocessed complement computed, and
//      only that remainder resubmitted. MemStore covers tests and
//      short-lived callers; the sqlitestore subpackage is the durable
//      backend.
//
//   5. Progress aggregator
//      Turns worker activity into structured Events carrying a
//      consistent snapshot. Purely observational: removing the
//      callback never changes processing outcomes.
//
// Failure isolation
//
// One item's failure never halts the others unless StopOnError is set.
// With StopOnError, no new items are dispatched once the first
// permanent failure is observed, in-flight items finish, and the
// returned slice covers exactly the dispatched prefix of the input.
//
// Errors fall into four classes:
//
//   - Transient: timeouts, connection resets, remote "retry later"
//     signals. Retried with backoff up to the attempt budget.
//   - Permanent: surfaced immediately as a failed Result.
//   - Batch-fatal: failures before any item begins (bad input,
//     checkpoint creation). Returned as the error from Run.
//   - Cancellation: a distinct terminal status, not a failure.
//
// Cancellation model
//
// Cancellation is cooperative. The context is checked before each item
// is claimed; queued-but-undispatched items are recorded as canceled,
// in-flight items run to completion. Callers needing hard cancellation
// pass a deadline into the execution function itself.
//
// Crash consistency
//
// Each result is written to the store individually, immediately after
// the item completes. A crash between execution and persistence makes
// the item re-surface as unprocessed on resume rather than being
// silently dropped. Canceled items are never persisted for the same
// reason.
//
// Intended use cases
//
//   - Screening or analyzing document sets through a quota-bound API
//   - Bulk downloads or uploads against flaky object stores
//   - Any fan-out of idempotent remote calls that must survive a
//     restart without redoing completed work
package batch
