package batch

const (
	// DefaultWorkers bounds concurrent executions when Options.Workers
	// is left zero.
	DefaultWorkers = 5
)

// Options configure a Runner.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// Workers is the maximum number of items executing concurrently.
	Workers int

	// Retry is the per-item retry policy. Zero fields fall back to
	// the package defaults.
	Retry RetryPolicy

	// Classify decides whether a failure is worth retrying.
	// Defaults to DefaultClassifier.
	Classify Classifier

	// StopOnError halts dispatching of new items after the first
	// permanent failure. In-flight items still finish; the returned
	// slice covers exactly the dispatched prefix of the input.
	StopOnError bool

	// RateLimit caps calls per second across all workers of the
	// Runner. Zero means unlimited.
	RateLimit float64

	// Store, when set, checkpoints the batch so an interrupted run
	// can be resumed. Nil disables persistence.
	Store Store

	// OnProgress receives structured progress events. Nil disables
	// progress reporting; processing outcomes are unaffected.
	OnProgress func(Event)

	// BatchID names the batch in the Store. Empty means a fresh
	// id is generated at Run time.
	BatchID string
}

func (o *Options) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Retry.Attempts <= 0 {
		o.Retry.Attempts = defaultAttempts
	}
	if o.Retry.Initial <= 0 {
		o.Retry.Initial = defaultInitialRetry
	}
	if o.Retry.Max <= 0 {
		o.Retry.Max = defaultMaxRetry
	}
	if o.Classify == nil {
		o.Classify = DefaultClassifier
	}
}
