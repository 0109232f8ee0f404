package main

// Logger is the minimal logging interface threaded through the run.
type Logger interface {
	Log(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Log(string, ...any) {}

// RetryContext tracks attempt bookkeeping for a single network call. It is
// scoped to that call and discarded once the call resolves or is exhausted.
type RetryContext struct {
	AttemptsMade int
	MaxAttempts  int
}

// Retrier bounds how many times a single network operation may run. Retries
// are immediate; the API family answers fast and a failed call is nearly
// always a transport hiccup, so waiting buys nothing.
type Retrier struct {
	maxAttempts int
	logger      Logger
}

// NewRetrier creates a Retrier that runs each operation at most maxAttempts
// times. Values below 1 are clamped to 1.
func NewRetrier(maxAttempts int, logger Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Retrier{maxAttempts: maxAttempts, logger: logger}
}

// MaxAttempts returns the configured attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// execute runs op until it succeeds or the attempt budget is spent. The op
// performs one round trip and decode; it has no say in whether it runs again.
// Only transport and parse failures are retried; a server refusal or a fatal
// misconfiguration returns on the first occurrence, since repeating the call
// cannot change the answer. The last error is returned to the caller
// unchanged so its concrete type stays visible to errors.As.
func execute[T any](r *Retrier, op func() (T, error)) (T, error) {
	rc := RetryContext{MaxAttempts: r.maxAttempts}

	var zero T
	var lastErr error
	for rc.AttemptsMade < rc.MaxAttempts {
		v, err := op()
		rc.AttemptsMade++
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			break
		}
		if rc.AttemptsMade < rc.MaxAttempts {
			r.logger.Log("attempt %d/%d failed: %v", rc.AttemptsMade, rc.MaxAttempts, err)
		}
	}

	return zero, lastErr
}
