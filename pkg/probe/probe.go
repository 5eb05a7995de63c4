package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check. A failing Critical probe aborts startup;
// the others are only reported.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool
	Timeout  time.Duration // zero means DefaultTimeout
}

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Error == nil }

// Run executes the probes concurrently, each under its own timeout, and
// returns the results in probe order. A probe that ignores its context is
// reported as timed out once the deadline passes.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runOne(ctx, p)
		}()
	}
	wg.Wait()

	return results
}

func runOne(ctx context.Context, p Probe) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- p.Check(checkCtx) }()

	var err error
	select {
	case err = <-done:
	case <-checkCtx.Done():
		err = fmt.Errorf("check did not finish: %w", checkCtx.Err())
	}
	return Result{Probe: p, Error: err, Duration: time.Since(start)}
}

// AnalyzeResults logs a summary line per probe and returns the joined errors
// of the failed critical probes.
func AnalyzeResults(results []Result) error {
	logger := slog.With("component", "probe")
	var criticalErrors []error

	logger.Info("Startup Checks Summary", "probes", len(results))

	for _, r := range results {
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Passed():
			logger.Info(msg)
		case r.Probe.Critical:
			logger.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			logger.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}
