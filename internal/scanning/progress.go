package scanning

import (
	"context"
	"time"
)

// DefaultProgressInterval is the polling period used when Watch is given none.
const DefaultProgressInterval = 100 * time.Millisecond

// ProgressSource exposes scan progress without blocking. *Engine implements it.
type ProgressSource interface {
	Snapshot() ProgressSnapshot
}

// Reporter receives progress values in [0, 1].
type Reporter interface {
	Report(progress float64)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(progress float64)

// Report calls f(progress).
func (f ReporterFunc) Report(progress float64) {
	f(progress)
}

// Watch polls src every interval and forwards each reading to r. It returns
// nil after reporting a progress of 1, or ctx.Err() if ctx ends first.
func Watch(ctx context.Context, src ProgressSource, r Reporter, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		progress := src.Snapshot().Progress()
		r.Report(progress)
		if progress >= 1 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
