package scanning

import (
	"fmt"

	"github.com/anstrom/nscan/internal/errors"
)

// MaxWorkers caps the number of concurrent batch workers.
const MaxWorkers = 64

// WorkerCount returns clamp(parallelism*multiplier, 1, MaxWorkers).
// A multiplier below 1 counts as 1.
func WorkerCount(parallelism, multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	if parallelism < 1 {
		return 1
	}
	// guard the multiplication against overflow on absurd inputs
	if parallelism >= MaxWorkers || multiplier >= MaxWorkers {
		return MaxWorkers
	}
	return min(parallelism*multiplier, MaxWorkers)
}

// PlanBatches splits r into contiguous ascending batches. The first
// total%workers batches hold one extra port. workers is clamped to the
// range size so that no batch is empty.
func PlanBatches(r PortRange, workers int) ([]Batch, error) {
	if workers < 1 {
		return nil, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("worker count must be at least 1, got %d", workers))
	}

	total := r.Size()
	if total < 1 {
		return nil, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("invalid port range %d-%d", r.Start, r.End))
	}
	workers = min(workers, total)

	base := total / workers
	remainder := total % workers

	batches := make([]Batch, 0, workers)
	start := r.Start
	for i := 0; i < workers; i++ {
		size := base
		if i < remainder {
			size++
		}
		batches = append(batches, Batch{
			Index: i,
			Range: PortRange{Start: start, End: start + size - 1},
		})
		start += size
	}

	return batches, nil
}
