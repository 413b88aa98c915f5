package scanning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anstrom/nscan/internal/errors"
)

const (
	// MinPort and MaxPort bound every PortRange.
	MinPort = 0
	MaxPort = 65535
)

// PortRange is an inclusive, contiguous range of TCP ports.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewPortRange returns a validated range. It requires
// MinPort <= start <= end <= MaxPort.
func NewPortRange(start, end int) (PortRange, error) {
	if start < MinPort || end > MaxPort || start > end {
		return PortRange{}, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("invalid port range %d-%d", start, end))
	}
	return PortRange{Start: start, End: end}, nil
}

// ParsePortRange parses "start-end" or a single port such as "80".
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, errors.NewScanError(errors.CodeValidation, "port range is empty")
	}

	lo, hi, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PortRange{}, errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("invalid start port %q", lo), err)
	}
	if !found {
		return NewPortRange(start, start)
	}

	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return PortRange{}, errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("invalid end port %q", hi), err)
	}
	return NewPortRange(start, end)
}

// Size returns the number of ports in the range.
func (r PortRange) Size() int {
	return r.End - r.Start + 1
}

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

func (r PortRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Strategy selects how an Engine walks its port range.
type Strategy int

const (
	// SingleThreaded probes every port in ascending order on the calling goroutine.
	SingleThreaded Strategy = iota + 1
	// MultiThreaded splits the range into batches probed by concurrent workers.
	MultiThreaded
)

// ParseStrategy maps a user-supplied name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-threaded", "sequential":
		return SingleThreaded, nil
	case "multi", "multi-threaded", "concurrent":
		return MultiThreaded, nil
	default:
		return 0, errors.ErrInvalidStrategy(s)
	}
}

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	return s == SingleThreaded || s == MultiThreaded
}

func (s Strategy) String() string {
	switch s {
	case SingleThreaded:
		return "single"
	case MultiThreaded:
		return "multi"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.ErrInvalidStrategy(s.String())
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PortState is the outcome of probing one port.
type PortState int

const (
	PortClosed PortState = iota
	PortOpen
)

func (s PortState) String() string {
	if s == PortOpen {
		return "open"
	}
	return "closed"
}

// Phase is the lifecycle position of an Engine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Batch is a contiguous sub-range assigned to one worker.
type Batch struct {
	Index int       `json:"index"`
	Range PortRange `json:"range"`
}

// BatchError records a batch that stopped before probing all of its ports.
type BatchError struct {
	Batch Batch
	Port  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%s) aborted at port %d: %v", e.Batch.Index, e.Batch.Range, e.Port, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ProgressSnapshot is a point-in-time view of scan progress.
type ProgressSnapshot struct {
	Scanned int `json:"scanned"`
	Total   int `json:"total"`
}

// Progress returns Scanned/Total clamped to [0, 1]. An empty total reports 1.
func (p ProgressSnapshot) Progress() float64 {
	if p.Total <= 0 {
		return 1
	}
	v := float64(p.Scanned) / float64(p.Total)
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
