package scanning

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/nscan/internal/errors"
)

//go:generate mockgen -source=probe.go -destination=mocks/mock_prober.go -package=mocks

// Prober classifies a single TCP port.
//
// Expected network outcomes (refused, timed out, unreachable, reset) are
// reported as PortClosed with a nil error. A non-nil error means the probe
// could not be carried out at all and the caller should stop its batch.
type Prober interface {
	Probe(ctx context.Context, address string, port int) (PortState, error)
}

// ProberFunc adapts an ordinary function to the Prober interface.
type ProberFunc func(ctx context.Context, address string, port int) (PortState, error)

// Probe calls f(ctx, address, port).
func (f ProberFunc) Probe(ctx context.Context, address string, port int) (PortState, error) {
	return f(ctx, address, port)
}

// TCPProber performs full TCP connect probes.
type TCPProber struct {
	Timeout time.Duration
	dialer  net.Dialer
}

// NewTCPProber returns a prober that gives each connection attempt timeout to complete.
func NewTCPProber(timeout time.Duration) *TCPProber {
	return &TCPProber{Timeout: timeout}
}

// Probe dials address:port and closes the connection as soon as it is established.
func (p *TCPProber) Probe(ctx context.Context, address string, port int) (PortState, error) {
	connCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	conn, err := p.dialer.DialContext(connCtx, "tcp", addr)
	if err != nil {
		return PortClosed, classifyDialError(ctx, err)
	}

	_ = conn.Close()
	return PortOpen, nil
}

// classifyDialError returns nil for failures that simply mean "not open".
func classifyDialError(ctx context.Context, err error) error {
	// the per-port deadline firing is an expected outcome, the caller's
	// context ending is not
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.WrapScanError(errors.CodeCanceled, "probe canceled", ctxErr)
	}

	switch {
	case errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOBUFS),
		errors.Is(err, syscall.ENOMEM),
		// out of local ephemeral ports
		errors.Is(err, syscall.EADDRNOTAVAIL),
		errors.Is(err, syscall.EAGAIN):
		return err
	default:
		return nil
	}
}

// RateLimitedProber waits on a token bucket before delegating each probe.
type RateLimitedProber struct {
	next    Prober
	limiter *rate.Limiter
}

// NewRateLimitedProber allows perSecond probes per second with the given burst.
// A burst below 1 is raised to 1.
func NewRateLimitedProber(next Prober, perSecond, burst int) *RateLimitedProber {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProber{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Probe blocks until the limiter admits the probe or ctx ends.
func (p *RateLimitedProber) Probe(ctx context.Context, address string, port int) (PortState, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return PortClosed, errors.WrapScanError(errors.CodeCanceled, "rate limiter wait aborted", err)
	}
	return p.next.Probe(ctx, address, port)
}
