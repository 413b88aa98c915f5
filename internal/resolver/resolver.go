// Package resolver turns scan targets into the address handed to the scanning engine.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/nscan/internal/errors"
	"github.com/anstrom/nscan/internal/logging"
)

const (
	defaultDNSPort    = "53"
	defaultDNSTimeout = 2 * time.Second
	maxHostnameLength = 253
)

// ValidateHost rejects targets that are neither an IP literal nor a plain
// hostname, such as "host:80", "10.0.0.0/24" or an empty string.
func ValidateHost(host string) error {
	if net.ParseIP(host) != nil {
		return nil
	}
	if host == "" || len(host) > maxHostnameLength ||
		strings.ContainsAny(host, " \t\r\n/:@?#") ||
		strings.HasPrefix(host, "-") || strings.HasPrefix(host, ".") {
		return errors.ErrInvalidTarget(host)
	}
	return nil
}

// Resolver maps a hostname or IP literal to a single address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// New returns a DNSResolver querying server, or the system resolver when
// server is empty.
func New(server string, timeout time.Duration) Resolver {
	if server == "" {
		return NewSystem()
	}
	return NewDNS(server, timeout)
}

// SystemResolver uses the operating system's resolver configuration.
type SystemResolver struct {
	resolver *net.Resolver
}

// NewSystem creates a resolver backed by net.DefaultResolver.
func NewSystem() *SystemResolver {
	return &SystemResolver{resolver: net.DefaultResolver}
}

// Resolve returns host unchanged when it is an IP literal, otherwise the
// first IPv4 address it resolves to, falling back to the first address.
func (r *SystemResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if err := ValidateHost(host); err != nil {
		return "", err
	}

	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errors.ErrResolution(host, err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return pickAddress(host, ips)
}

// DNSResolver sends A and AAAA queries directly to one DNS server.
type DNSResolver struct {
	server string
	client *dns.Client
	logger *logging.Logger
}

// NewDNS creates a resolver for server ("host" or "host:port"). A zero
// timeout uses a two second default.
func NewDNS(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, defaultDNSPort)
	}
	if timeout <= 0 {
		timeout = defaultDNSTimeout
	}

	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		logger: logging.Default().WithComponent("resolver"),
	}
}

// Server returns the host:port queries are sent to.
func (r *DNSResolver) Server() string {
	return r.server
}

// Timeout returns the per-query timeout.
func (r *DNSResolver) Timeout() time.Duration {
	return r.client.Timeout
}

// Resolve queries A records first and AAAA records only when no IPv4 address exists.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	if err := ValidateHost(host); err != nil {
		return "", err
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ips, err := r.query(ctx, host, qtype)
		if err != nil {
			return "", errors.ErrResolution(host, err)
		}
		if len(ips) > 0 {
			return pickAddress(host, ips)
		}
	}

	return "", errors.ErrResolution(host, errors.New("no address records"))
}

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("query %s via %s: %w", dns.TypeToString[qtype], r.server, err)
	}

	r.logger.Debug("dns query answered",
		"host", host,
		"type", dns.TypeToString[qtype],
		"rcode", dns.RcodeToString[resp.Rcode],
		"answers", len(resp.Answer),
		"rtt", rtt)

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, errors.New("no such host")
	default:
		return nil, fmt.Errorf("server returned %s", dns.RcodeToString[resp.Rcode])
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips, nil
}

func pickAddress(host string, ips []net.IP) (string, error) {
	if len(ips) == 0 {
		return "", errors.ErrResolution(host, errors.New("no address records"))
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return ips[0].String(), nil
}
