package hostfuncs

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sentinel-dev/sentinel/domain/errors"
)

const opSSRFCheck = "ssrf_check"

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NetfilterOption is a functional option for configuring netfilter behavior.
type NetfilterOption func(*netfilterConfig)

type netfilterConfig struct {
	resolver     Resolver
	blocked      []*net.IPNet
	allowPrivate bool // Permit RFC 1918, ULA and loopback targets
}

// defaultNetfilterConfig blocks every SSRF-prone destination.
func defaultNetfilterConfig() netfilterConfig {
	return netfilterConfig{resolver: net.DefaultResolver}
}

// WithAllowPrivate permits private and loopback destinations. Link-local
// (cloud metadata), multicast and unspecified addresses stay blocked.
func WithAllowPrivate(allow bool) NetfilterOption {
	return func(c *netfilterConfig) {
		c.allowPrivate = allow
	}
}

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) NetfilterOption {
	return func(c *netfilterConfig) {
		c.resolver = r
	}
}

// WithBlockedCIDRs blocks additional networks. Malformed entries are
// ignored.
func WithBlockedCIDRs(cidrs ...string) NetfilterOption {
	return func(c *netfilterConfig) {
		for _, s := range cidrs {
			if _, n, err := net.ParseCIDR(s); err == nil {
				c.blocked = append(c.blocked, n)
			}
		}
	}
}

// sharedAddressSpace is RFC 6598 carrier-grade NAT space.
var sharedAddressSpace = mustCIDR("100.64.0.0/10")

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// AddressFilter resolves a host once and decides whether the outbound
// connection may proceed. The returned IP is the one to dial, which pins
// the connection against DNS rebinding.
type AddressFilter struct {
	config netfilterConfig
}

// NewAddressFilter creates an AddressFilter.
func NewAddressFilter(opts ...NetfilterOption) *AddressFilter {
	cfg := defaultNetfilterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AddressFilter{config: cfg}
}

// Resolve returns the address to connect to for host. Every resolved
// address must pass; one blocked answer blocks the host.
func (f *AddressFilter) Resolve(ctx context.Context, host string) (net.IP, error) {
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" {
		return nil, blocked(host, "empty host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := f.CheckIP(ip); reason != "" {
			return nil, blocked(host, reason)
		}
		return ip, nil
	}

	addrs, err := f.config.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &errors.NetworkError{Operation: "dns_lookup", Target: host, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &errors.NetworkError{Operation: "dns_lookup", Target: host, Err: fmt.Errorf("no addresses")}
	}
	for _, a := range addrs {
		if reason := f.CheckIP(a.IP); reason != "" {
			return nil, blocked(host, fmt.Sprintf("%s resolves to %s", reason, a.IP))
		}
	}
	return addrs[0].IP, nil
}

// CheckIP returns why ip is blocked, or "" when it is allowed.
func (f *AddressFilter) CheckIP(ip net.IP) string {
	for _, n := range f.config.blocked {
		if n.Contains(ip) {
			return "address in blocked network " + n.String()
		}
	}
	switch {
	case ip.IsUnspecified():
		return "unspecified address blocked"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return "link-local addresses blocked"
	case ip.IsMulticast():
		return "multicast addresses blocked"
	}
	if f.config.allowPrivate {
		return ""
	}
	switch {
	case ip.IsLoopback():
		return "localhost/loopback addresses blocked"
	case ip.IsPrivate():
		return "private addresses blocked"
	case sharedAddressSpace.Contains(ip):
		return "shared address space blocked"
	}
	return ""
}

func blocked(host, reason string) error {
	return &errors.NetworkError{Operation: opSSRFCheck, Target: host, Err: fmt.Errorf("%s", reason)}
}
