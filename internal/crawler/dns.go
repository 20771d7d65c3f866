package crawler

import (
	"context"
	"fmt"
	"net"
)

// HostResolver resolves a host to addresses; satisfied by *net.Resolver and
// used as the delegate the filtering resolver wraps, grounded in
// okpulse-links-overseer's isPrivateHost address-filtering idiom.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSPolicy controls which address classes the filtering resolver accepts,
// via loopback_allowed/private_networks_allowed.
type DNSPolicy struct {
	LoopbackAllowed        bool
	PrivateNetworksAllowed bool
}

// FilteringResolver wraps a HostResolver and rejects loopback/private
// addresses unless the policy allows them, guarding against SSRF-style DNS
// pitfalls.
type FilteringResolver struct {
	Delegate HostResolver
	Policy   DNSPolicy
}

// NewFilteringResolver builds a FilteringResolver around net.DefaultResolver
// when delegate is nil.
func NewFilteringResolver(delegate HostResolver, policy DNSPolicy) *FilteringResolver {
	if delegate == nil {
		delegate = net.DefaultResolver
	}
	return &FilteringResolver{Delegate: delegate, Policy: policy}
}

// Resolve returns a non-empty, order-preserved list of permitted addresses
// for host, or fails with ErrKindInvalidHost. host is a bare hostname or IP
// literal; a host:port string is not split and is looked up as a name.
func (r *FilteringResolver) Resolve(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		if !r.Policy.permits(ip) {
			return nil, WrapErr(ErrKindInvalidHost, host, fmt.Errorf("address %s is not permitted by dns policy", ip))
		}
		return []string{ip.String()}, nil
	}

	addrs, err := r.Delegate.LookupHost(ctx, host)
	if err != nil {
		return nil, WrapErr(ErrKindDNS, host, fmt.Errorf("lookup host: %w", err))
	}

	filtered := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if r.Policy.permits(ip) {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return nil, WrapErr(ErrKindInvalidHost, host, fmt.Errorf("no addresses for %s pass dns policy (resolved %d)", host, len(addrs)))
	}
	return filtered, nil
}

// permits applies the loopback / RFC1918 / link-local / ULA / CGNAT /
// multicast / 0.0.0.0/8 address-class filters.
func (p DNSPolicy) permits(ip net.IP) bool {
	if ip.IsLoopback() {
		return p.LoopbackAllowed
	}
	if isZeroBlock(ip) {
		return p.PrivateNetworksAllowed
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || isULA(ip) || isCGNAT(ip) {
		return p.PrivateNetworksAllowed
	}
	return true
}

func isZeroBlock(ip net.IP) bool {
	v4 := ip.To4()
	return v4 != nil && v4[0] == 0
}

// isULA reports whether ip is an IPv6 Unique Local Address (fc00::/7); Go's
// net.IP.IsPrivate already covers this for modern stdlib, but it is kept
// explicit so the address-class list stays self-contained.
func isULA(ip net.IP) bool {
	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		return false
	}
	return v6[0]&0xfe == 0xfc
}

// isCGNAT reports whether ip falls in the shared address space
// 100.64.0.0/10 used for carrier-grade NAT.
func isCGNAT(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] == 100 && v4[1]&0xc0 == 64
}
