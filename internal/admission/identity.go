package admission

import (
	"net"
	"strings"
)

// Resolver maps a request to its quota principal and tier. It fails closed:
// anything it cannot parse resolves to an anonymous IP-keyed principal, and
// it never rejects a request on its own.
type Resolver struct {
	// TrustedProxies gates X-Forwarded-For handling: the forwarded chain is
	// honored only when the immediate peer is inside one of these networks.
	TrustedProxies []*net.IPNet

	// IPv6PrefixBits collapses IPv6 principals to a prefix so address
	// rotation within an allocation cannot partition the keyspace.
	IPv6PrefixBits int
}

// Resolve returns the principal key and tier for a request. userID and
// tierName come from upstream authentication (empty when anonymous);
// remoteAddr is the immediate peer, forwardedFor the raw X-Forwarded-For
// value.
func (r *Resolver) Resolve(userID, tierName, remoteAddr, forwardedFor string) (PrincipalKey, Tier) {
	if userID != "" {
		tier := TierRegistered
		if tierName != "" {
			tier = ParseTier(tierName)
		}
		return PrincipalKey("user:" + userID), tier
	}
	return PrincipalKey("ip:" + r.ClientIP(remoteAddr, forwardedFor)), TierAnonymous
}

// ClientIP picks the address to key anonymous quotas on. The forwarded
// chain is client-supplied, so it is only believed when the peer itself is
// a trusted proxy.
func (r *Resolver) ClientIP(remoteAddr, forwardedFor string) string {
	peer := stripPort(remoteAddr)
	if forwardedFor != "" && r.isTrustedProxy(peer) {
		// Leftmost entry is the original client.
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return r.NormalizeIP(first)
		}
	}
	return r.NormalizeIP(peer)
}

// NormalizeIP returns the canonical quota form of an address: IPv4 exact,
// IPv6 masked to the configured prefix (default /64).
func (r *Resolver) NormalizeIP(addr string) string {
	ip := net.ParseIP(stripPort(addr))
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	bits := r.IPv6PrefixBits
	if bits <= 0 || bits > 128 {
		bits = 64
	}
	masked := ip.Mask(net.CIDRMask(bits, 128))
	return masked.String()
}

func (r *Resolver) isTrustedProxy(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, cidr := range r.TrustedProxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
