package admission

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	_, network, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	return network
}

func TestResolveAuthenticated(t *testing.T) {
	r := &Resolver{}
	key, tier := r.Resolve("u-123", "premium", "203.0.113.7:4431", "")
	assert.Equal(t, PrincipalKey("user:u-123"), key)
	assert.Equal(t, TierPremium, tier)
	assert.True(t, key.IsAuthenticated())
	assert.Equal(t, "u-123", key.UserID())
}

func TestResolveAnonymous(t *testing.T) {
	r := &Resolver{}
	key, tier := r.Resolve("", "", "203.0.113.7:4431", "")
	assert.Equal(t, PrincipalKey("ip:203.0.113.7"), key)
	assert.Equal(t, TierAnonymous, tier)
	assert.False(t, key.IsAuthenticated())
}

func TestResolveUnknownTierFailsClosed(t *testing.T) {
	r := &Resolver{}
	_, tier := r.Resolve("u-1", "galactic-overlord", "203.0.113.7:1", "")
	assert.Equal(t, TierRegistered, tier)
}

func TestIPv6CollapsedToPrefix(t *testing.T) {
	r := &Resolver{IPv6PrefixBits: 64}
	a := r.NormalizeIP("2001:db8:1:2:aaaa:bbbb:cccc:dddd")
	b := r.NormalizeIP("2001:db8:1:2:1111:2222:3333:4444")
	c := r.NormalizeIP("2001:db8:1:3::1")
	assert.Equal(t, a, b, "same /64 must share a principal")
	assert.NotEqual(t, a, c, "different /64 must not share a principal")
}

func TestIPv4Exact(t *testing.T) {
	r := &Resolver{}
	assert.Equal(t, "198.51.100.9", r.NormalizeIP("198.51.100.9:9999"))
	assert.NotEqual(t, r.NormalizeIP("198.51.100.9"), r.NormalizeIP("198.51.100.10"))
}

func TestForwardedForTrustedProxyOnly(t *testing.T) {
	r := &Resolver{TrustedProxies: []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}}

	// Trusted peer: leftmost forwarded entry wins.
	assert.Equal(t, "203.0.113.50", r.ClientIP("10.1.2.3:80", "203.0.113.50, 10.1.2.3"))

	// Untrusted peer: forwarded chain is client-supplied noise.
	assert.Equal(t, "198.51.100.77", r.ClientIP("198.51.100.77:80", "203.0.113.50"))
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierAdmin, ParseTier("admin"))
	assert.Equal(t, TierClanLeader, ParseTier(" Clan_Leader "))
	assert.Equal(t, TierRegistered, ParseTier("nonsense"))
	assert.True(t, TierAdmin > TierModerator)
	assert.True(t, TierModerator > TierTournament)
	assert.True(t, TierAnonymous < TierRegistered)
}
