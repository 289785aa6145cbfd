package admission

import (
	"fmt"
	"net"
	"time"
)

// BaseLimit is the per-class quota rule before tier and adaptive adjustment.
type BaseLimit struct {
	Window           time.Duration `mapstructure:"window" yaml:"window"`
	Max              int64         `mapstructure:"max" yaml:"max"`
	CountSuccess     bool          `mapstructure:"count_success" yaml:"count_success"`
	CountFailure     bool          `mapstructure:"count_failure" yaml:"count_failure"`
	AllowAdminBypass bool          `mapstructure:"allow_admin_bypass" yaml:"allow_admin_bypass"`
	EnforceForAdmin  bool          `mapstructure:"enforce_for_admin" yaml:"enforce_for_admin"`
}

// Policy is the immutable admission configuration. A new Policy is built on
// every reload and swapped in atomically; request handling never mutates it.
type Policy struct {
	Limits map[EndpointClass]BaseLimit

	// GamingSessionLimit replaces the class limit when the request is part
	// of an active gaming session: shorter window, higher max.
	GamingSessionLimit BaseLimit

	TierMultipliers map[Tier]float64

	// Adaptive thresholds on sampled service load.
	LoadHighThreshold   float64
	LoadMediumThreshold float64

	// Slow-down shaping near the quota ceiling.
	SlowdownStart float64       // fraction of effective max where delay begins
	SlowdownCap   time.Duration // maximum enforced delay

	SessionTTL    time.Duration
	TournamentTTL time.Duration

	StoreTimeout    time.Duration // per backing-store operation
	AdmissionBudget time.Duration // whole decision; exceeding it admits

	TrustedProxies []*net.IPNet
	IPv6PrefixBits int

	DevelopmentMode bool // honors X-Bypass-Gaming-Rate-Limit
	TestMode        bool // disables all limits
	EmergencyMode   bool // moderators bypass non-enforced classes
}

// DefaultPolicy returns the built-in policy table.
func DefaultPolicy() *Policy {
	return &Policy{
		Limits: map[EndpointClass]BaseLimit{
			ClassVoting:      {Window: time.Minute, Max: 15, CountSuccess: true, CountFailure: true, EnforceForAdmin: true},
			ClassClan:        {Window: time.Minute, Max: 30, CountSuccess: true, CountFailure: true, AllowAdminBypass: true},
			ClassTournament:  {Window: time.Minute, Max: 40, CountSuccess: true, CountFailure: true, AllowAdminBypass: true},
			ClassLeaderboard: {Window: time.Minute, Max: 60, CountSuccess: true, CountFailure: true, AllowAdminBypass: true},
			ClassChat:        {Window: 10 * time.Second, Max: 3, CountSuccess: true, CountFailure: true, EnforceForAdmin: true},
			ClassWeb3:        {Window: time.Minute, Max: 10, CountSuccess: false, CountFailure: true, AllowAdminBypass: true},
			ClassCompetitive: {Window: 30 * time.Second, Max: 20, CountSuccess: true, CountFailure: true, EnforceForAdmin: true},
			ClassAuth:        {Window: time.Minute, Max: 10, CountSuccess: true, CountFailure: true},
			ClassSearch:      {Window: time.Minute, Max: 30, CountSuccess: true, CountFailure: true, AllowAdminBypass: true},
			ClassGeneric:     {Window: time.Minute, Max: 60, CountSuccess: true, CountFailure: true, AllowAdminBypass: true},
		},
		GamingSessionLimit: BaseLimit{Window: 10 * time.Second, Max: 30, CountSuccess: true, CountFailure: true},
		TierMultipliers: map[Tier]float64{
			TierAnonymous:  0.5,
			TierRegistered: 1.0,
			TierPremium:    2.0,
			TierClanLeader: 2.5,
			TierVIP:        3.0,
			TierTournament: 5.0,
			TierModerator:  8.0,
			TierAdmin:      20.0,
		},
		LoadHighThreshold:   0.8,
		LoadMediumThreshold: 0.6,
		SlowdownStart:       0.7,
		SlowdownCap:         20 * time.Second,
		SessionTTL:          300 * time.Second,
		TournamentTTL:       3600 * time.Second,
		StoreTimeout:        50 * time.Millisecond,
		AdmissionBudget:     100 * time.Millisecond,
		IPv6PrefixBits:      64,
	}
}

// LimitFor returns the base limit for a class, falling back to the generic
// rule when a class is missing from the table.
func (p *Policy) LimitFor(class EndpointClass) BaseLimit {
	if limit, ok := p.Limits[class]; ok {
		return limit
	}
	return p.Limits[ClassGeneric]
}

// Multiplier returns the quota multiplier for a tier.
func (p *Policy) Multiplier(tier Tier) float64 {
	if m, ok := p.TierMultipliers[tier]; ok {
		return m
	}
	return 1.0
}

// Validate rejects policies that would misbehave at runtime. A failed reload
// keeps the previous valid policy, so this is the only gate.
func (p *Policy) Validate() error {
	if len(p.Limits) == 0 {
		return fmt.Errorf("policy has no limits")
	}
	if _, ok := p.Limits[ClassGeneric]; !ok {
		return fmt.Errorf("policy is missing the generic fallback limit")
	}
	for class, limit := range p.Limits {
		if limit.Window <= 0 {
			return fmt.Errorf("class %s: window must be positive", class)
		}
		if limit.Max <= 0 {
			return fmt.Errorf("class %s: max must be positive", class)
		}
	}
	if p.GamingSessionLimit.Window <= 0 || p.GamingSessionLimit.Max <= 0 {
		return fmt.Errorf("gaming session limit must have positive window and max")
	}
	for tier, m := range p.TierMultipliers {
		if m <= 0 {
			return fmt.Errorf("tier %s: multiplier must be positive", tier)
		}
	}
	if p.LoadHighThreshold < p.LoadMediumThreshold {
		return fmt.Errorf("load high threshold below medium threshold")
	}
	if p.SlowdownStart <= 0 || p.SlowdownStart >= 1 {
		return fmt.Errorf("slowdown start must be in (0,1)")
	}
	if p.IPv6PrefixBits <= 0 || p.IPv6PrefixBits > 128 {
		return fmt.Errorf("ipv6 prefix bits out of range")
	}
	return nil
}

// PolicySource yields the policy snapshot for the current request. The
// config manager implements it with an atomic pointer so reloads never
// block request handling.
type PolicySource interface {
	Current() *Policy
}

// StaticPolicy adapts a fixed *Policy to PolicySource, mainly for tests.
type StaticPolicy struct{ P *Policy }

func (s StaticPolicy) Current() *Policy { return s.P }
