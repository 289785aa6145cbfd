// Package admission implements the gaming-aware request admission pipeline:
// endpoint classification, principal and tier resolution, quota accounting,
// session tracking and verdict shaping for every inbound HTTP request.
package admission

import (
	"strings"
	"time"
)

// EndpointClass categorizes what kind of operation a request performs.
// The set is closed; classes are derived from method and path, never
// supplied by the client.
type EndpointClass string

const (
	ClassVoting      EndpointClass = "voting"
	ClassClan        EndpointClass = "clan"
	ClassTournament  EndpointClass = "tournament"
	ClassLeaderboard EndpointClass = "leaderboard"
	ClassChat        EndpointClass = "chat"
	ClassWeb3        EndpointClass = "web3"
	ClassCompetitive EndpointClass = "competitive"
	ClassAuth        EndpointClass = "auth"
	ClassSearch      EndpointClass = "search"
	ClassGeneric     EndpointClass = "generic"

	// ClassHealth is the sentinel for health-check paths; the decider
	// always admits it without touching the ledger.
	ClassHealth EndpointClass = "health"
)

// GamingContext carries the transient gaming flags derived from a request.
// The flags may coexist with any endpoint class.
type GamingContext struct {
	TournamentMode  bool
	TournamentID    string
	CompetitiveMode bool
	GamingSession   bool
}

// Tag returns the canonical join of the truthy flags, used as the context
// component of quota keys. Contexts with identical flags share a tag.
func (g GamingContext) Tag() string {
	parts := make([]string, 0, 3)
	if g.TournamentMode {
		parts = append(parts, "tournament")
	}
	if g.CompetitiveMode {
		parts = append(parts, "competitive")
	}
	if g.GamingSession {
		parts = append(parts, "session")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Active reports whether any gaming flag is set.
func (g GamingContext) Active() bool {
	return g.TournamentMode || g.CompetitiveMode || g.GamingSession
}

// Tier is a user's privilege level. Higher tiers get larger quota
// multipliers; ordering is significant.
type Tier int

const (
	TierAnonymous Tier = iota
	TierRegistered
	TierPremium
	TierClanLeader
	TierVIP
	TierTournament
	TierModerator
	TierAdmin
)

var tierNames = map[Tier]string{
	TierAnonymous:  "anonymous",
	TierRegistered: "registered",
	TierPremium:    "premium",
	TierClanLeader: "clan_leader",
	TierVIP:        "vip",
	TierTournament: "tournament",
	TierModerator:  "moderator",
	TierAdmin:      "admin",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "registered"
}

// ParseTier maps a tier name to its Tier. Unknown names resolve to
// TierRegistered so that a malformed claim never hard-fails a request.
func ParseTier(name string) Tier {
	for tier, n := range tierNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return tier
		}
	}
	return TierRegistered
}

// PrincipalKey identifies the quota subject: "user:<id>" for authenticated
// principals, "ip:<normalized-ip>" otherwise.
type PrincipalKey string

// IsAuthenticated reports whether the key refers to a user rather than an IP.
func (p PrincipalKey) IsAuthenticated() bool {
	return strings.HasPrefix(string(p), "user:")
}

// UserID returns the user id portion of an authenticated key, or "".
func (p PrincipalKey) UserID() string {
	if !p.IsAuthenticated() {
		return ""
	}
	return strings.TrimPrefix(string(p), "user:")
}

// QuotaKey addresses a single quota window. Keys are derived per request,
// never stored.
type QuotaKey struct {
	Principal PrincipalKey
	Class     EndpointClass
	Context   string // GamingContext.Tag()
}

func (k QuotaKey) String() string {
	return string(k.Principal) + ":" + string(k.Class) + ":" + k.Context
}

// Action is the terminal outcome of the admission pipeline for a request.
type Action int

const (
	ActionAdmit Action = iota
	ActionDelay
	ActionDeny
)

func (a Action) String() string {
	switch a {
	case ActionDelay:
		return "delayed"
	case ActionDeny:
		return "denied"
	default:
		return "admitted"
	}
}

// Verdict is the full admission decision, including everything the response
// shaper needs to emit headers and denial payloads.
type Verdict struct {
	Action     Action
	Delay      time.Duration
	RetryAfter time.Duration
	StatusCode int // 429 for quota, 503 for adaptive shedding

	Class   EndpointClass
	Context GamingContext
	Tier    Tier

	Limit     int64
	Remaining int64
	Reset     time.Time

	Bypassed   bool
	Degraded   bool
	FailedOpen bool
}

// SessionRecord tracks an active gaming session for a user.
type SessionRecord struct {
	UserID          string        `json:"user_id"`
	StartTime       time.Time     `json:"start_time"`
	EndpointClass   EndpointClass `json:"endpoint_class"`
	TournamentMode  bool          `json:"tournament_mode"`
	CompetitiveMode bool          `json:"competitive_mode"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// AdaptiveState is the process-wide load snapshot consulted by the decider.
// It is replaced wholesale by the sampler; readers must treat it as immutable.
type AdaptiveState struct {
	ServiceLoad        float64
	BatterySaverActive bool
	SampledAt          time.Time
}
