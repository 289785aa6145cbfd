package admission

import (
	"math"
	"net/http"
	"time"
)

// EffectiveLimit is the fully adjusted quota for one request: tier
// multiplier, tournament boost, session replacement and adaptive factor
// applied in that order.
type EffectiveLimit struct {
	Limit  BaseLimit // applied base rule (session-replaced when boosted)
	Window time.Duration
	Max    int64 // adaptive factor applied
	// PreAdaptiveMax is the cap before the adaptive factor; a denial that
	// would have been admitted at this cap is load shedding, not quota.
	PreAdaptiveMax int64
	Bypass         bool
	SessionBoosted bool
}

// ComputeEffectiveLimit evaluates the admission arithmetic. Pure function;
// session and adaptive may be nil.
func ComputeEffectiveLimit(p *Policy, class EndpointClass, gctx GamingContext, tier Tier,
	participant bool, session *SessionRecord, adaptive *AdaptiveState) EffectiveLimit {

	limit := p.LimitFor(class)

	// Active gaming sessions trade the class rule for the session rule:
	// shorter window, higher max.
	sessionBoosted := false
	if gctx.GamingSession && session != nil {
		counting := limit
		limit = p.GamingSessionLimit
		// Counting policy and bypass flags stay with the class.
		limit.CountSuccess = counting.CountSuccess
		limit.CountFailure = counting.CountFailure
		limit.AllowAdminBypass = counting.AllowAdminBypass
		limit.EnforceForAdmin = counting.EnforceForAdmin
		sessionBoosted = true
	}

	if bypassAllowed(p, limit, tier) {
		return EffectiveLimit{Limit: limit, Window: limit.Window, Bypass: true, SessionBoosted: sessionBoosted}
	}

	factor := p.Multiplier(tier)

	// Confirmed tournament participants get at least the tournament
	// multiplier, never less than their own tier's.
	if gctx.TournamentMode && participant {
		if tm := p.Multiplier(TierTournament); tm > factor {
			factor = tm
		}
	}

	preAdaptive := flooredMax(float64(limit.Max) * factor)

	adaptiveFactor := 1.0
	if adaptive != nil {
		switch {
		case adaptive.ServiceLoad > p.LoadHighThreshold:
			adaptiveFactor = 0.5
		case adaptive.ServiceLoad > p.LoadMediumThreshold:
			adaptiveFactor = 0.75
		}
	}

	return EffectiveLimit{
		Limit:          limit,
		Window:         limit.Window,
		Max:            flooredMax(float64(limit.Max) * factor * adaptiveFactor),
		PreAdaptiveMax: preAdaptive,
		SessionBoosted: sessionBoosted,
	}
}

// bypassAllowed implements the bypass table: health is always admitted,
// enforced classes are never bypassed, and emergency mode widens moderator
// bypass to every non-enforced class.
func bypassAllowed(p *Policy, limit BaseLimit, tier Tier) bool {
	if limit.EnforceForAdmin {
		return false
	}
	if limit.AllowAdminBypass && tier >= TierModerator {
		return true
	}
	if p.EmergencyMode && tier >= TierModerator {
		return true
	}
	return false
}

func flooredMax(v float64) int64 {
	m := int64(math.Floor(v))
	if m < 1 {
		return 1
	}
	return m
}

// SlowdownDelay shapes bursts near the ceiling: zero until the slowdown
// threshold, growing linearly to the cap at the limit, never longer than
// the remaining window.
func SlowdownDelay(p *Policy, count, effectiveMax int64, windowRemaining time.Duration) time.Duration {
	threshold := float64(effectiveMax) * p.SlowdownStart
	if float64(count) < threshold {
		return 0
	}
	span := float64(effectiveMax) - threshold
	if span <= 0 {
		return minDuration(p.SlowdownCap, windowRemaining)
	}
	frac := (float64(count) - threshold) / span
	if frac > 1 {
		frac = 1
	}
	delay := time.Duration(frac * float64(p.SlowdownCap))
	return minDuration(delay, windowRemaining)
}

// BuildVerdict turns a commit outcome into the terminal verdict for the
// request. Denials are deterministic: identical inputs inside one window
// produce identical retry-after values, always at least one second.
func BuildVerdict(p *Policy, class EndpointClass, gctx GamingContext, tier Tier,
	lim EffectiveLimit, out CommitOutcome) Verdict {

	v := Verdict{
		Class:      class,
		Context:    gctx,
		Tier:       tier,
		Limit:      lim.Max,
		Degraded:   out.Degraded,
		FailedOpen: out.FailedOpen,
	}
	if lim.Window > 0 && !out.WindowStart.IsZero() {
		v.Reset = out.WindowStart.Add(lim.Window)
	}

	if lim.Bypass {
		v.Action = ActionAdmit
		v.Bypassed = true
		v.Remaining = lim.Max
		return v
	}

	v.Remaining = lim.Max - out.Count
	if v.Remaining < 0 {
		v.Remaining = 0
	}

	if !out.Allowed {
		v.Action = ActionDeny
		v.StatusCode = http.StatusTooManyRequests
		// The adaptive factor caused this denial iff the request fit under
		// the pre-adaptive cap; that is shedding, reported as 503.
		if out.Count+1 <= lim.PreAdaptiveMax {
			v.StatusCode = http.StatusServiceUnavailable
		}
		v.RetryAfter = out.RetryAfter
		if v.RetryAfter < time.Second {
			v.RetryAfter = time.Second
		}
		return v
	}

	remaining := time.Until(v.Reset)
	if delay := SlowdownDelay(p, out.Count, lim.Max, remaining); delay > 0 {
		v.Action = ActionDelay
		v.Delay = delay
		return v
	}

	v.Action = ActionAdmit
	return v
}

func minDuration(a, b time.Duration) time.Duration {
	if b < a && b >= 0 {
		return b
	}
	return a
}
