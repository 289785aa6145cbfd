package admission

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/playforge/gamehub/pkg/metrics"
	"go.uber.org/zap"
)

// Context keys set by upstream authentication.
const (
	ctxKeyUserID   = "userID"
	ctxKeyUserTier = "userTier"
)

// maxBodySniff bounds how much of a request body the web3 classifier may
// inspect.
const maxBodySniff = 8 << 10

// Middleware is the composed admission pipeline: classify, identify,
// enrich, commit, decide, shape.
type Middleware struct {
	policy   PolicySource
	ledger   *Ledger
	registry *Registry
	sampler  *Sampler
	logger   *zap.Logger

	inflight atomic.Int64
}

// NewMiddleware wires the pipeline components together.
func NewMiddleware(policy PolicySource, ledger *Ledger, registry *Registry, sampler *Sampler, logger *zap.Logger) *Middleware {
	return &Middleware{
		policy:   policy,
		ledger:   ledger,
		registry: registry,
		sampler:  sampler,
		logger:   logger.Named("admission"),
	}
}

// InFlight exposes the in-flight request counter for the load provider.
func (m *Middleware) InFlight() *atomic.Int64 { return &m.inflight }

// SetSampler attaches the adaptive sampler. Called once during composition,
// before the middleware serves traffic; the sampler's load provider usually
// reads this middleware's own in-flight counter.
func (m *Middleware) SetSampler(sampler *Sampler) { m.sampler = sampler }

// Handler returns the gin middleware enforcing admission.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.inflight.Add(1)
		metrics.InFlightRequests.Inc()
		defer func() {
			m.inflight.Add(-1)
			metrics.InFlightRequests.Dec()
		}()

		p := m.policy.Current()
		if p.TestMode {
			c.Next()
			return
		}

		started := time.Now()

		class, gctx := Classify(c.Request.Method, c.Request.URL.Path, c.Request.Header, m.sniffBody(c))
		if class == ClassHealth {
			c.Next()
			return
		}

		if p.DevelopmentMode && isTruthy(c.GetHeader(HeaderBypass)) {
			c.Header("X-RateLimit-Policy", string(class))
			c.Header("X-RateLimit-Bypass", "development")
			c.Next()
			return
		}

		resolver := &Resolver{TrustedProxies: p.TrustedProxies, IPv6PrefixBits: p.IPv6PrefixBits}
		principal, tier := resolver.Resolve(
			c.GetString(ctxKeyUserID),
			c.GetString(ctxKeyUserTier),
			c.Request.RemoteAddr,
			c.GetHeader("X-Forwarded-For"),
		)

		// The whole decision runs under a hard budget; blowing it admits
		// the request rather than amplifying latency.
		decisionCtx, cancel := context.WithTimeout(c.Request.Context(), p.AdmissionBudget)
		defer cancel()

		// Session enrichment. Participation and session state are read
		// before this request refreshes them, so a boost always rests on
		// previously recorded activity.
		userID := principal.UserID()
		var session *SessionRecord
		participant := false
		if userID != "" {
			if rec, ok := m.registry.GetGamingSession(decisionCtx, userID); ok {
				session = rec
			}
			if gctx.TournamentMode && gctx.TournamentID != "" {
				participant = m.registry.IsTournamentParticipant(decisionCtx, userID, gctx.TournamentID)
				m.registry.MarkTournamentParticipant(decisionCtx, userID, gctx.TournamentID)
			}
			if gctx.Active() {
				m.registry.RecordGamingSession(decisionCtx, userID, class, gctx)
			}
		}

		adaptive := &AdaptiveState{}
		if m.sampler != nil {
			adaptive = m.sampler.Current()
		}
		lim := ComputeEffectiveLimit(p, class, gctx, tier, participant, session, adaptive)

		key := QuotaKey{Principal: principal, Class: class, Context: gctx.Tag()}

		var out CommitOutcome
		if !lim.Bypass {
			out = m.ledger.Commit(decisionCtx, key, lim.Window, lim.Max)
		}

		verdict := BuildVerdict(p, class, gctx, tier, lim, out)
		metrics.AdmissionLatency.Observe(time.Since(started).Seconds())

		batterySaver := isTruthy(c.GetHeader(HeaderBatterySaver)) || adaptive.BatterySaverActive

		// Battery-saver clients prefer waiting out the window over a hard
		// denial, when the wait is short enough to be worth it.
		if verdict.Action == ActionDeny && batterySaver && verdict.RetryAfter <= p.SlowdownCap {
			if m.sleep(c, verdict.RetryAfter) {
				return // client went away mid-delay
			}
			out = m.ledger.Commit(c.Request.Context(), key, lim.Window, lim.Max)
			verdict = BuildVerdict(p, class, gctx, tier, lim, out)
		}

		m.shapeHeaders(c, principal, verdict)
		m.countVerdict(verdict)

		switch verdict.Action {
		case ActionDeny:
			m.deny(c, verdict)
			return

		case ActionDelay:
			metrics.DelayApplied.Observe(verdict.Delay.Seconds())
			if m.sleep(c, verdict.Delay) {
				return
			}
		}

		c.Next()

		m.settle(c, lim, key, verdict)
	}
}

// sniffBody peeks a bounded prefix of JSON bodies for the classifier and
// restores the reader. Returns nil for anything not worth inspecting.
func (m *Middleware) sniffBody(c *gin.Context) []byte {
	if c.Request.Body == nil || c.Request.ContentLength <= 0 || c.Request.ContentLength > maxBodySniff {
		return nil
	}
	if !strings.Contains(c.GetHeader("Content-Type"), "json") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySniff))
	if err != nil {
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

// sleep blocks for d, honoring client cancellation. Returns true when the
// client disconnected; the request is aborted with no response and no
// counter rollback (counters are monotonic within a window).
func (m *Middleware) sleep(c *gin.Context, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-c.Request.Context().Done():
		c.Abort()
		return true
	}
}

// shapeHeaders attaches the standard rate-limit headers to every response.
func (m *Middleware) shapeHeaders(c *gin.Context, principal PrincipalKey, v Verdict) {
	c.Header("X-RateLimit-Policy", string(v.Class))
	c.Header("X-RateLimit-Limit", strconv.FormatInt(v.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(v.Remaining, 10))
	if !v.Reset.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(v.Reset.Unix(), 10))
	}
	if principal.IsAuthenticated() {
		c.Header("X-RateLimit-User", "authenticated")
	} else {
		c.Header("X-RateLimit-User", "anonymous")
	}
	if v.Degraded || v.FailedOpen {
		c.Header("X-RateLimit-Degraded", "true")
	}
	if v.Context.CompetitiveMode || v.Context.TournamentMode {
		if v.Context.CompetitiveMode {
			c.Header("X-Competitive-Mode", "true")
		}
		c.Header("X-Gaming-Integrity", "protected")
	}
}

// deny writes the structured denial payload. 429 for quota, 503 only when
// adaptive shedding caused the denial.
func (m *Middleware) deny(c *gin.Context, v Verdict) {
	retrySeconds := int(v.RetryAfter / time.Second)
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(retrySeconds))

	m.logger.Info("request denied",
		zap.String("class", string(v.Class)),
		zap.String("tier", v.Tier.String()),
		zap.String("context", v.Context.Tag()),
		zap.Int("status", v.StatusCode),
		zap.Int("retry_after_s", retrySeconds),
	)

	c.AbortWithStatusJSON(v.StatusCode, gin.H{
		"error":      "Gaming rate limit exceeded",
		"code":       "GAMING_RATE_LIMITED_" + strings.ToUpper(string(v.Class)),
		"type":       string(v.Class),
		"retryAfter": retrySeconds,
		"request_id": uuid.NewString(),
		"gaming_context": gin.H{
			"tournament_mode":  v.Context.TournamentMode,
			"competitive_mode": v.Context.CompetitiveMode,
			"gaming_session":   v.Context.GamingSession,
		},
	})
}

// settle applies deferred counting after the handler ran: classes that do
// not count successes (or failures) get their reserved slot back.
func (m *Middleware) settle(c *gin.Context, lim EffectiveLimit, key QuotaKey, v Verdict) {
	if v.Bypassed || v.FailedOpen || v.Degraded || v.Action == ActionDeny {
		return
	}
	status := c.Writer.Status()
	succeeded := status < http.StatusBadRequest
	if succeeded && !lim.Limit.CountSuccess {
		m.ledger.Release(context.WithoutCancel(c.Request.Context()), key)
	}
	if !succeeded && !lim.Limit.CountFailure {
		m.ledger.Release(context.WithoutCancel(c.Request.Context()), key)
	}
}

func (m *Middleware) countVerdict(v Verdict) {
	result := v.Action.String()
	if v.Bypassed {
		result = "bypassed"
	} else if v.FailedOpen {
		result = "failed_open"
	}
	metrics.AdmissionVerdicts.WithLabelValues(string(v.Class), v.Tier.String(), result).Inc()
}
