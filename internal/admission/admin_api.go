package admission

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminAPI exposes operator endpoints for the admission core: current
// policy, per-principal quota status, resets and emergency mode.
type AdminAPI struct {
	policy   PolicySource
	ledger   *Ledger
	registry *Registry
	logger   *zap.Logger

	// setEmergency flips emergency mode on the live config manager.
	setEmergency func(bool)
}

// NewAdminAPI creates the admin surface. setEmergency may be nil when the
// deployment does not allow runtime toggling.
func NewAdminAPI(policy PolicySource, ledger *Ledger, registry *Registry, logger *zap.Logger, setEmergency func(bool)) *AdminAPI {
	return &AdminAPI{
		policy:       policy,
		ledger:       ledger,
		registry:     registry,
		logger:       logger.Named("admission-admin"),
		setEmergency: setEmergency,
	}
}

// Register mounts the admin routes on the given group. The caller is
// responsible for putting authentication in front.
func (api *AdminAPI) Register(group *gin.RouterGroup) {
	group.GET("/ratelimit/config", api.handleGetConfig)
	group.GET("/ratelimit/status", api.handleStatus)
	group.POST("/ratelimit/reset", api.handleReset)
	group.POST("/ratelimit/emergency", api.handleEmergency)
}

type adminResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, adminResponse{
		Success: true, Message: message, Data: data,
		Timestamp: time.Now(), RequestID: uuid.NewString(),
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, adminResponse{
		Success: false, Error: message,
		Timestamp: time.Now(), RequestID: uuid.NewString(),
	})
}

func (api *AdminAPI) handleGetConfig(c *gin.Context) {
	p := api.policy.Current()
	limits := make(map[string]BaseLimit, len(p.Limits))
	for class, limit := range p.Limits {
		limits[string(class)] = limit
	}
	multipliers := make(map[string]float64, len(p.TierMultipliers))
	for tier, m := range p.TierMultipliers {
		multipliers[tier.String()] = m
	}
	ok(c, "current admission policy", gin.H{
		"limits":           limits,
		"gaming_session":   p.GamingSessionLimit,
		"tier_multipliers": multipliers,
		"emergency_mode":   p.EmergencyMode,
		"development_mode": p.DevelopmentMode,
		"degraded":         api.ledger.Degraded(),
	})
}

// handleStatus reports the live window for one (principal, class, context).
func (api *AdminAPI) handleStatus(c *gin.Context) {
	principal := c.Query("principal")
	class := EndpointClass(c.Query("class"))
	if principal == "" || class == "" {
		fail(c, http.StatusBadRequest, "principal and class parameters are required")
		return
	}
	contextTag := c.DefaultQuery("context", "none")

	p := api.policy.Current()
	limit := p.LimitFor(class)
	key := QuotaKey{Principal: PrincipalKey(principal), Class: class, Context: contextTag}
	out, err := api.ledger.Peek(c.Request.Context(), key, limit.Window)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "quota store unavailable")
		return
	}
	ok(c, "quota status", gin.H{
		"key":          key.String(),
		"count":        out.Count,
		"window_start": out.WindowStart,
		"window_ms":    limit.Window.Milliseconds(),
		"base_max":     limit.Max,
	})
}

func (api *AdminAPI) handleReset(c *gin.Context) {
	var req struct {
		Principal string `json:"principal" binding:"required"`
		Class     string `json:"class" binding:"required"`
		Context   string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "principal and class are required")
		return
	}
	if req.Context == "" {
		req.Context = "none"
	}
	key := QuotaKey{Principal: PrincipalKey(req.Principal), Class: EndpointClass(req.Class), Context: req.Context}
	if err := api.ledger.Reset(c.Request.Context(), key); err != nil {
		fail(c, http.StatusServiceUnavailable, "failed to reset quota window")
		return
	}
	api.logger.Info("quota window reset",
		zap.String("principal", req.Principal),
		zap.String("class", req.Class),
		zap.String("context", req.Context),
	)
	ok(c, "quota window reset", gin.H{"key": key.String()})
}

func (api *AdminAPI) handleEmergency(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, "enabled is required")
		return
	}
	if api.setEmergency == nil {
		fail(c, http.StatusNotImplemented, "emergency mode is not runtime-toggleable")
		return
	}
	api.setEmergency(*req.Enabled)
	api.logger.Info("emergency mode updated", zap.Bool("enabled", *req.Enabled))
	ok(c, "emergency mode updated", gin.H{"enabled": *req.Enabled})
}
