// Package config loads and live-reloads the gamehub configuration. The
// admission policy is exposed as an atomic snapshot: request handling reads
// it lock-free, reloads swap it wholesale, and a reload that fails
// validation keeps the previous valid policy.
package config

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/playforge/gamehub/internal/admission"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full on-disk configuration.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`

		PoolSize     int `mapstructure:"pool_size"`
		MinIdleConns int `mapstructure:"min_idle_conns"`

		EnableSentinel   bool     `mapstructure:"enable_sentinel"`
		SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
		SentinelPassword string   `mapstructure:"sentinel_password"`
		MasterName       string   `mapstructure:"master_name"`

		EnableCluster bool     `mapstructure:"enable_cluster"`
		ClusterAddrs  []string `mapstructure:"cluster_addrs"`
	} `mapstructure:"redis"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Admission AdmissionConfig `mapstructure:"admission"`
}

// AdmissionConfig is the file form of the admission policy.
type AdmissionConfig struct {
	Limits          map[string]LimitConfig `mapstructure:"limits"`
	GamingSession   LimitConfig            `mapstructure:"gaming_session"`
	TierMultipliers map[string]float64     `mapstructure:"tier_multipliers"`

	LoadHighThreshold   float64 `mapstructure:"load_high_threshold"`
	LoadMediumThreshold float64 `mapstructure:"load_medium_threshold"`

	SlowdownStart float64 `mapstructure:"slowdown_start"`
	SlowdownCapMs int     `mapstructure:"slowdown_cap_ms"`

	SessionTTLSeconds    int `mapstructure:"session_ttl_seconds"`
	TournamentTTLSeconds int `mapstructure:"tournament_ttl_seconds"`

	StoreTimeoutMs    int `mapstructure:"store_timeout_ms"`
	AdmissionBudgetMs int `mapstructure:"admission_budget_ms"`

	TrustedProxies []string `mapstructure:"trusted_proxies"`
	IPv6PrefixBits int      `mapstructure:"ipv6_prefix_bits"`
}

// LimitConfig is the file form of a per-class limit.
type LimitConfig struct {
	WindowMs         int   `mapstructure:"window_ms"`
	Max              int64 `mapstructure:"max"`
	CountSuccess     *bool `mapstructure:"count_success"`
	CountFailure     *bool `mapstructure:"count_failure"`
	AllowAdminBypass bool  `mapstructure:"allow_admin_bypass"`
	EnforceForAdmin  bool  `mapstructure:"enforce_for_admin"`
}

// Manager owns the loaded config and the live admission policy.
type Manager struct {
	logger *zap.Logger
	viper  *viper.Viper

	config atomic.Pointer[Config]
	policy atomic.Pointer[admission.Policy]

	// mu serializes writers of the policy pointer. Readers stay lock-free;
	// without it a reload racing SetEmergencyMode can drop the toggle.
	mu sync.Mutex
}

// Load reads the config file (optional; defaults apply when absent), builds
// the initial policy and returns a Manager.
func Load(path string, logger *zap.Logger) (*Manager, error) {
	v := viper.New()
	v.SetEnvPrefix("GAMEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gamehub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/gamehub")
	}

	m := &Manager{
		logger: logger.Named("config"),
		viper:  v,
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
		m.logger.Warn("configuration file not found, using defaults")
	}

	cfg, policy, err := m.build()
	if err != nil {
		return nil, err
	}
	m.config.Store(cfg)
	m.policy.Store(policy)
	m.logger.Info("configuration loaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.Int("limit_classes", len(policy.Limits)),
	)
	return m, nil
}

// Current returns the live admission policy snapshot. Implements
// admission.PolicySource.
func (m *Manager) Current() *admission.Policy {
	return m.policy.Load()
}

// Config returns the loaded non-policy configuration.
func (m *Manager) Config() *Config {
	return m.config.Load()
}

// SetEmergencyMode flips emergency mode on the live policy without a reload.
func (m *Manager) SetEmergencyMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.policy.Load()
	next := *old
	next.EmergencyMode = enabled
	m.policy.Store(&next)
}

// Reload re-reads the file and swaps the policy. A reload that fails to
// parse or validate keeps the previous valid policy and reports the error.
func (m *Manager) Reload() error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("failed to re-read configuration: %w", err)
		}
	}
	cfg, policy, err := m.build()
	if err != nil {
		m.logger.Error("configuration reload rejected, keeping previous policy", zap.Error(err))
		return err
	}
	// Runtime toggles survive reloads.
	m.mu.Lock()
	policy.EmergencyMode = m.policy.Load().EmergencyMode
	m.config.Store(cfg)
	m.policy.Store(policy)
	m.mu.Unlock()
	m.logger.Info("configuration reloaded")
	return nil
}

// Watch reloads on file changes and on SIGHUP until the process exits.
func (m *Manager) Watch() {
	m.viper.OnConfigChange(func(fsnotify.Event) {
		if err := m.Reload(); err != nil {
			m.logger.Warn("file-triggered reload failed", zap.Error(err))
		}
	})
	if m.viper.ConfigFileUsed() != "" {
		m.viper.WatchConfig()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := m.Reload(); err != nil {
				m.logger.Warn("SIGHUP reload failed", zap.Error(err))
			}
		}
	}()
}

// build assembles Config and Policy from the current viper state plus
// environment flags.
func (m *Manager) build() (*Config, *admission.Policy, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	policy := admission.DefaultPolicy()
	ac := cfg.Admission

	for name, lc := range ac.Limits {
		class := admission.EndpointClass(strings.ToLower(name))
		base, exists := policy.Limits[class]
		if !exists {
			return nil, nil, fmt.Errorf("unknown endpoint class %q in limits", name)
		}
		if lc.WindowMs > 0 {
			base.Window = time.Duration(lc.WindowMs) * time.Millisecond
		}
		if lc.Max > 0 {
			base.Max = lc.Max
		}
		if lc.CountSuccess != nil {
			base.CountSuccess = *lc.CountSuccess
		}
		if lc.CountFailure != nil {
			base.CountFailure = *lc.CountFailure
		}
		base.AllowAdminBypass = lc.AllowAdminBypass
		base.EnforceForAdmin = lc.EnforceForAdmin
		policy.Limits[class] = base
	}
	if ac.GamingSession.WindowMs > 0 {
		policy.GamingSessionLimit.Window = time.Duration(ac.GamingSession.WindowMs) * time.Millisecond
	}
	if ac.GamingSession.Max > 0 {
		policy.GamingSessionLimit.Max = ac.GamingSession.Max
	}
	for name, mult := range ac.TierMultipliers {
		policy.TierMultipliers[admission.ParseTier(name)] = mult
	}
	if ac.LoadHighThreshold > 0 {
		policy.LoadHighThreshold = ac.LoadHighThreshold
	}
	if ac.LoadMediumThreshold > 0 {
		policy.LoadMediumThreshold = ac.LoadMediumThreshold
	}
	if ac.SlowdownStart > 0 {
		policy.SlowdownStart = ac.SlowdownStart
	}
	if ac.SlowdownCapMs > 0 {
		policy.SlowdownCap = time.Duration(ac.SlowdownCapMs) * time.Millisecond
	}
	if ac.SessionTTLSeconds > 0 {
		policy.SessionTTL = time.Duration(ac.SessionTTLSeconds) * time.Second
	}
	if ac.TournamentTTLSeconds > 0 {
		policy.TournamentTTL = time.Duration(ac.TournamentTTLSeconds) * time.Second
	}
	if ac.StoreTimeoutMs > 0 {
		policy.StoreTimeout = time.Duration(ac.StoreTimeoutMs) * time.Millisecond
	}
	if ac.AdmissionBudgetMs > 0 {
		policy.AdmissionBudget = time.Duration(ac.AdmissionBudgetMs) * time.Millisecond
	}
	if ac.IPv6PrefixBits > 0 {
		policy.IPv6PrefixBits = ac.IPv6PrefixBits
	}

	for _, cidr := range ac.TrustedProxies {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		policy.TrustedProxies = append(policy.TrustedProxies, network)
	}

	// Environment flags.
	policy.EmergencyMode = envTrue("EMERGENCY_MODE")
	env := strings.ToLower(os.Getenv("GAMEHUB_ENV"))
	policy.DevelopmentMode = env == "development" || env == "dev"
	policy.TestMode = env == "test"

	if err := policy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid admission policy: %w", err)
	}
	return &cfg, policy, nil
}

func envTrue(name string) bool {
	return strings.EqualFold(os.Getenv(name), "true")
}
