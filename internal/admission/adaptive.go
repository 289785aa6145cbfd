package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/playforge/gamehub/pkg/metrics"
	"go.uber.org/zap"
)

// LoadProvider reports the current service load in [0,1] plus whether the
// deployment-wide battery saver is active. The default provider derives
// load from in-flight requests against a configured capacity.
type LoadProvider func() (serviceLoad float64, batterySaver bool)

// Sampler maintains the process-wide AdaptiveState. A single goroutine
// samples every interval and swaps the snapshot through an atomic pointer;
// readers are lock-free.
type Sampler struct {
	state    atomic.Pointer[AdaptiveState]
	provider LoadProvider
	interval time.Duration
	logger   *zap.Logger
}

// NewSampler constructs a sampler. interval defaults to 5s.
func NewSampler(provider LoadProvider, interval time.Duration, logger *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Sampler{
		provider: provider,
		interval: interval,
		logger:   logger.Named("adaptive-sampler"),
	}
	s.state.Store(&AdaptiveState{SampledAt: time.Now()})
	return s
}

// Current returns the latest snapshot. Never nil.
func (s *Sampler) Current() *AdaptiveState {
	return s.state.Load()
}

// Start runs the sampling loop until ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

func (s *Sampler) sample() {
	load, battery := s.provider()
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	old := s.state.Load()
	s.state.Store(&AdaptiveState{
		ServiceLoad:        load,
		BatterySaverActive: battery,
		SampledAt:          time.Now(),
	})
	metrics.ServiceLoad.Set(load)
	if old != nil && (load >= 0.8) != (old.ServiceLoad >= 0.8) {
		s.logger.Info("service load crossed shedding threshold", zap.Float64("load", load))
	}
}

// InFlightLoadProvider derives service load from a shared in-flight request
// counter relative to capacity.
func InFlightLoadProvider(inflight *atomic.Int64, capacity int64) LoadProvider {
	if capacity <= 0 {
		capacity = 1
	}
	return func() (float64, bool) {
		return float64(inflight.Load()) / float64(capacity), false
	}
}
