package breaker

import (
	"sort"
	"sync"

	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/pkg/metrics"

	"go.uber.org/zap"
)

// Registry lazily creates one breaker per downstream target
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings: settings.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// NewRegistryFromConfig wires breaker transitions to logs and metrics
func NewRegistryFromConfig(logger *zap.Logger, cfg config.BreakerConfig, m *metrics.Metrics) *Registry {
	logger = logger.Named("breaker")
	return NewRegistry(Settings{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		OnStateChange: func(name string, from, to State) {
			fields := []zap.Field{
				zap.String("target", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			}
			if to == StateOpen {
				logger.Warn("circuit opened", append(fields, zap.Duration("recovery_timeout", cfg.RecoveryTimeout))...)
			} else {
				logger.Info("circuit state changed", fields...)
			}
			m.BreakerTransition(name, from.String(), to.String(), int(to))
		},
	})
}

// Get returns the breaker for target, creating it on first use
func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[target]
	if !ok {
		b = New(target, r.settings)
		r.breakers[target] = b
	}
	return b
}

// Snapshot returns every breaker ordered by name
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
