package app

import (
	"context"
	"sort"
	"time"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

// Pinger is anything with a cheap liveness probe (the store, redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type DependencyStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type HealthReport struct {
	Status       string                 `json:"status"` // ok | degraded | unhealthy
	Channel      domain.ChannelHealth   `json:"channel"`
	Dependencies []DependencyStatus     `json:"dependencies"`
	Metrics      observability.Snapshot `json:"metrics"`
	CheckedAt    time.Time              `json:"checkedAt"`
}

type HealthService struct {
	client  domain.ChannelClient
	metrics *observability.Registry
	deps    map[string]Pinger
}

func NewHealthService(c domain.ChannelClient, m *observability.Registry, deps map[string]Pinger) *HealthService {
	return &HealthService{client: c, metrics: m, deps: deps}
}

// Check is unhealthy when no review data can be served at all, degraded when
// a dependency fails its probe.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	r := HealthReport{
		Status:       StatusOK,
		Channel:      s.client.Health(),
		Dependencies: []DependencyStatus{},
		Metrics:      s.metrics.Snapshot(),
		CheckedAt:    time.Now().UTC(),
	}
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := s.deps[name]
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pctx)
		cancel()
		d := DependencyStatus{Name: name, OK: err == nil}
		if err != nil {
			d.Error = err.Error()
			r.Status = StatusDegraded
		}
		r.Dependencies = append(r.Dependencies, d)
	}
	if !r.Channel.Healthy {
		r.Status = StatusUnhealthy
	}
	return r
}

func (s *HealthService) Metrics() observability.Snapshot { return s.metrics.Snapshot() }

// ResetMetrics zeroes every client and cache counter.
func (s *HealthService) ResetMetrics() { s.metrics.Reset() }
