package llm

import (
	"net/http"
	"sync"
	"time"
)

// Registry holds a pool of Services keyed by config id (C2). Readers take a
// pointer-swap snapshot of the slice, so UpdateConfigs can rebuild the whole
// list without ever exposing a partially-built one.
type Registry struct {
	mu       sync.RWMutex
	services []*Service
	byID     map[string]*Service
}

// NewRegistry builds a registry from an initial config list.
func NewRegistry(configs []Config) *Registry {
	r := &Registry{}
	r.UpdateConfigs(configs)
	return r
}

// GetService returns the service for configId, or nil if absent.
func (r *Registry) GetService(configID string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[configID]
}

// All returns the current service list (a stable snapshot — the caller's
// reference survives any subsequent UpdateConfigs).
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services
}

// UpdateConfigs rebuilds the registry atomically: the new slice and map are
// constructed fully before the swap, so concurrent readers never see a
// partially-built list.
func (r *Registry) UpdateConfigs(configs []Config) {
	services := make([]*Service, 0, len(configs))
	byID := make(map[string]*Service, len(configs))
	for _, cfg := range configs {
		svc := New(cfg, &http.Client{Timeout: 120 * time.Second})
		services = append(services, svc)
		byID[cfg.ID] = svc
	}
	r.mu.Lock()
	r.services = services
	r.byID = byID
	r.mu.Unlock()
}

// UpdateLlmNotes mutates one service's strengths/weaknesses notes in place,
// without rebuilding the registry.
func (r *Registry) UpdateLlmNotes(configID, strengths, weaknesses string) bool {
	svc := r.GetService(configID)
	if svc == nil {
		return false
	}
	svc.UpdateNotes(strengths, weaknesses)
	return true
}

// GetAvailableLlmSummaries returns a planner-facing summary per service,
// filtered to those affordable under remainingBudget (0 = unlimited, no
// filtering).
func (r *Registry) GetAvailableLlmSummaries(remainingBudget float64) []Summary {
	now := time.Now()
	services := r.All()
	out := make([]Summary, 0, len(services))
	for _, svc := range services {
		cfg := svc.Config()
		if remainingBudget > 0 && cfg.CostPer1M() > remainingBudget {
			continue
		}
		out = append(out, Summary{
			ID:          cfg.ID,
			Model:       cfg.Model,
			Strengths:   cfg.Strengths,
			Weaknesses:  cfg.Weaknesses,
			CostPer1M:   cfg.CostPer1M(),
			IsAvailable: svc.IsAvailable(now),
		})
	}
	return out
}
