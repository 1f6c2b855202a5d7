package telemetry

import (
	"sort"
	"sync"
	"time"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthUnknown  = "unknown"
)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status    string           `json:"status"`
	Endpoints []EndpointHealth `json:"endpoints,omitempty"`
}

type EndpointHealth struct {
	Endpoint  string    `json:"endpoint"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checkedAt"`
}

// HealthTracker keeps the latest probe outcome per endpoint.
type HealthTracker struct {
	mu        sync.RWMutex
	endpoints map[string]EndpointHealth
	now       func() time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		endpoints: make(map[string]EndpointHealth),
		now:       time.Now,
	}
}

// Record stores the outcome of one probe.
func (h *HealthTracker) Record(endpoint string, reachable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[endpoint] = EndpointHealth{
		Endpoint:  endpoint,
		Reachable: reachable,
		CheckedAt: h.now(),
	}
}

// Endpoint returns the last recorded outcome for one endpoint.
func (h *HealthTracker) Endpoint(name string) (EndpointHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.endpoints[name]
	return entry, ok
}

// Report is ok only when every recorded endpoint was reachable, and unknown
// before the first probe.
func (h *HealthTracker) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.endpoints) == 0 {
		return HealthReport{Status: HealthUnknown}
	}
	report := HealthReport{Status: HealthOK, Endpoints: make([]EndpointHealth, 0, len(h.endpoints))}
	for _, entry := range h.endpoints {
		if !entry.Reachable {
			report.Status = HealthDegraded
		}
		report.Endpoints = append(report.Endpoints, entry)
	}
	sort.Slice(report.Endpoints, func(i, j int) bool {
		return report.Endpoints[i].Endpoint < report.Endpoints[j].Endpoint
	})
	return report
}
