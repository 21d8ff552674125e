// Package health provides Kubernetes-style liveness and readiness probes.
//
// Probes are registered before Start and then evaluated by a single
// supervisor goroutine on a fixed interval. Each probe carries failure and
// success thresholds so a single slow dependency check does not flap the
// reported state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Probe thresholds: failAfter consecutive failures mark a probe unhealthy,
// okAfter consecutive successes mark it healthy again.
const (
	failAfter = 3
	okAfter   = 1
)

type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	ok      bool
	lastErr error
	fails   int
	oks     int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	// Assume healthy until the first evaluation says otherwise.
	return &probe{name: name, timeout: timeout, check: check, ok: true}
}

// evaluate runs the check once and folds the result into the thresholds.
func (p *probe) evaluate(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(checkCtx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= failAfter {
			p.ok = false
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= okAfter {
		p.ok = true
	}
}

// state returns the probe's current health and last error.
func (p *probe) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ok, p.lastErr
}

// Health manages the liveness and readiness probe sets for a service.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New creates a Health service. It starts not ready; call SetReady(true)
// once initialization has finished.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a liveness probe. Liveness answers "is this
// process functioning at all" (goroutine leaks, GC stalls).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a readiness probe. Readiness answers "should
// this instance receive traffic" (database connectivity, warmed caches).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches the supervisor goroutine evaluating every registered probe
// on the given interval. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	go supervise(ctx, probes, interval)
}

func supervise(ctx context.Context, probes []*probe, interval time.Duration) {
	evaluateAll := func() {
		for _, p := range probes {
			if ctx.Err() != nil {
				return
			}
			p.evaluate(ctx)
		}
	}
	evaluateAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evaluateAll()
		}
	}
}

// SetReady flips the manual readiness gate. Set it to false during graceful
// shutdown so load balancers stop routing new traffic here.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(&h.readiness) {
		if ok, _ := p.state(); !ok {
			return false
		}
	}
	return true
}

// Stop cancels the supervisor goroutine. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot(set *[]*probe) []*probe {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*probe, len(*set))
	copy(out, *set)
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when every liveness probe passes, 503
// with per-probe failure details otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeProbeStatus(w, failuresOf(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz: 200 when the manual gate is open and every
// readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := failuresOf(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeProbeStatus(w, failures)
}

func failuresOf(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		ok, err := p.state()
		if ok {
			continue
		}
		if err != nil {
			failures[p.name] = err.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeProbeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
