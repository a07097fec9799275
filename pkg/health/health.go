// Package health serves the /livez and /readyz probes for the API server.
//
// Probes run on their own tickers. A probe reports failure only after
// failStreak consecutive errors, so one slow database round trip does not
// pull the server out of rotation, and a single success recovers it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// failStreak is how many consecutive errors flip a probe to failing.
const failStreak = 3

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

// probe is one registered check plus its observed state. observe runs on a
// single goroutine per probe; failure is read from HTTP handlers, so both go
// through the mutex.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	streak  int
	failing bool
	lastErr error
}

func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.streak = 0
		p.failing = false
		return
	}
	p.streak++
	if p.streak >= failStreak {
		p.failing = true
	}
}

func (p *probe) loop(ctx context.Context, interval time.Duration) {
	p.observe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observe(ctx)
		}
	}
}

// failure returns the probe's current failure message, if it is failing.
func (p *probe) failure() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.failing {
		return "", false
	}
	if p.lastErr != nil {
		return p.lastErr.Error(), true
	}
	return "failing", true
}

// Health tracks the registered probes and the manual readiness gate.
type Health struct {
	ready atomic.Bool

	mu     sync.Mutex
	probes []*probe
	stop   context.CancelFunc
}

// New returns a Health that is not yet ready. Call SetReady(true) once the
// server has finished wiring its dependencies.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe for /livez. Liveness failures mean the
// process itself is wedged and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(&probe{name: name, kind: liveness, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a probe for /readyz. Readiness failures mean a
// dependency is down and traffic should route elsewhere.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.add(&probe{name: name, kind: readiness, timeout: timeout, fn: fn})
}

func (h *Health) add(p *probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// Start launches one observation loop per registered probe. Register all
// probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.stop = cancel
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		go p.loop(ctx, interval)
	}
}

// Stop cancels the observation loops. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
}

// SetReady flips the manual readiness gate: true after startup completes,
// false at the start of graceful shutdown so new traffic drains away.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, liveness, true)
}

// ReadyEndpoint serves /readyz. It fails while the manual gate is down, even
// when every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.serve(w, readiness, h.ready.Load())
}

type probeReport struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

func (h *Health) serve(w http.ResponseWriter, kind probeKind, gateOpen bool) {
	failing := make(map[string]string)
	if !gateOpen {
		failing["service"] = "not ready"
	}

	h.mu.Lock()
	probes := make([]*probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		if p.kind != kind {
			continue
		}
		if msg, bad := p.failure(); bad {
			failing[p.name] = msg
		}
	}

	w.Header().Set("Content-Type", "application/json")
	report := probeReport{Status: "ok"}
	code := http.StatusOK
	if len(failing) > 0 {
		report = probeReport{Status: "failing", Failing: failing}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
