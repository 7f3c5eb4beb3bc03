package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// readyCheckTimeout bounds each readiness probe.
const readyCheckTimeout = 5 * time.Second

// HealthChecker is one named readiness probe. Check returns nil when the
// dependency can serve traffic.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// healthResult is the JSON body for /healthz and /readyz.
type healthResult struct {
	Status   string            `json:"status"`
	Sessions int               `json:"sessions"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// healthHandler serves liveness and readiness for the voice gateway.
// Liveness also reports the live session count so drain tooling can wait
// for calls to finish before stopping the process.
type healthHandler struct {
	sessions *SessionRegistry
	checkers []HealthChecker
}

func newHealthHandler(sessions *SessionRegistry, checkers ...HealthChecker) *healthHandler {
	return &healthHandler{sessions: sessions, checkers: checkers}
}

func (h *healthHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

// healthz always answers 200: a process that can serve HTTP is alive.
func (h *healthHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok", Sessions: h.sessions.Count()})
}

// readyz answers 200 only when every checker passes, each under its own
// deadline derived from the request context.
func (h *healthHandler) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}

	res := healthResult{Status: "ok", Sessions: h.sessions.Count(), Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
