// Package health provides HTTP liveness and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only when every registered [Check] passes.
//
// The readiness response reports each check individually so an operator can
// see which dependency (story store, embedding provider, ...) is failing.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness probe may run.
const probeTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when the dependency is
// usable and an error describing the failure otherwise. It must respect
// context cancellation.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// checkResult is the per-dependency entry in the readiness response.
type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed"`
}

// response is the JSON body served by both endpoints.
type response struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at
// construction time, so the handler is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New creates a [Handler] evaluating the given checks, in order, on each
// readiness request.
func New(checks ...Check) *Handler {
	h := &Handler{checks: make([]Check, len(checks))}
	copy(h.checks, checks)
	return h
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs every registered check with a [probeTimeout] deadline and
// answers 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok", Checks: make(map[string]checkResult, len(h.checks))}
	code := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		start := time.Now()
		err := c.Probe(ctx)
		elapsed := time.Since(start)
		cancel()

		res := checkResult{Status: "ok", Elapsed: elapsed.Round(time.Millisecond).String()}
		if err != nil {
			res.Status = "fail"
			res.Error = err.Error()
			resp.Status = "fail"
			code = http.StatusServiceUnavailable
		}
		resp.Checks[c.Name] = res
	}

	writeJSON(w, code, resp)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
