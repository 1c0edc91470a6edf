// Package health serves the daemon's liveness and readiness endpoints.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz runs every registered [Checker] and answers 503 when a
//     required one fails. Optional checkers only mark the answer "degraded".
//
// Both answer with JSON: {"status": "ok"|"degraded"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mentara/internal/statestore"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe.
type Checker struct {
	// Name is the key of this check in the JSON answer.
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error

	// Optional checks never fail readiness; a failure only degrades it.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a handler evaluating checkers on every /readyz request.
// Checkers run concurrently.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 unless a required checker fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] == nil {
			res.Checks[c.Name] = "ok"
			continue
		}
		res.Checks[c.Name] = "fail: " + errs[i].Error()
		switch {
		case !c.Optional:
			res.Status = "fail"
			code = http.StatusServiceUnavailable
		case res.Status == "ok":
			res.Status = "degraded"
		}
	}
	writeJSON(w, code, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// StoreChecker probes the document store. Stores implementing
// [statestore.Pinger] are pinged; others must answer a Load for key, where
// a missing document still counts as reachable.
func StoreChecker(s statestore.Store, key string) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if p, ok := s.(statestore.Pinger); ok {
				return p.Ping(ctx)
			}
			if _, err := s.Load(ctx, key); err != nil && !errors.Is(err, statestore.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// Availability is implemented by provider groups that track backend health.
type Availability interface {
	Available() bool
}

// ProviderChecker fails while every backend of a provider group has an open
// circuit breaker. It is optional: the companion still answers with its
// fixed fallback texts.
func ProviderChecker(name string, a Availability) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if !a.Available() {
				return fmt.Errorf("all %s backends unavailable", name)
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
