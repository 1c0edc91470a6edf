package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mentara/internal/statestore"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func readyz(h *Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	return rec
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }}).
		Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
	}{
		{"no checkers", nil, http.StatusOK, "ok"},
		{"all pass", []Checker{{Name: "store", Check: ok}, {Name: "llm", Check: ok, Optional: true}}, http.StatusOK, "ok"},
		{"optional fails", []Checker{{Name: "store", Check: ok}, {Name: "llm", Check: fail, Optional: true}}, http.StatusOK, "degraded"},
		{"required fails", []Checker{{Name: "store", Check: fail}, {Name: "llm", Check: ok, Optional: true}}, http.StatusServiceUnavailable, "fail"},
		{"both fail", []Checker{{Name: "store", Check: fail}, {Name: "llm", Check: fail, Optional: true}}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := readyz(New(tc.checkers...))
			if rec.Code != tc.code {
				t.Errorf("code = %d, want %d", rec.Code, tc.code)
			}
			body := decode(t, rec)
			if body.Status != tc.status {
				t.Errorf("status = %q, want %q", body.Status, tc.status)
			}
			for _, c := range tc.checkers {
				if _, found := body.Checks[c.Name]; !found {
					t.Errorf("check %q missing from answer", c.Name)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	start := time.Now()
	rec := readyz(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("readyz took %v, want the checks to overlap", d)
	}
}

func TestReadyz_RequestCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if body := decode(t, rec); !strings.Contains(body.Checks["store"], "context canceled") {
		t.Fatalf("store check = %q", body.Checks["store"])
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

// loadOnly hides the Pinger method of a store.
type loadOnly struct{ statestore.Store }

type brokenStore struct{ statestore.Store }

func (brokenStore) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func TestStoreChecker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := StoreChecker(loadOnly{statestore.NewMemory()}, "k").Check(ctx); err != nil {
		t.Errorf("missing document should count as reachable: %v", err)
	}
	if err := StoreChecker(brokenStore{statestore.NewMemory()}, "k").Check(ctx); err == nil {
		t.Error("expected load error to fail the check")
	}
}

type availability bool

func (a availability) Available() bool { return bool(a) }

func TestProviderChecker(t *testing.T) {
	t.Parallel()
	c := ProviderChecker("llm", availability(false))
	if !c.Optional {
		t.Error("provider checks should be optional")
	}
	if err := c.Check(context.Background()); err == nil || !strings.Contains(err.Error(), "llm") {
		t.Errorf("err = %v", err)
	}
	if err := ProviderChecker("s2s", availability(true)).Check(context.Background()); err != nil {
		t.Errorf("available group failed: %v", err)
	}
}
