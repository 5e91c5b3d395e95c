package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(Check{Name: "store", Probe: func(_ context.Context) error {
		return errors.New("down")
	}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok even with failing readiness checks", body.Status)
	}
}

func TestReadyz_AllChecksPass(t *testing.T) {
	h := New(
		Check{Name: "store", Probe: func(_ context.Context) error { return nil }},
		Check{Name: "embeddings", Probe: func(_ context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	for _, name := range []string{"store", "embeddings"} {
		if body.Checks[name].Status != "ok" {
			t.Errorf("check %q = %+v, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	h := New(
		Check{Name: "store", Probe: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Check{Name: "embeddings", Probe: func(_ context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("overall status = %q, want fail", body.Status)
	}
	got := body.Checks["store"]
	if got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("store check = %+v, want fail with error message", got)
	}
	if body.Checks["embeddings"].Status != "ok" {
		t.Errorf("embeddings check = %+v, want ok", body.Checks["embeddings"])
	}
}

func TestReadyz_ProbeReceivesDeadline(t *testing.T) {
	h := New(Check{Name: "store", Probe: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline set")
		}
		return nil
	}})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (probe should see a deadline)", rec.Code, http.StatusOK)
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}
