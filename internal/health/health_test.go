package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voicelinehq/voiceline/internal/health"
)

type response struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
	Checks      map[string]struct {
		Status  string `json:"status"`
		Error   string `json:"error"`
		Latency string `json:"latency"`
	} `json:"checks"`
}

func doRequest(t *testing.T, handler http.HandlerFunc, path string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := health.New([]health.Checker{{
		Name:  "providers",
		Check: func(context.Context) error { return errors.New("down") },
	}})

	code, body := doRequest(t, h.Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyz_AllPassing(t *testing.T) {
	h := health.New([]health.Checker{
		{Name: "providers", Check: func(context.Context) error { return nil }},
		{Name: "export", Check: func(context.Context) error { return nil }},
	})

	code, body := doRequest(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
	if len(body.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(body.Checks))
	}
	for name, c := range body.Checks {
		if c.Status != "ok" {
			t.Errorf("check %s status = %q, want ok", name, c.Status)
		}
		if c.Latency == "" {
			t.Errorf("check %s has no latency", name)
		}
	}
}

func TestReadyz_OneFailing(t *testing.T) {
	h := health.New([]health.Checker{
		{Name: "providers", Check: func(context.Context) error { return nil }},
		{Name: "export", Check: func(context.Context) error { return errors.New("connection refused") }},
	})

	code, body := doRequest(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Status != "fail" {
		t.Errorf("body status = %q, want fail", body.Status)
	}
	if got := body.Checks["export"]; got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("export check = %+v", got)
	}
	if got := body.Checks["providers"]; got.Status != "ok" {
		t.Errorf("providers check = %+v", got)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := health.New(nil)

	code, body := doRequest(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyz_ActiveCalls(t *testing.T) {
	h := health.New(nil, health.WithActiveCalls(func() int { return 3 }))

	_, body := doRequest(t, h.Readyz, "/readyz")
	if body.ActiveCalls != 3 {
		t.Errorf("active_calls = %d, want 3", body.ActiveCalls)
	}
}

func TestReadyz_CheckContextHasDeadline(t *testing.T) {
	h := health.New([]health.Checker{{
		Name: "providers",
		Check: func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline on check context")
			}
			return nil
		},
	}})

	code, _ := doRequest(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200; check context was missing a deadline", code)
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	health.New(nil).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
