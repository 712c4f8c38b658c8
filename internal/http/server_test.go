package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeChannels struct{ status map[string]bool }

func (f fakeChannels) Status() map[string]bool { return f.status }

type fakeSchedules struct{ ids []string }

func (f fakeSchedules) Registered() []string { return f.ids }

func TestHealthz(t *testing.T) {
	s := NewServer("127.0.0.1:0", "v1.2.3", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "v1.2.3" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestStatusReportsChannelsAndSchedules(t *testing.T) {
	s := NewServer("127.0.0.1:0", "dev",
		fakeChannels{status: map[string]bool{"telegram": true, "whatsapp": false}},
		fakeSchedules{ids: []string{"a", "b", "c"}},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if !body.Channels["telegram"] || body.Channels["whatsapp"] {
		t.Errorf("channels = %v", body.Channels)
	}
	if body.Schedules != 3 {
		t.Errorf("schedules = %d, want 3", body.Schedules)
	}
	if body.Uptime == "" {
		t.Error("uptime is empty")
	}
}

func TestStatusWithoutReporters(t *testing.T) {
	s := NewServer("127.0.0.1:0", "dev", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Channels != nil {
		t.Errorf("channels = %v, want omitted", body.Channels)
	}
	if body.Schedules != 0 {
		t.Errorf("schedules = %d, want 0", body.Schedules)
	}
}

func TestStatusRejectsWrites(t *testing.T) {
	s := NewServer("127.0.0.1:0", "dev", nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
