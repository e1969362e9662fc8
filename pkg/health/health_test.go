package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckAll_Aggregation(t *testing.T) {
	c := NewChecker()
	c.Add(NewGatewayCheck(func() bool { return true }))
	c.Add(NewDatabaseCheck(func(ctx context.Context) error { return nil }))

	status := c.CheckAll(context.Background())
	if status.Status != "healthy" {
		t.Errorf("status = %q, want healthy", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}

	c.Add(NewDatabaseCheck(func(ctx context.Context) error { return fmt.Errorf("locked") }))
	status = c.CheckAll(context.Background())
	if status.Status != "unhealthy" {
		t.Error("one failing check should make the aggregate unhealthy")
	}
	if status.Checks["database"].Message == "" {
		t.Error("failing check should carry a message")
	}
	if status.Checks["gateway"].Status != "healthy" {
		t.Error("passing checks keep their own status")
	}
}

func TestLivenessHandler(t *testing.T) {
	c := NewChecker()
	rec := httptest.NewRecorder()
	c.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "alive" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()
	c.Add(NewGatewayCheck(func() bool { return true }))

	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthy readiness status = %d, want 200", rec.Code)
	}

	c.Add(NewGatewayCheck(func() bool { return false }))
	rec = httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy readiness status = %d, want 503", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status.Status != "unhealthy" {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMemoryCheck(t *testing.T) {
	over := NewMemoryCheck(100, func() int64 { return 150 })
	if over.Check(context.Background()) == nil {
		t.Error("usage over the limit should fail")
	}
	under := NewMemoryCheck(100, func() int64 { return 50 })
	if err := under.Check(context.Background()); err != nil {
		t.Errorf("usage under the limit failed: %v", err)
	}
	// Default usage reader pulls from the runtime and should be far below
	// any sane limit in tests.
	def := NewMemoryCheck(1 << 20, nil)
	if err := def.Check(context.Background()); err != nil {
		t.Errorf("default reader failed: %v", err)
	}
}
