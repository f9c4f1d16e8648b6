package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func runHealth(t *testing.T, p Pinger, stats StatsFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := HealthHandler(p, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{TotalConns: 3, MaxConns: 20, Healthy: true} }
	rec, body := runHealth(t, fakePinger{}, stats)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatal("expected pool stats in body")
	}
	if pool["total_conns"] != float64(3) {
		t.Errorf("expected total_conns 3, got %v", pool["total_conns"])
	}
}

func TestHealthHandler_PingFails(t *testing.T) {
	rec, body := runHealth(t, fakePinger{err: errors.New("connection refused")}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	if body["error"] != "connection refused" {
		t.Errorf("unexpected error text %v", body["error"])
	}
	if _, ok := body["pool"]; ok {
		t.Error("did not expect pool stats without a StatsFunc")
	}
}

func TestSchemaSQL_CreatesTables(t *testing.T) {
	sql := SchemaSQL()
	for _, table := range []string{"measurement", "device", "physical_activity", "sleep", "integration_event"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Errorf("schema missing table %s", table)
		}
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if TxFromContext(ctx) != nil {
		t.Error("expected nil for a non-tx value")
	}
}
