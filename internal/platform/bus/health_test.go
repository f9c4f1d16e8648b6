package bus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakeStatus struct{ pub, sub bool }

func (s fakeStatus) PublisherOpen() bool  { return s.pub }
func (s fakeStatus) SubscriberOpen() bool { return s.sub }

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/bus", nil), rec)

	if err := HealthHandler(fakeStatus{true, true})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthHandler_PublisherDown(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/bus", nil), rec)

	if err := HealthHandler(fakeStatus{false, true})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"publisher":false`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
