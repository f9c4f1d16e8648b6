package bus

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Status reports the liveness of both broker connections.
type Status interface {
	PublisherOpen() bool
	SubscriberOpen() bool
}

// HealthHandler answers 200 when both connections are up, 503 otherwise.
func HealthHandler(s Status) echo.HandlerFunc {
	return func(c echo.Context) error {
		pub, sub := s.PublisherOpen(), s.SubscriberOpen()
		body := map[string]interface{}{
			"status":     "healthy",
			"publisher":  pub,
			"subscriber": sub,
		}
		if !pub || !sub {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
