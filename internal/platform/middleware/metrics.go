package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haniot/mhealth-sub002/internal/platform/metrics"
)

// Metrics records request counts, latencies and in-flight requests. The
// route template is used as path label to keep cardinality bounded.
func Metrics(c *metrics.Collector) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c == nil {
				return next(ctx)
			}
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}
			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}
			c.ObserveRequest(ctx.Request().Method, path, ctx.Response().Status, time.Since(start))
			return nil
		}
	}
}
