package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// requestLogger logs every request through zerolog
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler pick the status before logging it
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			event := logger.Debug()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
			return nil
		}
	}
}

// requestMetrics records request counts and latency by route. It must wrap
// requestLogger, which settles the response status.
func requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			timer := metrics.NewTimer()
			err := next(c)

			method := c.Request().Method + " " + c.Path()
			metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(c.Response().Status)).Inc()
			timer.ObserveDurationVec(metrics.APIRequestDuration, method)
			return err
		}
	}
}

// isReadOnly reports whether a request leaves the store untouched
func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// leaderOnly rejects writes on a Raft follower. Reads are served from the
// local replica.
func leaderOnly(cluster Cluster) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cluster == nil || isReadOnly(c.Request().Method) || cluster.IsLeader() {
				return next(c)
			}
			msg := "write operations must go to the raft leader"
			if addr := cluster.LeaderAddr(); addr != "" {
				msg += " (leader: " + addr + ")"
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, msg)
		}
	}
}
