package api

import (
	"errors"
	"log/slog"
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			slog.Info("http_request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", responseStatus(c, err),
				"latency_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}

// responseStatus reports the status code for a finished request. The error
// wins when the handler returned one, since the global error handler has not
// written the response yet at middleware time.
func responseStatus(c *echo.Context, err error) int {
	if err != nil {
		var hsc echo.HTTPStatusCoder
		if errors.As(err, &hsc) {
			return hsc.StatusCode()
		}
		return 500
	}
	if resp, uerr := echo.UnwrapResponse(c.Response()); uerr == nil {
		return resp.Status
	}
	return -1
}

// extractActor extracts the caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func extractActor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}
