package httpcontroller

import (
	"crypto/subtle"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// configureMiddleware sets up the middleware stack for the control API.
func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(s.loggingMiddleware())
	s.Echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level:     6,
		MinLength: 2048,
	}))

	if s.Settings.API.RateLimit > 0 {
		s.Echo.Use(middleware.RateLimiterWithConfig(s.rateLimiterConfig()))
	}
	if s.Settings.API.BasicAuth.Enabled {
		s.Echo.Use(middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
			Skipper:   isOpenRoute,
			Validator: s.validateBasicAuth,
			Realm:     "btsink",
		}))
	}
}

// isOpenRoute exempts liveness probes and metrics scrapes from auth.
func isOpenRoute(c echo.Context) bool {
	path := c.Path()
	return path == "/metrics" || path == "/api/v1/health"
}

// rateLimiterConfig builds a per-client token bucket store. Metrics
// scrapes are exempt, Prometheus polls on its own schedule.
func (s *Server) rateLimiterConfig() middleware.RateLimiterConfig {
	rps := s.Settings.API.RateLimit
	return middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rps),
			Burst:     rps * 2,
			ExpiresIn: 3 * time.Minute,
		}),
	}
}

// validateBasicAuth checks credentials against the configured username
// and bcrypt password hash.
func (s *Server) validateBasicAuth(username, password string, _ echo.Context) (bool, error) {
	auth := &s.Settings.API.BasicAuth
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(auth.Username)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password)) == nil
	return userOK && passOK, nil
}
