// routes.go: route registration, status and history handlers, and the
// JSON error envelope.
package httpcontroller

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	defaultSessionLimit  = 20
	maxSessionLimit      = 200
	defaultSnapshotLimit = 288
	maxSnapshotLimit     = 5000
	defaultSnapshotSpan  = 24 * time.Hour
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// initRoutes registers the control API routes.
func (s *Server) initRoutes() {
	g := s.Echo.Group("/api/v1")

	g.GET("/health", s.HealthCheck)
	g.GET("/status", s.GetStatus)
	g.GET("/stats", s.GetStats)

	g.GET("/volume", s.GetVolume)
	g.POST("/volume", s.UpdateVolume)
	g.GET("/eq", s.GetEQ)
	g.POST("/eq", s.UpdateEQ)
	g.GET("/control", s.GetControlByte)
	g.POST("/control", s.UpdateControlByte)
	g.POST("/cue", s.TriggerCue)
	g.POST("/cue/mute", s.UpdateCueMute)

	g.GET("/sessions", s.GetSessions)
	g.GET("/snapshots", s.GetSnapshots)

	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(http.HandlerFunc(s.metrics.MetricsHandler)))
	}
}

// HealthCheck handles GET /api/v1/health.
func (s *Server) HealthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.Settings.Version,
		"build_date":     s.Settings.BuildDate,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// GetStatus handles GET /api/v1/status with the full engine snapshot.
func (s *Server) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.engine.Status())
}

// GetStats handles GET /api/v1/stats with the pipeline counters only.
func (s *Server) GetStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.engine.PipelineStats())
}

// GetSessions handles GET /api/v1/sessions?limit=N, newest first.
func (s *Server) GetSessions(ctx echo.Context) error {
	if s.ds == nil {
		return s.HandleError(ctx, nil, "Session history requires a datastore", http.StatusServiceUnavailable)
	}
	limit, err := queryLimit(ctx, "limit", defaultSessionLimit, maxSessionLimit)
	if err != nil {
		return s.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
	}

	sessions, err := s.ds.RecentSessions(ctx.Request().Context(), limit)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to query sessions", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// GetSnapshots handles GET /api/v1/snapshots?since=RFC3339&limit=N.
func (s *Server) GetSnapshots(ctx echo.Context) error {
	if s.ds == nil {
		return s.HandleError(ctx, nil, "Snapshot history requires a datastore", http.StatusServiceUnavailable)
	}
	since := time.Now().Add(-defaultSnapshotSpan)
	if raw := ctx.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return s.HandleError(ctx, err, "Invalid since parameter, want RFC3339", http.StatusBadRequest)
		}
		since = parsed
	}
	limit, err := queryLimit(ctx, "limit", defaultSnapshotLimit, maxSnapshotLimit)
	if err != nil {
		return s.HandleError(ctx, err, "Invalid limit parameter", http.StatusBadRequest)
	}

	snaps, err := s.ds.SnapshotsSince(ctx.Request().Context(), since, limit)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to query snapshots", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, snaps)
}

// queryLimit parses a positive integer query parameter, applying a
// default when absent and a ceiling when too large.
func queryLimit(ctx echo.Context, name string, def, ceil int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, n)
	}
	if n > ceil {
		n = ceil
	}
	return n, nil
}

// HandleError logs the failure and writes the JSON error envelope.
func (s *Server) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := &ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	s.apiLogger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
	)
	return ctx.JSON(code, resp)
}

// generateCorrelationID creates a short random identifier for matching
// error responses to log lines.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
