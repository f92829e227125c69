// Package httpcontroller serves the JSON control API and the Prometheus
// metrics endpoint for a running sink.
package httpcontroller

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gommonlog "github.com/labstack/gommon/log"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/datastore"
	"github.com/tphakala/btsink-go/internal/engine"
	"github.com/tphakala/btsink-go/internal/errors"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/observability"
)

// shutdownTimeout bounds the drain of in-flight requests on Stop.
const shutdownTimeout = 5 * time.Second

// Engine is the slice of the playback engine the control API drives.
type Engine interface {
	Status() engine.Status
	PipelineStats() audio.Stats
	Volume() int
	SetVolume(volume int)
	SetEQ(bassDB, midDB, trebleDB float64) error
	ControlByte() byte
	ApplyControlByte(b byte)
	PlayCue(typ audio.SoundType, mode audio.PlayMode) error
	SetCueMuted(muted bool)
}

// Server is the echo server behind the control API. The datastore is
// optional; history routes answer 503 without one.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings

	engine  Engine
	ds      datastore.Interface
	metrics *observability.Metrics

	startTime time.Time

	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New wires the control API over the given engine. ds and m may be nil.
func New(settings *conf.Settings, eng Engine, ds datastore.Interface, m *observability.Metrics) (*Server, error) {
	if settings == nil {
		return nil, errors.Newf("control API requires settings").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	if eng == nil {
		return nil, errors.Newf("control API requires an engine").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	e := echo.New()
	e.HideBanner = true
	// Request logging goes through the slog middleware, not echo's logger.
	e.Logger.SetLevel(gommonlog.OFF)

	s := &Server{
		Echo:      e,
		Settings:  settings,
		engine:    eng,
		ds:        ds,
		metrics:   m,
		startTime: time.Now(),
	}

	s.initLogger()
	s.configureMiddleware()
	s.initRoutes()
	return s, nil
}

// initLogger opens the API request log. A failed open falls back to a
// disabled logger so the server still starts.
func (s *Server) initLogger() {
	logger, closeFn, err := logging.NewFileLogger("logs/api.log", "api", slog.LevelInfo)
	if err != nil {
		logging.Warn("API file logger unavailable, requests will not be logged", "error", err)
		handler := slog.NewJSONHandler(io.Discard, nil)
		s.apiLogger = slog.New(handler).With("service", "api")
		s.apiLoggerClose = func() error { return nil }
		return
	}
	s.apiLogger = logger
	s.apiLoggerClose = closeFn
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Settings.API.Host, s.Settings.API.Port)
}

// Start serves requests until ctx is canceled or the listener fails.
// Cancellation drains in-flight requests before returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Echo.Start(s.Addr())
	}()
	s.apiLogger.Info("control API listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryHTTP).
				Context("addr", s.Addr()).
				Build()
		}
		return nil
	}
}

// Shutdown stops the listener, drains in-flight requests and closes the
// request log.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	if s.apiLoggerClose != nil {
		if cerr := s.apiLoggerClose(); cerr != nil {
			logging.Error("API log close failed", "error", cerr)
		}
		s.apiLoggerClose = nil
	}
	return err
}

// loggingMiddleware writes one structured line per completed request.
func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"ip", ctx.RealIP(),
				"latency_ms", time.Since(start).Milliseconds(),
				"bytes_out", res.Size,
			}
			switch {
			case err != nil:
				attrs = append(attrs, "error", err.Error())
				s.apiLogger.Error("HTTP request", attrs...)
			case res.Status >= http.StatusBadRequest:
				s.apiLogger.Warn("HTTP request", attrs...)
			default:
				s.apiLogger.Info("HTTP request", attrs...)
			}
			return err
		}
	}
}
