// Package api serves the portal's HTTP interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/metrics"
	"github.com/netresearch/ipa-admin-portal/internal/secretlink"
	"github.com/netresearch/ipa-admin-portal/internal/session"
)

// Config holds the HTTP-facing settings.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	CORSAllowedOrigins []string
	// RateLimitRPS is the per-client request rate; 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64

	CookieName   string
	SecureCookie bool

	// MetricsPath is where Metrics are served; empty disables the endpoint.
	MetricsPath string
}

// Deps are the collaborators the handlers use. Only Connector and Sessions
// are required.
type Deps struct {
	Connector ipa.Connector
	Sessions  *session.Manager
	// Links delivers generated passwords. When nil, resets carry no link and
	// spreadsheet imports fail their pre-flight.
	Links   secretlink.Generator
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the portal HTTP server.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
	limiter  *requestLimiter
	handler  http.Handler
}

// New builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Connector == nil {
		return nil, errors.New("api: connector is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("api: session manager is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "ipa_session"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "api")),
		validate: newValidator(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newRequestLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	s.handler = s.routes()
	return s, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", slog.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("server_stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
