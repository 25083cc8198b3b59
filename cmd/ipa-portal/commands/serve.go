package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ipa "github.com/netresearch/ipa-admin-portal"
	"github.com/netresearch/ipa-admin-portal/internal/api"
	"github.com/netresearch/ipa-admin-portal/internal/config"
	"github.com/netresearch/ipa-admin-portal/internal/logger"
	"github.com/netresearch/ipa-admin-portal/internal/metrics"
	"github.com/netresearch/ipa-admin-portal/internal/secretlink"
	"github.com/netresearch/ipa-admin-portal/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal HTTP server",
	Long: `Start the portal HTTP server and run until SIGINT or SIGTERM.

Examples:
  # Configure through the environment only
  IPA_PORTAL_DIRECTORY_SERVER=ipa.example.com ipa-portal serve

  # Configure from a file, with overrides
  IPA_PORTAL_LOGGING_LEVEL=DEBUG ipa-portal serve --config /etc/ipa-portal/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	log.Info("configuration_loaded",
		slog.String("source", configSource()),
		slog.String("version", Version),
		slog.String("directory", cfg.Directory.Server),
		slog.String("backend", cfg.Directory.Backend))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("server_failed", slog.String("error", err.Error()))
		return err
	}
	log.Info("server_stopped")
	return nil
}

// buildServer wires the portal together. The returned cleanup releases
// background resources in reverse order of creation.
func buildServer(cfg *config.Config, log *slog.Logger) (*api.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(log)
	}

	limiter := ipa.NewRateLimiter(&ipa.RateLimiterConfig{
		MaxAttempts:        cfg.Login.MaxAttempts,
		Window:             cfg.Login.Window,
		LockoutDuration:    cfg.Login.Lockout,
		ExponentialBackoff: true,
		MaxLockoutDuration: ipa.DefaultRateLimiterConfig().MaxLockoutDuration,
	}, log)
	closers = append(closers, limiter.Close)

	client, err := ipa.New(ipa.Config{
		Server:             cfg.Directory.Server,
		Backend:            ipa.Backend(cfg.Directory.Backend),
		BaseDN:             cfg.Directory.BaseDN,
		Realm:              cfg.Directory.Realm,
		APIVersion:         cfg.Directory.APIVersion,
		Timeout:            cfg.Directory.Timeout,
		InsecureSkipVerify: cfg.Directory.InsecureSkipVerify,
	}, ipa.WithLogger(log), ipa.WithRateLimiter(limiter))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var links secretlink.Generator
	if cfg.SecretLink.URL != "" {
		y, err := secretlink.NewYopass(secretlink.Config{
			URL:        cfg.SecretLink.URL,
			APIURL:     cfg.SecretLink.APIURL,
			Expiration: cfg.SecretLink.Expiration,
			OneTime:    cfg.SecretLink.OneTime,
			Timeout:    cfg.SecretLink.Timeout,
		}, nil, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		links = y
	} else {
		log.Warn("secret_links_disabled",
			slog.String("effect", "spreadsheet imports fail their pre-flight until secret_link.url is set"))
	}

	store := session.NewMemoryStore(cfg.Session.SweepInterval, log)
	closers = append(closers, func() { _ = store.Close() })
	sessions := session.NewManager(store, cfg.Session.TTL(), log)
	m.TrackSessions(sessions.Active)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	srv, err := api.New(api.Config{
		ListenAddr:         cfg.Server.ListenAddr,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRPS:       cfg.Server.RateLimitRPS,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		MaxUploadBytes:     cfg.Server.MaxUploadMB << 20,
		CookieName:         cfg.Session.CookieName,
		SecureCookie:       cfg.Session.SecureCookie,
		MetricsPath:        metricsPath,
	}, api.Deps{
		Connector: client,
		Sessions:  sessions,
		Links:     links,
		Metrics:   m,
		Logger:    log,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build http server: %w", err)
	}
	closers = append(closers, srv.Close)

	return srv, cleanup, nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "environment"
}
