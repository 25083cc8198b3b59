package ipa

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client authenticates operators against one FreeIPA deployment. It is safe
// for concurrent use; the per-operator state lives in the Directory handles
// returned by Login.
type Client struct {
	config           Config
	logger           *slog.Logger
	tlsConfig        *tls.Config
	httpClient       *http.Client
	dialer           Dialer
	rateLimiter      *RateLimiter
	generatePassword func() (string, error)
}

var _ Connector = (*Client)(nil)

// New validates config and creates a Client.
func New(config Config, opts ...Option) (*Client, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}

	c := &Client{
		config:           config,
		logger:           slog.Default(),
		dialer:           DialLDAP,
		generatePassword: func() (string, error) { return GeneratePassword(DefaultPasswordLength) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tlsConfig == nil {
		c.tlsConfig = &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // FreeIPA deployments commonly use an internal CA
			MinVersion:         tls.VersionTLS12,
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   config.Timeout,
			Transport: &http.Transport{TLSClientConfig: c.tlsConfig},
		}
	}
	c.logger = c.logger.With(slog.String("component", "directory"), slog.String("backend", string(config.Backend)))

	c.logger.Debug("directory_client_initialized",
		slog.String("server", config.Server),
		slog.Duration("timeout", config.Timeout))

	return c, nil
}

// Server returns the directory URL the client talks to.
func (c *Client) Server() string {
	return c.config.Server
}

// Login authenticates an operator and returns a Directory handle bound to
// them. Rejected credentials yield ErrInvalidCredentials; a locked-out
// operator yields ErrRateLimited without contacting the directory.
func (c *Client) Login(ctx context.Context, username, password string) (Directory, error) {
	start := time.Now()
	maskedUsername := maskSensitiveData(username)
	clientIP := ClientIPFromContext(ctx)

	if username == "" || password == "" {
		return nil, fmt.Errorf("login: %w", ErrInvalidCredentials)
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.CheckAttempt(username, clientIP); err != nil {
			c.logger.Warn("authentication_rate_limited",
				slog.String("username_masked", maskedUsername),
				slog.String("client_ip", clientIP),
				slog.String("reason", err.Error()))
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var (
		dir Directory
		err error
	)
	switch c.config.Backend {
	case BackendLDAP:
		dir, err = c.loginLDAP(ctx, username, password)
	default:
		dir, err = c.loginRPC(ctx, username, password)
	}

	if err != nil {
		if c.rateLimiter != nil && errors.Is(err, ErrInvalidCredentials) {
			c.rateLimiter.RecordFailure(username, clientIP)
		}
		c.logger.Warn("authentication_failed",
			slog.String("username_masked", maskedUsername),
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)))
		return nil, err
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordSuccess(username)
	}

	c.logger.Info("authentication_successful",
		slog.String("username_masked", maskedUsername),
		slog.String("client_ip", clientIP),
		slog.Duration("duration", time.Since(start)))

	return dir, nil
}

type contextKey string

const contextKeyClientIP contextKey = "client_ip"

// WithClientIP records the caller's address on ctx for login rate limiting and audit logs.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyClientIP, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}
