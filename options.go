package ipa

import (
	"crypto/tls"
	"log/slog"
	"net/http"
)

// Option represents a functional option for configuring a Client.
type Option func(*Client)

// WithLogger sets a custom structured logger for directory operations.
// If not provided, slog.Default() is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	client, err := ipa.New(config, ipa.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTLS configures TLS for both backends. It takes precedence over
// Config.InsecureSkipVerify.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *Client) {
		if tlsConfig != nil {
			c.tlsConfig = tlsConfig
		}
	}
}

// WithHTTPClient sets the HTTP client template for the RPC backend. Each
// operator session gets a copy with its own cookie jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDialer replaces the LDAP dialer, mainly for tests.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithRateLimiter guards Login with the given limiter.
//
// Example:
//
//	limiter := ipa.NewRateLimiter(ipa.DefaultRateLimiterConfig(), logger)
//	defer limiter.Close()
//	client, err := ipa.New(config, ipa.WithRateLimiter(limiter))
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(c *Client) {
		c.rateLimiter = limiter
	}
}

// WithPasswordGenerator replaces the generator used by the LDAP backend for
// initial and reset passwords. The RPC backend lets the server generate them.
func WithPasswordGenerator(gen func() (string, error)) Option {
	return func(c *Client) {
		if gen != nil {
			c.generatePassword = gen
		}
	}
}
