package config

import (
	"strings"
	"time"
)

func defaults() map[string]any {
	return map[string]any{
		"server.listen_addr":          ":8080",
		"server.read_timeout":         "30s",
		"server.write_timeout":        "5m",
		"server.shutdown_timeout":     "30s",
		"server.cors_allowed_origins": []string{},
		"server.rate_limit_rps":       20,
		"server.rate_limit_burst":     40,
		"server.max_upload_mb":        10,

		"directory.backend":              "rpc",
		"directory.server":               "",
		"directory.insecure_skip_verify": true,
		"directory.timeout":              "30s",
		"directory.api_version":          "2.251",
		"directory.base_dn":              "",
		"directory.realm":                "",

		"secret_link.url":        "",
		"secret_link.api_url":    "",
		"secret_link.expiration": "168h",
		"secret_link.one_time":   true,
		"secret_link.timeout":    "10s",

		"session.expiration_minutes": 60,
		"session.cookie_name":        "ipa_session",
		"session.secure_cookie":      false,
		"session.sweep_interval":     "1m",

		"login.max_attempts": 5,
		"login.window":       "15m",
		"login.lockout":      "15m",

		"logging.level":  "INFO",
		"logging.format": "text",
		"logging.output": "stdout",

		"metrics.enabled": true,
		"metrics.path":    "/metrics",
	}
}

// ApplyDefaults fills zero values left by a partial file and normalises
// case-insensitive settings.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDirectoryDefaults(&cfg.Directory)
	applySecretLinkDefaults(&cfg.SecretLink)
	applySessionDefaults(&cfg.Session)
	applyLoginDefaults(&cfg.Login)
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}
	origins := cfg.CORSAllowedOrigins[:0]
	for _, o := range cfg.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORSAllowedOrigins = origins
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = "rpc"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2.251"
	}
}

func applySecretLinkDefaults(cfg *SecretLinkConfig) {
	if cfg.APIURL == "" {
		cfg.APIURL = cfg.URL
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 7 * 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.ExpirationMinutes <= 0 {
		cfg.ExpirationMinutes = 60
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "ipa_session"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
}

func applyLoginDefaults(cfg *LoginConfig) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = 15 * time.Minute
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Level == "WARNING" {
		cfg.Level = "WARN"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// Default returns the configuration used when nothing is set, with server
// as the directory address.
func Default(server string) *Config {
	cfg := &Config{
		Directory:  DirectoryConfig{Server: server, InsecureSkipVerify: true},
		SecretLink: SecretLinkConfig{OneTime: true},
		Metrics:    MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
