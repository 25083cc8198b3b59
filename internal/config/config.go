// Package config loads the portal configuration from an optional YAML file
// and IPA_PORTAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "IPA_PORTAL"

// Config is the complete portal configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Directory  DirectoryConfig  `mapstructure:"directory" yaml:"directory"`
	SecretLink SecretLinkConfig `mapstructure:"secret_link" yaml:"secret_link"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Login      LoginConfig      `mapstructure:"login" yaml:"login"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
	// CORSAllowedOrigins lists the browser origins allowed to call the API.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	// RateLimitRPS is the per-client request rate; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" validate:"gte=0" yaml:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gte=0" yaml:"rate_limit_burst"`
	MaxUploadMB    int64   `mapstructure:"max_upload_mb" validate:"gt=0" yaml:"max_upload_mb"`
}

// DirectoryConfig selects and configures the directory backend.
type DirectoryConfig struct {
	Backend            string        `mapstructure:"backend" validate:"oneof=rpc ldap" yaml:"backend"`
	Server             string        `mapstructure:"server" validate:"required" yaml:"server"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
	APIVersion         string        `mapstructure:"api_version" yaml:"api_version"`
	BaseDN             string        `mapstructure:"base_dn" validate:"required_if=Backend ldap" yaml:"base_dn,omitempty"`
	Realm              string        `mapstructure:"realm" yaml:"realm,omitempty"`
}

// SecretLinkConfig configures the Yopass service. An empty URL disables
// secret links and the import pre-flight check.
type SecretLinkConfig struct {
	URL        string        `mapstructure:"url" validate:"omitempty,url" yaml:"url"`
	APIURL     string        `mapstructure:"api_url" validate:"omitempty,url" yaml:"api_url"`
	Expiration time.Duration `mapstructure:"expiration" validate:"gt=0" yaml:"expiration"`
	OneTime    bool          `mapstructure:"one_time" yaml:"one_time"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// SessionConfig configures operator sessions.
type SessionConfig struct {
	ExpirationMinutes int           `mapstructure:"expiration_minutes" validate:"gt=0" yaml:"expiration_minutes"`
	CookieName        string        `mapstructure:"cookie_name" validate:"required" yaml:"cookie_name"`
	SecureCookie      bool          `mapstructure:"secure_cookie" yaml:"secure_cookie"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0" yaml:"sweep_interval"`
}

// TTL returns the session lifetime.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.ExpirationMinutes) * time.Minute
}

// LoginConfig configures the failed-login lockout.
type LoginConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0" yaml:"max_attempts"`
	Window      time.Duration `mapstructure:"window" validate:"gt=0" yaml:"window"`
	Lockout     time.Duration `mapstructure:"lockout" validate:"gt=0" yaml:"lockout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/" yaml:"path"`
}

// Load reads configuration from configPath (optional), the environment and
// defaults, in decreasing order of precedence, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper binds the environment. Every key is registered with a default
// so AutomaticEnv can see it during Unmarshal.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	// Variable names used by earlier deployments.
	_ = v.BindEnv("directory.server", EnvPrefix+"_DIRECTORY_SERVER", "IPA_HOST")
	_ = v.BindEnv("secret_link.url", EnvPrefix+"_SECRET_LINK_URL", "YOPASS_URL")
	_ = v.BindEnv("secret_link.api_url", EnvPrefix+"_SECRET_LINK_API_URL", "YOPASS_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// configDecodeHooks converts strings to durations and comma-separated
// strings to slices.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook accepts "30s"-style strings and plain numbers of
// seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d, nil
			}
			var secs int64
			if _, err := fmt.Sscanf(v, "%d", &secs); err == nil {
				return time.Duration(secs) * time.Second, nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// SaveConfig writes cfg as YAML with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
