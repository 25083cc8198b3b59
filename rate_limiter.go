package ipa

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// RateLimiterConfig configures operator login throttling.
type RateLimiterConfig struct {
	// MaxAttempts is the number of failed logins allowed within Window
	MaxAttempts int
	// Window is the sliding window failed attempts are counted in
	Window time.Duration
	// LockoutDuration is how long an identifier is locked after exceeding MaxAttempts
	LockoutDuration time.Duration
	// ExponentialBackoff doubles the lockout for every repeated violation
	ExponentialBackoff bool
	// MaxLockoutDuration caps the lockout when ExponentialBackoff is set
	MaxLockoutDuration time.Duration
	// Whitelist holds identifiers and IP addresses that are never throttled
	Whitelist []string
}

// DefaultRateLimiterConfig returns the limits used when none are configured.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxAttempts:        5,
		Window:             15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
		ExponentialBackoff: true,
		MaxLockoutDuration: 24 * time.Hour,
	}
}

// loginRecord tracks failed logins for one identifier.
type loginRecord struct {
	failures    []time.Time
	violations  int
	lockedUntil time.Time
	lastUpdate  time.Time
}

// RateLimiter locks out login identifiers and client addresses after
// repeated failed attempts.
type RateLimiter struct {
	config  RateLimiterConfig
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	records map[string]*loginRecord

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call
// Close to stop it.
func NewRateLimiter(config *RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		config:   *config,
		logger:   logger.With(slog.String("component", "login_rate_limiter")),
		now:      time.Now,
		records:  make(map[string]*loginRecord),
		stopChan: make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(time.Hour)

	rl.logger.Debug("rate_limiter_initialized",
		slog.Int("max_attempts", config.MaxAttempts),
		slog.Duration("window", config.Window),
		slog.Duration("lockout", config.LockoutDuration))

	return rl
}

// CheckAttempt returns an error when identifier or ipAddress is locked out.
func (rl *RateLimiter) CheckAttempt(identifier, ipAddress string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for _, key := range rl.keys(identifier, ipAddress) {
		record, ok := rl.records[key]
		if !ok {
			continue
		}
		if now.Before(record.lockedUntil) {
			remaining := record.lockedUntil.Sub(now).Round(time.Second)
			return fmt.Errorf("locked due to too many failed attempts, try again in %v", remaining)
		}
	}
	return nil
}

// RecordFailure counts a failed login and locks the identifier and address
// once MaxAttempts is reached within Window.
func (rl *RateLimiter) RecordFailure(identifier, ipAddress string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for _, key := range rl.keys(identifier, ipAddress) {
		record, ok := rl.records[key]
		if !ok {
			record = &loginRecord{}
			rl.records[key] = record
		}
		record.failures = append(pruneBefore(record.failures, now.Add(-rl.config.Window)), now)
		record.lastUpdate = now

		if len(record.failures) < rl.config.MaxAttempts {
			continue
		}

		lockout := rl.lockoutFor(record.violations)
		record.lockedUntil = now.Add(lockout)
		record.violations++
		record.failures = nil

		rl.logger.Warn("login_locked_out",
			slog.String("key_masked", maskSensitiveData(key)),
			slog.Int("violations", record.violations),
			slog.Duration("lockout", lockout))
	}
}

// RecordSuccess clears the failure history of identifier. Violation counts
// are kept so a later lockout still backs off.
func (rl *RateLimiter) RecordSuccess(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if record, ok := rl.records["user:"+identifier]; ok {
		record.failures = nil
		record.lastUpdate = rl.now()
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopChan)
		rl.wg.Wait()
	})
}

func (rl *RateLimiter) keys(identifier, ipAddress string) []string {
	var keys []string
	if identifier != "" && !slices.Contains(rl.config.Whitelist, identifier) {
		keys = append(keys, "user:"+identifier)
	}
	if ipAddress != "" && !slices.Contains(rl.config.Whitelist, ipAddress) {
		keys = append(keys, "ip:"+ipAddress)
	}
	return keys
}

func (rl *RateLimiter) lockoutFor(violations int) time.Duration {
	lockout := rl.config.LockoutDuration
	if !rl.config.ExponentialBackoff {
		return lockout
	}
	for i := 0; i < violations; i++ {
		lockout *= 2
		if rl.config.MaxLockoutDuration > 0 && lockout > rl.config.MaxLockoutDuration {
			return rl.config.MaxLockoutDuration
		}
	}
	return lockout
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup drops records that are neither locked nor carry recent failures.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, record := range rl.records {
		idle := now.Sub(record.lastUpdate) > rl.config.Window
		if idle && now.After(record.lockedUntil) && now.Sub(record.lastUpdate) > rl.config.MaxLockoutDuration {
			delete(rl.records, key)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate_limiter_cleanup", slog.Int("removed", removed))
	}
}
