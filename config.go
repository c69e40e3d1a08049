package authsession

import (
	"errors"
	"time"
)

// Config defines a public type used by authsession APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Tokens    TokenConfig
	Lockout   LockoutConfig
	Lifecycle LifecycleConfig
	Storage   StorageConfig
	Events    EventConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by authsession APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// RefreshThreshold is how close to expiry a refresh is scheduled.
	RefreshThreshold time.Duration
	// WarningThreshold is how close to expiry the UI is warned. Must be
	// strictly smaller than RefreshThreshold so refresh runs first.
	WarningThreshold time.Duration
	// IdleTimeout invalidates an unexpired session with no recent activity.
	IdleTimeout time.Duration
	// RememberMe selects the long-lived backing store for new credentials.
	RememberMe bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines a public type used by authsession APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	DelayBase       time.Duration
	DelayMax        time.Duration
	LedgerCap       int
	CleanupInterval time.Duration
}

/*
====================================
LIFECYCLE CONFIG
====================================
*/

// LifecycleConfig defines a public type used by authsession APIs.
//
// LifecycleConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LifecycleConfig struct {
	LivenessInterval    time.Duration
	ActivityThrottle    time.Duration
	MaxClockSkew        time.Duration
	EnablePresenceProbe bool
}

// StorageConfig defines a public type used by authsession APIs.
//
// StorageConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type StorageConfig struct {
	// RedisPrefix namespaces every key and the change-feed channel when a
	// Redis client is supplied as the long-lived backend.
	RedisPrefix string
}

// EventConfig defines a public type used by authsession APIs.
//
// EventConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EventConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by authsession APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the recommended baseline configuration. Callers may
// mutate the returned value before passing it to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			RefreshThreshold: 5 * time.Minute,
			WarningThreshold: 2 * time.Minute,
			IdleTimeout:      30 * time.Minute,
			RememberMe:       false,
		},
		Lockout: LockoutConfig{
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
			DelayBase:       time.Second,
			DelayMax:        30 * time.Second,
			LedgerCap:       100,
			CleanupInterval: time.Hour,
		},
		Lifecycle: LifecycleConfig{
			LivenessInterval:    30 * time.Second,
			ActivityThrottle:    30 * time.Second,
			MaxClockSkew:        5 * time.Minute,
			EnablePresenceProbe: true,
		},
		Storage: StorageConfig{
			RedisPrefix: "pw",
		},
		Events: EventConfig{
			Enabled:    true,
			BufferSize: 64,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Tokens
	if c.Tokens.RefreshThreshold <= 0 {
		return errors.New("Tokens RefreshThreshold must be > 0")
	}
	if c.Tokens.WarningThreshold <= 0 {
		return errors.New("Tokens WarningThreshold must be > 0")
	}
	if c.Tokens.WarningThreshold >= c.Tokens.RefreshThreshold {
		return errors.New("Tokens WarningThreshold must be < RefreshThreshold")
	}
	if c.Tokens.IdleTimeout <= 0 {
		return errors.New("Tokens IdleTimeout must be > 0")
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.LockoutDuration <= 0 {
		return errors.New("Lockout LockoutDuration must be > 0")
	}
	if c.Lockout.DelayBase <= 0 {
		return errors.New("Lockout DelayBase must be > 0")
	}
	if c.Lockout.DelayMax < c.Lockout.DelayBase {
		return errors.New("Lockout DelayMax must be >= DelayBase")
	}
	if c.Lockout.LedgerCap <= 0 {
		return errors.New("Lockout LedgerCap must be > 0")
	}
	if c.Lockout.CleanupInterval < 0 {
		return errors.New("Lockout CleanupInterval must be >= 0")
	}

	// Lifecycle
	if c.Lifecycle.LivenessInterval <= 0 {
		return errors.New("Lifecycle LivenessInterval must be > 0")
	}
	if c.Lifecycle.ActivityThrottle < 0 {
		return errors.New("Lifecycle ActivityThrottle must be >= 0")
	}
	if c.Lifecycle.MaxClockSkew < 0 {
		return errors.New("Lifecycle MaxClockSkew must be >= 0")
	}

	// Storage
	if c.Storage.RedisPrefix == "" {
		return errors.New("Storage RedisPrefix must not be empty")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when events are enabled")
	}

	return nil
}
