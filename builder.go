package authsession

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/platewise/authsession/credstore"
	"github.com/platewise/authsession/lockout"
)

// Builder defines a public type used by authsession APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	session credstore.Backend
	durable credstore.Backend

	api       API
	eventSink EventSink
	clock     Clock
	logger    *log.Logger

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAPI describes the withapi operation and its observable behavior.
//
// WithAPI may return an error when input validation, dependency calls, or security checks fail.
// WithAPI does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAPI(api API) *Builder {
	b.api = api
	return b
}

// WithRedis supplies a Redis client for the long-lived credential backend.
// Keys and the change-feed channel are namespaced by Storage.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackends overrides both credential backends directly, bypassing the
// Redis wiring. Session receives non-remembered credentials, durable the
// remembered ones.
func (b *Builder) WithBackends(session, durable credstore.Backend) *Builder {
	b.session = session
	b.durable = durable
	return b
}

// WithEventSink describes the witheventsink operation and its observable behavior.
//
// WithEventSink may return an error when input validation, dependency calls, or security checks fail.
// WithEventSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithClock injects the time source. Tests use this; production builds leave
// it unset and get time.Now.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
//
// WithLogger may return an error when input validation, dependency calls, or security checks fail.
// WithLogger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.api == nil {
		return nil, errors.New("api implementation required")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}

	logger := b.logger
	if logger == nil {
		logger = log.Default()
	}

	instanceID := uuid.NewString()

	// -------- BACKENDS --------
	session := b.session
	durable := b.durable
	if session == nil {
		session = credstore.NewMemoryBackend(instanceID)
	}
	if durable == nil && b.redis != nil {
		durable = credstore.NewRedisBackend(b.redis, cfg.Storage.RedisPrefix, instanceID)
	}
	if durable == nil {
		durable = session
	}

	// -------- CREDENTIAL STORE --------
	store := credstore.NewStore(session, durable, credstore.Config{
		RefreshThreshold: cfg.Tokens.RefreshThreshold,
		WarningThreshold: cfg.Tokens.WarningThreshold,
		IdleTimeout:      cfg.Tokens.IdleTimeout,
		RememberMe:       cfg.Tokens.RememberMe,
	}, now)

	metrics := NewMetrics(cfg.Metrics)
	store.OnCorrupt(func() {
		metrics.Inc(MetricCorruptStateCleared)
		logger.Printf("authsession: %v, record cleared", ErrCorruptState)
	})

	// -------- ATTEMPT LEDGER --------
	// The ledger lives on the long-lived backend so lockout state survives
	// restarts and is shared by every client of the same backend.
	ledger := lockout.NewLedger(durable, lockout.Config{
		MaxAttempts:     cfg.Lockout.MaxAttempts,
		LockoutDuration: cfg.Lockout.LockoutDuration,
		DelayBase:       cfg.Lockout.DelayBase,
		DelayMax:        cfg.Lockout.DelayMax,
		LedgerCap:       cfg.Lockout.LedgerCap,
		CleanupInterval: cfg.Lockout.CleanupInterval,
	}, now)

	events := newEventDispatcher(cfg.Events, b.eventSink)

	// -------- LIFECYCLE MANAGER --------
	api := b.api
	refreshFn := func(ctx context.Context) error {
		refreshToken := store.RefreshToken()
		if refreshToken == "" {
			return ErrNotAuthenticated
		}
		resp, err := api.Refresh(ctx, refreshToken)
		if err != nil {
			return err
		}
		expiresIn := time.Duration(resp.ExpiresIn) * time.Second
		// Blank session ID: rotation keeps the current session.
		return store.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, expiresIn, "")
	}

	mgr := newManager(store, refreshFn, events, metrics, cfg, now, instanceID)

	client := &Client{
		api:        api,
		store:      store,
		ledger:     ledger,
		manager:    mgr,
		events:     events,
		metrics:    metrics,
		cfg:        cfg,
		now:        now,
		logger:     logger,
		instanceID: instanceID,
	}

	b.built = true

	return client, nil
}
