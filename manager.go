package authsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platewise/authsession/credstore"
	"github.com/platewise/authsession/token"
)

// SessionState defines a public type used by authsession APIs.
//
// SessionState instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionState uint8

const (
	// StateUninitialized is an exported constant or variable used by the session kit.
	StateUninitialized SessionState = iota
	// StateActive is an exported constant or variable used by the session kit.
	StateActive
	// StateWarning is an exported constant or variable used by the session kit.
	StateWarning
	// StateExpired is an exported constant or variable used by the session kit.
	StateExpired
)

// String describes the string operation and its observable behavior.
//
// String may return an error when input validation, dependency calls, or security checks fail.
// String does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// presenceMessage rides the backend change feed as an opaque broadcast.
type presenceMessage struct {
	Kind   string `json:"kind"`
	Origin string `json:"origin"`
}

const (
	presencePing = "ping"
	presencePong = "pong"
)

/*
====================================
LIFECYCLE MANAGER
====================================
*/

// manager owns the session timers, the dedup refresh path, and the backend
// change-feed watcher. One manager per Client; the Client is the only caller.
type manager struct {
	store   *credstore.Store
	refresh func(ctx context.Context) error
	events  *eventDispatcher
	metrics *Metrics
	cfg     Config
	now     Clock

	// instanceID identifies this client on the presence protocol; ownOrigins
	// holds the change-feed origins of this client's backends so the watcher
	// can skip its own writes.
	instanceID string
	ownOrigins map[string]struct{}

	group singleflight.Group

	mu                sync.Mutex
	state             SessionState
	destroyed         bool
	suspended         bool
	initialized       bool
	refreshTimer      *time.Timer
	warnTimer         *time.Timer
	expireTimer       *time.Timer
	lastActivityWrite time.Time
	fingerprint       string
	peersSeen         map[string]struct{}
	watchStop         func()
	done              chan struct{}
	wg                sync.WaitGroup
}

func newManager(store *credstore.Store, refresh func(ctx context.Context) error, events *eventDispatcher, metrics *Metrics, cfg Config, now Clock, instanceID string) *manager {
	ownOrigins := make(map[string]struct{})
	for _, origin := range store.Origins() {
		ownOrigins[origin] = struct{}{}
	}
	return &manager{
		store:      store,
		refresh:    refresh,
		events:     events,
		metrics:    metrics,
		cfg:        cfg,
		now:        now,
		instanceID: instanceID,
		ownOrigins: ownOrigins,
		state:      StateUninitialized,
		peersSeen:  make(map[string]struct{}),
	}
}

// initialize restores a persisted session if one exists and starts the
// background machinery (change-feed watcher, liveness ticker, presence probe).
// Idempotent; a second call is a no-op.
func (m *manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerDestroyed
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.initialized = false
		m.done = nil
		m.mu.Unlock()
		return err
	}

	if err := m.store.Reload(ctx); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
	}

	if err := m.startWatch(done); err != nil {
		return fail(err)
	}

	m.wg.Add(1)
	go m.runLiveness(done)

	if m.cfg.Lifecycle.EnablePresenceProbe {
		m.broadcastPresence(ctx, presencePing)
	}

	if m.store.AccessToken() == "" {
		// Nothing persisted: stay uninitialized until a login.
		return nil
	}

	if !m.store.Valid() {
		m.expire(ctx, true)
		return nil
	}

	m.checkClockSkew()

	m.mu.Lock()
	m.state = StateActive
	m.fingerprint = fingerprintFromContext(ctx)
	m.scheduleLocked()
	m.mu.Unlock()

	if m.store.ExpiringSoon() {
		go func() { _, _ = m.triggerRefresh(context.Background()) }()
	}

	return nil
}

// start arms the timers for a freshly written credential record (login,
// register). The fingerprint captured here is the drift baseline.
func (m *manager) start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}

	m.state = StateActive
	m.fingerprint = fingerprintFromContext(ctx)
	m.scheduleLocked()
}

/*
====================================
TIMERS
====================================
*/

// scheduleLocked (re)arms the refresh, warning, and expiry timers from the
// store's current expiry. Callers hold m.mu.
func (m *manager) scheduleLocked() {
	m.stopTimersLocked()
	if m.suspended {
		return
	}

	remaining := m.store.ExpiresAt().Sub(m.now())
	if remaining <= 0 {
		return
	}

	refreshIn := remaining - m.cfg.Tokens.RefreshThreshold
	if refreshIn < 0 {
		refreshIn = 0
	}
	warnIn := remaining - m.cfg.Tokens.WarningThreshold
	if warnIn < 0 {
		warnIn = 0
	}

	m.refreshTimer = time.AfterFunc(refreshIn, m.onRefreshTimer)
	m.warnTimer = time.AfterFunc(warnIn, m.onWarnTimer)
	m.expireTimer = time.AfterFunc(remaining, m.onExpireTimer)
}

func (m *manager) stopTimersLocked() {
	for _, t := range []*time.Timer{m.refreshTimer, m.warnTimer, m.expireTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.refreshTimer, m.warnTimer, m.expireTimer = nil, nil, nil
}

func (m *manager) onRefreshTimer() {
	m.mu.Lock()
	skip := m.destroyed || m.suspended || m.state == StateExpired
	m.mu.Unlock()
	if skip {
		return
	}
	_, _ = m.triggerRefresh(context.Background())
}

func (m *manager) onWarnTimer() {
	m.mu.Lock()
	if m.destroyed || m.suspended || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	// A refresh that landed between arming and firing already pushed expiry
	// out; don't warn on stale scheduling.
	if !m.store.ShouldWarn() {
		m.mu.Unlock()
		return
	}
	m.state = StateWarning
	sessionID := m.store.SessionID()
	remaining := m.store.TimeRemaining()
	m.mu.Unlock()

	m.metrics.Inc(MetricSessionWarning)
	ev := newEvent(m.now(), EventSessionWarning, sessionID)
	ev.TimeRemaining = remaining
	emitEvent(m.events, ev)
}

func (m *manager) onExpireTimer() {
	m.mu.Lock()
	skip := m.destroyed || m.suspended
	m.mu.Unlock()
	if skip {
		return
	}
	if m.store.Valid() {
		// Expiry moved while the timer was in flight.
		m.mu.Lock()
		m.scheduleLocked()
		m.mu.Unlock()
		return
	}
	m.expire(context.Background(), true)
}

/*
====================================
REFRESH
====================================
*/

// triggerRefresh runs the refresh callback with in-flight deduplication:
// concurrent callers share one outbound request and one result. The bool
// reports whether this caller shared another caller's flight.
func (m *manager) triggerRefresh(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false, ErrManagerDestroyed
	}
	m.mu.Unlock()

	started := m.now()
	_, err, shared := m.group.Do("refresh", func() (any, error) {
		return nil, m.refresh(ctx)
	})

	if shared {
		m.metrics.Inc(MetricRefreshDeduped)
		return true, err
	}

	if err != nil {
		m.metrics.Inc(MetricRefreshFailure)
		// Unrecoverable by policy: one failed refresh ends the session. No
		// retry loop, no second teardown path.
		m.expire(ctx, true)
		return false, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	m.metrics.Inc(MetricRefreshSuccess)
	m.metrics.Observe(MetricRefreshLatency, m.now().Sub(started))
	m.checkClockSkew()

	m.mu.Lock()
	if !m.destroyed && m.state != StateExpired {
		m.state = StateActive
		m.scheduleLocked()
	}
	sessionID := m.store.SessionID()
	remaining := m.store.TimeRemaining()
	m.mu.Unlock()

	ev := newEvent(m.now(), EventTokenRefreshed, sessionID)
	ev.TimeRemaining = remaining
	emitEvent(m.events, ev)
	return false, nil
}

// extend is the user-initiated "keep me signed in" path: refresh now, stamp
// activity, and announce the new lifetime.
func (m *manager) extend(ctx context.Context) error {
	if !m.store.Valid() {
		return ErrNotAuthenticated
	}

	if _, err := m.triggerRefresh(ctx); err != nil {
		return err
	}
	_ = m.store.UpdateActivity(ctx)

	m.mu.Lock()
	sessionID := m.store.SessionID()
	remaining := m.store.TimeRemaining()
	m.mu.Unlock()

	m.metrics.Inc(MetricSessionExtended)
	ev := newEvent(m.now(), EventSessionExtended, sessionID)
	ev.TimeRemaining = remaining
	emitEvent(m.events, ev)
	return nil
}

/*
====================================
ACTIVITY
====================================
*/

// recordActivity stamps user activity, throttled so bursts cost one write.
// A fingerprint on ctx that differs from the session baseline raises an
// advisory suspicious-activity event; it never terminates the session.
func (m *manager) recordActivity(ctx context.Context) {
	m.mu.Lock()
	if m.destroyed || m.state == StateExpired || m.state == StateUninitialized {
		m.mu.Unlock()
		return
	}

	now := m.now()
	throttled := m.cfg.Lifecycle.ActivityThrottle > 0 &&
		!m.lastActivityWrite.IsZero() &&
		now.Sub(m.lastActivityWrite) < m.cfg.Lifecycle.ActivityThrottle
	if !throttled {
		m.lastActivityWrite = now
	}

	baseline := m.fingerprint
	sessionID := m.store.SessionID()
	m.mu.Unlock()

	if fp := fingerprintFromContext(ctx); fp != "" && baseline != "" && fp != baseline {
		m.metrics.Inc(MetricSuspiciousActivity)
		ev := newEvent(now, EventSuspiciousActivity, sessionID)
		ev.Reasons = []string{"device fingerprint changed during session"}
		emitEvent(m.events, ev)
	}

	if throttled {
		return
	}
	_ = m.store.UpdateActivity(ctx)
}

/*
====================================
SUSPEND / RESUME
====================================
*/

// suspend parks the timers, e.g. while the app is backgrounded. The
// change-feed watcher stays up so peer logouts are still observed.
func (m *manager) suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.suspended {
		return
	}
	m.suspended = true
	m.stopTimersLocked()
}

// resume re-evaluates the session against wall time. A session that expired
// or idled out while suspended ends now; otherwise timers are re-armed.
func (m *manager) resume(ctx context.Context) {
	m.mu.Lock()
	if m.destroyed || !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false
	state := m.state
	m.mu.Unlock()

	if state == StateExpired || state == StateUninitialized {
		return
	}

	// Coming back counts as activity: a long background stretch must not trip
	// the idle timeout when the token itself is still live.
	_ = m.store.UpdateActivity(ctx)

	if !m.store.Valid() {
		m.expire(ctx, true)
		return
	}

	m.mu.Lock()
	m.scheduleLocked()
	m.mu.Unlock()

	if m.store.ExpiringSoon() {
		go func() { _, _ = m.triggerRefresh(context.Background()) }()
	}
}

/*
====================================
EXPIRY
====================================
*/

// expire transitions to StateExpired and emits exactly one expiry event.
// clearStore is false when a peer already deleted the persisted record; the
// local cache is still reloaded so reads observe the logout.
func (m *manager) expire(ctx context.Context, clearStore bool) {
	m.mu.Lock()
	if m.destroyed || m.state == StateExpired {
		m.mu.Unlock()
		return
	}
	m.state = StateExpired
	m.stopTimersLocked()
	sessionID := m.store.SessionID()
	m.mu.Unlock()

	if clearStore {
		_ = m.store.ClearTokens(ctx)
	} else {
		_ = m.store.Reload(ctx)
	}

	m.metrics.Inc(MetricSessionExpired)
	emitEvent(m.events, newEvent(m.now(), EventSessionExpired, sessionID))
}

/*
====================================
CHANGE FEED
====================================
*/

func (m *manager) startWatch(done <-chan struct{}) error {
	changes, stop, err := m.store.Watch(context.Background())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	m.mu.Lock()
	m.watchStop = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runWatch(done, changes)
	return nil
}

// runWatch applies peer changes: a peer deleting the access token ends the
// session here too; a peer writing it means rotated credentials to reload.
func (m *manager) runWatch(done <-chan struct{}, changes <-chan credstore.Change) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if _, own := m.ownOrigins[c.Origin]; own {
				continue
			}

			switch c.Kind {
			case credstore.ChangeDelete:
				if c.Key == credstore.KeyAccessToken {
					m.expire(context.Background(), false)
				}
			case credstore.ChangeSet:
				if c.Key == credstore.KeyAccessToken {
					m.adoptPeerCredentials()
				}
			case credstore.ChangeBroadcast:
				m.handlePresence(c.Payload)
			}
		}
	}
}

// adoptPeerCredentials reloads after a peer rotated the shared record and
// re-arms timers against the new expiry.
func (m *manager) adoptPeerCredentials() {
	if err := m.store.Reload(context.Background()); err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	if !m.store.Valid() {
		return
	}
	// A peer rotating or re-creating the record puts this client back in the
	// session, even if it had locally expired.
	m.state = StateActive
	m.scheduleLocked()
}

func (m *manager) handlePresence(payload string) {
	var msg presenceMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return
	}
	if msg.Origin == "" || msg.Origin == m.instanceID {
		return
	}

	switch msg.Kind {
	case presencePing:
		m.broadcastPresence(context.Background(), presencePong)
		m.notePeer(msg.Origin)
	case presencePong:
		m.notePeer(msg.Origin)
	}
}

// notePeer emits the advisory multiple-clients event once per distinct peer.
func (m *manager) notePeer(origin string) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	if _, seen := m.peersSeen[origin]; seen {
		m.mu.Unlock()
		return
	}
	m.peersSeen[origin] = struct{}{}
	sessionID := m.store.SessionID()
	m.mu.Unlock()

	m.metrics.Inc(MetricPeerDetected)
	ev := newEvent(m.now(), EventMultipleClients, sessionID)
	ev.PeerID = origin
	emitEvent(m.events, ev)
}

func (m *manager) broadcastPresence(ctx context.Context, kind string) {
	data, err := json.Marshal(presenceMessage{Kind: kind, Origin: m.instanceID})
	if err != nil {
		return
	}
	_ = m.store.Broadcast(ctx, string(data))
}

/*
====================================
LIVENESS
====================================
*/

// runLiveness periodically re-checks validity against wall time. Timers alone
// miss host sleep and large clock jumps; the ticker catches both, and also
// enforces the idle timeout between activity writes.
func (m *manager) runLiveness(done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Lifecycle.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.mu.Lock()
			active := !m.destroyed && !m.suspended &&
				(m.state == StateActive || m.state == StateWarning)
			m.mu.Unlock()
			if !active {
				continue
			}
			if !m.store.Valid() {
				m.expire(context.Background(), true)
			}
		}
	}
}

// checkClockSkew compares the access token's issued-at claim with local time
// and raises an advisory event when the claim is in the future beyond the
// configured skew. Opaque (non-JWT) tokens are skipped.
func (m *manager) checkClockSkew() {
	access := m.store.AccessToken()
	if access == "" {
		return
	}
	claims, err := token.Inspect(access)
	if err != nil {
		return
	}
	if !token.SkewExceeds(claims, m.now(), m.cfg.Lifecycle.MaxClockSkew) {
		return
	}

	m.metrics.Inc(MetricSuspiciousActivity)
	ev := newEvent(m.now(), EventSuspiciousActivity, m.store.SessionID())
	ev.Reasons = []string{"access token issued-at is in the future of the local clock"}
	emitEvent(m.events, ev)
}

/*
====================================
TEARDOWN
====================================
*/

// reset returns the manager to the logged-out state without destroying it.
// Used on logout so a later login can start a fresh session.
func (m *manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.stopTimersLocked()
	m.state = StateUninitialized
	m.fingerprint = ""
	m.lastActivityWrite = time.Time{}
}

// destroy stops every timer, the watcher, and the liveness ticker, and waits
// for background goroutines to exit. Idempotent; the manager is unusable
// afterwards.
func (m *manager) destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.stopTimersLocked()
	stop := m.watchStop
	m.watchStop = nil
	done := m.done
	m.done = nil
	m.mu.Unlock()

	if done != nil {
		close(done)
	}
	if stop != nil {
		stop()
	}
	m.wg.Wait()
}

// currentState returns the lifecycle state for the Client's State accessor.
func (m *manager) currentState() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
