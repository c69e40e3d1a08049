package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/platewise/authsession/credstore"
	"github.com/platewise/authsession/lockout"
)

// Client defines a public type used by authsession APIs.
//
// Client instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
//
// Client is the single entry point for application code: it enforces the
// lockout policy before any network call, persists credentials through the
// store, and drives the session lifecycle manager. All methods are safe for
// concurrent use.
type Client struct {
	api     API
	store   *credstore.Store
	ledger  *lockout.Ledger
	manager *manager
	events  *eventDispatcher
	metrics *Metrics
	cfg     Config
	now     Clock
	logger  *log.Logger

	instanceID string
	closed     atomic.Bool
}

/*
====================================
LIFECYCLE
====================================
*/

// Initialize restores a previously persisted session, if any, and starts the
// background machinery. Call once after Build; idempotent.
func (c *Client) Initialize(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.manager.initialize(ctx)
}

// Close releases all timers, watchers, and background goroutines. Persisted
// credentials are left in place so a later client can restore the session.
// Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.manager.destroy()
	c.ledger.Close()
	if c.events != nil {
		c.events.Close()
	}
	return nil
}

/*
====================================
LOGIN / REGISTER
====================================
*/

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
//
// The lockout policy is enforced before any network call: a locked account
// returns [ErrLockedOut] without touching the auth service, and a mandatory
// progressive delay is served (cancelable through ctx) when prior failures
// exist. Transient network failures do not count against the account.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	email := lockout.Normalize(creds.Email)

	status := c.ledger.CheckStatus(ctx, email)
	if status.IsLocked {
		c.metrics.Inc(MetricLoginLockedOut)
		return nil, fmt.Errorf("%w: %s", ErrLockedOut, status.Message)
	}

	if status.NextAttemptDelay > 0 {
		c.metrics.Inc(MetricLoginDelayed)
		if err := c.waitDelay(ctx, status.NextAttemptDelay); err != nil {
			return nil, err
		}
	}

	resp, err := c.api.Login(ctx, email, creds.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			// Transient failure: the user never got to prove anything, so the
			// ledger is left untouched.
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}

		st := c.ledger.RecordAttempt(ctx, email, false, userAgentFromContext(ctx))
		c.metrics.Inc(MetricLoginFailure)
		c.emitSuspicion(ctx, email)
		if st.IsLocked {
			c.metrics.Inc(MetricLoginLockedOut)
			return nil, fmt.Errorf("%w: %s", ErrLockedOut, st.Message)
		}
		// The UI shows one message: the server's verdict plus how many
		// attempts are left before lockout.
		if st.Message != "" {
			return nil, fmt.Errorf("%w: %s", err, st.Message)
		}
		return nil, err
	}

	c.ledger.RecordAttempt(ctx, email, true, userAgentFromContext(ctx))
	c.metrics.Inc(MetricLoginSuccess)

	if err := c.adoptSession(ctx, resp, creds.RememberMe); err != nil {
		return nil, err
	}

	return &LoginResult{User: resp.User, SessionID: resp.SessionID}, nil
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// Register does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	req.Email = lockout.Normalize(req.Email)

	resp, err := c.api.Register(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	c.metrics.Inc(MetricLoginSuccess)
	if err := c.adoptSession(ctx, resp, req.RememberMe); err != nil {
		return nil, err
	}

	return &LoginResult{User: resp.User, SessionID: resp.SessionID}, nil
}

// adoptSession persists the credential record from a successful login or
// registration and arms the lifecycle manager.
func (c *Client) adoptSession(ctx context.Context, resp *LoginResponse, remember bool) error {
	c.store.SetRememberMe(remember)

	expiresIn := time.Duration(resp.ExpiresIn) * time.Second
	if err := c.store.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, expiresIn, resp.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(resp.User) > 0 {
		if err := c.store.SetUser(ctx, string(resp.User)); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	c.manager.start(ctx)
	return nil
}

// waitDelay serves the mandatory inter-attempt delay, cancelable through ctx.
func (c *Client) waitDelay(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) emitSuspicion(ctx context.Context, email string) {
	reasons := c.ledger.Suspicion(ctx, email)
	if len(reasons) == 0 {
		return
	}
	c.metrics.Inc(MetricSuspiciousActivity)
	ev := newEvent(c.now(), EventSuspiciousActivity, c.store.SessionID())
	ev.Reasons = reasons
	emitEvent(c.events, ev)
}

/*
====================================
LOGOUT
====================================
*/

// Logout ends the current session. The remote revocation is best-effort:
// local teardown happens unconditionally even when the auth service is
// unreachable, and the backend deletes propagate the logout to peer clients.
func (c *Client) Logout(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	if c.store.AccessToken() != "" {
		if err := c.api.Logout(ctx); err != nil {
			c.logger.Printf("authsession: remote logout failed, clearing local session anyway: %v", err)
		}
	}

	c.metrics.Inc(MetricLogout)
	c.teardownLocal(ctx)
	return nil
}

// LogoutAll revokes every session for the account. Unlike [Client.Logout]
// the remote call matters: peers can only be revoked server-side, so a
// network failure is reported. The local session is torn down regardless.
func (c *Client) LogoutAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	err := c.api.LogoutAll(ctx)

	c.metrics.Inc(MetricLogoutAll)
	c.teardownLocal(ctx)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (c *Client) teardownLocal(ctx context.Context) {
	c.manager.reset()
	if err := c.store.ClearTokens(ctx); err != nil {
		c.logger.Printf("authsession: clearing persisted credentials failed: %v", err)
	}
}

/*
====================================
SESSION OPERATIONS
====================================
*/

// Refresh forces a token refresh now. Concurrent callers share a single
// outbound request. A failed refresh ends the session; there is no retry.
func (c *Client) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.store.RefreshToken() == "" {
		return ErrNotAuthenticated
	}
	_, err := c.manager.triggerRefresh(ctx)
	return err
}

// ExtendSession refreshes the token and stamps activity on explicit user
// request, emitting a session-extended event on success.
func (c *Client) ExtendSession(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.manager.extend(ctx)
}

// RecordActivity notes user interaction for idle-timeout purposes. Calls are
// throttled internally; invoking it on every keystroke is fine.
func (c *Client) RecordActivity(ctx context.Context) {
	if c.closed.Load() {
		return
	}
	c.manager.recordActivity(ctx)
}

// Suspend pauses the session timers, e.g. while the app is backgrounded.
func (c *Client) Suspend() {
	if c.closed.Load() {
		return
	}
	c.manager.suspend()
}

// Resume re-evaluates the session after [Client.Suspend]: sessions that
// expired in the meantime end immediately, live ones get their timers back.
func (c *Client) Resume(ctx context.Context) {
	if c.closed.Load() {
		return
	}
	c.manager.resume(ctx)
}

// SetRememberMe moves the persisted session between the session-scoped and
// long-lived backends.
func (c *Client) SetRememberMe(ctx context.Context, remember bool) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.store.RememberMe() == remember {
		return nil
	}
	c.store.SetRememberMe(remember)
	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

/*
====================================
REMOTE SESSION MANAGEMENT
====================================
*/

// ActiveSessions lists the account's sessions as reported by the auth service.
func (c *Client) ActiveSessions(ctx context.Context) ([]SessionInfo, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	sessions, err := c.api.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return sessions, nil
}

// RevokeSession revokes one remote session. Revoking the current session
// tears it down locally as well.
func (c *Client) RevokeSession(ctx context.Context, sessionID string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.api.RevokeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if sessionID == c.store.SessionID() {
		c.teardownLocal(ctx)
	}
	return nil
}

// ChangePassword describes the change password operation and its observable behavior.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
// ChangePassword does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.api.ChangePassword(ctx, current, next); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

// RequestPasswordReset describes the request password reset operation and its observable behavior.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// RequestPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.api.RequestPasswordReset(ctx, lockout.Normalize(email)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

// ConfirmPasswordReset describes the confirm password reset operation and its observable behavior.
//
// ConfirmPasswordReset may return an error when input validation, dependency calls, or security checks fail.
// ConfirmPasswordReset does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Client) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := c.api.ConfirmPasswordReset(ctx, resetToken, newPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

/*
====================================
READ SURFACE
====================================
*/

// IsAuthenticated reports whether a valid, non-idle session exists right now.
func (c *Client) IsAuthenticated() bool {
	return !c.closed.Load() && c.store.Valid()
}

// State returns the lifecycle state of the current session.
func (c *Client) State() SessionState {
	return c.manager.currentState()
}

// AccessToken returns the current access token ("" when logged out). Callers
// attach it to outbound requests themselves.
func (c *Client) AccessToken() string {
	return c.store.AccessToken()
}

// SessionID returns the current session identifier ("" when logged out).
func (c *Client) SessionID() string {
	return c.store.SessionID()
}

// CurrentUser returns the opaque user snapshot captured at login, or nil.
func (c *Client) CurrentUser() json.RawMessage {
	u := c.store.User()
	if u == "" {
		return nil
	}
	return json.RawMessage(u)
}

// TimeRemaining returns the time until token expiry; <= 0 means none.
func (c *Client) TimeRemaining() time.Duration {
	return c.store.TimeRemaining()
}

// LockoutStatus evaluates the lockout policy for an account without side
// effects, for pre-flight UI (disabled buttons, countdowns).
func (c *Client) LockoutStatus(ctx context.Context, email string) lockout.Status {
	return c.ledger.CheckStatus(ctx, email)
}

// MetricsSnapshot returns a point-in-time copy of all counters and histograms.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped reports how many lifecycle events were discarded because the
// dispatcher buffer was full.
func (c *Client) EventsDropped() uint64 {
	if c.events == nil {
		return 0
	}
	return c.events.Dropped()
}
