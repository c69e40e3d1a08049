package credstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// Persisted key layout. The lockout ledger uses its own "lockout." namespace
// on the same backend.
const (
	keyAccessToken  = "auth.access_token"
	keyRefreshToken = "auth.refresh_token"
	keySessionID    = "auth.session_id"
	keyUser         = "auth.user"
	keyExpiresAt    = "auth.expires_at"
	keyLastActivity = "auth.last_activity"
	keyRememberMe   = "auth.remember_me"
)

// KeyAccessToken is the change-feed key watchers treat as the credential
// rotation / logout signal.
const KeyAccessToken = keyAccessToken

func recordKeys() []string {
	return []string{
		keyAccessToken,
		keyRefreshToken,
		keySessionID,
		keyUser,
		keyExpiresAt,
		keyLastActivity,
	}
}

// Config holds the validity thresholds for a [Store].
type Config struct {
	// RefreshThreshold: ExpiringSoon is true within this margin of expiry.
	RefreshThreshold time.Duration
	// WarningThreshold: ShouldWarn is true within this margin of expiry.
	WarningThreshold time.Duration
	// IdleTimeout: a record with no activity for this long is invalid even
	// if the token itself has not expired.
	IdleTimeout time.Duration
	// RememberMe selects the long-lived backend for writes at construction.
	RememberMe bool
}

type record struct {
	accessToken  string
	refreshToken string
	sessionID    string
	user         string
	expiresAt    time.Time
	lastActivity time.Time
	present      bool
}

// Store owns the credential record. All reads are served from an in-memory
// cache populated at load time and on explicit [Store.Reload]; no call path
// performs a blocking read per accessor.
type Store struct {
	session Backend
	durable Backend
	cfg     Config
	now     func() time.Time

	onCorrupt func()

	mu       sync.Mutex
	remember bool
	rec      record
}

// NewStore creates a [Store] over a session-scoped and a long-lived backend.
// The remember-me flag in cfg selects which backend receives writes; changing
// it later requires an explicit [Store.Migrate]. When durable is nil the
// session backend serves both roles.
func NewStore(session, durable Backend, cfg Config, now func() time.Time) *Store {
	if durable == nil {
		durable = session
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		session:  session,
		durable:  durable,
		cfg:      cfg,
		now:      now,
		remember: cfg.RememberMe,
	}
}

// OnCorrupt registers a hook invoked whenever a corrupt persisted record is
// detected and cleared. Used for metrics; must not block.
func (s *Store) OnCorrupt(fn func()) {
	s.mu.Lock()
	s.onCorrupt = fn
	s.mu.Unlock()
}

func (s *Store) activeLocked() Backend {
	if s.remember {
		return s.durable
	}
	return s.session
}

// Active returns the backend currently selected for writes.
func (s *Store) Active() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// Durable returns the long-lived backend regardless of the remember-me flag.
func (s *Store) Durable() Backend {
	return s.durable
}

// Origins returns the change-feed origins of this store's backends. Watchers
// use them to tell their own writes apart from peer writes.
func (s *Store) Origins() []string {
	if s.session == s.durable {
		return []string{s.session.Origin()}
	}
	return []string{s.session.Origin(), s.durable.Origin()}
}

// Reload re-reads the credential record from storage into the cache. The
// persisted remember-me flag on the long-lived backend decides which backend
// the record is read from. Corrupt or partial records are cleared and treated
// as absent; only backend unavailability is reported.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if flag, err := s.durable.Get(ctx, keyRememberMe); err == nil {
		s.remember = flag == "1"
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	backend := s.activeLocked()

	rec, corrupt, err := readRecord(ctx, backend)
	if err != nil {
		return err
	}
	if corrupt {
		s.clearLocked(ctx)
		if s.onCorrupt != nil {
			s.onCorrupt()
		}
		return nil
	}

	s.rec = rec
	return nil
}

func readRecord(ctx context.Context, backend Backend) (record, bool, error) {
	get := func(key string) (string, bool, error) {
		v, err := backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", false, nil
			}
			return "", false, err
		}
		return v, true, nil
	}

	access, okAccess, err := get(keyAccessToken)
	if err != nil {
		return record{}, false, err
	}
	refresh, okRefresh, err := get(keyRefreshToken)
	if err != nil {
		return record{}, false, err
	}
	if !okAccess && !okRefresh {
		// Nothing stored: logged out, not corrupt.
		return record{}, false, nil
	}
	if access == "" || refresh == "" || okAccess != okRefresh {
		return record{}, true, nil
	}

	expiresRaw, okExpires, err := get(keyExpiresAt)
	if err != nil {
		return record{}, false, err
	}
	if !okExpires {
		return record{}, true, nil
	}
	expiresMillis, parseErr := strconv.ParseInt(expiresRaw, 10, 64)
	if parseErr != nil || expiresMillis <= 0 {
		return record{}, true, nil
	}

	rec := record{
		accessToken:  access,
		refreshToken: refresh,
		expiresAt:    time.UnixMilli(expiresMillis),
		present:      true,
	}

	if v, ok, err := get(keySessionID); err != nil {
		return record{}, false, err
	} else if ok {
		rec.sessionID = v
	}
	if v, ok, err := get(keyUser); err != nil {
		return record{}, false, err
	} else if ok {
		rec.user = v
	}

	activityRaw, okActivity, err := get(keyLastActivity)
	if err != nil {
		return record{}, false, err
	}
	if okActivity {
		millis, parseErr := strconv.ParseInt(activityRaw, 10, 64)
		if parseErr != nil {
			return record{}, true, nil
		}
		rec.lastActivity = time.UnixMilli(millis)
	}

	return rec, false, nil
}

// SetTokens persists a new credential record into the selected backend and
// refreshes the activity stamp. A blank sessionID keeps the current one
// (token rotation does not change the session).
func (s *Store) SetTokens(ctx context.Context, access, refresh string, expiresIn time.Duration, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sessionID == "" {
		sessionID = s.rec.sessionID
	}

	rec := record{
		accessToken:  access,
		refreshToken: refresh,
		sessionID:    sessionID,
		user:         s.rec.user,
		expiresAt:    now.Add(expiresIn),
		lastActivity: now,
		present:      true,
	}

	kv := map[string]string{
		keyAccessToken:  rec.accessToken,
		keyRefreshToken: rec.refreshToken,
		keySessionID:    rec.sessionID,
		keyExpiresAt:    strconv.FormatInt(rec.expiresAt.UnixMilli(), 10),
		keyLastActivity: strconv.FormatInt(rec.lastActivity.UnixMilli(), 10),
	}
	if err := s.activeLocked().SetMulti(ctx, kv); err != nil {
		return err
	}

	flag := "0"
	if s.remember {
		flag = "1"
	}
	if err := s.durable.Set(ctx, keyRememberMe, flag); err != nil {
		return err
	}

	s.rec = rec
	return nil
}

// SetUser persists the opaque user snapshot alongside the credentials.
func (s *Store) SetUser(ctx context.Context, snapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.activeLocked().Set(ctx, keyUser, snapshot); err != nil {
		return err
	}
	s.rec.user = snapshot
	return nil
}

// AccessToken returns the cached access token ("" when logged out).
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.accessToken
}

// RefreshToken returns the cached refresh token ("" when logged out).
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.refreshToken
}

// SessionID returns the cached session identifier ("" when logged out).
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.sessionID
}

// User returns the cached user snapshot ("" when logged out).
func (s *Store) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.user
}

// ExpiresAt returns the absolute expiry of the current record (zero when
// logged out).
func (s *Store) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.expiresAt
}

// TimeRemaining returns the time until expiry; <= 0 means expired or absent.
func (s *Store) TimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rec.present {
		return 0
	}
	return s.rec.expiresAt.Sub(s.now())
}

// Valid reports whether a record exists, has not expired, and has seen user
// activity within the idle timeout. Both conditions are required: an
// unexpired token with no recent activity is invalid.
func (s *Store) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.present {
		return false
	}

	now := s.now()
	if !now.Before(s.rec.expiresAt) {
		return false
	}
	if s.cfg.IdleTimeout > 0 && now.Sub(s.rec.lastActivity) >= s.cfg.IdleTimeout {
		return false
	}
	return true
}

// ExpiringSoon reports whether the remaining lifetime is within the refresh
// threshold.
func (s *Store) ExpiringSoon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rec.present {
		return false
	}
	return s.rec.expiresAt.Sub(s.now()) <= s.cfg.RefreshThreshold
}

// ShouldWarn reports whether the remaining lifetime is within the warning
// threshold. The warning threshold is strictly smaller than the refresh
// threshold, so a healthy refresh fires before the user is ever warned.
func (s *Store) ShouldWarn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rec.present {
		return false
	}
	return s.rec.expiresAt.Sub(s.now()) <= s.cfg.WarningThreshold
}

// UpdateActivity stamps the record with the current time. Callers throttle;
// the store writes through on every call.
func (s *Store) UpdateActivity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.present {
		return nil
	}

	now := s.now()
	if err := s.activeLocked().Set(ctx, keyLastActivity, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return err
	}
	s.rec.lastActivity = now
	return nil
}

// LastActivity returns the cached activity stamp.
func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.lastActivity
}

// SetRememberMe changes which backend subsequent writes use. Already-stored
// values are not moved; call [Store.Migrate] for that.
func (s *Store) SetRememberMe(remember bool) {
	s.mu.Lock()
	s.remember = remember
	s.mu.Unlock()
}

// RememberMe reports the current backend selector.
func (s *Store) RememberMe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remember
}

// Migrate writes the cached record to the currently selected backend and
// removes it from the other one. Call after [Store.SetRememberMe] to move an
// existing session between backends.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == s.durable {
		return nil
	}

	from := s.session
	if !s.remember {
		from = s.durable
	}

	if s.rec.present {
		kv := map[string]string{
			keyAccessToken:  s.rec.accessToken,
			keyRefreshToken: s.rec.refreshToken,
			keySessionID:    s.rec.sessionID,
			keyExpiresAt:    strconv.FormatInt(s.rec.expiresAt.UnixMilli(), 10),
			keyLastActivity: strconv.FormatInt(s.rec.lastActivity.UnixMilli(), 10),
		}
		if s.rec.user != "" {
			kv[keyUser] = s.rec.user
		}
		if err := s.activeLocked().SetMulti(ctx, kv); err != nil {
			return err
		}
	}

	if err := from.Delete(ctx, recordKeys()...); err != nil {
		return err
	}

	flag := "0"
	if s.remember {
		flag = "1"
	}
	return s.durable.Set(ctx, keyRememberMe, flag)
}

// ClearTokens removes the credential record from both backends and resets the
// cache. Idempotent: safe to call when nothing is stored.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Store) clearLocked(ctx context.Context) error {
	var firstErr error

	if err := s.session.Delete(ctx, recordKeys()...); err != nil {
		firstErr = err
	}
	if s.durable != s.session {
		if err := s.durable.Delete(ctx, recordKeys()...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.durable.Delete(ctx, keyRememberMe); err != nil && firstErr == nil {
		firstErr = err
	}

	s.rec = record{}
	return firstErr
}

// Watch returns the change feed of both backends, merged. Watching only the
// currently selected backend would go blind after [Store.Migrate] moves the
// record to the other one; peer logouts and rotations must stay observable
// across a remember-me flip.
func (s *Store) Watch(ctx context.Context) (<-chan Change, func(), error) {
	sessCh, sessStop, err := s.session.Watch(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.durable == s.session {
		return sessCh, sessStop, nil
	}

	durCh, durStop, err := s.durable.Watch(ctx)
	if err != nil {
		sessStop()
		return nil, nil, err
	}

	out := make(chan Change)
	quit := make(chan struct{})

	var wg sync.WaitGroup
	forward := func(in <-chan Change) {
		defer wg.Done()
		for {
			select {
			case c, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-quit:
					return
				}
			case <-quit:
				return
			}
		}
	}
	wg.Add(2)
	go forward(sessCh)
	go forward(durCh)
	go func() {
		wg.Wait()
		close(out)
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(quit)
			sessStop()
			durStop()
		})
	}
	return out, stop, nil
}

// Broadcast publishes an opaque payload on the selected backend's change feed.
func (s *Store) Broadcast(ctx context.Context, payload string) error {
	return s.Active().Publish(ctx, payload)
}
