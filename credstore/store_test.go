package credstore

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testStoreConfig() Config {
	return Config{
		RefreshThreshold: 5 * time.Minute,
		WarningThreshold: 2 * time.Minute,
		IdleTimeout:      30 * time.Minute,
	}
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	s := NewStore(NewMemoryBackend("a"), nil, testStoreConfig(), clock.Now)
	return s, clock
}

func TestSetAndReadTokens(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTokens(ctx, "access", "refresh", time.Hour, "sid-1"); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}

	if got := s.AccessToken(); got != "access" {
		t.Fatalf("AccessToken = %q", got)
	}
	if got := s.RefreshToken(); got != "refresh" {
		t.Fatalf("RefreshToken = %q", got)
	}
	if got := s.SessionID(); got != "sid-1" {
		t.Fatalf("SessionID = %q", got)
	}
	if want := clock.Now().Add(time.Hour); !s.ExpiresAt().Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", s.ExpiresAt(), want)
	}
	if !s.Valid() {
		t.Fatal("fresh record must be valid")
	}
}

func TestBlankSessionIDKeepsCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTokens(ctx, "a1", "r1", time.Hour, "sid-1"); err != nil {
		t.Fatal(err)
	}
	// Token rotation: new tokens, no session change.
	if err := s.SetTokens(ctx, "a2", "r2", time.Hour, ""); err != nil {
		t.Fatal(err)
	}
	if got := s.SessionID(); got != "sid-1" {
		t.Fatalf("rotation changed session id to %q", got)
	}
}

func TestValidityExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTokens(ctx, "access", "refresh", 10*time.Minute, "sid"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10*time.Minute - time.Second)
	if !s.Valid() {
		t.Fatal("valid until expiry")
	}
	clock.Advance(time.Second)
	if s.Valid() {
		t.Fatal("invalid at expiry")
	}
}

func TestValidityIdleTimeout(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	// Long token lifetime so only the idle rule can fail.
	if err := s.SetTokens(ctx, "access", "refresh", 24*time.Hour, "sid"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(29 * time.Minute)
	if !s.Valid() {
		t.Fatal("valid under the idle timeout")
	}
	if err := s.UpdateActivity(ctx); err != nil {
		t.Fatal(err)
	}
	clock.Advance(29 * time.Minute)
	if !s.Valid() {
		t.Fatal("activity must push the idle deadline out")
	}
	clock.Advance(2 * time.Minute)
	if s.Valid() {
		t.Fatal("idle session with an unexpired token must be invalid")
	}
}

func TestThresholds(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTokens(ctx, "access", "refresh", 10*time.Minute, "sid"); err != nil {
		t.Fatal(err)
	}

	if s.ExpiringSoon() || s.ShouldWarn() {
		t.Fatal("no thresholds crossed yet")
	}
	clock.Advance(5 * time.Minute)
	if !s.ExpiringSoon() {
		t.Fatal("refresh threshold crossed")
	}
	if s.ShouldWarn() {
		t.Fatal("warning threshold is tighter than refresh")
	}
	clock.Advance(3 * time.Minute)
	if !s.ShouldWarn() {
		t.Fatal("warning threshold crossed")
	}
}

func TestReloadRestoresRecord(t *testing.T) {
	backend := NewMemoryBackend("a")
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	first := NewStore(backend, nil, testStoreConfig(), clock.Now)
	if err := first.SetTokens(ctx, "access", "refresh", time.Hour, "sid"); err != nil {
		t.Fatal(err)
	}
	if err := first.SetUser(ctx, `{"id":"u1"}`); err != nil {
		t.Fatal(err)
	}

	second := NewStore(backend, nil, testStoreConfig(), clock.Now)
	if err := second.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := second.AccessToken(); got != "access" {
		t.Fatalf("restored AccessToken = %q", got)
	}
	if got := second.User(); got != `{"id":"u1"}` {
		t.Fatalf("restored User = %q", got)
	}
	if !second.Valid() {
		t.Fatal("restored record must be valid")
	}
}

func TestReloadClearsCorruptRecord(t *testing.T) {
	backend := NewMemoryBackend("a")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	// Access token without its refresh counterpart is a corrupt record.
	if err := backend.Set(ctx, "auth.access_token", "orphan"); err != nil {
		t.Fatal(err)
	}

	s := NewStore(backend, nil, testStoreConfig(), clock.Now)
	corrupted := 0
	s.OnCorrupt(func() { corrupted++ })

	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload must swallow corruption, got %v", err)
	}
	if corrupted != 1 {
		t.Fatalf("corrupt hook fired %d times, want 1", corrupted)
	}
	if s.AccessToken() != "" || s.Valid() {
		t.Fatal("corrupt record must read as logged out")
	}
	if _, err := backend.Get(ctx, "auth.access_token"); err != ErrNotFound {
		t.Fatal("corrupt record must be wiped from storage")
	}
}

func TestReloadBadExpiryIsCorrupt(t *testing.T) {
	backend := NewMemoryBackend("a")
	ctx := context.Background()

	if err := backend.SetMulti(ctx, map[string]string{
		"auth.access_token":  "a",
		"auth.refresh_token": "r",
		"auth.expires_at":    "not-a-number",
	}); err != nil {
		t.Fatal(err)
	}

	s := NewStore(backend, nil, testStoreConfig(), nil)
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s.AccessToken() != "" {
		t.Fatal("unparseable expiry must clear the record")
	}
}

func TestClearTokensIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTokens(ctx, "access", "refresh", time.Hour, "sid"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearTokens(ctx); err != nil {
		t.Fatalf("ClearTokens: %v", err)
	}
	if err := s.ClearTokens(ctx); err != nil {
		t.Fatalf("second ClearTokens: %v", err)
	}
	if s.Valid() || s.AccessToken() != "" {
		t.Fatal("cleared store must read as logged out")
	}
}

func TestRememberMeMigration(t *testing.T) {
	session := NewMemoryBackend("s")
	durable := NewMemoryBackend("d")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	s := NewStore(session, durable, testStoreConfig(), clock.Now)
	if err := s.SetTokens(ctx, "access", "refresh", time.Hour, "sid"); err != nil {
		t.Fatal(err)
	}
	if _, err := session.Get(ctx, "auth.access_token"); err != nil {
		t.Fatal("record must start on the session backend")
	}

	s.SetRememberMe(true)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if _, err := durable.Get(ctx, "auth.access_token"); err != nil {
		t.Fatal("record must land on the durable backend")
	}
	if _, err := session.Get(ctx, "auth.access_token"); err != ErrNotFound {
		t.Fatal("record must leave the session backend")
	}
	if flag, err := durable.Get(ctx, "auth.remember_me"); err != nil || flag != "1" {
		t.Fatalf("remember flag = %q, %v", flag, err)
	}
}

func TestReloadFollowsPersistedRememberFlag(t *testing.T) {
	session := NewMemoryBackend("s")
	durable := NewMemoryBackend("d")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	writer := NewStore(session, durable, Config{
		RefreshThreshold: 5 * time.Minute,
		WarningThreshold: 2 * time.Minute,
		IdleTimeout:      30 * time.Minute,
		RememberMe:       true,
	}, clock.Now)
	if err := writer.SetTokens(ctx, "access", "refresh", time.Hour, "sid"); err != nil {
		t.Fatal(err)
	}

	// A new store defaulting to session-scoped reads must still find the
	// remembered record.
	reader := NewStore(session, durable, testStoreConfig(), clock.Now)
	if err := reader.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if reader.AccessToken() != "access" {
		t.Fatal("persisted remember flag must steer the reload")
	}
	if !reader.RememberMe() {
		t.Fatal("remember flag must be adopted from storage")
	}
}

func TestWatchSeesPeerChanges(t *testing.T) {
	backend := NewMemoryBackend("peer")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	s := NewStore(backend, nil, testStoreConfig(), clock.Now)
	changes, stop, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := backend.Set(ctx, KeyAccessToken, "from-peer"); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Kind != ChangeSet || c.Key != KeyAccessToken || c.Origin != "peer" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestWatchMergesBothBackends(t *testing.T) {
	session := NewMemoryBackend("session")
	durable := NewMemoryBackend("durable")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	s := NewStore(session, durable, testStoreConfig(), clock.Now)
	changes, stop, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Writes on either backend land on the one merged feed, so a watcher
	// bound before a remember-me migration stays current after it.
	if err := session.Set(ctx, KeyAccessToken, "a"); err != nil {
		t.Fatal(err)
	}
	if err := durable.Set(ctx, KeyAccessToken, "b"); err != nil {
		t.Fatal(err)
	}

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case c := <-changes:
			seen[c.Origin] = true
		case <-deadline:
			t.Fatalf("saw changes from %v, want both backends", seen)
		}
	}

	stop()
	closeDeadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-closeDeadline:
			t.Fatal("merged feed must close after stop")
		}
	}
}
