package lockout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/platewise/authsession/credstore"
)

func testConfig() Config {
	return Config{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		DelayBase:       time.Second,
		DelayMax:        30 * time.Second,
		LedgerCap:       100,
		// No janitor in tests; Cleanup is driven explicitly.
		CleanupInterval: 0,
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(credstore.NewMemoryBackend("test"), testConfig(), clock.Now)
	t.Cleanup(l.Close)
	return l, clock
}

func TestRecordAttemptCountsDown(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		st := l.RecordAttempt(ctx, "user@example.com", false, "ua")
		if st.IsLocked {
			t.Fatalf("locked after %d failures", i)
		}
		if want := 5 - i; st.AttemptsRemaining != want {
			t.Fatalf("after %d failures AttemptsRemaining = %d, want %d", i, st.AttemptsRemaining, want)
		}
	}
}

func TestLockoutAtMaxAttempts(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	var st Status
	for i := 0; i < 5; i++ {
		st = l.RecordAttempt(ctx, "user@example.com", false, "ua")
	}
	if !st.IsLocked {
		t.Fatal("expected lockout at max attempts")
	}
	if want := clock.Now().Add(15 * time.Minute); !st.LockoutExpiresAt.Equal(want) {
		t.Fatalf("LockoutExpiresAt = %v, want %v", st.LockoutExpiresAt, want)
	}

	if st := l.CheckStatus(ctx, "user@example.com"); !st.IsLocked {
		t.Fatal("CheckStatus must report the lock")
	}
}

func TestLockoutExpiresWithTime(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordAttempt(ctx, "user@example.com", false, "ua")
	}
	clock.Advance(15*time.Minute + time.Second)

	st := l.CheckStatus(ctx, "user@example.com")
	if st.IsLocked {
		t.Fatal("lock must expire with time")
	}
	if st.AttemptsRemaining != 5 {
		t.Fatalf("expired lock must reset the count, got %d remaining", st.AttemptsRemaining)
	}
}

func TestSuccessClearsRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "user@example.com", false, "ua")
	}
	st := l.RecordAttempt(ctx, "user@example.com", true, "ua")
	if st.IsLocked || st.AttemptsRemaining != 5 {
		t.Fatalf("success must clear failures, got %+v", st)
	}
}

func TestSuccessWhileLockedIsIgnored(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordAttempt(ctx, "user@example.com", false, "ua")
	}

	st := l.RecordAttempt(ctx, "user@example.com", true, "ua")
	if !st.IsLocked {
		t.Fatal("a success during an active lockout must not lift it")
	}

	clock.Advance(5 * time.Minute)
	if st := l.CheckStatus(ctx, "user@example.com"); !st.IsLocked {
		t.Fatal("lock must persist after an ignored success")
	}
}

func TestEmailNormalizationSharesRecord(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	l.RecordAttempt(ctx, "User@Example.com", false, "ua")
	l.RecordAttempt(ctx, " user@example.com ", false, "ua")

	st := l.CheckStatus(ctx, "USER@EXAMPLE.COM")
	if st.AttemptsRemaining != 3 {
		t.Fatalf("casing variants must share one record, got %d remaining", st.AttemptsRemaining)
	}
}

func TestLedgerCap(t *testing.T) {
	backend := credstore.NewMemoryBackend("test")
	cfg := testConfig()
	cfg.LedgerCap = 10
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(backend, cfg, clock.Now)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		clock.Advance(time.Minute)
		l.RecordAttempt(ctx, "user@example.com", i%2 == 0, "ua")
	}

	raw, err := backend.Get(ctx, "lockout.attempts")
	if err != nil {
		t.Fatalf("reading attempt log: %v", err)
	}
	var attempts []Attempt
	if err := json.Unmarshal([]byte(raw), &attempts); err != nil {
		t.Fatalf("decoding attempt log: %v", err)
	}
	if len(attempts) != 10 {
		t.Fatalf("ledger holds %d attempts, cap is 10", len(attempts))
	}
	// Oldest entries are evicted first.
	if got := attempts[len(attempts)-1].At; !got.Equal(clock.Now()) {
		t.Fatalf("newest attempt not retained, got %v want %v", got, clock.Now())
	}
}

func TestCleanupDropsExpiredLocks(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordAttempt(ctx, "expired@example.com", false, "ua")
	}
	for i := 0; i < 2; i++ {
		l.RecordAttempt(ctx, "counting@example.com", false, "ua")
	}

	clock.Advance(16 * time.Minute)
	if err := l.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if st := l.CheckStatus(ctx, "expired@example.com"); st.IsLocked || st.AttemptsRemaining != 5 {
		t.Fatalf("expired lock not cleaned: %+v", st)
	}
	// Plain failure counts are not lockouts; cleanup leaves them alone.
	if st := l.CheckStatus(ctx, "counting@example.com"); st.AttemptsRemaining != 3 {
		t.Fatalf("cleanup must not touch unlocked records: %+v", st)
	}
}

func TestClear(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordAttempt(ctx, "user@example.com", false, "ua")
	}
	l.Clear(ctx, "user@example.com")

	if st := l.CheckStatus(ctx, "user@example.com"); st.IsLocked {
		t.Fatal("Clear must lift the lock")
	}
}

func TestClearAllIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	l.RecordAttempt(ctx, "user@example.com", false, "ua")
	if err := l.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if err := l.ClearAll(ctx); err != nil {
		t.Fatalf("second ClearAll: %v", err)
	}

	if got := l.Suspicion(ctx, "user@example.com"); got != nil {
		t.Fatalf("attempt log survived ClearAll: %v", got)
	}
}

func TestSuspicionPerAccount(t *testing.T) {
	l, clock := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		clock.Advance(time.Duration(i+1) * time.Second)
		l.RecordAttempt(ctx, "noisy@example.com", false, "ua")
	}
	l.RecordAttempt(ctx, "quiet@example.com", false, "ua")

	if got := l.Suspicion(ctx, "noisy@example.com"); len(got) == 0 {
		t.Fatal("expected suspicion reasons for the noisy account")
	}
	if got := l.Suspicion(ctx, "quiet@example.com"); len(got) != 0 {
		t.Fatalf("quiet account flagged: %v", got)
	}
}

func TestCorruptLedgerDegradesToEmpty(t *testing.T) {
	backend := credstore.NewMemoryBackend("test")
	ctx := context.Background()
	if err := backend.Set(ctx, "lockout.records", "{not json"); err != nil {
		t.Fatal(err)
	}
	if err := backend.Set(ctx, "lockout.attempts", "[broken"); err != nil {
		t.Fatal(err)
	}

	l := NewLedger(backend, testConfig(), nil)
	defer l.Close()

	if st := l.CheckStatus(ctx, "user@example.com"); st.IsLocked {
		t.Fatal("corrupt records must degrade to clean, not locked")
	}
	if st := l.RecordAttempt(ctx, "user@example.com", false, "ua"); st.AttemptsRemaining != 4 {
		t.Fatalf("recording over corrupt state: %+v", st)
	}
}
