package lockout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/platewise/authsession/credstore"
)

const (
	keyAttempts = "lockout.attempts"
	keyRecords  = "lockout.records"
)

// Ledger persists the attempt log and derived lockout records through a
// credstore backend, under its own key namespace. A periodic janitor drops
// lockout records whose window has passed.
//
// Updates are read-modify-write; see the package doc for the concurrency
// caveat.
type Ledger struct {
	backend credstore.Backend
	cfg     Config
	now     func() time.Time

	mu        sync.Mutex
	janitor   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLedger creates a [Ledger], runs one cleanup pass immediately, and
// starts the periodic janitor when cfg.CleanupInterval > 0. Callers must
// Close it.
func NewLedger(backend credstore.Backend, cfg Config, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		backend: backend,
		cfg:     cfg,
		now:     now,
		done:    make(chan struct{}),
	}

	_ = l.Cleanup(context.Background())

	if cfg.CleanupInterval > 0 {
		l.janitor = time.NewTicker(cfg.CleanupInterval)
		l.wg.Add(1)
		go l.runJanitor()
	}

	return l
}

func (l *Ledger) runJanitor() {
	defer l.wg.Done()
	for {
		select {
		case <-l.janitor.C:
			_ = l.Cleanup(context.Background())
		case <-l.done:
			return
		}
	}
}

// Close stops the janitor. Safe to call more than once.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.janitor != nil {
			l.janitor.Stop()
		}
		l.wg.Wait()
	})
}

// CheckStatus evaluates the lockout policy for an account without mutating
// any state. Read failures degrade to a clean status; the policy never
// blocks a login because storage was unreadable.
func (l *Ledger) CheckStatus(ctx context.Context, email string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.loadRecords(ctx)
	rec := records[Normalize(email)]
	return statusOf(rec, l.cfg, l.now())
}

// RecordAttempt appends to the ledger and updates the lockout record,
// returning the post-attempt status.
//
// A success recorded while a lockout window is still active is ignored: the
// record stays. Success clears the record only when the account is not
// locked. The Client blocks logins pre-flight while locked, so this path is
// unreachable in normal operation; keeping the record closes the bypass.
func (l *Ledger) RecordAttempt(ctx context.Context, email string, success bool, userAgent string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	email = Normalize(email)
	now := l.now()

	l.appendAttempt(ctx, Attempt{Email: email, At: now, Success: success, UserAgent: userAgent})

	records := l.loadRecords(ctx)
	rec := records[email]

	if success {
		if rec != nil && rec.LockedUntil.After(now) {
			return statusOf(rec, l.cfg, now)
		}
		delete(records, email)
		l.saveRecords(ctx, records)
		return statusOf(nil, l.cfg, now)
	}

	// An expired lockout resets the count before the failure is applied.
	if rec == nil || (!rec.LockedUntil.IsZero() && !rec.LockedUntil.After(now)) {
		rec = &Record{}
	}
	rec.Attempts++
	rec.LastAttemptAt = now
	if rec.Attempts >= l.cfg.MaxAttempts {
		rec.LockedUntil = now.Add(l.cfg.LockoutDuration)
	}
	records[email] = rec
	l.saveRecords(ctx, records)

	return statusOf(rec, l.cfg, now)
}

// Suspicion runs the advisory automation heuristics over the account's
// recorded attempts.
func (l *Ledger) Suspicion(ctx context.Context, email string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	email = Normalize(email)
	all := l.loadAttempts(ctx)

	var mine []Attempt
	for _, a := range all {
		if a.Email == email {
			mine = append(mine, a)
		}
	}
	return SuspicionReasons(mine, l.now())
}

// Clear removes the lockout record for one account.
func (l *Ledger) Clear(ctx context.Context, email string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.loadRecords(ctx)
	if _, ok := records[Normalize(email)]; !ok {
		return
	}
	delete(records, Normalize(email))
	l.saveRecords(ctx, records)
}

// ClearAll removes the attempt log and every lockout record. Idempotent.
func (l *Ledger) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Delete(ctx, keyAttempts, keyRecords)
}

// Cleanup drops lockout records whose window has passed.
func (l *Ledger) Cleanup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.loadRecords(ctx)
	now := l.now()

	changed := false
	for email, rec := range records {
		if !rec.LockedUntil.IsZero() && !rec.LockedUntil.After(now) {
			delete(records, email)
			changed = true
		}
	}
	if changed {
		l.saveRecords(ctx, records)
	}
	return nil
}

// loadAttempts reads the attempt log; corrupt or unreadable data degrades to
// empty.
func (l *Ledger) loadAttempts(ctx context.Context) []Attempt {
	raw, err := l.backend.Get(ctx, keyAttempts)
	if err != nil {
		return nil
	}
	var attempts []Attempt
	if err := json.Unmarshal([]byte(raw), &attempts); err != nil {
		return nil
	}
	return attempts
}

func (l *Ledger) appendAttempt(ctx context.Context, a Attempt) {
	attempts := append(l.loadAttempts(ctx), a)
	if limit := l.cfg.LedgerCap; limit > 0 && len(attempts) > limit {
		attempts = attempts[len(attempts)-limit:]
	}
	data, err := json.Marshal(attempts)
	if err != nil {
		return
	}
	_ = l.backend.Set(ctx, keyAttempts, string(data))
}

// loadRecords reads the email → lockout record map; corrupt or unreadable
// data degrades to empty.
func (l *Ledger) loadRecords(ctx context.Context) map[string]*Record {
	raw, err := l.backend.Get(ctx, keyRecords)
	if err != nil {
		return map[string]*Record{}
	}
	records := map[string]*Record{}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return map[string]*Record{}
	}
	return records
}

func (l *Ledger) saveRecords(ctx context.Context, records map[string]*Record) {
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	_ = l.backend.Set(ctx, keyRecords, string(data))
}
