// Command authsession-loadtest measures client-side session throughput.
//
// It builds N independent authsession clients sharing one Redis server (a
// local miniredis by default), logs each one in against an in-process stub
// API, then hammers token refresh across all clients and reports latency
// percentiles per phase.
//
// Usage:
//
//	go run ./cmd/authsession-loadtest -clients 500 -ops 20000 -concurrency 64
//	go run ./cmd/authsession-loadtest -redis-addr 127.0.0.1:6379
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/platewise/authsession"
)

func main() {
	var (
		clients     = flag.Int("clients", 500, "number of session clients to log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "refresh operations in the refresh phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "aslt", "redis key prefix")
	)
	flag.Parse()

	if *clients <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "clients, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	api := newStubAPI()
	pool := make([]*authsession.Client, *clients)
	quiet := log.New(io.Discard, "", 0)

	fmt.Printf("building %d clients...\n", *clients)
	for i := range pool {
		cfg := authsession.DefaultConfig()
		cfg.Storage.RedisPrefix = fmt.Sprintf("%s:%d", *prefix, i)
		cfg.Lifecycle.EnablePresenceProbe = false
		cfg.Events.Enabled = false

		c, err := authsession.New().
			WithConfig(cfg).
			WithAPI(api).
			WithRedis(rdb).
			WithLogger(quiet).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "client build failed: %v\n", err)
			os.Exit(1)
		}
		if err := c.Initialize(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "client init failed: %v\n", err)
			os.Exit(1)
		}
		pool[i] = c
	}
	defer func() {
		for _, c := range pool {
			_ = c.Close()
		}
	}()

	loginStats := runLoginPhase(ctx, pool, *concurrency)
	refreshStats := runRefreshPhase(ctx, pool, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("refresh", refreshStats)
	fmt.Printf("api calls: login=%d refresh=%d\n", api.loginCalls.Load(), api.refreshCalls.Load())
}

func runLoginPhase(ctx context.Context, pool []*authsession.Client, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(pool))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(pool) {
					return
				}
				email := fmt.Sprintf("user-%d@example.com", i)
				t0 := time.Now()
				_, err := pool[i].Login(ctx, authsession.Credentials{
					Email:    email,
					Password: "load-test",
				})
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func runRefreshPhase(ctx context.Context, pool []*authsession.Client, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				c := pool[r.Intn(len(pool))]
				t0 := time.Now()
				err := c.Refresh(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

/*
====================================
STUB API
====================================
*/

// stubAPI accepts any credentials and mints opaque tokens locally so the
// measurement isolates client-side work (lockout ledger, credential store,
// Redis round trips, refresh dedup) from real network latency.
type stubAPI struct {
	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	seq          atomic.Int64
}

func newStubAPI() *stubAPI {
	return &stubAPI{}
}

func (a *stubAPI) Login(_ context.Context, email, _ string) (*authsession.LoginResponse, error) {
	a.loginCalls.Add(1)
	n := a.seq.Add(1)
	user, _ := json.Marshal(map[string]string{"email": email})
	return &authsession.LoginResponse{
		User:         user,
		AccessToken:  fmt.Sprintf("at-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
		ExpiresIn:    3600,
		SessionID:    fmt.Sprintf("sess-%d", n),
	}, nil
}

func (a *stubAPI) Register(ctx context.Context, req authsession.RegisterRequest) (*authsession.LoginResponse, error) {
	return a.Login(ctx, req.Email, req.Password)
}

func (a *stubAPI) Refresh(_ context.Context, _ string) (*authsession.RefreshResponse, error) {
	a.refreshCalls.Add(1)
	n := a.seq.Add(1)
	return &authsession.RefreshResponse{
		AccessToken:  fmt.Sprintf("at-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
		ExpiresIn:    3600,
	}, nil
}

func (a *stubAPI) Logout(context.Context) error    { return nil }
func (a *stubAPI) LogoutAll(context.Context) error { return nil }

func (a *stubAPI) RevokeSession(context.Context, string) error { return nil }

func (a *stubAPI) ActiveSessions(context.Context) ([]authsession.SessionInfo, error) {
	return nil, nil
}

func (a *stubAPI) ChangePassword(context.Context, string, string) error { return nil }

func (a *stubAPI) RequestPasswordReset(context.Context, string) error { return nil }

func (a *stubAPI) ConfirmPasswordReset(context.Context, string, string) error { return nil }
