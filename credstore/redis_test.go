package credstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBackend(t *testing.T, origin string) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBackend(client, "pw", origin), mr
}

func TestRedisRoundTrip(t *testing.T) {
	b, _ := newTestRedisBackend(t, "a")
	ctx := context.Background()

	if err := b.Set(ctx, "auth.access_token", "tok"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := b.Get(ctx, "auth.access_token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "tok" {
		t.Fatalf("Get = %q", v)
	}
}

func TestRedisMissingKey(t *testing.T) {
	b, _ := newTestRedisBackend(t, "a")

	_, err := b.Get(context.Background(), "auth.access_token")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key error = %v, want ErrNotFound", err)
	}
}

func TestRedisKeysArePrefixed(t *testing.T) {
	b, mr := newTestRedisBackend(t, "a")
	ctx := context.Background()

	if err := b.Set(ctx, "auth.access_token", "tok"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("pw:auth.access_token") {
		t.Fatal("key missing its namespace prefix")
	}
}

func TestRedisSetMultiAndDelete(t *testing.T) {
	b, _ := newTestRedisBackend(t, "a")
	ctx := context.Background()

	if err := b.SetMulti(ctx, map[string]string{
		"auth.access_token":  "a",
		"auth.refresh_token": "r",
	}); err != nil {
		t.Fatalf("SetMulti: %v", err)
	}
	if err := b.Delete(ctx, "auth.access_token", "auth.refresh_token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "auth.access_token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key error = %v", err)
	}
}

func TestRedisWatchSeesPeerWrites(t *testing.T) {
	mr := miniredis.RunT(t)

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	a := NewRedisBackend(clientA, "pw", "client-a")
	peer := NewRedisBackend(clientB, "pw", "client-b")
	ctx := context.Background()

	changes, stop, err := a.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := peer.Delete(ctx, KeyAccessToken); err != nil {
		// Deleting an absent key still publishes; only transport errors fail.
		t.Fatalf("peer Delete: %v", err)
	}

	select {
	case c := <-changes:
		if c.Kind != ChangeDelete || c.Key != KeyAccessToken || c.Origin != "client-b" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer change")
	}
}

func TestRedisBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	a := NewRedisBackend(clientA, "pw", "client-a")
	peer := NewRedisBackend(clientB, "pw", "client-b")
	ctx := context.Background()

	changes, stop, err := a.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	if err := peer.Publish(ctx, `{"kind":"ping"}`); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case c := <-changes:
		if c.Kind != ChangeBroadcast || c.Payload != `{"kind":"ping"}` {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestRedisWatchStopClosesChannel(t *testing.T) {
	b, _ := newTestRedisBackend(t, "a")

	changes, stop, err := b.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	stop()

	select {
	case _, ok := <-changes:
		if ok {
			t.Fatal("expected closed channel after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after stop")
	}
}

func TestRedisStoreIntegration(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	durable := NewRedisBackend(client, "pw", "client-a")
	session := NewMemoryBackend("client-a")
	clock := &fakeClock{now: time.Now()}
	ctx := context.Background()

	s := NewStore(session, durable, Config{
		RefreshThreshold: 5 * time.Minute,
		WarningThreshold: 2 * time.Minute,
		IdleTimeout:      30 * time.Minute,
		RememberMe:       true,
	}, clock.Now)

	if err := s.SetTokens(ctx, "access", "refresh", time.Hour, "sid"); err != nil {
		t.Fatalf("SetTokens: %v", err)
	}
	if !mr.Exists("pw:auth.access_token") {
		t.Fatal("remembered record must live in redis")
	}

	restored := NewStore(NewMemoryBackend("client-b"), NewRedisBackend(client, "pw", "client-b"), Config{
		RefreshThreshold: 5 * time.Minute,
		WarningThreshold: 2 * time.Minute,
		IdleTimeout:      30 * time.Minute,
	}, clock.Now)
	if err := restored.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if restored.AccessToken() != "access" || !restored.Valid() {
		t.Fatal("second client must restore the remembered session")
	}
}
