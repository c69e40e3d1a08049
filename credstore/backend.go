package credstore

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by [Backend.Get] for absent keys.
	ErrNotFound = errors.New("key not found")
	// ErrUnavailable indicates the backing store is unreachable.
	ErrUnavailable = errors.New("credential backend unavailable")
)

// ChangeKind classifies entries on a backend's change feed.
type ChangeKind uint8

const (
	// ChangeSet is an exported constant or variable used by the session kit.
	ChangeSet ChangeKind = iota
	// ChangeDelete is an exported constant or variable used by the session kit.
	ChangeDelete
	// ChangeBroadcast is an exported constant or variable used by the session kit.
	ChangeBroadcast
)

// Change is one entry on a backend's change feed. Origin identifies the
// backend instance that produced it so consumers can skip their own writes.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Key     string     `json:"key,omitempty"`
	Payload string     `json:"payload,omitempty"`
	Origin  string     `json:"origin,omitempty"`
}

// Backend is the key/value persistence contract used by [Store] and by the
// lockout ledger. Writes are visible to all watchers of the same underlying
// medium; multi-key writes are best-effort atomic.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetMulti(ctx context.Context, kv map[string]string) error
	Delete(ctx context.Context, keys ...string) error

	// Publish pushes an opaque broadcast payload onto the change feed.
	Publish(ctx context.Context, payload string) error
	// Watch returns the change feed and a stop function. The channel is
	// closed after stop is called or ctx is done.
	Watch(ctx context.Context) (<-chan Change, func(), error)
	// Origin identifies this backend instance on the change feed.
	Origin() string
}

const watchBuffer = 16

// memoryState is the medium shared by every [MemoryBackend] view of one
// logical store.
type memoryState struct {
	mu   sync.Mutex
	data map[string]string
	subs map[int]chan Change
	next int
}

// MemoryBackend is an in-process [Backend]. It backs the session-scoped side
// of the credential store and serves as the test double for the Redis side.
// [MemoryBackend.WithOrigin] creates additional views of the same medium, the
// way multiple Redis backends share one server.
type MemoryBackend struct {
	origin string
	state  *memoryState
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(origin string) *MemoryBackend {
	return &MemoryBackend{
		origin: origin,
		state: &memoryState{
			data: make(map[string]string),
			subs: make(map[int]chan Change),
		},
	}
}

// WithOrigin returns a view over the same data and change feed stamping its
// writes with a different origin. Used to model a second client sharing the
// medium.
func (b *MemoryBackend) WithOrigin(origin string) *MemoryBackend {
	return &MemoryBackend{origin: origin, state: b.state}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	v, ok := b.state.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.state.mu.Lock()
	b.state.data[key] = value
	b.state.notifyLocked(Change{Kind: ChangeSet, Key: key, Origin: b.origin})
	b.state.mu.Unlock()
	return nil
}

func (b *MemoryBackend) SetMulti(_ context.Context, kv map[string]string) error {
	b.state.mu.Lock()
	for k, v := range kv {
		b.state.data[k] = v
		b.state.notifyLocked(Change{Kind: ChangeSet, Key: k, Origin: b.origin})
	}
	b.state.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.state.mu.Lock()
	for _, k := range keys {
		if _, ok := b.state.data[k]; ok {
			delete(b.state.data, k)
			b.state.notifyLocked(Change{Kind: ChangeDelete, Key: k, Origin: b.origin})
		}
	}
	b.state.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Publish(_ context.Context, payload string) error {
	b.state.mu.Lock()
	b.state.notifyLocked(Change{Kind: ChangeBroadcast, Payload: payload, Origin: b.origin})
	b.state.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Watch(ctx context.Context) (<-chan Change, func(), error) {
	ch := make(chan Change, watchBuffer)

	b.state.mu.Lock()
	id := b.state.next
	b.state.next++
	b.state.subs[id] = ch
	b.state.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.state.mu.Lock()
			delete(b.state.subs, id)
			b.state.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}

	return ch, stop, nil
}

func (b *MemoryBackend) Origin() string {
	return b.origin
}

// notifyLocked fans out to subscribers without blocking; slow consumers
// lose changes rather than stalling writers.
func (s *memoryState) notifyLocked(c Change) {
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
