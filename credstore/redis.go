package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBackend is the long-lived [Backend]. Keys live under a prefix and the
// change feed rides a pub/sub channel in the same namespace, so every client
// of the same Redis sees credential rotations and logouts from its peers.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
	origin string
}

// NewRedisBackend creates a [RedisBackend] with the given key prefix. The
// origin must be unique per client instance (a UUID in practice).
func NewRedisBackend(client redis.UniversalClient, prefix, origin string) *RedisBackend {
	return &RedisBackend{
		redis:  client,
		prefix: prefix,
		origin: origin,
	}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + ":" + k
}

func (b *RedisBackend) channel() string {
	return b.prefix + ":changes"
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := b.redis.Get(ctx, b.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.redis.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b.publishChange(ctx, Change{Kind: ChangeSet, Key: key, Origin: b.origin})
}

func (b *RedisBackend) SetMulti(ctx context.Context, kv map[string]string) error {
	pairs := make([]any, 0, len(kv)*2)
	for k, v := range kv {
		pairs = append(pairs, b.key(k), v)
	}
	if err := b.redis.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for k := range kv {
		if err := b.publishChange(ctx, Change{Kind: ChangeSet, Key: k, Origin: b.origin}); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, k := range keys {
		if err := b.publishChange(ctx, Change{Kind: ChangeDelete, Key: k, Origin: b.origin}); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) Publish(ctx context.Context, payload string) error {
	return b.publishChange(ctx, Change{Kind: ChangeBroadcast, Payload: payload, Origin: b.origin})
}

func (b *RedisBackend) publishChange(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := b.redis.Publish(ctx, b.channel(), string(data)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (b *RedisBackend) Watch(ctx context.Context) (<-chan Change, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pubsub := b.redis.Subscribe(ctx, b.channel())
	// Force the subscription to be established before returning so callers
	// don't miss changes racing the watch start.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Change, watchBuffer)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			stop()
		}()
	}

	return out, stop, nil
}

func (b *RedisBackend) Origin() string {
	return b.origin
}
