package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	generationKey = "gl:cache:generation"
	bumpChannel   = "gl.bump"
)

// Versioned caches ledger-derived reads under keys that carry a global generation.
// Bump starts a new generation, so entries written before it are never read again
// and simply expire.
type Versioned struct {
	client *redis.Client
	ttl    time.Duration

	mu        sync.RWMutex
	listening bool
	seen      int64
}

// NewVersioned builds the cache. Without a client it stays disabled.
func NewVersioned(client *redis.Client, ttl time.Duration) *Versioned {
	return &Versioned{client: client, ttl: ttl}
}

// Enabled reports whether reads go through redis.
func (c *Versioned) Enabled() bool {
	return c != nil && c.client != nil
}

// Generation returns the current generation. A listening instance answers from the last
// published bump without a round trip.
func (c *Versioned) Generation(ctx context.Context) (int64, error) {
	c.mu.RLock()
	if c.listening {
		gen := c.seen
		c.mu.RUnlock()
		return gen, nil
	}
	c.mu.RUnlock()
	return c.load(ctx)
}

func (c *Versioned) load(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *Versioned) observe(gen int64) {
	c.mu.Lock()
	if gen > c.seen {
		c.seen = gen
	}
	c.mu.Unlock()
}

// Key joins parts and appends the current generation.
func (c *Versioned) Key(ctx context.Context, parts ...string) (string, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, ":") + ":" + strconv.FormatInt(gen, 10), nil
}

// Fetch returns the value cached under key, loading and storing it on a miss. Redis
// failures degrade to a direct load.
func Fetch[T any](ctx context.Context, c *Versioned, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if !c.Enabled() {
		return load(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(payload, &out) == nil {
		return out, nil
	}
	out, err = load(ctx)
	if err != nil {
		return out, err
	}
	if raw, err := json.Marshal(out); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return out, nil
}

// Bump starts a new generation and tells other instances about it.
func (c *Versioned) Bump(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return err
	}
	c.observe(gen)
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(gen, 10)).Err()
}

// ListenForInvalidation follows bumps published on gl.bump until ctx ends. Once subscribed
// the instance serves Generation from memory.
func (c *Versioned) ListenForInvalidation(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	gen, err := c.load(ctx)
	if err != nil {
		_ = pubsub.Close()
		return err
	}
	c.observe(gen)
	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.listening = false
			c.mu.Unlock()
			_ = pubsub.Close()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if gen, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
					c.observe(gen)
				}
			}
		}
	}()
	return nil
}
