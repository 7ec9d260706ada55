package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
)

// TokenExpiryMargin is how long before its declared expiry a cached token
// stops being handed out.
const TokenExpiryMargin = 60 * time.Second

// TokenCache stores access tokens by key. Get returns nil, nil on a miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (*oauth2.Token, error)
	Set(ctx context.Context, key string, tok *oauth2.Token) error
}

type MemoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
	margin time.Duration
	now    func() time.Time
}

func NewMemoryTokenCache(now func() time.Time) *MemoryTokenCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryTokenCache{
		tokens: make(map[string]*oauth2.Token),
		margin: TokenExpiryMargin,
		now:    now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (*oauth2.Token, error) {
	c.mu.RLock()
	tok, ok := c.tokens[key]
	c.mu.RUnlock()
	if !ok || !c.now().Add(c.margin).Before(tok.Expiry) {
		return nil, nil
	}
	return tok, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, tok *oauth2.Token) error {
	c.mu.Lock()
	c.tokens[key] = tok
	c.mu.Unlock()
	return nil
}

// RedisTokenCache shares tokens between instances. Entries carry a TTL that
// already accounts for the expiry margin.
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	margin time.Duration
	now    func() time.Time
}

func NewRedisTokenCache(client *redis.Client, prefix string) *RedisTokenCache {
	return &RedisTokenCache{
		client: client,
		prefix: prefix,
		margin: TokenExpiryMargin,
		now:    time.Now,
	}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (*oauth2.Token, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	if !c.now().Add(c.margin).Before(tok.Expiry) {
		return nil, nil
	}
	return &tok, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key string, tok *oauth2.Token) error {
	ttl := tok.Expiry.Sub(c.now()) - c.margin
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}
