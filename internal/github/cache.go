package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores fetched RepoInfo in Redis with a TTL. Expiry is the only
// invalidation; callers treat any cache error as a miss.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCache(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewCacheWithClient(client, ttl), nil
}

func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		prefix: "repo:",
	}
}

func (c *Cache) key(owner, repo string) string {
	return c.prefix + owner + "/" + repo
}

// Get returns the cached RepoInfo, or ok=false on a miss or any Redis error.
func (c *Cache) Get(ctx context.Context, owner, repo string) (RepoInfo, bool) {
	raw, err := c.client.Get(ctx, c.key(owner, repo)).Bytes()
	if err != nil {
		return RepoInfo{}, false
	}
	var info RepoInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return RepoInfo{}, false
	}
	return info, true
}

// Put stores the RepoInfo for the configured TTL.
func (c *Cache) Put(ctx context.Context, info RepoInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal repo info: %w", err)
	}
	if err := c.client.Set(ctx, c.key(info.Owner, info.Repo), raw, c.ttl).Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("cache repo info: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}
