package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const embedTitleKeyPrefix = "feedlog:embed:title:"

// RedisTitleCache keeps oEmbed titles in redis with a fixed TTL.
type RedisTitleCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisTitleCache wraps a redis client.
func NewRedisTitleCache(client redis.Cmdable, ttl time.Duration) *RedisTitleCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTitleCache{client: client, ttl: ttl}
}

func (c *RedisTitleCache) GetTitle(ctx context.Context, sourceURL string) (string, bool) {
	title, err := c.client.Get(ctx, embedTitleKeyPrefix+sourceURL).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("embed title cache read failed", "url", sourceURL, "error", err)
		}
		return "", false
	}
	return title, title != ""
}

func (c *RedisTitleCache) SetTitle(ctx context.Context, sourceURL, title string) {
	if err := c.client.Set(ctx, embedTitleKeyPrefix+sourceURL, title, c.ttl).Err(); err != nil {
		slog.Warn("embed title cache write failed", "url", sourceURL, "error", err)
	}
}
