package payment

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventGuard remembers provider event ids that were already settled so
// redelivered webhooks can be acknowledged without opening a transaction.
// The payment status check inside settlement stays authoritative; the
// guard is only a fast path.
type EventGuard interface {
	Seen(ctx context.Context, provider Provider, eventID string) (bool, error)
	Remember(ctx context.Context, provider Provider, eventID string) error
}

type nopGuard struct{}

func NopGuard() EventGuard { return nopGuard{} }

func (nopGuard) Seen(context.Context, Provider, string) (bool, error) { return false, nil }
func (nopGuard) Remember(context.Context, Provider, string) error     { return nil }

type RedisEventGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisEventGuard(client redis.Cmdable, ttl time.Duration) *RedisEventGuard {
	return &RedisEventGuard{client: client, prefix: "payment:event", ttl: ttl}
}

func (g *RedisEventGuard) key(provider Provider, eventID string) string {
	var b strings.Builder
	b.Grow(len(g.prefix) + len(provider) + len(eventID) + 2)
	b.WriteString(g.prefix)
	b.WriteString(":")
	b.WriteString(strings.ToLower(provider.String()))
	b.WriteString(":")
	b.WriteString(eventID)
	return b.String()
}

func (g *RedisEventGuard) Seen(ctx context.Context, provider Provider, eventID string) (bool, error) {
	n, err := g.client.Exists(ctx, g.key(provider, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisEventGuard) Remember(ctx context.Context, provider Provider, eventID string) error {
	return g.client.SetNX(ctx, g.key(provider, eventID), time.Now().UTC().Unix(), g.ttl).Err()
}
