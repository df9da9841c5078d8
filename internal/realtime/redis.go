package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier broadcasts changed paths over one redis pub/sub channel so that
// every instance sharing the mongo collection refreshes its subscribers.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(r *redis.Client, prefix string) *RedisNotifier {
	return &RedisNotifier{client: r, channel: prefix + ":changes"}
}

func (n *RedisNotifier) Publish(ctx context.Context, path string) error {
	return n.client.Publish(ctx, n.channel, path).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context, fn func(path string)) error {
	ps := n.client.Subscribe(ctx, n.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			fn(m.Payload)
		}
	}
}
